// Package vecstore provides vector similarity search over policy chunks and
// historical cases. Three backends are available: an embedded SQLite store
// with brute-force in-memory search, a PostgreSQL pgvector store, and a pure
// in-memory store for tests and demo mode.
//
// Vectors are L2-normalized on write, so dot product equals cosine
// similarity. At typical policy-corpus sizes (well under 100K chunks) the
// brute-force backends return exact results in sub-millisecond time.
package vecstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
)

// ChunkFilter restricts a policy chunk search. Zero values mean no
// restriction on that field. Filters are applied inside the store, never by
// post-filtering a larger result set.
type ChunkFilter struct {
	ActiveOnly bool
	Topic      compliance.Topic
	Source     compliance.Source
}

// ChunkHit is a policy chunk scored against a query vector.
type ChunkHit struct {
	Chunk compliance.PolicyChunk
	Score float64
}

// CaseHit is a historical case scored against a query vector.
type CaseHit struct {
	Case  compliance.Case
	Score float64
}

// VectorStore stores embeddings for policy chunks and cases and answers
// top-K similarity queries. Implementations must order results by score
// descending, breaking ties by most recent version (chunks) or most recent
// creation time (cases).
type VectorStore interface {
	// UpsertChunks stores chunks with their vectors. Re-upserting a chunk ID
	// replaces the stored row.
	UpsertChunks(ctx context.Context, chunks []compliance.PolicyChunk, vectors [][]float32) error

	// ActivateVersion marks the given version of a document active and every
	// other version inactive, atomically: a concurrent search sees either
	// the old active set or the new one, never both and never neither.
	ActivateVersion(ctx context.Context, docID string, version int) error

	// DeactivateDocument marks every version of a document inactive.
	DeactivateDocument(ctx context.Context, docID string) error

	// SearchChunks returns up to limit chunks by similarity to the query.
	SearchChunks(ctx context.Context, vector []float32, filter ChunkFilter, limit int) ([]ChunkHit, error)

	// UpsertCase stores a case with its vector, keyed by case ID.
	UpsertCase(ctx context.Context, c *compliance.Case, vector []float32) error

	// SearchCases returns up to limit cases by similarity to the query.
	SearchCases(ctx context.Context, vector []float32, limit int) ([]CaseHit, error)

	// ChunkCount reports the number of stored chunks across all versions.
	ChunkCount(ctx context.Context) (int, error)

	// CaseCount reports the number of stored cases.
	CaseCount(ctx context.Context) (int, error)

	Close() error
}

// NewFromConfig builds the VectorStore named by the configuration.
func NewFromConfig(ctx context.Context, cfg config.VectorStoreConfig) (VectorStore, error) {
	switch cfg.Backend {
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLite)
	case "pgvector":
		return NewPgvectorStore(ctx, cfg.Pgvector)
	default:
		return nil, compliance.NewInputError("vector_store.backend",
			fmt.Sprintf("unknown backend %q", cfg.Backend))
	}
}

// --- math helpers ---

func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)

	out := make([]float32, len(v))
	if norm == 0 {
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// --- serialization helpers ---

func float32ToBlob(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func blobToFloat32(b []byte, dims int) []float32 {
	v := make([]float32, dims)
	for i := 0; i < dims && i*4+4 <= len(b); i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
