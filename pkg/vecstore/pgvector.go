package vecstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
)

// PgvectorStore is a VectorStore backed by PostgreSQL with the pgvector
// extension. Similarity search runs server-side with the cosine distance
// operator, so this backend scales past what the brute-force stores handle
// and supports multiple engine instances sharing one index.
type PgvectorStore struct {
	pool *pgxpool.Pool
}

// NewPgvectorStore connects to PostgreSQL and ensures the schema exists.
// The vector extension must be installable by the configured user.
func NewPgvectorStore(ctx context.Context, cfg config.PgvectorConfig) (*PgvectorStore, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, cfg.SSLMode)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, compliance.NewStorageError("pgvector", "parse config", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, compliance.NewStorageError("pgvector", "connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, compliance.NewStorageError("pgvector", "ping", err)
	}

	s := &PgvectorStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, compliance.NewStorageError("pgvector", "init schema", err)
	}
	return s, nil
}

func (s *PgvectorStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE EXTENSION IF NOT EXISTS vector;

	CREATE TABLE IF NOT EXISTS policy_chunks (
		chunk_id   TEXT PRIMARY KEY,
		doc_id     TEXT NOT NULL,
		version    INTEGER NOT NULL,
		seq        INTEGER NOT NULL,
		section    TEXT NOT NULL DEFAULT '',
		text       TEXT NOT NULL,
		source     TEXT NOT NULL,
		topic      TEXT NOT NULL,
		is_active  BOOLEAN NOT NULL,
		embedding  vector NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_chunks_doc_version ON policy_chunks (doc_id, version);
	CREATE INDEX IF NOT EXISTS idx_chunks_active ON policy_chunks (is_active);

	CREATE TABLE IF NOT EXISTS case_vectors (
		case_id    TEXT PRIMARY KEY,
		summary    TEXT NOT NULL,
		verdict    TEXT NOT NULL,
		risk_score DOUBLE PRECISION NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		embedding  vector NOT NULL
	);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// UpsertChunks writes all chunks in one transaction.
func (s *PgvectorStore) UpsertChunks(ctx context.Context, chunks []compliance.PolicyChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return compliance.NewInputError("vectors", "must match chunk count")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return compliance.NewStorageError("pgvector", "begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, ch := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO policy_chunks (chunk_id, doc_id, version, seq, section, text, source, topic, is_active, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (chunk_id) DO UPDATE SET
				section = EXCLUDED.section,
				text = EXCLUDED.text,
				source = EXCLUDED.source,
				topic = EXCLUDED.topic,
				is_active = EXCLUDED.is_active,
				embedding = EXCLUDED.embedding`,
			ch.ChunkID, ch.DocID, ch.Version, ch.Seq, ch.Section, ch.Text,
			string(ch.Source), string(ch.Topic), ch.IsActive,
			pgvector.NewVector(normalize(vectors[i])))
		if err != nil {
			return compliance.NewStorageError("pgvector", "insert chunk", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return compliance.NewStorageError("pgvector", "commit", err)
	}
	return nil
}

// ActivateVersion flips the active flag for a document in one transaction.
func (s *PgvectorStore) ActivateVersion(ctx context.Context, docID string, version int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return compliance.NewStorageError("pgvector", "begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var n int
	err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM policy_chunks WHERE doc_id = $1 AND version = $2`,
		docID, version).Scan(&n)
	if err != nil {
		return compliance.NewStorageError("pgvector", "count version chunks", err)
	}
	if n == 0 {
		return compliance.NewNotFoundError("policy_version", compliance.ChunkID(docID, version, 0))
	}

	_, err = tx.Exec(ctx,
		`UPDATE policy_chunks SET is_active = (version = $2) WHERE doc_id = $1`,
		docID, version)
	if err != nil {
		return compliance.NewStorageError("pgvector", "activate version", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return compliance.NewStorageError("pgvector", "commit", err)
	}
	return nil
}

// DeactivateDocument marks every version of a document inactive.
func (s *PgvectorStore) DeactivateDocument(ctx context.Context, docID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE policy_chunks SET is_active = false WHERE doc_id = $1`, docID)
	if err != nil {
		return compliance.NewStorageError("pgvector", "deactivate document", err)
	}
	return nil
}

// SearchChunks runs a server-side cosine similarity query with the filter
// applied in the WHERE clause.
func (s *PgvectorStore) SearchChunks(ctx context.Context, vector []float32, filter ChunkFilter, limit int) ([]ChunkHit, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx, `
		SELECT chunk_id, doc_id, version, seq, section, text, source, topic, is_active,
		       (1 - (embedding <=> $1)) AS score
		FROM policy_chunks
		WHERE ($2::boolean = false OR is_active)
		  AND ($3::text = '' OR topic = $3)
		  AND ($4::text = '' OR source = $4)
		ORDER BY score DESC, version DESC
		LIMIT $5`,
		pgvector.NewVector(normalize(vector)), filter.ActiveOnly,
		string(filter.Topic), string(filter.Source), limit)
	if err != nil {
		return nil, compliance.NewStorageError("pgvector", "search chunks", err)
	}
	defer rows.Close()

	var hits []ChunkHit
	for rows.Next() {
		var (
			ch    compliance.PolicyChunk
			score float64
		)
		if err := rows.Scan(&ch.ChunkID, &ch.DocID, &ch.Version, &ch.Seq, &ch.Section,
			&ch.Text, &ch.Source, &ch.Topic, &ch.IsActive, &score); err != nil {
			return nil, compliance.NewStorageError("pgvector", "scan chunk", err)
		}
		hits = append(hits, ChunkHit{Chunk: ch, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, compliance.NewStorageError("pgvector", "search chunks", err)
	}
	return hits, nil
}

// UpsertCase writes the case row.
func (s *PgvectorStore) UpsertCase(ctx context.Context, c *compliance.Case, vector []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO case_vectors (case_id, summary, verdict, risk_score, created_at, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (case_id) DO UPDATE SET
			summary = EXCLUDED.summary,
			verdict = EXCLUDED.verdict,
			risk_score = EXCLUDED.risk_score,
			embedding = EXCLUDED.embedding`,
		c.CaseID, c.Summary, string(c.Verdict), c.RiskScore, c.CreatedAt,
		pgvector.NewVector(normalize(vector)))
	if err != nil {
		return compliance.NewStorageError("pgvector", "insert case", err)
	}
	return nil
}

// SearchCases runs a server-side cosine similarity query over cases.
func (s *PgvectorStore) SearchCases(ctx context.Context, vector []float32, limit int) ([]CaseHit, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.pool.Query(ctx, `
		SELECT case_id, summary, verdict, risk_score, created_at,
		       (1 - (embedding <=> $1)) AS score
		FROM case_vectors
		ORDER BY score DESC, created_at DESC
		LIMIT $2`,
		pgvector.NewVector(normalize(vector)), limit)
	if err != nil {
		return nil, compliance.NewStorageError("pgvector", "search cases", err)
	}
	defer rows.Close()

	var hits []CaseHit
	for rows.Next() {
		var (
			c     compliance.Case
			score float64
		)
		if err := rows.Scan(&c.CaseID, &c.Summary, &c.Verdict, &c.RiskScore, &c.CreatedAt, &score); err != nil {
			return nil, compliance.NewStorageError("pgvector", "scan case", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		hits = append(hits, CaseHit{Case: c, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, compliance.NewStorageError("pgvector", "search cases", err)
	}
	return hits, nil
}

// ChunkCount reports the number of stored chunks.
func (s *PgvectorStore) ChunkCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM policy_chunks`).Scan(&n); err != nil {
		return 0, compliance.NewStorageError("pgvector", "count chunks", err)
	}
	return n, nil
}

// CaseCount reports the number of stored cases.
func (s *PgvectorStore) CaseCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM case_vectors`).Scan(&n); err != nil {
		return 0, compliance.NewStorageError("pgvector", "count cases", err)
	}
	return n, nil
}

// Close releases the connection pool.
func (s *PgvectorStore) Close() error {
	s.pool.Close()
	return nil
}
