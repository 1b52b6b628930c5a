package vecstore

import (
	"container/heap"
	"context"
	"sync"

	"arbiter-hq/themis/pkg/compliance"
)

// MemoryStore is an in-memory VectorStore. It backs demo mode and tests, and
// serves as the search cache inside SQLiteStore.
type MemoryStore struct {
	mu     sync.RWMutex
	chunks map[string]*chunkRecord
	cases  map[string]*caseRecord
}

type chunkRecord struct {
	chunk compliance.PolicyChunk
	vec   []float32
}

type caseRecord struct {
	c   compliance.Case
	vec []float32
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chunks: make(map[string]*chunkRecord),
		cases:  make(map[string]*caseRecord),
	}
}

// UpsertChunks stores normalized copies of the given vectors.
func (m *MemoryStore) UpsertChunks(_ context.Context, chunks []compliance.PolicyChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return compliance.NewInputError("vectors", "must match chunk count")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ch := range chunks {
		m.chunks[ch.ChunkID] = &chunkRecord{chunk: ch, vec: normalize(vectors[i])}
	}
	return nil
}

// ActivateVersion flips the active flag under a single write lock, so
// readers never observe a document with zero or two active versions.
func (m *MemoryStore) ActivateVersion(_ context.Context, docID string, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	found := false
	for _, rec := range m.chunks {
		if rec.chunk.DocID == docID && rec.chunk.Version == version {
			found = true
			break
		}
	}
	if !found {
		return compliance.NewNotFoundError("policy_version", compliance.ChunkID(docID, version, 0))
	}

	for _, rec := range m.chunks {
		if rec.chunk.DocID == docID {
			rec.chunk.IsActive = rec.chunk.Version == version
		}
	}
	return nil
}

// DeactivateDocument marks every version of the document inactive.
func (m *MemoryStore) DeactivateDocument(_ context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.chunks {
		if rec.chunk.DocID == docID {
			rec.chunk.IsActive = false
		}
	}
	return nil
}

// SearchChunks scans all chunks and returns the top results by cosine
// similarity, ties broken by most recent version.
func (m *MemoryStore) SearchChunks(_ context.Context, vector []float32, filter ChunkFilter, limit int) ([]ChunkHit, error) {
	if limit <= 0 {
		limit = 10
	}
	query := normalize(vector)

	m.mu.RLock()
	h := &chunkHeap{}
	heap.Init(h)
	for _, rec := range m.chunks {
		if filter.ActiveOnly && !rec.chunk.IsActive {
			continue
		}
		if filter.Topic != "" && rec.chunk.Topic != filter.Topic {
			continue
		}
		if filter.Source != "" && rec.chunk.Source != filter.Source {
			continue
		}
		if len(rec.vec) != len(query) {
			continue
		}

		hit := ChunkHit{Chunk: rec.chunk, Score: dotProduct(query, rec.vec)}
		if h.Len() < limit {
			heap.Push(h, hit)
		} else if chunkLess((*h)[0], hit) {
			(*h)[0] = hit
			heap.Fix(h, 0)
		}
	}
	m.mu.RUnlock()

	results := make([]ChunkHit, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(ChunkHit)
	}
	return results, nil
}

// UpsertCase stores a normalized copy of the case vector.
func (m *MemoryStore) UpsertCase(_ context.Context, c *compliance.Case, vector []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cases[c.CaseID] = &caseRecord{c: *c, vec: normalize(vector)}
	return nil
}

// SearchCases scans all cases and returns the top results by cosine
// similarity, ties broken by most recent case.
func (m *MemoryStore) SearchCases(_ context.Context, vector []float32, limit int) ([]CaseHit, error) {
	if limit <= 0 {
		limit = 10
	}
	query := normalize(vector)

	m.mu.RLock()
	h := &caseHeap{}
	heap.Init(h)
	for _, rec := range m.cases {
		if len(rec.vec) != len(query) {
			continue
		}
		hit := CaseHit{Case: rec.c, Score: dotProduct(query, rec.vec)}
		if h.Len() < limit {
			heap.Push(h, hit)
		} else if caseLess((*h)[0], hit) {
			(*h)[0] = hit
			heap.Fix(h, 0)
		}
	}
	m.mu.RUnlock()

	results := make([]CaseHit, h.Len())
	for i := len(results) - 1; i >= 0; i-- {
		results[i] = heap.Pop(h).(CaseHit)
	}
	return results, nil
}

// ChunkCount reports the number of stored chunks.
func (m *MemoryStore) ChunkCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

// CaseCount reports the number of stored cases.
func (m *MemoryStore) CaseCount(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cases), nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }

// chunkLess orders hits by score, then version, so equal-score hits from a
// newer document version rank higher.
func chunkLess(a, b ChunkHit) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Chunk.Version < b.Chunk.Version
}

// caseLess orders hits by score, then recency.
func caseLess(a, b CaseHit) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	return a.Case.CreatedAt.Before(b.Case.CreatedAt)
}

// chunkHeap is a min-heap used for top-K selection (min at root).
type chunkHeap []ChunkHit

func (h chunkHeap) Len() int           { return len(h) }
func (h chunkHeap) Less(i, j int) bool { return chunkLess(h[i], h[j]) }
func (h chunkHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *chunkHeap) Push(x any)        { *h = append(*h, x.(ChunkHit)) }
func (h *chunkHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type caseHeap []CaseHit

func (h caseHeap) Len() int           { return len(h) }
func (h caseHeap) Less(i, j int) bool { return caseLess(h[i], h[j]) }
func (h caseHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *caseHeap) Push(x any)        { *h = append(*h, x.(CaseHit)) }
func (h *caseHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
