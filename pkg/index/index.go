// Package index coordinates policy document and case indexing. A document
// pass chunks the text, embeds the chunks, stores rows in the ledger and the
// vector store, and then flips the active version in a single serialized
// step per doc_id, so readers never observe two active versions of the same
// document.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"arbiter-hq/themis/pkg/chunker"
	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/embedding"
	"arbiter-hq/themis/pkg/ledger"
	"arbiter-hq/themis/pkg/telemetry/metrics"
	"arbiter-hq/themis/pkg/vecstore"
)

// Notifier observes version activations. The policy sentinel registers one
// so that every activation is diffed, whether the document arrived through
// the CLI, the ingest watcher, or an API caller.
type Notifier interface {
	// DocumentActivated fires after toVersion became the active version.
	// fromVersion is the previously active version, 0 when none existed.
	DocumentActivated(ctx context.Context, docID string, fromVersion, toVersion int)
}

// Result reports what an IndexDocument call produced.
type Result struct {
	DocID           string
	Version         int
	PreviousVersion int // Previously active version, 0 when none existed
	Chunks          int
}

// Manager runs the indexing pipeline and owns the per-document activation
// invariant: at most one version of a doc_id is active at any observation
// point, and activations for the same doc_id never interleave. Documents
// with different doc_ids index independently.
type Manager struct {
	chunker  *chunker.Chunker
	embedder embedding.Embedder
	vectors  vecstore.VectorStore
	store    ledger.Storage
	logger   *slog.Logger
	notifier Notifier
	metrics  *metrics.Collector

	mu       sync.Mutex
	docLocks map[string]*sync.Mutex
}

// NewManager wires a Manager from its collaborators.
func NewManager(ch *chunker.Chunker, emb embedding.Embedder, vs vecstore.VectorStore, store ledger.Storage) *Manager {
	return &Manager{
		chunker:  ch,
		embedder: emb,
		vectors:  vs,
		store:    store,
		logger:   slog.Default().With("component", "index"),
		docLocks: make(map[string]*sync.Mutex),
	}
}

// SetNotifier registers the activation observer. Call during wiring, before
// indexing starts.
func (m *Manager) SetNotifier(n Notifier) {
	m.notifier = n
}

// SetMetrics registers the metrics collector. Call during wiring; a nil
// collector leaves metrics off.
func (m *Manager) SetMetrics(c *metrics.Collector) {
	m.metrics = c
}

// IndexDocument chunks, embeds, and stores one version of a policy document,
// then makes it the active version. When doc.Version is zero the next
// version number for the doc_id is assigned automatically. The previously
// active version is deactivated by the same flip that activates the new
// one. The input document is not modified; the assigned version is reported
// in the Result.
func (m *Manager) IndexDocument(ctx context.Context, doc *compliance.PolicyDocument) (*Result, error) {
	if doc == nil {
		return nil, compliance.NewInputError("document", "must not be nil")
	}

	d := *doc
	if strings.TrimSpace(d.DocID) == "" {
		return nil, compliance.NewInputError("doc_id", "must not be empty")
	}
	if !compliance.ValidSource(d.Source) {
		return nil, compliance.NewInputError("source", fmt.Sprintf("unknown source %q", d.Source))
	}
	if !compliance.ValidTopic(d.Topic) {
		return nil, compliance.NewInputError("topic", fmt.Sprintf("unknown topic %q", d.Topic))
	}

	start := time.Now()
	lock := m.docLock(d.DocID)
	lock.Lock()
	defer lock.Unlock()

	if d.Version <= 0 {
		latest, err := m.store.LatestVersion(ctx, d.DocID)
		if err != nil {
			return nil, err
		}
		d.Version = latest + 1
	}
	if d.ValidFrom.IsZero() {
		d.ValidFrom = time.Now().UTC()
	}

	// The sentinel diffs against the version that was active before the
	// flip, not against Version-1. Gaps and rollbacks are possible.
	previous := 0
	active, err := m.store.ActiveDocument(ctx, d.DocID)
	if err == nil {
		previous = active.Version
	} else if !compliance.IsNotFound(err) {
		return nil, err
	}

	// Chunks are written with the flag down. Activation is a single flip
	// after all rows are in place, never a property of the insert.
	d.IsActive = false
	chunks, err := m.chunker.Split(&d)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := m.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed %d chunks for %s v%d: %w", len(chunks), d.DocID, d.Version, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	if err := m.store.SaveDocument(ctx, &d); err != nil {
		return nil, err
	}
	if err := m.vectors.UpsertChunks(ctx, chunks, vectors); err != nil {
		return nil, err
	}

	// Search visibility flips first. If the ledger flip then fails, retrieval
	// already serves the new version and the error surfaces to the caller,
	// who retries the activation rather than the whole pipeline.
	if err := m.vectors.ActivateVersion(ctx, d.DocID, d.Version); err != nil {
		return nil, err
	}
	if err := m.store.ActivateDocumentVersion(ctx, d.DocID, d.Version); err != nil {
		return nil, err
	}

	m.metrics.RecordDocumentIndexed(string(d.Topic), string(d.Source), len(chunks), time.Since(start))
	m.logger.Info("document indexed",
		"doc_id", d.DocID,
		"version", d.Version,
		"previous_version", previous,
		"chunks", len(chunks))

	if m.notifier != nil {
		m.notifier.DocumentActivated(ctx, d.DocID, previous, d.Version)
	}

	return &Result{
		DocID:           d.DocID,
		Version:         d.Version,
		PreviousVersion: previous,
		Chunks:          len(chunks),
	}, nil
}

// DeleteDocument marks every version of a document inactive in both the
// vector store and the ledger. Stored versions, past decisions, and cases
// are untouched; the document simply stops being retrievable.
func (m *Manager) DeleteDocument(ctx context.Context, docID string) error {
	if strings.TrimSpace(docID) == "" {
		return compliance.NewInputError("doc_id", "must not be empty")
	}

	lock := m.docLock(docID)
	lock.Lock()
	defer lock.Unlock()

	if err := m.vectors.DeactivateDocument(ctx, docID); err != nil {
		return err
	}
	if err := m.store.DeactivateDocument(ctx, docID); err != nil {
		return err
	}

	m.logger.Info("document deactivated", "doc_id", docID)
	return nil
}

// IndexCase records a decision's case projection in the ledger and makes it
// searchable. Idempotent on trace_id: re-indexing the same decision
// refreshes the stored vector but never duplicates the case.
func (m *Manager) IndexCase(ctx context.Context, d *compliance.Decision) error {
	if d == nil || d.TraceID == "" {
		return compliance.NewInputError("trace_id", "must not be empty")
	}

	c := compliance.CaseFromDecision(d)
	created, err := m.store.SaveCase(ctx, c)
	if err != nil {
		return err
	}

	vector, err := embedding.EmbedOne(ctx, m.embedder, c.Summary)
	if err != nil {
		return fmt.Errorf("embed case %s: %w", c.CaseID, err)
	}
	if err := m.vectors.UpsertCase(ctx, c, vector); err != nil {
		return err
	}

	if created {
		m.metrics.RecordCaseIndexed()
		m.logger.Debug("case indexed", "case_id", c.CaseID, "verdict", c.Verdict)
	}
	return nil
}

// docLock returns the activation mutex for one doc_id, creating it on first
// use. Locks are never removed; the map stays bounded by the corpus size.
func (m *Manager) docLock(docID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.docLocks[docID]
	if !ok {
		l = &sync.Mutex{}
		m.docLocks[docID] = l
	}
	return l
}
