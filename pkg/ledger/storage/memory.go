package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"arbiter-hq/themis/pkg/compliance"
)

// MemoryStorage implements the ledger.Storage interface using in-memory maps.
// This implementation is intended for testing and demo runs; nothing survives
// a restart.
type MemoryStorage struct {
	mu        sync.RWMutex
	seq       int64
	decisions map[string]*decisionEntry
	cases     map[string]*compliance.Case
	documents map[string]map[int]*compliance.PolicyDocument
	feedback  map[string]*compliance.Feedback
	changes   map[string]*changeEntry
}

// decisionEntry pairs a decision with its insertion sequence so listings can
// break creation-time ties deterministically.
type decisionEntry struct {
	decision compliance.Decision
	seq      int64
}

type changeEntry struct {
	record compliance.PolicyChangeRecord
	seq    int64
}

// NewMemoryStorage creates a new in-memory ledger storage backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		decisions: make(map[string]*decisionEntry),
		cases:     make(map[string]*compliance.Case),
		documents: make(map[string]map[int]*compliance.PolicyDocument),
		feedback:  make(map[string]*compliance.Feedback),
		changes:   make(map[string]*changeEntry),
	}
}

// SaveDecision persists a decision. Saving an existing trace is a no-op.
func (s *MemoryStorage) SaveDecision(ctx context.Context, d *compliance.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.decisions[d.TraceID]; exists {
		return nil
	}

	s.seq++
	// Copy to avoid caller mutation
	decisionCopy := *d
	s.decisions[d.TraceID] = &decisionEntry{decision: decisionCopy, seq: s.seq}
	return nil
}

// GetDecision retrieves a decision by trace ID.
func (s *MemoryStorage) GetDecision(ctx context.Context, traceID string) (*compliance.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.decisions[traceID]
	if !ok {
		return nil, compliance.NewNotFoundError("decision", traceID)
	}
	decisionCopy := entry.decision
	return &decisionCopy, nil
}

// LatestDecisionForTransaction returns the most recent decision for a
// transaction.
func (s *MemoryStorage) LatestDecisionForTransaction(ctx context.Context, transactionID string) (*compliance.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *decisionEntry
	for _, entry := range s.decisions {
		if entry.decision.Transaction.TransactionID != transactionID {
			continue
		}
		if best == nil || entryNewer(entry, best) {
			best = entry
		}
	}
	if best == nil {
		return nil, compliance.NewNotFoundError("decision", transactionID)
	}
	decisionCopy := best.decision
	return &decisionCopy, nil
}

// entryNewer reports whether a was recorded after b.
func entryNewer(a, b *decisionEntry) bool {
	if !a.decision.CreatedAt.Equal(b.decision.CreatedAt) {
		return a.decision.CreatedAt.After(b.decision.CreatedAt)
	}
	return a.seq > b.seq
}

// ListDecisions returns decisions ordered newest first.
func (s *MemoryStorage) ListDecisions(ctx context.Context, limit int) ([]*compliance.Decision, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*decisionEntry, 0, len(s.decisions))
	for _, entry := range s.decisions {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entryNewer(entries[i], entries[j])
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	results := make([]*compliance.Decision, 0, len(entries))
	for _, entry := range entries {
		decisionCopy := entry.decision
		results = append(results, &decisionCopy)
	}
	return results, nil
}

// DecisionsCiting returns decisions whose citations include the given
// document version, newest first.
func (s *MemoryStorage) DecisionsCiting(ctx context.Context, docID string, version int) ([]*compliance.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*decisionEntry
	for _, entry := range s.decisions {
		for _, cit := range entry.decision.PolicyCitations {
			if cit.DocID == docID && cit.Version == version {
				entries = append(entries, entry)
				break
			}
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entryNewer(entries[i], entries[j])
	})

	results := make([]*compliance.Decision, 0, len(entries))
	for _, entry := range entries {
		decisionCopy := entry.decision
		results = append(results, &decisionCopy)
	}
	return results, nil
}

// CountDecisions returns the total number of stored decisions.
func (s *MemoryStorage) CountDecisions(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.decisions)), nil
}

// CountDecisionsByVerdict breaks the decision count down per verdict.
func (s *MemoryStorage) CountDecisionsByVerdict(ctx context.Context) (map[compliance.Verdict]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[compliance.Verdict]int64)
	for _, entry := range s.decisions {
		counts[entry.decision.Verdict]++
	}
	return counts, nil
}

// SaveCase persists a case. Re-saving an existing case is a no-op; the
// returned bool reports whether a new case was written.
func (s *MemoryStorage) SaveCase(ctx context.Context, c *compliance.Case) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cases[c.CaseID]; exists {
		return false, nil
	}
	caseCopy := *c
	s.cases[c.CaseID] = &caseCopy
	return true, nil
}

// GetCase retrieves a case by ID.
func (s *MemoryStorage) GetCase(ctx context.Context, caseID string) (*compliance.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cases[caseID]
	if !ok {
		return nil, compliance.NewNotFoundError("case", caseID)
	}
	caseCopy := *c
	return &caseCopy, nil
}

// CountCases returns the total number of stored cases.
func (s *MemoryStorage) CountCases(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.cases)), nil
}

// SaveDocument persists one version of a policy document.
func (s *MemoryStorage) SaveDocument(ctx context.Context, doc *compliance.PolicyDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.documents[doc.DocID]
	if !ok {
		versions = make(map[int]*compliance.PolicyDocument)
		s.documents[doc.DocID] = versions
	}
	docCopy := *doc
	versions[doc.Version] = &docCopy
	return nil
}

// GetDocument retrieves a specific document version.
func (s *MemoryStorage) GetDocument(ctx context.Context, docID string, version int) (*compliance.PolicyDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[docID][version]
	if !ok {
		return nil, compliance.NewNotFoundError("document", fmt.Sprintf("%s:v%d", docID, version))
	}
	docCopy := *doc
	return &docCopy, nil
}

// LatestVersion returns the highest stored version for a document, or 0 when
// the document is unknown.
func (s *MemoryStorage) LatestVersion(ctx context.Context, docID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	latest := 0
	for version := range s.documents[docID] {
		if version > latest {
			latest = version
		}
	}
	return latest, nil
}

// ActiveDocument returns the active version of a document.
func (s *MemoryStorage) ActiveDocument(ctx context.Context, docID string) (*compliance.PolicyDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, doc := range s.documents[docID] {
		if doc.IsActive {
			docCopy := *doc
			return &docCopy, nil
		}
	}
	return nil, compliance.NewNotFoundError("document", docID)
}

// ListDocuments returns the latest version of every document, ordered by
// doc_id.
func (s *MemoryStorage) ListDocuments(ctx context.Context) ([]*compliance.PolicyDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*compliance.PolicyDocument, 0, len(s.documents))
	for docID := range s.documents {
		latest := 0
		for version := range s.documents[docID] {
			if version > latest {
				latest = version
			}
		}
		if latest > 0 {
			docCopy := *s.documents[docID][latest]
			results = append(results, &docCopy)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].DocID < results[j].DocID
	})
	return results, nil
}

// ActivateDocumentVersion marks one version active and the rest inactive
// under a single lock.
func (s *MemoryStorage) ActivateDocumentVersion(ctx context.Context, docID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.documents[docID]
	if _, ok := versions[version]; !ok {
		return compliance.NewNotFoundError("document", fmt.Sprintf("%s:v%d", docID, version))
	}
	for v, doc := range versions {
		doc.IsActive = v == version
	}
	return nil
}

// DeactivateDocument marks every version of a document inactive.
func (s *MemoryStorage) DeactivateDocument(ctx context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions, ok := s.documents[docID]
	if !ok {
		return compliance.NewNotFoundError("document", docID)
	}
	for _, doc := range versions {
		doc.IsActive = false
	}
	return nil
}

// SaveFeedback records reviewer feedback; a later review replaces the
// earlier one.
func (s *MemoryStorage) SaveFeedback(ctx context.Context, fb *compliance.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fbCopy := *fb
	s.feedback[fb.TraceID] = &fbCopy
	return nil
}

// GetFeedback retrieves the feedback recorded for a decision.
func (s *MemoryStorage) GetFeedback(ctx context.Context, traceID string) (*compliance.Feedback, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fb, ok := s.feedback[traceID]
	if !ok {
		return nil, compliance.NewNotFoundError("feedback", traceID)
	}
	fbCopy := *fb
	return &fbCopy, nil
}

// SaveChangeRecord records a sentinel change classification, replacing any
// previous record for the same version pair.
func (s *MemoryStorage) SaveChangeRecord(ctx context.Context, rec *compliance.PolicyChangeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	recCopy := *rec
	key := changeKey(rec.DocID, rec.FromVersion, rec.ToVersion)
	s.changes[key] = &changeEntry{record: recCopy, seq: s.seq}
	return nil
}

func changeKey(docID string, fromVersion, toVersion int) string {
	return fmt.Sprintf("%s:%d:%d", docID, fromVersion, toVersion)
}

// ListChangeRecords returns change records ordered newest first.
func (s *MemoryStorage) ListChangeRecords(ctx context.Context, docID string, limit int) ([]*compliance.PolicyChangeRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var entries []*changeEntry
	for _, entry := range s.changes {
		if docID != "" && entry.record.DocID != docID {
			continue
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.record.CreatedAt.Equal(b.record.CreatedAt) {
			return a.record.CreatedAt.After(b.record.CreatedAt)
		}
		return a.seq > b.seq
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	results := make([]*compliance.PolicyChangeRecord, 0, len(entries))
	for _, entry := range entries {
		recCopy := entry.record
		results = append(results, &recCopy)
	}
	return results, nil
}

// ListSupersededBefore returns superseded decisions created before the
// cutoff, oldest first.
func (s *MemoryStorage) ListSupersededBefore(ctx context.Context, cutoff time.Time) ([]*compliance.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.supersededBefore(cutoff)
	sort.Slice(entries, func(i, j int) bool {
		return entryNewer(entries[j], entries[i])
	})

	results := make([]*compliance.Decision, 0, len(entries))
	for _, entry := range entries {
		decisionCopy := entry.decision
		results = append(results, &decisionCopy)
	}
	return results, nil
}

// DeleteSupersededBefore removes superseded decisions created before the
// cutoff. Cases are untouched.
func (s *MemoryStorage) DeleteSupersededBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.supersededBefore(cutoff)
	for _, entry := range entries {
		delete(s.decisions, entry.decision.TraceID)
	}
	return int64(len(entries)), nil
}

// supersededBefore collects decisions older than the cutoff that a later
// decision has replaced. Callers must hold at least a read lock.
func (s *MemoryStorage) supersededBefore(cutoff time.Time) []*decisionEntry {
	superseded := make(map[string]struct{})
	for _, entry := range s.decisions {
		if entry.decision.Supersedes != "" {
			superseded[entry.decision.Supersedes] = struct{}{}
		}
	}

	var entries []*decisionEntry
	for traceID, entry := range s.decisions {
		if _, ok := superseded[traceID]; !ok {
			continue
		}
		if entry.decision.CreatedAt.Before(cutoff) {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Close releases resources held by the storage backend.
func (s *MemoryStorage) Close() error {
	return nil
}
