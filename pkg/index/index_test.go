package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"arbiter-hq/themis/pkg/chunker"
	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
	"arbiter-hq/themis/pkg/embedding"
	ledgerstore "arbiter-hq/themis/pkg/ledger/storage"
	"arbiter-hq/themis/pkg/vecstore"
)

const policyText = `Section 1 Thresholds
Cash transactions above 10000 USD must be reported to the financial
intelligence unit within fifteen days of execution. Aggregated structuring
below the threshold is treated as a single reportable transaction when the
transfers share an originator and a beneficiary.

Section 2 Reporting
Suspicious activity reports must name the parties, the amounts, and the
jurisdictions involved. Reports are filed by the compliance officer and
retained for five years. Late filing is itself a reportable control failure
and triggers an internal review of the monitoring rules.`

func newTestManager(t *testing.T) (*Manager, *ledgerstore.MemoryStorage, *vecstore.MemoryStore, embedding.Embedder) {
	t.Helper()

	ch, err := chunker.New(config.ChunkingConfig{
		TargetWords:      40,
		OverlapWords:     8,
		MinDocumentWords: 10,
	})
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}

	emb := embedding.NewHashEmbedder(64)
	vs := vecstore.NewMemoryStore()
	ls := ledgerstore.NewMemoryStorage()
	return NewManager(ch, emb, vs, ls), ls, vs, emb
}

func testDoc(docID string) *compliance.PolicyDocument {
	return &compliance.PolicyDocument{
		DocID:   docID,
		Title:   "AML Transaction Monitoring Policy",
		Source:  compliance.SourceInternal,
		Topic:   compliance.TopicAML,
		RawText: policyText,
	}
}

func TestIndexDocumentAssignsVersionsAndActivates(t *testing.T) {
	mgr, ls, vs, emb := newTestManager(t)
	ctx := context.Background()

	first, err := mgr.IndexDocument(ctx, testDoc("aml-ctr"))
	if err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if first.Version != 1 || first.PreviousVersion != 0 {
		t.Fatalf("first index = v%d (prev %d), want v1 (prev 0)", first.Version, first.PreviousVersion)
	}
	if first.Chunks == 0 {
		t.Fatal("expected at least one chunk")
	}

	second, err := mgr.IndexDocument(ctx, testDoc("aml-ctr"))
	if err != nil {
		t.Fatalf("IndexDocument v2: %v", err)
	}
	if second.Version != 2 || second.PreviousVersion != 1 {
		t.Fatalf("second index = v%d (prev %d), want v2 (prev 1)", second.Version, second.PreviousVersion)
	}

	active, err := ls.ActiveDocument(ctx, "aml-ctr")
	if err != nil {
		t.Fatalf("ActiveDocument: %v", err)
	}
	if active.Version != 2 {
		t.Fatalf("active ledger version = %d, want 2", active.Version)
	}

	query, err := embedding.EmbedOne(ctx, emb, "cash transaction reporting threshold")
	if err != nil {
		t.Fatalf("embed query: %v", err)
	}
	hits, err := vs.SearchChunks(ctx, query, vecstore.ChunkFilter{ActiveOnly: true}, 50)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("expected active chunks to be searchable")
	}
	for _, h := range hits {
		if h.Chunk.Version != 2 {
			t.Fatalf("active search returned chunk %s at v%d, want only v2", h.Chunk.ChunkID, h.Chunk.Version)
		}
	}
}

func TestIndexDocumentRejectsInvalidInput(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	ctx := context.Background()

	tests := []struct {
		name string
		doc  *compliance.PolicyDocument
	}{
		{"nil document", nil},
		{"empty doc_id", &compliance.PolicyDocument{Source: compliance.SourceInternal, Topic: compliance.TopicAML, RawText: policyText}},
		{"unknown source", &compliance.PolicyDocument{DocID: "d", Source: "BOGUS", Topic: compliance.TopicAML, RawText: policyText}},
		{"unknown topic", &compliance.PolicyDocument{DocID: "d", Source: compliance.SourceInternal, Topic: "BOGUS", RawText: policyText}},
		{"too short", &compliance.PolicyDocument{DocID: "d", Source: compliance.SourceInternal, Topic: compliance.TopicAML, RawText: "tiny"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.IndexDocument(ctx, tt.doc)
			var inputErr *compliance.InputError
			if !errors.As(err, &inputErr) {
				t.Fatalf("expected InputError, got %v", err)
			}
		})
	}
}

func TestIndexDocumentSingleActiveUnderConcurrentActivations(t *testing.T) {
	mgr, ls, vs, emb := newTestManager(t)
	ctx := context.Background()

	query, err := embedding.EmbedOne(ctx, emb, "suspicious activity reporting")
	if err != nil {
		t.Fatalf("embed query: %v", err)
	}

	const writers = 8
	done := make(chan struct{})
	var readerErr error
	var readerWG sync.WaitGroup
	readerWG.Add(1)
	go func() {
		defer readerWG.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			hits, err := vs.SearchChunks(ctx, query, vecstore.ChunkFilter{ActiveOnly: true}, 100)
			if err != nil {
				readerErr = err
				return
			}
			versions := map[int]bool{}
			for _, h := range hits {
				versions[h.Chunk.Version] = true
			}
			if len(versions) > 1 {
				readerErr = fmt.Errorf("observed %d active versions at once", len(versions))
				return
			}
		}
	}()

	var mu sync.Mutex
	seen := map[int]bool{}
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := mgr.IndexDocument(ctx, testDoc("aml-ctr"))
			if err != nil {
				t.Errorf("IndexDocument: %v", err)
				return
			}
			mu.Lock()
			seen[res.Version] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	close(done)
	readerWG.Wait()

	if readerErr != nil {
		t.Fatalf("reader observed invariant violation: %v", readerErr)
	}
	if len(seen) != writers {
		t.Fatalf("assigned %d distinct versions, want %d", len(seen), writers)
	}
	for v := 1; v <= writers; v++ {
		if !seen[v] {
			t.Fatalf("version %d was never assigned", v)
		}
	}

	// Version assignment and activation share the critical section, so the
	// last writer to hold the lock activated the highest version.
	active, err := ls.ActiveDocument(ctx, "aml-ctr")
	if err != nil {
		t.Fatalf("ActiveDocument: %v", err)
	}
	if active.Version != writers {
		t.Fatalf("active version = %d, want %d", active.Version, writers)
	}
}

func TestIndexDocumentSeparateDocumentsIndependent(t *testing.T) {
	mgr, ls, _, _ := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"aml-ctr", "ofac-sdn", "kyc-cdd"} {
		wg.Add(1)
		go func(docID string) {
			defer wg.Done()
			if _, err := mgr.IndexDocument(ctx, testDoc(docID)); err != nil {
				t.Errorf("IndexDocument(%s): %v", docID, err)
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"aml-ctr", "ofac-sdn", "kyc-cdd"} {
		active, err := ls.ActiveDocument(ctx, id)
		if err != nil {
			t.Fatalf("ActiveDocument(%s): %v", id, err)
		}
		if active.Version != 1 {
			t.Fatalf("%s active version = %d, want 1", id, active.Version)
		}
	}
}

func TestDeleteDocumentDeactivatesEverywhere(t *testing.T) {
	mgr, ls, vs, emb := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.IndexDocument(ctx, testDoc("aml-ctr")); err != nil {
		t.Fatalf("IndexDocument: %v", err)
	}
	if err := mgr.DeleteDocument(ctx, "aml-ctr"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	if _, err := ls.ActiveDocument(ctx, "aml-ctr"); !compliance.IsNotFound(err) {
		t.Fatalf("expected no active version, got %v", err)
	}

	query, err := embedding.EmbedOne(ctx, emb, "cash transaction reporting threshold")
	if err != nil {
		t.Fatalf("embed query: %v", err)
	}
	hits, err := vs.SearchChunks(ctx, query, vecstore.ChunkFilter{ActiveOnly: true}, 50)
	if err != nil {
		t.Fatalf("SearchChunks: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("active search returned %d chunks after delete, want 0", len(hits))
	}

	// The stored version survives for the audit trail.
	doc, err := ls.GetDocument(ctx, "aml-ctr", 1)
	if err != nil {
		t.Fatalf("GetDocument after delete: %v", err)
	}
	if doc.IsActive {
		t.Fatal("stored version should be inactive")
	}
}

func TestDeleteDocumentUnknown(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)

	err := mgr.DeleteDocument(context.Background(), "never-indexed")
	if !compliance.IsNotFound(err) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestIndexCaseIdempotent(t *testing.T) {
	mgr, ls, vs, _ := newTestManager(t)
	ctx := context.Background()

	d := &compliance.Decision{
		TraceID: "trace-1",
		Transaction: compliance.Transaction{
			TransactionID:   "txn-1",
			Amount:          75000,
			Currency:        "USD",
			Sender:          "Acme Exports",
			Receiver:        "Globex Trading",
			SenderCountry:   "Iran",
			ReceiverCountry: "USA",
			Description:     "invoice settlement",
		},
		Verdict:         compliance.VerdictFlag,
		RiskTier:        compliance.TierHigh,
		RiskScore:       0.91,
		Reasoning:       "prohibited jurisdiction with a high amount",
		Confidence:      0.9,
		PolicyCitations: []compliance.PolicyCitation{},
		SimilarCases:    []compliance.CaseRef{},
		RiskFactors:     []compliance.RiskFactor{},
		SynthesisPath:   compliance.PathLLM,
		CreatedAt:       time.Now().UTC(),
	}

	for i := 0; i < 2; i++ {
		if err := mgr.IndexCase(ctx, d); err != nil {
			t.Fatalf("IndexCase pass %d: %v", i+1, err)
		}
	}

	n, err := ls.CountCases(ctx)
	if err != nil {
		t.Fatalf("CountCases: %v", err)
	}
	if n != 1 {
		t.Fatalf("case count = %d, want 1", n)
	}
	vn, err := vs.CaseCount(ctx)
	if err != nil {
		t.Fatalf("CaseCount: %v", err)
	}
	if vn != 1 {
		t.Fatalf("vector case count = %d, want 1", vn)
	}

	c, err := ls.GetCase(ctx, "trace-1")
	if err != nil {
		t.Fatalf("GetCase: %v", err)
	}
	if !strings.Contains(c.Summary, "Iran") || c.Verdict != compliance.VerdictFlag {
		t.Fatalf("unexpected case projection: %+v", c)
	}
}

type recordedActivation struct {
	docID    string
	from, to int
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []recordedActivation
}

func (r *recordingNotifier) DocumentActivated(_ context.Context, docID string, from, to int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedActivation{docID, from, to})
}

func TestNotifierFiresOnEveryActivation(t *testing.T) {
	mgr, _, _, _ := newTestManager(t)
	ctx := context.Background()

	n := &recordingNotifier{}
	mgr.SetNotifier(n)

	for i := 0; i < 2; i++ {
		if _, err := mgr.IndexDocument(ctx, testDoc("aml-ctr")); err != nil {
			t.Fatalf("IndexDocument: %v", err)
		}
	}

	want := []recordedActivation{
		{"aml-ctr", 0, 1},
		{"aml-ctr", 1, 2},
	}
	if len(n.calls) != len(want) {
		t.Fatalf("notifier fired %d times, want %d", len(n.calls), len(want))
	}
	for i, w := range want {
		if n.calls[i] != w {
			t.Fatalf("call %d = %+v, want %+v", i, n.calls[i], w)
		}
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service down")
}

func (failingEmbedder) Dimensions() int { return 8 }

func TestIndexDocumentEmbedFailureWritesNothing(t *testing.T) {
	ch, err := chunker.New(config.ChunkingConfig{TargetWords: 40, OverlapWords: 8, MinDocumentWords: 10})
	if err != nil {
		t.Fatalf("chunker.New: %v", err)
	}
	ls := ledgerstore.NewMemoryStorage()
	vs := vecstore.NewMemoryStore()
	mgr := NewManager(ch, failingEmbedder{}, vs, ls)

	ctx := context.Background()
	if _, err := mgr.IndexDocument(ctx, testDoc("aml-ctr")); err == nil {
		t.Fatal("expected embed failure to surface")
	}

	if v, err := ls.LatestVersion(ctx, "aml-ctr"); err != nil || v != 0 {
		t.Fatalf("ledger has version %d after failed index, want 0 (err %v)", v, err)
	}
	if n, err := vs.ChunkCount(ctx); err != nil || n != 0 {
		t.Fatalf("vector store has %d chunks after failed index, want 0 (err %v)", n, err)
	}
}
