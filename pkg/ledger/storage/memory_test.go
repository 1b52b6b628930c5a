package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"arbiter-hq/themis/pkg/compliance"
)

var baseTime = time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

// mkDecision builds a minimal decision for storage tests.
func mkDecision(traceID, transactionID string, createdAt time.Time) *compliance.Decision {
	return &compliance.Decision{
		TraceID: traceID,
		Transaction: compliance.Transaction{
			TransactionID:   transactionID,
			Amount:          75000,
			Currency:        "USD",
			Sender:          "Acme Exports",
			Receiver:        "Globex Trading",
			SenderCountry:   "USA",
			ReceiverCountry: "UK",
			Description:     "invoice settlement",
			Timestamp:       createdAt,
		},
		Verdict:         compliance.VerdictNeedsReview,
		RiskTier:        compliance.TierMedium,
		RiskScore:       0.52,
		Reasoning:       "amount above review threshold",
		Confidence:      0.9,
		PolicyCitations: []compliance.PolicyCitation{},
		SimilarCases:    []compliance.CaseRef{},
		RiskFactors:     []compliance.RiskFactor{},
		SynthesisPath:   compliance.PathLLM,
		CreatedAt:       createdAt,
	}
}

// citing returns a decision citing the given document versions.
func citing(traceID string, createdAt time.Time, citations ...compliance.PolicyCitation) *compliance.Decision {
	d := mkDecision(traceID, "txn-"+traceID, createdAt)
	d.PolicyCitations = citations
	return d
}

func mkDocument(docID string, version int, active bool) *compliance.PolicyDocument {
	return &compliance.PolicyDocument{
		DocID:     docID,
		Title:     "AML Transaction Monitoring",
		Source:    compliance.SourceInternal,
		Topic:     compliance.TopicAML,
		Version:   version,
		RawText:   "Section 1 Thresholds. Transactions above the reporting threshold require review.",
		ValidFrom: baseTime,
		IsActive:  active,
	}
}

func TestMemoryStorage_DecisionRoundTrip(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	d := mkDecision("trace-1", "txn-1", baseTime)
	if err := store.SaveDecision(ctx, d); err != nil {
		t.Fatalf("SaveDecision() failed: %v", err)
	}

	got, err := store.GetDecision(ctx, "trace-1")
	if err != nil {
		t.Fatalf("GetDecision() failed: %v", err)
	}
	if got.Verdict != compliance.VerdictNeedsReview {
		t.Errorf("verdict = %s, want %s", got.Verdict, compliance.VerdictNeedsReview)
	}
	if got.Transaction.TransactionID != "txn-1" {
		t.Errorf("transaction_id = %s, want txn-1", got.Transaction.TransactionID)
	}

	_, err = store.GetDecision(ctx, "missing")
	var notFound *compliance.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError for missing trace, got %v", err)
	}
}

func TestMemoryStorage_SaveDecisionNeverOverwrites(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	d := mkDecision("trace-1", "txn-1", baseTime)
	if err := store.SaveDecision(ctx, d); err != nil {
		t.Fatalf("SaveDecision() failed: %v", err)
	}

	altered := mkDecision("trace-1", "txn-1", baseTime)
	altered.Verdict = compliance.VerdictFlag
	if err := store.SaveDecision(ctx, altered); err != nil {
		t.Fatalf("second SaveDecision() failed: %v", err)
	}

	got, err := store.GetDecision(ctx, "trace-1")
	if err != nil {
		t.Fatalf("GetDecision() failed: %v", err)
	}
	if got.Verdict != compliance.VerdictNeedsReview {
		t.Errorf("verdict = %s, want original %s", got.Verdict, compliance.VerdictNeedsReview)
	}

	count, err := store.CountDecisions(ctx)
	if err != nil {
		t.Fatalf("CountDecisions() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("decision count = %d, want 1", count)
	}
}

func TestMemoryStorage_LatestDecisionForTransaction(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	for i, traceID := range []string{"trace-a", "trace-b", "trace-c"} {
		d := mkDecision(traceID, "txn-1", baseTime.Add(time.Duration(i)*time.Hour))
		if err := store.SaveDecision(ctx, d); err != nil {
			t.Fatalf("SaveDecision(%s) failed: %v", traceID, err)
		}
	}
	if err := store.SaveDecision(ctx, mkDecision("trace-other", "txn-2", baseTime.Add(48*time.Hour))); err != nil {
		t.Fatalf("SaveDecision(trace-other) failed: %v", err)
	}

	latest, err := store.LatestDecisionForTransaction(ctx, "txn-1")
	if err != nil {
		t.Fatalf("LatestDecisionForTransaction() failed: %v", err)
	}
	if latest.TraceID != "trace-c" {
		t.Errorf("latest trace = %s, want trace-c", latest.TraceID)
	}

	_, err = store.LatestDecisionForTransaction(ctx, "txn-unknown")
	var notFound *compliance.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError for unknown transaction, got %v", err)
	}
}

func TestMemoryStorage_ListDecisionsNewestFirst(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	for i, traceID := range []string{"trace-old", "trace-mid", "trace-new"} {
		d := mkDecision(traceID, "txn-1", baseTime.Add(time.Duration(i)*time.Hour))
		if err := store.SaveDecision(ctx, d); err != nil {
			t.Fatalf("SaveDecision(%s) failed: %v", traceID, err)
		}
	}

	decisions, err := store.ListDecisions(ctx, 0)
	if err != nil {
		t.Fatalf("ListDecisions() failed: %v", err)
	}
	if len(decisions) != 3 {
		t.Fatalf("got %d decisions, want 3", len(decisions))
	}
	wantOrder := []string{"trace-new", "trace-mid", "trace-old"}
	for i, want := range wantOrder {
		if decisions[i].TraceID != want {
			t.Errorf("decisions[%d] = %s, want %s", i, decisions[i].TraceID, want)
		}
	}

	limited, err := store.ListDecisions(ctx, 2)
	if err != nil {
		t.Fatalf("ListDecisions(2) failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("got %d decisions with limit 2, want 2", len(limited))
	}
}

func TestMemoryStorage_CountDecisionsByVerdict(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	verdicts := []compliance.Verdict{
		compliance.VerdictAcceptable,
		compliance.VerdictAcceptable,
		compliance.VerdictFlag,
	}
	for i, verdict := range verdicts {
		d := mkDecision("trace-"+string(rune('a'+i)), "txn-1", baseTime.Add(time.Duration(i)*time.Minute))
		d.Verdict = verdict
		if err := store.SaveDecision(ctx, d); err != nil {
			t.Fatalf("SaveDecision failed: %v", err)
		}
	}

	counts, err := store.CountDecisionsByVerdict(ctx)
	if err != nil {
		t.Fatalf("CountDecisionsByVerdict() failed: %v", err)
	}
	if counts[compliance.VerdictAcceptable] != 2 {
		t.Errorf("ACCEPTABLE count = %d, want 2", counts[compliance.VerdictAcceptable])
	}
	if counts[compliance.VerdictFlag] != 1 {
		t.Errorf("FLAG count = %d, want 1", counts[compliance.VerdictFlag])
	}
	if _, present := counts[compliance.VerdictNeedsReview]; present {
		t.Errorf("NEEDS_REVIEW should be absent when no decision carries it")
	}
}

func TestMemoryStorage_DecisionsCiting(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	d1 := citing("trace-1", baseTime,
		compliance.PolicyCitation{DocID: "aml-policy", Version: 2, Section: "Section 1", Relevance: 0.9})
	d2 := citing("trace-2", baseTime.Add(time.Hour),
		compliance.PolicyCitation{DocID: "aml-policy", Version: 3, Relevance: 0.8})
	d3 := citing("trace-3", baseTime.Add(2*time.Hour),
		compliance.PolicyCitation{DocID: "ofac-sanctions", Version: 2, Relevance: 0.7},
		compliance.PolicyCitation{DocID: "aml-policy", Version: 2, Section: "Section 3", Relevance: 0.6})

	for _, d := range []*compliance.Decision{d1, d2, d3} {
		if err := store.SaveDecision(ctx, d); err != nil {
			t.Fatalf("SaveDecision(%s) failed: %v", d.TraceID, err)
		}
	}

	impacted, err := store.DecisionsCiting(ctx, "aml-policy", 2)
	if err != nil {
		t.Fatalf("DecisionsCiting() failed: %v", err)
	}
	if len(impacted) != 2 {
		t.Fatalf("got %d citing decisions, want 2", len(impacted))
	}
	if impacted[0].TraceID != "trace-3" || impacted[1].TraceID != "trace-1" {
		t.Errorf("citing order = [%s %s], want [trace-3 trace-1]",
			impacted[0].TraceID, impacted[1].TraceID)
	}

	none, err := store.DecisionsCiting(ctx, "aml-policy", 9)
	if err != nil {
		t.Fatalf("DecisionsCiting(v9) failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("got %d citing decisions for unknown version, want 0", len(none))
	}
}

func TestMemoryStorage_CaseIdempotent(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	c := compliance.CaseFromDecision(mkDecision("trace-1", "txn-1", baseTime))

	created, err := store.SaveCase(ctx, c)
	if err != nil {
		t.Fatalf("SaveCase() failed: %v", err)
	}
	if !created {
		t.Error("first SaveCase() should report created")
	}

	created, err = store.SaveCase(ctx, c)
	if err != nil {
		t.Fatalf("second SaveCase() failed: %v", err)
	}
	if created {
		t.Error("second SaveCase() should be a no-op")
	}

	count, err := store.CountCases(ctx)
	if err != nil {
		t.Fatalf("CountCases() failed: %v", err)
	}
	if count != 1 {
		t.Errorf("case count = %d, want 1", count)
	}

	got, err := store.GetCase(ctx, "trace-1")
	if err != nil {
		t.Fatalf("GetCase() failed: %v", err)
	}
	if got.Verdict != c.Verdict {
		t.Errorf("case verdict = %s, want %s", got.Verdict, c.Verdict)
	}

	_, err = store.GetCase(ctx, "missing")
	var notFound *compliance.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError for missing case, got %v", err)
	}
}

func TestMemoryStorage_DocumentVersioning(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	for version := 1; version <= 3; version++ {
		if err := store.SaveDocument(ctx, mkDocument("aml-policy", version, false)); err != nil {
			t.Fatalf("SaveDocument(v%d) failed: %v", version, err)
		}
	}

	latest, err := store.LatestVersion(ctx, "aml-policy")
	if err != nil {
		t.Fatalf("LatestVersion() failed: %v", err)
	}
	if latest != 3 {
		t.Errorf("latest version = %d, want 3", latest)
	}

	unknown, err := store.LatestVersion(ctx, "nope")
	if err != nil {
		t.Fatalf("LatestVersion(unknown) failed: %v", err)
	}
	if unknown != 0 {
		t.Errorf("latest version for unknown doc = %d, want 0", unknown)
	}

	if err := store.ActivateDocumentVersion(ctx, "aml-policy", 2); err != nil {
		t.Fatalf("ActivateDocumentVersion(v2) failed: %v", err)
	}
	active, err := store.ActiveDocument(ctx, "aml-policy")
	if err != nil {
		t.Fatalf("ActiveDocument() failed: %v", err)
	}
	if active.Version != 2 {
		t.Errorf("active version = %d, want 2", active.Version)
	}

	// Flipping to v3 must deactivate v2 in the same step
	if err := store.ActivateDocumentVersion(ctx, "aml-policy", 3); err != nil {
		t.Fatalf("ActivateDocumentVersion(v3) failed: %v", err)
	}
	v2, err := store.GetDocument(ctx, "aml-policy", 2)
	if err != nil {
		t.Fatalf("GetDocument(v2) failed: %v", err)
	}
	if v2.IsActive {
		t.Error("v2 should be inactive after activating v3")
	}

	// A failed activation must not disturb the active version
	err = store.ActivateDocumentVersion(ctx, "aml-policy", 9)
	var notFound *compliance.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError activating v9, got %v", err)
	}
	active, err = store.ActiveDocument(ctx, "aml-policy")
	if err != nil {
		t.Fatalf("ActiveDocument() after failed activation failed: %v", err)
	}
	if active.Version != 3 {
		t.Errorf("active version after failed activation = %d, want 3", active.Version)
	}

	if err := store.DeactivateDocument(ctx, "aml-policy"); err != nil {
		t.Fatalf("DeactivateDocument() failed: %v", err)
	}
	if _, err := store.ActiveDocument(ctx, "aml-policy"); !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError after deactivation, got %v", err)
	}
}

func TestMemoryStorage_ListDocuments(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	for version := 1; version <= 2; version++ {
		if err := store.SaveDocument(ctx, mkDocument("aml-policy", version, false)); err != nil {
			t.Fatalf("SaveDocument(aml v%d) failed: %v", version, err)
		}
	}
	if err := store.SaveDocument(ctx, mkDocument("kyc-policy", 1, true)); err != nil {
		t.Fatalf("SaveDocument(kyc v1) failed: %v", err)
	}

	docs, err := store.ListDocuments(ctx)
	if err != nil {
		t.Fatalf("ListDocuments() failed: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if docs[0].DocID != "aml-policy" || docs[0].Version != 2 {
		t.Errorf("docs[0] = %s v%d, want aml-policy v2", docs[0].DocID, docs[0].Version)
	}
	if docs[1].DocID != "kyc-policy" || docs[1].Version != 1 {
		t.Errorf("docs[1] = %s v%d, want kyc-policy v1", docs[1].DocID, docs[1].Version)
	}
}

func TestMemoryStorage_FeedbackReplaces(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	first := &compliance.Feedback{
		TraceID:    "trace-1",
		ReviewedBy: "analyst-7",
		Agrees:     true,
		CreatedAt:  baseTime,
	}
	if err := store.SaveFeedback(ctx, first); err != nil {
		t.Fatalf("SaveFeedback() failed: %v", err)
	}

	revised := &compliance.Feedback{
		TraceID:         "trace-1",
		ReviewedBy:      "analyst-7",
		Agrees:          false,
		OverrideVerdict: compliance.VerdictFlag,
		Notes:           "counterparty appears on internal watch list",
		CreatedAt:       baseTime.Add(time.Hour),
	}
	if err := store.SaveFeedback(ctx, revised); err != nil {
		t.Fatalf("second SaveFeedback() failed: %v", err)
	}

	got, err := store.GetFeedback(ctx, "trace-1")
	if err != nil {
		t.Fatalf("GetFeedback() failed: %v", err)
	}
	if got.Agrees {
		t.Error("feedback should reflect the revised review")
	}
	if got.OverrideVerdict != compliance.VerdictFlag {
		t.Errorf("override verdict = %s, want %s", got.OverrideVerdict, compliance.VerdictFlag)
	}

	_, err = store.GetFeedback(ctx, "missing")
	var notFound *compliance.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError for missing feedback, got %v", err)
	}
}

func TestMemoryStorage_ChangeRecords(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	records := []*compliance.PolicyChangeRecord{
		{DocID: "aml-policy", FromVersion: 1, ToVersion: 2, Magnitude: compliance.MagnitudeModerate,
			ChangedSections: []string{"Section 1"}, Similarity: 0.85, CreatedAt: baseTime},
		{DocID: "aml-policy", FromVersion: 2, ToVersion: 3, Magnitude: compliance.MagnitudeMajor,
			ChangedSections: []string{"Section 1", "Section 2"}, Similarity: 0.6, CreatedAt: baseTime.Add(time.Hour)},
		{DocID: "kyc-policy", FromVersion: 1, ToVersion: 2, Magnitude: compliance.MagnitudeMinor,
			ChangedSections: []string{}, Similarity: 0.99, CreatedAt: baseTime.Add(2 * time.Hour)},
	}
	for _, rec := range records {
		if err := store.SaveChangeRecord(ctx, rec); err != nil {
			t.Fatalf("SaveChangeRecord() failed: %v", err)
		}
	}

	all, err := store.ListChangeRecords(ctx, "", 0)
	if err != nil {
		t.Fatalf("ListChangeRecords() failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d change records, want 3", len(all))
	}
	if all[0].DocID != "kyc-policy" {
		t.Errorf("newest record doc = %s, want kyc-policy", all[0].DocID)
	}

	amlOnly, err := store.ListChangeRecords(ctx, "aml-policy", 0)
	if err != nil {
		t.Fatalf("ListChangeRecords(aml-policy) failed: %v", err)
	}
	if len(amlOnly) != 2 {
		t.Fatalf("got %d aml-policy records, want 2", len(amlOnly))
	}

	// Re-running a diff replaces the record for that version pair
	redone := &compliance.PolicyChangeRecord{
		DocID: "aml-policy", FromVersion: 1, ToVersion: 2, Magnitude: compliance.MagnitudeMajor,
		ChangedSections: []string{"Section 1", "Section 4"}, Similarity: 0.55, CreatedAt: baseTime.Add(3 * time.Hour),
	}
	if err := store.SaveChangeRecord(ctx, redone); err != nil {
		t.Fatalf("replacing SaveChangeRecord() failed: %v", err)
	}
	amlOnly, err = store.ListChangeRecords(ctx, "aml-policy", 0)
	if err != nil {
		t.Fatalf("ListChangeRecords(aml-policy) after replace failed: %v", err)
	}
	if len(amlOnly) != 2 {
		t.Fatalf("got %d aml-policy records after replace, want 2", len(amlOnly))
	}
	if amlOnly[0].Magnitude != compliance.MagnitudeMajor || amlOnly[0].ToVersion != 2 {
		t.Errorf("replaced record = v%d %s, want v2 MAJOR", amlOnly[0].ToVersion, amlOnly[0].Magnitude)
	}
}

func TestMemoryStorage_SupersededSweep(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	cutoff := baseTime.Add(30 * 24 * time.Hour)

	old := mkDecision("trace-old", "txn-1", baseTime)
	replacement := mkDecision("trace-new", "txn-1", cutoff.Add(24*time.Hour))
	replacement.Supersedes = "trace-old"
	standalone := mkDecision("trace-standalone", "txn-2", baseTime)
	recent := mkDecision("trace-recent", "txn-3", cutoff.Add(time.Hour))
	recentReplacement := mkDecision("trace-recent-2", "txn-3", cutoff.Add(2*time.Hour))
	recentReplacement.Supersedes = "trace-recent"

	for _, d := range []*compliance.Decision{old, replacement, standalone, recent, recentReplacement} {
		if err := store.SaveDecision(ctx, d); err != nil {
			t.Fatalf("SaveDecision(%s) failed: %v", d.TraceID, err)
		}
	}
	if _, err := store.SaveCase(ctx, compliance.CaseFromDecision(old)); err != nil {
		t.Fatalf("SaveCase() failed: %v", err)
	}

	// Only trace-old is both superseded and older than the cutoff
	listed, err := store.ListSupersededBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("ListSupersededBefore() failed: %v", err)
	}
	if len(listed) != 1 || listed[0].TraceID != "trace-old" {
		t.Fatalf("ListSupersededBefore() = %d records, want just trace-old", len(listed))
	}

	deleted, err := store.DeleteSupersededBefore(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteSupersededBefore() failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	var notFound *compliance.NotFoundError
	if _, err := store.GetDecision(ctx, "trace-old"); !errors.As(err, &notFound) {
		t.Errorf("trace-old should be deleted, got %v", err)
	}
	for _, traceID := range []string{"trace-new", "trace-standalone", "trace-recent", "trace-recent-2"} {
		if _, err := store.GetDecision(ctx, traceID); err != nil {
			t.Errorf("%s should survive the sweep: %v", traceID, err)
		}
	}

	// Case history is never swept
	if _, err := store.GetCase(ctx, "trace-old"); err != nil {
		t.Errorf("case for swept decision should remain: %v", err)
	}
}

func TestMemoryStorage_SupersededChain(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	a := mkDecision("trace-a", "txn-1", baseTime)
	b := mkDecision("trace-b", "txn-1", baseTime.Add(time.Hour))
	b.Supersedes = "trace-a"
	c := mkDecision("trace-c", "txn-1", baseTime.Add(2*time.Hour))
	c.Supersedes = "trace-b"

	for _, d := range []*compliance.Decision{a, b, c} {
		if err := store.SaveDecision(ctx, d); err != nil {
			t.Fatalf("SaveDecision(%s) failed: %v", d.TraceID, err)
		}
	}

	deleted, err := store.DeleteSupersededBefore(ctx, baseTime.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("DeleteSupersededBefore() failed: %v", err)
	}
	if deleted != 2 {
		t.Errorf("deleted = %d, want 2 (both replaced links of the chain)", deleted)
	}
	if _, err := store.GetDecision(ctx, "trace-c"); err != nil {
		t.Errorf("chain head should survive: %v", err)
	}
}
