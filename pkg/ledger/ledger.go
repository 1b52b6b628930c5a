package ledger

import (
	"context"
	"time"

	"arbiter-hq/themis/pkg/compliance"
)

// Storage is the persistence contract for the decision ledger.
//
// Implementations must be safe for concurrent use. Backend failures are
// reported as *compliance.PersistenceError; lookups that miss return
// *compliance.NotFoundError.
type Storage interface {
	// SaveDecision persists a decision. Decisions are append-only: saving a
	// trace that already exists is a no-op, never an overwrite.
	SaveDecision(ctx context.Context, d *compliance.Decision) error

	// GetDecision retrieves a decision by trace ID.
	GetDecision(ctx context.Context, traceID string) (*compliance.Decision, error)

	// LatestDecisionForTransaction returns the most recent decision recorded
	// for a transaction. Superseded decisions are still visible here when no
	// later decision exists, so callers see whatever currently stands.
	LatestDecisionForTransaction(ctx context.Context, transactionID string) (*compliance.Decision, error)

	// ListDecisions returns decisions ordered newest first.
	// A non-positive limit applies the default of 100.
	ListDecisions(ctx context.Context, limit int) ([]*compliance.Decision, error)

	// DecisionsCiting returns every decision whose policy citations include
	// the given document version, newest first. The sentinel uses this to
	// find decisions impacted by a policy change.
	DecisionsCiting(ctx context.Context, docID string, version int) ([]*compliance.Decision, error)

	// CountDecisions returns the total number of stored decisions.
	CountDecisions(ctx context.Context) (int64, error)

	// CountDecisionsByVerdict breaks the decision count down per verdict.
	// Verdicts with no decisions are absent from the map.
	CountDecisionsByVerdict(ctx context.Context) (map[compliance.Verdict]int64, error)

	// SaveCase persists the audit projection of a decision. Cases are keyed
	// by the originating trace and append-only: re-saving an existing case is
	// a no-op. Returns true when a new case was actually written.
	SaveCase(ctx context.Context, c *compliance.Case) (bool, error)

	// GetCase retrieves a case by ID (the originating trace ID).
	GetCase(ctx context.Context, caseID string) (*compliance.Case, error)

	// CountCases returns the total number of stored cases.
	CountCases(ctx context.Context) (int64, error)

	// SaveDocument persists one version of a policy document, raw text
	// included. Re-saving an existing (doc_id, version) replaces the row.
	SaveDocument(ctx context.Context, doc *compliance.PolicyDocument) error

	// GetDocument retrieves a specific document version.
	GetDocument(ctx context.Context, docID string, version int) (*compliance.PolicyDocument, error)

	// LatestVersion returns the highest stored version for a document, or 0
	// when the document is unknown.
	LatestVersion(ctx context.Context, docID string) (int, error)

	// ActiveDocument returns the currently active version of a document.
	ActiveDocument(ctx context.Context, docID string) (*compliance.PolicyDocument, error)

	// ListDocuments returns the latest stored version of every document,
	// ordered by doc_id.
	ListDocuments(ctx context.Context) ([]*compliance.PolicyDocument, error)

	// ActivateDocumentVersion marks one version active and every other
	// version of the same document inactive in a single atomic step. The
	// flip never exposes a state with zero or two active versions.
	ActivateDocumentVersion(ctx context.Context, docID string, version int) error

	// DeactivateDocument marks every version of a document inactive.
	DeactivateDocument(ctx context.Context, docID string) error

	// SaveFeedback records reviewer feedback on a decision. One feedback row
	// per trace: a later review replaces the earlier one.
	SaveFeedback(ctx context.Context, fb *compliance.Feedback) error

	// GetFeedback retrieves the feedback recorded for a decision.
	GetFeedback(ctx context.Context, traceID string) (*compliance.Feedback, error)

	// SaveChangeRecord records a sentinel change classification. One record
	// per (doc_id, from_version, to_version): re-running a diff replaces it.
	SaveChangeRecord(ctx context.Context, rec *compliance.PolicyChangeRecord) error

	// ListChangeRecords returns change records ordered newest first. An
	// empty docID matches all documents. A non-positive limit applies the
	// default of 100.
	ListChangeRecords(ctx context.Context, docID string, limit int) ([]*compliance.PolicyChangeRecord, error)

	// ListSupersededBefore returns superseded decisions created before the
	// cutoff, oldest first. A decision is superseded when a later decision
	// names it in its supersedes field.
	ListSupersededBefore(ctx context.Context, cutoff time.Time) ([]*compliance.Decision, error)

	// DeleteSupersededBefore removes superseded decisions created before the
	// cutoff and returns the number deleted. Cases are untouched: case
	// history outlives the decisions behind it.
	DeleteSupersededBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases resources held by the storage backend.
	Close() error
}
