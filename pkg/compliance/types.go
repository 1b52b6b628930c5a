package compliance

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies the regulatory origin of a policy document.
type Source string

const (
	// SourceInternal marks policies authored in-house.
	SourceInternal Source = "INTERNAL"
	// SourceOFAC marks policies derived from OFAC sanctions material.
	SourceOFAC Source = "OFAC"
	// SourceFATF marks policies derived from FATF recommendations.
	SourceFATF Source = "FATF"
	// SourceRBI marks policies derived from RBI directives.
	SourceRBI Source = "RBI"
	// SourceRegulatory marks policies from other external regulators.
	SourceRegulatory Source = "REGULATORY"
)

// Topic classifies the compliance domain a policy document covers.
type Topic string

const (
	// TopicAML covers anti-money-laundering rules.
	TopicAML Topic = "AML"
	// TopicKYC covers know-your-customer rules.
	TopicKYC Topic = "KYC"
	// TopicSanctions covers sanctions and prohibited-jurisdiction rules.
	TopicSanctions Topic = "SANCTIONS"
	// TopicFraud covers fraud detection rules.
	TopicFraud Topic = "FRAUD"
	// TopicGeneral covers policies with no narrower classification.
	TopicGeneral Topic = "GENERAL"
)

// Verdict is the tri-state compliance outcome of an evaluation.
type Verdict string

const (
	// VerdictAcceptable means the transaction may proceed.
	VerdictAcceptable Verdict = "ACCEPTABLE"
	// VerdictNeedsReview means a human must look before the transaction proceeds.
	VerdictNeedsReview Verdict = "NEEDS_REVIEW"
	// VerdictFlag means the transaction is blocked pending investigation.
	VerdictFlag Verdict = "FLAG"
)

// RiskTier buckets a numeric risk score into an operational band.
type RiskTier string

const (
	// TierLow corresponds to risk scores below 0.45.
	TierLow RiskTier = "LOW"
	// TierMedium corresponds to risk scores in [0.45, 0.75).
	TierMedium RiskTier = "MEDIUM"
	// TierHigh corresponds to risk scores of 0.75 and above.
	TierHigh RiskTier = "HIGH"
)

// Magnitude classifies how much a policy version change altered the text.
type Magnitude string

const (
	// MagnitudeMinor means the versions are nearly identical (similarity >= 0.95).
	MagnitudeMinor Magnitude = "MINOR"
	// MagnitudeModerate means a material edit (similarity in [0.80, 0.95)).
	MagnitudeModerate Magnitude = "MODERATE"
	// MagnitudeMajor means a substantial rewrite (similarity < 0.80).
	MagnitudeMajor Magnitude = "MAJOR"
	// MagnitudeUnknown means the versions could not be diffed; no automatic
	// re-evaluation is scheduled for UNKNOWN changes.
	MagnitudeUnknown Magnitude = "UNKNOWN"
)

// TaskState is the lifecycle state of a re-evaluation task.
type TaskState string

const (
	// TaskPending means the task is waiting for a worker.
	TaskPending TaskState = "PENDING"
	// TaskInProgress means a worker holds the task under a lease.
	TaskInProgress TaskState = "IN_PROGRESS"
	// TaskDone means the replay succeeded and a superseding Decision exists.
	TaskDone TaskState = "DONE"
	// TaskFailed means the replay exhausted its retries; LastError records why.
	TaskFailed TaskState = "FAILED"
)

// SynthesisPath records which branch of the synthesizer produced a Decision.
type SynthesisPath string

const (
	// PathLLM means the reasoning service produced the verdict.
	PathLLM SynthesisPath = "LLM"
	// PathFallbackRules means the deterministic rule evaluator produced the
	// verdict (degraded mode).
	PathFallbackRules SynthesisPath = "FALLBACK_RULES"
)

// PolicyDocument is one version of a compliance rule text. Versions share a
// doc_id; at most one version per doc_id is active at any time, and activating
// a new version atomically deactivates its predecessor.
type PolicyDocument struct {
	// Identity
	DocID   string `json:"doc_id"`  // Stable across versions
	Title   string `json:"title"`   // Human-readable name
	Source  Source `json:"source"`  // Regulatory origin
	Topic   Topic  `json:"topic"`   // Compliance domain
	Version int    `json:"version"` // Monotonic per doc_id, starting at 1

	// Content
	RawText string `json:"raw_text"` // Full extracted plain text

	// Lifecycle
	ValidFrom time.Time `json:"valid_from"` // When this version takes effect
	IsActive  bool      `json:"is_active"`  // Exactly the retrievable version
}

// PolicyChunk is an embeddable segment of a PolicyDocument version. Chunks are
// immutable once written; a policy update creates new chunks rather than
// mutating old ones.
type PolicyChunk struct {
	// Identity
	ChunkID string `json:"chunk_id"` // Derived: doc_id + version + sequence
	DocID   string `json:"doc_id"`   // Owning document
	Version int    `json:"version"`  // Owning document version
	Seq     int    `json:"seq"`      // Position within the document, from 0

	// Content
	Section string `json:"section"` // Detected heading, empty if none
	Text    string `json:"text"`    // Bounded-length chunk text

	// Inherited metadata
	Source Source `json:"source"`
	Topic  Topic  `json:"topic"`

	// Lifecycle
	IsActive bool `json:"is_active"` // Mirrors the owning version's flag
}

// ChunkID derives the canonical chunk identifier for a document version and
// chunk sequence number.
func ChunkID(docID string, version, seq int) string {
	return fmt.Sprintf("%s:v%d:%04d", docID, version, seq)
}

// Transaction is the read-only input to an evaluation.
type Transaction struct {
	TransactionID   string    `json:"transaction_id"`
	Amount          float64   `json:"amount"`
	Currency        string    `json:"currency"`
	Sender          string    `json:"sender"`
	Receiver        string    `json:"receiver"`
	SenderCountry   string    `json:"sender_country"`
	ReceiverCountry string    `json:"receiver_country"`
	Description     string    `json:"description"`
	Timestamp       time.Time `json:"timestamp"`
}

// Text renders the canonical single-line description of the transaction used
// for embedding and for reasoning prompts. The format is stable: changing it
// would shift embeddings and break case similarity against stored history.
func (t *Transaction) Text() string {
	return fmt.Sprintf("Transaction %s: %s %.2f from %s (%s) to %s (%s). Description: %s",
		t.TransactionID, t.Currency, t.Amount,
		t.Sender, t.SenderCountry,
		t.Receiver, t.ReceiverCountry,
		t.Description)
}

// Validate checks the transaction fields required for evaluation.
// Returns an *InputError describing the first problem found.
func (t *Transaction) Validate() error {
	if strings.TrimSpace(t.TransactionID) == "" {
		return NewInputError("transaction_id", "must not be empty")
	}
	if t.Amount < 0 {
		return NewInputError("amount", "must not be negative")
	}
	if strings.TrimSpace(t.Currency) == "" {
		return NewInputError("currency", "must not be empty")
	}
	if strings.TrimSpace(t.SenderCountry) == "" {
		return NewInputError("sender_country", "must not be empty")
	}
	if strings.TrimSpace(t.ReceiverCountry) == "" {
		return NewInputError("receiver_country", "must not be empty")
	}
	return nil
}

// PolicyCitation references a policy chunk that informed a Decision.
type PolicyCitation struct {
	DocID     string  `json:"doc_id"`
	Version   int     `json:"version"`
	Section   string  `json:"section,omitempty"`
	Relevance float64 `json:"relevance_score"` // Retrieval similarity in [0,1]
	Excerpt   string  `json:"excerpt,omitempty"`
}

// CaseRef references a similar historical case that informed a Decision.
type CaseRef struct {
	TraceID    string  `json:"trace_id"`
	Similarity float64 `json:"similarity_score"` // Retrieval similarity in [0,1]
	Verdict    Verdict `json:"verdict,omitempty"`
}

// RiskFactor is one weighted component of a risk score, kept on the Decision
// so an auditor can reconstruct how the score was assembled.
type RiskFactor struct {
	Name   string  `json:"name"`   // "policy_match", "country_risk", ...
	Value  float64 `json:"value"`  // Raw component value in [0,1]
	Weight float64 `json:"weight"` // Configured weight applied
	Detail string  `json:"detail,omitempty"`
}

// Decision is the immutable outcome of one evaluation. A re-evaluation never
// mutates an existing Decision; it writes a new one whose Supersedes field
// references the original trace.
type Decision struct {
	// Identity
	TraceID    string `json:"trace_id"`             // Unique per evaluation
	Supersedes string `json:"supersedes,omitempty"` // Trace this one replaces

	// Input snapshot (not a live reference)
	Transaction Transaction `json:"transaction"`

	// Outcome
	Verdict    Verdict  `json:"verdict"`
	RiskTier   RiskTier `json:"risk_tier"`
	RiskScore  float64  `json:"risk_score"` // In [0,1]
	Reasoning  string   `json:"reasoning"`
	Confidence float64  `json:"confidence"` // In [0,1]

	// Evidence: always present, possibly empty, never nil
	PolicyCitations []PolicyCitation `json:"policy_citations"`
	SimilarCases    []CaseRef        `json:"similar_cases"`
	RiskFactors     []RiskFactor     `json:"risk_factors"`

	// Provenance
	SynthesisPath  SynthesisPath `json:"synthesis_path"` // LLM or FALLBACK_RULES
	Degraded       bool          `json:"degraded"`       // Any external service was unavailable
	ProcessingTime time.Duration `json:"processing_time"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Case is a Decision projected into the vector store for similarity retrieval.
// Cases are append-only; superseding a Decision does not remove its case.
type Case struct {
	CaseID    string    `json:"case_id"` // Equals the originating trace_id
	Summary   string    `json:"summary"` // Embedded transaction/decision context
	Verdict   Verdict   `json:"verdict"`
	RiskScore float64   `json:"risk_score"`
	CreatedAt time.Time `json:"created_at"`
}

// CaseFromDecision projects a Decision into its vector-store Case form.
func CaseFromDecision(d *Decision) *Case {
	return &Case{
		CaseID:    d.TraceID,
		Summary:   fmt.Sprintf("%s Verdict: %s. Risk: %s.", d.Transaction.Text(), d.Verdict, d.RiskTier),
		Verdict:   d.Verdict,
		RiskScore: d.RiskScore,
		CreatedAt: d.CreatedAt,
	}
}

// PolicyChangeRecord is the sentinel's classification of a policy version
// change, addressable by (doc_id, from_version, to_version).
type PolicyChangeRecord struct {
	DocID           string    `json:"doc_id"`
	FromVersion     int       `json:"from_version"`
	ToVersion       int       `json:"to_version"`
	Magnitude       Magnitude `json:"magnitude"`
	ChangedSections []string  `json:"changed_sections"` // Sorted section identifiers
	Similarity      float64   `json:"similarity_score"` // Token overlap/union in [0,1]
	CreatedAt       time.Time `json:"created_at"`
}

// ChangeRef identifies the policy change that caused a re-evaluation task.
type ChangeRef struct {
	DocID       string    `json:"doc_id"`
	FromVersion int       `json:"from_version"`
	ToVersion   int       `json:"to_version"`
	Magnitude   Magnitude `json:"magnitude"`
}

// String renders the reference in the form used in task reasons and logs.
func (r ChangeRef) String() string {
	return fmt.Sprintf("%s v%d->v%d (%s)", r.DocID, r.FromVersion, r.ToVersion, r.Magnitude)
}

// ReEvaluationTask is one queued replay of a Decision through the engine.
type ReEvaluationTask struct {
	// Identity
	TaskID        string `json:"task_id"`
	TraceID       string `json:"trace_id"`       // Decision to replay
	TransactionID string `json:"transaction_id"` // Transaction behind that Decision

	// Cause
	Reason ChangeRef `json:"reason"`

	// Lifecycle
	State      TaskState `json:"state"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	LeaseUntil time.Time `json:"lease_until"` // Set while IN_PROGRESS, zero otherwise
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Feedback is a reviewer's judgement on a Decision. A Decision that carries an
// override is protected: re-evaluation will not supersede it without explicit
// confirmation.
type Feedback struct {
	TraceID         string    `json:"trace_id"`
	ReviewedBy      string    `json:"reviewed_by"`
	Agrees          bool      `json:"agrees"`
	OverrideVerdict Verdict   `json:"override_verdict,omitempty"` // Set when Agrees is false
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// ValidVerdict reports whether v is one of the three defined verdicts.
func ValidVerdict(v Verdict) bool {
	switch v {
	case VerdictAcceptable, VerdictNeedsReview, VerdictFlag:
		return true
	}
	return false
}

// ValidTopic reports whether t is one of the defined topics.
func ValidTopic(t Topic) bool {
	switch t {
	case TopicAML, TopicKYC, TopicSanctions, TopicFraud, TopicGeneral:
		return true
	}
	return false
}

// ValidSource reports whether s is one of the defined sources.
func ValidSource(s Source) bool {
	switch s {
	case SourceInternal, SourceOFAC, SourceFATF, SourceRBI, SourceRegulatory:
		return true
	}
	return false
}
