// Package engine runs transactions through the decision pipeline: retrieve
// evidence, synthesize a verdict, score deterministically, persist. The
// pipeline degrades instead of failing: a missing vector store or reasoner
// narrows the evidence and the confidence, never the ability to decide.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
	"arbiter-hq/themis/pkg/ledger"
	"arbiter-hq/themis/pkg/queue"
	"arbiter-hq/themis/pkg/reasoner"
	"arbiter-hq/themis/pkg/retrieval"
	"arbiter-hq/themis/pkg/risk"
	"arbiter-hq/themis/pkg/telemetry/metrics"
	"arbiter-hq/themis/pkg/vecstore"
)

// stage names the states an evaluation moves through.
type stage string

const (
	stageRetrieving   stage = "RETRIEVING"
	stageSynthesizing stage = "SYNTHESIZING"
	stageFallback     stage = "FALLBACK"
	stageScoring      stage = "SCORING"
	stagePersisting   stage = "PERSISTING"
)

// Ambiguity flags collected while a decision is assembled. Any flag caps the
// confidence of a rule-based decision below certainty.
const (
	flagRetrievalUnavailable = "retrieval_unavailable"
	flagSynthesisUnavailable = "synthesis_unavailable"
	flagVerdictReconciled    = "verdict_reconciled"
)

// EvidenceSource retrieves policy and case evidence for a query. Implemented
// by retrieval.Retriever.
type EvidenceSource interface {
	Retrieve(ctx context.Context, queryText string, topic compliance.Topic) (*retrieval.Evidence, error)
	Policies(ctx context.Context, queryText string, topic compliance.Topic, topK int) ([]vecstore.ChunkHit, error)
}

// CaseIndexer projects a decision into the searchable case history.
// Implemented by index.Manager.
type CaseIndexer interface {
	IndexCase(ctx context.Context, d *compliance.Decision) error
}

// Deps bundles the collaborators an Engine needs. Evidence, Scorer and
// Ledger are required. A nil Reasoner disables synthesis, a nil Cases indexer
// keeps the case projection in the ledger only, Vectors is used for
// statistics alone, and a nil Metrics collector leaves metrics off.
type Deps struct {
	Evidence EvidenceSource
	Reasoner reasoner.Reasoner
	Scorer   *risk.Scorer
	Ledger   ledger.Storage
	Cases    CaseIndexer
	Vectors  vecstore.VectorStore
	Metrics  *metrics.Collector
}

// Engine evaluates transactions and re-evaluates past decisions.
type Engine struct {
	source  EvidenceSource
	synth   reasoner.Reasoner
	scorer  *risk.Scorer
	store   ledger.Storage
	cases   CaseIndexer
	vectors vecstore.VectorStore
	metrics *metrics.Collector
	cfg     config.EngineConfig
	logger  *slog.Logger
}

// New creates an Engine from its collaborators.
func New(deps Deps, cfg config.EngineConfig) (*Engine, error) {
	if deps.Evidence == nil {
		return nil, compliance.NewInputError("engine.evidence", "must not be nil")
	}
	if deps.Scorer == nil {
		return nil, compliance.NewInputError("engine.scorer", "must not be nil")
	}
	if deps.Ledger == nil {
		return nil, compliance.NewInputError("engine.ledger", "must not be nil")
	}
	if deps.Reasoner == nil {
		deps.Reasoner = reasoner.Disabled{}
	}
	if cfg.EvaluationTimeout <= 0 {
		cfg.EvaluationTimeout = 60 * time.Second
	}
	if cfg.FallbackConfidenceCeiling <= 0 {
		cfg.FallbackConfidenceCeiling = 0.6
	}

	return &Engine{
		source:  deps.Evidence,
		synth:   deps.Reasoner,
		scorer:  deps.Scorer,
		store:   deps.Ledger,
		cases:   deps.Cases,
		vectors: deps.Vectors,
		metrics: deps.Metrics,
		cfg:     cfg,
		logger:  slog.Default().With("component", "engine"),
	}, nil
}

// evaluation carries one transaction through the pipeline stages.
type evaluation struct {
	traceID       string
	txn           *compliance.Transaction
	policies      []vecstore.ChunkHit
	cases         []vecstore.CaseHit
	citations     []compliance.PolicyCitation
	similar       []compliance.CaseRef
	path          compliance.SynthesisPath
	verdict       compliance.Verdict
	reasoning     string
	confidence    float64
	degraded      bool
	skipSynthesis bool
	flags         []string
}

func (ev *evaluation) flag(name string) {
	ev.flags = append(ev.flags, name)
}

func (ev *evaluation) flagged(name string) bool {
	for _, f := range ev.flags {
		if f == name {
			return true
		}
	}
	return false
}

// Evaluate runs one transaction through the pipeline and returns the
// persisted decision. Evaluations are independent; callers may run any
// number concurrently.
func (e *Engine) Evaluate(ctx context.Context, txn *compliance.Transaction) (*compliance.Decision, error) {
	return e.run(ctx, txn, "")
}

func (e *Engine) run(ctx context.Context, txn *compliance.Transaction, supersedes string) (*compliance.Decision, error) {
	if txn == nil {
		return nil, compliance.NewInputError("transaction", "must not be nil")
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.EvaluationTimeout)
	defer cancel()

	started := time.Now()
	ev := &evaluation{
		traceID: uuid.NewString(),
		txn:     txn,
	}
	logger := e.logger.With("trace_id", ev.traceID, "transaction_id", txn.TransactionID)

	e.retrieveStage(ctx, logger, ev)
	e.synthesizeStage(ctx, logger, ev)
	if err := ctx.Err(); err != nil {
		// A cancelled evaluation abandons its result; nothing has been
		// written yet.
		return nil, fmt.Errorf("evaluation abandoned: %w", err)
	}
	assessment := e.scoreStage(logger, ev)

	d := &compliance.Decision{
		TraceID:         ev.traceID,
		Supersedes:      supersedes,
		Transaction:     *txn,
		Verdict:         ev.verdict,
		RiskTier:        assessment.Tier,
		RiskScore:       assessment.Score,
		Reasoning:       ev.reasoning,
		Confidence:      ev.confidence,
		PolicyCitations: ev.citations,
		SimilarCases:    ev.similar,
		RiskFactors:     assessment.Factors,
		SynthesisPath:   ev.path,
		Degraded:        ev.degraded,
		ProcessingTime:  time.Since(started),
		CreatedAt:       time.Now().UTC(),
	}

	if err := e.persistStage(ctx, logger, d); err != nil {
		return nil, err
	}

	e.metrics.RecordDecision(string(d.Verdict), string(d.SynthesisPath),
		d.Degraded, ev.flagged(flagVerdictReconciled), d.RiskScore, d.ProcessingTime)
	logger.Info("evaluation complete",
		"verdict", d.Verdict,
		"risk_tier", d.RiskTier,
		"risk_score", d.RiskScore,
		"path", d.SynthesisPath,
		"degraded", d.Degraded,
		"duration", d.ProcessingTime)
	return d, nil
}

// retrieveStage gathers policy and case evidence. The vector store being
// down must never block a decision: the built-in reference sets stand in and
// the evaluation continues degraded, skipping synthesis because the reasoner
// would otherwise judge against evidence that is not real.
func (e *Engine) retrieveStage(ctx context.Context, logger *slog.Logger, ev *evaluation) {
	logger.Debug("stage entered", "stage", stageRetrieving)

	switch {
	case e.cfg.DemoMode:
		ev.policies, ev.cases = demoPolicyHits(), demoCaseHits()
		logger.Info("demo mode, evaluating against reference evidence")
	default:
		retrStart := time.Now()
		evidence, err := e.source.Retrieve(ctx, ev.txn.Text(), "")
		if err == nil {
			ev.policies, ev.cases = evidence.Policies, evidence.Cases
			e.metrics.RecordRetrieval("success", len(ev.policies), len(ev.cases), time.Since(retrStart))
			break
		}
		ev.policies, ev.cases = demoPolicyHits(), demoCaseHits()
		ev.degraded = true
		ev.skipSynthesis = true
		ev.flag(flagRetrievalUnavailable)
		e.metrics.RecordRetrieval("fallback", len(ev.policies), len(ev.cases), time.Since(retrStart))
		logger.Warn("retrieval unavailable, entering rule fallback with reference evidence", "error", err)
	}

	ev.citations = citationsFrom(ev.policies)
	ev.similar = caseRefsFrom(ev.cases)
}

// synthesizeStage asks the reasoner for a verdict, falling back to the rule
// set when it is unavailable. A deliberately absent reasoner is the intended
// path, not a degradation.
func (e *Engine) synthesizeStage(ctx context.Context, logger *slog.Logger, ev *evaluation) {
	if ev.skipSynthesis {
		e.applyRules(logger, ev)
		return
	}
	logger.Debug("stage entered", "stage", stageSynthesizing)

	syn, err := e.synth.Synthesize(ctx, ev.txn, ev.policies, ev.cases)
	if err == nil {
		ev.path = compliance.PathLLM
		ev.verdict = syn.Verdict
		ev.reasoning = syn.Reasoning
		ev.confidence = syn.Confidence
		return
	}

	reason := "error"
	var unavailable *compliance.SynthesisUnavailableError
	if errors.As(err, &unavailable) {
		reason = unavailable.Reason
	}
	if reason == "disabled" {
		logger.Debug("no reasoner configured, using rule evaluation")
	} else {
		ev.degraded = true
		ev.flag(flagSynthesisUnavailable)
		logger.Warn("synthesis unavailable, falling back to rules", "reason", reason, "error", err)
	}
	e.applyRules(logger, ev)
}

// applyRules derives verdict and reasoning from the deterministic rule set.
func (e *Engine) applyRules(logger *slog.Logger, ev *evaluation) {
	logger.Debug("stage entered", "stage", stageFallback)

	rules := e.scorer.RuleEvaluate(ev.txn, ev.citations)
	ev.path = compliance.PathFallbackRules
	ev.verdict = rules.Verdict
	if len(rules.Reasons) == 0 {
		ev.reasoning = "Rule-based assessment: no risk rules triggered."
	} else {
		ev.reasoning = fmt.Sprintf("Rule-based assessment: %s.", strings.Join(rules.Reasons, "; "))
	}
}

// scoreStage runs the deterministic scorer. Its score, tier and factors are
// authoritative regardless of what the reasoner claimed, and a verdict that
// contradicts the tier at the extremes is escalated to review. The final
// confidence of a rule-based decision is certain only when the evaluation
// collected no ambiguity flags.
func (e *Engine) scoreStage(logger *slog.Logger, ev *evaluation) risk.Assessment {
	logger.Debug("stage entered", "stage", stageScoring)

	assessment := e.scorer.Score(ev.txn, ev.citations, ev.similar)

	verdict, changed := risk.Reconcile(ev.verdict, assessment.Tier)
	if changed {
		ev.flag(flagVerdictReconciled)
		ev.reasoning += fmt.Sprintf(" Deterministic risk tier %s conflicts with verdict %s; escalated to %s.",
			assessment.Tier, ev.verdict, verdict)
		logger.Warn("verdict reconciled against deterministic tier",
			"verdict", ev.verdict, "tier", assessment.Tier, "reconciled", verdict)
		ev.verdict = verdict
	}

	if ev.path == compliance.PathFallbackRules {
		if len(ev.flags) == 0 {
			ev.confidence = 1.0
		} else {
			ev.confidence = e.cfg.FallbackConfidenceCeiling
		}
	}
	return assessment
}

// persistStage writes the decision and its case projection. A failed
// decision write fails the evaluation; a failed vector projection does not,
// because the ledger case row is already written by then and reindexing
// heals the searchable copy.
func (e *Engine) persistStage(ctx context.Context, logger *slog.Logger, d *compliance.Decision) error {
	logger.Debug("stage entered", "stage", stagePersisting)

	if err := e.store.SaveDecision(ctx, d); err != nil {
		logger.Error("decision write failed", "error", err)
		return err
	}

	if e.cases == nil {
		if _, err := e.store.SaveCase(ctx, compliance.CaseFromDecision(d)); err != nil {
			logger.Error("case write failed", "error", err)
			return err
		}
		return nil
	}
	if err := e.cases.IndexCase(ctx, d); err != nil {
		var persistErr *compliance.PersistenceError
		if errors.As(err, &persistErr) {
			logger.Error("case write failed", "error", err)
			return err
		}
		logger.Error("case vector projection failed, reindex will heal it", "error", err)
	}
	return nil
}

// Replay re-evaluates the transaction behind a queued task. The current
// decision for the transaction must still be the one the task names, and a
// decision a reviewer has overridden is never superseded from the queue.
func (e *Engine) Replay(ctx context.Context, task *compliance.ReEvaluationTask) (*queue.ReplayResult, error) {
	if task == nil {
		return nil, compliance.NewInputError("task", "must not be nil")
	}

	original, err := e.replayGate(ctx, task.TraceID, false)
	if err != nil {
		return nil, err
	}

	txn := original.Transaction
	d, err := e.run(ctx, &txn, original.TraceID)
	if err != nil {
		return nil, err
	}

	e.logger.Info("re-evaluation decision written",
		"trace_id", d.TraceID,
		"supersedes", original.TraceID,
		"reason", task.Reason.String(),
		"verdict", d.Verdict,
		"previous_verdict", original.Verdict)
	return &queue.ReplayResult{Decision: d, PreviousVerdict: original.Verdict}, nil
}

// Reevaluate re-runs a past decision outside the queue. confirmOverride must
// be set to supersede a decision a reviewer has overridden.
func (e *Engine) Reevaluate(ctx context.Context, traceID string, confirmOverride bool) (*compliance.Decision, error) {
	original, err := e.replayGate(ctx, traceID, confirmOverride)
	if err != nil {
		return nil, err
	}

	txn := original.Transaction
	return e.run(ctx, &txn, original.TraceID)
}

// replayGate loads a decision and checks that superseding it is allowed.
func (e *Engine) replayGate(ctx context.Context, traceID string, confirmOverride bool) (*compliance.Decision, error) {
	original, err := e.store.GetDecision(ctx, traceID)
	if err != nil {
		return nil, err
	}

	latest, err := e.store.LatestDecisionForTransaction(ctx, original.Transaction.TransactionID)
	if err != nil && !compliance.IsNotFound(err) {
		return nil, err
	}
	if err == nil && latest.TraceID != original.TraceID {
		return nil, fmt.Errorf("decision %s superseded by %s: %w", traceID, latest.TraceID, queue.ErrAlreadySuperseded)
	}

	if !confirmOverride {
		fb, err := e.store.GetFeedback(ctx, traceID)
		if err != nil && !compliance.IsNotFound(err) {
			return nil, err
		}
		if err == nil && !fb.Agrees {
			return nil, fmt.Errorf("decision %s overridden by reviewer %s: %w", traceID, fb.ReviewedBy, queue.ErrOverrideProtected)
		}
	}
	return original, nil
}

// Answer responds to a compliance question over the active policy corpus.
// When the reasoner is unavailable the top excerpts are summarized
// deterministically instead, at reduced confidence.
func (e *Engine) Answer(ctx context.Context, question string, topic compliance.Topic) (*reasoner.Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, compliance.NewInputError("question", "must not be empty")
	}

	var hits []vecstore.ChunkHit
	if e.cfg.DemoMode {
		hits = demoPolicyHits()
	} else {
		var err error
		hits, err = e.source.Policies(ctx, question, topic, 0)
		if err != nil {
			return nil, err
		}
	}

	answer, err := e.synth.Answer(ctx, question, hits)
	if err == nil {
		return answer, nil
	}
	var unavailable *compliance.SynthesisUnavailableError
	if !errors.As(err, &unavailable) {
		return nil, err
	}
	e.logger.Debug("answer synthesis unavailable, summarizing excerpts", "reason", unavailable.Reason)
	return summarizeAnswer(hits), nil
}

// citationExcerptLimit bounds how much policy text a citation carries.
const citationExcerptLimit = 500

func citationsFrom(hits []vecstore.ChunkHit) []compliance.PolicyCitation {
	citations := make([]compliance.PolicyCitation, 0, len(hits))
	for _, hit := range hits {
		citations = append(citations, compliance.PolicyCitation{
			DocID:     hit.Chunk.DocID,
			Version:   hit.Chunk.Version,
			Section:   hit.Chunk.Section,
			Relevance: hit.Score,
			Excerpt:   truncate(hit.Chunk.Text, citationExcerptLimit),
		})
	}
	return citations
}

func caseRefsFrom(hits []vecstore.CaseHit) []compliance.CaseRef {
	refs := make([]compliance.CaseRef, 0, len(hits))
	for _, hit := range hits {
		refs = append(refs, compliance.CaseRef{
			TraceID:    hit.Case.CaseID,
			Similarity: hit.Score,
			Verdict:    hit.Case.Verdict,
		})
	}
	return refs
}

// truncate cuts s at a byte limit without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut] + "..."
}
