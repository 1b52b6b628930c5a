// Package sentinel watches policy document activations. Each activation is
// diffed against the previously active version, the change is classified and
// recorded, and for MODERATE or MAJOR changes the decisions that cited a
// changed section are queued for re-evaluation.
//
// The sentinel never touches decisions directly: it only records change
// history and enqueues tasks. Whether a replay may supersede a decision is
// decided at replay time.
package sentinel

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"

	"arbiter-hq/themis/pkg/chunker"
	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
	"arbiter-hq/themis/pkg/ledger"
	"arbiter-hq/themis/pkg/telemetry/metrics"
)

// TaskQueue is the slice of the re-evaluation queue the sentinel uses.
type TaskQueue interface {
	Enqueue(ctx context.Context, traceID, transactionID string, reason compliance.ChangeRef) (*compliance.ReEvaluationTask, bool, error)
}

// Result summarizes one processed activation.
type Result struct {
	Record   *compliance.PolicyChangeRecord
	Impacted int // decisions citing a changed section of the old version
	Enqueued int // tasks actually created
	Skipped  int // impacted decisions not queued (superseded or already queued)
}

// Sentinel classifies policy changes and queues impacted decisions.
type Sentinel struct {
	store   ledger.Storage
	tasks   TaskQueue
	cfg     config.SentinelConfig
	logger  *slog.Logger
	metrics *metrics.Collector
}

// New creates a sentinel over the ledger and task queue.
func New(store ledger.Storage, tasks TaskQueue, cfg config.SentinelConfig) *Sentinel {
	if cfg.MinorThreshold <= 0 {
		cfg.MinorThreshold = 0.95
	}
	if cfg.ModerateThreshold <= 0 {
		cfg.ModerateThreshold = 0.80
	}
	return &Sentinel{
		store:  store,
		tasks:  tasks,
		cfg:    cfg,
		logger: slog.Default().With("component", "sentinel"),
	}
}

// SetMetrics registers the metrics collector. Call during wiring; a nil
// collector leaves metrics off.
func (s *Sentinel) SetMetrics(c *metrics.Collector) {
	s.metrics = c
}

// DocumentActivated implements the index notifier contract. Errors are
// logged, not returned: a failed sweep must never roll back the activation
// that triggered it.
func (s *Sentinel) DocumentActivated(ctx context.Context, docID string, fromVersion, toVersion int) {
	if _, err := s.ProcessActivation(ctx, docID, fromVersion, toVersion); err != nil {
		s.logger.Error("policy change processing failed",
			"doc_id", docID,
			"from_version", fromVersion,
			"to_version", toVersion,
			"error", err)
	}
}

// ProcessActivation diffs fromVersion against toVersion, records the change,
// and queues re-evaluation of impacted decisions.
//
// A first activation (fromVersion 0) has nothing to diff and records
// nothing. When either version cannot be loaded, the change is recorded with
// magnitude UNKNOWN, nothing is enqueued, and a SentinelDiffError is
// returned. MINOR changes are recorded without queueing, as is every change
// while the sentinel is disabled.
func (s *Sentinel) ProcessActivation(ctx context.Context, docID string, fromVersion, toVersion int) (*Result, error) {
	if docID == "" {
		return nil, compliance.NewInputError("doc_id", "must not be empty")
	}
	if fromVersion <= 0 {
		s.logger.Debug("first activation, nothing to diff",
			"doc_id", docID, "version", toVersion)
		return &Result{}, nil
	}

	from, err := s.store.GetDocument(ctx, docID, fromVersion)
	if err == nil {
		var to *compliance.PolicyDocument
		if to, err = s.store.GetDocument(ctx, docID, toVersion); err == nil {
			return s.classify(ctx, from, to)
		}
	}

	// The versions exist in the ledger under normal operation, so a load
	// failure means the diff basis is gone. Record that honestly instead of
	// guessing a magnitude.
	diffErr := compliance.NewSentinelDiffError(docID, fromVersion, toVersion, err)
	rec := &compliance.PolicyChangeRecord{
		DocID:           docID,
		FromVersion:     fromVersion,
		ToVersion:       toVersion,
		Magnitude:       compliance.MagnitudeUnknown,
		ChangedSections: []string{},
		CreatedAt:       time.Now().UTC(),
	}
	if saveErr := s.store.SaveChangeRecord(ctx, rec); saveErr != nil {
		s.logger.Error("failed to record unknown change", "doc_id", docID, "error", saveErr)
	}
	// Similarity -1 marks it unmeasured; the counter still counts the
	// activation under UNKNOWN.
	s.metrics.RecordActivation(string(compliance.MagnitudeUnknown), -1)
	return &Result{Record: rec}, diffErr
}

func (s *Sentinel) classify(ctx context.Context, from, to *compliance.PolicyDocument) (*Result, error) {
	sim := similarity(from.RawText, to.RawText)
	changed := changedSections(from.RawText, to.RawText)

	var magnitude compliance.Magnitude
	switch {
	case sim >= s.cfg.MinorThreshold:
		magnitude = compliance.MagnitudeMinor
	case sim >= s.cfg.ModerateThreshold:
		magnitude = compliance.MagnitudeModerate
	default:
		magnitude = compliance.MagnitudeMajor
	}

	rec := &compliance.PolicyChangeRecord{
		DocID:           from.DocID,
		FromVersion:     from.Version,
		ToVersion:       to.Version,
		Magnitude:       magnitude,
		ChangedSections: changed,
		Similarity:      sim,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.store.SaveChangeRecord(ctx, rec); err != nil {
		return nil, err
	}
	s.metrics.RecordActivation(string(magnitude), sim)

	res := &Result{Record: rec}

	switch {
	case magnitude == compliance.MagnitudeMinor:
		s.logger.Info("minor policy change recorded",
			"doc_id", from.DocID,
			"from_version", from.Version,
			"to_version", to.Version,
			"similarity", sim)
		return res, nil
	case !s.cfg.Enabled:
		s.logger.Info("sentinel disabled, change recorded only",
			"doc_id", from.DocID,
			"from_version", from.Version,
			"to_version", to.Version,
			"magnitude", magnitude)
		return res, nil
	}

	if err := s.queueImpacted(ctx, rec, res); err != nil {
		return res, err
	}
	s.metrics.RecordReEvalsEnqueued(res.Enqueued)

	s.logger.Info("policy change processed",
		"doc_id", from.DocID,
		"from_version", from.Version,
		"to_version", to.Version,
		"magnitude", magnitude,
		"similarity", sim,
		"changed_sections", len(changed),
		"impacted", res.Impacted,
		"enqueued", res.Enqueued)
	return res, nil
}

// queueImpacted finds decisions citing a changed section of the old version
// and enqueues one task per still-standing decision. Per-decision failures
// are logged and skipped so one bad row cannot stall a policy rollout.
func (s *Sentinel) queueImpacted(ctx context.Context, rec *compliance.PolicyChangeRecord, res *Result) error {
	citing, err := s.store.DecisionsCiting(ctx, rec.DocID, rec.FromVersion)
	if err != nil {
		return err
	}

	changed := make(map[string]bool, len(rec.ChangedSections))
	for _, sec := range rec.ChangedSections {
		changed[sec] = true
	}

	reason := compliance.ChangeRef{
		DocID:       rec.DocID,
		FromVersion: rec.FromVersion,
		ToVersion:   rec.ToVersion,
		Magnitude:   rec.Magnitude,
	}

	for _, d := range citing {
		if !citesChangedSection(d, rec.DocID, rec.FromVersion, changed) {
			continue
		}
		res.Impacted++

		// Only the decision that currently stands for the transaction is
		// worth replaying; superseded ones stay untouched.
		latest, err := s.store.LatestDecisionForTransaction(ctx, d.Transaction.TransactionID)
		if err != nil {
			s.logger.Warn("skipping decision, latest lookup failed",
				"trace_id", d.TraceID, "error", err)
			res.Skipped++
			continue
		}
		if latest.TraceID != d.TraceID {
			res.Skipped++
			continue
		}

		_, created, err := s.tasks.Enqueue(ctx, d.TraceID, d.Transaction.TransactionID, reason)
		if err != nil {
			s.logger.Warn("failed to enqueue re-evaluation",
				"trace_id", d.TraceID, "error", err)
			res.Skipped++
			continue
		}
		if created {
			res.Enqueued++
		} else {
			res.Skipped++
		}
	}
	return nil
}

// citesChangedSection reports whether the decision cites the given document
// version in a section that changed.
func citesChangedSection(d *compliance.Decision, docID string, version int, changed map[string]bool) bool {
	for _, c := range d.PolicyCitations {
		if c.DocID == docID && c.Version == version && changed[c.Section] {
			return true
		}
	}
	return false
}

// similarity is the token overlap over union of two texts, case-folded.
// Two empty texts are identical.
func similarity(a, b string) float64 {
	ta := tokenSet(a)
	tb := tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 1.0
	}

	overlap := 0
	for tok := range ta {
		if tb[tok] {
			overlap++
		}
	}
	union := len(ta) + len(tb) - overlap
	return float64(overlap) / float64(union)
}

func tokenSet(text string) map[string]bool {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		set[tok] = true
	}
	return set
}

// changedSections returns the section identifiers present in either version
// whose text differs between the two, sorted. Identifiers use the same
// heading detection as chunking, so they line up with citation sections.
func changedSections(from, to string) []string {
	fromSecs := sectionTexts(from)
	toSecs := sectionTexts(to)

	changed := make(map[string]bool)
	for title, text := range fromSecs {
		if toSecs[title] != text {
			changed[title] = true
		}
	}
	for title, text := range toSecs {
		if fromSecs[title] != text {
			changed[title] = true
		}
	}

	out := make([]string, 0, len(changed))
	for title := range changed {
		out = append(out, title)
	}
	sort.Strings(out)
	return out
}

// sectionTexts maps section title to body text. Repeated titles concatenate,
// so a heading appearing twice still compares as one unit.
func sectionTexts(text string) map[string]string {
	sections := chunker.Sections(text)
	out := make(map[string]string, len(sections))
	for _, sec := range sections {
		if prev, ok := out[sec.Title]; ok {
			out[sec.Title] = prev + "\n" + sec.Text
			continue
		}
		out[sec.Title] = sec.Text
	}
	return out
}
