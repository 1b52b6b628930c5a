package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"arbiter-hq/themis/pkg/config"
)

// Subsystem names partition the namespace by pipeline area.
const (
	SubsystemEngine    = "engine"
	SubsystemRetrieval = "retrieval"
	SubsystemIndex     = "index"
	SubsystemQueue     = "queue"
	SubsystemSentinel  = "sentinel"
)

// Collector owns the Prometheus registry and the per-subsystem metric
// groups. All record methods are safe on a nil Collector, so components
// treat metrics as optional wiring and skip nil checks at call sites.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	evaluation *EvaluationMetrics
	retrieval  *RetrievalMetrics
	index      *IndexMetrics
	queue      *QueueMetrics
	sentinel   *SentinelMetrics
}

// NewCollector creates a collector and registers every metric group with
// the registry. A nil registry gets a fresh one. With cfg.Enabled false the
// groups are still registered, so a scrape serves zeroed series, but the
// record methods do nothing.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "themis"
	}

	return &Collector{
		enabled:    cfg.Enabled,
		registry:   registry,
		evaluation: NewEvaluationMetrics(cfg, registry),
		retrieval:  NewRetrievalMetrics(cfg, registry),
		index:      NewIndexMetrics(cfg, registry),
		queue:      NewQueueMetrics(cfg, registry),
		sentinel:   NewSentinelMetrics(cfg, registry),
	}
}

// active reports whether records should be taken.
func (c *Collector) active() bool {
	return c != nil && c.enabled
}

// RecordDecision records one completed evaluation.
func (c *Collector) RecordDecision(verdict, path string, degraded, reconciled bool, riskScore float64, duration time.Duration) {
	if !c.active() {
		return
	}
	c.evaluation.RecordDecision(verdict, path, degraded, reconciled, riskScore, duration)
}

// RecordRetrieval records one retrieval round. Status is "success" when the
// vector search served the evidence and "fallback" when the reference sets
// stood in.
func (c *Collector) RecordRetrieval(status string, policyHits, caseHits int, duration time.Duration) {
	if !c.active() {
		return
	}
	c.retrieval.RecordRound(status, policyHits, caseHits, duration)
}

// RecordDocumentIndexed records one document indexing pass.
func (c *Collector) RecordDocumentIndexed(topic, source string, chunks int, duration time.Duration) {
	if !c.active() {
		return
	}
	c.index.RecordDocument(topic, source, chunks, duration)
}

// RecordCaseIndexed records one case projected into the vector store.
func (c *Collector) RecordCaseIndexed() {
	if !c.active() {
		return
	}
	c.index.RecordCase()
}

// RecordTaskEnqueued records a re-evaluation task entering the queue,
// labelled by the document whose change triggered it.
func (c *Collector) RecordTaskEnqueued(docID string) {
	if !c.active() {
		return
	}
	c.queue.RecordEnqueued(docID)
}

// RecordTaskOutcome records how a claimed task ended. Outcome is one of
// "completed", "skipped", "retried", "failed".
func (c *Collector) RecordTaskOutcome(outcome string) {
	if !c.active() {
		return
	}
	c.queue.RecordOutcome(outcome)
}

// RecordVerdictChange records a replay whose verdict differed from the
// decision it superseded.
func (c *Collector) RecordVerdictChange() {
	if !c.active() {
		return
	}
	c.queue.RecordVerdictChange()
}

// RecordTaskWait records how long a task sat in the queue before a worker
// claimed it.
func (c *Collector) RecordTaskWait(wait time.Duration) {
	if !c.active() {
		return
	}
	c.queue.RecordWait(wait)
}

// RecordLeasesReaped records expired leases returned to the queue.
func (c *Collector) RecordLeasesReaped(count int) {
	if !c.active() {
		return
	}
	c.queue.RecordReaped(count)
}

// RecordActivation records one classified policy activation.
func (c *Collector) RecordActivation(magnitude string, similarity float64) {
	if !c.active() {
		return
	}
	c.sentinel.RecordActivation(magnitude, similarity)
}

// RecordReEvalsEnqueued records decisions queued by the sentinel after a
// policy change.
func (c *Collector) RecordReEvalsEnqueued(count int) {
	if !c.active() {
		return
	}
	c.sentinel.RecordEnqueued(count)
}

// Registry returns the Prometheus registry backing this collector. Useful
// for registering process-level collectors next to the pipeline groups.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}
