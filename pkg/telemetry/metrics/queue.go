package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"arbiter-hq/themis/pkg/config"
)

// QueueMetrics tracks the re-evaluation queue.
//
// Metrics:
//   - themis_queue_tasks_enqueued_total: tasks entering the queue, by the
//     policy document whose change triggered them
//   - themis_queue_tasks_finished_total: claimed tasks by outcome
//   - themis_queue_verdict_changes_total: replays whose verdict changed
//   - themis_queue_task_wait_seconds: time from enqueue to claim
//   - themis_queue_leases_reaped_total: expired leases returned to PENDING
type QueueMetrics struct {
	enqueuedTotal       *prometheus.CounterVec
	finishedTotal       *prometheus.CounterVec
	verdictChangesTotal prometheus.Counter
	taskWait            prometheus.Histogram
	leasesReapedTotal   prometheus.Counter
}

// NewQueueMetrics creates and registers the queue metric group.
func NewQueueMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *QueueMetrics {
	qm := &QueueMetrics{
		enqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemQueue,
				Name:      "tasks_enqueued_total",
				Help:      "Re-evaluation tasks enqueued, by triggering document",
			},
			[]string{"doc_id"},
		),

		finishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemQueue,
				Name:      "tasks_finished_total",
				Help:      "Claimed tasks by outcome",
			},
			[]string{"outcome"},
		),

		verdictChangesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemQueue,
				Name:      "verdict_changes_total",
				Help:      "Replays that reached a different verdict than the superseded decision",
			},
		),

		taskWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemQueue,
				Name:      "task_wait_seconds",
				Help:      "Time from enqueue to claim in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600},
			},
		),

		leasesReapedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemQueue,
				Name:      "leases_reaped_total",
				Help:      "Expired leases returned to PENDING by the reaper",
			},
		),
	}

	registry.MustRegister(
		qm.enqueuedTotal,
		qm.finishedTotal,
		qm.verdictChangesTotal,
		qm.taskWait,
		qm.leasesReapedTotal,
	)

	return qm
}

// RecordEnqueued records a task entering the queue. docID keeps the label
// cardinality bounded by the policy corpus, unlike the full change reason.
func (qm *QueueMetrics) RecordEnqueued(docID string) {
	qm.enqueuedTotal.WithLabelValues(docID).Inc()
}

// RecordOutcome records how a claimed task ended.
func (qm *QueueMetrics) RecordOutcome(outcome string) {
	qm.finishedTotal.WithLabelValues(outcome).Inc()
}

// RecordVerdictChange records a replay whose verdict changed.
func (qm *QueueMetrics) RecordVerdictChange() {
	qm.verdictChangesTotal.Inc()
}

// RecordWait records queue wait time for one claimed task.
func (qm *QueueMetrics) RecordWait(wait time.Duration) {
	if wait > 0 {
		qm.taskWait.Observe(wait.Seconds())
	}
}

// RecordReaped records expired leases reclaimed in one sweep.
func (qm *QueueMetrics) RecordReaped(count int) {
	if count > 0 {
		qm.leasesReapedTotal.Add(float64(count))
	}
}
