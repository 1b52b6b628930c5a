package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"arbiter-hq/themis/pkg/config"
)

// SentinelMetrics tracks policy change processing.
//
// Metrics:
//   - themis_sentinel_activations_total: classified activations by magnitude
//   - themis_sentinel_similarity: similarity between compared versions
//   - themis_sentinel_reevaluations_enqueued_total: decisions queued after
//     a policy change
type SentinelMetrics struct {
	activationsTotal *prometheus.CounterVec
	similarity       prometheus.Histogram
	enqueuedTotal    prometheus.Counter
}

// NewSentinelMetrics creates and registers the sentinel metric group.
func NewSentinelMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *SentinelMetrics {
	sm := &SentinelMetrics{
		activationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemSentinel,
				Name:      "activations_total",
				Help:      "Policy activations classified, by change magnitude",
			},
			[]string{"magnitude"},
		),

		similarity: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemSentinel,
				Name:      "similarity",
				Help:      "Text similarity between the compared policy versions",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 9),
			},
		),

		enqueuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemSentinel,
				Name:      "reevaluations_enqueued_total",
				Help:      "Decisions queued for re-evaluation after policy changes",
			},
		),
	}

	registry.MustRegister(
		sm.activationsTotal,
		sm.similarity,
		sm.enqueuedTotal,
	)

	return sm
}

// RecordActivation records one classified activation. A negative similarity
// means the diff could not be measured and is counted but not observed.
func (sm *SentinelMetrics) RecordActivation(magnitude string, similarity float64) {
	sm.activationsTotal.WithLabelValues(magnitude).Inc()
	if similarity >= 0 {
		sm.similarity.Observe(similarity)
	}
}

// RecordEnqueued records decisions queued in one sweep.
func (sm *SentinelMetrics) RecordEnqueued(count int) {
	if count > 0 {
		sm.enqueuedTotal.Add(float64(count))
	}
}
