package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"arbiter-hq/themis/pkg/config"
)

// RetrievalMetrics tracks evidence retrieval.
//
// Metrics:
//   - themis_retrieval_rounds_total: rounds by status (success, fallback)
//   - themis_retrieval_duration_seconds: retrieval latency
//   - themis_retrieval_policy_hits: policy chunks returned per round
//   - themis_retrieval_case_hits: similar cases returned per round
type RetrievalMetrics struct {
	roundsTotal *prometheus.CounterVec
	duration    prometheus.Histogram
	policyHits  prometheus.Histogram
	caseHits    prometheus.Histogram
}

// NewRetrievalMetrics creates and registers the retrieval metric group.
func NewRetrievalMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *RetrievalMetrics {
	rm := &RetrievalMetrics{
		roundsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemRetrieval,
				Name:      "rounds_total",
				Help:      "Retrieval rounds by status",
			},
			[]string{"status"},
		),

		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemRetrieval,
				Name:      "duration_seconds",
				Help:      "Evidence retrieval latency in seconds",
				Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),

		policyHits: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemRetrieval,
				Name:      "policy_hits",
				Help:      "Policy chunks returned per retrieval round",
				Buckets:   prometheus.LinearBuckets(0, 1, 11),
			},
		),

		caseHits: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemRetrieval,
				Name:      "case_hits",
				Help:      "Similar cases returned per retrieval round",
				Buckets:   prometheus.LinearBuckets(0, 1, 11),
			},
		),
	}

	registry.MustRegister(
		rm.roundsTotal,
		rm.duration,
		rm.policyHits,
		rm.caseHits,
	)

	return rm
}

// RecordRound records one retrieval round.
func (rm *RetrievalMetrics) RecordRound(status string, policyHits, caseHits int, duration time.Duration) {
	rm.roundsTotal.WithLabelValues(status).Inc()
	rm.duration.Observe(duration.Seconds())
	rm.policyHits.Observe(float64(policyHits))
	rm.caseHits.Observe(float64(caseHits))
}
