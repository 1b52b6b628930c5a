package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"arbiter-hq/themis/pkg/config"
)

// EvaluationMetrics tracks the decision pipeline.
//
// Metrics:
//   - themis_engine_decisions_total: decisions by verdict and synthesis path
//   - themis_engine_evaluation_duration_seconds: end-to-end evaluation latency
//   - themis_engine_risk_score: distribution of deterministic risk scores
//   - themis_engine_degraded_total: evaluations that ran on fallback evidence
//     or fallback synthesis
//   - themis_engine_reconciliations_total: verdicts escalated to review
//     because they contradicted the deterministic tier
type EvaluationMetrics struct {
	decisionsTotal       *prometheus.CounterVec
	evaluationDuration   *prometheus.HistogramVec
	riskScore            prometheus.Histogram
	degradedTotal        prometheus.Counter
	reconciliationsTotal prometheus.Counter
}

// NewEvaluationMetrics creates and registers the engine metric group.
func NewEvaluationMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *EvaluationMetrics {
	em := &EvaluationMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemEngine,
				Name:      "decisions_total",
				Help:      "Total decisions by verdict and synthesis path",
			},
			[]string{"verdict", "path"},
		),

		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemEngine,
				Name:      "evaluation_duration_seconds",
				Help:      "End-to-end evaluation latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"path"},
		),

		riskScore: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemEngine,
				Name:      "risk_score",
				Help:      "Distribution of deterministic risk scores",
				Buckets:   prometheus.LinearBuckets(0.1, 0.1, 9),
			},
		),

		degradedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemEngine,
				Name:      "degraded_total",
				Help:      "Evaluations that completed in degraded mode",
			},
		),

		reconciliationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemEngine,
				Name:      "reconciliations_total",
				Help:      "Verdicts escalated to review after contradicting the deterministic risk tier",
			},
		),
	}

	registry.MustRegister(
		em.decisionsTotal,
		em.evaluationDuration,
		em.riskScore,
		em.degradedTotal,
		em.reconciliationsTotal,
	)

	return em
}

// RecordDecision records one completed evaluation.
func (em *EvaluationMetrics) RecordDecision(verdict, path string, degraded, reconciled bool, riskScore float64, duration time.Duration) {
	em.decisionsTotal.WithLabelValues(verdict, path).Inc()
	em.evaluationDuration.WithLabelValues(path).Observe(duration.Seconds())
	em.riskScore.Observe(riskScore)
	if degraded {
		em.degradedTotal.Inc()
	}
	if reconciled {
		em.reconciliationsTotal.Inc()
	}
}
