package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"arbiter-hq/themis/pkg/config"
)

// IndexMetrics tracks document and case indexing.
//
// Metrics:
//   - themis_index_documents_total: indexed document versions by topic and source
//   - themis_index_chunks_total: chunks written across all documents
//   - themis_index_cases_total: cases projected into the vector store
//   - themis_index_duration_seconds: per-document indexing latency
type IndexMetrics struct {
	documentsTotal *prometheus.CounterVec
	chunksTotal    prometheus.Counter
	casesTotal     prometheus.Counter
	duration       prometheus.Histogram
}

// NewIndexMetrics creates and registers the index metric group.
func NewIndexMetrics(cfg config.MetricsConfig, registry *prometheus.Registry) *IndexMetrics {
	im := &IndexMetrics{
		documentsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemIndex,
				Name:      "documents_total",
				Help:      "Document versions indexed, by topic and source",
			},
			[]string{"topic", "source"},
		),

		chunksTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemIndex,
				Name:      "chunks_total",
				Help:      "Chunks written across all indexed documents",
			},
		),

		casesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemIndex,
				Name:      "cases_total",
				Help:      "Decision cases projected into the vector store",
			},
		),

		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: SubsystemIndex,
				Name:      "duration_seconds",
				Help:      "Per-document indexing latency in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
		),
	}

	registry.MustRegister(
		im.documentsTotal,
		im.chunksTotal,
		im.casesTotal,
		im.duration,
	)

	return im
}

// RecordDocument records one document indexing pass.
func (im *IndexMetrics) RecordDocument(topic, source string, chunks int, duration time.Duration) {
	im.documentsTotal.WithLabelValues(topic, source).Inc()
	im.chunksTotal.Add(float64(chunks))
	im.duration.Observe(duration.Seconds())
}

// RecordCase records one case projection.
func (im *IndexMetrics) RecordCase() {
	im.casesTotal.Inc()
}
