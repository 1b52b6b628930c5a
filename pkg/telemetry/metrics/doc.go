// Package metrics provides Prometheus metrics for the decision pipeline.
//
// Metrics are grouped by subsystem under one namespace (default "themis"):
//
//   - engine: decisions by verdict and synthesis path, evaluation latency,
//     risk score distribution, degraded evaluations, verdict reconciliations
//   - retrieval: retrieval rounds by status, latency, hit counts
//   - index: documents and cases indexed, chunk counts, indexing latency
//   - queue: tasks enqueued and finished, verdict changes, queue wait time,
//     expired leases reclaimed
//   - sentinel: activations by change magnitude, similarity distribution,
//     re-evaluations enqueued
//
// The Collector owns the registry and is handed to components during
// wiring. Every record method is safe on a nil *Collector, so components
// carry an optional collector without nil checks at call sites:
//
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//	engine, err := engine.New(engine.Deps{..., Metrics: collector}, cfg.Engine)
//	http.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
package metrics
