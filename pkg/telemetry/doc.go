// Package telemetry groups the observability subsystems.
//
// Subpackages:
//
//   - logging: structured logging on log/slog with party redaction
//   - metrics: Prometheus metrics for the decision pipeline
//
// Both are configured through the telemetry section of the configuration
// tree and are optional: components run unchanged with logging at defaults
// and metrics disabled.
package telemetry
