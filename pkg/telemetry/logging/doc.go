// Package logging builds the process-wide structured logger.
//
// The logger wraps log/slog: components keep logging through
// slog.Default().With("component", ...) and never import this package. What
// logging adds is construction from configuration (level, format, source
// annotation) and a redacting handler that masks transaction party names and
// account-like values before they reach the output stream. Trace, document
// and task identifiers pass through untouched, since they are what operators
// grep for.
//
// Typical wiring at process startup:
//
//	logger, err := logging.New(cfg.Telemetry.Logging, os.Stderr)
//	if err != nil {
//		return err
//	}
//	logger.Install()
package logging
