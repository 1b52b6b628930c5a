/*
Package cli provides shared helpers for the themis command: output
formatters, progress reporting, signal handling, and command error types.

Output Formatting:

Command results render as text, JSON, or CSV. Result types that want CSV
output implement TableMarshaler; text and JSON work for any value:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, result); err != nil {
		return err
	}

Progress Reporting:

Batch evaluation and directory ingestion report progress for long runs:

	progress := cli.NewProgressReporter(os.Stderr)
	progress.Start(int64(len(items)))
	for i, item := range items {
		// Do work
		progress.Update(int64(i + 1))
	}
	progress.Finish()

Signal Handling:

Long-running commands shut down cleanly on SIGINT/SIGTERM:

	sigChan := cli.WaitForShutdown()
	<-sigChan
*/
package cli
