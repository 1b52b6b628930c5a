package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"arbiter-hq/themis/pkg/cli"
	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/ingest"
	"arbiter-hq/themis/pkg/ledger/retention"
	"arbiter-hq/themis/pkg/queue"
)

var workerFlags struct {
	workers int
	drain   bool
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the re-evaluation worker",
	Long: `Run the durable re-evaluation worker.

The worker claims queued tasks and replays the underlying transactions
against the current policy corpus, superseding decisions whose evidence
changed. Alongside the consumers it runs the orphaned-lease reaper, the
ledger retention sweeper, the policy directory watcher, and the Prometheus
metrics endpoint, each when configured.

Examples:
  # Run until interrupted
  themis worker

  # Override the consumer count
  themis worker --workers 4

  # Process everything pending, then exit
  themis worker --drain`,
	RunE: runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)

	workerCmd.Flags().IntVar(&workerFlags.workers, "workers", 0, "override number of queue consumers")
	workerCmd.Flags().BoolVar(&workerFlags.drain, "drain", false, "process pending tasks and exit")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if workerFlags.workers > 0 {
		cfg.Queue.Workers = workerFlags.workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := newRuntime(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("worker", err)
	}
	defer rt.Close()

	worker := queue.NewWorker(rt.queue, rt.engine, cfg.Queue)
	worker.SetMetrics(rt.metrics)

	if workerFlags.drain {
		summary, err := worker.Drain(ctx)
		printWorkerSummary(summary)
		if err != nil {
			return cli.NewCommandError("worker", err)
		}
		return nil
	}

	printWorkerBanner(ctx, rt)

	worker.Start(ctx)

	reaper := queue.NewReaper(rt.queue, cfg.Queue.ReapSchedule)
	if err := reaper.Start(ctx); err != nil {
		worker.Stop()
		return cli.NewCommandError("worker", fmt.Errorf("start reaper: %w", err))
	}
	fmt.Printf("✓ Lease reaper scheduled (%s)\n", cfg.Queue.ReapSchedule)

	var sweeper *retention.Sweeper
	if cfg.Ledger.Retention.Days > 0 {
		sweeper = retention.NewSweeper(rt.store, cfg.Ledger.Retention)
		if err := sweeper.Start(ctx); err != nil {
			slog.Warn("retention sweeper not started", "error", err)
			sweeper = nil
		} else if next := sweeper.NextSweep(); next != nil {
			fmt.Printf("✓ Retention sweeper scheduled (next %s)\n", next.Format(time.RFC3339))
		}
	}

	var watcher *ingest.Watcher
	if cfg.Ingest.WatchDir != "" {
		watcher, err = ingest.NewWatcher(rt.ingestor, cfg.Ingest)
		if err != nil {
			slog.Warn("policy watcher not started", "error", err)
		} else {
			go func() {
				if err := watcher.Watch(ctx); err != nil && ctx.Err() == nil {
					slog.Error("policy watcher stopped", "error", err)
				}
			}()
			fmt.Printf("✓ Policy watcher active: %s\n", cfg.Ingest.WatchDir)
		}
	}

	errChan := make(chan error, 1)
	var metricsServer *http.Server
	if cfg.Telemetry.Metrics.Enabled && cfg.Telemetry.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle(cfg.Telemetry.Metrics.Path, rt.metrics.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintln(w, `{"status":"ok"}`)
		})
		metricsServer = &http.Server{
			Addr:              cfg.Telemetry.Metrics.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errChan <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		fmt.Printf("✓ Metrics endpoint: http://%s%s\n", cfg.Telemetry.Metrics.Address, cfg.Telemetry.Metrics.Path)
	}

	fmt.Println("\nPress Ctrl+C to stop")

	// Wait for shutdown signal or server error
	sigChan := cli.WaitForShutdown()

	var runErr error
	select {
	case runErr = <-errChan:
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal %s, shutting down gracefully...\n", sig)
	}
	cancel()

	worker.Stop()
	reaper.Stop()
	if sweeper != nil {
		sweeper.Stop()
	}
	if watcher != nil {
		watcher.Stop()
	}
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", "error", err)
		}
	}

	printWorkerSummary(worker.Summary())
	if runErr != nil {
		return cli.NewCommandError("worker", runErr)
	}
	fmt.Println("✓ Worker stopped")
	return nil
}

func printWorkerBanner(ctx context.Context, rt *runtime) {
	fmt.Printf("Themis worker v%s\n", Version)
	fmt.Printf("Loading configuration from: %s\n", cfgFile)
	fmt.Println("✓ Configuration loaded")
	fmt.Printf("✓ Ledger open (backend %s)\n", rt.cfg.Ledger.Backend)

	if counts, err := rt.queue.Counts(ctx); err == nil {
		fmt.Printf("✓ Queue open (%d pending, %d in progress)\n",
			counts[compliance.TaskPending], counts[compliance.TaskInProgress])
	}
	fmt.Printf("✓ Workers starting (%d consumers)\n", rt.cfg.Queue.Workers)
}

func printWorkerSummary(s queue.Summary) {
	fmt.Printf("Processed %d tasks: %d completed (%d verdict changes), %d skipped, %d failed\n",
		s.Processed, s.Completed, s.VerdictChanges, s.Skipped, s.Failed)
}
