package main

import (
	"context"
	"fmt"
	"os"

	"arbiter-hq/themis/pkg/chunker"
	"arbiter-hq/themis/pkg/cli"
	"arbiter-hq/themis/pkg/config"
	"arbiter-hq/themis/pkg/embedding"
	"arbiter-hq/themis/pkg/engine"
	"arbiter-hq/themis/pkg/index"
	"arbiter-hq/themis/pkg/ingest"
	"arbiter-hq/themis/pkg/ledger"
	"arbiter-hq/themis/pkg/ledger/storage"
	"arbiter-hq/themis/pkg/queue"
	"arbiter-hq/themis/pkg/reasoner"
	"arbiter-hq/themis/pkg/retrieval"
	"arbiter-hq/themis/pkg/risk"
	"arbiter-hq/themis/pkg/sentinel"
	"arbiter-hq/themis/pkg/telemetry/logging"
	"arbiter-hq/themis/pkg/telemetry/metrics"
	"arbiter-hq/themis/pkg/vecstore"
)

// loadConfig initializes configuration and logging for a command invocation.
// The --verbose flag forces debug-level logging over whatever the file says.
func loadConfig() (*config.Config, error) {
	if err := config.Initialize(cfgFile); err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	logger, err := logging.New(cfg.Telemetry.Logging, os.Stderr)
	if err != nil {
		return nil, cli.NewConfigError("telemetry.logging", err.Error())
	}
	logger.Install()

	return cfg, nil
}

// runtime bundles the wired evaluation stack shared by the evaluate, query,
// index, worker, and stats commands. Lighter commands (review, decisions,
// tasks) open just the ledger or the queue instead.
type runtime struct {
	cfg      *config.Config
	store    ledger.Storage
	vectors  vecstore.VectorStore
	queue    *queue.Queue
	indexer  *index.Manager
	ingestor *ingest.Ingestor
	sentinel *sentinel.Sentinel
	engine   *engine.Engine
	metrics  *metrics.Collector
}

// newRuntime opens the ledger, vector store, and queue, and wires the
// indexer, sentinel, and engine on top of them. On any error everything
// opened so far is closed before returning.
func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	rt := &runtime{cfg: cfg}
	rt.metrics = metrics.NewCollector(cfg.Telemetry.Metrics, nil)

	var err error
	if rt.store, err = storage.NewFromConfig(cfg.Ledger); err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if rt.vectors, err = vecstore.NewFromConfig(ctx, cfg.VectorStore); err != nil {
		rt.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	if rt.queue, err = queue.New(cfg.Queue); err != nil {
		rt.Close()
		return nil, fmt.Errorf("open queue: %w", err)
	}
	rt.queue.SetMetrics(rt.metrics)

	emb, err := embedding.NewFromConfig(cfg.Embedding)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("embedding service: %w", err)
	}
	rsn, err := reasoner.NewFromConfig(cfg.Reasoner)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("reasoning service: %w", err)
	}
	ch, err := chunker.New(cfg.Chunking)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("chunker: %w", err)
	}

	rt.indexer = index.NewManager(ch, emb, rt.vectors, rt.store)
	rt.indexer.SetMetrics(rt.metrics)

	// Activations flow indexer -> sentinel -> queue.
	rt.sentinel = sentinel.New(rt.store, rt.queue, cfg.Sentinel)
	rt.sentinel.SetMetrics(rt.metrics)
	rt.indexer.SetNotifier(rt.sentinel)

	rt.engine, err = engine.New(engine.Deps{
		Evidence: retrieval.NewRetriever(emb, rt.vectors, cfg.Retrieval),
		Reasoner: rsn,
		Scorer:   risk.NewScorer(cfg.Risk),
		Ledger:   rt.store,
		Cases:    rt.indexer,
		Vectors:  rt.vectors,
		Metrics:  rt.metrics,
	}, cfg.Engine)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("engine: %w", err)
	}

	rt.ingestor = ingest.NewIngestor(rt.indexer, rt.store)
	return rt, nil
}

// Close releases every backend the runtime opened. Safe to call on a
// partially constructed runtime.
func (rt *runtime) Close() {
	if rt.queue != nil {
		rt.queue.Close()
	}
	if rt.vectors != nil {
		rt.vectors.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
}
