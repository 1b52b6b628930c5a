package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
)

// Watcher ingests policy files as they appear or change in a directory.
// File events are debounced per path because editors write a file several
// times in quick succession. A Watcher runs once; after Stop it cannot be
// reused.
type Watcher struct {
	ingestor *Ingestor
	cfg      config.IngestConfig
	fsw      *fsnotify.Watcher
	logger   *slog.Logger

	mu      sync.Mutex
	timers  map[string]*time.Timer
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewWatcher creates a Watcher over the configured directory.
func NewWatcher(ingestor *Ingestor, cfg config.IngestConfig) (*Watcher, error) {
	if cfg.WatchDir == "" {
		return nil, compliance.NewInputError("ingest.watch_dir", "must not be empty")
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 500 * time.Millisecond
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		ingestor: ingestor,
		cfg:      cfg,
		fsw:      fsw,
		logger:   slog.Default().With("component", "ingest.watcher"),
		timers:   make(map[string]*time.Timer),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Watch blocks processing file events until the context is cancelled or
// Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		close(w.done)
	}()

	if err := w.fsw.Add(w.cfg.WatchDir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.WatchDir, err)
	}
	w.logger.Info("watching policy directory",
		"dir", w.cfg.WatchDir,
		"debounce", w.cfg.DebounceDelay)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped", "reason", "context cancelled")
			return nil
		case <-w.stop:
			w.logger.Info("watcher stopped")
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watcher event channel closed")
			}
			if !wantsEvent(event) {
				continue
			}
			w.logger.Debug("policy file event", "path", event.Name, "op", event.Op.String())
			w.schedule(ctx, event.Name)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watcher error channel closed")
			}
			// Keep watching; a transient error must not end ingestion.
			w.logger.Error("watch error", "error", err)
		}
	}
}

// Stop ends the watch loop, cancels pending debounce timers and closes the
// underlying watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	for _, t := range w.timers {
		t.Stop()
	}
	w.mu.Unlock()

	close(w.stop)
	w.fsw.Close()
	<-w.done
}

// wantsEvent filters to content changes of policy files. Chmod-only events
// and hidden or non-YAML files never trigger ingestion.
func wantsEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return false
	}
	return isPolicyFile(filepath.Base(event.Name))
}

// schedule arms (or re-arms) the debounce timer for one path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.cfg.DebounceDelay, func() {
		w.ingest(ctx, path)
	})
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	select {
	case <-w.stop:
		return
	default:
	}

	result, indexed, err := w.ingestor.IngestFile(ctx, path)
	switch {
	case err != nil:
		w.logger.Error("policy ingest failed", "path", path, "error", err)
	case !indexed:
		w.logger.Debug("policy unchanged, skipped", "path", path)
	default:
		w.logger.Info("policy ingested",
			"path", path,
			"doc_id", result.DocID,
			"version", result.Version,
			"chunks", result.Chunks)
	}
}
