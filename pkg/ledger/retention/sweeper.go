// Package retention enforces the ledger retention policy. Only superseded
// decisions are ever swept: a decision with no later replacement survives
// regardless of age, as does the entire case history.
package retention

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"arbiter-hq/themis/pkg/config"
	"arbiter-hq/themis/pkg/ledger"
)

// Sweeper removes superseded decisions past the retention period.
type Sweeper struct {
	store     ledger.Storage
	cfg       config.RetentionConfig
	logger    *slog.Logger
	scheduler *Scheduler
}

// NewSweeper creates a new retention sweeper.
func NewSweeper(store ledger.Storage, cfg config.RetentionConfig) *Sweeper {
	sweeper := &Sweeper{
		store:  store,
		cfg:    cfg,
		logger: slog.Default().With("component", "ledger.retention"),
	}
	sweeper.scheduler = NewScheduler(sweeper)
	return sweeper
}

// Sweep deletes superseded decisions older than the retention period and
// returns the number deleted. With retention disabled (Days <= 0) it does
// nothing.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	if s.cfg.Days <= 0 {
		s.logger.Debug("retention disabled, nothing to sweep")
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -s.cfg.Days)

	if s.cfg.ArchiveBeforeDelete {
		if err := s.archive(ctx, cutoff); err != nil {
			return 0, fmt.Errorf("archive before delete failed: %w", err)
		}
	}

	deleted, err := s.store.DeleteSupersededBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep failed: %w", err)
	}

	if deleted > 0 {
		s.logger.Info("swept superseded decisions",
			"deleted_count", deleted,
			"retention_days", s.cfg.Days,
		)
	} else {
		s.logger.Debug("no superseded decisions past retention",
			"retention_days", s.cfg.Days,
		)
	}

	return deleted, nil
}

// archive writes the decisions about to be swept to a JSON archive file.
func (s *Sweeper) archive(ctx context.Context, cutoff time.Time) error {
	decisions, err := s.store.ListSupersededBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list decisions for archiving: %w", err)
	}

	if len(decisions) == 0 {
		s.logger.Debug("no decisions to archive")
		return nil
	}

	if err := os.MkdirAll(s.cfg.ArchivePath, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	archiveFile := filepath.Join(s.cfg.ArchivePath,
		fmt.Sprintf("decisions-%s.json", time.Now().Format("2006-01-02-150405")))
	f, err := os.Create(archiveFile)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(decisions); err != nil {
		return fmt.Errorf("failed to write archive: %w", err)
	}

	s.logger.Info("archived superseded decisions",
		"archive_file", archiveFile,
		"decision_count", len(decisions),
	)

	return nil
}

// Start starts the automatic sweep scheduler.
// Call this when starting the application.
func (s *Sweeper) Start(ctx context.Context) error {
	return s.scheduler.Start(ctx)
}

// Stop stops the automatic sweep scheduler.
// Call this during graceful shutdown.
func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}

// NextSweep returns the time of the next scheduled sweep.
func (s *Sweeper) NextSweep() *time.Time {
	return s.scheduler.NextRun()
}
