package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Reaper periodically returns tasks with expired leases to PENDING so a
// crashed worker's claim does not strand them.
type Reaper struct {
	queue    *Queue
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	logger   *slog.Logger
	running  bool
}

// NewReaper creates a reaper for the given queue. The schedule uses cron
// syntax; "@every 1m" is a sensible default for a lease of a few minutes.
func NewReaper(q *Queue, schedule string) *Reaper {
	return &Reaper{
		queue:    q,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "queue.reaper"),
	}
}

// Start begins scheduled reaping. If the schedule is empty, the reaper does
// nothing; expired leases then stay orphaned until the process restarts.
func (r *Reaper) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.schedule == "" {
		r.logger.Info("reap schedule not configured, skipping reaper")
		return nil
	}

	// Validate cron expression
	if _, err := cron.ParseStandard(r.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", r.schedule, err)
	}

	if _, err := r.cron.AddFunc(r.schedule, func() {
		r.runReap(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule reap: %w", err)
	}

	r.cron.Start()
	r.running = true

	r.logger.Info("queue reaper started",
		"schedule", r.schedule,
		"lease_duration", r.queue.cfg.LeaseDuration,
	)

	// Wait for context cancellation in background
	go func() {
		<-ctx.Done()
		r.Stop()
	}()

	return nil
}

// runReap executes one reap cycle.
func (r *Reaper) runReap(ctx context.Context) {
	reclaimed, err := r.queue.Reap(ctx)
	if err != nil {
		r.logger.Error("scheduled reap failed",
			"error", err,
		)
		return
	}

	if reclaimed > 0 {
		r.logger.Info("scheduled reap completed",
			"reclaimed_count", reclaimed,
		)
	} else {
		r.logger.Debug("scheduled reap completed, no expired leases")
	}
}

// Stop stops the reaper and waits for any running reap to complete.
func (r *Reaper) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil && r.running {
		ctx := r.cron.Stop()
		<-ctx.Done() // Wait for running jobs to finish
		r.running = false
		r.logger.Info("queue reaper stopped")
	}
}

// IsRunning returns true if the reaper is running.
func (r *Reaper) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.running
}

// NextReap returns the next scheduled reap time.
func (r *Reaper) NextReap() *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron == nil {
		return nil
	}

	entries := r.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}
