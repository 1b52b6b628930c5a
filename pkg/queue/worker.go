package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
	"arbiter-hq/themis/pkg/telemetry/metrics"
)

// Terminal outcomes a Replayer can report. The worker maps these to task
// states instead of retrying.
var (
	// ErrAlreadySuperseded means a newer decision already exists for the
	// task's transaction, so the replay would be redundant.
	ErrAlreadySuperseded = errors.New("decision already superseded")

	// ErrOverrideProtected means the decision carries a human override and
	// must not be superseded without explicit confirmation.
	ErrOverrideProtected = errors.New("decision protected by human override")
)

// Replayer re-runs the evaluation behind one task. Implemented by the
// decision engine; the worker stays ignorant of evaluation mechanics.
type Replayer interface {
	Replay(ctx context.Context, task *compliance.ReEvaluationTask) (*ReplayResult, error)
}

// ReplayResult reports one successful replay.
type ReplayResult struct {
	Decision        *compliance.Decision
	PreviousVerdict compliance.Verdict
}

// VerdictChanged reports whether the replay reached a different verdict than
// the decision it supersedes.
func (r *ReplayResult) VerdictChanged() bool {
	return r.Decision != nil && r.Decision.Verdict != r.PreviousVerdict
}

// Summary is a snapshot of what a worker has processed so far.
type Summary struct {
	Processed      int64 // claims handled, including retried attempts
	Completed      int64 // replays that produced a superseding decision
	VerdictChanges int64 // completed replays whose verdict changed
	Skipped        int64 // tasks closed because a newer decision existed
	Failed         int64 // tasks that ended FAILED
}

// Worker consumes re-evaluation tasks with a pool of goroutines. Each claim
// gets exactly one replay; transient failures are retried through the
// queue's attempt accounting rather than in-process, so every retry is
// visible in the task row.
type Worker struct {
	queue    *Queue
	replayer Replayer
	cfg      config.QueueConfig
	logger   *slog.Logger
	metrics  *metrics.Collector

	wg     sync.WaitGroup
	cancel context.CancelFunc

	processed      atomic.Int64
	completed      atomic.Int64
	verdictChanges atomic.Int64
	skipped        atomic.Int64
	failed         atomic.Int64
}

// NewWorker creates a worker pool over the queue.
func NewWorker(q *Queue, replayer Replayer, cfg config.QueueConfig) *Worker {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Worker{
		queue:    q,
		replayer: replayer,
		cfg:      cfg,
		logger:   slog.Default().With("component", "queue.worker"),
	}
}

// SetMetrics registers the metrics collector. Call during wiring, before
// Start.
func (w *Worker) SetMetrics(c *metrics.Collector) {
	w.metrics = c
}

// Start launches the consumer goroutines. They run until ctx is cancelled
// or Stop is called.
func (w *Worker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.run(runCtx, i)
	}

	w.logger.Info("queue workers started",
		"workers", w.cfg.Workers,
		"poll_interval", w.cfg.PollInterval)
}

// Stop cancels the consumers and waits for in-flight replays to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("queue workers stopped")
}

// Drain processes tasks until the queue has no PENDING work, then returns
// the summary. Used for batch runs and tests; Start is the long-running
// equivalent.
func (w *Worker) Drain(ctx context.Context) (Summary, error) {
	for {
		task, err := w.queue.Claim(ctx)
		if err != nil {
			return w.Summary(), err
		}
		if task == nil {
			return w.Summary(), nil
		}
		w.process(ctx, task)
	}
}

// Summary returns the counters accumulated so far.
func (w *Worker) Summary() Summary {
	return Summary{
		Processed:      w.processed.Load(),
		Completed:      w.completed.Load(),
		VerdictChanges: w.verdictChanges.Load(),
		Skipped:        w.skipped.Load(),
		Failed:         w.failed.Load(),
	}
}

func (w *Worker) run(ctx context.Context, id int) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := w.queue.Claim(ctx)
		if err != nil {
			w.logger.Error("claim failed", "worker", id, "error", err)
		}
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.cfg.PollInterval):
			}
			continue
		}

		w.process(ctx, task)
	}
}

func (w *Worker) process(ctx context.Context, task *compliance.ReEvaluationTask) {
	w.processed.Add(1)

	res, err := w.replayer.Replay(ctx, task)
	switch {
	case err == nil:
		if cerr := w.queue.Complete(ctx, task.TaskID); cerr != nil {
			w.logger.Error("failed to mark task done", "task_id", task.TaskID, "error", cerr)
			return
		}
		w.completed.Add(1)
		w.metrics.RecordTaskOutcome("completed")
		if res.VerdictChanged() {
			w.verdictChanges.Add(1)
			w.metrics.RecordVerdictChange()
		}
		w.logger.Info("re-evaluation complete",
			"task_id", task.TaskID,
			"trace_id", task.TraceID,
			"new_trace_id", res.Decision.TraceID,
			"verdict", res.Decision.Verdict,
			"verdict_changed", res.VerdictChanged(),
			"reason", task.Reason.String())

	case errors.Is(err, ErrAlreadySuperseded):
		// Nothing to write; the queue entry is finished.
		if cerr := w.queue.Complete(ctx, task.TaskID); cerr != nil {
			w.logger.Error("failed to mark task done", "task_id", task.TaskID, "error", cerr)
			return
		}
		w.skipped.Add(1)
		w.metrics.RecordTaskOutcome("skipped")
		w.logger.Info("re-evaluation skipped",
			"task_id", task.TaskID,
			"trace_id", task.TraceID,
			"reason", "already superseded")

	case errors.Is(err, ErrOverrideProtected):
		if ferr := w.queue.FailPermanent(ctx, task.TaskID, err.Error()); ferr != nil {
			w.logger.Error("failed to mark task failed", "task_id", task.TaskID, "error", ferr)
			return
		}
		w.failed.Add(1)
		w.metrics.RecordTaskOutcome("failed")
		w.logger.Warn("re-evaluation requires manual confirmation",
			"task_id", task.TaskID,
			"trace_id", task.TraceID,
			"reason", "human override")

	default:
		state, ferr := w.queue.Fail(ctx, task.TaskID, err.Error())
		if ferr != nil {
			w.logger.Error("failed to record task failure", "task_id", task.TaskID, "error", ferr)
			return
		}
		if state == compliance.TaskFailed {
			w.failed.Add(1)
			w.metrics.RecordTaskOutcome("failed")
			w.logger.Error("re-evaluation failed permanently",
				"task_id", task.TaskID,
				"trace_id", task.TraceID,
				"attempts", task.Attempts,
				"error", err)
		} else {
			w.metrics.RecordTaskOutcome("retried")
			w.logger.Warn("re-evaluation attempt failed",
				"task_id", task.TaskID,
				"trace_id", task.TraceID,
				"attempt", task.Attempts,
				"error", err)
		}
	}
}
