// Package queue is the durable re-evaluation task queue. Tasks live in
// SQLite and are consumed under a lease: a claim moves one PENDING task to
// IN_PROGRESS atomically, and the reaper returns tasks whose lease expired
// (a crashed or stalled worker) to PENDING. A task that exhausts its
// attempts becomes FAILED with the last error recorded; FAILED tasks stay
// visible for manual inspection and are never silently dropped.
//
// At most one live (PENDING or IN_PROGRESS) task exists per trace_id;
// enqueueing a duplicate returns the existing task instead of a new one.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
	"arbiter-hq/themis/pkg/telemetry/metrics"
)

const taskColumns = "task_id, trace_id, transaction_id, reason_doc_id, reason_from, reason_to, reason_magnitude, state, attempts, last_error, lease_until, created_at, updated_at"

// Queue is the SQLite-backed task store. All timestamps are stored as Unix
// nanoseconds, so ordering and lease comparisons are plain integer
// comparisons; a lease_until of 0 means no lease is held.
type Queue struct {
	db        *sql.DB
	cfg       config.QueueConfig
	logger    *slog.Logger
	metrics   *metrics.Collector
	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once

	insertStmt   *sql.Stmt
	claimStmt    *sql.Stmt
	completeStmt *sql.Stmt
	reapStmt     *sql.Stmt
}

// New opens (or creates) the queue database at the configured path.
func New(cfg config.QueueConfig) (*Queue, error) {
	if cfg.Path == "" {
		return nil, compliance.NewInputError("queue.path", "must not be empty")
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, compliance.NewStorageError("queue", "mkdir", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, compliance.NewStorageError("queue", "open", err)
	}

	// SQLite supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	q := &Queue{
		db:     db,
		cfg:    cfg,
		logger: slog.Default().With("component", "queue"),
		done:   make(chan struct{}),
	}

	if err := q.initSchema(); err != nil {
		db.Close()
		return nil, compliance.NewStorageError("queue", "init schema", err)
	}
	if err := q.prepareStatements(); err != nil {
		db.Close()
		return nil, compliance.NewStorageError("queue", "prepare statements", err)
	}

	go q.checkpointLoop(cfg.CheckpointInterval)

	q.logger.Info("queue opened", "path", cfg.Path, "max_attempts", cfg.MaxAttempts)
	return q, nil
}

// SetMetrics registers the metrics collector. Call during wiring; a nil
// collector leaves metrics off.
func (q *Queue) SetMetrics(c *metrics.Collector) {
	q.metrics = c
}

func (q *Queue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		task_id          TEXT PRIMARY KEY,
		trace_id         TEXT NOT NULL,
		transaction_id   TEXT NOT NULL,
		reason_doc_id    TEXT NOT NULL,
		reason_from      INTEGER NOT NULL,
		reason_to        INTEGER NOT NULL,
		reason_magnitude TEXT NOT NULL,
		state            TEXT NOT NULL,
		attempts         INTEGER NOT NULL DEFAULT 0,
		last_error       TEXT NOT NULL DEFAULT '',
		lease_until      INTEGER NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_state_created ON tasks(state, created_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_trace ON tasks(trace_id);
	`
	_, err := q.db.Exec(schema)
	return err
}

func (q *Queue) prepareStatements() error {
	var err error

	q.insertStmt, err = q.db.Prepare(`
		INSERT INTO tasks (` + taskColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare task insert: %w", err)
	}

	q.claimStmt, err = q.db.Prepare(`
		UPDATE tasks SET state = ?, attempts = attempts + 1, lease_until = ?, updated_at = ?
		WHERE task_id = ? AND state = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare claim: %w", err)
	}

	q.completeStmt, err = q.db.Prepare(`
		UPDATE tasks SET state = ?, lease_until = 0, updated_at = ?
		WHERE task_id = ? AND state = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare complete: %w", err)
	}

	q.reapStmt, err = q.db.Prepare(`
		UPDATE tasks SET state = ?, lease_until = 0, updated_at = ?
		WHERE state = ? AND lease_until > 0 AND lease_until < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare reap: %w", err)
	}

	return nil
}

// Enqueue creates a PENDING task for a decision replay. If a live task for
// the same trace_id already exists, that task is returned with created set
// to false and nothing is written.
func (q *Queue) Enqueue(ctx context.Context, traceID, transactionID string, reason compliance.ChangeRef) (*compliance.ReEvaluationTask, bool, error) {
	if traceID == "" {
		return nil, false, compliance.NewInputError("trace_id", "must not be empty")
	}
	if transactionID == "" {
		return nil, false, compliance.NewInputError("transaction_id", "must not be empty")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, compliance.NewStorageError("queue", "begin", err)
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT task_id FROM tasks WHERE trace_id = ? AND state IN (?, ?) LIMIT 1`,
		traceID, string(compliance.TaskPending), string(compliance.TaskInProgress)).Scan(&existingID)
	switch {
	case err == nil:
		existing, gerr := scanTask(tx.QueryRowContext(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, existingID))
		if gerr != nil {
			return nil, false, compliance.NewStorageError("queue", "load existing task", gerr)
		}
		if cerr := tx.Commit(); cerr != nil {
			return nil, false, compliance.NewStorageError("queue", "commit", cerr)
		}
		return existing, false, nil
	case err != sql.ErrNoRows:
		return nil, false, compliance.NewStorageError("queue", "check live task", err)
	}

	now := time.Now().UTC()
	task := &compliance.ReEvaluationTask{
		TaskID:        uuid.NewString(),
		TraceID:       traceID,
		TransactionID: transactionID,
		Reason:        reason,
		State:         compliance.TaskPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if _, err := tx.Stmt(q.insertStmt).ExecContext(ctx,
		task.TaskID, task.TraceID, task.TransactionID,
		reason.DocID, reason.FromVersion, reason.ToVersion, string(reason.Magnitude),
		string(task.State), task.Attempts, task.LastError,
		0, now.UnixNano(), now.UnixNano()); err != nil {
		return nil, false, compliance.NewStorageError("queue", "insert task", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, compliance.NewStorageError("queue", "commit", err)
	}

	q.metrics.RecordTaskEnqueued(reason.DocID)
	q.logger.Debug("task enqueued",
		"task_id", task.TaskID,
		"trace_id", traceID,
		"reason", reason.String())
	return task, true, nil
}

// Claim atomically moves the oldest PENDING task to IN_PROGRESS under a
// fresh lease and returns it. Returns (nil, nil) when nothing is pending.
func (q *Queue) Claim(ctx context.Context) (*compliance.ReEvaluationTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, compliance.NewStorageError("queue", "begin", err)
	}
	defer tx.Rollback()

	var taskID string
	err = tx.QueryRowContext(ctx,
		`SELECT task_id FROM tasks WHERE state = ? ORDER BY created_at ASC, task_id ASC LIMIT 1`,
		string(compliance.TaskPending)).Scan(&taskID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, compliance.NewStorageError("queue", "select pending", err)
	}

	now := time.Now().UTC()
	res, err := tx.Stmt(q.claimStmt).ExecContext(ctx,
		string(compliance.TaskInProgress),
		now.Add(q.cfg.LeaseDuration).UnixNano(), now.UnixNano(),
		taskID, string(compliance.TaskPending))
	if err != nil {
		return nil, compliance.NewStorageError("queue", "claim", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	task, err := scanTask(tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID))
	if err != nil {
		return nil, compliance.NewStorageError("queue", "load claimed task", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, compliance.NewStorageError("queue", "commit", err)
	}

	q.metrics.RecordTaskWait(now.Sub(task.CreatedAt))
	q.logger.Debug("task claimed",
		"task_id", task.TaskID,
		"trace_id", task.TraceID,
		"attempt", task.Attempts)
	return task, nil
}

// Complete marks an IN_PROGRESS task DONE.
func (q *Queue) Complete(ctx context.Context, taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.completeStmt.ExecContext(ctx,
		string(compliance.TaskDone), time.Now().UTC().UnixNano(),
		taskID, string(compliance.TaskInProgress))
	if err != nil {
		return compliance.NewStorageError("queue", "complete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return compliance.NewNotFoundError("task", taskID)
	}
	return nil
}

// Fail records a failed attempt on an IN_PROGRESS task. The task returns to
// PENDING while attempts remain, and becomes FAILED once the configured
// maximum is reached. The resulting state is returned either way.
func (q *Queue) Fail(ctx context.Context, taskID, cause string) (compliance.TaskState, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", compliance.NewStorageError("queue", "begin", err)
	}
	defer tx.Rollback()

	var attempts int
	err = tx.QueryRowContext(ctx,
		`SELECT attempts FROM tasks WHERE task_id = ? AND state = ?`,
		taskID, string(compliance.TaskInProgress)).Scan(&attempts)
	if err == sql.ErrNoRows {
		return "", compliance.NewNotFoundError("task", taskID)
	}
	if err != nil {
		return "", compliance.NewStorageError("queue", "load attempts", err)
	}

	next := compliance.TaskPending
	if attempts >= q.cfg.MaxAttempts {
		next = compliance.TaskFailed
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE tasks SET state = ?, last_error = ?, lease_until = 0, updated_at = ? WHERE task_id = ?`,
		string(next), cause, time.Now().UTC().UnixNano(), taskID); err != nil {
		return "", compliance.NewStorageError("queue", "fail", err)
	}
	if err := tx.Commit(); err != nil {
		return "", compliance.NewStorageError("queue", "commit", err)
	}
	return next, nil
}

// FailPermanent marks an IN_PROGRESS task FAILED regardless of remaining
// attempts. Used for tasks that must not be retried automatically, such as
// replays blocked by a human override.
func (q *Queue) FailPermanent(ctx context.Context, taskID, cause string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx,
		`UPDATE tasks SET state = ?, last_error = ?, lease_until = 0, updated_at = ? WHERE task_id = ? AND state = ?`,
		string(compliance.TaskFailed), cause, time.Now().UTC().UnixNano(),
		taskID, string(compliance.TaskInProgress))
	if err != nil {
		return compliance.NewStorageError("queue", "fail permanent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return compliance.NewNotFoundError("task", taskID)
	}
	return nil
}

// Reap returns every IN_PROGRESS task whose lease has expired to PENDING and
// reports how many were reclaimed. Attempts are preserved, so a task that
// keeps losing its worker still converges on FAILED.
func (q *Queue) Reap(ctx context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.reapStmt.ExecContext(ctx,
		string(compliance.TaskPending), time.Now().UTC().UnixNano(),
		string(compliance.TaskInProgress), time.Now().UTC().UnixNano())
	if err != nil {
		return 0, compliance.NewStorageError("queue", "reap", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.metrics.RecordLeasesReaped(int(n))
		q.logger.Warn("reclaimed orphaned tasks", "count", n)
	}
	return n, nil
}

// Get retrieves a task by ID.
func (q *Queue) Get(ctx context.Context, taskID string) (*compliance.ReEvaluationTask, error) {
	task, err := scanTask(q.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID))
	if err == sql.ErrNoRows {
		return nil, compliance.NewNotFoundError("task", taskID)
	}
	if err != nil {
		return nil, compliance.NewStorageError("queue", "get task", err)
	}
	return task, nil
}

// List returns tasks newest first, optionally filtered by state. A limit of
// 0 or less defaults to 100.
func (q *Queue) List(ctx context.Context, state compliance.TaskState, limit int) ([]*compliance.ReEvaluationTask, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + taskColumns + ` FROM tasks`
	args := []interface{}{}
	if state != "" {
		query += ` WHERE state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY created_at DESC, task_id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, compliance.NewStorageError("queue", "list tasks", err)
	}
	defer rows.Close()

	var tasks []*compliance.ReEvaluationTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, compliance.NewStorageError("queue", "scan task", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, compliance.NewStorageError("queue", "list tasks", err)
	}
	return tasks, nil
}

// Counts reports how many tasks are in each state.
func (q *Queue) Counts(ctx context.Context) (map[compliance.TaskState]int64, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT state, COUNT(*) FROM tasks GROUP BY state`)
	if err != nil {
		return nil, compliance.NewStorageError("queue", "count tasks", err)
	}
	defer rows.Close()

	counts := make(map[compliance.TaskState]int64)
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, compliance.NewStorageError("queue", "scan count", err)
		}
		counts[compliance.TaskState(state)] = n
	}
	return counts, rows.Err()
}

// Close stops the checkpoint loop, runs a final truncating checkpoint, and
// closes the database. Safe to call more than once.
func (q *Queue) Close() error {
	var closeErr error
	q.closeOnce.Do(func() {
		close(q.done)

		for _, stmt := range []*sql.Stmt{q.insertStmt, q.claimStmt, q.completeStmt, q.reapStmt} {
			if stmt != nil {
				stmt.Close()
			}
		}
		if q.db != nil {
			_, _ = q.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = q.db.Close()
		}
	})
	return closeErr
}

func (q *Queue) checkpointLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = q.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
		case <-q.done:
			return
		}
	}
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row scanner) (*compliance.ReEvaluationTask, error) {
	var (
		task       compliance.ReEvaluationTask
		state      string
		magnitude  string
		leaseUntil int64
		createdAt  int64
		updatedAt  int64
	)
	err := row.Scan(&task.TaskID, &task.TraceID, &task.TransactionID,
		&task.Reason.DocID, &task.Reason.FromVersion, &task.Reason.ToVersion, &magnitude,
		&state, &task.Attempts, &task.LastError, &leaseUntil, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	task.Reason.Magnitude = compliance.Magnitude(magnitude)
	task.State = compliance.TaskState(state)
	if leaseUntil != 0 {
		task.LeaseUntil = time.Unix(0, leaseUntil).UTC()
	}
	task.CreatedAt = time.Unix(0, createdAt).UTC()
	task.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &task, nil
}
