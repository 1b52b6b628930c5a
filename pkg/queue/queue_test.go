package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"arbiter-hq/themis/pkg/compliance"
	"arbiter-hq/themis/pkg/config"
)

func newTestQueue(t *testing.T, mutate func(*config.QueueConfig)) *Queue {
	t.Helper()

	cfg := config.QueueConfig{
		Path:          filepath.Join(t.TempDir(), "queue.db"),
		LeaseDuration: time.Minute,
		MaxAttempts:   3,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	q, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q
}

func testReason() compliance.ChangeRef {
	return compliance.ChangeRef{
		DocID:       "aml-ctr",
		FromVersion: 1,
		ToVersion:   2,
		Magnitude:   compliance.MagnitudeMajor,
	}
}

func TestEnqueueAndGet(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	task, created, err := q.Enqueue(ctx, "trace-1", "txn-1", testReason())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !created {
		t.Fatal("expected a new task to be created")
	}
	if task.State != compliance.TaskPending {
		t.Errorf("state = %s, want %s", task.State, compliance.TaskPending)
	}
	if task.Attempts != 0 {
		t.Errorf("attempts = %d, want 0", task.Attempts)
	}
	if !task.LeaseUntil.IsZero() {
		t.Errorf("pending task should hold no lease, got %v", task.LeaseUntil)
	}

	got, err := q.Get(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.TraceID != "trace-1" || got.TransactionID != "txn-1" {
		t.Errorf("identity = (%s, %s), want (trace-1, txn-1)", got.TraceID, got.TransactionID)
	}
	if got.Reason != testReason() {
		t.Errorf("reason = %+v, want %+v", got.Reason, testReason())
	}
}

func TestEnqueueRejectsEmptyIdentity(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	if _, _, err := q.Enqueue(ctx, "", "txn-1", testReason()); err == nil {
		t.Error("expected error for empty trace_id")
	}
	if _, _, err := q.Enqueue(ctx, "trace-1", "", testReason()); err == nil {
		t.Error("expected error for empty transaction_id")
	}
}

func TestEnqueueDedupesLiveTasks(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	first, created, err := q.Enqueue(ctx, "trace-1", "txn-1", testReason())
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}

	// Same trace again while the first task is still live.
	dup, created, err := q.Enqueue(ctx, "trace-1", "txn-1", testReason())
	if err != nil {
		t.Fatalf("duplicate enqueue failed: %v", err)
	}
	if created {
		t.Error("duplicate enqueue should not create a second task")
	}
	if dup.TaskID != first.TaskID {
		t.Errorf("duplicate returned task %s, want existing %s", dup.TaskID, first.TaskID)
	}

	counts, err := q.Counts(ctx)
	if err != nil {
		t.Fatalf("counts failed: %v", err)
	}
	if counts[compliance.TaskPending] != 1 {
		t.Errorf("pending count = %d, want 1", counts[compliance.TaskPending])
	}

	// A claimed task is still live, so it still blocks duplicates.
	if _, err := q.Claim(ctx); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, created, _ := q.Enqueue(ctx, "trace-1", "txn-1", testReason()); created {
		t.Error("in-progress task should still block duplicates")
	}

	// Once the task is DONE, the trace can be queued again.
	if err := q.Complete(ctx, first.TaskID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	again, created, err := q.Enqueue(ctx, "trace-1", "txn-1", testReason())
	if err != nil || !created {
		t.Fatalf("re-enqueue after completion: created=%v err=%v", created, err)
	}
	if again.TaskID == first.TaskID {
		t.Error("re-enqueue should create a fresh task")
	}
}

func TestClaimOldestFirst(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	older, _, err := q.Enqueue(ctx, "trace-1", "txn-1", testReason())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	newer, _, err := q.Enqueue(ctx, "trace-2", "txn-2", testReason())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	first, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if first.TaskID != older.TaskID {
		t.Errorf("first claim = %s, want oldest %s", first.TaskID, older.TaskID)
	}

	second, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if second.TaskID != newer.TaskID {
		t.Errorf("second claim = %s, want %s", second.TaskID, newer.TaskID)
	}

	empty, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim on empty queue failed: %v", err)
	}
	if empty != nil {
		t.Errorf("claim on empty queue = %+v, want nil", empty)
	}
}

func TestClaimSetsLeaseAndAttempts(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	if _, _, err := q.Enqueue(ctx, "trace-1", "txn-1", testReason()); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	before := time.Now().UTC()
	task, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if task.State != compliance.TaskInProgress {
		t.Errorf("state = %s, want %s", task.State, compliance.TaskInProgress)
	}
	if task.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", task.Attempts)
	}
	if !task.LeaseUntil.After(before) {
		t.Errorf("lease %v should be in the future", task.LeaseUntil)
	}

	// The claim is durable, not just in the returned struct.
	got, err := q.Get(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.State != compliance.TaskInProgress || got.LeaseUntil.IsZero() {
		t.Errorf("stored task = state %s lease %v, want in-progress with lease", got.State, got.LeaseUntil)
	}
}

func TestCompleteRequiresInProgress(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	task, _, err := q.Enqueue(ctx, "trace-1", "txn-1", testReason())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Still PENDING: nothing to complete.
	if err := q.Complete(ctx, task.TaskID); !compliance.IsNotFound(err) {
		t.Errorf("complete on pending task: err = %v, want not found", err)
	}
	if err := q.Complete(ctx, "no-such-task"); !compliance.IsNotFound(err) {
		t.Errorf("complete on unknown task: err = %v, want not found", err)
	}

	if _, err := q.Claim(ctx); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := q.Complete(ctx, task.TaskID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	got, err := q.Get(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.State != compliance.TaskDone {
		t.Errorf("state = %s, want %s", got.State, compliance.TaskDone)
	}
	if !got.LeaseUntil.IsZero() {
		t.Errorf("done task should hold no lease, got %v", got.LeaseUntil)
	}
}

func TestFailRequeuesThenFailsPermanently(t *testing.T) {
	q := newTestQueue(t, func(cfg *config.QueueConfig) {
		cfg.MaxAttempts = 2
	})
	ctx := context.Background()

	task, _, err := q.Enqueue(ctx, "trace-1", "txn-1", testReason())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// First attempt fails: back to PENDING with the error recorded.
	if _, err := q.Claim(ctx); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	state, err := q.Fail(ctx, task.TaskID, "vector store down")
	if err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if state != compliance.TaskPending {
		t.Errorf("state after first failure = %s, want %s", state, compliance.TaskPending)
	}

	got, _ := q.Get(ctx, task.TaskID)
	if got.Attempts != 1 || got.LastError != "vector store down" {
		t.Errorf("after first failure: attempts=%d last_error=%q", got.Attempts, got.LastError)
	}
	if !got.LeaseUntil.IsZero() {
		t.Errorf("requeued task should hold no lease, got %v", got.LeaseUntil)
	}

	// Second attempt exhausts MaxAttempts: FAILED, error kept visible.
	if _, err := q.Claim(ctx); err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	state, err = q.Fail(ctx, task.TaskID, "vector store still down")
	if err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if state != compliance.TaskFailed {
		t.Errorf("state after final failure = %s, want %s", state, compliance.TaskFailed)
	}

	got, _ = q.Get(ctx, task.TaskID)
	if got.State != compliance.TaskFailed || got.LastError != "vector store still down" {
		t.Errorf("failed task = state %s last_error %q", got.State, got.LastError)
	}

	// FAILED tasks are never claimed again, but stay listed.
	if claimed, _ := q.Claim(ctx); claimed != nil {
		t.Errorf("failed task was claimed: %+v", claimed)
	}
	failed, err := q.List(ctx, compliance.TaskFailed, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 {
		t.Errorf("failed list has %d tasks, want 1", len(failed))
	}
}

func TestFailPermanentSkipsRemainingAttempts(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	task, _, err := q.Enqueue(ctx, "trace-1", "txn-1", testReason())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := q.Claim(ctx); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if err := q.FailPermanent(ctx, task.TaskID, "requires manual confirmation"); err != nil {
		t.Fatalf("fail permanent failed: %v", err)
	}

	got, _ := q.Get(ctx, task.TaskID)
	if got.State != compliance.TaskFailed {
		t.Errorf("state = %s, want %s despite remaining attempts", got.State, compliance.TaskFailed)
	}
	if got.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got.Attempts)
	}
}

func TestReapReturnsExpiredLeases(t *testing.T) {
	q := newTestQueue(t, func(cfg *config.QueueConfig) {
		cfg.LeaseDuration = 20 * time.Millisecond
	})
	ctx := context.Background()

	for _, trace := range []string{"trace-1", "trace-2"} {
		if _, _, err := q.Enqueue(ctx, trace, "txn-"+trace, testReason()); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
		if _, err := q.Claim(ctx); err != nil {
			t.Fatalf("claim failed: %v", err)
		}
	}

	time.Sleep(60 * time.Millisecond)

	reclaimed, err := q.Reap(ctx)
	if err != nil {
		t.Fatalf("reap failed: %v", err)
	}
	if reclaimed != 2 {
		t.Errorf("reclaimed = %d, want 2", reclaimed)
	}

	counts, _ := q.Counts(ctx)
	if counts[compliance.TaskPending] != 2 {
		t.Errorf("pending after reap = %d, want 2", counts[compliance.TaskPending])
	}

	// Attempts survive the reap, so a task that keeps losing its worker
	// still converges on FAILED.
	task, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if task.Attempts != 2 {
		t.Errorf("attempts after reap and reclaim = %d, want 2", task.Attempts)
	}

	if again, _ := q.Reap(ctx); again != 0 {
		t.Errorf("second reap reclaimed %d tasks, want 0", again)
	}
}

func TestReapLeavesFreshLeases(t *testing.T) {
	q := newTestQueue(t, func(cfg *config.QueueConfig) {
		cfg.LeaseDuration = time.Hour
	})
	ctx := context.Background()

	task, _, err := q.Enqueue(ctx, "trace-1", "txn-1", testReason())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := q.Claim(ctx); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	reclaimed, err := q.Reap(ctx)
	if err != nil {
		t.Fatalf("reap failed: %v", err)
	}
	if reclaimed != 0 {
		t.Errorf("reclaimed = %d, want 0 while lease is fresh", reclaimed)
	}

	got, _ := q.Get(ctx, task.TaskID)
	if got.State != compliance.TaskInProgress {
		t.Errorf("state = %s, want %s", got.State, compliance.TaskInProgress)
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	cfg := config.QueueConfig{Path: path, LeaseDuration: time.Minute, MaxAttempts: 3}
	ctx := context.Background()

	q, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to open queue: %v", err)
	}
	task, _, err := q.Enqueue(ctx, "trace-1", "txn-1", testReason())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if _, err := q.Claim(ctx); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := q.Fail(ctx, task.TaskID, "transient"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to reopen queue: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, task.TaskID)
	if err != nil {
		t.Fatalf("get after reopen failed: %v", err)
	}
	if got.State != compliance.TaskPending || got.Attempts != 1 || got.LastError != "transient" {
		t.Errorf("reopened task = state %s attempts %d last_error %q", got.State, got.Attempts, got.LastError)
	}
	if got.Reason != testReason() {
		t.Errorf("reason after reopen = %+v, want %+v", got.Reason, testReason())
	}
}

func TestCountsAndListByState(t *testing.T) {
	q := newTestQueue(t, nil)
	ctx := context.Background()

	done, _, err := q.Enqueue(ctx, "trace-done", "txn-1", testReason())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	running, _, err := q.Enqueue(ctx, "trace-running", "txn-2", testReason())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	pending, _, err := q.Enqueue(ctx, "trace-pending", "txn-3", testReason())
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Claims come oldest first: finish the first, leave the second in
	// flight, never touch the third.
	if _, err := q.Claim(ctx); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := q.Complete(ctx, done.TaskID); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if _, err := q.Claim(ctx); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	counts, err := q.Counts(ctx)
	if err != nil {
		t.Fatalf("counts failed: %v", err)
	}
	want := map[compliance.TaskState]int64{
		compliance.TaskPending:    1,
		compliance.TaskInProgress: 1,
		compliance.TaskDone:       1,
	}
	for state, n := range want {
		if counts[state] != n {
			t.Errorf("counts[%s] = %d, want %d", state, counts[state], n)
		}
	}

	all, err := q.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("list returned %d tasks, want 3", len(all))
	}
	// Newest first.
	if all[0].TaskID != pending.TaskID || all[1].TaskID != running.TaskID || all[2].TaskID != done.TaskID {
		t.Errorf("list order = [%s %s %s], want newest first", all[0].TraceID, all[1].TraceID, all[2].TraceID)
	}

	doneOnly, err := q.List(ctx, compliance.TaskDone, 10)
	if err != nil {
		t.Fatalf("list by state failed: %v", err)
	}
	if len(doneOnly) != 1 || doneOnly[0].TaskID != done.TaskID {
		t.Errorf("done list has %d tasks, want just the completed one", len(doneOnly))
	}
}
