package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hoistq/hoist/backoff"
	"github.com/hoistq/hoist/ext"
	"github.com/hoistq/hoist/job"
	"github.com/hoistq/hoist/queue"
	"github.com/hoistq/hoist/store/memory"
	"github.com/hoistq/hoist/worker"
)

func setupTestPool(t *testing.T, opts ...worker.PoolOption) (*worker.Pool, *memory.Store, *job.Registry) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	executor := worker.NewExecutor(
		reg, extensions, s,
		backoff.NewConstant(10*time.Millisecond), logger,
	)

	base := []worker.PoolOption{
		worker.WithConcurrency(1),
		worker.WithPollInterval(10 * time.Millisecond),
		worker.WithScheduledInterval(10 * time.Millisecond),
	}
	pool := worker.NewPool(s, executor, extensions, logger, append(base, opts...)...)
	return pool, s, reg
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestPoolStartStop(t *testing.T) {
	t.Parallel()
	pool, _, _ := setupTestPool(t)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Double start is a no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("double Start: %v", err)
	}

	stopPool(t, pool)
	stopPool(t, pool) // double stop is a no-op

	for i, st := range pool.WorkerStates() {
		if st != worker.StateStopped {
			t.Errorf("worker %d state = %v, want %v", i, st, worker.StateStopped)
		}
	}
}

func TestPoolProcessesJob(t *testing.T) {
	t.Parallel()
	pool, s, reg := setupTestPool(t)
	ctx := context.Background()

	var processed atomic.Bool
	if err := reg.Register("test-job", func(_ context.Context, args []byte) ([]byte, error) {
		if string(args) != `{"test":true}` {
			t.Errorf("args = %s, want {\"test\":true}", args)
		}
		processed.Store(true)
		return []byte(`"done"`), nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	j := newJob(t)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, processed.Load, "timed out waiting for job")
	stopPool(t, pool)

	got, err := s.FindJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("FindJob: %v", err)
	}
	if got.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want %q", got.Status, job.StatusCompleted)
	}
	if string(got.Result) != `"done"` {
		t.Errorf("Result = %q, want %q", got.Result, `"done"`)
	}
}

func TestPoolRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	pool, s, reg := setupTestPool(t)
	ctx := context.Background()

	var calls atomic.Int32
	if err := reg.Register("test-job", func(_ context.Context, _ []byte) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return nil, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	j := newJob(t)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool { return calls.Load() >= 2 }, "timed out waiting for retry")
	waitFor(t, func() bool {
		got, err := s.FindJob(ctx, j.ID)
		return err == nil && got.Status == job.StatusCompleted
	}, "timed out waiting for completion")
	stopPool(t, pool)

	got, err := s.FindJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("FindJob: %v", err)
	}
	if got.Attempt != 2 {
		t.Errorf("Attempt = %d, want 2", got.Attempt)
	}
	if got.LastError != "" {
		t.Errorf("LastError = %q, want empty after success", got.LastError)
	}
}

func TestPoolDeadLettersAfterRetryBudget(t *testing.T) {
	t.Parallel()
	pool, s, reg := setupTestPool(t)
	ctx := context.Background()

	var calls atomic.Int32
	if err := reg.Register("test-job", func(_ context.Context, _ []byte) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("always fails")
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	j := newJob(t, job.WithMaxRetries(2))
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, func() bool {
		got, err := s.FindJob(ctx, j.ID)
		return err == nil && got.Status == job.StatusDead
	}, "timed out waiting for dead letter")
	stopPool(t, pool)

	// MaxRetries=2 allows three executions total.
	if got := calls.Load(); got != 3 {
		t.Errorf("handler calls = %d, want 3", got)
	}
}

func TestPoolPromotesScheduledJobs(t *testing.T) {
	t.Parallel()
	pool, s, reg := setupTestPool(t)
	ctx := context.Background()

	var processed atomic.Bool
	if err := reg.Register("test-job", func(_ context.Context, _ []byte) ([]byte, error) {
		processed.Store(true)
		return nil, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	j := newJob(t)
	if err := s.Schedule(ctx, j, time.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, processed.Load, "timed out waiting for scheduled job")
	stopPool(t, pool)
}

func TestPoolRespectsPausedQueue(t *testing.T) {
	t.Parallel()
	mgr := queue.NewManager(queue.Config{Name: "default"})
	mgr.Pause("default")

	pool, s, reg := setupTestPool(t, worker.WithManager(mgr))
	ctx := context.Background()

	var processed atomic.Bool
	if err := reg.Register("test-job", func(_ context.Context, _ []byte) ([]byte, error) {
		processed.Store(true)
		return nil, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	j := newJob(t)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Paused: the claim is reverted and the job stays pending.
	time.Sleep(100 * time.Millisecond)
	if processed.Load() {
		t.Fatal("job executed on a paused queue")
	}
	got, err := s.FindJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("FindJob: %v", err)
	}
	if got.Status != job.StatusPending {
		t.Fatalf("Status = %q, want %q", got.Status, job.StatusPending)
	}
	if got.Attempt != 0 {
		t.Errorf("Attempt = %d, want 0 after claim revert", got.Attempt)
	}

	mgr.Resume("default")
	waitFor(t, processed.Load, "timed out waiting for resumed queue")
	stopPool(t, pool)
}

func TestPoolHeartbeatsRunningJobs(t *testing.T) {
	t.Parallel()
	pool, s, reg := setupTestPool(t, worker.WithHeartbeatInterval(10*time.Millisecond))
	ctx := context.Background()

	release := make(chan struct{})
	var started atomic.Bool
	if err := reg.Register("test-job", func(_ context.Context, _ []byte) ([]byte, error) {
		started.Store(true)
		<-release
		return nil, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	j := newJob(t)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, started.Load, "timed out waiting for job start")

	waitFor(t, func() bool {
		got, err := s.FindJob(ctx, j.ID)
		return err == nil && got.HeartbeatAt != nil
	}, "timed out waiting for heartbeat")

	close(release)
	stopPool(t, pool)
}

func TestPoolReapsStaleJobs(t *testing.T) {
	t.Parallel()
	pool, s, reg := setupTestPool(t, worker.WithStaleJobThreshold(30*time.Millisecond))
	ctx := context.Background()

	var processed atomic.Bool
	if err := reg.Register("test-job", func(_ context.Context, _ []byte) ([]byte, error) {
		processed.Store(true)
		return nil, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Simulate a job abandoned by a crashed worker: claimed long ago,
	// heartbeat far in the past.
	j := newJob(t)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := s.Dequeue(ctx, pool.WorkerID(), []string{"default"})
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	stale := time.Now().UTC().Add(-time.Hour)
	claimed.HeartbeatAt = &stale
	if err := s.SaveJob(ctx, claimed); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, processed.Load, "timed out waiting for reaped job to run")
	stopPool(t, pool)
}

func TestPoolEmitsLifecycleHooks(t *testing.T) {
	t.Parallel()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	extensions := ext.NewRegistry(logger)

	tracker := &trackingExt{}
	extensions.Register(tracker)

	executor := worker.NewExecutor(
		reg, extensions, s,
		backoff.NewConstant(10*time.Millisecond), logger,
	)
	pool := worker.NewPool(s, executor, extensions, logger,
		worker.WithConcurrency(1),
		worker.WithPollInterval(10*time.Millisecond),
	)
	ctx := context.Background()

	var processed atomic.Bool
	if err := reg.Register("test-job", func(_ context.Context, _ []byte) ([]byte, error) {
		processed.Store(true)
		return nil, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	j := newJob(t)
	if err := s.Enqueue(ctx, j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, processed.Load, "timed out waiting for job")
	waitFor(t, tracker.completed.Load, "timed out waiting for completed hook")
	stopPool(t, pool)

	if !tracker.started.Load() {
		t.Error("JobStarted hook did not fire")
	}
}

// trackingExt records which lifecycle hooks fired.
type trackingExt struct {
	started   atomic.Bool
	completed atomic.Bool
	failed    atomic.Bool
}

func (e *trackingExt) Name() string { return "tracker" }

func (e *trackingExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.started.Store(true)
	return nil
}

func (e *trackingExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.completed.Store(true)
	return nil
}

func (e *trackingExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.failed.Store(true)
	return nil
}
