package dlq_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/dlq"
	"github.com/hoistq/hoist/ext"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
	"github.com/hoistq/hoist/store/memory"
)

// saveDeadJob persists a job that exhausted its retry budget.
func saveDeadJob(t *testing.T, s *memory.Store, jobType, queue string, failedAt time.Time) *job.Job {
	t.Helper()

	j := &job.Job{
		Entity:      hoist.NewEntity(),
		ID:          id.NewJobID(),
		Type:        jobType,
		Queue:       queue,
		Args:        []byte(`{"key":"value"}`),
		Status:      job.StatusDead,
		Priority:    job.PriorityNormal,
		MaxRetries:  2,
		Attempt:     3,
		LastError:   "smtp timeout",
		ExecuteAt:   failedAt,
		CompletedAt: &failedAt,
	}
	if err := s.SaveJob(context.Background(), j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	return j
}

func TestServiceListAndCount(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, nil, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	for i := range 3 {
		saveDeadJob(t, s, fmt.Sprintf("job-%d", i), "email", now)
	}
	saveDeadJob(t, s, "other-job", "reports", now)

	entries, err := svc.List(ctx, "email", 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Errorf("List(email) = %d entries, want 3", len(entries))
	}

	all, err := svc.List(ctx, "", 10, 0)
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("List(all) = %d entries, want 4", len(all))
	}

	count, err := svc.Count(ctx, "email")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("Count(email) = %d, want 3", count)
	}
}

func TestServiceRequeue(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, nil, nil)
	ctx := context.Background()

	dead := saveDeadJob(t, s, "replay-me", "default", time.Now().UTC())

	requeued, err := svc.Requeue(ctx, dead.ID)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
	}

	if requeued.ID != dead.ID {
		t.Errorf("ID = %v, want %v", requeued.ID, dead.ID)
	}
	if requeued.Status != job.StatusPending {
		t.Errorf("Status = %q, want %q", requeued.Status, job.StatusPending)
	}
	if requeued.Attempt != 0 {
		t.Errorf("Attempt = %d, want 0", requeued.Attempt)
	}
	if requeued.LastError != "" {
		t.Errorf("LastError = %q, want empty", requeued.LastError)
	}

	// The job is deliverable again.
	got, err := s.Dequeue(ctx, id.NewWorkerID(), []string{"default"})
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.ID != dead.ID {
		t.Errorf("dequeued ID = %v, want %v", got.ID, dead.ID)
	}
}

func TestServiceRequeueEmitsEnqueued(t *testing.T) {
	s := memory.New()
	reg := ext.NewRegistry(nil)
	tracker := &enqueueTracker{}
	reg.Register(tracker)
	svc := dlq.NewService(s, reg, nil)

	dead := saveDeadJob(t, s, "tracked", "default", time.Now().UTC())
	if _, err := svc.Requeue(context.Background(), dead.ID); err != nil {
		t.Fatalf("Requeue: %v", err)
	}
	if !tracker.enqueued.Load() {
		t.Error("expected enqueued event on requeue")
	}
}

func TestServiceRequeueNotFound(t *testing.T) {
	svc := dlq.NewService(memory.New(), nil, nil)

	if _, err := svc.Requeue(context.Background(), id.NewJobID()); err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestServiceRequeueAll(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, nil, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	saveDeadJob(t, s, "a", "email", now)
	saveDeadJob(t, s, "b", "email", now)
	saveDeadJob(t, s, "c", "reports", now)

	n, err := svc.RequeueAll(ctx, "email")
	if err != nil {
		t.Fatalf("RequeueAll: %v", err)
	}
	if n != 2 {
		t.Errorf("requeued = %d, want 2", n)
	}

	count, err := svc.Count(ctx, "")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("remaining dead jobs = %d, want 1", count)
	}
}

func TestServicePurge(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, nil, nil)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	stale := saveDeadJob(t, s, "stale", "default", old)
	fresh := saveDeadJob(t, s, "fresh", "default", recent)

	purged, err := svc.Purge(ctx, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}

	if _, err := s.FindJob(ctx, stale.ID); err == nil {
		t.Error("expected purged job to be deleted")
	}
	if _, err := s.FindJob(ctx, fresh.ID); err != nil {
		t.Errorf("fresh dead job should survive purge: %v", err)
	}
}

// enqueueTracker records the enqueued hook.
type enqueueTracker struct {
	enqueued atomic.Bool
}

func (e *enqueueTracker) Name() string { return "enqueue-tracker" }

func (e *enqueueTracker) OnJobEnqueued(_ context.Context, _ *job.Job) error {
	e.enqueued.Store(true)
	return nil
}
