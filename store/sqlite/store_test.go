package sqlite_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/cluster"
	"github.com/hoistq/hoist/cron"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
	"github.com/hoistq/hoist/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func newJob(t *testing.T, opts ...job.Option) *job.Job {
	t.Helper()
	o := job.DefaultOptions()
	o.MaxRetries = 3
	for _, opt := range opts {
		opt(&o)
	}
	return job.New("test-job", []byte(`{"test":true}`), o, time.Now())
}

func mustEnqueue(t *testing.T, s *sqlite.Store, j *job.Job) {
	t.Helper()
	if err := s.Enqueue(context.Background(), j); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	// newStore already migrated once.
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestSaveFindJob(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	j := newJob(t, job.WithQueue("email"), job.WithPriority(job.PriorityHigh))
	if err := s.SaveJob(ctx, j); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	got, err := s.FindJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("FindJob: %v", err)
	}
	if got.Type != "test-job" {
		t.Errorf("Type = %q, want %q", got.Type, "test-job")
	}
	if got.Queue != "email" {
		t.Errorf("Queue = %q, want %q", got.Queue, "email")
	}
	if got.Priority != job.PriorityHigh {
		t.Errorf("Priority = %v, want %v", got.Priority, job.PriorityHigh)
	}
	if string(got.Args) != `{"test":true}` {
		t.Errorf("Args = %s, want %s", got.Args, `{"test":true}`)
	}

	if _, err := s.FindJob(ctx, id.NewJobID()); !errors.Is(err, hoist.ErrJobNotFound) {
		t.Errorf("FindJob(unknown) error = %v, want ErrJobNotFound", err)
	}
}

func TestEnqueueDequeueClaims(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	worker := id.NewWorkerID()

	j := newJob(t)
	mustEnqueue(t, s, j)

	got, err := s.Dequeue(ctx, worker, []string{"default"})
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.ID.String() != j.ID.String() {
		t.Errorf("dequeued %s, want %s", got.ID, j.ID)
	}
	if got.Status != job.StatusRunning {
		t.Errorf("Status = %q, want %q", got.Status, job.StatusRunning)
	}
	if got.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", got.Attempt)
	}
	if got.WorkerID.String() != worker.String() {
		t.Errorf("WorkerID = %s, want %s", got.WorkerID, worker)
	}

	// The claim is visible to readers.
	stored, err := s.FindJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("FindJob: %v", err)
	}
	if stored.Status != job.StatusRunning {
		t.Errorf("stored Status = %q, want %q", stored.Status, job.StatusRunning)
	}

	// A claimed job cannot be claimed again.
	if _, err := s.Dequeue(ctx, worker, []string{"default"}); !errors.Is(err, hoist.ErrQueueEmpty) {
		t.Errorf("second Dequeue error = %v, want ErrQueueEmpty", err)
	}
}

func TestDequeuePriorityOrder(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	worker := id.NewWorkerID()

	low := newJob(t, job.WithPriority(job.PriorityLow))
	critical := newJob(t, job.WithPriority(job.PriorityCritical))
	normalA := newJob(t)
	normalB := newJob(t)

	for _, j := range []*job.Job{low, normalA, critical, normalB} {
		mustEnqueue(t, s, j)
	}

	// Highest priority first, FIFO within a tier.
	want := []*job.Job{critical, normalA, normalB, low}
	for i, exp := range want {
		got, err := s.Dequeue(ctx, worker, []string{"default"})
		if err != nil {
			t.Fatalf("Dequeue %d: %v", i, err)
		}
		if got.ID.String() != exp.ID.String() {
			t.Errorf("Dequeue %d = %s (prio %v), want %s (prio %v)",
				i, got.ID, got.Priority, exp.ID, exp.Priority)
		}
	}
}

func TestDequeueQueueIsolation(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	worker := id.NewWorkerID()

	j := newJob(t, job.WithQueue("email"))
	mustEnqueue(t, s, j)

	if _, err := s.Dequeue(ctx, worker, []string{"reports"}); !errors.Is(err, hoist.ErrQueueEmpty) {
		t.Errorf("Dequeue(reports) error = %v, want ErrQueueEmpty", err)
	}

	got, err := s.Dequeue(ctx, worker, []string{"reports", "email"})
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.ID.String() != j.ID.String() {
		t.Errorf("dequeued %s, want %s", got.ID, j.ID)
	}
}

func TestScheduleAndProcessDue(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	worker := id.NewWorkerID()

	at := time.Now().UTC().Add(time.Hour)
	j := newJob(t, job.WithExecuteAt(at))
	if err := s.Schedule(ctx, j, at); err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	// Not yet due: invisible to dequeue.
	if _, err := s.Dequeue(ctx, worker, []string{"default"}); !errors.Is(err, hoist.ErrQueueEmpty) {
		t.Errorf("Dequeue before due error = %v, want ErrQueueEmpty", err)
	}
	n, err := s.ScheduledSize(ctx, "default")
	if err != nil {
		t.Fatalf("ScheduledSize: %v", err)
	}
	if n != 1 {
		t.Errorf("ScheduledSize = %d, want 1", n)
	}

	// Not due at now: promotes nothing.
	promoted, err := s.ProcessDue(ctx, time.Now())
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if promoted != 0 {
		t.Errorf("promoted = %d, want 0", promoted)
	}

	// Due after the execute time: promoted exactly once.
	promoted, err = s.ProcessDue(ctx, at.Add(time.Second))
	if err != nil {
		t.Fatalf("ProcessDue: %v", err)
	}
	if promoted != 1 {
		t.Errorf("promoted = %d, want 1", promoted)
	}
	promoted, err = s.ProcessDue(ctx, at.Add(time.Second))
	if err != nil {
		t.Fatalf("ProcessDue again: %v", err)
	}
	if promoted != 0 {
		t.Errorf("repeat promoted = %d, want 0", promoted)
	}

	got, err := s.Dequeue(ctx, worker, []string{"default"})
	if err != nil {
		t.Fatalf("Dequeue after promotion: %v", err)
	}
	if got.ID.String() != j.ID.String() {
		t.Errorf("dequeued %s, want %s", got.ID, j.ID)
	}
}

func TestSaveJobStatusDrivesDelivery(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	worker := id.NewWorkerID()

	j := newJob(t)
	mustEnqueue(t, s, j)

	// Cancelling via SaveJob removes the job from delivery.
	cancelled, err := job.Cancel(*j, time.Now())
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := s.SaveJob(ctx, &cancelled); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if _, err := s.Dequeue(ctx, worker, []string{"default"}); !errors.Is(err, hoist.ErrQueueEmpty) {
		t.Errorf("Dequeue of cancelled job error = %v, want ErrQueueEmpty", err)
	}

	// Saving a pending job makes it deliverable again.
	pending := cancelled
	pending.Status = job.StatusPending
	if err := s.SaveJob(ctx, &pending); err != nil {
		t.Fatalf("SaveJob pending: %v", err)
	}
	got, err := s.Dequeue(ctx, worker, []string{"default"})
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if got.ID.String() != j.ID.String() {
		t.Errorf("dequeued %s, want %s", got.ID, j.ID)
	}
}

func TestListAndCountJobs(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	for i := range 3 {
		j := job.New(fmt.Sprintf("type-%d", i), nil, job.DefaultOptions(), time.Now())
		mustEnqueue(t, s, j)
	}
	other := newJob(t, job.WithQueue("email"))
	mustEnqueue(t, s, other)

	all, err := s.ListJobs(ctx, job.ListOpts{})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("ListJobs(all) = %d, want 4", len(all))
	}

	byQueue, err := s.ListJobs(ctx, job.ListOpts{Queue: "email"})
	if err != nil {
		t.Fatalf("ListJobs(email): %v", err)
	}
	if len(byQueue) != 1 {
		t.Errorf("ListJobs(email) = %d, want 1", len(byQueue))
	}

	byType, err := s.ListJobs(ctx, job.ListOpts{Type: "type-1"})
	if err != nil {
		t.Fatalf("ListJobs(type-1): %v", err)
	}
	if len(byType) != 1 {
		t.Errorf("ListJobs(type-1) = %d, want 1", len(byType))
	}

	page, err := s.ListJobs(ctx, job.ListOpts{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("ListJobs page: %v", err)
	}
	if len(page) != 2 {
		t.Errorf("ListJobs(limit 2, offset 2) = %d, want 2", len(page))
	}

	count, err := s.CountJobs(ctx, job.CountOpts{Status: job.StatusPending})
	if err != nil {
		t.Fatalf("CountJobs: %v", err)
	}
	if count != 4 {
		t.Errorf("CountJobs(pending) = %d, want 4", count)
	}
}

func TestDeadLetterRequeue(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	worker := id.NewWorkerID()

	j := newJob(t, job.WithMaxRetries(0))
	mustEnqueue(t, s, j)

	claimed, err := s.Dequeue(ctx, worker, []string{"default"})
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	dead, err := job.Fail(*claimed, errors.New("boom"), time.Minute, time.Now())
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if dead.Status != job.StatusDead {
		t.Fatalf("Status = %q, want %q", dead.Status, job.StatusDead)
	}
	if err := s.SaveJob(ctx, &dead); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	letters, err := s.DeadLetterJobs(ctx, "default", 10, 0)
	if err != nil {
		t.Fatalf("DeadLetterJobs: %v", err)
	}
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
	if letters[0].LastError != "boom" {
		t.Errorf("LastError = %q, want %q", letters[0].LastError, "boom")
	}

	requeued, err := s.RequeueJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("RequeueJob: %v", err)
	}
	if requeued.Status != job.StatusPending {
		t.Errorf("Status = %q, want %q", requeued.Status, job.StatusPending)
	}
	if requeued.Attempt != 0 {
		t.Errorf("Attempt = %d, want 0", requeued.Attempt)
	}

	got, err := s.Dequeue(ctx, worker, []string{"default"})
	if err != nil {
		t.Fatalf("Dequeue requeued: %v", err)
	}
	if got.ID.String() != j.ID.String() {
		t.Errorf("dequeued %s, want %s", got.ID, j.ID)
	}
}

func TestHeartbeatAndReapStale(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()
	worker := id.NewWorkerID()

	j := newJob(t)
	mustEnqueue(t, s, j)
	claimed, err := s.Dequeue(ctx, worker, []string{"default"})
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	if err := s.HeartbeatJob(ctx, claimed.ID, worker); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}
	got, err := s.FindJob(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("FindJob: %v", err)
	}
	if got.HeartbeatAt == nil {
		t.Fatal("expected HeartbeatAt to be set")
	}

	// Fresh heartbeat: not stale.
	stale, err := s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("stale = %d, want 0", len(stale))
	}

	// Age the heartbeat past the threshold.
	old := *got
	past := time.Now().UTC().Add(-time.Hour)
	old.HeartbeatAt = &past
	if err := s.SaveJob(ctx, &old); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}

	stale, err = s.ReapStaleJobs(ctx, time.Minute)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("stale = %d, want 1", len(stale))
	}
	if stale[0].ID.String() != j.ID.String() {
		t.Errorf("stale job = %s, want %s", stale[0].ID, j.ID)
	}

	if err := s.HeartbeatJob(ctx, id.NewJobID(), worker); !errors.Is(err, hoist.ErrJobNotFound) {
		t.Errorf("HeartbeatJob(unknown) error = %v, want ErrJobNotFound", err)
	}
}

func TestCronEntries(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	next := time.Now().UTC().Add(time.Minute)
	entry := &cron.Entry{
		Entity:    hoist.NewEntity(),
		ID:        id.NewCronID(),
		Name:      "nightly-report",
		Schedule:  "@every 1h",
		JobType:   "build-report",
		Priority:  job.PriorityNormal,
		Args:      []byte(`{"report":"sales"}`),
		NextRunAt: &next,
		Enabled:   true,
	}
	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	// Duplicate name is rejected.
	dup := *entry
	dup.ID = id.NewCronID()
	if err := s.RegisterCron(ctx, &dup); !errors.Is(err, hoist.ErrDuplicateCron) {
		t.Errorf("duplicate RegisterCron error = %v, want ErrDuplicateCron", err)
	}

	got, err := s.GetCron(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.Name != "nightly-report" || got.JobType != "build-report" {
		t.Errorf("entry = %q/%q, want nightly-report/build-report", got.Name, got.JobType)
	}

	fired := time.Now().UTC()
	if err := s.UpdateCronLastRun(ctx, entry.ID, fired); err != nil {
		t.Fatalf("UpdateCronLastRun: %v", err)
	}
	got, err = s.GetCron(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetCron: %v", err)
	}
	if got.LastRunAt == nil {
		t.Error("expected LastRunAt to be set")
	}

	entries, err := s.ListCrons(ctx)
	if err != nil {
		t.Fatalf("ListCrons: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}

	if err := s.DeleteCron(ctx, entry.ID); err != nil {
		t.Fatalf("DeleteCron: %v", err)
	}
	if _, err := s.GetCron(ctx, entry.ID); !errors.Is(err, hoist.ErrCronNotFound) {
		t.Errorf("GetCron after delete error = %v, want ErrCronNotFound", err)
	}
}

func TestCronLock(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	entry := &cron.Entry{
		Entity:   hoist.NewEntity(),
		ID:       id.NewCronID(),
		Name:     "locked-entry",
		Schedule: "@every 1m",
		JobType:  "noop",
		Priority: job.PriorityNormal,
		Enabled:  true,
	}
	if err := s.RegisterCron(ctx, entry); err != nil {
		t.Fatalf("RegisterCron: %v", err)
	}

	holder := id.NewWorkerID()
	rival := id.NewWorkerID()

	acquired, err := s.AcquireCronLock(ctx, entry.ID, holder, 30*time.Second)
	if err != nil {
		t.Fatalf("AcquireCronLock: %v", err)
	}
	if !acquired {
		t.Fatal("expected to acquire lock")
	}

	acquired, err = s.AcquireCronLock(ctx, entry.ID, rival, 30*time.Second)
	if err != nil {
		t.Fatalf("rival AcquireCronLock: %v", err)
	}
	if acquired {
		t.Error("rival acquired a held lock")
	}

	if err := s.ReleaseCronLock(ctx, entry.ID, holder); err != nil {
		t.Fatalf("ReleaseCronLock: %v", err)
	}
	acquired, err = s.AcquireCronLock(ctx, entry.ID, rival, 30*time.Second)
	if err != nil {
		t.Fatalf("rival AcquireCronLock after release: %v", err)
	}
	if !acquired {
		t.Error("expected rival to acquire after release")
	}
}

func TestClusterWorkers(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	w := &cluster.Worker{
		ID:          id.NewWorkerID(),
		Hostname:    "test-host",
		Queues:      []string{"default"},
		Concurrency: 4,
		State:       cluster.WorkerActive,
		LastSeen:    now,
		CreatedAt:   now,
	}
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("RegisterWorker: %v", err)
	}

	workers, err := s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 1 {
		t.Fatalf("workers = %d, want 1", len(workers))
	}
	if workers[0].Hostname != "test-host" {
		t.Errorf("Hostname = %q, want %q", workers[0].Hostname, "test-host")
	}

	if err := s.HeartbeatWorker(ctx, w.ID); err != nil {
		t.Fatalf("HeartbeatWorker: %v", err)
	}

	if err := s.DeregisterWorker(ctx, w.ID); err != nil {
		t.Fatalf("DeregisterWorker: %v", err)
	}
	workers, err = s.ListWorkers(ctx)
	if err != nil {
		t.Fatalf("ListWorkers: %v", err)
	}
	if len(workers) != 0 {
		t.Errorf("workers after deregister = %d, want 0", len(workers))
	}
}

func TestLeadership(t *testing.T) {
	t.Parallel()
	s := newStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	a := id.NewWorkerID()
	b := id.NewWorkerID()
	for _, wid := range []id.WorkerID{a, b} {
		w := &cluster.Worker{
			ID:        wid,
			Hostname:  "test",
			State:     cluster.WorkerActive,
			LastSeen:  now,
			CreatedAt: now,
		}
		if err := s.RegisterWorker(ctx, w); err != nil {
			t.Fatalf("RegisterWorker: %v", err)
		}
	}

	acquired, err := s.AcquireLeadership(ctx, a, 30*time.Second)
	if err != nil {
		t.Fatalf("AcquireLeadership: %v", err)
	}
	if !acquired {
		t.Fatal("expected a to acquire leadership")
	}

	acquired, err = s.AcquireLeadership(ctx, b, 30*time.Second)
	if err != nil {
		t.Fatalf("b AcquireLeadership: %v", err)
	}
	if acquired {
		t.Error("b acquired leadership while a holds it")
	}

	leader, err := s.GetLeader(ctx)
	if err != nil {
		t.Fatalf("GetLeader: %v", err)
	}
	if leader == nil || leader.ID.String() != a.String() {
		t.Errorf("leader = %v, want %s", leader, a)
	}

	renewed, err := s.RenewLeadership(ctx, a, 30*time.Second)
	if err != nil {
		t.Fatalf("RenewLeadership: %v", err)
	}
	if !renewed {
		t.Error("expected holder renew to succeed")
	}
	renewed, err = s.RenewLeadership(ctx, b, 30*time.Second)
	if err != nil {
		t.Fatalf("b RenewLeadership: %v", err)
	}
	if renewed {
		t.Error("non-holder renew should fail")
	}
}
