package job_test

import (
	"errors"
	"testing"
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

func newPending(t *testing.T, opts ...job.Option) *job.Job {
	t.Helper()
	o := job.DefaultOptions()
	o.MaxRetries = 3
	for _, opt := range opts {
		opt(&o)
	}
	return job.New("test-job", []byte(`{"n":1}`), o, time.Now())
}

func TestNew_Defaults(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	j := job.New("send-email", []byte(`{}`), job.DefaultOptions(), now)

	if j.ID.IsNil() {
		t.Fatal("expected a minted job ID")
	}
	if j.Status != job.StatusPending {
		t.Errorf("Status = %q, want %q", j.Status, job.StatusPending)
	}
	if j.Queue != "default" {
		t.Errorf("Queue = %q, want %q", j.Queue, "default")
	}
	if j.Priority != job.PriorityNormal {
		t.Errorf("Priority = %v, want %v", j.Priority, job.PriorityNormal)
	}
	if !j.ExecuteAt.Equal(now) {
		t.Errorf("ExecuteAt = %v, want %v", j.ExecuteAt, now)
	}
	if !j.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", j.CreatedAt, now)
	}
}

func TestNew_FutureExecuteAtIsScheduled(t *testing.T) {
	now := time.Now()
	at := now.Add(time.Hour)
	o := job.DefaultOptions()
	o.ExecuteAt = at

	j := job.New("reminder", nil, o, now)

	if j.Status != job.StatusScheduled {
		t.Fatalf("Status = %q, want %q", j.Status, job.StatusScheduled)
	}
	if !j.ExecuteAt.Equal(at.UTC()) {
		t.Errorf("ExecuteAt = %v, want %v", j.ExecuteAt, at.UTC())
	}
}

func TestStart(t *testing.T) {
	now := time.Now()
	wkr := id.NewWorkerID()
	j := newPending(t)

	started, err := job.Start(*j, wkr, now)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != job.StatusRunning {
		t.Errorf("Status = %q, want %q", started.Status, job.StatusRunning)
	}
	if started.Attempt != 1 {
		t.Errorf("Attempt = %d, want 1", started.Attempt)
	}
	if started.StartedAt == nil {
		t.Error("StartedAt not set")
	}
	if started.WorkerID != wkr {
		t.Errorf("WorkerID = %v, want %v", started.WorkerID, wkr)
	}
	// The input value is untouched.
	if j.Status != job.StatusPending {
		t.Errorf("input mutated: Status = %q", j.Status)
	}
}

func TestStart_ScheduledNotDue(t *testing.T) {
	now := time.Now()
	o := job.DefaultOptions()
	o.ExecuteAt = now.Add(time.Hour)
	j := job.New("later", nil, o, now)

	if _, err := job.Start(*j, id.NewWorkerID(), now); !errors.Is(err, hoist.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}

	// Due scheduled jobs start fine.
	started, err := job.Start(*j, id.NewWorkerID(), now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("Start after due: %v", err)
	}
	if started.Status != job.StatusRunning {
		t.Errorf("Status = %q, want %q", started.Status, job.StatusRunning)
	}
}

func TestStart_InvalidFrom(t *testing.T) {
	now := time.Now()
	for _, status := range []job.Status{
		job.StatusRunning, job.StatusCompleted, job.StatusDead, job.StatusCancelled,
	} {
		t.Run(string(status), func(t *testing.T) {
			j := newPending(t)
			j.Status = status
			if _, err := job.Start(*j, id.NewWorkerID(), now); !errors.Is(err, hoist.ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState, got %v", err)
			}
		})
	}
}

func TestComplete(t *testing.T) {
	now := time.Now()
	j := newPending(t)
	started, err := job.Start(*j, id.NewWorkerID(), now)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	done, err := job.Complete(started, []byte(`{"x":1}`), now)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != job.StatusCompleted {
		t.Errorf("Status = %q, want %q", done.Status, job.StatusCompleted)
	}
	if string(done.Result) != `{"x":1}` {
		t.Errorf("Result = %q, want %q", done.Result, `{"x":1}`)
	}
	if done.LastError != "" {
		t.Errorf("LastError = %q, want empty", done.LastError)
	}
	if done.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestComplete_NotRunning(t *testing.T) {
	j := newPending(t)
	if _, err := job.Complete(*j, nil, time.Now()); !errors.Is(err, hoist.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

func TestFail_SchedulesRetry(t *testing.T) {
	now := time.Now()
	j := newPending(t)
	started, err := job.Start(*j, id.NewWorkerID(), now)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	failed, err := job.Fail(started, errors.New("smtp timeout"), 30*time.Second, now)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.Status != job.StatusScheduled {
		t.Errorf("Status = %q, want %q", failed.Status, job.StatusScheduled)
	}
	want := now.UTC().Add(30 * time.Second)
	if !failed.ExecuteAt.Equal(want) {
		t.Errorf("ExecuteAt = %v, want %v", failed.ExecuteAt, want)
	}
	if failed.LastError != "smtp timeout" {
		t.Errorf("LastError = %q, want %q", failed.LastError, "smtp timeout")
	}
	if failed.Result != nil {
		t.Errorf("Result = %q, want nil", failed.Result)
	}
	if !failed.WorkerID.IsNil() {
		t.Error("WorkerID should be released on retry")
	}
}

func TestFail_DeadOnExactlyNPlusOneFailures(t *testing.T) {
	const maxRetries = 2
	now := time.Now()
	wkr := id.NewWorkerID()

	o := job.DefaultOptions()
	o.MaxRetries = maxRetries
	current := *job.New("flaky", nil, o, now)

	for failure := 1; failure <= maxRetries+1; failure++ {
		started, err := job.Start(current, wkr, now.Add(time.Duration(failure)*time.Hour))
		if err != nil {
			t.Fatalf("failure %d: Start: %v", failure, err)
		}
		if started.Attempt != failure {
			t.Fatalf("failure %d: Attempt = %d", failure, started.Attempt)
		}

		current, err = job.Fail(started, errors.New("boom"), time.Second, now.Add(time.Duration(failure)*time.Hour))
		if err != nil {
			t.Fatalf("failure %d: Fail: %v", failure, err)
		}

		if failure <= maxRetries {
			if current.Status != job.StatusScheduled {
				t.Fatalf("failure %d: Status = %q, want %q", failure, current.Status, job.StatusScheduled)
			}
		} else {
			if current.Status != job.StatusDead {
				t.Fatalf("failure %d: Status = %q, want %q", failure, current.Status, job.StatusDead)
			}
		}
	}

	if current.Attempt != maxRetries+1 {
		t.Errorf("final Attempt = %d, want %d", current.Attempt, maxRetries+1)
	}
}

func TestFail_NoRetryBudget(t *testing.T) {
	now := time.Now()
	o := job.DefaultOptions()
	o.MaxRetries = 0
	j := job.New("one-shot", nil, o, now)

	started, err := job.Start(*j, id.NewWorkerID(), now)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	failed, err := job.Fail(started, errors.New("boom"), time.Second, now)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.Status != job.StatusDead {
		t.Errorf("Status = %q, want %q", failed.Status, job.StatusDead)
	}
}

func TestFail_PermanentSkipsRetries(t *testing.T) {
	now := time.Now()
	j := newPending(t) // budget of 3
	started, err := job.Start(*j, id.NewWorkerID(), now)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	failed, err := job.Fail(started, hoist.Permanent(errors.New("bad input")), time.Second, now)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if failed.Status != job.StatusDead {
		t.Errorf("Status = %q, want %q", failed.Status, job.StatusDead)
	}
	if failed.LastError != "bad input" {
		t.Errorf("LastError = %q, want %q", failed.LastError, "bad input")
	}
}

func TestCancel(t *testing.T) {
	now := time.Now()

	j := newPending(t)
	cancelled, err := job.Cancel(*j, now)
	if err != nil {
		t.Fatalf("Cancel pending: %v", err)
	}
	if cancelled.Status != job.StatusCancelled {
		t.Errorf("Status = %q, want %q", cancelled.Status, job.StatusCancelled)
	}

	o := job.DefaultOptions()
	o.ExecuteAt = now.Add(time.Hour)
	scheduled := job.New("later", nil, o, now)
	if _, err := job.Cancel(*scheduled, now); err != nil {
		t.Fatalf("Cancel scheduled: %v", err)
	}

	for _, status := range []job.Status{
		job.StatusRunning, job.StatusCompleted, job.StatusDead, job.StatusCancelled,
	} {
		t.Run(string(status), func(t *testing.T) {
			j := newPending(t)
			j.Status = status
			if _, err := job.Cancel(*j, now); !errors.Is(err, hoist.ErrInvalidState) {
				t.Fatalf("expected ErrInvalidState, got %v", err)
			}
		})
	}
}

func TestRequeue(t *testing.T) {
	now := time.Now()
	j := newPending(t)
	j.Status = job.StatusDead
	j.Attempt = 4
	j.LastError = "gave up"

	requeued, err := job.Requeue(*j, now)
	if err != nil {
		t.Fatalf("Requeue: %v", err)
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

	fresh := newPending(t)
	if _, err := job.Requeue(*fresh, now); !errors.Is(err, hoist.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState requeueing a pending job, got %v", err)
	}
}

func TestQueueAndPriorityImmutable(t *testing.T) {
	now := time.Now()
	j := newPending(t, job.WithQueue("emails"), job.WithPriority(job.PriorityHigh))

	started, err := job.Start(*j, id.NewWorkerID(), now)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	failed, err := job.Fail(started, errors.New("boom"), time.Second, now)
	if err != nil {
		t.Fatalf("Fail: %v", err)
	}
	restarted, err := job.Start(failed, id.NewWorkerID(), now.Add(2*time.Second))
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	done, err := job.Complete(restarted, nil, now.Add(3*time.Second))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}

	if done.Queue != "emails" {
		t.Errorf("Queue changed to %q", done.Queue)
	}
	if done.Priority != job.PriorityHigh {
		t.Errorf("Priority changed to %v", done.Priority)
	}
}

func TestResultAndErrorMutuallyExclusive(t *testing.T) {
	now := time.Now()
	j := newPending(t)

	started, _ := job.Start(*j, id.NewWorkerID(), now)
	failed, _ := job.Fail(started, errors.New("boom"), time.Second, now)
	if failed.Result != nil {
		t.Error("failed job carries a result")
	}

	restarted, _ := job.Start(failed, id.NewWorkerID(), now.Add(2*time.Second))
	done, _ := job.Complete(restarted, []byte(`"ok"`), now.Add(3*time.Second))
	if done.LastError != "" {
		t.Error("completed job carries an error")
	}
	if string(done.Result) != `"ok"` {
		t.Errorf("Result = %q, want %q", done.Result, `"ok"`)
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    job.Priority
		wantErr bool
	}{
		{"critical", job.PriorityCritical, false},
		{"high", job.PriorityHigh, false},
		{"normal", job.PriorityNormal, false},
		{"", job.PriorityNormal, false},
		{"low", job.PriorityLow, false},
		{"urgent", 0, true},
	}

	for _, tt := range tests {
		got, err := job.ParsePriority(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePriority(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePriority(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePriority(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
