package job

import (
	"fmt"
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/id"
)

// The lifecycle functions below are pure: they take a job value and a
// clock reading, and return the transitioned value without touching
// storage. Backends and the executor apply them and persist the result.
// An invalid transition returns an error wrapping hoist.ErrInvalidState
// and the unchanged input.

func stateErr(op string, s Status) error {
	return fmt.Errorf("job: cannot %s %s job: %w", op, s, hoist.ErrInvalidState)
}

// New builds a job from resolved options. The job starts pending, or
// scheduled when opts.ExecuteAt lies in the future.
func New(jobType string, args []byte, opts Options, now time.Time) *Job {
	now = now.UTC()

	j := &Job{
		Entity:     hoist.Entity{CreatedAt: now, UpdatedAt: now},
		ID:         id.NewJobID(),
		Type:       jobType,
		Queue:      opts.Queue,
		Args:       args,
		Status:     StatusPending,
		Priority:   opts.Priority,
		MaxRetries: opts.MaxRetries,
		ExecuteAt:  now,
		Timeout:    opts.Timeout,
	}
	if j.Queue == "" {
		j.Queue = "default"
	}
	if j.MaxRetries < 0 {
		j.MaxRetries = 0
	}
	if opts.ExecuteAt.After(now) {
		j.Status = StatusScheduled
		j.ExecuteAt = opts.ExecuteAt.UTC()
	}
	return j
}

// Start transitions a pending or due scheduled job to running, claiming
// it for workerID. The attempt counter increments here, so Attempt is
// the 1-based number of the execution in flight.
func Start(j Job, workerID id.WorkerID, now time.Time) (Job, error) {
	switch j.Status {
	case StatusPending:
	case StatusScheduled:
		if j.ExecuteAt.After(now) {
			return j, fmt.Errorf("job: cannot start scheduled job before %s: %w",
				j.ExecuteAt.Format(time.RFC3339), hoist.ErrInvalidState)
		}
	default:
		return j, stateErr("start", j.Status)
	}

	now = now.UTC()
	j.Status = StatusRunning
	j.Attempt++
	j.WorkerID = workerID
	j.StartedAt = &now
	j.HeartbeatAt = &now
	j.Touch(now)
	return j, nil
}

// Complete transitions a running job to completed, recording the
// handler's result.
func Complete(j Job, result []byte, now time.Time) (Job, error) {
	if j.Status != StatusRunning {
		return j, stateErr("complete", j.Status)
	}

	now = now.UTC()
	j.Status = StatusCompleted
	j.Result = result
	j.LastError = ""
	j.CompletedAt = &now
	j.HeartbeatAt = nil
	j.Touch(now)
	return j, nil
}

// Fail records a handler failure on a running job. While the failure
// count (= Attempt) is within MaxRetries and the cause is not marked
// hoist.Permanent, the job is rescheduled retryDelay from now;
// otherwise it is dead-lettered. With MaxRetries = N the job dies on
// exactly the (N+1)-th failure.
func Fail(j Job, cause error, retryDelay time.Duration, now time.Time) (Job, error) {
	if j.Status != StatusRunning {
		return j, stateErr("fail", j.Status)
	}

	msg := "unknown failure"
	if cause != nil {
		msg = cause.Error()
	}

	now = now.UTC()
	j.LastError = msg
	j.Result = nil
	j.HeartbeatAt = nil
	j.Touch(now)

	if j.Attempt <= j.MaxRetries && !hoist.IsPermanent(cause) {
		j.Status = StatusScheduled
		j.ExecuteAt = now.Add(retryDelay)
		j.StartedAt = nil
		j.WorkerID = id.Nil
		return j, nil
	}

	j.Status = StatusDead
	j.CompletedAt = &now
	return j, nil
}

// Cancel transitions a pending or scheduled job to cancelled. Running
// and terminal jobs cannot be cancelled.
func Cancel(j Job, now time.Time) (Job, error) {
	if j.Status != StatusPending && j.Status != StatusScheduled {
		return j, stateErr("cancel", j.Status)
	}

	now = now.UTC()
	j.Status = StatusCancelled
	j.CompletedAt = &now
	j.Touch(now)
	return j, nil
}

// Requeue returns a dead job to pending with a fresh retry budget.
// This is the manual dead-letter replay path.
func Requeue(j Job, now time.Time) (Job, error) {
	if j.Status != StatusDead {
		return j, stateErr("requeue", j.Status)
	}

	now = now.UTC()
	j.Status = StatusPending
	j.Attempt = 0
	j.LastError = ""
	j.Result = nil
	j.WorkerID = id.Nil
	j.ExecuteAt = now
	j.StartedAt = nil
	j.CompletedAt = nil
	j.HeartbeatAt = nil
	j.Touch(now)
	return j, nil
}
