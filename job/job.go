package job

import (
	"fmt"
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/id"
)

// Status represents the lifecycle status of a job.
type Status string

const (
	// StatusPending means the job is ready and waiting to be claimed by
	// a worker.
	StatusPending Status = "pending"
	// StatusScheduled means the job becomes eligible at ExecuteAt and is
	// held in the scheduled set until promoted.
	StatusScheduled Status = "scheduled"
	// StatusRunning means a worker is currently executing the job.
	StatusRunning Status = "running"
	// StatusCompleted means the job finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed means the job failed; operators may set it to park a
	// job outside the automatic lifecycle, which routes failures to
	// StatusScheduled (retry) or StatusDead (exhausted) instead.
	StatusFailed Status = "failed"
	// StatusDead means the job exhausted its retry budget or failed
	// permanently and now sits in the dead letter set.
	StatusDead Status = "dead"
	// StatusCancelled means the job was cancelled before execution.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further automatic transition applies.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDead, StatusCancelled:
		return true
	}
	return false
}

// Priority determines dequeue ordering between jobs in the same queue.
// Higher priorities are always delivered first; within a priority, jobs
// are delivered in enqueue order.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityNormal   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

// Priorities lists all priorities from most to least urgent, the order
// in which queue tiers are drained.
var Priorities = [...]Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow}

// String returns the lowercase name of the priority.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts a priority name into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	}
	return PriorityNormal, fmt.Errorf("job: unknown priority %q", s)
}

// Job represents a unit of work to be processed by a worker.
//
// Queue and Priority are fixed at creation; no lifecycle transition
// touches them. Result and LastError are mutually exclusive: Result is
// set only on completion, LastError only on the failure paths.
type Job struct {
	hoist.Entity

	ID          id.JobID      `json:"id"`
	Type        string        `json:"type"`
	Queue       string        `json:"queue"`
	Args        []byte        `json:"args,omitempty"`
	Status      Status        `json:"status"`
	Priority    Priority      `json:"priority"`
	MaxRetries  int           `json:"max_retries"`
	Attempt     int           `json:"attempt"`
	Result      []byte        `json:"result,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	ExecuteAt   time.Time     `json:"execute_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *Job) Clone() *Job {
	c := *j
	if j.Args != nil {
		c.Args = append([]byte(nil), j.Args...)
	}
	if j.Result != nil {
		c.Result = append([]byte(nil), j.Result...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.HeartbeatAt != nil {
		t := *j.HeartbeatAt
		c.HeartbeatAt = &t
	}
	return &c
}
