package cron

import (
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

// Entry represents a recurring job definition: a cron expression plus
// the template of the job to enqueue on each firing.
type Entry struct {
	hoist.Entity

	ID          id.CronID    `json:"id"`
	Name        string       `json:"name"`
	Schedule    string       `json:"schedule"`
	JobType     string       `json:"job_type"`
	Queue       string       `json:"queue,omitempty"`
	Priority    job.Priority `json:"priority,omitempty"`
	Args        []byte       `json:"args,omitempty"`
	LastRunAt   *time.Time   `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time   `json:"next_run_at,omitempty"`
	LockedBy    string       `json:"locked_by,omitempty"`
	LockedUntil *time.Time   `json:"locked_until,omitempty"`
	Enabled     bool         `json:"enabled"`
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Args != nil {
		c.Args = append([]byte(nil), e.Args...)
	}
	if e.LastRunAt != nil {
		t := *e.LastRunAt
		c.LastRunAt = &t
	}
	if e.NextRunAt != nil {
		t := *e.NextRunAt
		c.NextRunAt = &t
	}
	if e.LockedUntil != nil {
		t := *e.LockedUntil
		c.LockedUntil = &t
	}
	return &c
}
