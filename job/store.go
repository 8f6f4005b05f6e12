package job

import (
	"context"
	"time"

	"github.com/hoistq/hoist/id"
)

// ListOpts controls filtering and pagination for job list queries.
// Empty filter fields match everything.
type ListOpts struct {
	// Status filters by job status.
	Status Status
	// Type filters by job type.
	Type string
	// Queue filters by queue name.
	Queue string
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Status filters by job status. Empty means all statuses.
	Status Status
	// Type filters by job type. Empty means all types.
	Type string
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// Outcome carries the terminal payload of a status update: the result
// on success or the error message on failure. At most one is set.
type Outcome struct {
	Result []byte
	Error  string
}

// Store defines the persistence contract for jobs. Every backend
// implements it alongside the queue contract; the lifecycle functions
// in this package compute the transitions that Store methods persist.
type Store interface {
	// SaveJob inserts the job, or replaces the stored record when the
	// ID already exists. The delivery structures follow the saved
	// status: a pending job becomes deliverable, a scheduled job waits
	// for promotion, everything else leaves the queue.
	SaveJob(ctx context.Context, j *Job) error

	// ReturnJob saves the job like SaveJob, but a pending job rejoins
	// its ready tier at the front rather than the back. Used to undo a
	// claim without costing the job its delivery position.
	ReturnJob(ctx context.Context, j *Job) error

	// FindJob retrieves a job by ID. Returns hoist.ErrJobNotFound when
	// no such job exists.
	FindJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJobStatus overwrites the status and outcome of a job
	// without further validation. Callers are expected to derive
	// transitions through the lifecycle functions; this is the escape
	// hatch for operators and tests.
	UpdateJobStatus(ctx context.Context, jobID id.JobID, status Status, out Outcome) error

	// ListJobs returns jobs matching the filters, newest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the filters.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// DeleteJob removes a job by ID, including its queue bookkeeping.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// DeadLetterJobs returns dead jobs, newest first. An empty queue
	// matches all queues.
	DeadLetterJobs(ctx context.Context, queue string, limit, offset int) ([]*Job, error)

	// RequeueJob moves a dead job back to pending with a fresh retry
	// budget and makes it deliverable again. Returns the requeued job.
	RequeueJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// HeartbeatJob updates the heartbeat timestamp for a running job,
	// indicating the worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReapStaleJobs returns running jobs whose last heartbeat is older
	// than the given threshold, indicating the worker may have crashed.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)
}
