package queue

import (
	"context"
	"time"

	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

// Queue defines the delivery contract every backend implements. A queue
// holds one ready structure per priority (FIFO within a priority) and a
// separate time-ordered scheduled set.
type Queue interface {
	// Enqueue appends a pending job to the ready tier for its priority.
	Enqueue(ctx context.Context, j *job.Job) error

	// Schedule inserts a job into the scheduled set, keyed by at. The
	// job stays invisible to Dequeue until promoted by ProcessDue.
	Schedule(ctx context.Context, j *job.Job, at time.Time) error

	// Dequeue claims exactly one ready job for workerID: the head of
	// the highest non-empty priority tier, scanning queues in the order
	// given. The claim atomically removes the job from its tier and
	// applies the start transition (running, attempt+1). Returns
	// hoist.ErrQueueEmpty when nothing is ready.
	//
	// Two concurrent callers never receive the same job.
	Dequeue(ctx context.Context, workerID id.WorkerID, queues []string) (*job.Job, error)

	// Peek returns the job Dequeue would deliver next from the queue
	// without claiming it, or hoist.ErrQueueEmpty.
	Peek(ctx context.Context, queue string) (*job.Job, error)

	// ProcessDue promotes every scheduled job with ExecuteAt <= now
	// into the ready tier for its priority, across all queues, and
	// returns how many were promoted. Safe to call concurrently and
	// repeatedly: each job is promoted exactly once.
	ProcessDue(ctx context.Context, now time.Time) (int, error)

	// Delete removes a job from the ready and scheduled structures.
	// Job records themselves are removed by job.Store.DeleteJob.
	Delete(ctx context.Context, queue string, jobID id.JobID) error

	// Size returns the number of ready jobs in the queue.
	Size(ctx context.Context, queue string) (int64, error)

	// ScheduledSize returns the number of jobs waiting in the
	// scheduled set of the queue.
	ScheduledSize(ctx context.Context, queue string) (int64, error)

	// Queues returns the names of all queues the backend has seen.
	Queues(ctx context.Context) ([]string, error)
}
