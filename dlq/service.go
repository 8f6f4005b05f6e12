package dlq

import (
	"context"
	"log/slog"
	"time"

	"github.com/hoistq/hoist/ext"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

// Service provides operator-facing dead letter operations over the job
// store. Dead jobs are ordinary job records with status dead; the
// service adds listing, replay, and purging on top.
type Service struct {
	store      job.Store
	extensions *ext.Registry
	logger     *slog.Logger
}

// NewService creates a DLQ service. extensions may be nil.
func NewService(store job.Store, extensions *ext.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, extensions: extensions, logger: logger}
}

// List returns dead jobs, newest first. An empty queue matches all
// queues.
func (s *Service) List(ctx context.Context, queue string, limit, offset int) ([]*job.Job, error) {
	return s.store.DeadLetterJobs(ctx, queue, limit, offset)
}

// Count returns the number of dead jobs. An empty queue matches all
// queues.
func (s *Service) Count(ctx context.Context, queue string) (int64, error) {
	return s.store.CountJobs(ctx, job.CountOpts{Status: job.StatusDead, Queue: queue})
}

// Requeue replays one dead job: the attempt counter resets to zero, the
// recorded error is cleared, and the job becomes deliverable again.
func (s *Service) Requeue(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := s.store.RequeueJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if s.extensions != nil {
		s.extensions.EmitJobEnqueued(ctx, j)
	}

	s.logger.Info("dead job requeued",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.String("queue", j.Queue),
	)
	return j, nil
}

// RequeueAll replays every dead job in the queue (all queues when queue
// is empty) and returns how many were requeued. Jobs that fail to
// requeue are logged and skipped.
func (s *Service) RequeueAll(ctx context.Context, queue string) (int, error) {
	dead, err := s.store.DeadLetterJobs(ctx, queue, 0, 0)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, j := range dead {
		if _, reqErr := s.Requeue(ctx, j.ID); reqErr != nil {
			s.logger.Warn("requeue dead job failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", reqErr.Error()),
			)
			continue
		}
		requeued++
	}
	return requeued, nil
}

// Purge permanently deletes dead jobs whose terminal failure is older
// than before. Returns how many were deleted.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	dead, err := s.store.DeadLetterJobs(ctx, "", 0, 0)
	if err != nil {
		return 0, err
	}

	var purged int64
	for _, j := range dead {
		if j.CompletedAt == nil || !j.CompletedAt.Before(before) {
			continue
		}
		if delErr := s.store.DeleteJob(ctx, j.ID); delErr != nil {
			s.logger.Warn("purge dead job failed",
				slog.String("job_id", j.ID.String()),
				slog.String("error", delErr.Error()),
			)
			continue
		}
		purged++
	}
	return purged, nil
}
