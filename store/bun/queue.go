package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

// Enqueue persists the job as a pending row. Pending rows are the ready
// structure: the dequeue index orders them by priority and ID.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return hoist.ErrJobAlreadyExists
		}
		return fmt.Errorf("hoist/bun: enqueue job: %w", err)
	}
	return nil
}

// Schedule persists the job as a scheduled row keyed by at, invisible
// to Dequeue until promoted by ProcessDue.
func (s *Store) Schedule(ctx context.Context, j *job.Job, at time.Time) error {
	cp := j.Clone()
	cp.Status = job.StatusScheduled
	cp.ExecuteAt = at.UTC()

	m := toJobModel(cp)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isDuplicateKey(err) {
			return hoist.ErrJobAlreadyExists
		}
		return fmt.Errorf("hoist/bun: schedule job: %w", err)
	}
	return nil
}

// Dequeue claims one ready job per call: the oldest row of the highest
// non-empty priority, scanning queues in the order given. The claim is
// an UPDATE over a FOR UPDATE SKIP LOCKED subquery applying the start
// transition, so concurrent workers never block on or receive the same
// row.
func (s *Store) Dequeue(ctx context.Context, workerID id.WorkerID, queues []string) (*job.Job, error) {
	for _, q := range queues {
		var models []jobModel
		_, err := s.db.NewRaw(`
			UPDATE hoist_jobs
			SET status = 'running', attempt = attempt + 1, worker_id = ?0,
			    started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id = (
				SELECT id FROM hoist_jobs
				WHERE status = 'pending' AND queue = ?1
				ORDER BY priority DESC, id ASC
				FOR UPDATE SKIP LOCKED
				LIMIT 1
			)
			RETURNING *`,
			workerID.String(), q,
		).Exec(ctx, &models)
		if err != nil {
			return nil, fmt.Errorf("hoist/bun: dequeue: %w", err)
		}
		if len(models) == 0 {
			continue
		}

		j, convErr := fromJobModel(&models[0])
		if convErr != nil {
			return nil, fmt.Errorf("hoist/bun: dequeue convert: %w", convErr)
		}
		return j, nil
	}
	return nil, hoist.ErrQueueEmpty
}

// Peek returns the job Dequeue would deliver next from the queue
// without claiming it.
func (s *Store) Peek(ctx context.Context, q string) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("status = 'pending'").
		Where("queue = ?", q).
		OrderExpr("priority DESC, id ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hoist.ErrQueueEmpty
		}
		return nil, fmt.Errorf("hoist/bun: peek: %w", err)
	}
	return fromJobModel(m)
}

// ProcessDue promotes every scheduled job with ExecuteAt <= now to
// pending, across all queues, in a single UPDATE. The status predicate
// makes repeated and concurrent calls idempotent.
func (s *Store) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = 'pending'").
		Set("updated_at = ?", now.UTC()).
		Where("status = 'scheduled'").
		Where("execute_at <= ?", now.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("hoist/bun: process due: %w", err)
	}
	promoted, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	return int(promoted), nil
}

// Delete is a no-op: delivery eligibility is derived from the row's
// status, so there is no separate structure to purge. Moving a job off
// pending or scheduled already removes it from delivery.
func (s *Store) Delete(_ context.Context, _ string, _ id.JobID) error {
	return nil
}

// Size returns the number of ready jobs in the queue.
func (s *Store) Size(ctx context.Context, q string) (int64, error) {
	n, err := s.db.NewSelect().
		Model((*jobModel)(nil)).
		Where("status = 'pending'").
		Where("queue = ?", q).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("hoist/bun: queue size: %w", err)
	}
	return int64(n), nil
}

// ScheduledSize returns the number of jobs waiting in the scheduled set
// of the queue.
func (s *Store) ScheduledSize(ctx context.Context, q string) (int64, error) {
	n, err := s.db.NewSelect().
		Model((*jobModel)(nil)).
		Where("status = 'scheduled'").
		Where("queue = ?", q).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("hoist/bun: scheduled size: %w", err)
	}
	return int64(n), nil
}

// Queues returns the names of all queues the store has seen, sorted.
func (s *Store) Queues(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.NewSelect().
		Model((*jobModel)(nil)).
		ColumnExpr("DISTINCT queue").
		OrderExpr("queue ASC").
		Scan(ctx, &names)
	if err != nil {
		return nil, fmt.Errorf("hoist/bun: list queues: %w", err)
	}
	return names, nil
}
