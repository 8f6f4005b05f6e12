package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

// SaveJob inserts or replaces the stored job record.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("type = EXCLUDED.type").
		Set("queue = EXCLUDED.queue").
		Set("args = EXCLUDED.args").
		Set("status = EXCLUDED.status").
		Set("priority = EXCLUDED.priority").
		Set("max_retries = EXCLUDED.max_retries").
		Set("attempt = EXCLUDED.attempt").
		Set("result = EXCLUDED.result").
		Set("last_error = EXCLUDED.last_error").
		Set("worker_id = EXCLUDED.worker_id").
		Set("execute_at = EXCLUDED.execute_at").
		Set("started_at = EXCLUDED.started_at").
		Set("completed_at = EXCLUDED.completed_at").
		Set("heartbeat_at = EXCLUDED.heartbeat_at").
		Set("timeout_ns = EXCLUDED.timeout_ns").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hoist/bun: save job: %w", err)
	}
	return nil
}

// ReturnJob saves a reverted claim. Delivery order derives from the id
// column, so a plain save restores the job's position in line.
func (s *Store) ReturnJob(ctx context.Context, j *job.Job) error {
	return s.SaveJob(ctx, j)
}

// FindJob retrieves a job by ID.
func (s *Store) FindJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	m := new(jobModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", jobID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hoist.ErrJobNotFound
		}
		return nil, fmt.Errorf("hoist/bun: find job: %w", err)
	}
	return fromJobModel(m)
}

// UpdateJobStatus overwrites the status and outcome of a job without
// transition validation. Delivery eligibility follows the status
// column, so no separate queue cleanup is needed.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID id.JobID, status job.Status, out job.Outcome) error {
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("status = ?", string(status)).
		Set("result = ?", out.Result).
		Set("last_error = ?", out.Error).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hoist/bun: update job status: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return hoist.ErrJobNotFound
	}
	return nil
}

// applyFilters adds the shared list/count predicates.
func applyFilters(q *bun.SelectQuery, status job.Status, jobType, queue string) *bun.SelectQuery {
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	if jobType != "" {
		q = q.Where("type = ?", jobType)
	}
	if queue != "" {
		q = q.Where("queue = ?", queue)
	}
	return q
}

// ListJobs returns jobs matching the filters, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	var models []jobModel
	q := applyFilters(s.db.NewSelect().Model(&models), opts.Status, opts.Type, opts.Queue).
		OrderExpr("created_at DESC, id DESC")

	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("hoist/bun: list jobs: %w", err)
	}

	jobs := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("hoist/bun: list jobs convert: %w", convErr)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the filters.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	q := applyFilters(s.db.NewSelect().Model((*jobModel)(nil)), opts.Status, opts.Type, opts.Queue)
	n, err := q.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("hoist/bun: count jobs: %w", err)
	}
	return int64(n), nil
}

// DeleteJob removes a job row.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hoist/bun: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return hoist.ErrJobNotFound
	}
	return nil
}

// DeadLetterJobs returns dead jobs, newest first.
func (s *Store) DeadLetterJobs(ctx context.Context, q string, limit, offset int) ([]*job.Job, error) {
	return s.ListJobs(ctx, job.ListOpts{
		Status: job.StatusDead,
		Queue:  q,
		Limit:  limit,
		Offset: offset,
	})
}

// RequeueJob returns a dead job to pending with a fresh retry budget.
// Becoming pending again is what makes it deliverable.
func (s *Store) RequeueJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := s.FindJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	requeued, err := job.Requeue(*j, time.Now())
	if err != nil {
		return nil, err
	}
	if err := s.SaveJob(ctx, &requeued); err != nil {
		return nil, err
	}
	return &requeued, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	res, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("heartbeat_at = ?", time.Now().UTC()).
		Set("worker_id = ?", workerID.String()).
		Where("id = ?", jobID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hoist/bun: heartbeat job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return hoist.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	var models []jobModel
	err := s.db.NewSelect().Model(&models).
		Where("status = 'running'").
		Where("heartbeat_at IS NOT NULL").
		Where("heartbeat_at < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hoist/bun: reap stale jobs: %w", err)
	}

	stale := make([]*job.Job, 0, len(models))
	for i := range models {
		j, convErr := fromJobModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("hoist/bun: reap stale convert: %w", convErr)
		}
		stale = append(stale, j)
	}
	return stale, nil
}
