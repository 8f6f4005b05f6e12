package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

// SaveJob inserts or replaces the stored job record.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	query := fmt.Sprintf(`INSERT OR REPLACE INTO hoist_jobs (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, jobColumns)
	if _, err := s.db.ExecContext(ctx, query, jobArgs(j)...); err != nil {
		return fmt.Errorf("hoist/sqlite: save job: %w", err)
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
	query := fmt.Sprintf(`SELECT %s FROM hoist_jobs WHERE id = ?`, jobColumns)
	j, err := scanJob(s.db.QueryRowContext(ctx, query, jobID.String()))
	if err != nil {
		if isNoRows(err) {
			return nil, hoist.ErrJobNotFound
		}
		return nil, fmt.Errorf("hoist/sqlite: find job: %w", err)
	}
	return j, nil
}

// UpdateJobStatus overwrites the status and outcome of a job without
// transition validation. Delivery eligibility follows the status
// column, so no separate queue cleanup is needed.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID id.JobID, status job.Status, out job.Outcome) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE hoist_jobs
		SET status = ?, result = ?, last_error = ?, updated_at = ?
		WHERE id = ?`,
		string(status), out.Result, out.Error, time.Now().UTC(), jobID.String())
	if err != nil {
		return fmt.Errorf("hoist/sqlite: update job status: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 driver always returns nil
	if rows == 0 {
		return hoist.ErrJobNotFound
	}
	return nil
}

// listFilters builds the WHERE clause shared by ListJobs and CountJobs.
func listFilters(status job.Status, jobType, queue string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(status))
	}
	if jobType != "" {
		conds = append(conds, "type = ?")
		args = append(args, jobType)
	}
	if queue != "" {
		conds = append(conds, "queue = ?")
		args = append(args, queue)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListJobs returns jobs matching the filters, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	where, args := listFilters(opts.Status, opts.Type, opts.Queue)

	query := fmt.Sprintf(`SELECT %s FROM hoist_jobs%s ORDER BY created_at DESC, id DESC`,
		jobColumns, where)
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
		if opts.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, opts.Offset)
		}
	} else if opts.Offset > 0 {
		// SQLite requires LIMIT before OFFSET; -1 means unbounded.
		query += " LIMIT -1 OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("hoist/sqlite: list jobs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("hoist/sqlite: list jobs scan: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CountJobs returns the number of jobs matching the filters.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	where, args := listFilters(opts.Status, opts.Type, opts.Queue)

	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM hoist_jobs"+where, args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("hoist/sqlite: count jobs: %w", err)
	}
	return count, nil
}

// DeleteJob removes a job row.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM hoist_jobs WHERE id = ?`, jobID.String())
	if err != nil {
		return fmt.Errorf("hoist/sqlite: delete job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 driver always returns nil
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE hoist_jobs
		SET heartbeat_at = ?, worker_id = ?
		WHERE id = ?`,
		time.Now().UTC(), workerID.String(), jobID.String())
	if err != nil {
		return fmt.Errorf("hoist/sqlite: heartbeat job: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 driver always returns nil
	if rows == 0 {
		return hoist.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	query := fmt.Sprintf(`SELECT %s FROM hoist_jobs
		WHERE status = 'running' AND heartbeat_at IS NOT NULL AND heartbeat_at < ?`,
		jobColumns)

	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("hoist/sqlite: reap stale jobs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var stale []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("hoist/sqlite: reap stale scan: %w", err)
		}
		stale = append(stale, j)
	}
	return stale, rows.Err()
}
