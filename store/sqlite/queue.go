package sqlite

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
	query := fmt.Sprintf(`INSERT INTO hoist_jobs (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, jobColumns)
	if _, err := s.db.ExecContext(ctx, query, jobArgs(j)...); err != nil {
		if isDuplicateKey(err) {
			return hoist.ErrJobAlreadyExists
		}
		return fmt.Errorf("hoist/sqlite: enqueue job: %w", err)
	}
	return nil
}

// Schedule persists the job as a scheduled row keyed by at, invisible
// to Dequeue until promoted by ProcessDue.
func (s *Store) Schedule(ctx context.Context, j *job.Job, at time.Time) error {
	cp := j.Clone()
	cp.Status = job.StatusScheduled
	cp.ExecuteAt = at.UTC()

	query := fmt.Sprintf(`INSERT INTO hoist_jobs (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, jobColumns)
	if _, err := s.db.ExecContext(ctx, query, jobArgs(cp)...); err != nil {
		if isDuplicateKey(err) {
			return hoist.ErrJobAlreadyExists
		}
		return fmt.Errorf("hoist/sqlite: schedule job: %w", err)
	}
	return nil
}

// Dequeue claims one ready job per call: the oldest row of the highest
// non-empty priority, scanning queues in the order given. The claim is
// a single UPDATE ... RETURNING applying the start transition, atomic
// under SQLite's writer lock.
func (s *Store) Dequeue(ctx context.Context, workerID id.WorkerID, queues []string) (*job.Job, error) {
	now := time.Now().UTC()

	query := fmt.Sprintf(`
		UPDATE hoist_jobs
		SET status = 'running', attempt = attempt + 1, worker_id = ?,
		    started_at = ?, heartbeat_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM hoist_jobs
			WHERE status = 'pending' AND queue = ?
			ORDER BY priority DESC, id ASC
			LIMIT 1
		)
		RETURNING %s`, jobColumns)

	for _, q := range queues {
		j, err := scanJob(s.db.QueryRowContext(ctx, query,
			workerID.String(), now, now, now, q))
		if err != nil {
			if isNoRows(err) {
				continue
			}
			return nil, fmt.Errorf("hoist/sqlite: dequeue: %w", err)
		}
		return j, nil
	}
	return nil, hoist.ErrQueueEmpty
}

// Peek returns the job Dequeue would deliver next from the queue
// without claiming it.
func (s *Store) Peek(ctx context.Context, q string) (*job.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM hoist_jobs
		WHERE status = 'pending' AND queue = ?
		ORDER BY priority DESC, id ASC
		LIMIT 1`, jobColumns)

	j, err := scanJob(s.db.QueryRowContext(ctx, query, q))
	if err != nil {
		if isNoRows(err) {
			return nil, hoist.ErrQueueEmpty
		}
		return nil, fmt.Errorf("hoist/sqlite: peek: %w", err)
	}
	return j, nil
}

// ProcessDue promotes every scheduled job with ExecuteAt <= now to
// pending, across all queues, in a single UPDATE. The status predicate
// makes repeated and concurrent calls idempotent.
func (s *Store) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE hoist_jobs
		SET status = 'pending', updated_at = ?
		WHERE status = 'scheduled' AND execute_at <= ?`,
		now.UTC(), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("hoist/sqlite: process due: %w", err)
	}
	promoted, _ := res.RowsAffected() //nolint:errcheck // sqlite3 driver always returns nil
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
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hoist_jobs WHERE status = 'pending' AND queue = ?`, q,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("hoist/sqlite: queue size: %w", err)
	}
	return n, nil
}

// ScheduledSize returns the number of jobs waiting in the scheduled set
// of the queue.
func (s *Store) ScheduledSize(ctx context.Context, q string) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM hoist_jobs WHERE status = 'scheduled' AND queue = ?`, q,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("hoist/sqlite: scheduled size: %w", err)
	}
	return n, nil
}

// Queues returns the names of all queues the store has seen, sorted.
func (s *Store) Queues(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT queue FROM hoist_jobs ORDER BY queue ASC`)
	if err != nil {
		return nil, fmt.Errorf("hoist/sqlite: list queues: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, fmt.Errorf("hoist/sqlite: scan queue name: %w", err)
		}
		names = append(names, q)
	}
	return names, rows.Err()
}
