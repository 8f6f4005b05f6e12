package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/cluster"
	"github.com/hoistq/hoist/id"
)

// RegisterWorker adds a new worker to the cluster registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	args, err := workerArgs(w)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT OR REPLACE INTO hoist_workers (%s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, workerColumns)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("hoist/sqlite: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM hoist_workers WHERE id = ?`, workerID.String())
	if err != nil {
		return fmt.Errorf("hoist/sqlite: deregister worker: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 driver always returns nil
	if rows == 0 {
		return hoist.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE hoist_workers SET last_seen = ? WHERE id = ?`,
		time.Now().UTC(), workerID.String())
	if err != nil {
		return fmt.Errorf("hoist/sqlite: heartbeat worker: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 driver always returns nil
	if rows == 0 {
		return hoist.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	query := fmt.Sprintf(`SELECT %s FROM hoist_workers ORDER BY created_at ASC`, workerColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("hoist/sqlite: list workers: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var workers []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("hoist/sqlite: list workers scan: %w", err)
		}
		workers = append(workers, w)
	}
	return workers, rows.Err()
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older
// than the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	query := fmt.Sprintf(`SELECT %s FROM hoist_workers WHERE last_seen < ?`, workerColumns)
	rows, err := s.db.QueryContext(ctx, query, cutoff)
	if err != nil {
		return nil, fmt.Errorf("hoist/sqlite: reap dead workers: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var dead []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("hoist/sqlite: reap dead scan: %w", err)
		}
		dead = append(dead, w)
	}
	return dead, rows.Err()
}

// AcquireLeadership attempts to become the cluster leader. The lease is
// a single row; the upsert takes over only when the lease is expired or
// already held by this worker.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	wID := workerID.String()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO hoist_leader (id, worker_id, until) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET worker_id = excluded.worker_id, until = excluded.until
		WHERE hoist_leader.until <= ? OR hoist_leader.worker_id = excluded.worker_id`,
		wID, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("hoist/sqlite: acquire leadership: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 driver always returns nil
	if rows == 0 {
		return false, nil
	}

	s.markLeader(ctx, wID, now.Add(ttl))
	return true, nil
}

// RenewLeadership extends the leader's hold. Only the current holder
// can renew.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	wID := workerID.String()

	res, err := s.db.ExecContext(ctx, `
		UPDATE hoist_leader SET until = ? WHERE id = 1 AND worker_id = ?`,
		now.Add(ttl), wID)
	if err != nil {
		return false, fmt.Errorf("hoist/sqlite: renew leadership: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // sqlite3 driver always returns nil
	if rows == 0 {
		return false, nil
	}

	s.markLeader(ctx, wID, now.Add(ttl))
	return true, nil
}

// markLeader mirrors the lease onto the worker record for ListWorkers
// visibility. Best effort: the lease row is the source of truth.
func (s *Store) markLeader(ctx context.Context, wID string, until time.Time) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE hoist_workers SET is_leader = 1, leader_until = ? WHERE id = ?`,
		until, wID)
	if err != nil {
		s.logger.Warn("failed to mark leader on worker record", "worker_id", wID, "error", err)
	}
}

// GetLeader returns the current cluster leader, or nil if there is no
// unexpired lease.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	var wID string
	err := s.db.QueryRowContext(ctx,
		`SELECT worker_id FROM hoist_leader WHERE id = 1 AND until > ?`,
		time.Now().UTC(),
	).Scan(&wID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hoist/sqlite: get leader: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM hoist_workers WHERE id = ?`, workerColumns)
	w, err := scanWorker(s.db.QueryRowContext(ctx, query, wID))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hoist/sqlite: get leader worker: %w", err)
	}
	return w, nil
}
