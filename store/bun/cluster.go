package bunstore

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
	m := toWorkerModel(w)
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("hostname = EXCLUDED.hostname").
		Set("queues = EXCLUDED.queues").
		Set("concurrency = EXCLUDED.concurrency").
		Set("state = EXCLUDED.state").
		Set("last_seen = EXCLUDED.last_seen").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hoist/bun: register worker: %w", err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.NewDelete().
		Model((*workerModel)(nil)).
		Where("id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hoist/bun: deregister worker: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return hoist.ErrWorkerNotFound
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	res, err := s.db.NewUpdate().
		Model((*workerModel)(nil)).
		Set("last_seen = ?", time.Now().UTC()).
		Where("id = ?", workerID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("hoist/bun: heartbeat worker: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return hoist.ErrWorkerNotFound
	}
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	var models []workerModel
	err := s.db.NewSelect().Model(&models).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hoist/bun: list workers: %w", err)
	}

	workers := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		w, convErr := fromWorkerModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("hoist/bun: list workers convert: %w", convErr)
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older
// than the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	var models []workerModel
	err := s.db.NewSelect().Model(&models).
		Where("last_seen < ?", cutoff).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("hoist/bun: reap dead workers: %w", err)
	}

	dead := make([]*cluster.Worker, 0, len(models))
	for i := range models {
		w, convErr := fromWorkerModel(&models[i])
		if convErr != nil {
			return nil, fmt.Errorf("hoist/bun: reap dead convert: %w", convErr)
		}
		dead = append(dead, w)
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader. The lease is
// a single row; the upsert takes over only when the lease is expired or
// already held by this worker.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	wID := workerID.String()

	res, err := s.db.NewRaw(`
		INSERT INTO hoist_leader (id, worker_id, until) VALUES (1, ?0, ?1)
		ON CONFLICT (id) DO UPDATE SET worker_id = EXCLUDED.worker_id, until = EXCLUDED.until
		WHERE hoist_leader.until <= ?2 OR hoist_leader.worker_id = EXCLUDED.worker_id`,
		wID, now.Add(ttl), now,
	).Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("hoist/bun: acquire leadership: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
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

	res, err := s.db.NewRaw(
		`UPDATE hoist_leader SET until = ?0 WHERE id = 1 AND worker_id = ?1`,
		now.Add(ttl), wID,
	).Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("hoist/bun: renew leadership: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return false, nil
	}

	s.markLeader(ctx, wID, now.Add(ttl))
	return true, nil
}

// markLeader mirrors the lease onto the worker record for ListWorkers
// visibility. Best effort: the lease row is the source of truth.
func (s *Store) markLeader(ctx context.Context, wID string, until time.Time) {
	_, err := s.db.NewUpdate().
		Model((*workerModel)(nil)).
		Set("is_leader = TRUE").
		Set("leader_until = ?", until).
		Where("id = ?", wID).
		Exec(ctx)
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
		return nil, fmt.Errorf("hoist/bun: get leader: %w", err)
	}

	m := new(workerModel)
	err = s.db.NewSelect().Model(m).
		Where("id = ?", wID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("hoist/bun: get leader worker: %w", err)
	}
	return fromWorkerModel(m)
}
