package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/cluster"
	"github.com/hoistq/hoist/id"
)

// getWorker loads and decodes one worker record.
func (s *Store) getWorker(ctx context.Context, workerID string) (*cluster.Worker, error) {
	b, err := s.client.Get(ctx, workerKey(workerID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, hoist.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("hoist/redis: get worker %s: %w", workerID, err)
	}
	return decodeWorker(b)
}

// putWorker overwrites one worker record.
func (s *Store) putWorker(ctx context.Context, w *cluster.Worker) error {
	b, err := encodeWorker(w)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, workerKey(w.ID.String()), b, 0).Err(); err != nil {
		return fmt.Errorf("hoist/redis: set worker %s: %w", w.ID, err)
	}
	return nil
}

// RegisterWorker adds a new worker to the cluster registry.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	key := w.ID.String()

	b, err := encodeWorker(w)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, workerKey(key), b, 0)
	pipe.SAdd(ctx, workerIDsKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hoist/redis: register worker %s: %w", key, err)
	}
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.WorkerID) error {
	key := workerID.String()

	exists, err := s.client.Exists(ctx, workerKey(key)).Result()
	if err != nil {
		return fmt.Errorf("hoist/redis: deregister worker exists check: %w", err)
	}
	if exists == 0 {
		return hoist.ErrWorkerNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, workerKey(key))
	pipe.SRem(ctx, workerIDsKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hoist/redis: deregister worker %s: %w", key, err)
	}
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.WorkerID) error {
	w, err := s.getWorker(ctx, workerID.String())
	if err != nil {
		return err
	}
	w.LastSeen = time.Now().UTC()
	return s.putWorker(ctx, w)
}

// ListWorkers returns all registered workers, oldest first.
func (s *Store) ListWorkers(ctx context.Context) ([]*cluster.Worker, error) {
	ids, err := s.client.SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hoist/redis: list workers smembers: %w", err)
	}

	result := make([]*cluster.Worker, 0, len(ids))
	for _, wID := range ids {
		w, err := s.getWorker(ctx, wID)
		if err != nil {
			if errors.Is(err, hoist.ErrWorkerNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, w)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older
// than the given threshold.
func (s *Store) ReapDeadWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	workers, err := s.ListWorkers(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range workers {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w)
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader via SET NX
// with a TTL. Re-acquiring leadership already held by the same worker
// refreshes the TTL.
func (s *Store) AcquireLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()

	ok, err := s.client.SetNX(ctx, leaderKey, wID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("hoist/redis: acquire leadership: %w", err)
	}
	if !ok {
		holder, err := s.client.Get(ctx, leaderKey).Result()
		if err != nil {
			if errors.Is(err, goredis.Nil) {
				return false, nil
			}
			return false, fmt.Errorf("hoist/redis: acquire leadership holder: %w", err)
		}
		if holder != wID {
			return false, nil
		}
		if err := s.client.Set(ctx, leaderKey, wID, ttl).Err(); err != nil {
			return false, fmt.Errorf("hoist/redis: refresh leadership: %w", err)
		}
	}

	s.markLeader(ctx, wID, ttl)
	return true, nil
}

// RenewLeadership extends the leader's hold. Only the current holder
// can renew.
func (s *Store) RenewLeadership(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()

	holder, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("hoist/redis: renew leadership: %w", err)
	}
	if holder != wID {
		return false, nil
	}
	if err := s.client.Set(ctx, leaderKey, wID, ttl).Err(); err != nil {
		return false, fmt.Errorf("hoist/redis: renew leadership set: %w", err)
	}

	s.markLeader(ctx, wID, ttl)
	return true, nil
}

// markLeader mirrors the lease onto the worker record for ListWorkers
// visibility. Best effort: the leader key is the source of truth.
func (s *Store) markLeader(ctx context.Context, wID string, ttl time.Duration) {
	w, err := s.getWorker(ctx, wID)
	if err != nil {
		return
	}
	until := time.Now().UTC().Add(ttl)
	w.IsLeader = true
	w.LeaderUntil = &until
	if err := s.putWorker(ctx, w); err != nil {
		s.logger.Warn("failed to mark leader on worker record", "worker_id", wID, "error", err)
	}
}

// GetLeader returns the current cluster leader, or nil if there is no
// leader.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Worker, error) {
	holder, err := s.client.Get(ctx, leaderKey).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("hoist/redis: get leader: %w", err)
	}

	w, err := s.getWorker(ctx, holder)
	if err != nil {
		if errors.Is(err, hoist.ErrWorkerNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return w, nil
}
