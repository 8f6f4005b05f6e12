package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/cron"
	"github.com/hoistq/hoist/id"
)

// getCron loads and decodes one cron entry record.
func (s *Store) getCron(ctx context.Context, cronID string) (*cron.Entry, error) {
	b, err := s.client.Get(ctx, cronKey(cronID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, hoist.ErrCronNotFound
		}
		return nil, fmt.Errorf("hoist/redis: get cron %s: %w", cronID, err)
	}
	return decodeCron(b)
}

// putCron overwrites one cron entry record.
func (s *Store) putCron(ctx context.Context, e *cron.Entry) error {
	b, err := encodeCron(e)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, cronKey(e.ID.String()), b, 0).Err(); err != nil {
		return fmt.Errorf("hoist/redis: set cron %s: %w", e.ID, err)
	}
	return nil
}

// RegisterCron persists a new cron entry. The name-to-ID hash is the
// uniqueness check: HSetNX claims the name atomically.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	key := entry.ID.String()

	set, err := s.client.HSetNX(ctx, cronNamesKey, entry.Name, key).Result()
	if err != nil {
		return fmt.Errorf("hoist/redis: register cron claim name: %w", err)
	}
	if !set {
		return hoist.ErrDuplicateCron
	}

	b, err := encodeCron(entry)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, cronKey(key), b, 0)
	pipe.SAdd(ctx, cronIDsKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hoist/redis: register cron %s: %w", key, err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	return s.getCron(ctx, entryID.String())
}

// ListCrons returns all cron entries, oldest first.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	ids, err := s.client.SMembers(ctx, cronIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hoist/redis: list crons smembers: %w", err)
	}

	result := make([]*cron.Entry, 0, len(ids))
	for _, cID := range ids {
		e, err := s.getCron(ctx, cID)
		if err != nil {
			if errors.Is(err, hoist.ErrCronNotFound) {
				continue
			}
			return nil, err
		}
		result = append(result, e)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// AcquireCronLock attempts to acquire the firing lock for a cron entry
// via SET NX with a TTL. Re-acquiring a lock already held by the same
// worker refreshes the TTL.
func (s *Store) AcquireCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	key := cronLockKey(entryID.String())
	wID := workerID.String()

	ok, err := s.client.SetNX(ctx, key, wID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("hoist/redis: acquire cron lock: %w", err)
	}
	if ok {
		return true, nil
	}

	holder, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			// Lock expired between SetNX and Get; let the next tick retry.
			return false, nil
		}
		return false, fmt.Errorf("hoist/redis: acquire cron lock holder: %w", err)
	}
	if holder != wID {
		return false, nil
	}
	if err := s.client.Set(ctx, key, wID, ttl).Err(); err != nil {
		return false, fmt.Errorf("hoist/redis: refresh cron lock: %w", err)
	}
	return true, nil
}

// ReleaseCronLock releases the firing lock for a cron entry. A lock
// held by a different worker is left alone.
func (s *Store) ReleaseCronLock(ctx context.Context, entryID id.CronID, workerID id.WorkerID) error {
	key := cronLockKey(entryID.String())

	holder, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil
		}
		return fmt.Errorf("hoist/redis: release cron lock: %w", err)
	}
	if holder != workerID.String() {
		return nil
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("hoist/redis: release cron lock del: %w", err)
	}
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	e, err := s.getCron(ctx, entryID.String())
	if err != nil {
		return err
	}
	e.LastRunAt = &at
	e.Touch(time.Now())
	return s.putCron(ctx, e)
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	key := entry.ID.String()

	exists, err := s.client.Exists(ctx, cronKey(key)).Result()
	if err != nil {
		return fmt.Errorf("hoist/redis: update cron exists check: %w", err)
	}
	if exists == 0 {
		return hoist.ErrCronNotFound
	}
	entry.Touch(time.Now())
	return s.putCron(ctx, entry)
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	key := entryID.String()

	e, err := s.getCron(ctx, key)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, cronKey(key))
	pipe.Del(ctx, cronLockKey(key))
	pipe.SRem(ctx, cronIDsKey, key)
	pipe.HDel(ctx, cronNamesKey, e.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hoist/redis: delete cron %s: %w", key, err)
	}
	return nil
}
