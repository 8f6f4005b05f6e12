package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

// The delivery structures. Each queue holds one List per priority tier
// (LPUSH at the head, RPOP at the tail, so RPOP order is FIFO) and one
// Sorted Set of scheduled jobs scored by ExecuteAt. Claims run as Lua
// scripts that pop a job ID and rewrite its record fields in the same
// atomic step, so a crash can never leave a popped job stranded with a
// deliverable status.

// scheduledScore converts a due time into a sorted-set score.
func scheduledScore(at time.Time) float64 {
	return float64(at.UTC().UnixMilli())
}

// setJob writes the full job record hash on the given pipeliner.
func setJob(ctx context.Context, p goredis.Pipeliner, j *job.Job) {
	p.HSet(ctx, jobKey(j.ID.String()), jobToMap(j))
}

// getJob loads and decodes one job record.
func (s *Store) getJob(ctx context.Context, jobID string) (*job.Job, error) {
	m, err := s.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hoist/redis: get job %s: %w", jobID, err)
	}
	if len(m) == 0 {
		return nil, hoist.ErrJobNotFound
	}
	return jobFromMap(m)
}

// claimScript pops the tail of one ready tier and applies the start
// transition to the popped record in the same atomic step. Returns nil
// when the tier is empty, {id, 0} when the popped record is missing or
// no longer pending, and {id, 1} on a successful claim.
var claimScript = goredis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
	return false
end
local key = ARGV[1] .. id
if redis.call('HGET', key, 'status') ~= 'pending' then
	return {id, 0}
end
local attempt = tonumber(redis.call('HGET', key, 'attempt') or '0') + 1
redis.call('HSET', key,
	'status', 'running',
	'attempt', attempt,
	'worker_id', ARGV[2],
	'started_at', ARGV[3],
	'heartbeat_at', ARGV[3],
	'updated_at', ARGV[3])
return {id, 1}
`)

// promoteScript moves one due job from the scheduled set to its ready
// tier. The ZREM, the status flip, and the LPUSH happen in one atomic
// step; of any number of concurrent promoters, exactly one removes a
// given member. Returns 1 when the job was promoted.
var promoteScript = goredis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
local key = ARGV[2] .. ARGV[1]
if redis.call('HGET', key, 'status') ~= 'scheduled' then
	return 0
end
redis.call('HSET', key, 'status', 'pending', 'updated_at', ARGV[3])
local prio = redis.call('HGET', key, 'priority')
redis.call('LPUSH', ARGV[4] .. prio, ARGV[1])
return 1
`)

const jobKeyPrefix = keyPrefix + "job:"

// Enqueue persists the job and pushes it onto the ready tier for its
// priority.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	key := j.ID.String()

	exists, err := s.client.Exists(ctx, jobKey(key)).Result()
	if err != nil {
		return fmt.Errorf("hoist/redis: enqueue exists check: %w", err)
	}
	if exists > 0 {
		return hoist.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	setJob(ctx, pipe, j)
	pipe.SAdd(ctx, jobIDsKey, key)
	pipe.SAdd(ctx, queuesKey, j.Queue)
	pipe.LPush(ctx, readyKey(j.Queue, int(j.Priority)), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hoist/redis: enqueue job %s: %w", key, err)
	}
	return nil
}

// Schedule persists the job and inserts it into the queue's scheduled
// sorted set, invisible to Dequeue until promoted by ProcessDue.
func (s *Store) Schedule(ctx context.Context, j *job.Job, at time.Time) error {
	key := j.ID.String()

	exists, err := s.client.Exists(ctx, jobKey(key)).Result()
	if err != nil {
		return fmt.Errorf("hoist/redis: schedule exists check: %w", err)
	}
	if exists > 0 {
		return hoist.ErrJobAlreadyExists
	}

	cp := j.Clone()
	cp.Status = job.StatusScheduled
	cp.ExecuteAt = at.UTC()

	pipe := s.client.TxPipeline()
	setJob(ctx, pipe, cp)
	pipe.SAdd(ctx, jobIDsKey, key)
	pipe.SAdd(ctx, queuesKey, cp.Queue)
	pipe.ZAdd(ctx, scheduledKey(cp.Queue), goredis.Z{Score: scheduledScore(at), Member: key})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hoist/redis: schedule job %s: %w", key, err)
	}
	return nil
}

// Dequeue claims one ready job: the tail of the highest non-empty
// priority tier, scanning queues in the order given. The claim script
// pops the ID and applies the start transition in one atomic step, so
// two concurrent callers never receive the same job and a caller crash
// never strands a popped job in a deliverable status.
func (s *Store) Dequeue(ctx context.Context, workerID id.WorkerID, queues []string) (*job.Job, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	for _, q := range queues {
		for _, p := range job.Priorities {
			for {
				res, err := claimScript.Run(ctx, s.client,
					[]string{readyKey(q, int(p))},
					jobKeyPrefix, workerID.String(), now,
				).Result()
				if errors.Is(err, goredis.Nil) {
					break // tier empty, next priority
				}
				if err != nil {
					return nil, fmt.Errorf("hoist/redis: dequeue claim: %w", err)
				}

				reply, ok := res.([]any)
				if !ok || len(reply) != 2 {
					return nil, fmt.Errorf("hoist/redis: dequeue claim: unexpected reply %v", res)
				}
				key, _ := reply[0].(string)
				claimed, _ := reply[1].(int64)
				if claimed == 0 {
					continue // deleted or mutated out from under the tier
				}

				return s.getJob(ctx, key)
			}
		}
	}
	return nil, hoist.ErrQueueEmpty
}

// Peek returns the job Dequeue would deliver next from the queue
// without claiming it.
func (s *Store) Peek(ctx context.Context, q string) (*job.Job, error) {
	for _, p := range job.Priorities {
		keys, err := s.client.LRange(ctx, readyKey(q, int(p)), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("hoist/redis: peek lrange: %w", err)
		}
		// RPOP takes from the tail, so scan tail first.
		for i := len(keys) - 1; i >= 0; i-- {
			j, err := s.getJob(ctx, keys[i])
			if err != nil {
				if errors.Is(err, hoist.ErrJobNotFound) {
					continue
				}
				return nil, err
			}
			if j.Status == job.StatusPending {
				return j, nil
			}
		}
	}
	return nil, hoist.ErrQueueEmpty
}

// ProcessDue promotes every scheduled job with ExecuteAt <= now into
// its priority tier, fanning out one goroutine per queue. The promote
// script claims set membership and performs the promotion atomically,
// so no job is promoted or delivered twice.
func (s *Store) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	queues, err := s.client.SMembers(ctx, queuesKey).Result()
	if err != nil {
		return 0, fmt.Errorf("hoist/redis: process due queues: %w", err)
	}

	var promoted atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		g.Go(func() error {
			n, err := s.processDueQueue(ctx, q, now)
			promoted.Add(int64(n))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return int(promoted.Load()), err
	}
	return int(promoted.Load()), nil
}

func (s *Store) processDueQueue(ctx context.Context, q string, now time.Time) (int, error) {
	due, err := s.client.ZRangeByScore(ctx, scheduledKey(q), &goredis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UTC().UnixMilli()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("hoist/redis: process due zrange %s: %w", q, err)
	}

	nowArg := now.UTC().Format(time.RFC3339Nano)
	readyPrefix := keyPrefix + "ready:" + q + ":"

	promoted := 0
	for _, key := range due {
		n, err := promoteScript.Run(ctx, s.client,
			[]string{scheduledKey(q)},
			key, jobKeyPrefix, nowArg, readyPrefix,
		).Int()
		if err != nil {
			return promoted, fmt.Errorf("hoist/redis: promote job %s: %w", key, err)
		}
		promoted += n
	}
	return promoted, nil
}

// Delete removes a job from the ready and scheduled structures of the
// queue. The job record itself is untouched.
func (s *Store) Delete(ctx context.Context, q string, jobID id.JobID) error {
	key := jobID.String()

	pipe := s.client.TxPipeline()
	for _, p := range job.Priorities {
		pipe.LRem(ctx, readyKey(q, int(p)), 0, key)
	}
	pipe.ZRem(ctx, scheduledKey(q), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hoist/redis: delete from queue %s: %w", q, err)
	}
	return nil
}

// Size returns the number of ready jobs in the queue.
func (s *Store) Size(ctx context.Context, q string) (int64, error) {
	var n int64
	for _, p := range job.Priorities {
		l, err := s.client.LLen(ctx, readyKey(q, int(p))).Result()
		if err != nil {
			return 0, fmt.Errorf("hoist/redis: queue size: %w", err)
		}
		n += l
	}
	return n, nil
}

// ScheduledSize returns the number of jobs waiting in the scheduled set
// of the queue.
func (s *Store) ScheduledSize(ctx context.Context, q string) (int64, error) {
	n, err := s.client.ZCard(ctx, scheduledKey(q)).Result()
	if err != nil {
		return 0, fmt.Errorf("hoist/redis: scheduled size: %w", err)
	}
	return n, nil
}

// Queues returns the names of all queues the store has seen, sorted.
func (s *Store) Queues(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, queuesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hoist/redis: list queues: %w", err)
	}
	sort.Strings(names)
	return names, nil
}
