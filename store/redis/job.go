package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

// SaveJob inserts or replaces the stored job record and reconciles the
// delivery structures with the saved status: a pending job lands on its
// ready tier, a scheduled job in the scheduled set, and anything else is
// removed from both.
func (s *Store) SaveJob(ctx context.Context, j *job.Job) error {
	return s.saveJob(ctx, j, false)
}

// ReturnJob saves a reverted claim. The job rejoins its ready tier at
// the delivery end, keeping the position it held before the claim.
func (s *Store) ReturnJob(ctx context.Context, j *job.Job) error {
	return s.saveJob(ctx, j, true)
}

// saveJob is the shared write path. front puts a pending job at the
// delivery end of its tier (RPUSH, where RPOP takes from) instead of
// the back of the line.
func (s *Store) saveJob(ctx context.Context, j *job.Job, front bool) error {
	key := j.ID.String()

	pipe := s.client.TxPipeline()
	setJob(ctx, pipe, j)
	pipe.SAdd(ctx, jobIDsKey, key)
	pipe.SAdd(ctx, queuesKey, j.Queue)
	for _, p := range job.Priorities {
		pipe.LRem(ctx, readyKey(j.Queue, int(p)), 0, key)
	}
	pipe.ZRem(ctx, scheduledKey(j.Queue), key)
	switch j.Status {
	case job.StatusPending:
		if front {
			pipe.RPush(ctx, readyKey(j.Queue, int(j.Priority)), key)
		} else {
			pipe.LPush(ctx, readyKey(j.Queue, int(j.Priority)), key)
		}
	case job.StatusScheduled:
		pipe.ZAdd(ctx, scheduledKey(j.Queue), goredis.Z{Score: scheduledScore(j.ExecuteAt), Member: key})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hoist/redis: save job %s: %w", key, err)
	}
	return nil
}

// FindJob retrieves a job by ID.
func (s *Store) FindJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJob(ctx, jobID.String())
}

// UpdateJobStatus overwrites the status and outcome of a job without
// transition validation. Only the outcome fields are written, so a
// concurrent heartbeat cannot be clobbered and cannot clobber this. A
// job moved off pending or scheduled is also removed from the delivery
// structures so it cannot surface again.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID id.JobID, status job.Status, out job.Outcome) error {
	key := jobID.String()

	q, err := s.client.HGet(ctx, jobKey(key), "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return hoist.ErrJobNotFound
		}
		return fmt.Errorf("hoist/redis: update job status %s: %w", key, err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, jobKey(key),
		"status", string(status),
		"result", string(out.Result),
		"last_error", out.Error,
		"updated_at", now,
	)
	if status != job.StatusPending {
		for _, p := range job.Priorities {
			pipe.LRem(ctx, readyKey(q, int(p)), 0, key)
		}
	}
	if status != job.StatusScheduled {
		pipe.ZRem(ctx, scheduledKey(q), key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hoist/redis: update job status %s: %w", key, err)
	}
	return nil
}

// listAll loads every stored job, skipping records deleted between the
// enumeration and the fetch.
func (s *Store) listAll(ctx context.Context) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("hoist/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, err := s.getJob(ctx, jID)
		if err != nil {
			if errors.Is(err, hoist.ErrJobNotFound) {
				continue
			}
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func matches(j *job.Job, status job.Status, jobType, queue string) bool {
	if status != "" && j.Status != status {
		return false
	}
	if jobType != "" && j.Type != jobType {
		return false
	}
	if queue != "" && j.Queue != queue {
		return false
	}
	return true
}

// ListJobs returns jobs matching the filters, newest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*job.Job, 0, len(all))
	for _, j := range all {
		if matches(j, opts.Status, opts.Type, opts.Queue) {
			result = append(result, j)
		}
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	return paginate(result, opts.Limit, opts.Offset), nil
}

// CountJobs returns the number of jobs matching the filters.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	all, err := s.listAll(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, j := range all {
		if matches(j, opts.Status, opts.Type, opts.Queue) {
			count++
		}
	}
	return count, nil
}

// DeleteJob removes a job record and its queue bookkeeping.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	key := jobID.String()

	j, err := s.getJob(ctx, key)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(key))
	pipe.SRem(ctx, jobIDsKey, key)
	for _, p := range job.Priorities {
		pipe.LRem(ctx, readyKey(j.Queue, int(p)), 0, key)
	}
	pipe.ZRem(ctx, scheduledKey(j.Queue), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hoist/redis: delete job %s: %w", key, err)
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

// RequeueJob returns a dead job to pending with a fresh retry budget
// and pushes it back onto its ready tier.
func (s *Store) RequeueJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	key := jobID.String()

	j, err := s.getJob(ctx, key)
	if err != nil {
		return nil, err
	}

	requeued, err := job.Requeue(*j, time.Now())
	if err != nil {
		return nil, err
	}

	pipe := s.client.TxPipeline()
	setJob(ctx, pipe, &requeued)
	pipe.LPush(ctx, readyKey(requeued.Queue, int(requeued.Priority)), key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("hoist/redis: requeue job %s: %w", key, err)
	}
	return &requeued, nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job. The
// write touches only the heartbeat fields, so it cannot race a full
// record save from the executor and resurrect a stale status or drop
// its result.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobID.String()

	exists, err := s.client.Exists(ctx, jobKey(key)).Result()
	if err != nil {
		return fmt.Errorf("hoist/redis: heartbeat job %s: %w", key, err)
	}
	if exists == 0 {
		return hoist.ErrJobNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.client.HSet(ctx, jobKey(key),
		"heartbeat_at", now,
		"worker_id", workerID.String(),
		"updated_at", now,
	).Err(); err != nil {
		return fmt.Errorf("hoist/redis: heartbeat job %s: %w", key, err)
	}
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	all, err := s.listAll(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range all {
		if j.Status != job.StatusRunning {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	return stale, nil
}

// paginate applies offset and limit to an already-sorted slice.
func paginate(jobs []*job.Job, limit, offset int) []*job.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return nil
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}
