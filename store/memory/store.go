// Package memory implements store.Backend entirely in process memory.
// A single mutex guards all state, which makes every contract operation
// atomic. Intended for unit testing, development, and single-process
// deployments.
package memory

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/cluster"
	"github.com/hoistq/hoist/cron"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
	"github.com/hoistq/hoist/queue"
)

// Compile-time interface checks. The composite store.Backend cannot be
// asserted here (import cycle), so each subsystem contract is verified.
var (
	_ job.Store     = (*Store)(nil)
	_ queue.Queue   = (*Store)(nil)
	_ cron.Store    = (*Store)(nil)
	_ cluster.Store = (*Store)(nil)
)

// scheduledEntry is one deferred job in the time-ordered set.
type scheduledEntry struct {
	at    time.Time
	jobID string
	queue string
}

// scheduleHeap is a min-heap of scheduled entries ordered by due time.
type scheduleHeap []scheduledEntry

func (h scheduleHeap) Len() int            { return len(h) }
func (h scheduleHeap) Less(i, k int) bool  { return h[i].at.Before(h[k].at) }
func (h scheduleHeap) Swap(i, k int)       { h[i], h[k] = h[k], h[i] }
func (h *scheduleHeap) Push(x any)         { *h = append(*h, x.(scheduledEntry)) }
func (h *scheduleHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// tiers holds the ready job IDs of one queue, one FIFO slice per
// priority. Indexed by job.Priority.
type tiers [len(job.Priorities)][]string

// Store is a fully in-memory store.Backend implementation.
type Store struct {
	mu sync.Mutex

	jobs      map[string]*job.Job
	ready     map[string]*tiers
	scheduled scheduleHeap
	crons     map[string]*cron.Entry
	workers   map[string]*cluster.Worker

	// leader tracks the current cluster leader worker ID string.
	leader      string
	leaderUntil time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		ready:   make(map[string]*tiers),
		crons:   make(map[string]*cron.Entry),
		workers: make(map[string]*cluster.Worker),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// readyTiers returns the tier set for a queue, creating it on first use.
// Caller must hold m.mu.
func (m *Store) readyTiers(q string) *tiers {
	t, ok := m.ready[q]
	if !ok {
		t = &tiers{}
		m.ready[q] = t
	}
	return t
}

// removeReady deletes jobID from every tier of the queue. Caller must
// hold m.mu.
func (m *Store) removeReady(q, jobID string) {
	t, ok := m.ready[q]
	if !ok {
		return
	}
	for p := range t {
		for i, jid := range t[p] {
			if jid == jobID {
				t[p] = append(t[p][:i], t[p][i+1:]...)
				break
			}
		}
	}
}

// removeScheduled deletes jobID from the scheduled heap. Caller must
// hold m.mu.
func (m *Store) removeScheduled(jobID string) {
	for i := range m.scheduled {
		if m.scheduled[i].jobID == jobID {
			heap.Remove(&m.scheduled, i)
			return
		}
	}
}

// ──────────────────────────────────────────────────
// queue.Queue
// ──────────────────────────────────────────────────

// Enqueue persists the job and appends it to the ready tier for its
// priority.
func (m *Store) Enqueue(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return hoist.ErrJobAlreadyExists
	}
	m.jobs[key] = j.Clone()

	t := m.readyTiers(j.Queue)
	t[j.Priority] = append(t[j.Priority], key)
	return nil
}

// Schedule persists the job and inserts it into the time-ordered
// scheduled set, invisible to Dequeue until promoted.
func (m *Store) Schedule(_ context.Context, j *job.Job, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	if _, exists := m.jobs[key]; exists {
		return hoist.ErrJobAlreadyExists
	}
	cp := j.Clone()
	cp.Status = job.StatusScheduled
	cp.ExecuteAt = at.UTC()
	m.jobs[key] = cp

	m.readyTiers(j.Queue) // register the queue name
	heap.Push(&m.scheduled, scheduledEntry{at: at.UTC(), jobID: key, queue: j.Queue})
	return nil
}

// Dequeue claims one ready job: the head of the highest non-empty
// priority tier, scanning queues in the order given. The claim applies
// the start transition under the store mutex, so two concurrent callers
// never receive the same job.
func (m *Store) Dequeue(_ context.Context, workerID id.WorkerID, queues []string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	for _, q := range queues {
		t, ok := m.ready[q]
		if !ok {
			continue
		}
		for _, p := range job.Priorities {
			for len(t[p]) > 0 {
				key := t[p][0]
				t[p] = t[p][1:]

				j, exists := m.jobs[key]
				if !exists || j.Status != job.StatusPending {
					continue // deleted or mutated out from under the tier
				}

				started, err := job.Start(*j, workerID, now)
				if err != nil {
					continue
				}
				m.jobs[key] = &started
				return started.Clone(), nil
			}
		}
	}
	return nil, hoist.ErrQueueEmpty
}

// Peek returns the job Dequeue would deliver next without claiming it.
func (m *Store) Peek(_ context.Context, q string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.ready[q]
	if !ok {
		return nil, hoist.ErrQueueEmpty
	}
	for _, p := range job.Priorities {
		for _, key := range t[p] {
			if j, exists := m.jobs[key]; exists && j.Status == job.StatusPending {
				return j.Clone(), nil
			}
		}
	}
	return nil, hoist.ErrQueueEmpty
}

// ProcessDue promotes every scheduled job with ExecuteAt <= now into
// its priority tier. Each heap entry is popped exactly once, and a
// popped entry whose job has since been cancelled, deleted, or already
// promoted is skipped, so repeated and concurrent calls are idempotent.
func (m *Store) ProcessDue(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now = now.UTC()
	promoted := 0
	for len(m.scheduled) > 0 && !m.scheduled[0].at.After(now) {
		e := heap.Pop(&m.scheduled).(scheduledEntry)

		j, exists := m.jobs[e.jobID]
		if !exists || j.Status != job.StatusScheduled {
			continue
		}
		j.Status = job.StatusPending
		j.Touch(now)

		t := m.readyTiers(e.queue)
		t[j.Priority] = append(t[j.Priority], e.jobID)
		promoted++
	}
	return promoted, nil
}

// Delete removes a job from the ready and scheduled structures of the
// queue. The job record itself is untouched; no-op if absent.
func (m *Store) Delete(_ context.Context, q string, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	m.removeReady(q, key)
	m.removeScheduled(key)
	return nil
}

// Size returns the number of ready jobs in the queue.
func (m *Store) Size(_ context.Context, q string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.ready[q]
	if !ok {
		return 0, nil
	}
	var n int64
	for p := range t {
		n += int64(len(t[p]))
	}
	return n, nil
}

// ScheduledSize returns the number of jobs waiting in the scheduled set
// of the queue.
func (m *Store) ScheduledSize(_ context.Context, q string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, e := range m.scheduled {
		if e.queue != q {
			continue
		}
		if j, exists := m.jobs[e.jobID]; exists && j.Status == job.StatusScheduled {
			n++
		}
	}
	return n, nil
}

// Queues returns the names of all queues the store has seen, sorted.
func (m *Store) Queues(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.ready))
	for q := range m.ready {
		names = append(names, q)
	}
	sort.Strings(names)
	return names, nil
}

// ──────────────────────────────────────────────────
// job.Store
// ──────────────────────────────────────────────────

// SaveJob inserts or replaces the stored job record and reconciles the
// delivery structures with the saved status: a pending job lands on its
// ready tier, a scheduled job in the scheduled set, and anything else is
// removed from both.
func (m *Store) SaveJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	cp := j.Clone()
	m.jobs[key] = cp

	m.removeReady(cp.Queue, key)
	m.removeScheduled(key)
	switch cp.Status {
	case job.StatusPending:
		t := m.readyTiers(cp.Queue)
		t[cp.Priority] = append(t[cp.Priority], key)
	case job.StatusScheduled:
		heap.Push(&m.scheduled, scheduledEntry{at: cp.ExecuteAt, jobID: key, queue: cp.Queue})
	}
	return nil
}

// FindJob retrieves a job by ID.
func (m *Store) FindJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, hoist.ErrJobNotFound
	}
	return j.Clone(), nil
}

// UpdateJobStatus overwrites the status and outcome of a job without
// transition validation. A job moved off pending is also removed from
// its ready tier so it cannot be delivered.
func (m *Store) UpdateJobStatus(_ context.Context, jobID id.JobID, status job.Status, out job.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	j, ok := m.jobs[key]
	if !ok {
		return hoist.ErrJobNotFound
	}

	j.Status = status
	j.Result = out.Result
	j.LastError = out.Error
	j.Touch(time.Now().UTC())

	if status != job.StatusPending {
		m.removeReady(j.Queue, key)
	}
	if status != job.StatusScheduled {
		m.removeScheduled(key)
	}
	return nil
}

// ListJobs returns jobs matching the filters, newest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		result = append(result, j.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	return paginate(result, opts.Limit, opts.Offset), nil
}

// CountJobs returns the number of jobs matching the filters.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		if opts.Type != "" && j.Type != opts.Type {
			continue
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		count++
	}
	return count, nil
}

// DeleteJob removes a job record and its queue bookkeeping.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	j, ok := m.jobs[key]
	if !ok {
		return hoist.ErrJobNotFound
	}
	m.removeReady(j.Queue, key)
	m.removeScheduled(key)
	delete(m.jobs, key)
	return nil
}

// DeadLetterJobs returns dead jobs, newest first.
func (m *Store) DeadLetterJobs(ctx context.Context, q string, limit, offset int) ([]*job.Job, error) {
	return m.ListJobs(ctx, job.ListOpts{
		Status: job.StatusDead,
		Queue:  q,
		Limit:  limit,
		Offset: offset,
	})
}

// RequeueJob returns a dead job to pending with a fresh retry budget
// and appends it back onto its ready tier.
func (m *Store) RequeueJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	j, ok := m.jobs[key]
	if !ok {
		return nil, hoist.ErrJobNotFound
	}

	requeued, err := job.Requeue(*j, time.Now())
	if err != nil {
		return nil, err
	}
	m.jobs[key] = &requeued

	t := m.readyTiers(requeued.Queue)
	t[requeued.Priority] = append(t[requeued.Priority], key)
	return requeued.Clone(), nil
}

// ReturnJob puts a reverted claim back at the head of its ready tier,
// so the job keeps the delivery position it held before the claim.
func (m *Store) ReturnJob(_ context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := j.ID.String()
	cp := j.Clone()
	m.jobs[key] = cp

	m.removeReady(cp.Queue, key)
	m.removeScheduled(key)
	if cp.Status == job.StatusPending {
		t := m.readyTiers(cp.Queue)
		t[cp.Priority] = append([]string{key}, t[cp.Priority]...)
	}
	return nil
}

// HeartbeatJob updates the heartbeat timestamp for a running job.
func (m *Store) HeartbeatJob(_ context.Context, jobID id.JobID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return hoist.ErrJobNotFound
	}
	now := time.Now().UTC()
	j.HeartbeatAt = &now
	j.WorkerID = workerID
	return nil
}

// ReapStaleJobs returns running jobs whose last heartbeat is older than
// the given threshold.
func (m *Store) ReapStaleJobs(_ context.Context, threshold time.Duration) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var stale []*job.Job
	for _, j := range m.jobs {
		if j.Status != job.StatusRunning {
			continue
		}
		if j.HeartbeatAt != nil && j.HeartbeatAt.Before(cutoff) {
			stale = append(stale, j.Clone())
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

// ──────────────────────────────────────────────────
// cron.Store
// ──────────────────────────────────────────────────

// RegisterCron persists a new cron entry. Returns an error if the name
// already exists.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.crons {
		if e.Name == entry.Name {
			return hoist.ErrDuplicateCron
		}
	}
	m.crons[entry.ID.String()] = entry.Clone()
	return nil
}

// GetCron retrieves a cron entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.CronID) (*cron.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return nil, hoist.ErrCronNotFound
	}
	return e.Clone(), nil
}

// ListCrons returns all cron entries, oldest first.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		result = append(result, e.Clone())
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// AcquireCronLock attempts to acquire the lock for a cron entry.
func (m *Store) AcquireCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return false, hoist.ErrCronNotFound
	}

	now := time.Now().UTC()
	if e.LockedBy != "" && e.LockedUntil != nil && e.LockedUntil.After(now) {
		if e.LockedBy != workerID.String() {
			return false, nil
		}
	}

	e.LockedBy = workerID.String()
	until := now.Add(ttl)
	e.LockedUntil = &until
	return true, nil
}

// ReleaseCronLock releases the lock for a cron entry.
func (m *Store) ReleaseCronLock(_ context.Context, entryID id.CronID, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return hoist.ErrCronNotFound
	}
	if e.LockedBy != workerID.String() {
		return nil // not holding the lock; no-op
	}
	e.LockedBy = ""
	e.LockedUntil = nil
	return nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (m *Store) UpdateCronLastRun(_ context.Context, entryID id.CronID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return hoist.ErrCronNotFound
	}
	e.LastRunAt = &at
	e.Touch(time.Now())
	return nil
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.crons[key]; !ok {
		return hoist.ErrCronNotFound
	}
	cp := entry.Clone()
	cp.Touch(time.Now())
	m.crons[key] = cp
	return nil
}

// DeleteCron removes a cron entry by ID.
func (m *Store) DeleteCron(_ context.Context, entryID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.crons[key]; !ok {
		return hoist.ErrCronNotFound
	}
	delete(m.crons, key)
	return nil
}

// ──────────────────────────────────────────────────
// cluster.Store
// ──────────────────────────────────────────────────

// RegisterWorker adds a new worker to the cluster registry.
func (m *Store) RegisterWorker(_ context.Context, w *cluster.Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.workers[w.ID.String()] = w.Clone()
	return nil
}

// DeregisterWorker removes a worker from the cluster registry.
func (m *Store) DeregisterWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := workerID.String()
	if _, ok := m.workers[key]; !ok {
		return hoist.ErrWorkerNotFound
	}
	delete(m.workers, key)
	return nil
}

// HeartbeatWorker updates the last-seen timestamp for a worker.
func (m *Store) HeartbeatWorker(_ context.Context, workerID id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[workerID.String()]
	if !ok {
		return hoist.ErrWorkerNotFound
	}
	w.LastSeen = time.Now().UTC()
	return nil
}

// ListWorkers returns all registered workers, oldest first.
func (m *Store) ListWorkers(_ context.Context) ([]*cluster.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*cluster.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		result = append(result, w.Clone())
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ReapDeadWorkers returns workers whose last-seen timestamp is older
// than the given threshold.
func (m *Store) ReapDeadWorkers(_ context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-threshold)
	var dead []*cluster.Worker
	for _, w := range m.workers {
		if w.LastSeen.Before(cutoff) {
			dead = append(dead, w.Clone())
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader.
func (m *Store) AcquireLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	wKey := workerID.String()

	if m.leader != "" && m.leaderUntil.After(now) && m.leader != wKey {
		return false, nil
	}

	m.leader = wKey
	m.leaderUntil = now.Add(ttl)

	if w, ok := m.workers[wKey]; ok {
		w.IsLeader = true
		until := m.leaderUntil
		w.LeaderUntil = &until
	}
	return true, nil
}

// RenewLeadership extends the leader's hold.
func (m *Store) RenewLeadership(_ context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wKey := workerID.String()
	if m.leader != wKey {
		return false, nil
	}
	m.leaderUntil = time.Now().UTC().Add(ttl)

	if w, ok := m.workers[wKey]; ok {
		until := m.leaderUntil
		w.LeaderUntil = &until
	}
	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no
// leader.
func (m *Store) GetLeader(_ context.Context) (*cluster.Worker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.leader == "" || m.leaderUntil.Before(time.Now().UTC()) {
		return nil, nil
	}
	w, ok := m.workers[m.leader]
	if !ok {
		return nil, nil
	}
	return w.Clone(), nil
}
