package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hoistq/hoist/cluster"
	"github.com/hoistq/hoist/ext"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
	"github.com/hoistq/hoist/queue"
)

// Backend is the store surface the pool needs: job persistence plus
// queue delivery. Every store adapter satisfies it.
type Backend interface {
	job.Store
	queue.Queue
}

// Pool runs a set of concurrent Workers that claim and execute jobs,
// plus the supporting loops: a promoter that moves due scheduled jobs
// into the ready tiers, a heartbeat loop that keeps running jobs alive,
// and a leader-gated reaper that requeues jobs abandoned by crashed
// workers.
type Pool struct {
	backend      Backend
	clusterStore cluster.Store
	executor     *Executor
	extensions   *ext.Registry
	manager      *queue.Manager
	workerID     id.WorkerID
	logger       *slog.Logger

	concurrency       int
	queues            []string
	pollInterval      time.Duration
	scheduledInterval time.Duration
	heartbeatInterval time.Duration
	staleJobThreshold time.Duration
	shutdownTimeout   time.Duration

	workers []*Worker

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	activeMu   sync.Mutex
	activeJobs map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithQueues sets the queues workers poll, in priority scan order.
func WithQueues(queues []string) PoolOption {
	return func(p *Pool) { p.queues = queues }
}

// WithPollInterval sets how long an idle worker sleeps between polls.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithScheduledInterval sets how often the promoter moves due scheduled
// jobs into the ready tiers.
func WithScheduledInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.scheduledInterval = d }
}

// WithHeartbeatInterval sets how often running jobs are marked alive.
// Zero disables the heartbeat loop.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithStaleJobThreshold sets the heartbeat age past which a running job
// counts as abandoned and is requeued. Zero disables the reaper.
func WithStaleJobThreshold(d time.Duration) PoolOption {
	return func(p *Pool) { p.staleJobThreshold = d }
}

// WithShutdownTimeout sets how long Stop waits for in-flight jobs
// before cancelling their contexts. Zero waits indefinitely.
func WithShutdownTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.shutdownTimeout = d }
}

// WithManager sets the queue manager consulted before executing a
// claimed job.
func WithManager(m *queue.Manager) PoolOption {
	return func(p *Pool) { p.manager = m }
}

// WithClusterStore enables leader gating for the reaper. Without it the
// reaper runs on every pool.
func WithClusterStore(cs cluster.Store) PoolOption {
	return func(p *Pool) { p.clusterStore = cs }
}

// WithWorkerID sets the pool's worker identity. Defaults to a fresh ID.
func WithWorkerID(workerID id.WorkerID) PoolOption {
	return func(p *Pool) { p.workerID = workerID }
}

// NewPool creates a worker pool.
func NewPool(
	backend Backend,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		backend:           backend,
		executor:          executor,
		extensions:        extensions,
		workerID:          id.NewWorkerID(),
		logger:            logger,
		concurrency:       10,
		queues:            []string{"default"},
		pollInterval:      time.Second,
		scheduledInterval: time.Second,
		stopCh:            make(chan struct{}),
		activeJobs:        make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's worker identity.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// WorkerStates returns the current state of every worker goroutine, in
// slot order. Empty before Start.
func (p *Pool) WorkerStates() []State {
	p.mu.Lock()
	defer p.mu.Unlock()

	states := make([]State, len(p.workers))
	for i, w := range p.workers {
		states[i] = w.State()
	}
	return states
}

// ActiveJobs returns how many jobs the pool is currently executing.
func (p *Pool) ActiveJobs() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.activeJobs)
}

// Start launches the worker goroutines and supporting loops. It returns
// immediately; calling Start on a running pool is a no-op.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
		slog.Any("queues", p.queues),
	)

	p.workers = make([]*Worker, p.concurrency)
	for i := range p.concurrency {
		w := &Worker{slot: i, pool: p}
		p.workers[i] = w
		p.wg.Add(1)
		go w.run()
	}

	p.wg.Add(1)
	go p.promoterLoop()

	if p.heartbeatInterval > 0 {
		p.wg.Add(1)
		go p.heartbeatLoop()
	}
	if p.staleJobThreshold > 0 {
		p.wg.Add(1)
		go p.reaperLoop()
	}
	return nil
}

// Stop drains the pool: workers stop claiming, in-flight jobs run to
// completion, and once the shutdown timeout (or the context deadline)
// expires the contexts of still-running jobs are cancelled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	var deadline <-chan time.Time
	if p.shutdownTimeout > 0 {
		timer := time.NewTimer(p.shutdownTimeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
	case <-deadline:
		p.logger.Warn("worker pool drain timed out, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	case <-ctx.Done():
		p.logger.Warn("worker pool stop cancelled, cancelling active jobs")
		p.cancelActiveJobs()
		<-done
	}
	return nil
}

// promoterLoop periodically promotes due scheduled jobs so workers can
// claim them.
func (p *Pool) promoterLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.scheduledInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			promoted, err := p.backend.ProcessDue(context.Background(), time.Now())
			if err != nil {
				p.logger.Error("promote due jobs error", slog.String("error", err.Error()))
				continue
			}
			if promoted > 0 {
				p.logger.Debug("promoted due jobs", slog.Int("count", promoted))
			}
		}
	}
}

// heartbeatLoop marks every in-flight job alive so the reaper leaves it
// be.
func (p *Pool) heartbeatLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.sendHeartbeats()
		}
	}
}

func (p *Pool) sendHeartbeats() {
	p.activeMu.Lock()
	jobIDs := make([]string, 0, len(p.activeJobs))
	for jobID := range p.activeJobs {
		jobIDs = append(jobIDs, jobID)
	}
	p.activeMu.Unlock()

	ctx := context.Background()
	for _, raw := range jobIDs {
		jobID, err := id.ParseJobID(raw)
		if err != nil {
			continue
		}
		if err := p.backend.HeartbeatJob(ctx, jobID, p.workerID); err != nil {
			p.logger.Warn("heartbeat failed",
				slog.String("job_id", raw),
				slog.String("error", err.Error()),
			)
		}
	}
}

// reaperLoop requeues jobs whose worker stopped heartbeating. With a
// cluster store configured, only the leader reaps.
func (p *Pool) reaperLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.staleJobThreshold)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.reapStaleJobs()
		}
	}
}

func (p *Pool) reapStaleJobs() {
	ctx := context.Background()

	if p.clusterStore != nil {
		leader, err := p.clusterStore.GetLeader(ctx)
		if err != nil {
			p.logger.Warn("get leader error", slog.String("error", err.Error()))
			return
		}
		if leader == nil || leader.ID.String() != p.workerID.String() {
			return
		}
	}

	stale, err := p.backend.ReapStaleJobs(ctx, p.staleJobThreshold)
	if err != nil {
		p.logger.Error("reap stale jobs error", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, j := range stale {
		j.Status = job.StatusPending
		j.ExecuteAt = now
		j.WorkerID = id.Nil
		j.StartedAt = nil
		j.HeartbeatAt = nil
		j.Touch(now)

		if err := p.backend.SaveJob(ctx, j); err != nil {
			p.logger.Error("requeue stale job error",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		p.logger.Info("requeued stale job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
		)
	}
}

// sleep blocks for the poll interval or until stop, whichever first.
func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
