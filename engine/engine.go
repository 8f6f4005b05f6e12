package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/backoff"
	"github.com/hoistq/hoist/cluster"
	"github.com/hoistq/hoist/cron"
	"github.com/hoistq/hoist/dlq"
	"github.com/hoistq/hoist/ext"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
	mw "github.com/hoistq/hoist/middleware"
	"github.com/hoistq/hoist/observability"
	"github.com/hoistq/hoist/queue"
	"github.com/hoistq/hoist/store"
	"github.com/hoistq/hoist/worker"
)

// meterName is the instrumentation scope name for engine-owned
// instruments.
const meterName = "github.com/hoistq/hoist"

// Engine ties the subsystems together over one backend.
type Engine struct {
	backend    store.Backend
	config     hoist.Config
	logger     *slog.Logger
	registry   *job.Registry
	extensions *ext.Registry
	bo         backoff.Strategy
	dlqService *dlq.Service
	pool       *worker.Pool
	scheduler  *cron.Scheduler
	manager    *queue.Manager
	workerID   id.WorkerID

	mws          []mw.Middleware
	queueConfigs []queue.Config
	opts         providerOptions

	depthGauge metric.Registration

	// ownsBackend marks backends opened by Open; Stop closes them.
	ownsBackend bool

	mu      sync.Mutex
	started bool
	closed  bool
}

// New creates an Engine over an already-constructed backend. The caller
// keeps ownership of the backend's connection.
func New(backend store.Backend, cfg hoist.Config, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, hoist.ErrNoBackend
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eng := &Engine{
		backend:  backend,
		config:   cfg,
		logger:   slog.Default(),
		workerID: id.NewWorkerID(),
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.registry == nil {
		eng.registry = job.NewRegistry()
	}
	if eng.extensions == nil {
		eng.extensions = ext.NewRegistry(eng.logger)
	}
	for _, e := range eng.opts.extensions {
		eng.extensions.Register(e)
	}

	if eng.bo == nil {
		bo, err := backoff.FromConfig(cfg.Backoff)
		if err != nil {
			return nil, err
		}
		eng.bo = bo
	}

	// Observability wiring: tracing and metrics middleware plus the
	// lifecycle metrics extension, on the injected providers or the
	// globals.
	tracingMw := mw.Tracing()
	if eng.opts.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.opts.tracerProvider.Tracer(meterName))
	}
	meter := otel.Meter(meterName)
	if eng.opts.meterProvider != nil {
		meter = eng.opts.meterProvider.Meter(meterName)
	}
	eng.extensions.Register(observability.NewMetricsExtensionWithMeter(meter))
	if reg, err := observability.RegisterQueueDepthGauge(meter, backend); err == nil {
		eng.depthGauge = reg
	} else {
		eng.logger.Warn("queue depth gauge unavailable", slog.String("error", err.Error()))
	}

	allMws := append([]mw.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		mw.MetricsWithMeter(meter),
		mw.Logging(eng.logger),
		mw.Timeout(eng.logger),
	}, eng.mws...)

	eng.dlqService = dlq.NewService(backend, eng.extensions, eng.logger)

	executor := worker.NewExecutor(
		eng.registry, eng.extensions, backend, eng.bo, eng.logger, allMws...,
	)

	poolOpts := []worker.PoolOption{
		worker.WithWorkerID(eng.workerID),
		worker.WithConcurrency(cfg.Concurrency),
		worker.WithQueues(cfg.Queues),
		worker.WithPollInterval(cfg.PollInterval),
		worker.WithScheduledInterval(cfg.ScheduledInterval),
		worker.WithHeartbeatInterval(cfg.HeartbeatInterval),
		worker.WithStaleJobThreshold(cfg.StaleJobThreshold),
		worker.WithShutdownTimeout(cfg.ShutdownTimeout),
		worker.WithClusterStore(backend),
	}
	if len(eng.queueConfigs) > 0 {
		eng.manager = queue.NewManager(eng.queueConfigs...)
		poolOpts = append(poolOpts, worker.WithManager(eng.manager))
	}
	eng.pool = worker.NewPool(backend, executor, eng.extensions, eng.logger, poolOpts...)

	enqueueFunc := func(ctx context.Context, jobType string, args []byte, opts ...job.Option) (id.JobID, error) {
		j, err := eng.Enqueue(ctx, jobType, args, opts...)
		if err != nil {
			return id.Nil, err
		}
		return j.ID, nil
	}
	eng.scheduler = cron.NewScheduler(
		backend, backend, enqueueFunc, eng.extensions, eng.workerID, eng.logger,
	)

	return eng, nil
}

// Open constructs the backend selected by cfg.Backend, migrates it, and
// builds an Engine that owns the connection: Stop closes it.
func Open(cfg hoist.Config, opts ...Option) (*Engine, error) {
	backend, err := store.Open(cfg.Backend)
	if err != nil {
		return nil, err
	}
	if err := backend.Migrate(context.Background()); err != nil {
		_ = backend.Close()
		return nil, err
	}

	eng, err := New(backend, cfg, opts...)
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	eng.ownsBackend = true
	return eng, nil
}

// Register registers a typed job definition with the engine.
func Register[T any](eng *Engine, def *job.Definition[T]) error {
	return job.RegisterDefinition(eng.registry, def)
}

// RegisterCron registers a typed cron definition: it validates the
// schedule, computes the initial next run, and persists the entry.
// Re-registering the same name is idempotent.
func RegisterCron[T any](ctx context.Context, eng *Engine, def *cron.Definition[T]) error {
	sched, err := cron.ParseSchedule(def.Schedule)
	if err != nil {
		return fmt.Errorf("engine: invalid cron schedule %q: %w", def.Schedule, err)
	}

	args, err := json.Marshal(def.Args)
	if err != nil {
		return fmt.Errorf("engine: marshal cron args: %w", err)
	}

	next := sched.Next(time.Now().UTC())
	entry := &cron.Entry{
		Entity:    hoist.NewEntity(),
		ID:        id.NewCronID(),
		Name:      def.Name,
		Schedule:  def.Schedule,
		JobType:   def.JobType,
		Queue:     def.Queue,
		Priority:  job.PriorityNormal,
		Args:      args,
		NextRunAt: &next,
		Enabled:   true,
	}

	if err := eng.backend.RegisterCron(ctx, entry); err != nil {
		if errors.Is(err, hoist.ErrDuplicateCron) {
			return nil
		}
		return fmt.Errorf("engine: register cron %q: %w", def.Name, err)
	}

	eng.logger.Info("cron registered",
		slog.String("name", def.Name),
		slog.String("schedule", def.Schedule),
		slog.String("job_type", def.JobType),
		slog.Time("next_run_at", next),
	)
	return nil
}

// resolveOptions layers the per-type registry defaults, the caller's
// options, and the engine-wide defaults for retries and timeout.
func (eng *Engine) resolveOptions(jobType string, opts []job.Option) job.Options {
	o, ok := eng.registry.Defaults(jobType)
	if !ok {
		o = job.DefaultOptions()
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxRetries == job.UseDefaultRetries {
		o.MaxRetries = eng.config.DefaultMaxRetries
	}
	if o.Timeout == 0 {
		o.Timeout = eng.config.DefaultTimeout
	}
	return o
}

func (eng *Engine) checkOpen() error {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	if eng.closed {
		return hoist.ErrEngineClosed
	}
	return nil
}

// Enqueue creates a job and makes it deliverable: immediately when no
// ExecuteAt option is set, or at the configured time otherwise.
func (eng *Engine) Enqueue(ctx context.Context, jobType string, args []byte, opts ...job.Option) (*job.Job, error) {
	if err := eng.checkOpen(); err != nil {
		return nil, err
	}

	o := eng.resolveOptions(jobType, opts)
	j := job.New(jobType, args, o, time.Now())

	if j.Status == job.StatusScheduled {
		if err := eng.backend.Schedule(ctx, j, j.ExecuteAt); err != nil {
			return nil, err
		}
	} else {
		if err := eng.backend.Enqueue(ctx, j); err != nil {
			return nil, err
		}
	}

	eng.extensions.EmitJobEnqueued(ctx, j)
	return j, nil
}

// Schedule creates a job that becomes deliverable at the given time.
func (eng *Engine) Schedule(ctx context.Context, jobType string, args []byte, at time.Time, opts ...job.Option) (*job.Job, error) {
	return eng.Enqueue(ctx, jobType, args, append(opts, job.WithExecuteAt(at))...)
}

// Cancel cancels a pending or scheduled job. Running and terminal jobs
// return an error wrapping hoist.ErrInvalidState.
func (eng *Engine) Cancel(ctx context.Context, jobID id.JobID) error {
	if err := eng.checkOpen(); err != nil {
		return err
	}

	j, err := eng.backend.FindJob(ctx, jobID)
	if err != nil {
		return err
	}
	cancelled, err := job.Cancel(*j, time.Now())
	if err != nil {
		return err
	}
	if err := eng.backend.SaveJob(ctx, &cancelled); err != nil {
		return err
	}

	eng.extensions.EmitJobCancelled(ctx, &cancelled)
	return nil
}

// Find retrieves a job by ID.
func (eng *Engine) Find(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.backend.FindJob(ctx, jobID)
}

// List returns jobs matching the filters, newest first.
func (eng *Engine) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	return eng.backend.ListJobs(ctx, opts)
}

// DeadLetters returns dead jobs, newest first. An empty queue matches
// all queues.
func (eng *Engine) DeadLetters(ctx context.Context, queue string, limit, offset int) ([]*job.Job, error) {
	return eng.dlqService.List(ctx, queue, limit, offset)
}

// Requeue replays a dead job: fresh retry budget, back to pending.
func (eng *Engine) Requeue(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return eng.dlqService.Requeue(ctx, jobID)
}

// Workers lists the worker processes registered in the cluster.
func (eng *Engine) Workers(ctx context.Context) ([]*cluster.Worker, error) {
	return eng.backend.ListWorkers(ctx)
}

// QueueStats summarizes one queue: current depth and lifetime outcome
// counts derived from the stored records.
type QueueStats struct {
	Queue     string `json:"queue"`
	Size      int64  `json:"size"`
	Scheduled int64  `json:"scheduled"`
	Processed int64  `json:"processed"`
	Failed    int64  `json:"failed"`
}

// Stats returns statistics for one queue. Processed counts completed
// jobs still on record; Failed counts dead-lettered ones.
func (eng *Engine) Stats(ctx context.Context, q string) (*QueueStats, error) {
	size, err := eng.backend.Size(ctx, q)
	if err != nil {
		return nil, err
	}
	scheduled, err := eng.backend.ScheduledSize(ctx, q)
	if err != nil {
		return nil, err
	}
	processed, err := eng.backend.CountJobs(ctx, job.CountOpts{Status: job.StatusCompleted, Queue: q})
	if err != nil {
		return nil, err
	}
	failed, err := eng.backend.CountJobs(ctx, job.CountOpts{Status: job.StatusDead, Queue: q})
	if err != nil {
		return nil, err
	}
	return &QueueStats{
		Queue:     q,
		Size:      size,
		Scheduled: scheduled,
		Processed: processed,
		Failed:    failed,
	}, nil
}

// Start registers this worker in the cluster and launches the cron
// scheduler and worker pool. Starting twice is a no-op.
func (eng *Engine) Start(ctx context.Context) error {
	eng.mu.Lock()
	if eng.closed {
		eng.mu.Unlock()
		return hoist.ErrEngineClosed
	}
	if eng.started {
		eng.mu.Unlock()
		return nil
	}
	eng.started = true
	eng.mu.Unlock()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	now := time.Now().UTC()
	w := &cluster.Worker{
		ID:          eng.workerID,
		Hostname:    hostname,
		Queues:      eng.config.Queues,
		Concurrency: eng.config.Concurrency,
		State:       cluster.WorkerActive,
		LastSeen:    now,
		CreatedAt:   now,
	}
	if err := eng.backend.RegisterWorker(ctx, w); err != nil {
		eng.logger.Warn("cluster worker registration failed", slog.String("error", err.Error()))
	}

	// The scheduler goes first so leadership can be acquired before the
	// pool's reaper asks who the leader is.
	if err := eng.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("engine: start scheduler: %w", err)
	}
	if err := eng.pool.Start(ctx); err != nil {
		return fmt.Errorf("engine: start pool: %w", err)
	}

	eng.logger.Info("engine started",
		slog.String("worker_id", eng.workerID.String()),
		slog.Int("concurrency", eng.config.Concurrency),
		slog.Any("queues", eng.config.Queues),
	)
	return nil
}

// Stop drains the pool, stops the scheduler, emits the shutdown hook,
// and deregisters this worker. A backend opened by Open is closed.
// Stopping twice is a no-op.
func (eng *Engine) Stop(ctx context.Context) error {
	eng.mu.Lock()
	if eng.closed {
		eng.mu.Unlock()
		return nil
	}
	wasStarted := eng.started
	eng.closed = true
	eng.mu.Unlock()

	if wasStarted {
		if err := eng.pool.Stop(ctx); err != nil {
			eng.logger.Error("pool stop error", slog.String("error", err.Error()))
		}
		if err := eng.scheduler.Stop(ctx); err != nil {
			eng.logger.Error("scheduler stop error", slog.String("error", err.Error()))
		}
	}

	eng.extensions.EmitShutdown(ctx)

	if err := eng.backend.DeregisterWorker(ctx, eng.workerID); err != nil {
		eng.logger.Warn("cluster worker deregistration failed", slog.String("error", err.Error()))
	}
	if eng.depthGauge != nil {
		_ = eng.depthGauge.Unregister()
	}
	if eng.ownsBackend {
		if err := eng.backend.Close(); err != nil {
			return err
		}
	}

	eng.logger.Info("engine stopped", slog.String("worker_id", eng.workerID.String()))
	return nil
}

// WorkerID returns this engine's cluster identity.
func (eng *Engine) WorkerID() id.WorkerID { return eng.workerID }

// Registry returns the job registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// DLQ returns the dead letter service.
func (eng *Engine) DLQ() *dlq.Service { return eng.dlqService }

// Scheduler returns the cron scheduler.
func (eng *Engine) Scheduler() *cron.Scheduler { return eng.scheduler }

// Manager returns the queue manager, or nil when no queue configs were
// given.
func (eng *Engine) Manager() *queue.Manager { return eng.manager }

// Pool returns the worker pool.
func (eng *Engine) Pool() *worker.Pool { return eng.pool }
