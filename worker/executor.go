// Package worker provides the job execution engine: an Executor that
// invokes registered handlers through middleware, and a Pool of worker
// goroutines that claim jobs, execute them, and keep them alive with
// heartbeats.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/backoff"
	"github.com/hoistq/hoist/ext"
	"github.com/hoistq/hoist/job"
	"github.com/hoistq/hoist/middleware"
)

// Executor runs a single claimed job through middleware and the
// registered handler, then drives the completion or failure transition
// and persists the outcome.
type Executor struct {
	registry   *job.Registry
	extensions *ext.Registry
	store      job.Store
	backoff    backoff.Strategy
	mw         middleware.Middleware
	logger     *slog.Logger
}

// NewExecutor creates an Executor. The middleware list is applied
// left-to-right around the handler.
func NewExecutor(
	registry *job.Registry,
	extensions *ext.Registry,
	store job.Store,
	bo backoff.Strategy,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if bo == nil {
		bo = backoff.DefaultStrategy()
	}
	return &Executor{
		registry:   registry,
		extensions: extensions,
		store:      store,
		backoff:    bo,
		mw:         middleware.Chain(mws...),
		logger:     logger,
	}
}

// Execute runs a claimed (running) job to its next state. On success the
// job completes; on failure it is rescheduled with backoff or
// dead-lettered once the retry budget is spent. A missing handler is an
// ordinary failure and takes the same path. The job is mutated in place
// to the persisted state.
//
// The returned error reports executor-side problems (persisting the
// outcome); a handler failure that was recorded successfully returns nil.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	handler, ok := e.registry.Resolve(j.Type)
	if !ok {
		return e.recordFailure(ctx, j, fmt.Errorf("%w: %s", hoist.ErrHandlerNotFound, j.Type))
	}

	terminal := func(ctx context.Context) ([]byte, error) {
		return handler(ctx, j.Args)
	}

	start := time.Now()
	result, err := e.mw(ctx, j, terminal)
	elapsed := time.Since(start)

	if err != nil {
		return e.recordFailure(ctx, j, err)
	}
	return e.recordSuccess(ctx, j, result, elapsed)
}

func (e *Executor) recordSuccess(ctx context.Context, j *job.Job, result []byte, elapsed time.Duration) error {
	completed, err := job.Complete(*j, result, time.Now())
	if err != nil {
		return err
	}
	if err := e.store.SaveJob(ctx, &completed); err != nil {
		e.logger.Error("persist completed job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", err.Error()),
		)
		return err
	}
	*j = completed

	e.extensions.EmitJobCompleted(ctx, j, elapsed)

	e.logger.Debug("job completed",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

func (e *Executor) recordFailure(ctx context.Context, j *job.Job, cause error) error {
	delay := e.backoff.Delay(j.Attempt)
	failed, err := job.Fail(*j, cause, delay, time.Now())
	if err != nil {
		return err
	}
	if err := e.store.SaveJob(ctx, &failed); err != nil {
		e.logger.Error("persist failed job",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", err.Error()),
		)
		return err
	}
	*j = failed

	e.extensions.EmitJobFailed(ctx, j, cause)

	if j.Status == job.StatusScheduled {
		e.extensions.EmitJobRetrying(ctx, j, j.Attempt, j.ExecuteAt)
		e.logger.Info("job scheduled for retry",
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.Int("attempt", j.Attempt),
			slog.Int("max_retries", j.MaxRetries),
			slog.Duration("delay", delay),
			slog.String("error", cause.Error()),
		)
		return nil
	}

	e.extensions.EmitJobDead(ctx, j, cause)
	e.logger.Warn("job dead-lettered",
		slog.String("job_id", j.ID.String()),
		slog.String("job_type", j.Type),
		slog.Int("attempt", j.Attempt),
		slog.String("error", cause.Error()),
	)
	return nil
}
