package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

// State describes what a worker goroutine is currently doing.
type State int32

const (
	// StateIdle means the worker is between polls with nothing claimed.
	StateIdle State = iota
	// StateClaiming means the worker is asking the backend for a job.
	StateClaiming
	// StateExecuting means the worker is running a claimed job.
	StateExecuting
	// StateStopping means the worker saw the stop signal and is winding
	// down, finishing any in-flight job.
	StateStopping
	// StateStopped means the worker goroutine has exited.
	StateStopped
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateClaiming:
		return "claiming"
	case StateExecuting:
		return "executing"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Worker is a single claim-and-execute goroutine owned by a Pool.
type Worker struct {
	slot  int
	pool  *Pool
	state atomic.Int32
}

// State returns the worker's current state.
func (w *Worker) State() State { return State(w.state.Load()) }

func (w *Worker) setState(s State) { w.state.Store(int32(s)) }

// run is the worker loop: claim one job, execute it, repeat until the
// pool signals stop. In-flight jobs always finish; only the poll sleeps
// are interruptible.
func (w *Worker) run() {
	defer w.pool.wg.Done()
	defer w.setState(StateStopped)

	p := w.pool
	for {
		select {
		case <-p.stopCh:
			w.setState(StateStopping)
			return
		default:
		}

		w.setState(StateClaiming)
		j, err := p.backend.Dequeue(context.Background(), p.workerID, p.queues)
		if err != nil {
			if !errors.Is(err, hoist.ErrQueueEmpty) {
				p.logger.Error("dequeue error",
					slog.Int("worker_slot", w.slot),
					slog.String("error", err.Error()),
				)
			}
			w.setState(StateIdle)
			p.sleep()
			continue
		}

		if p.manager != nil && !p.manager.Acquire(j.Queue) {
			// The queue is paused, rate limited, or at its concurrency
			// cap. Return the claim and back off.
			p.revertClaim(j)
			w.setState(StateIdle)
			p.sleep()
			continue
		}

		w.execute(j)
		if p.manager != nil {
			p.manager.Release(j.Queue)
		}
	}
}

// execute runs one claimed job through the executor, tracking it so the
// heartbeat loop sees it and shutdown can cancel it after the drain
// deadline.
func (w *Worker) execute(j *job.Job) {
	p := w.pool
	w.setState(StateExecuting)

	ctx, cancel := context.WithCancel(context.Background())
	p.trackJob(j.ID.String(), cancel)
	defer func() {
		p.untrackJob(j.ID.String())
		cancel()
	}()

	p.extensions.EmitJobStarted(ctx, j)

	if err := p.executor.Execute(ctx, j); err != nil {
		p.logger.Error("execute error",
			slog.Int("worker_slot", w.slot),
			slog.String("job_id", j.ID.String()),
			slog.String("job_type", j.Type),
			slog.String("error", err.Error()),
		)
	}
}

// revertClaim undoes a Dequeue claim that the queue manager refused:
// the start transition is rolled back and the job rejoins the front of
// its ready tier without consuming retry budget or its place in line.
func (p *Pool) revertClaim(j *job.Job) {
	reverted := j.Clone()
	reverted.Status = job.StatusPending
	reverted.Attempt--
	reverted.WorkerID = id.Nil
	reverted.StartedAt = nil
	reverted.HeartbeatAt = nil
	reverted.Touch(time.Now().UTC())

	if err := p.backend.ReturnJob(context.Background(), reverted); err != nil {
		p.logger.Error("revert claim error",
			slog.String("job_id", j.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
