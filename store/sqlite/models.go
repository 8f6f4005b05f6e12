package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hoistq/hoist/cluster"
	"github.com/hoistq/hoist/cron"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

// Column lists and row scanners. Every SELECT and RETURNING clause uses
// the same column order as the matching scanner.

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const jobColumns = `id, type, queue, args, status, priority, max_retries, attempt,
	result, last_error, worker_id, execute_at, started_at, completed_at,
	heartbeat_at, timeout_ns, created_at, updated_at`

// jobArgs flattens a job into the jobColumns order for INSERT binds.
func jobArgs(j *job.Job) []any {
	return []any{
		j.ID.String(), j.Type, j.Queue, j.Args, string(j.Status), int(j.Priority),
		j.MaxRetries, j.Attempt, j.Result, j.LastError, j.WorkerID.String(),
		j.ExecuteAt.UTC(), nullTime(j.StartedAt), nullTime(j.CompletedAt),
		nullTime(j.HeartbeatAt), int64(j.Timeout), j.CreatedAt.UTC(), j.UpdatedAt.UTC(),
	}
}

// scanJob reads one row in jobColumns order.
func scanJob(row scanner) (*job.Job, error) {
	var (
		jID, workerID                       string
		status                              string
		priority                            int
		timeoutNS                           int64
		startedAt, completedAt, heartbeatAt sql.NullTime
		j                                   job.Job
	)
	err := row.Scan(
		&jID, &j.Type, &j.Queue, &j.Args, &status, &priority,
		&j.MaxRetries, &j.Attempt, &j.Result, &j.LastError, &workerID,
		&j.ExecuteAt, &startedAt, &completedAt,
		&heartbeatAt, &timeoutNS, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if j.ID, err = id.ParseJobID(jID); err != nil {
		return nil, fmt.Errorf("hoist/sqlite: scan job id: %w", err)
	}
	if workerID != "" {
		if j.WorkerID, err = id.ParseWorkerID(workerID); err != nil {
			return nil, fmt.Errorf("hoist/sqlite: scan job %s worker id: %w", jID, err)
		}
	}
	j.Status = job.Status(status)
	j.Priority = job.Priority(priority)
	j.Timeout = time.Duration(timeoutNS)
	j.StartedAt = timePtr(startedAt)
	j.CompletedAt = timePtr(completedAt)
	j.HeartbeatAt = timePtr(heartbeatAt)
	return &j, nil
}

const cronColumns = `id, name, schedule, job_type, queue, priority, args,
	last_run_at, next_run_at, locked_by, locked_until, enabled, created_at, updated_at`

func cronArgs(e *cron.Entry) []any {
	return []any{
		e.ID.String(), e.Name, e.Schedule, e.JobType, e.Queue, int(e.Priority), e.Args,
		nullTime(e.LastRunAt), nullTime(e.NextRunAt), e.LockedBy, nullTime(e.LockedUntil),
		e.Enabled, e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	}
}

func scanCron(row scanner) (*cron.Entry, error) {
	var (
		cID                               string
		priority                          int
		lastRunAt, nextRunAt, lockedUntil sql.NullTime
		e                                 cron.Entry
	)
	err := row.Scan(
		&cID, &e.Name, &e.Schedule, &e.JobType, &e.Queue, &priority, &e.Args,
		&lastRunAt, &nextRunAt, &e.LockedBy, &lockedUntil, &e.Enabled,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.ID, err = id.ParseCronID(cID); err != nil {
		return nil, fmt.Errorf("hoist/sqlite: scan cron id: %w", err)
	}
	e.Priority = job.Priority(priority)
	e.LastRunAt = timePtr(lastRunAt)
	e.NextRunAt = timePtr(nextRunAt)
	e.LockedUntil = timePtr(lockedUntil)
	return &e, nil
}

const workerColumns = `id, hostname, queues, concurrency, state, is_leader,
	leader_until, last_seen, created_at`

func workerArgs(w *cluster.Worker) ([]any, error) {
	queues, err := json.Marshal(w.Queues)
	if err != nil {
		return nil, fmt.Errorf("hoist/sqlite: marshal worker queues: %w", err)
	}
	return []any{
		w.ID.String(), w.Hostname, string(queues), w.Concurrency, string(w.State),
		w.IsLeader, nullTime(w.LeaderUntil), w.LastSeen.UTC(), w.CreatedAt.UTC(),
	}, nil
}

func scanWorker(row scanner) (*cluster.Worker, error) {
	var (
		wID, queues, state string
		leaderUntil        sql.NullTime
		w                  cluster.Worker
	)
	err := row.Scan(
		&wID, &w.Hostname, &queues, &w.Concurrency, &state, &w.IsLeader,
		&leaderUntil, &w.LastSeen, &w.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if w.ID, err = id.ParseWorkerID(wID); err != nil {
		return nil, fmt.Errorf("hoist/sqlite: scan worker id: %w", err)
	}
	if err := json.Unmarshal([]byte(queues), &w.Queues); err != nil {
		return nil, fmt.Errorf("hoist/sqlite: unmarshal worker %s queues: %w", wID, err)
	}
	w.State = cluster.WorkerState(state)
	w.LeaderUntil = timePtr(leaderUntil)
	return &w, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}
