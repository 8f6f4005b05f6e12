package bunstore

import (
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/cluster"
	"github.com/hoistq/hoist/cron"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

// ── Job model ─────────────────────────────────────────────────────

type jobModel struct {
	bun.BaseModel `bun:"table:hoist_jobs"`

	ID          string     `bun:"id,pk"`
	Type        string     `bun:"type,notnull"`
	Queue       string     `bun:"queue,notnull,default:'default'"`
	Args        []byte     `bun:"args,type:bytea"`
	Status      string     `bun:"status,notnull,default:'pending'"`
	Priority    int        `bun:"priority,notnull,default:1"`
	MaxRetries  int        `bun:"max_retries,notnull,default:0"`
	Attempt     int        `bun:"attempt,notnull,default:0"`
	Result      []byte     `bun:"result,type:bytea"`
	LastError   string     `bun:"last_error"`
	WorkerID    string     `bun:"worker_id"`
	ExecuteAt   time.Time  `bun:"execute_at,notnull"`
	StartedAt   *time.Time `bun:"started_at"`
	CompletedAt *time.Time `bun:"completed_at"`
	HeartbeatAt *time.Time `bun:"heartbeat_at"`
	TimeoutNS   int64      `bun:"timeout_ns,notnull,default:0"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toJobModel(j *job.Job) *jobModel {
	return &jobModel{
		ID:          j.ID.String(),
		Type:        j.Type,
		Queue:       j.Queue,
		Args:        j.Args,
		Status:      string(j.Status),
		Priority:    int(j.Priority),
		MaxRetries:  j.MaxRetries,
		Attempt:     j.Attempt,
		Result:      j.Result,
		LastError:   j.LastError,
		WorkerID:    j.WorkerID.String(),
		ExecuteAt:   j.ExecuteAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		HeartbeatAt: j.HeartbeatAt,
		TimeoutNS:   j.Timeout.Nanoseconds(),
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

func fromJobModel(m *jobModel) (*job.Job, error) {
	parsedID, err := id.ParseJobID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("hoist/bun: parse job id %q: %w", m.ID, err)
	}

	j := &job.Job{
		Entity: hoist.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Type:        m.Type,
		Queue:       m.Queue,
		Args:        m.Args,
		Status:      job.Status(m.Status),
		Priority:    job.Priority(m.Priority),
		MaxRetries:  m.MaxRetries,
		Attempt:     m.Attempt,
		Result:      m.Result,
		LastError:   m.LastError,
		ExecuteAt:   m.ExecuteAt,
		StartedAt:   m.StartedAt,
		CompletedAt: m.CompletedAt,
		HeartbeatAt: m.HeartbeatAt,
		Timeout:     time.Duration(m.TimeoutNS),
	}

	if m.WorkerID != "" {
		parsedWorker, wErr := id.ParseWorkerID(m.WorkerID)
		if wErr != nil {
			return nil, fmt.Errorf("hoist/bun: parse worker id %q: %w", m.WorkerID, wErr)
		}
		j.WorkerID = parsedWorker
	}

	return j, nil
}

// ── Cron entry model ──────────────────────────────────────────────

type cronEntryModel struct {
	bun.BaseModel `bun:"table:hoist_crons"`

	ID          string     `bun:"id,pk"`
	Name        string     `bun:"name,notnull,unique"`
	Schedule    string     `bun:"schedule,notnull"`
	JobType     string     `bun:"job_type,notnull"`
	Queue       string     `bun:"queue"`
	Priority    int        `bun:"priority,notnull,default:1"`
	Args        []byte     `bun:"args,type:bytea"`
	LastRunAt   *time.Time `bun:"last_run_at"`
	NextRunAt   *time.Time `bun:"next_run_at"`
	LockedBy    string     `bun:"locked_by"`
	LockedUntil *time.Time `bun:"locked_until"`
	Enabled     bool       `bun:"enabled,notnull,default:true"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull,default:current_timestamp"`
}

func toCronModel(e *cron.Entry) *cronEntryModel {
	return &cronEntryModel{
		ID:          e.ID.String(),
		Name:        e.Name,
		Schedule:    e.Schedule,
		JobType:     e.JobType,
		Queue:       e.Queue,
		Priority:    int(e.Priority),
		Args:        e.Args,
		LastRunAt:   e.LastRunAt,
		NextRunAt:   e.NextRunAt,
		LockedBy:    e.LockedBy,
		LockedUntil: e.LockedUntil,
		Enabled:     e.Enabled,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func fromCronModel(m *cronEntryModel) (*cron.Entry, error) {
	parsedID, err := id.ParseCronID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("hoist/bun: parse cron id %q: %w", m.ID, err)
	}

	return &cron.Entry{
		Entity: hoist.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          parsedID,
		Name:        m.Name,
		Schedule:    m.Schedule,
		JobType:     m.JobType,
		Queue:       m.Queue,
		Priority:    job.Priority(m.Priority),
		Args:        m.Args,
		LastRunAt:   m.LastRunAt,
		NextRunAt:   m.NextRunAt,
		LockedBy:    m.LockedBy,
		LockedUntil: m.LockedUntil,
		Enabled:     m.Enabled,
	}, nil
}

// ── Worker model ──────────────────────────────────────────────────

type workerModel struct {
	bun.BaseModel `bun:"table:hoist_workers"`

	ID          string     `bun:"id,pk"`
	Hostname    string     `bun:"hostname"`
	Queues      []string   `bun:"queues,type:jsonb"`
	Concurrency int        `bun:"concurrency,notnull,default:0"`
	State       string     `bun:"state,notnull,default:'active'"`
	IsLeader    bool       `bun:"is_leader,notnull,default:false"`
	LeaderUntil *time.Time `bun:"leader_until"`
	LastSeen    time.Time  `bun:"last_seen,notnull"`
	CreatedAt   time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

func toWorkerModel(w *cluster.Worker) *workerModel {
	return &workerModel{
		ID:          w.ID.String(),
		Hostname:    w.Hostname,
		Queues:      w.Queues,
		Concurrency: w.Concurrency,
		State:       string(w.State),
		IsLeader:    w.IsLeader,
		LeaderUntil: w.LeaderUntil,
		LastSeen:    w.LastSeen,
		CreatedAt:   w.CreatedAt,
	}
}

func fromWorkerModel(m *workerModel) (*cluster.Worker, error) {
	parsedID, err := id.ParseWorkerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("hoist/bun: parse worker id %q: %w", m.ID, err)
	}

	return &cluster.Worker{
		ID:          parsedID,
		Hostname:    m.Hostname,
		Queues:      m.Queues,
		Concurrency: m.Concurrency,
		State:       cluster.WorkerState(m.State),
		IsLeader:    m.IsLeader,
		LeaderUntil: m.LeaderUntil,
		LastSeen:    m.LastSeen,
		CreatedAt:   m.CreatedAt,
	}, nil
}
