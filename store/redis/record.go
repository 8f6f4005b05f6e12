package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/hoistq/hoist"
	"github.com/hoistq/hoist/cluster"
	"github.com/hoistq/hoist/cron"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

// Job records live in Redis Hashes, one field per column, so the claim
// script and the heartbeat can write individual fields without clobbering
// a concurrent full-record save. Cron and worker records have no
// field-level writers and stay msgpack-encoded string values.

// jobToMap flattens a job into its hash fields. Every field is always
// present, so an HSET of the map fully overwrites the stored record.
func jobToMap(j *job.Job) map[string]any {
	return map[string]any{
		"id":           j.ID.String(),
		"type":         j.Type,
		"queue":        j.Queue,
		"args":         string(j.Args),
		"status":       string(j.Status),
		"priority":     strconv.Itoa(int(j.Priority)),
		"max_retries":  strconv.Itoa(j.MaxRetries),
		"attempt":      strconv.Itoa(j.Attempt),
		"result":       string(j.Result),
		"last_error":   j.LastError,
		"worker_id":    j.WorkerID.String(),
		"execute_at":   formatTime(j.ExecuteAt),
		"started_at":   formatTimePtr(j.StartedAt),
		"completed_at": formatTimePtr(j.CompletedAt),
		"heartbeat_at": formatTimePtr(j.HeartbeatAt),
		"timeout":      strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":   formatTime(j.CreatedAt),
		"updated_at":   formatTime(j.UpdatedAt),
	}
}

// jobFromMap rebuilds a job from its hash fields. Empty strings mean
// the field is unset.
func jobFromMap(m map[string]string) (*job.Job, error) {
	jobID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("hoist/redis: decode job: %w", err)
	}
	workerID := id.Nil
	if m["worker_id"] != "" {
		if workerID, err = id.ParseWorkerID(m["worker_id"]); err != nil {
			return nil, fmt.Errorf("hoist/redis: decode job %s: %w", m["id"], err)
		}
	}

	priority, err := parseIntField(m, "priority")
	if err != nil {
		return nil, err
	}
	maxRetries, err := parseIntField(m, "max_retries")
	if err != nil {
		return nil, err
	}
	attempt, err := parseIntField(m, "attempt")
	if err != nil {
		return nil, err
	}
	timeout, err := parseIntField(m, "timeout")
	if err != nil {
		return nil, err
	}

	executeAt, err := parseTimeField(m, "execute_at")
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTimeField(m, "created_at")
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTimeField(m, "updated_at")
	if err != nil {
		return nil, err
	}
	startedAt, err := parseTimePtrField(m, "started_at")
	if err != nil {
		return nil, err
	}
	completedAt, err := parseTimePtrField(m, "completed_at")
	if err != nil {
		return nil, err
	}
	heartbeatAt, err := parseTimePtrField(m, "heartbeat_at")
	if err != nil {
		return nil, err
	}

	return &job.Job{
		Entity:      hoist.Entity{CreatedAt: createdAt, UpdatedAt: updatedAt},
		ID:          jobID,
		Type:        m["type"],
		Queue:       m["queue"],
		Args:        bytesField(m, "args"),
		Status:      job.Status(m["status"]),
		Priority:    job.Priority(priority),
		MaxRetries:  int(maxRetries),
		Attempt:     int(attempt),
		Result:      bytesField(m, "result"),
		LastError:   m["last_error"],
		WorkerID:    workerID,
		ExecuteAt:   executeAt,
		StartedAt:   startedAt,
		CompletedAt: completedAt,
		HeartbeatAt: heartbeatAt,
		Timeout:     time.Duration(timeout),
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func bytesField(m map[string]string, field string) []byte {
	if m[field] == "" {
		return nil
	}
	return []byte(m[field])
}

func parseIntField(m map[string]string, field string) (int64, error) {
	s := m[field]
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("hoist/redis: decode job field %s: %w", field, err)
	}
	return n, nil
}

func parseTimeField(m map[string]string, field string) (time.Time, error) {
	s := m[field]
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("hoist/redis: decode job field %s: %w", field, err)
	}
	return t, nil
}

func parseTimePtrField(m map[string]string, field string) (*time.Time, error) {
	if m[field] == "" {
		return nil, nil
	}
	t, err := parseTimeField(m, field)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

type cronRecord struct {
	ID          string     `msgpack:"id"`
	Name        string     `msgpack:"name"`
	Schedule    string     `msgpack:"schedule"`
	JobType     string     `msgpack:"job_type"`
	Queue       string     `msgpack:"queue,omitempty"`
	Priority    int        `msgpack:"priority,omitempty"`
	Args        []byte     `msgpack:"args,omitempty"`
	LastRunAt   *time.Time `msgpack:"last_run_at,omitempty"`
	NextRunAt   *time.Time `msgpack:"next_run_at,omitempty"`
	LockedBy    string     `msgpack:"locked_by,omitempty"`
	LockedUntil *time.Time `msgpack:"locked_until,omitempty"`
	Enabled     bool       `msgpack:"enabled"`
	CreatedAt   time.Time  `msgpack:"created_at"`
	UpdatedAt   time.Time  `msgpack:"updated_at"`
}

func encodeCron(e *cron.Entry) ([]byte, error) {
	r := cronRecord{
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
	b, err := msgpack.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("hoist/redis: encode cron %s: %w", r.ID, err)
	}
	return b, nil
}

func decodeCron(b []byte) (*cron.Entry, error) {
	var r cronRecord
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("hoist/redis: decode cron: %w", err)
	}

	cronID, err := id.ParseCronID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("hoist/redis: decode cron: %w", err)
	}

	return &cron.Entry{
		Entity:      hoist.Entity{CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt},
		ID:          cronID,
		Name:        r.Name,
		Schedule:    r.Schedule,
		JobType:     r.JobType,
		Queue:       r.Queue,
		Priority:    job.Priority(r.Priority),
		Args:        r.Args,
		LastRunAt:   r.LastRunAt,
		NextRunAt:   r.NextRunAt,
		LockedBy:    r.LockedBy,
		LockedUntil: r.LockedUntil,
		Enabled:     r.Enabled,
	}, nil
}

type workerRecord struct {
	ID          string     `msgpack:"id"`
	Hostname    string     `msgpack:"hostname"`
	Queues      []string   `msgpack:"queues"`
	Concurrency int        `msgpack:"concurrency"`
	State       string     `msgpack:"state"`
	IsLeader    bool       `msgpack:"is_leader"`
	LeaderUntil *time.Time `msgpack:"leader_until,omitempty"`
	LastSeen    time.Time  `msgpack:"last_seen"`
	CreatedAt   time.Time  `msgpack:"created_at"`
}

func encodeWorker(w *cluster.Worker) ([]byte, error) {
	r := workerRecord{
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
	b, err := msgpack.Marshal(&r)
	if err != nil {
		return nil, fmt.Errorf("hoist/redis: encode worker %s: %w", r.ID, err)
	}
	return b, nil
}

func decodeWorker(b []byte) (*cluster.Worker, error) {
	var r workerRecord
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("hoist/redis: decode worker: %w", err)
	}

	workerID, err := id.ParseWorkerID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("hoist/redis: decode worker: %w", err)
	}

	return &cluster.Worker{
		ID:          workerID,
		Hostname:    r.Hostname,
		Queues:      r.Queues,
		Concurrency: r.Concurrency,
		State:       cluster.WorkerState(r.State),
		IsLeader:    r.IsLeader,
		LeaderUntil: r.LeaderUntil,
		LastSeen:    r.LastSeen,
		CreatedAt:   r.CreatedAt,
	}, nil
}
