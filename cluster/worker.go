package cluster

import (
	"time"

	"github.com/hoistq/hoist/id"
)

// WorkerState represents the lifecycle state of a worker process.
type WorkerState string

const (
	// WorkerActive means the worker is healthy and processing jobs.
	WorkerActive WorkerState = "active"
	// WorkerDraining means the worker is finishing in-flight jobs
	// but not claiming new ones (graceful shutdown).
	WorkerDraining WorkerState = "draining"
	// WorkerDead means the worker has stopped heartbeating and its
	// running jobs are eligible for reaping.
	WorkerDead WorkerState = "dead"
)

// Worker represents one Hoist worker process in a cluster. Each process
// registers itself at startup, heartbeats while alive, and deregisters
// on shutdown.
type Worker struct {
	ID          id.WorkerID `json:"id"`
	Hostname    string      `json:"hostname"`
	Queues      []string    `json:"queues"`
	Concurrency int         `json:"concurrency"`
	State       WorkerState `json:"state"`
	IsLeader    bool        `json:"is_leader"`
	LeaderUntil *time.Time  `json:"leader_until,omitempty"`
	LastSeen    time.Time   `json:"last_seen"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Clone returns a deep copy of the worker record.
func (w *Worker) Clone() *Worker {
	c := *w
	if w.Queues != nil {
		c.Queues = append([]string(nil), w.Queues...)
	}
	if w.LeaderUntil != nil {
		t := *w.LeaderUntil
		c.LeaderUntil = &t
	}
	return &c
}
