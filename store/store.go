package store

import (
	"context"

	"github.com/hoistq/hoist/cluster"
	"github.com/hoistq/hoist/cron"
	"github.com/hoistq/hoist/job"
	"github.com/hoistq/hoist/queue"
)

// Backend is the aggregate persistence and delivery interface. Each
// subsystem (job, queue, cron, cluster) defines its own contract; a
// single backend implements them all over one storage medium.
type Backend interface {
	job.Store
	queue.Queue
	cron.Store
	cluster.Store

	// Migrate runs all schema migrations. A no-op for schemaless
	// backends.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close releases backend resources owned by the store.
	Close() error
}
