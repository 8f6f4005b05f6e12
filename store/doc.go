// Package store defines the aggregate backend interface.
//
// Each subsystem (job, queue, cron, cluster) defines its own contract.
// The composite [Backend] composes them all; a backend need only
// implement Backend to serve every subsystem.
//
// # Available Backends
//
//   - store/memory — in-process store for development and testing
//   - store/redis — Redis backend for distributed operation
//   - store/bun — PostgreSQL backend via the Bun ORM
//   - store/sqlite — SQLite backend for CLIs and small deployments
//
// # Usage
//
// Construct a backend directly:
//
//	import "github.com/hoistq/hoist/store/memory"
//
//	backend := memory.New()
//	eng, err := engine.New(backend, hoist.DefaultConfig())
//
// or select one from configuration with [Open]:
//
//	backend, err := store.Open(hoist.BackendConfig{
//	    Driver: "redis",
//	    Addr:   "localhost:6379",
//	})
//
// # Migrations
//
// SQL backends need their schema created once at startup:
//
//	if err := backend.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Migrate is a no-op for the memory and redis backends.
package store
