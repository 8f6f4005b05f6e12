// Package hoist provides a library-first background job engine for Go.
// It offers typed job handlers, priority queues, scheduled execution,
// automatic retries with configurable backoff, dead-lettering, and
// distributed workers.
//
// Hoist is designed as a library, not a service. Import it, open a
// backend, and register jobs as ordinary Go functions.
//
// # Quick Start
//
//	eng, err := engine.New(memory.New(), hoist.DefaultConfig())
//	if err != nil { ... }
//	engine.Register(eng, job.NewDefinition("send-email",
//	    func(ctx context.Context, p EmailPayload) (any, error) {
//	        return nil, smtp.Send(ctx, p)
//	    }))
//	eng.Start(ctx)
//
// # Architecture
//
// Hoist follows a composable store pattern where each subsystem (job,
// queue, cron, cluster) defines its own store interface. A single
// backend implements all of them; four backends ship with the module:
// memory, redis, postgres (bun), and sqlite.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package hoist
