// Package job defines the job entity, its pure lifecycle, typed
// definitions, and the store interface.
//
// # Job Entity
//
// A [Job] represents a unit of work. It embeds [hoist.Entity] for
// timestamps, carries typed args (JSON), and progresses through a
// status machine:
//
//	pending ──────────→ running → completed
//	scheduled → pending → running → scheduled → ... (retry with backoff)
//	pending/scheduled → cancelled
//	running → dead (retry budget exhausted, or permanent failure)
//	dead → pending (manual requeue, attempt reset)
//
// Fields of note:
//   - Queue: which queue the job belongs to (default: "default"),
//     immutable after creation
//   - Priority: critical, high, normal, or low; immutable after creation
//   - MaxRetries / Attempt: the retry budget and the 1-based number of
//     the execution in flight; Attempt never exceeds MaxRetries+1
//   - ExecuteAt: earliest time the job may be delivered
//   - Timeout: per-job execution deadline (zero = unlimited)
//
// # Lifecycle
//
// Transitions are pure functions over Job values ([Start], [Complete],
// [Fail], [Cancel], [Requeue]). They take the clock as a parameter and
// perform no I/O, which keeps the retry arithmetic deterministic and
// directly testable. Invalid transitions return an error wrapping
// [hoist.ErrInvalidState].
//
// # Defining a Job
//
// Use [Definition] with a typed handler. Args are JSON-serialized at
// enqueue time and deserialized before the handler runs; a non-nil
// return value becomes the job's Result:
//
//	var SendEmail = job.NewDefinition("send_email",
//	    func(ctx context.Context, input EmailInput) (any, error) {
//	        return nil, mailer.Send(input.To, input.Subject, input.Body)
//	    },
//	)
//
// # Registry
//
// [Registry] maps job types to type-erased [HandlerFunc] values and
// per-type option defaults. Register definitions at startup via
// [RegisterDefinition]:
//
//	job.RegisterDefinition(registry, SendEmail)
//	job.RegisterDefinition(registry, GenerateReport)
//
// The engine package provides higher-level engine.Register and
// engine.Enqueue wrappers.
package job
