// Package cron provides recurring job schedules with leader-gated,
// lock-guarded firing.
//
// Cron entries are persisted in the backend and fired only by the
// cluster leader. This guarantees at-most-once firing per due time even
// when multiple Hoist processes are running.
//
// # Entry
//
// An [Entry] represents a recurring job schedule:
//   - Schedule: standard 5-field cron expression (e.g., "0 9 * * 1-5")
//     or a descriptor such as "@every 30s"
//   - JobType: the registered job type to enqueue when fired
//   - Queue / Priority: overrides for the enqueued job
//   - Args: static JSON args passed to every triggered job
//   - Enabled: whether the entry fires
//   - LockedBy / LockedUntil: distributed lock fields (managed internally)
//
// # Registering a Cron
//
// Use engine.RegisterCron to add a cron entry at startup:
//
//	engine.RegisterCron(ctx, eng, cron.NewDefinition("daily-report",
//	    "0 9 * * *", "generate-report", ReportArgs{Format: "pdf"}))
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick, acquires a
// distributed lock on each entry, enqueues the corresponding job, and
// updates LastRunAt and NextRunAt. The [ext.CronFired] hook fires after
// each enqueue.
package cron
