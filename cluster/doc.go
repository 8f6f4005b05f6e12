// Package cluster provides distributed worker coordination: worker
// registration, liveness heartbeats, and TTL-based leader election.
//
// When several Hoist processes share one backend, the cluster package
// decides which process is the leader. The leader fires cron entries
// and requeues stale jobs abandoned by crashed workers; followers only
// claim and execute jobs.
//
// # Worker Entity
//
// Each running process registers itself as a [Worker] with:
//   - a unique [id.WorkerID]
//   - its hostname
//   - the list of queues it polls
//   - its concurrency limit
//   - a state: [WorkerActive], [WorkerDraining], or [WorkerDead]
//
// Workers send periodic heartbeats. A worker whose heartbeat stops is
// eventually reported by [Store.ReapDeadWorkers] and its running jobs
// are returned to pending by the stale-job reaper.
//
// # Leader Election
//
// One worker at a time holds leadership, acquired through
// [Store.AcquireLeadership] with a TTL and kept alive with
// [Store.RenewLeadership]. If the leader stops renewing, the lease
// expires and any other worker may take over. There is no consensus
// protocol: the backend's atomic primitives (a mutex for the memory
// store, SET NX for Redis, a guarded UPDATE for SQL) arbitrate.
package cluster
