// Package dlq provides the dead letter queue for jobs that have
// exhausted their retry budget. It supports inspection, replay, and
// purging.
//
// There is no separate dead-letter storage: a dead job is an ordinary
// job record with status dead, left permanently queryable with its
// final error recorded. [Service] layers the operator workflow on top
// of the job store.
//
// # Replay
//
// [Service.Requeue] returns a dead job to pending with its attempt
// counter reset to zero and its error cleared, making it deliverable
// again. [Service.RequeueAll] does the same for every dead job in a
// queue. Replay keeps the job's identity: the record keeps its ID, so
// its history stays attached.
//
// # Purging
//
// [Service.Purge] deletes dead jobs whose terminal failure is older
// than a cutoff. Nothing is purged automatically; until an operator
// purges them, dead jobs are never dropped.
package dlq
