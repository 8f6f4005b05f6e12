package redis

import "strconv"

// Redis key naming conventions for hoist data.
// All keys are prefixed with "hoist:" to avoid collisions.

const keyPrefix = "hoist:"

// ── Job keys ──

// jobKey returns the key for a job record: hoist:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// readyKey returns the list key for one priority tier of a queue:
// hoist:ready:{queue}:{priority}. LPUSH at the head, RPOP at the tail,
// so the list is FIFO and RPOP is the atomic claim.
func readyKey(queue string, p int) string {
	return keyPrefix + "ready:" + queue + ":" + strconv.Itoa(p)
}

// scheduledKey returns the sorted-set key holding a queue's deferred
// jobs, scored by ExecuteAt: hoist:scheduled:{queue}
func scheduledKey(queue string) string { return keyPrefix + "scheduled:" + queue }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "jobs"

// queuesKey is the Set tracking all queue names seen by the backend.
const queuesKey = keyPrefix + "queues"

// ── Cron keys ──

// cronKey returns the key for a cron entry record: hoist:cron:{id}
func cronKey(id string) string { return keyPrefix + "cron:" + id }

// cronLockKey returns the firing-lock key for a cron entry, held with a
// TTL via SET NX: hoist:cronlock:{id}
func cronLockKey(id string) string { return keyPrefix + "cronlock:" + id }

// cronIDsKey is the Set tracking all cron IDs for enumeration.
const cronIDsKey = keyPrefix + "crons"

// cronNamesKey maps cron names to IDs for duplicate detection.
const cronNamesKey = keyPrefix + "cron_names"

// ── Cluster keys ──

// workerKey returns the key for a worker record: hoist:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "workers"

// leaderKey stores the current leader worker ID with a TTL.
const leaderKey = keyPrefix + "leader"
