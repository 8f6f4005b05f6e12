// Package queue defines the delivery contract with priority ordering
// plus per-queue rate limiting.
//
// Queues are named channels that group related jobs. Jobs carry a Queue
// field that determines which queue they belong to. The worker pool
// polls the queues listed in [hoist.Config.Queues] (default:
// ["default"]).
//
// Each queue holds four ready tiers, one per [job.Priority]. Dequeue
// always drains the highest non-empty tier first and is FIFO within a
// tier. Jobs with a future ExecuteAt live in a separate time-ordered
// scheduled set until ProcessDue promotes them into their tier.
//
// # Per-Queue Configuration
//
// Use [Config] to set per-queue rate limits and concurrency caps:
//
//	queue.Config{
//	    Name:           "email",
//	    MaxConcurrency: 5,      // max 5 concurrent email jobs
//	    RateLimit:      10,     // max 10 jobs/s claimed from this queue
//	    RateBurst:      20,     // allow bursts up to 20
//	}
//
// Pass configs when building the engine:
//
//	engine.New(backend, cfg,
//	    engine.WithQueueConfig(
//	        queue.Config{Name: "critical", MaxConcurrency: 20},
//	        queue.Config{Name: "bulk", RateLimit: 5, RateBurst: 10},
//	    ),
//	)
//
// # Manager
//
// [Manager] enforces the limits at claim time. It uses a token-bucket
// rate limiter (golang.org/x/time/rate) and an active-count gate for
// concurrency limits:
//
//	m := queue.NewManager(configs...)
//	if m.Acquire(queueName) {
//	    defer m.Release(queueName)
//	    // process the job
//	}
//
// Queues without a [Config] have no limits beyond the pool-wide
// concurrency.
package queue
