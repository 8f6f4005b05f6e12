package hoist

import (
	"fmt"
	"time"
)

// Config holds configuration for the engine.
type Config struct {
	// Concurrency is the maximum number of jobs processed concurrently.
	Concurrency int

	// Queues is the list of queues the worker pool will poll.
	Queues []string

	// PollInterval is how often idle workers poll for ready jobs.
	PollInterval time.Duration

	// ScheduledInterval is how often due scheduled jobs are promoted
	// into their priority queues.
	ScheduledInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// HeartbeatInterval is how often running jobs send heartbeats.
	HeartbeatInterval time.Duration

	// StaleJobThreshold is how long before a running job without a
	// heartbeat is considered abandoned and requeued.
	StaleJobThreshold time.Duration

	// DefaultMaxRetries applies to jobs enqueued without an explicit
	// retry budget. Zero means fail permanently on the first error.
	DefaultMaxRetries int

	// DefaultTimeout bounds handler execution for jobs without their
	// own timeout. Zero means no limit.
	DefaultTimeout time.Duration

	// Backoff selects the retry delay strategy.
	Backoff BackoffConfig

	// Backend selects and connects the storage backend.
	Backend BackendConfig
}

// BackoffConfig selects a retry delay strategy by name.
type BackoffConfig struct {
	// Strategy is one of "exponential", "linear", or "constant".
	Strategy string

	// Base is the first retry delay (the fixed interval for "constant").
	Base time.Duration

	// Max caps the computed delay. Zero means uncapped.
	Max time.Duration

	// Jitter spreads delays by a uniform factor in [0.5, 1.5).
	Jitter bool
}

// BackendConfig selects a storage backend by driver name.
type BackendConfig struct {
	// Driver is one of "memory", "redis", "postgres", or "sqlite".
	Driver string

	// Addr is the redis host:port.
	Addr string

	// DB is the redis database number.
	DB int

	// DSN is the postgres connection string.
	DSN string

	// Path is the sqlite database file (":memory:" for in-memory).
	Path string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:       10,
		Queues:            []string{"default"},
		PollInterval:      1 * time.Second,
		ScheduledInterval: 1 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 30 * time.Second,
		DefaultMaxRetries: 5,
		Backoff: BackoffConfig{
			Strategy: "exponential",
			Base:     2 * time.Second,
			Max:      15 * time.Minute,
			Jitter:   true,
		},
		Backend: BackendConfig{Driver: "memory"},
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("hoist: concurrency must be positive, got %d", c.Concurrency)
	}
	if len(c.Queues) == 0 {
		return fmt.Errorf("hoist: at least one queue is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("hoist: poll interval must be positive, got %s", c.PollInterval)
	}
	if c.ScheduledInterval <= 0 {
		return fmt.Errorf("hoist: scheduled interval must be positive, got %s", c.ScheduledInterval)
	}
	if c.DefaultMaxRetries < 0 {
		return fmt.Errorf("hoist: default max retries must not be negative, got %d", c.DefaultMaxRetries)
	}
	switch c.Backoff.Strategy {
	case "", "exponential", "linear", "constant":
	default:
		return fmt.Errorf("hoist: unknown backoff strategy %q", c.Backoff.Strategy)
	}
	switch c.Backend.Driver {
	case "", "memory", "redis", "postgres", "sqlite":
	default:
		return fmt.Errorf("hoist: unknown backend driver %q", c.Backend.Driver)
	}
	return nil
}
