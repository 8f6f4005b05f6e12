package job

import "time"

// UseDefaultRetries makes the engine substitute its configured default
// retry budget at enqueue time. An explicit 0 means no retries.
const UseDefaultRetries = -1

// Options configures per-job behavior such as retries, queue, and priority.
type Options struct {
	// Queue is the queue name this job should be enqueued to.
	Queue string

	// Priority determines dequeue ordering within the queue.
	Priority Priority

	// MaxRetries is the number of retries granted after the first
	// failure. UseDefaultRetries defers to the engine configuration.
	MaxRetries int

	// Timeout is the maximum duration a single execution may run before
	// its context is cancelled. Zero means no limit.
	Timeout time.Duration

	// ExecuteAt schedules the job for future execution. Zero means
	// immediate.
	ExecuteAt time.Time
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Queue:      "default",
		Priority:   PriorityNormal,
		MaxRetries: UseDefaultRetries,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) {
		o.Queue = q
	}
}

// WithPriority sets the job priority.
func WithPriority(p Priority) Option {
	return func(o *Options) {
		o.Priority = p
	}
}

// WithMaxRetries sets the retry budget. Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithExecuteAt schedules the job for execution at a specific time.
func WithExecuteAt(t time.Time) Option {
	return func(o *Options) {
		o.ExecuteAt = t
	}
}
