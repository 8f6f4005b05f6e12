package cron

// Definition is a typed cron definition. T is the args type
// (must be JSON-serializable).
type Definition[T any] struct {
	// Name is the unique identifier for this cron entry.
	Name string

	// Schedule is a cron expression (e.g., "*/5 * * * *" or "@every 30s").
	Schedule string

	// JobType is the job type to enqueue on each firing.
	JobType string

	// Args is the default args value to enqueue with the job.
	Args T

	// Queue overrides the job's registered queue (optional).
	Queue string
}

// NewDefinition creates a typed cron definition.
func NewDefinition[T any](name, schedule, jobType string, args T) *Definition[T] {
	return &Definition[T]{
		Name:     name,
		Schedule: schedule,
		JobType:  jobType,
		Args:     args,
	}
}
