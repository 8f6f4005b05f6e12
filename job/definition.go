package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the args type (must be JSON-serializable). The handler's first
// return value, when non-nil, is JSON-encoded into the job's Result.
type Definition[T any] struct {
	// Type is the unique identifier for this job type.
	Type string

	// Handler is the function that processes the job args.
	Handler func(ctx context.Context, args T) (any, error)

	// Opts configures retries, queue, priority, and timeout defaults
	// for every job of this type.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](jobType string, handler func(ctx context.Context, args T) (any, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Type:    jobType,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
