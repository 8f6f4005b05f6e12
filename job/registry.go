package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/hoistq/hoist"
)

// HandlerFunc is a type-erased job handler that accepts raw JSON args
// and returns the raw JSON result (nil when the handler produced none).
// The typed Definition[T] is converted to a HandlerFunc at registration
// time by closing over JSON unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, args []byte) ([]byte, error)

type registration struct {
	handler HandlerFunc
	opts    Options
}

// Registry maps job types to type-erased handler functions plus their
// per-type option defaults. It is safe for concurrent use and carries
// no package-level state: construct one and hand it to the engine.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registration
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]registration),
	}
}

// Register binds a handler to a job type. Registering a type twice
// returns hoist.ErrDuplicateHandler.
func (r *Registry) Register(jobType string, h HandlerFunc, opts ...Option) error {
	if jobType == "" {
		return fmt.Errorf("job: empty job type")
	}
	if h == nil {
		return fmt.Errorf("job: nil handler for %q", jobType)
	}

	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("job: register %q: %w", jobType, hoist.ErrDuplicateHandler)
	}
	r.handlers[jobType] = registration{handler: h, opts: o}
	return nil
}

// Unregister removes the handler for a job type. Unknown types are a
// no-op.
func (r *Registry) Unregister(jobType string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, jobType)
}

// Resolve returns the handler for the given job type.
// Returns false if no handler is registered.
func (r *Registry) Resolve(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[jobType]
	return reg.handler, ok
}

// Defaults returns the option defaults registered for a job type.
func (r *Registry) Defaults(jobType string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[jobType]
	return reg.opts, ok
}

// Types returns all registered job types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// RegisterDefinition registers a typed job definition. The generic
// handler is wrapped in a closure that JSON-unmarshals the args into T
// before calling the typed handler, and JSON-marshals any non-nil
// return value into the result.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) error {
	handler := func(ctx context.Context, args []byte) ([]byte, error) {
		var t T
		if len(args) > 0 {
			if err := json.Unmarshal(args, &t); err != nil {
				return nil, fmt.Errorf("unmarshal args for job %q: %w", def.Type, err)
			}
		}

		out, err := def.Handler(ctx, t)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}

		result, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("marshal result for job %q: %w", def.Type, err)
		}
		return result, nil
	}

	return r.Register(def.Type, handler, func(o *Options) { *o = def.Opts })
}
