package engine

import (
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/hoistq/hoist/backoff"
	"github.com/hoistq/hoist/ext"
	"github.com/hoistq/hoist/job"
	mw "github.com/hoistq/hoist/middleware"
	"github.com/hoistq/hoist/queue"
)

// Option configures an Engine during construction.
type Option func(*Engine)

// providerOptions holds injected collaborators that are consumed after
// the option pass, once their defaults are known.
type providerOptions struct {
	extensions     []ext.Extension
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) {
		if logger != nil {
			eng.logger = logger
		}
	}
}

// WithRegistry supplies a pre-populated job registry.
func WithRegistry(r *job.Registry) Option {
	return func(eng *Engine) {
		eng.registry = r
	}
}

// WithExtension registers a lifecycle extension.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.opts.extensions = append(eng.opts.extensions, e)
	}
}

// WithMiddleware appends middleware to the default chain. User
// middleware runs inside the built-in recover, tracing, metrics,
// logging, and timeout layers.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithBackoff overrides the retry delay strategy derived from the
// configuration.
func WithBackoff(bo backoff.Strategy) Option {
	return func(eng *Engine) {
		eng.bo = bo
	}
}

// WithQueueConfig adds per-queue concurrency and rate limits. Passing
// at least one config enables the queue manager.
func WithQueueConfig(cfgs ...queue.Config) Option {
	return func(eng *Engine) {
		eng.queueConfigs = append(eng.queueConfigs, cfgs...)
	}
}

// WithTracerProvider sets the tracer provider for job spans. Defaults
// to the global otel provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.opts.tracerProvider = tp
	}
}

// WithMeterProvider sets the meter provider for job metrics. Defaults
// to the global otel provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.opts.meterProvider = mp
	}
}
