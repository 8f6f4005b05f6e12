package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/hoistq/hoist/ext"
	"github.com/hoistq/hoist/id"
	"github.com/hoistq/hoist/job"
)

// meterName is the instrumentation scope name for hoist metrics.
const meterName = "github.com/hoistq/hoist"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobDead      = (*MetricsExtension)(nil)
	_ ext.JobCancelled = (*MetricsExtension)(nil)
	_ ext.CronFired    = (*MetricsExtension)(nil)
)

// QueueDepths is the backend surface the queue depth gauges observe.
// Every store adapter satisfies it.
type QueueDepths interface {
	Queues(ctx context.Context) ([]string, error)
	Size(ctx context.Context, queue string) (int64, error)
	ScheduledSize(ctx context.Context, queue string) (int64, error)
}

// MetricsExtension records lifecycle counters for every job event and,
// when given a depth source, an observable gauge of ready and scheduled
// jobs per queue. Register it with the engine's extension registry.
//
// Instruments:
//   - hoist.jobs.enqueued / processed / failed / retried / dead /
//     cancelled (Int64Counter), with job_type and queue attributes
//   - hoist.cron.fired (Int64Counter)
//   - hoist.queue.depth (Int64ObservableGauge), with queue and state
//     ("ready" or "scheduled") attributes
type MetricsExtension struct {
	enqueued  metric.Int64Counter
	processed metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	dead      metric.Int64Counter
	cancelled metric.Int64Counter
	cronFired metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global OTel
// MeterProvider. Without a configured provider the instruments are
// noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Instrument creation errors fall back to noop
// instruments per the OTel API contract.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	m.enqueued, _ = meter.Int64Counter("hoist.jobs.enqueued",
		metric.WithDescription("Jobs accepted into a queue"),
		metric.WithUnit("{job}"),
	)
	m.processed, _ = meter.Int64Counter("hoist.jobs.processed",
		metric.WithDescription("Jobs completed successfully"),
		metric.WithUnit("{job}"),
	)
	m.failed, _ = meter.Int64Counter("hoist.jobs.failed",
		metric.WithDescription("Handler failures, counted per attempt"),
		metric.WithUnit("{failure}"),
	)
	m.retried, _ = meter.Int64Counter("hoist.jobs.retried",
		metric.WithDescription("Jobs rescheduled for retry after a failure"),
		metric.WithUnit("{job}"),
	)
	m.dead, _ = meter.Int64Counter("hoist.jobs.dead",
		metric.WithDescription("Jobs dead-lettered after exhausting retries"),
		metric.WithUnit("{job}"),
	)
	m.cancelled, _ = meter.Int64Counter("hoist.jobs.cancelled",
		metric.WithDescription("Jobs cancelled before execution"),
		metric.WithUnit("{job}"),
	)
	m.cronFired, _ = meter.Int64Counter("hoist.cron.fired",
		metric.WithDescription("Cron entries fired"),
		metric.WithUnit("{firing}"),
	)
	return m
}

// RegisterQueueDepthGauge registers an observable gauge reporting the
// ready and scheduled depth of every queue the backend knows. The
// returned registration stops the observation when unregistered.
func RegisterQueueDepthGauge(meter metric.Meter, depths QueueDepths) (metric.Registration, error) {
	gauge, err := meter.Int64ObservableGauge("hoist.queue.depth",
		metric.WithDescription("Jobs waiting in a queue"),
		metric.WithUnit("{job}"),
	)
	if err != nil {
		return nil, err
	}

	return meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		queues, err := depths.Queues(ctx)
		if err != nil {
			return err
		}
		for _, q := range queues {
			ready, err := depths.Size(ctx, q)
			if err != nil {
				return err
			}
			o.ObserveInt64(gauge, ready, metric.WithAttributes(
				attribute.String("queue", q),
				attribute.String("state", "ready"),
			))

			scheduled, err := depths.ScheduledSize(ctx, q)
			if err != nil {
				return err
			}
			o.ObserveInt64(gauge, scheduled, metric.WithAttributes(
				attribute.String("queue", q),
				attribute.String("state", "scheduled"),
			))
		}
		return nil
	}, gauge)
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("job_type", j.Type),
		attribute.String("queue", j.Queue),
	)
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.enqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.processed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.failed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDead implements ext.JobDead.
func (m *MetricsExtension) OnJobDead(ctx context.Context, j *job.Job, _ error) error {
	m.dead.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, j *job.Job) error {
	m.cancelled.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.JobID) error {
	m.cronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("entry", entryName)))
	return nil
}
