// Package observability exports job lifecycle metrics through
// OpenTelemetry. MetricsExtension is an ext extension recording
// counters for enqueued, processed, failed, retried, dead, and
// cancelled jobs plus cron firings; RegisterQueueDepthGauge adds an
// observable gauge of ready and scheduled jobs per queue.
//
// For per-execution tracing and histograms, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
