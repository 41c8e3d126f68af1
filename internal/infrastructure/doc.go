// Package infrastructure provides the cross-cutting plumbing shared by
// every binary: structured logging with trace correlation, OpenTelemetry
// tracer setup, and Prometheus metrics collectors.
//
// The logger is a process-wide slog instance configured once at startup
// via InitializeLogger. Handlers are wrapped so that any log record
// emitted with a context carrying a trace ID automatically gains a
// trace_id attribute, which keeps HTTP access logs, stage logs, and
// pass logs joinable without threading the ID by hand.
package infrastructure
