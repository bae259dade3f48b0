// Package observability provides a metrics extension for tether. The
// MetricsExtension implements lifecycle hooks to record system-wide
// counters for job adds, dispatches, completions, failures, parent
// suspensions and resumptions, and reclaimed leases.
//
// For per-dispatch tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
