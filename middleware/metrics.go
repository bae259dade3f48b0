package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/tether/job"
)

// meterName is the instrumentation scope name for tether metrics.
const meterName = "github.com/xraph/tether"

// Metrics returns middleware that records per-job processing metrics using
// the global OTel MeterProvider. If no MeterProvider is configured, noop
// instruments are used and this middleware becomes a pass-through.
//
// Instruments:
//   - tether.job.duration (Float64Histogram): processing time in seconds
//   - tether.job.dispatches (Int64Counter): total dispatches
//
// Both carry job_name, queue and outcome ("completed", "failed" or
// "suspended"). A parent that parks for its children is counted once per
// dispatch, so a resumed parent shows one suspended and one completed
// dispatch.
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API returns noop instruments.
	duration, _ := meter.Float64Histogram(
		"tether.job.duration",
		metric.WithDescription("Duration of one job dispatch in seconds"),
		metric.WithUnit("s"),
	)
	dispatches, _ := meter.Int64Counter(
		"tether.job.dispatches",
		metric.WithDescription("Total number of job dispatches"),
		metric.WithUnit("{dispatch}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		start := time.Now()
		result, err := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("job_name", j.Name),
			attribute.String("queue", j.Queue),
			attribute.String("outcome", string(DispatchOutcome(ctx, err))),
		)
		duration.Record(ctx, elapsed, attrs)
		dispatches.Add(ctx, 1, attrs)

		return result, err
	}
}
