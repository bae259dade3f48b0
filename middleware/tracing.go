package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/tether/job"
)

// tracerName is the instrumentation scope name for tether tracing.
const tracerName = "github.com/xraph/tether"

// Tracing returns middleware that wraps job processing in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through.
//
// Span attributes include: tether.job.id, tether.job.name, tether.queue,
// tether.attempt and, for children, tether.parent.id.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		attrs := []attribute.KeyValue{
			attribute.String("tether.job.id", j.ID.String()),
			attribute.String("tether.job.name", j.Name),
			attribute.String("tether.queue", j.Queue),
			attribute.Int("tether.attempt", j.Attempts),
		}
		if j.HasParent() {
			attrs = append(attrs, attribute.String("tether.parent.id", j.Parent.ID.String()))
		}

		ctx, span := tracer.Start(ctx, "tether.job.process",
			trace.WithAttributes(attrs...),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		result, err := next(ctx)
		span.SetAttributes(attribute.String("tether.job.outcome", string(DispatchOutcome(ctx, err))))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return result, err
	}
}
