package middleware

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/tether"
	"github.com/xraph/tether/job"
)

// Logging returns middleware that logs the start and the end of every
// dispatch. Children carry their parent id. A processor that lost its lease
// or was cancelled is logged at warn level, any other error at error level.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		attrs := jobAttrs(j)
		logger.LogAttrs(ctx, slog.LevelInfo, "job started",
			append(attrs, slog.Int("attempt", j.Attempts))...)

		start := time.Now()
		result, err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		switch {
		case DispatchOutcome(ctx, err) == OutcomeSuspended:
			logger.LogAttrs(ctx, slog.LevelInfo, "job suspended", attrs...)
		case err == nil:
			logger.LogAttrs(ctx, slog.LevelInfo, "job returned", attrs...)
		case errors.Is(err, tether.ErrLeaseLost), errors.Is(err, tether.ErrLeaseExpired),
			errors.Is(err, context.Canceled):
			logger.LogAttrs(ctx, slog.LevelWarn, "job interrupted",
				append(attrs, slog.String("error", err.Error()))...)
		default:
			logger.LogAttrs(ctx, slog.LevelError, "job failed",
				append(attrs, slog.String("error", err.Error()))...)
		}
		return result, err
	}
}

func jobAttrs(j *job.Job) []slog.Attr {
	attrs := make([]slog.Attr, 0, 6)
	attrs = append(attrs,
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("queue", j.Queue),
	)
	if j.HasParent() {
		attrs = append(attrs, slog.String("parent_id", j.Parent.ID.String()))
	}
	return attrs
}
