package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/tether/job"
)

// Timeout returns middleware that bounds a dispatch by the job's Timeout.
// Jobs without one run until the processor returns or the lease is lost.
func Timeout(logger *slog.Logger) Middleware {
	return TimeoutWithDefault(logger, 0)
}

// TimeoutWithDefault is Timeout with a fallback deadline for jobs that set
// none. A zero fallback disables it.
func TimeoutWithDefault(logger *slog.Logger, fallback time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		d := j.Timeout
		if d <= 0 {
			d = fallback
		}
		if d <= 0 {
			return next(ctx)
		}
		logger.Debug("job deadline set",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", d),
		)
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
