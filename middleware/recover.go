package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/tether"
	"github.com/xraph/tether/job"
)

// PanicError is returned by Recover when a processor panics. It matches
// tether.ErrProcessor with errors.Is.
type PanicError struct {
	Job   string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%v: panic in job %s: %v", tether.ErrProcessor, e.Job, e.Value)
}

// Unwrap returns tether.ErrProcessor.
func (e *PanicError) Unwrap() error { return tether.ErrProcessor }

// Recover returns middleware that turns a panic anywhere below it into a
// *PanicError. The job then fails like any other processor error and still
// resolves its slot on its parent.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (result any, err error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			pe := &PanicError{Job: j.Name, Value: r, Stack: debug.Stack()}
			logger.LogAttrs(ctx, slog.LevelError, "job processor panicked",
				append(jobAttrs(j),
					slog.Any("panic", r),
					slog.String("stack", string(pe.Stack)),
				)...)
			result, err = nil, pe
		}()
		return next(ctx)
	}
}
