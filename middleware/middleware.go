// Package middleware provides composable middleware for job processing.
// Middleware wraps processor calls synchronously and can modify execution
// (recover from panics, log, add tracing, etc.).
package middleware

import (
	"context"

	"github.com/xraph/tether/job"
)

// Handler is the terminal function that runs the processor. It returns the
// processor's result value.
type Handler func(ctx context.Context) (any, error)

// Middleware wraps a Handler with cross-cutting logic.
// It receives the current context, the job being processed, and the
// next handler to call. Middleware MUST call next to continue the chain
// (unless short-circuiting on error).
type Middleware func(ctx context.Context, j *job.Job, next Handler) (any, error)

// Chain composes multiple middleware into a single Middleware.
// Middleware are applied right-to-left: the first middleware in the
// list is the outermost wrapper.
//
// Example: Chain(logging, recover, timeout) executes as:
//
//	logging → recover → timeout → handler
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (any, error) {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) (any, error) {
				return mw(ctx, j, prev)
			}
		}
		return h(ctx)
	}
}

// Outcome is how a dispatch ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeSuspended Outcome = "suspended"
)

type suspendedKey struct{}

// WithSuspended returns a copy of ctx through which DispatchOutcome learns
// whether the dispatch gave up its lease to wait for children. The worker
// sets it before running the chain.
func WithSuspended(ctx context.Context, suspended func() bool) context.Context {
	return context.WithValue(ctx, suspendedKey{}, suspended)
}

// DispatchOutcome classifies a dispatch once next has returned err. A
// suspended dispatch counts as suspended whatever it returned, since the
// worker discards the result of a job that waits for children.
func DispatchOutcome(ctx context.Context, err error) Outcome {
	if fn, ok := ctx.Value(suspendedKey{}).(func() bool); ok && fn() {
		return OutcomeSuspended
	}
	if err != nil {
		return OutcomeFailed
	}
	return OutcomeCompleted
}
