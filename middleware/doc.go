// Package middleware provides composable middleware for job processing.
//
// A [Middleware] is a function that wraps a processor call. Middleware are
// composed into a chain using [Chain] and applied around every dispatch.
// They are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs job name, queue, attempt, duration and outcome
//   - [Recover]: catches panics and converts them to [*PanicError]
//   - [Timeout], [TimeoutWithDefault]: cancel the processor context after
//     the job's timeout
//   - [Tracing]: wraps processing in an OpenTelemetry span
//   - [Metrics]: records per-job duration and outcome counters
//
// # Writing Custom Middleware
//
//	func MyMiddleware() middleware.Middleware {
//	    return func(ctx context.Context, j *job.Job, next middleware.Handler) (any, error) {
//	        // pre-processing
//	        result, err := next(ctx)
//	        // post-processing
//	        return result, err
//	    }
//	}
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
