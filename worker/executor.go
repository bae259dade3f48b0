// Package worker provides the job processing engine: an Executor that runs
// one leased job through middleware and its processor, and a Worker that
// leases jobs from one queue and runs them concurrently.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tether"
	"github.com/xraph/tether/ext"
	"github.com/xraph/tether/gate"
	"github.com/xraph/tether/job"
	"github.com/xraph/tether/lease"
	"github.com/xraph/tether/middleware"
)

// Executor runs a single leased job through middleware and the processor,
// then releases the lease according to the outcome and emits lifecycle
// events.
type Executor struct {
	processor     job.Processor
	leases        *lease.Manager
	gate          *gate.Gate
	queues        Queues
	extensions    *ext.Registry
	mw            middleware.Middleware
	logger        *slog.Logger
	renewInterval time.Duration
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	processor job.Processor,
	leases *lease.Manager,
	g *gate.Gate,
	queues Queues,
	extensions *ext.Registry,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		processor:     processor,
		leases:        leases,
		gate:          g,
		queues:        queues,
		extensions:    extensions,
		mw:            middleware.Chain(mws...),
		logger:        logger,
		renewInterval: leases.TTL() / 3,
	}
}

// SetRenewInterval sets how often the lease of a running job is renewed.
// Zero disables auto-renewal.
func (e *Executor) SetRenewInterval(d time.Duration) { e.renewInterval = d }

// Execute processes one dispatch of j under lease l.
// Suspended: the slot is released, the job waits for its children.
// Error: the job fails and resolves its slot on its parent.
// Otherwise: the job completes with the processor's result.
func (e *Executor) Execute(ctx context.Context, l *lease.Lease, j *job.Job) error {
	h := newHandle(j, l, e.leases, e.gate, e.queues)

	procCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopRenew := e.autoRenew(procCtx, cancel, l)

	start := time.Now()
	terminal := func(ctx context.Context) (any, error) {
		result, err := e.processor.Process(ctx, h)
		if err != nil && !errors.Is(err, tether.ErrProcessor) {
			err = fmt.Errorf("%w: %w", tether.ErrProcessor, err)
		}
		return result, err
	}
	result, err := e.mw(middleware.WithSuspended(procCtx, h.Suspended), j, terminal)
	stopRenew()
	elapsed := time.Since(start)

	// A cancelled dispatch still records its outcome.
	ctx = context.WithoutCancel(ctx)
	switch {
	case h.Suspended():
		if err != nil {
			e.logger.Warn("processor error after suspension ignored",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
		_ = e.leases.Release(ctx, l, lease.ReleaseForWaiting())
		e.extensions.EmitJobSuspended(ctx, h.Job())
		return nil

	case err != nil:
		if relErr := e.leases.Release(ctx, l, lease.Failed(err)); relErr != nil {
			return e.releaseFailed(j, relErr)
		}
		e.extensions.EmitJobFailed(ctx, h.Job(), err)
		return err

	default:
		if relErr := e.leases.Release(ctx, l, lease.Completed(result)); relErr != nil {
			return e.releaseFailed(j, relErr)
		}
		e.extensions.EmitJobCompleted(ctx, h.Job(), elapsed)
		return nil
	}
}

func (e *Executor) releaseFailed(j *job.Job, err error) error {
	if errors.Is(err, tether.ErrLeaseLost) || errors.Is(err, tether.ErrLeaseExpired) {
		e.logger.Warn("lease lost before release, outcome discarded",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("queue", j.Queue),
			slog.String("error", err.Error()),
		)
	} else {
		e.logger.Error("release failed",
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("queue", j.Queue),
			slog.String("error", err.Error()),
		)
	}
	return err
}

// autoRenew renews l every renew interval until the returned stop function
// is called. A stale lease cancels the processor context.
func (e *Executor) autoRenew(ctx context.Context, cancel context.CancelFunc, l *lease.Lease) func() {
	if e.renewInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(e.renewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := e.leases.Renew(ctx, l)
				if err == nil {
					continue
				}
				if errors.Is(err, tether.ErrLeaseLost) || errors.Is(err, tether.ErrLeaseExpired) {
					e.logger.Warn("lease lost, cancelling processor",
						slog.String("job_id", l.JobID.String()),
						slog.String("queue", l.Queue),
						slog.String("error", err.Error()),
					)
					cancel()
					return
				}
				if ctx.Err() == nil {
					e.logger.Warn("lease renewal failed",
						slog.String("job_id", l.JobID.String()),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
