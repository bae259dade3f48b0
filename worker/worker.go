package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tether/ext"
	"github.com/xraph/tether/lease"
)

// Worker leases jobs from one queue and runs each on its own goroutine
// through an Executor. Concurrency is bounded by the lease manager.
type Worker struct {
	leases     *lease.Manager
	executor   *Executor
	extensions *ext.Registry
	logger     *slog.Logger

	errorDelay time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup // fetch and reclaim loops
	jobs    sync.WaitGroup // in-flight dispatches

	// Keyed by lease: a reclaimed job can be leased again by this worker
	// while its stale dispatch is still running.
	activeMu   sync.Mutex
	activeJobs map[*lease.Lease]context.CancelFunc
}

// Option configures a Worker.
type Option func(*Worker)

// WithErrorDelay sets how long the fetch loop pauses after an acquire error.
func WithErrorDelay(d time.Duration) Option {
	return func(w *Worker) { w.errorDelay = d }
}

// New creates a Worker. The lease manager fixes the queue and the
// concurrency.
func New(leases *lease.Manager, executor *Executor, extensions *ext.Registry, logger *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		leases:     leases,
		executor:   executor,
		extensions: extensions,
		logger:     logger,
		errorDelay: time.Second,
		activeJobs: make(map[*lease.Lease]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Queue returns the queue the worker serves.
func (w *Worker) Queue() string { return w.leases.Queue() }

// Start launches the fetch loop and the lease reclaim loop. Calling Start
// on a running worker is a no-op.
func (w *Worker) Start(_ context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.running = true

	w.wg.Add(2)
	go w.fetchLoop(runCtx)
	go func() {
		defer w.wg.Done()
		_ = w.leases.Run(runCtx)
	}()

	w.logger.Info("worker started",
		slog.String("queue", w.leases.Queue()),
		slog.String("worker_id", w.leases.WorkerID().String()),
		slog.Int("concurrency", w.leases.Concurrency()),
	)
	return nil
}

// Stop stops leasing new jobs and waits for in-flight dispatches. If ctx
// ends first, in-flight dispatches are cancelled and their outcome is
// still recorded.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.cancel()
	w.mu.Unlock()

	w.wg.Wait()

	done := make(chan struct{})
	go func() {
		w.jobs.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("stop deadline reached, cancelling active jobs",
			slog.String("queue", w.leases.Queue()),
			slog.Int("active", w.ActiveJobs()),
		)
		w.cancelActiveJobs()
		<-done
		err = ctx.Err()
	}

	if cerr := w.leases.Close(); cerr != nil && err == nil {
		err = cerr
	}
	w.logger.Info("worker stopped", slog.String("queue", w.leases.Queue()))
	return err
}

// ActiveJobs returns the number of jobs being processed.
func (w *Worker) ActiveJobs() int {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	return len(w.activeJobs)
}

func (w *Worker) fetchLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		l, j, err := w.leases.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("acquire failed",
				slog.String("queue", w.leases.Queue()),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.errorDelay):
			}
			continue
		}

		w.extensions.EmitJobStarted(ctx, j)

		// Dispatches outlive the fetch loop so Stop can drain them.
		jobCtx, cancel := context.WithCancel(context.Background())
		w.trackJob(l, cancel)
		w.jobs.Add(1)
		go func() {
			defer w.jobs.Done()
			defer w.untrackJob(l)
			_ = w.executor.Execute(jobCtx, l, j)
		}()
	}
}

func (w *Worker) trackJob(l *lease.Lease, cancel context.CancelFunc) {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	w.activeJobs[l] = cancel
}

func (w *Worker) untrackJob(l *lease.Lease) {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	if cancel, ok := w.activeJobs[l]; ok {
		cancel()
		delete(w.activeJobs, l)
	}
}

func (w *Worker) cancelActiveJobs() {
	w.activeMu.Lock()
	defer w.activeMu.Unlock()
	for _, cancel := range w.activeJobs {
		cancel()
	}
}
