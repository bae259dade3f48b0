package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/xraph/tether"
	"github.com/xraph/tether/backoff"
	"github.com/xraph/tether/event"
	"github.com/xraph/tether/gate"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/job"
)

// errSkip aborts a store update without writing and is never returned.
var errSkip = errors.New("lease: skip")

// Manager hands out leases on the jobs of one queue.
type Manager struct {
	queue    string
	store    job.Store
	gate     *gate.Gate
	bus      *event.Bus
	workerID id.WorkerID
	logger   *slog.Logger
	now      func() time.Time

	concurrency     int
	ttl             time.Duration
	pollInterval    time.Duration
	reclaimInterval time.Duration
	retries         int
	backoff         backoff.Strategy
	onReclaim       func(ctx context.Context, j *job.Job)

	sem *semaphore.Weighted

	subMu sync.Mutex
	sub   *event.Subscription
}

// Option configures a Manager.
type Option func(*Manager)

// WithConcurrency sets the number of leases held at once.
func WithConcurrency(n int) Option {
	return func(m *Manager) { m.concurrency = n }
}

// WithTTL sets the lease lifetime.
func WithTTL(d time.Duration) Option {
	return func(m *Manager) { m.ttl = d }
}

// WithPollInterval bounds how long Acquire sleeps without a notification.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) { m.pollInterval = d }
}

// WithReclaimInterval sets the period of the expiry sweep run by Run.
func WithReclaimInterval(d time.Duration) Option {
	return func(m *Manager) { m.reclaimInterval = d }
}

// WithRetries sets how many attempts are made on transient store errors.
func WithRetries(n int, s backoff.Strategy) Option {
	return func(m *Manager) {
		m.retries = n
		if s != nil {
			m.backoff = s
		}
	}
}

// WithWorkerID stamps leased jobs with the owning worker.
func WithWorkerID(wid id.WorkerID) Option {
	return func(m *Manager) { m.workerID = wid }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// OnReclaim registers fn to run for every job returned to waiting by the
// expiry sweep.
func OnReclaim(fn func(ctx context.Context, j *job.Job)) Option {
	return func(m *Manager) { m.onReclaim = fn }
}

// NewManager creates a lease manager for queue.
func NewManager(queue string, store job.Store, g *gate.Gate, bus *event.Bus, opts ...Option) *Manager {
	cfg := tether.DefaultConfig()
	m := &Manager{
		queue:           queue,
		store:           store,
		gate:            g,
		bus:             bus,
		workerID:        id.NewWorkerID(),
		logger:          slog.Default(),
		now:             func() time.Time { return time.Now().UTC() },
		concurrency:     cfg.Concurrency,
		ttl:             cfg.LeaseDuration,
		pollInterval:    cfg.PollInterval,
		reclaimInterval: cfg.ReclaimInterval,
		retries:         cfg.StorageRetries,
		backoff:         backoff.DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.concurrency < 1 {
		m.concurrency = 1
	}
	m.sem = semaphore.NewWeighted(int64(m.concurrency))
	return m
}

// Queue returns the queue served by the manager.
func (m *Manager) Queue() string { return m.queue }

// WorkerID returns the id stamped on leased jobs.
func (m *Manager) WorkerID() id.WorkerID { return m.workerID }

// Concurrency returns the maximum number of leases held at once.
func (m *Manager) Concurrency() int { return m.concurrency }

// TTL returns the lease lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Acquire takes a concurrency slot and claims the oldest waiting job. It
// blocks on the queue's notifications, bounded by the poll interval, until
// a job can be claimed or ctx is done.
func (m *Manager) Acquire(ctx context.Context) (*Lease, *job.Job, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}

	// Subscribing before the first claim means a job added between a
	// failed claim and the wait still leaves a pending wake-up.
	sub, err := m.subscription(ctx)
	if err != nil {
		m.sem.Release(1)
		return nil, nil, err
	}

	for {
		l, j, err := m.claim(ctx)
		if err != nil {
			m.sem.Release(1)
			return nil, nil, err
		}
		if l != nil {
			return l, j, nil
		}
		if _, err := m.bus.Wait(ctx, sub, m.pollInterval); err != nil {
			m.sem.Release(1)
			return nil, nil, err
		}
	}
}

func (m *Manager) claim(ctx context.Context) (*Lease, *job.Job, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	token := id.NewLeaseID()

	var claimed *job.Job
	err := backoff.Retry(ctx, m.backoff, m.retries, func() error {
		var err error
		claimed, err = m.store.ClaimJob(ctx, m.queue, func(j *job.Job) error {
			started := now
			j.State = job.StateActive
			j.LeaseToken = token
			j.LeaseExpiresAt = &exp
			j.WorkerID = m.workerID
			j.StartedAt = &started
			j.Attempts++
			return nil
		})
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("lease: claim on %q: %w", m.queue, err)
	}
	if claimed == nil {
		return nil, nil, nil
	}
	return newLease(claimed.ID, m.queue, token, m.workerID, exp), claimed, nil
}

// Renew extends the lease by the TTL.
func (m *Manager) Renew(ctx context.Context, l *Lease) error {
	now := m.now()
	exp := now.Add(m.ttl)
	err := backoff.Retry(ctx, m.backoff, m.retries, func() error {
		_, err := m.store.UpdateJob(ctx, l.JobID, func(j *job.Job) error {
			if err := j.CheckLease(l.Token, now); err != nil {
				return err
			}
			j.LeaseExpiresAt = &exp
			return nil
		})
		return err
	})
	if err != nil {
		return m.stale(l, now, err)
	}
	l.setExpiry(exp)
	return nil
}

// Release ends the dispatch and gives back the concurrency slot. For
// Completed and Failed the job's terminal transition and the release of its
// slot on the parent happen in one store transaction. The slot is freed
// exactly once per lease, even when Release fails.
func (m *Manager) Release(ctx context.Context, l *Lease, outcome Outcome) error {
	defer m.free(l)

	if outcome.kind == outcomeWaiting {
		return nil
	}

	now := m.now()
	state := job.StateCompleted
	var (
		result  []byte
		message string
	)
	switch outcome.kind {
	case outcomeCompleted:
		raw, err := encodeResult(outcome.result)
		if err != nil {
			state = job.StateFailed
			message = fmt.Sprintf("encode result: %v", err)
		} else {
			result = raw
		}
	case outcomeFailed:
		state = job.StateFailed
		if outcome.err != nil {
			message = outcome.err.Error()
		}
	}

	err := backoff.Retry(ctx, m.backoff, m.retries, func() error {
		_, err := m.gate.Finish(ctx, l.JobID, func(j *job.Job) error {
			if err := j.CheckLease(l.Token, now); err != nil {
				return err
			}
			finished := now
			j.State = state
			j.Result = result
			j.Error = message
			j.FinishedAt = &finished
			j.ClearLease()
			return nil
		})
		return err
	})
	if err != nil {
		return m.stale(l, now, err)
	}
	return nil
}

// Free gives back the slot of a lease without touching the job. Use it
// when the holder abandons a lease it can no longer release, for example
// after the record was reclaimed.
func (m *Manager) Free(l *Lease) { m.free(l) }

func (m *Manager) free(l *Lease) {
	if l.released.CompareAndSwap(false, true) {
		m.sem.Release(1)
	}
}

// Stale reports err as ErrLeaseExpired when it is ErrLeaseLost and the
// lease's own expiry has passed. Holders writing through the lease token
// use it so a reclaimed lease reads as expired rather than taken over.
func (m *Manager) Stale(l *Lease, err error) error { return m.stale(l, m.now(), err) }

// stale maps a lost lease to ErrLeaseExpired when our own expiry has
// passed, since the sweep clears the token of expired leases.
func (m *Manager) stale(l *Lease, now time.Time, err error) error {
	if errors.Is(err, tether.ErrLeaseLost) && !now.Before(l.ExpiresAt()) {
		return fmt.Errorf("%w: job %s", tether.ErrLeaseExpired, l.JobID)
	}
	return err
}

// Reclaim returns every active job of the queue whose lease has expired to
// waiting and notifies the queue. It returns the number of reclaimed jobs.
func (m *Manager) Reclaim(ctx context.Context) (int, error) {
	active, err := m.store.ListJobs(ctx, job.ListOpts{Queue: m.queue, State: job.StateActive})
	if err != nil {
		return 0, fmt.Errorf("lease: list active on %q: %w", m.queue, err)
	}

	now := m.now()
	n := 0
	for _, a := range active {
		if a.LeaseExpiresAt == nil || now.Before(*a.LeaseExpiresAt) {
			continue
		}
		updated, err := m.store.UpdateJob(ctx, a.ID, func(j *job.Job) error {
			if j.State != job.StateActive || j.LeaseExpiresAt == nil || now.Before(*j.LeaseExpiresAt) {
				return errSkip
			}
			j.State = job.StateWaiting
			j.ClearLease()
			return nil
		})
		if errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			m.logger.Warn("reclaim lease failed",
				slog.String("job_id", a.ID.String()),
				slog.String("queue", m.queue),
				slog.String("error", err.Error()),
			)
			continue
		}
		n++
		m.logger.Info("lease expired, job returned to waiting",
			slog.String("job_id", updated.ID.String()),
			slog.String("job_name", updated.Name),
			slog.String("queue", m.queue),
			slog.Int("attempts", updated.Attempts),
		)
		if m.onReclaim != nil {
			m.onReclaim(ctx, updated)
		}
	}

	if n > 0 {
		if err := m.bus.Publish(ctx, m.queue); err != nil {
			m.logger.Warn("notify after reclaim failed",
				slog.String("queue", m.queue),
				slog.String("error", err.Error()),
			)
		}
	}
	return n, nil
}

// Run sweeps expired leases every reclaim interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.reclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Reclaim(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("reclaim sweep failed",
					slog.String("queue", m.queue),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Close drops the manager's notification subscription.
func (m *Manager) Close() error {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.sub == nil {
		return nil
	}
	err := m.sub.Close()
	m.sub = nil
	return err
}

func (m *Manager) subscription(ctx context.Context) (*event.Subscription, error) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.sub != nil {
		return m.sub, nil
	}
	sub, err := m.bus.Subscribe(ctx, m.queue)
	if err != nil {
		return nil, fmt.Errorf("lease: subscribe to %q: %w", m.queue, err)
	}
	m.sub = sub
	return sub, nil
}
