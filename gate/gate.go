// Package gate implements the dependency gate: the pending-children count
// of a parent job and the transitions that hang off it.
//
// The count and the parent's state live on the same record and only change
// inside per-record linearizable store updates. A parent suspending itself
// and its last child finishing are therefore totally ordered, which is what
// makes the wake-up exactly-once: either the suspend sees a zero count and
// keeps running, or the last decrement sees waiting-children and flips the
// parent back to waiting.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tether"
	"github.com/xraph/tether/event"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/job"
)

// errKeep aborts a store update without writing and is never returned.
var errKeep = errors.New("gate: keep")

// Gate owns the pending-children bookkeeping.
type Gate struct {
	store    job.Store
	notifier event.Notifier
	logger   *slog.Logger
	now      func() time.Time
	onResume func(ctx context.Context, parent *job.ParentRef)
}

// Option configures a Gate.
type Option func(*Gate)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithClock overrides the time source used for lease checks.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// OnResume registers fn to run after a parent left waiting-children.
func OnResume(fn func(ctx context.Context, parent *job.ParentRef)) Option {
	return func(g *Gate) { g.onResume = fn }
}

// New creates a gate over the given store and notifier.
func New(store job.Store, notifier event.Notifier, opts ...Option) *Gate {
	g := &Gate{
		store:    store,
		notifier: notifier,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RegisterChildren atomically adds n to the parent's pending count.
func (g *Gate) RegisterChildren(ctx context.Context, parentID id.JobID, n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative child count %d", tether.ErrInvalidArgument, n)
	}
	_, err := g.store.UpdateJob(ctx, parentID, func(p *job.Job) error {
		return register(p, n)
	})
	return err
}

// Registrar returns the increment for the parents of children as a
// job.ParentFunc, for stores to run inside the batch that creates them.
// A child whose parent reference names a queue other than the parent's
// own aborts the batch with ErrInvalidArgument.
func (g *Gate) Registrar(children []*job.Job) job.ParentFunc {
	refs := make(map[string][]string)
	for _, c := range children {
		if !c.HasParent() {
			continue
		}
		key := c.Parent.ID.String()
		refs[key] = append(refs[key], c.Parent.Queue)
	}
	return func(p *job.Job, n int) error {
		for _, q := range refs[p.ID.String()] {
			if q != p.Queue {
				return fmt.Errorf("%w: parent %s is on queue %q, not %q",
					tether.ErrInvalidArgument, p.ID, p.Queue, q)
			}
		}
		return register(p, n)
	}
}

func register(p *job.Job, n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative child count %d", tether.ErrInvalidArgument, n)
	}
	if p.State.IsTerminal() {
		return fmt.Errorf("%w: parent %s is %s", tether.ErrInvalidState, p.ID, p.State)
	}
	p.PendingChildren += n
	return nil
}

// Resolver returns the decrement as a job.Mutator for a parent. woke is set
// when the decrement reached zero while the parent was waiting-children,
// in which case the parent is now waiting and its queue must be notified.
func (g *Gate) Resolver(woke *bool) job.Mutator {
	return func(p *job.Job) error {
		// Stores may re-run a mutator after a conflict.
		*woke = false
		if p.PendingChildren == 0 {
			return nil
		}
		p.PendingChildren--
		if p.PendingChildren == 0 && p.State == job.StateWaitingChildren {
			p.State = job.StateWaiting
			*woke = true
		}
		return nil
	}
}

// Finish applies childFn to a child and releases its slot on the parent in
// one store transaction. childFn must leave the child terminal. The slot
// is released at most once per child however often Finish is called.
func (g *Gate) Finish(ctx context.Context, childID id.JobID, childFn job.Mutator) (*job.Job, error) {
	var (
		woke    bool
		resolve bool
	)
	resolver := g.Resolver(&woke)
	child, err := g.store.UpdateFamily(ctx, childID,
		func(c *job.Job) error {
			resolve = false
			if childFn != nil {
				if err := childFn(c); err != nil {
					return err
				}
			}
			if !c.State.IsTerminal() {
				return fmt.Errorf("%w: job %s is %s, not terminal", tether.ErrInvalidState, c.ID, c.State)
			}
			if c.HasParent() && !c.ParentResolved {
				c.ParentResolved = true
				resolve = true
			}
			return nil
		},
		func(p *job.Job) error {
			if !resolve {
				woke = false
				return nil
			}
			return resolver(p)
		},
	)
	if err != nil {
		return nil, err
	}
	if woke {
		g.wake(ctx, child.Parent)
	}
	return child, nil
}

// OnChildTerminal releases the slot a terminal child holds on its parent.
// When that was the last pending child of a waiting-children parent, the
// parent goes back to waiting and its queue is notified.
func (g *Gate) OnChildTerminal(ctx context.Context, childID id.JobID) error {
	_, err := g.Finish(ctx, childID, nil)
	return err
}

// SuspendIfPending validates the lease and reads the pending count in one
// atomic update. With pending children the job moves to waiting-children,
// the lease is cleared and true is returned. With none the lease is kept
// and false is returned.
func (g *Gate) SuspendIfPending(ctx context.Context, jobID id.JobID, token id.LeaseID) (bool, error) {
	var suspended bool
	_, err := g.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		suspended = false
		if err := j.CheckLease(token, g.now()); err != nil {
			return err
		}
		if j.PendingChildren == 0 {
			return errKeep
		}
		j.State = job.StateWaitingChildren
		j.ClearLease()
		suspended = true
		return nil
	})
	if errors.Is(err, errKeep) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	g.logger.Debug("job waiting for children",
		slog.String("job_id", jobID.String()),
	)
	return suspended, nil
}

// Pending returns the current pending count of a parent.
func (g *Gate) Pending(ctx context.Context, parentID id.JobID) (int, error) {
	p, err := g.store.GetJob(ctx, parentID)
	if err != nil {
		return 0, err
	}
	return p.PendingChildren, nil
}

func (g *Gate) wake(ctx context.Context, parent *job.ParentRef) {
	g.logger.Debug("parent resumed",
		slog.String("job_id", parent.ID.String()),
		slog.String("queue", parent.Queue),
	)
	if g.onResume != nil {
		g.onResume(ctx, parent)
	}
	if g.notifier == nil {
		return
	}
	// The parent is already waiting; a lost publish only delays it until
	// the next poll.
	if err := g.notifier.Publish(ctx, parent.Queue); err != nil {
		g.logger.Warn("notify parent queue failed",
			slog.String("queue", parent.Queue),
			slog.String("error", err.Error()),
		)
	}
}
