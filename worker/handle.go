package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/tether"
	"github.com/xraph/tether/gate"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/job"
	"github.com/xraph/tether/lease"
	"github.com/xraph/tether/queue"
)

// Queues resolves queue names for processors that add children.
type Queues interface {
	Queue(name string) (*queue.Queue, error)
}

var _ job.Handle = (*handle)(nil)

// handle is the job.Handle given to a processor for one dispatch.
type handle struct {
	mu        sync.Mutex
	job       *job.Job
	lease     *lease.Lease
	suspended bool

	leases *lease.Manager
	gate   *gate.Gate
	queues Queues
}

func newHandle(j *job.Job, l *lease.Lease, leases *lease.Manager, g *gate.Gate, queues Queues) *handle {
	return &handle{job: j, lease: l, leases: leases, gate: g, queues: queues}
}

func (h *handle) Job() *job.Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.Clone()
}

func (h *handle) Token() id.LeaseID { return h.lease.Token }

func (h *handle) Decode(v any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job.Decode(v)
}

func (h *handle) UpdateData(ctx context.Context, patch any) error {
	if err := h.usable(); err != nil {
		return err
	}
	q, err := h.queues.Queue(h.lease.Queue)
	if err != nil {
		return err
	}
	updated, err := q.UpdateData(ctx, h.lease.JobID, h.lease.Token, patch)
	if err != nil {
		return h.leases.Stale(h.lease, err)
	}
	h.mu.Lock()
	h.job = updated
	h.mu.Unlock()
	return nil
}

func (h *handle) AddChildren(ctx context.Context, queueName string, entries []job.Entry) ([]*job.Job, error) {
	if err := h.usable(); err != nil {
		return nil, err
	}
	q, err := h.queues.Queue(queueName)
	if err != nil {
		return nil, err
	}
	withParent := make([]job.Entry, len(entries))
	for i, e := range entries {
		opts := make([]job.Option, 0, len(e.Options)+1)
		opts = append(opts, e.Options...)
		opts = append(opts, job.WithParent(h.lease.JobID, h.lease.Queue))
		withParent[i] = job.Entry{Name: e.Name, Data: e.Data, Options: opts}
	}
	added, err := q.AddBulk(ctx, withParent)
	if err != nil {
		return nil, h.leases.Stale(h.lease, err)
	}
	return added, nil
}

func (h *handle) SuspendIfPending(ctx context.Context) (bool, error) {
	if err := h.usable(); err != nil {
		return false, err
	}
	suspended, err := h.gate.SuspendIfPending(ctx, h.lease.JobID, h.lease.Token)
	if err != nil {
		return false, h.leases.Stale(h.lease, err)
	}
	if !suspended {
		return false, nil
	}
	h.mu.Lock()
	h.suspended = true
	h.job.State = job.StateWaitingChildren
	h.job.ClearLease()
	h.mu.Unlock()
	return true, nil
}

func (h *handle) Renew(ctx context.Context) error {
	if err := h.usable(); err != nil {
		return err
	}
	return h.leases.Renew(ctx, h.lease)
}

// Suspended reports whether the job gave up its lease to wait for children.
func (h *handle) Suspended() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.suspended
}

// usable rejects calls once the job has given up its lease. Expiry is
// checked by the store against the lease token.
func (h *handle) usable() error {
	if h.Suspended() || h.lease.Released() {
		return fmt.Errorf("%w: job %s", tether.ErrLeaseLost, h.lease.JobID)
	}
	return nil
}
