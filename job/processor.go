package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/xraph/tether/id"
)

// Handle is the view of a leased job handed to a Processor. Every
// mutating call checks the lease and fails with tether.ErrLeaseLost or
// tether.ErrLeaseExpired once the worker no longer owns the job.
type Handle interface {
	// Job returns a snapshot of the job as of the last successful write.
	Job() *Job
	// Token returns the lease token.
	Token() id.LeaseID
	// Decode unmarshals the current data into v.
	Decode(v any) error
	// UpdateData shallow-merges patch into the job data.
	UpdateData(ctx context.Context, patch any) error
	// AddChildren adds entries to another queue as children of this job.
	AddChildren(ctx context.Context, queue string, entries []Entry) ([]*Job, error)
	// SuspendIfPending moves the job to waiting-children and releases the
	// lease when children are still pending. When it returns true the
	// processor must return immediately.
	SuspendIfPending(ctx context.Context) (bool, error)
	// Renew extends the lease.
	Renew(ctx context.Context) error
}

// Processor runs jobs of one queue. A nil result on a normal return
// completes the job without a result value.
type Processor interface {
	Process(ctx context.Context, h Handle) (any, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, h Handle) (any, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, h Handle) (any, error) { return f(ctx, h) }

// Definition is a typed processor. T is the data type; the job data is
// decoded into it before every dispatch.
type Definition[T any] struct {
	// Queue is the queue this processor serves.
	Queue string
	// Handler processes one dispatch of a job.
	Handler func(ctx context.Context, h Handle, data T) (any, error)
}

// NewDefinition creates a typed processor definition.
func NewDefinition[T any](queue string, handler func(ctx context.Context, h Handle, data T) (any, error)) *Definition[T] {
	return &Definition[T]{Queue: queue, Handler: handler}
}

// Process implements Processor.
func (d *Definition[T]) Process(ctx context.Context, h Handle) (any, error) {
	var data T
	if err := h.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode data for queue %q: %w", d.Queue, err)
	}
	return d.Handler(ctx, h, data)
}

// Registry maps queue names to processors. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]Processor)}
}

// Register binds p to queue, replacing any previous binding.
func (r *Registry) Register(queue string, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[queue] = p
}

// RegisterDefinition registers a typed definition under its queue.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) {
	r.Register(def.Queue, def)
}

// Get returns the processor for queue.
func (r *Registry) Get(queue string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[queue]
	return p, ok
}

// Queues returns all queues with a registered processor.
func (r *Registry) Queues() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	return names
}
