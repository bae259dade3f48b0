package job

import (
	"context"
	"fmt"

	"github.com/xraph/tether"
	"github.com/xraph/tether/id"
)

// Mutator is a predicate-and-patch step applied to one job inside a
// store transaction. Returning an error aborts the transaction and
// nothing is written.
type Mutator func(j *Job) error

// ParentFunc runs against a parent inside the create transaction, once per
// parent, with the number of children newly created for it.
type ParentFunc func(parent *Job, added int) error

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by state. Empty means all states.
	State State
	// Parent filters by parent job. Nil means no filter.
	Parent id.JobID
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store is the persistence contract for jobs. Every method that changes a
// job must be linearizable per job id.
type Store interface {
	// CreateJobs persists jobs in one atomic batch. A job whose Key already
	// exists in its queue is not created; the stored job is returned at its
	// index instead. For each parent referenced by newly created jobs,
	// parentFn runs inside the same batch before any of them is visible.
	CreateJobs(ctx context.Context, jobs []*Job, parentFn ParentFunc) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob atomically reads the job, applies fn and writes the result.
	UpdateJob(ctx context.Context, jobID id.JobID, fn Mutator) (*Job, error)

	// UpdateFamily applies childFn to the job and, when it has a parent,
	// parentFn to that parent, in a single transaction. parentFn is skipped
	// if the parent record no longer exists. Returns the updated child.
	UpdateFamily(ctx context.Context, childID id.JobID, childFn, parentFn Mutator) (*Job, error)

	// ClaimJob atomically picks the oldest waiting job of the queue and
	// applies fn to it. Returns nil and no error when none is waiting.
	ClaimJob(ctx context.Context, queue string, fn Mutator) (*Job, error)

	// ListJobs returns jobs matching the options, oldest first.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error
}

// Mutate runs fn on a copy of j and returns the copy. Stores call it so
// that the identity fields (ID, Queue, Key, Parent, CreatedAt) can never
// be reassigned by a mutator.
func Mutate(j *Job, fn Mutator) (*Job, error) {
	cp := j.Clone()
	if fn != nil {
		if err := fn(cp); err != nil {
			return nil, err
		}
	}
	if !cp.ID.Equal(j.ID) || cp.Queue != j.Queue || cp.Key != j.Key ||
		!sameParent(cp.Parent, j.Parent) || !cp.CreatedAt.Equal(j.CreatedAt) {
		return nil, fmt.Errorf("%w: job %s identity fields are immutable", tether.ErrInvalidState, j.ID)
	}
	if !cp.State.Valid() {
		return nil, fmt.Errorf("%w: unknown state %q", tether.ErrInvalidState, cp.State)
	}
	if cp.PendingChildren < 0 {
		return nil, fmt.Errorf("%w: job %s pending children below zero", tether.ErrInvalidState, j.ID)
	}
	cp.Touch()
	return cp, nil
}

// GroupByParent counts jobs per parent id, keeping first-seen order.
func GroupByParent(jobs []*Job) ([]id.JobID, map[string]int) {
	var order []id.JobID
	counts := make(map[string]int)
	for _, j := range jobs {
		if !j.HasParent() {
			continue
		}
		key := j.Parent.ID.String()
		if _, ok := counts[key]; !ok {
			order = append(order, j.Parent.ID)
		}
		counts[key]++
	}
	return order, counts
}

func sameParent(a, b *ParentRef) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID.Equal(b.ID) && a.Queue == b.Queue
}
