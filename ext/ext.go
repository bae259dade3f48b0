// Package ext defines the extension system for tether.
// Extensions are notified of lifecycle events (job added, completed,
// suspended on its children, etc.) and can react to them.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/xraph/tether/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobAdded is called after a job is created by a queue.
type JobAdded interface {
	OnJobAdded(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins a dispatch of a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a processor returns an error. Failed jobs are
// terminal.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobSuspended is called when a job released its lease to wait for its
// children.
type JobSuspended interface {
	OnJobSuspended(ctx context.Context, j *job.Job) error
}

// JobResumed is called when the last pending child of a suspended parent
// reached a terminal state and the parent is waiting again.
type JobResumed interface {
	OnJobResumed(ctx context.Context, parent *job.ParentRef) error
}

// LeaseReclaimed is called when an expired lease is swept and its job goes
// back to waiting.
type LeaseReclaimed interface {
	OnLeaseReclaimed(ctx context.Context, j *job.Job) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
