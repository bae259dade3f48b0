package job

import (
	"time"

	"github.com/xraph/tether/id"
)

// Options configures a single job at creation time.
type Options struct {
	// Parent registers the job as a child of another job. The parent's
	// pending-child count is incremented in the same atomic batch.
	Parent *ParentRef

	// Key makes creation idempotent within the queue. Adding a job whose
	// key already exists returns the stored job instead.
	Key string

	// Timeout is the maximum time a single dispatch may run. Zero means
	// no deadline beyond the lease.
	Timeout time.Duration
}

// Option is a functional option for a job.
type Option func(*Options)

// Apply folds opts into a fresh Options value.
func Apply(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithParent makes the job a child of the given parent.
func WithParent(parentID id.JobID, parentQueue string) Option {
	return func(o *Options) {
		o.Parent = &ParentRef{ID: parentID, Queue: parentQueue}
	}
}

// WithKey sets the idempotency key of the job.
func WithKey(key string) Option {
	return func(o *Options) {
		o.Key = key
	}
}

// WithTimeout sets the per-dispatch execution deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// Entry describes one job to create in a bulk add.
type Entry struct {
	Name    string
	Data    any
	Options []Option
}
