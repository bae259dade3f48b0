package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/tether/job"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
// Register all extensions before the engine starts.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobAdded       []entry[JobAdded]
	jobStarted     []entry[JobStarted]
	jobCompleted   []entry[JobCompleted]
	jobFailed      []entry[JobFailed]
	jobSuspended   []entry[JobSuspended]
	jobResumed     []entry[JobResumed]
	leaseReclaimed []entry[LeaseReclaimed]
	shutdown       []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(JobAdded); ok {
		r.jobAdded = append(r.jobAdded, entry[JobAdded]{name, h})
	}
	if h, ok := e.(JobStarted); ok {
		r.jobStarted = append(r.jobStarted, entry[JobStarted]{name, h})
	}
	if h, ok := e.(JobCompleted); ok {
		r.jobCompleted = append(r.jobCompleted, entry[JobCompleted]{name, h})
	}
	if h, ok := e.(JobFailed); ok {
		r.jobFailed = append(r.jobFailed, entry[JobFailed]{name, h})
	}
	if h, ok := e.(JobSuspended); ok {
		r.jobSuspended = append(r.jobSuspended, entry[JobSuspended]{name, h})
	}
	if h, ok := e.(JobResumed); ok {
		r.jobResumed = append(r.jobResumed, entry[JobResumed]{name, h})
	}
	if h, ok := e.(LeaseReclaimed); ok {
		r.leaseReclaimed = append(r.leaseReclaimed, entry[LeaseReclaimed]{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, entry[Shutdown]{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// EmitJobAdded notifies all extensions that implement JobAdded.
func (r *Registry) EmitJobAdded(ctx context.Context, j *job.Job) {
	for _, e := range r.jobAdded {
		if err := e.hook.OnJobAdded(ctx, j); err != nil {
			r.logHookError("OnJobAdded", e.name, err)
		}
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		if err := e.hook.OnJobStarted(ctx, j); err != nil {
			r.logHookError("OnJobStarted", e.name, err)
		}
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		if err := e.hook.OnJobCompleted(ctx, j, elapsed); err != nil {
			r.logHookError("OnJobCompleted", e.name, err)
		}
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		if err := e.hook.OnJobFailed(ctx, j, jobErr); err != nil {
			r.logHookError("OnJobFailed", e.name, err)
		}
	}
}

// EmitJobSuspended notifies all extensions that implement JobSuspended.
func (r *Registry) EmitJobSuspended(ctx context.Context, j *job.Job) {
	for _, e := range r.jobSuspended {
		if err := e.hook.OnJobSuspended(ctx, j); err != nil {
			r.logHookError("OnJobSuspended", e.name, err)
		}
	}
}

// EmitJobResumed notifies all extensions that implement JobResumed.
func (r *Registry) EmitJobResumed(ctx context.Context, parent *job.ParentRef) {
	for _, e := range r.jobResumed {
		if err := e.hook.OnJobResumed(ctx, parent); err != nil {
			r.logHookError("OnJobResumed", e.name, err)
		}
	}
}

// EmitLeaseReclaimed notifies all extensions that implement LeaseReclaimed.
func (r *Registry) EmitLeaseReclaimed(ctx context.Context, j *job.Job) {
	for _, e := range r.leaseReclaimed {
		if err := e.hook.OnLeaseReclaimed(ctx, j); err != nil {
			r.logHookError("OnLeaseReclaimed", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
