// Package ext defines the extension system for tether.
//
// Extensions are notified of lifecycle events and can react to them,
// for example by recording metrics or writing audit logs. Each lifecycle
// hook is a separate interface so extensions opt in only to the events
// they care about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	// Opt in to specific hooks by implementing their interfaces.
//	func (e *MyExtension) OnJobResumed(ctx context.Context, p *job.ParentRef) error {
//	    log.Printf("parent %s resumed on %s", p.ID, p.Queue)
//	    return nil
//	}
//
// # Hooks
//
//   - [JobAdded]: a queue created the job
//   - [JobStarted]: a worker began a dispatch
//   - [JobCompleted]: the processor returned without error
//   - [JobFailed]: the processor returned an error
//   - [JobSuspended]: the job released its lease to wait for children
//   - [JobResumed]: the last child finished and the parent is waiting again
//   - [LeaseReclaimed]: an expired lease was swept
//   - [Shutdown]: the engine is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
