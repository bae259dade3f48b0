// Package fanout provides the reference parent/child processors.
//
// A [Parent] runs a resumable step machine persisted in its own data under
// the "step" key:
//
//	Initial  add N children to the child queue, persist Waiting
//	Waiting  suspend while children are pending, else persist Finish
//	Finish   done; the step is the job's result
//
// Every child carries the idempotency key "<parentID>/<i>", so a parent
// that crashes after adding its children and is dispatched again from
// Initial does not create or count them twice. A step value outside the
// machine fails the job with tether.ErrInvalidStep.
//
// A [Child] is a leaf processor that sleeps for a fixed delay.
//
//	eng.Work(ctx, "parents", fanout.NewParent("children", 25))
//	eng.Work(ctx, "children", fanout.NewChild(time.Second, nil), engine.WithConcurrency(1))
package fanout
