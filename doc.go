// Package tether provides a job engine for Go with parent/child barriers.
// Jobs are added to named queues, leased by workers for a bounded time,
// and processed by caller-supplied processors. A parent job can spawn a
// batch of children, suspend itself in the waiting-children state, and is
// resumed exactly once after every child has completed or failed.
//
// tether is a library, not a service. Import it, configure a store, and
// register one processor per queue.
//
// # Quick Start
//
//	t, err := tether.New(
//	    tether.WithStore(memory.New()),
//	    tether.WithConcurrency(20),
//	)
//	eng, err := engine.Build(t)
//	parents, err := eng.Queue("parents")
//	eng.Work(ctx, "parents", fanout.NewParent("children", 25))
//	eng.Work(ctx, "children", fanout.NewChild(time.Second, nil))
//	eng.Start(ctx)
//	parents.Add(ctx, "parent_job:1", fanout.ParentData{})
//
// # Architecture
//
// The record store (job.Store) offers linearizable per-job updates and an
// atomic batch create. On top of it sit the queue (submission), the lease
// manager (exclusive, time-bounded ownership), the dependency gate
// (pending-child counting and the suspend/resume barrier) and the worker
// loop. Workers wait for work on an event.Notifier instead of busy-polling.
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based.
package tether
