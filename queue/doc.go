// Package queue is the producer-facing side of tether: a named FIFO of
// jobs that can be added singly or in atomic batches.
//
// A job added with [job.WithParent] becomes a child of another job. The
// parent's pending-children count is incremented in the same store batch
// that makes the child visible, so no worker can finish a child before its
// parent has counted it.
//
//	q, _ := queue.New("children", store, gate, bus)
//	jobs, err := q.AddBulk(ctx, []job.Entry{
//	    {Name: "child:0", Data: map[string]any{"foo": "bar-0"},
//	        Options: []job.Option{job.WithParent(parent.ID, "parents")}},
//	})
//
// Every successful add publishes on the queue's notification channel,
// which wakes idle workers of that queue.
//
// Adds are idempotent per [job.WithKey]: an entry whose key already exists
// in the queue returns the stored job, creates nothing and registers no
// additional child with its parent.
package queue
