// Package job defines the job entity, its state machine, the processor
// contract and the store interface.
//
// # Job Entity
//
// A [Job] lives on one named queue and carries caller-defined JSON data.
// Its state machine:
//
//	waiting → active → completed
//	waiting → active → failed
//	waiting → active → waiting-children → waiting → active → ...
//	active  → waiting (lease expired and reclaimed)
//
// A child carries a [ParentRef]; the parent's PendingChildren counts the
// children that are not yet terminal. Only the dependency gate changes
// that count.
//
// # Processors
//
// A [Processor] is bound to a queue when a worker is started. It receives
// a [Handle] through which it can update data, add children and suspend:
//
//	var resize = job.NewDefinition("thumbnails",
//	    func(ctx context.Context, h job.Handle, in ResizeInput) (any, error) {
//	        return nil, images.Resize(ctx, in.Path, in.Width)
//	    },
//	)
//
// # Store
//
// [Store] offers atomic batch creation and per-job read-modify-write via
// [Mutator] functions. Backends live under store/.
package job
