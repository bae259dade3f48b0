// Package engine assembles a running tether system from a [tether.Tether].
//
// Build takes the Tether's store (which must implement store.Store), creates
// the dependency gate and the extension registry, installs the default
// middleware (recover, tracing, metrics, logging, timeout) and registers the
// observability extension. Queues are created on demand with [Engine.Queue];
// [Engine.Work] binds a processor to a queue and creates its worker.
//
//	t, _ := tether.New(tether.WithStore(memory.New()))
//	eng, _ := engine.Build(t)
//
//	parents, _ := eng.Queue("parents")
//	eng.Work(ctx, "parents", fanout.NewParent("children", 25))
//	eng.Work(ctx, "children", fanout.NewChild(time.Second, nil), engine.WithConcurrency(1))
//
//	eng.Start(ctx)
//	defer eng.Stop(ctx)
//
//	parents.Add(ctx, "parent_job:1", fanout.ParentData{Step: fanout.Initial})
//
// Typed processors are registered with the generic [Register]:
//
//	def := job.NewDefinition("emails", func(ctx context.Context, h job.Handle, p Email) (any, error) {
//	    return nil, send(ctx, p)
//	})
//	engine.Register(ctx, eng, def)
//
// The package sits above every subsystem package: the root tether package
// defines Entity, which job and queue import, so it cannot import them back.
package engine
