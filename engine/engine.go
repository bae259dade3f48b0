package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/tether"
	"github.com/xraph/tether/event"
	"github.com/xraph/tether/ext"
	"github.com/xraph/tether/gate"
	"github.com/xraph/tether/job"
	"github.com/xraph/tether/lease"
	mw "github.com/xraph/tether/middleware"
	"github.com/xraph/tether/observability"
	"github.com/xraph/tether/queue"
	"github.com/xraph/tether/store"
	"github.com/xraph/tether/worker"
)

// Engine wraps a Tether with typed subsystem access.
// Use Build() to create one from a Tether.
type Engine struct {
	t          *tether.Tether
	store      store.Store
	bus        *event.Bus
	gate       *gate.Gate
	extensions *ext.Registry
	registry   *job.Registry
	mws        []mw.Middleware
	logger     *slog.Logger
	config     tether.Config

	mu      sync.Mutex
	queues  map[string]*queue.Queue
	workers []*worker.Worker
	started bool

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metricFactory  gu.MetricFactory
}

// Option configures an Engine.
type Option func(*Engine)

// WithExtension registers an extension with the engine.
func WithExtension(e ext.Extension) Option {
	return func(eng *Engine) {
		eng.extensions.Register(e)
	}
}

// WithMiddleware adds middleware to the engine's chain. It runs inside the
// default middleware, closest to the processor.
func WithMiddleware(m mw.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// If not set, the global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the metrics
// middleware. If not set, the global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// WithMetricFactory sets the go-utils factory backing the lifecycle
// counters of the observability extension.
func WithMetricFactory(f gu.MetricFactory) Option {
	return func(eng *Engine) {
		eng.metricFactory = f
	}
}

// Build creates an Engine from an existing Tether.
// The Tether's store must implement store.Store.
func Build(t *tether.Tether, opts ...Option) (*Engine, error) {
	logger := t.Logger()
	if t.Store() == nil {
		return nil, tether.ErrNoStore
	}
	s, ok := t.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("tether: store does not implement store.Store")
	}

	eng := &Engine{
		t:          t,
		store:      s,
		bus:        event.NewBus(s),
		extensions: ext.NewRegistry(logger),
		registry:   job.NewRegistry(),
		logger:     logger,
		config:     t.Config(),
		queues:     make(map[string]*queue.Queue),
	}

	for _, opt := range opts {
		opt(eng)
	}

	eng.gate = gate.New(s, s,
		gate.WithLogger(logger),
		gate.OnResume(eng.extensions.EmitJobResumed),
	)

	// Build tracing middleware (custom provider or global).
	var tracingMw mw.Middleware
	if eng.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(eng.tracerProvider.Tracer("github.com/xraph/tether"))
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw mw.Middleware
	if eng.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(eng.meterProvider.Meter("github.com/xraph/tether"))
	} else {
		metricsMw = mw.Metrics()
	}

	// Register the observability metrics extension.
	if eng.metricFactory != nil {
		eng.extensions.Register(observability.NewMetricsExtensionWithFactory(eng.metricFactory))
	} else {
		eng.extensions.Register(observability.NewMetricsExtension())
	}

	// Default middleware stack: recover → tracing → metrics → logging → timeout.
	defaultMws := []mw.Middleware{
		mw.Recover(logger),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Timeout(logger),
	}
	eng.mws = append(defaultMws, eng.mws...)

	// Wire back into the Tether.
	t.SetRunner(&runner{eng: eng})
	t.SetExtensions(eng.extensions)

	return eng, nil
}

// Queue returns the queue called name, creating its handle on first use.
func (eng *Engine) Queue(name string) (*queue.Queue, error) {
	eng.mu.Lock()
	defer eng.mu.Unlock()
	return eng.queueLocked(name)
}

func (eng *Engine) queueLocked(name string) (*queue.Queue, error) {
	if q, ok := eng.queues[name]; ok {
		return q, nil
	}
	q, err := queue.New(name, eng.store, eng.gate, eng.bus,
		queue.WithLogger(eng.logger),
		queue.OnAdd(eng.extensions.EmitJobAdded),
	)
	if err != nil {
		return nil, err
	}
	eng.queues[name] = q
	return q, nil
}

// WorkOption configures the worker created by Work.
type WorkOption func(*workConfig)

type workConfig struct {
	concurrency int
}

// WithConcurrency sets how many jobs of the queue run at once. The
// default is Config.Concurrency.
func WithConcurrency(n int) WorkOption {
	return func(c *workConfig) { c.concurrency = n }
}

// Work registers p as the processor of queueName and creates its worker.
// The worker starts with the engine, or immediately if the engine is
// already running.
func (eng *Engine) Work(ctx context.Context, queueName string, p job.Processor, opts ...WorkOption) (*worker.Worker, error) {
	wc := workConfig{concurrency: eng.config.Concurrency}
	for _, opt := range opts {
		opt(&wc)
	}
	if wc.concurrency < 1 {
		return nil, fmt.Errorf("%w: concurrency must be at least 1", tether.ErrInvalidArgument)
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()

	if _, ok := eng.registry.Get(queueName); ok {
		return nil, fmt.Errorf("%w: queue %q already has a processor", tether.ErrInvalidArgument, queueName)
	}
	if _, err := eng.queueLocked(queueName); err != nil {
		return nil, err
	}

	leases := lease.NewManager(queueName, eng.store, eng.gate, eng.bus,
		lease.WithConcurrency(wc.concurrency),
		lease.WithTTL(eng.config.LeaseDuration),
		lease.WithPollInterval(eng.config.PollInterval),
		lease.WithReclaimInterval(eng.config.ReclaimInterval),
		lease.WithRetries(eng.config.StorageRetries, nil),
		lease.WithLogger(eng.logger),
		lease.OnReclaim(eng.extensions.EmitLeaseReclaimed),
	)
	exec := worker.NewExecutor(p, leases, eng.gate, eng, eng.extensions, eng.logger, eng.mws...)
	exec.SetRenewInterval(eng.config.LeaseRenewInterval)
	w := worker.New(leases, exec, eng.extensions, eng.logger)

	if eng.started {
		if err := w.Start(ctx); err != nil {
			return nil, err
		}
	}
	eng.registry.Register(queueName, p)
	eng.workers = append(eng.workers, w)
	return w, nil
}

// Register registers a typed processor definition on its queue.
func Register[T any](ctx context.Context, eng *Engine, def *job.Definition[T], opts ...WorkOption) (*worker.Worker, error) {
	return eng.Work(ctx, def.Queue, def, opts...)
}

// Start begins processing on every registered queue.
func (eng *Engine) Start(ctx context.Context) error {
	return eng.t.Start(ctx)
}

// Stop stops all workers, notifies extensions and closes the store. When
// ctx has no deadline, Config.ShutdownTimeout bounds the drain.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && eng.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.config.ShutdownTimeout)
		defer cancel()
	}
	return eng.t.Stop(ctx)
}

// Extensions returns the extension registry.
func (eng *Engine) Extensions() *ext.Registry { return eng.extensions }

// Registry returns the processor registry.
func (eng *Engine) Registry() *job.Registry { return eng.registry }

// Gate returns the dependency gate.
func (eng *Engine) Gate() *gate.Gate { return eng.gate }

// Store returns the engine's store.
func (eng *Engine) Store() store.Store { return eng.store }

// Tether returns the underlying Tether.
func (eng *Engine) Tether() *tether.Tether { return eng.t }

// runner starts and stops every worker of the engine.
type runner struct {
	eng *Engine
}

func (r *runner) Start(ctx context.Context) error {
	r.eng.mu.Lock()
	defer r.eng.mu.Unlock()
	if r.eng.started {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range r.eng.workers {
		g.Go(func() error { return w.Start(gctx) })
	}
	if err := g.Wait(); err != nil {
		return err
	}
	r.eng.started = true
	r.eng.logger.Info("tether engine started", slog.Int("workers", len(r.eng.workers)))
	return nil
}

func (r *runner) Stop(ctx context.Context) error {
	r.eng.mu.Lock()
	workers := append([]*worker.Worker(nil), r.eng.workers...)
	r.eng.started = false
	r.eng.mu.Unlock()

	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error { return w.Stop(ctx) })
	}
	return g.Wait()
}
