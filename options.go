package tether

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Tether.
type Option func(*Tether) error

// Storer is the minimal store interface held by Tether. It covers
// lifecycle operations only. The full composite interface (store.Store)
// is used by the engine package, which sits above the subsystem packages
// and so does not create import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for the engine's worker lifecycle.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// shutdownEmitter is an internal interface for extension shutdown events.
type shutdownEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Tether holds configuration, the logger and the store. Use engine.Build
// to wire queues, the dependency gate and workers on top of it.
type Tether struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	extensions shutdownEmitter
	runner     runner

	started bool
}

// New creates a Tether with the given options.
func New(opts ...Option) (*Tether, error) {
	t := &Tether{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, err
		}
	}
	if err := t.config.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Logger returns the structured logger.
func (t *Tether) Logger() *slog.Logger { return t.logger }

// Store returns the configured store.
func (t *Tether) Store() Storer { return t.store }

// Config returns a copy of the configuration.
func (t *Tether) Config() Config { return t.config }

// SetRunner sets the worker runner (called by the engine package).
func (t *Tether) SetRunner(r runner) { t.runner = r }

// SetExtensions sets the extension emitter (called by the engine package).
func (t *Tether) SetExtensions(e shutdownEmitter) { t.extensions = e }

// Start begins job processing.
func (t *Tether) Start(ctx context.Context) error {
	if t.runner == nil {
		return ErrNoStore
	}
	if err := t.runner.Start(ctx); err != nil {
		return err
	}
	t.started = true
	return nil
}

// Stop gracefully shuts down workers, notifies extensions and closes the
// store.
func (t *Tether) Stop(ctx context.Context) error {
	if t.runner != nil && t.started {
		if err := t.runner.Stop(ctx); err != nil {
			t.logger.Error("runner stop error", slog.String("error", err.Error()))
		}
		t.started = false
	}
	if t.extensions != nil {
		t.extensions.EmitShutdown(ctx)
	}
	if t.store != nil {
		return t.store.Close()
	}
	return nil
}

// WithConcurrency sets the default number of concurrent leases per worker.
func WithConcurrency(n int) Option {
	return func(t *Tether) error {
		t.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets the idle wait bound of workers.
func WithPollInterval(d time.Duration) Option {
	return func(t *Tether) error {
		t.config.PollInterval = d
		return nil
	}
}

// WithLeaseDuration sets the lease lifetime and the renewal interval.
// A zero renew value keeps a third of the lease duration.
func WithLeaseDuration(lease, renew time.Duration) Option {
	return func(t *Tether) error {
		if renew == 0 {
			renew = lease / 3
		}
		t.config.LeaseDuration = lease
		t.config.LeaseRenewInterval = renew
		return nil
	}
}

// WithReclaimInterval sets how often expired leases are swept.
func WithReclaimInterval(d time.Duration) Option {
	return func(t *Tether) error {
		t.config.ReclaimInterval = d
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(t *Tether) error {
		t.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tether) error {
		t.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. It must implement Storer at
// minimum; engine.Build additionally requires store.Store.
func WithStore(s Storer) Option {
	return func(t *Tether) error {
		t.store = s
		return nil
	}
}
