package redis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/tether"
	"github.com/xraph/tether/event"
	"github.com/xraph/tether/job"
)

// Compile-time interface checks.
var (
	_ job.Store      = (*Store)(nil)
	_ event.Notifier = (*Store)(nil)
)

// defaultTxAttempts bounds optimistic transaction retries under contention.
const defaultTxAttempts = 32

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithTxAttempts sets how many times a contended transaction is retried
// before the store reports tether.ErrStorageUnavailable.
func WithTxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.txAttempts = n
		}
	}
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client     goredis.UniversalClient
	logger     *slog.Logger
	txAttempts int

	hub *event.Hub

	psMu     sync.Mutex
	pubsub   *goredis.PubSub
	channels map[string]struct{}
	closed   bool
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:     client,
		logger:     slog.Default(),
		txAttempts: defaultTxAttempts,
		hub:        event.NewHub(),
		channels:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return redisErr("ping", err)
	}
	return nil
}

// Close drops the Pub/Sub connection. The client itself stays open.
func (s *Store) Close() error {
	s.psMu.Lock()
	defer s.psMu.Unlock()
	s.closed = true
	if s.pubsub == nil {
		return nil
	}
	err := s.pubsub.Close()
	s.pubsub = nil
	return err
}

// watch runs fn in an optimistic transaction over keys and retries while
// a watched key changes underneath it.
func (s *Store) watch(ctx context.Context, op string, fn func(tx *goredis.Tx) error, keys ...string) error {
	for range s.txAttempts {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, goredis.TxFailedErr) {
			return err
		}
	}
	s.logger.Warn("redis transaction contended",
		slog.String("op", op),
		slog.Int("attempts", s.txAttempts),
	)
	return fmt.Errorf("tether/redis: %s: %w: transaction contended", op, tether.ErrStorageUnavailable)
}

// redisErr wraps a driver error. Connection failures are reported as
// tether.ErrStorageUnavailable so callers can retry them.
func redisErr(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("tether/redis: %s: %w: %w", op, tether.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("tether/redis: %s: %w", op, err)
}

func isUnavailable(err error) bool {
	var netErr net.Error
	return errors.Is(err, goredis.ErrClosed) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &netErr)
}
