// Package store defines the aggregate persistence interface. The job
// package defines the record contract and the event package the wake-up
// contract; a backend implements both. Backends: Memory, Redis and
// Postgres.
package store

import (
	"context"

	"github.com/xraph/tether/event"
	"github.com/xraph/tether/job"
)

// Store is the aggregate persistence interface.
// A single backend (memory, redis, postgres) implements all of it.
type Store interface {
	job.Store
	event.Notifier

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
