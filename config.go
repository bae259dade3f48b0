package tether

import (
	"fmt"
	"time"
)

// Config holds engine-wide configuration.
type Config struct {
	// Concurrency is the default number of jobs a worker leases at once.
	Concurrency int

	// PollInterval bounds how long an idle worker waits for a notification
	// before trying to claim a job again.
	PollInterval time.Duration

	// LeaseDuration is how long a lease stays valid without renewal.
	LeaseDuration time.Duration

	// LeaseRenewInterval is how often workers renew the leases they hold.
	// It must be shorter than LeaseDuration.
	LeaseRenewInterval time.Duration

	// ReclaimInterval is how often expired leases are swept back to waiting.
	ReclaimInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// StorageRetries is how many times a transient store failure is retried
	// by the worker loop before it is surfaced.
	StorageRetries int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        10,
		PollInterval:       1 * time.Second,
		LeaseDuration:      30 * time.Second,
		LeaseRenewInterval: 10 * time.Second,
		ReclaimInterval:    5 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		StorageRetries:     5,
	}
}

// Validate reports whether the configuration is usable.
func (c Config) Validate() error {
	switch {
	case c.Concurrency < 1:
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidArgument)
	case c.LeaseDuration <= 0:
		return fmt.Errorf("%w: lease duration must be positive", ErrInvalidArgument)
	case c.LeaseRenewInterval <= 0 || c.LeaseRenewInterval >= c.LeaseDuration:
		return fmt.Errorf("%w: lease renew interval must be in (0, lease duration)", ErrInvalidArgument)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidArgument)
	}
	return nil
}
