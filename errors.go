package tether

import "errors"

var (
	// Store errors.
	ErrNoStore            = errors.New("tether: no store configured")
	ErrStoreClosed        = errors.New("tether: store closed")
	ErrStorageUnavailable = errors.New("tether: storage unavailable")

	// Not found errors.
	ErrJobNotFound = errors.New("tether: job not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("tether: job already exists")

	// Argument errors. Never retried.
	ErrInvalidArgument = errors.New("tether: invalid argument")

	// Lease errors. The holder must stop mutating the job; it may be
	// dispatched again to another worker.
	ErrLeaseLost    = errors.New("tether: lease lost")
	ErrLeaseExpired = errors.New("tether: lease expired")

	// State errors.
	ErrInvalidState = errors.New("tether: invalid state transition")
	ErrInvalidStep  = errors.New("tether: invalid step")

	// ErrProcessor wraps any error returned by a caller-supplied processor.
	ErrProcessor = errors.New("tether: processor error")
)

// IsTransient reports whether err is worth retrying at the storage boundary.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
