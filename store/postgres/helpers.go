package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/tether"
)

// keyIndexName is the unique index enforcing per-queue idempotency keys.
const keyIndexName = "tether_jobs_queue_key_idx"

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// isKeyConflict reports a unique_violation on the idempotency key index.
func isKeyConflict(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == keyIndexName
	}
	return false
}

// isUnavailable reports errors worth retrying: serialization failures,
// deadlocks, connection loss and server shutdown.
func isUnavailable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "53300", "57P01", "57P02", "57P03":
			return true
		}
		return false
	}
	var netErr net.Error
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err) || errors.As(err, &netErr)
}

// pgErr wraps a driver error, marking retryable failures with
// tether.ErrStorageUnavailable.
func pgErr(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("tether/postgres: %s: %w: %w", op, tether.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("tether/postgres: %s: %w", op, err)
}
