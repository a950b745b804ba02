package remote

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoRowsAffected is returned by Update when the target id matched no row,
// typically because another client deleted it during our offline window.
var ErrNoRowsAffected = errors.New("remote: no rows affected")

// uniqueViolation is the Postgres SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

// IsConflict reports whether err is a uniqueness violation or a stale-id
// update. Conflict errors are never retried.
func IsConflict(err error) bool {
	if errors.Is(err, ErrNoRowsAffected) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// IsTransient reports whether err looks like a connectivity failure that a
// later attempt could succeed on. Validation, permission and conflict errors
// are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsConflict(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	// pgx reports dead connections with a dedicated error type.
	if pgconn.SafeToRetry(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
