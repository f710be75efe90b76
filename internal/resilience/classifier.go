// Package resilience wraps store and processor access with bounded retries and
// connection-health tracking. The error classifier is constructed explicitly
// and injected, scoped to one engine instance.
package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quickgig/backend/internal/processor"
)

// SQLSTATE codes the gateway treats as retryable.
const (
	codeSerializationFailure   = "40001"
	codeDeadlockDetected       = "40P01"
	codeAdminShutdown          = "57P01"
	codeCrashShutdown          = "57P02"
	codeConnectionException    = "08000"
	codeConnectionDoesNotExist = "08003"
	codeConnectionFailure      = "08006"
)

// Classifier decides which errors are worth retrying and which indicate a lost
// store connection.
type Classifier struct{}

// NewClassifier returns the engine's error classifier.
func NewClassifier() *Classifier {
	return &Classifier{}
}

// Retryable reports whether err belongs to the small set of transient classes
// the gateway re-attempts: serialization conflicts, deadlocks, terminated
// connections, network timeouts, and retryable processor failures.
// Context cancellation is never retryable.
func (c *Classifier) Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeSerializationFailure, codeDeadlockDetected, codeAdminShutdown,
			codeCrashShutdown, codeConnectionException, codeConnectionDoesNotExist,
			codeConnectionFailure:
			return true
		}
		return false
	}

	var procErr *processor.Error
	if errors.As(err, &procErr) {
		return procErr.Retryable()
	}

	return c.ConnectionError(err)
}

// ConnectionError reports whether err looks like a severed connection rather
// than a rejected operation.
func (c *Classifier) ConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeAdminShutdown, codeCrashShutdown, codeConnectionException,
			codeConnectionDoesNotExist, codeConnectionFailure:
			return true
		}
	}
	return false
}
