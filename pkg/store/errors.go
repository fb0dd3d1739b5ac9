package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/redis/go-redis/v9"
)

// Common errors returned by the connection manager.
var (
	// ErrConnection is wrapped by every error caused by an unreachable store.
	ErrConnection = errors.New("store connection failed")

	// ErrClosed is returned once the manager has been shut down.
	ErrClosed = errors.New("store manager closed")
)

// ErrorClass classifies store failures for logging and metrics.
type ErrorClass string

const (
	// ClassConnection means the store is unreachable or the handshake failed.
	ClassConnection ErrorClass = "connection"

	// ClassOperation means a single command failed on a live connection.
	ClassOperation ErrorClass = "operation"

	// ClassSerialization means a value could not be JSON encoded or decoded.
	ClassSerialization ErrorClass = "serialization"
)

// ConnectionError is returned when a connect cycle exhausted its retries.
type ConnectionError struct {
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s after %d attempts: %v", ErrConnection, e.Attempts, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ConnectionError) Unwrap() []error {
	return []error{ErrConnection, e.Err}
}

// SerializationError wraps a JSON encode or decode failure.
type SerializationError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize %q: %v", e.Key, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SerializationError) Unwrap() error {
	return e.Err
}

// Classify maps an error to its class.
func Classify(err error) ErrorClass {
	var serr *SerializationError
	if errors.As(err, &serr) {
		return ClassSerialization
	}
	if IsConnectionError(err) {
		return ClassConnection
	}
	return ClassOperation
}

// IsConnectionError reports whether err means the store itself is gone, as
// opposed to a missing key, a server reply error or a cancelled caller.
func IsConnectionError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) {
		return false
	}
	if errors.Is(err, ErrConnection) || errors.Is(err, ErrClosed) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var reply redis.Error
	if errors.As(err, &reply) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
