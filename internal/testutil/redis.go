// Package testutil provides testing utilities for the sitecache packages.
package testutil

import (
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
)

// NewMiniredis starts an in-memory store for the duration of the test and
// returns it together with a redis:// URL pointing at it.
func NewMiniredis(t testing.TB) (*miniredis.Miniredis, string) {
	t.Helper()

	mr := miniredis.RunT(t)
	return mr, "redis://" + mr.Addr()
}

// UnreachableURL returns a redis:// URL on a local port nothing listens on.
func UnreachableURL(t testing.TB) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to reserve port: %v", err)
	}
	addr := l.Addr().String()
	if err := l.Close(); err != nil {
		t.Fatalf("Failed to release port: %v", err)
	}
	return "redis://" + addr
}

// QuietLogger returns a logger that drops everything.
func QuietLogger() zerolog.Logger {
	return zerolog.Nop()
}

// TestLogger returns a logger that writes through t.Log.
func TestLogger(t testing.TB) zerolog.Logger {
	return zerolog.New(zerolog.NewTestWriter(t)).With().Timestamp().Logger()
}
