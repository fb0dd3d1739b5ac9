// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled turns logging off.
	LevelDisabled LogLevel = "disabled"
)

// Component names used by the sitecache packages.
const (
	ComponentStore      = "store"
	ComponentCache      = "cache"
	ComponentRateLimit  = "ratelimit"
	ComponentSession    = "session"
	ComponentInvalidate = "invalidate"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel `koanf:"level"`

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool `koanf:"pretty"`

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer `koanf:"-"`
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Validate rejects unknown levels.
func (c Config) Validate() error {
	switch strings.ToLower(string(c.Level)) {
	case "", "debug", "info", "warn", "warning", "error", "disabled":
		return nil
	default:
		return fmt.Errorf("unknown log level %q", c.Level)
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Component derives a component logger from base.
func Component(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache hit/miss per key and layer
//   - Session reads, writes and deletes
//   - Rate limit decisions that allow the request
//
// Info: Normal operation events
//   - Store connection ready or closed
//   - Invalidation counts per group
//   - Rate limit resets
//
// Warn: Degraded conditions that don't prevent operation
//   - Store accessor failures turned into safe defaults
//   - Rate limit fail-open or fail-closed decisions
//   - Cache write-through failures
//   - Session updates of missing sessions
//
// Error: Error conditions requiring attention
//   - Connection attempts exhausted
//   - Upstream fetch failures surfaced to callers
//
// Context Fields:
//   - component: emitting package (store, cache, ratelimit, session, invalidate)
//   - key: full store key
//   - operation: store accessor name
//   - error_class: connection, operation or serialization
//   - attempt: connection attempt number
//   - group: invalidation group
//   - session_id, type: session identity
