// Package logging provides structured logging configuration using zerolog.
package logging

import (
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

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. Component loggers created
// afterwards with NewLogger inherit its output and level.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a LogLevel to zerolog.Level. Unknown values map to info.
func ParseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (fetch start, dedup, discard, invalidation)
//   - Optimistic patches and snapshots
//   - Request flow (ETags, 304 reuse, rate limiter waits)
//
// Info: Normal operation events
//   - Mutation committed
//   - Focus/reconnect refresh
//   - Cache hydrated or persisted
//   - CLI startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Fetch failed (stale data kept)
//   - Mutation rolled back
//   - Retry attempts
//   - Persistence failures after commit
//   - Connectivity lost
//
// Error: Error conditions requiring attention
//   - Requests failed after retries
//   - Storage backend unavailable
//   - Configuration errors
//
// Context Fields:
//   - component: query, mutation, taskapi, storage, persist, localstore, connectivity
//   - key: canonical query key
//   - mutation: mutation name
//   - mutation_id: mutation sequence number
//   - state: mutation state
//   - method, path, status: HTTP request details
//   - error_kind: network, server, validation, not_found, conflict
//   - namespace: durable storage namespace
