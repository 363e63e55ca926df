// Package log configures the process-wide structured logger shared by
// the loom binaries and packages.
package log

import (
	"log/slog"
	"os"
	"strings"
)

// Setup installs the default slog handler at the requested level.
// Unknown levels fall back to info rather than failing startup.
func Setup(logLevel string) {
	var level slog.Level

	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// WithModule returns a logger tagged with the loom module name, so
// every line from a package or binary carries its origin.
func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
