// Package logging configures structured JSON logging for the fog gateway.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Setup configures the global slog logger to emit JSON lines to stdout,
// tagged with service "fog". Lines use slog's standard keys ("time",
// "level", "msg") plus "service"; no "logger" key is added, and the time
// and message keys are not renamed.
func Setup(level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	logger := slog.New(handler).With("service", "fog")
	slog.SetDefault(logger)
	return logger
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
