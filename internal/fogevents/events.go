// Package fogevents wraps log/slog with the three narrow event shapes the
// fog gateway emits: security, telemetry, and performance events. This
// mirrors the original service's log_security_event / log_telemetry_event /
// log_performance_event helpers (original_source/fog/app/core/logging.py),
// adapted to structured slog attributes instead of a logging "extra" dict.
package fogevents

import (
	"context"
	"log/slog"
)

// Severity controls which slog level a security event is logged at.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

func (s Severity) level() slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError, SeverityCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Security logs a security-relevant event. eventType is prefixed with
// "security." per spec.md §6. Extra key/value pairs follow slog's
// alternating-args convention.
func Security(logger *slog.Logger, eventType, message, sensorID string, severity Severity, attrs ...any) {
	args := append([]any{
		"event_type", "security." + eventType,
		"sensor_id", sensorID,
	}, attrs...)
	logger.Log(context.Background(), severity.level(), message, args...)
}

// Telemetry logs a telemetry-processing event at INFO.
func Telemetry(logger *slog.Logger, eventType, message, sensorID string, attrs ...any) {
	args := append([]any{
		"event_type", "telemetry." + eventType,
		"sensor_id", sensorID,
	}, attrs...)
	logger.Info(message, args...)
}

// Performance logs a timing event at INFO, carrying duration_ms.
func Performance(logger *slog.Logger, eventType, message string, durationMs float64, attrs ...any) {
	args := append([]any{
		"event_type", "performance." + eventType,
		"duration_ms", durationMs,
	}, attrs...)
	logger.Info(message, args...)
}
