package logctx

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	loggerKey      contextKey = "logger"
	fingerprintKey contextKey = "fingerprint"
)

// WithLogger returns a new context with the provided slog.Logger.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext retrieves the slog.Logger from the context, or returns slog.Default() if not found.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}

// WithFingerprint returns a new context carrying the asset fingerprint of the
// pipeline run being served. RelayHandler picks it up so every log line of a
// run is attributable to one fingerprint.
func WithFingerprint(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, fingerprintKey, fingerprint)
}

// FingerprintFromContext retrieves the asset fingerprint from the context, or
// an empty string if the context is not tied to a pipeline run.
func FingerprintFromContext(ctx context.Context) string {
	if fp, ok := ctx.Value(fingerprintKey).(string); ok {
		return fp
	}
	return ""
}
