package logctx

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// RelayHandler is an slog.Handler wrapper that automatically injects the asset
// fingerprint of the current pipeline run and, when present, the OpenTelemetry
// trace_id and span_id into log records.
type RelayHandler struct {
	inner slog.Handler
}

// NewRelayHandler creates a new RelayHandler that wraps the provided handler.
// Panics if the provided handler is nil.
func NewRelayHandler(h slog.Handler) *RelayHandler {
	if h == nil {
		panic("logctx: NewRelayHandler called with nil handler")
	}
	return &RelayHandler{inner: h}
}

// Enabled reports whether the handler handles records at the given level.
// Delegates to the inner handler.
func (h *RelayHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle processes the log record by injecting the fingerprint and trace
// context if present, then delegates to the inner handler.
func (h *RelayHandler) Handle(ctx context.Context, r slog.Record) error {
	if fp := FingerprintFromContext(ctx); fp != "" {
		r.AddAttrs(slog.String("fingerprint", fp))
	}

	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if spanCtx.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", spanCtx.TraceID().String()),
			slog.String("span_id", spanCtx.SpanID().String()),
		)
	}

	return h.inner.Handle(ctx, r)
}

// WithAttrs returns a new RelayHandler whose inner handler includes the given attributes.
func (h *RelayHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &RelayHandler{inner: h.inner.WithAttrs(attrs)}
}

// WithGroup returns a new RelayHandler whose inner handler starts a group with the given name.
func (h *RelayHandler) WithGroup(name string) slog.Handler {
	return &RelayHandler{inner: h.inner.WithGroup(name)}
}
