package logging

import (
	"context"
	"log/slog"
)

// attemptHandler wraps another handler to inject an attempt_id attribute into
// every record emitted while a recording attempt is live.
type attemptHandler struct {
	base      slog.Handler
	attemptID string
}

// WithAttempt returns a logger whose records all carry the attempt identifier.
func WithAttempt(logger *slog.Logger, attemptID string) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	if attemptID == "" {
		return logger
	}
	return slog.New(&attemptHandler{base: logger.Handler(), attemptID: attemptID})
}

func (h *attemptHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base.Enabled(ctx, level)
}

func (h *attemptHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(slog.String(FieldAttemptID, h.attemptID))
	return h.base.Handle(ctx, record)
}

func (h *attemptHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &attemptHandler{base: h.base.WithAttrs(attrs), attemptID: h.attemptID}
}

func (h *attemptHandler) WithGroup(name string) slog.Handler {
	return &attemptHandler{base: h.base.WithGroup(name), attemptID: h.attemptID}
}
