package logger

import (
	"context"
	"log/slog"
)

// contextKey is private to keep this package's context entry isolated from
// every other package's keys.
type contextKey struct{}

// WithContext stores a request-scoped logger in the context. Middleware
// uses this to attach the request id to downstream log lines.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext retrieves the request-scoped logger. It never returns nil;
// contexts without a logger fall back to slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
