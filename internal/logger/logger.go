// Package logger provides structured logging using Go 1.21's log/slog.
// It sets up a JSON handler with service-level context and provides
// stream key propagation through context.Context.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
)

type ctxKey string

const streamKeyKey ctxKey = "stream_key"

// Init creates and returns a structured logger for the given service.
// The logger outputs JSON to stdout with the service name embedded.
// Unknown levels fall back to info.
func Init(service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})

	logger := slog.New(handler).With(
		slog.String("service", service),
	)

	// Set as default so log.Printf and slog.Info() etc. also use structured output
	slog.SetDefault(logger)

	return logger
}

// ParseLevel maps "debug", "info", "warn" and "error" to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// SeriesKey identifies one indicator series: "{exchange}:{token}@{tf}s".
func SeriesKey(exchange, token string, tf int) string {
	return fmt.Sprintf("%s:%s@%ds", exchange, token, tf)
}

// WithStreamKey stores a series key in the context for downstream log correlation.
func WithStreamKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, streamKeyKey, key)
}

// StreamKey extracts the series key from context. Returns "" if not set.
func StreamKey(ctx context.Context) string {
	if v, ok := ctx.Value(streamKeyKey).(string); ok {
		return v
	}
	return ""
}

// Attrs returns slog attributes including the stream key from context.
// Usage: slog.Info("msg", logger.Attrs(ctx)...)
func Attrs(ctx context.Context) []any {
	key := StreamKey(ctx)
	if key == "" {
		return nil
	}
	return []any{slog.String("stream_key", key)}
}
