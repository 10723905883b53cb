// Package logger sets up structured JSON logging with log/slog and carries
// a per-pass trace ID through context.Context, so every log line of one
// evaluation pass (exchange calls, orders, DB sync) can be correlated.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Init creates the process logger for a service, writes JSON to stdout
// and installs it as the slog default.
func Init(service string, level slog.Level) *slog.Logger {
	logger := New(os.Stdout, service, level)
	slog.SetDefault(logger)
	return logger
}

// New builds a JSON logger writing to w without touching the default.
func New(w io.Writer, service string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("service", service))
}

// ParseLevel maps "debug", "info", "warn"/"warning" and "error" to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// WithTraceID stores a trace ID in the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context. Returns "" if not set.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID builds the ID of one evaluation pass:
// "{user}-{symbol}-{unix seconds}".
func GenerateTraceID(userID int64, symbol string, ts time.Time) string {
	return fmt.Sprintf("%d-%s-%d", userID, symbol, ts.Unix())
}

// LogWithTrace returns slog attributes including the trace ID from context.
// Usage: log.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}

// FromContext returns l annotated with the context trace ID, if any.
func FromContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	if attrs := LogWithTrace(ctx); attrs != nil {
		return l.With(attrs...)
	}
	return l
}
