// Package logger sets up log/slog for the structure services: JSON for
// long-running processes, text for the backtest CLI, plus trace IDs carried
// through context so a bar can be followed from ingest to publication.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Format selects the handler Init installs.
type Format int

const (
	JSON Format = iota
	Text
)

// Init builds a logger tagged with the service name and installs it as the
// slog default, which also routes the standard log package through it.
func Init(service string, level slog.Level) *slog.Logger {
	return New(os.Stdout, service, level, JSON)
}

// New is Init with an explicit writer and format.
func New(w io.Writer, service string, level slog.Level, format Format) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if format == Text {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	l := slog.New(h).With(slog.String("service", service))
	slog.SetDefault(l)
	return l
}

// ParseLevel converts debug|info|warn|error to a slog.Level. Unknown → info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
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

// GenerateTraceID derives a trace ID from a symbol and bar time:
// "{symbol}-{unixMilli}". Bars are unique per symbol and timestamp, so no
// random component is needed.
func GenerateTraceID(symbol string, ts time.Time) string {
	return symbol + "-" + strconv.FormatInt(ts.UnixMilli(), 10)
}

// LogWithTrace returns slog attributes including the trace ID from context.
// Usage: slog.Info("msg", logger.LogWithTrace(ctx)...)
func LogWithTrace(ctx context.Context) []any {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []any{slog.String("trace_id", tid)}
}
