// Package logger provides structured logging via zap, with trace ID
// propagation through context.Context carried over from the teacher's
// slog-based logger.
package logger

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// New builds a production-profile zap logger for service, at the given
// level (e.g. "debug", "info", "warn", "error"), writing JSON to stdout.
func New(service string, level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stdout"}
	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logger: build zap config: %w", err)
	}
	return l.With(zap.String("service", service)), nil
}

// WithTraceID stores a trace ID in the context for downstream propagation
// across bot fan-out, cache tiers, and hub publication.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// TraceID extracts the trace ID from context, or "" if unset.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceIDKey).(string); ok {
		return v
	}
	return ""
}

// GenerateTraceID derives a trace ID from a symbol and timestamp.
func GenerateTraceID(symbol string, ts time.Time) string {
	return fmt.Sprintf("%s-%d", symbol, ts.UnixNano())
}

// Fields returns zap fields carrying the trace ID from context, or nil if
// none is set. Usage: logger.Info("msg", logger.Fields(ctx)...)
func Fields(ctx context.Context) []zap.Field {
	tid := TraceID(ctx)
	if tid == "" {
		return nil
	}
	return []zap.Field{zap.String("trace_id", tid)}
}
