package logging

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey int

const fieldsKey ctxKey = iota

// New builds a zap logger. format "console" gives colored development output,
// anything else JSON. An unparseable level falls back to info.
func New(level, format string) (*zap.Logger, error) {
	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	lvl := zap.NewAtomicLevel()
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.SetLevel(zap.InfoLevel)
	}
	cfg.Level = lvl
	cfg.OutputPaths = []string{"stdout"}
	return cfg.Build()
}

// WithFields returns ctx carrying fields for request-scoped loggers. A field
// replaces an earlier one with the same key.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	prev := Fields(ctx)
	merged := make([]zap.Field, 0, len(prev)+len(fields))
	for _, f := range prev {
		if !hasKey(fields, f.Key) {
			merged = append(merged, f)
		}
	}
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsKey, merged)
}

// Fields returns the fields attached to ctx.
func Fields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	f, _ := ctx.Value(fieldsKey).([]zap.Field)
	return f
}

// FromContext returns base enriched with the fields attached to ctx.
func FromContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	base = OrNop(base)
	if f := Fields(ctx); len(f) > 0 {
		return base.With(f...)
	}
	return base
}

// OrNop guards constructors against a nil logger.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func hasKey(fields []zap.Field, key string) bool {
	for _, f := range fields {
		if f.Key == key {
			return true
		}
	}
	return false
}
