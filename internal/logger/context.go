package logger

import (
	"context"
	"slices"

	"go.uber.org/zap"
)

type (
	ctxKey    struct{}
	fieldsKey struct{}
)

// ContextWithLogger stores a logger in the context.
func ContextWithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the request logger, or a no-op logger when none is set.
func FromContext(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return zap.NewNop()
}

// ContextWithFields appends correlation fields (request_id, search_id) that
// components with their own named loggers attach through Fields.
func ContextWithFields(ctx context.Context, fields ...zap.Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	return context.WithValue(ctx, fieldsKey{}, append(slices.Clip(Fields(ctx)), fields...))
}

// Fields returns the correlation fields carried by ctx.
func Fields(ctx context.Context) []zap.Field {
	fs, _ := ctx.Value(fieldsKey{}).([]zap.Field)
	return fs
}
