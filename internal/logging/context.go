package logging

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// With stores a request-scoped logger on ctx.
func With(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, logger)
}

// From returns the logger stored on ctx, or fallback. A nil fallback means
// zap.L().
func From(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok && logger != nil {
			return logger
		}
	}
	if fallback != nil {
		return fallback
	}
	return zap.L()
}
