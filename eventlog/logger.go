package eventlog

import (
	"context"

	"go.uber.org/zap"
)

type loggerKey struct{}

func StoreLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// L returns the logger stored in ctx, or a no-op logger.
func L(ctx context.Context) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.NewNop()
}

func AddFields(ctx context.Context, fields ...zap.Field) context.Context {
	return StoreLogger(ctx, L(ctx).With(fields...))
}
