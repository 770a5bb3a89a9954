package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ToContext cuelga un logger scoped del contexto. Los middlewares y los
// puntos de entrada (driver, processor, worker) lo usan para que todo lo
// que corre debajo herede los campos del request o del run.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From saca el logger del contexto, o el global si no hay ninguno.
func From(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
			return l
		}
	}
	return L()
}

// FromWithFields es From(ctx).With(fields...).
func FromWithFields(ctx context.Context, fields ...zap.Field) *zap.Logger {
	return From(ctx).With(fields...)
}
