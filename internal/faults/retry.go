package faults

import (
	"context"
	"time"
)

// Classifier combina la clasificación pura con el presupuesto de retries y
// el circuit breaker. Es lo que consumen el driver, el worker y el webhook
// processor.
type Classifier struct {
	breaker *Breaker
}

// NewClassifier crea un Classifier atado a un breaker.
func NewClassifier(breaker *Breaker) *Classifier {
	return &Classifier{breaker: breaker}
}

// Classify normaliza un error crudo (ver Classify a nivel de paquete).
func (c *Classifier) Classify(err error, op string) *ClassifiedError {
	return Classify(err, op)
}

// RecordSuccess notifica un éxito al breaker del op dado.
func (c *Classifier) RecordSuccess(ctx context.Context, op string) {
	c.breaker.RecordSuccess(ctx, op)
}

// RecordFailure notifica una falla clasificada al breaker.
// Los errores de validación no cuentan para la racha: son del payload,
// no del upstream.
func (c *Classifier) RecordFailure(ctx context.Context, ce *ClassifiedError) {
	if ce == nil || ce.Kind == KindValidation {
		return
	}
	c.breaker.RecordFailure(ctx, ce.Op)
}

// ShouldRetry decide si vale la pena otro intento: el error tiene que ser
// retryable, quedar presupuesto y el circuito no estar abierto.
func (c *Classifier) ShouldRetry(ctx context.Context, ce *ClassifiedError, attempt int) bool {
	if ce == nil || !ce.Retryable {
		return false
	}
	if attempt >= ce.MaxRetries {
		return false
	}
	st, err := c.breaker.State(ctx, ce.Op)
	if err == nil && st.State == StateOpen {
		return false
	}
	return true
}

// RetryDelay calcula la espera antes del intento attempt+1. El hint del
// proveedor manda; sin hint, backoff exponencial por kind.
func (c *Classifier) RetryDelay(ce *ClassifiedError, attempt int) time.Duration {
	if ce == nil {
		return 0
	}
	base := ce.RetryAfter
	if base <= 0 {
		base = baseDelay(ce.Kind)
	}
	if attempt <= 1 {
		return base
	}
	d := base << (attempt - 1)
	const maxDelay = 10 * time.Minute
	if d > maxDelay || d <= 0 {
		d = maxDelay
	}
	return d
}

// Breaker expone el breaker subyacente (status endpoints, resets).
func (c *Classifier) Breaker() *Breaker { return c.breaker }

func baseDelay(k Kind) time.Duration {
	switch k {
	case KindRateLimit:
		return delayRateLimit
	case KindServer:
		return delayServer
	case KindConnection:
		return delayConnOther
	case KindMemory:
		return delayMemory
	default:
		return delayServer
	}
}
