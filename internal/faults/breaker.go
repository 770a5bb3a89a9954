package faults

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
	"github.com/dropDatabas3/crmbridge/internal/metrics"
	"github.com/dropDatabas3/crmbridge/internal/observability/logger"
)

// State del circuit breaker.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// CircuitState es el registro persistido por tipo de operación.
type CircuitState struct {
	Op                  string    `json:"op"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	OpenedAt            time.Time `json:"opened_at,omitempty"`
}

// CircuitOpenError se retorna cuando el breaker rechaza un intento.
type CircuitOpenError struct {
	Op      string
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %q, retry in %s", e.Op, e.RetryIn.Round(time.Second))
}

// BreakerConfig parametriza el circuit breaker.
type BreakerConfig struct {
	// Threshold de fallas consecutivas para abrir. Default 5.
	Threshold int
	// OpenTimeout que el circuito queda abierto antes de permitir un trial.
	// Default 300s.
	OpenTimeout time.Duration
	// KeyPrefix en el counter store. Default "cb".
	KeyPrefix string
	// StateTTL de los registros persistidos. Default 24h.
	StateTTL time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 300 * time.Second
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "cb"
	}
	if c.StateTTL <= 0 {
		c.StateTTL = 24 * time.Hour
	}
	return c
}

// Breaker es el circuit breaker por tipo de operación. El estado vive en el
// CounterStore compartido: con varios workers todos ven la misma racha.
type Breaker struct {
	store repository.CounterStore
	cfg   BreakerConfig
	now   func() time.Time // inyectable para tests
}

// NewBreaker crea un circuit breaker sobre el counter store dado.
func NewBreaker(store repository.CounterStore, cfg BreakerConfig) *Breaker {
	return &Breaker{store: store, cfg: cfg.withDefaults(), now: time.Now}
}

func (b *Breaker) stateKey(op string) string { return b.cfg.KeyPrefix + ":" + op }
func (b *Breaker) trialKey(op string) string { return b.cfg.KeyPrefix + ":" + op + ":trial" }

// State lee el estado actual para un tipo de operación.
// Si no hay registro, el circuito está cerrado.
func (b *Breaker) State(ctx context.Context, op string) (CircuitState, error) {
	raw, err := b.store.Get(ctx, b.stateKey(op))
	if repository.IsNotFound(err) {
		return CircuitState{Op: op, State: StateClosed}, nil
	}
	if err != nil {
		return CircuitState{}, err
	}
	var st CircuitState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return CircuitState{}, fmt.Errorf("faults: corrupt circuit state for %q: %w", op, err)
	}
	return st, nil
}

// Allow decide si un intento puede salir. Retorna *CircuitOpenError cuando
// el circuito está abierto y el timeout todavía no venció; cuando venció,
// pasa a half_open y deja salir exactamente un trial.
func (b *Breaker) Allow(ctx context.Context, op string) error {
	st, err := b.State(ctx, op)
	if err != nil {
		// Fail-open: un store caído no debe frenar el sync, solo se pierde
		// la protección hasta que vuelva.
		logger.From(ctx).Warn("circuit state unavailable, failing open",
			logger.OpKind(op), logger.Err(err))
		return nil
	}

	switch st.State {
	case StateClosed:
		return nil
	case StateHalfOpen:
		// Ya hay un trial en vuelo; los demás esperan el veredicto.
		return &CircuitOpenError{Op: op, RetryIn: b.cfg.OpenTimeout}
	case StateOpen:
		elapsed := b.now().Sub(st.OpenedAt)
		if elapsed < b.cfg.OpenTimeout {
			return &CircuitOpenError{Op: op, RetryIn: b.cfg.OpenTimeout - elapsed}
		}
		// Timeout vencido: el primero que incrementa el trial counter gana
		// el único slot half-open.
		n, err := b.store.Increment(ctx, b.trialKey(op), 1)
		if err != nil {
			logger.From(ctx).Warn("circuit trial counter unavailable, failing open",
				logger.OpKind(op), logger.Err(err))
			return nil
		}
		if n > 1 {
			return &CircuitOpenError{Op: op, RetryIn: b.cfg.OpenTimeout}
		}
		st.State = StateHalfOpen
		if err := b.persist(ctx, st); err != nil {
			logger.From(ctx).Warn("circuit half-open transition not persisted",
				logger.OpKind(op), logger.Err(err))
		}
		metrics.CircuitTransitions.WithLabelValues(op, string(StateHalfOpen)).Inc()
		return nil
	default:
		return nil
	}
}

// RecordSuccess resetea la racha y cierra el circuito incondicionalmente.
func (b *Breaker) RecordSuccess(ctx context.Context, op string) {
	st, err := b.State(ctx, op)
	if err != nil {
		st = CircuitState{Op: op}
	}
	prev := st.State
	st.State = StateClosed
	st.ConsecutiveFailures = 0
	st.OpenedAt = time.Time{}
	if err := b.persist(ctx, st); err != nil {
		logger.From(ctx).Warn("circuit success not persisted", logger.OpKind(op), logger.Err(err))
		return
	}
	_ = b.store.Delete(ctx, b.trialKey(op))
	if prev != StateClosed && prev != "" {
		metrics.CircuitTransitions.WithLabelValues(op, string(StateClosed)).Inc()
		logger.From(ctx).Info("circuit closed", logger.OpKind(op))
	}
}

// RecordFailure suma una falla a la racha. Al llegar al threshold el
// circuito abre; una falla en half_open reabre y reinicia el timeout.
func (b *Breaker) RecordFailure(ctx context.Context, op string) {
	st, err := b.State(ctx, op)
	if err != nil {
		st = CircuitState{Op: op}
	}
	st.ConsecutiveFailures++

	opened := false
	if st.State == StateHalfOpen {
		// El trial falló: se reabre desde cero el timeout.
		opened = true
	} else if st.State != StateOpen && st.ConsecutiveFailures >= b.cfg.Threshold {
		opened = true
	}

	if opened {
		st.State = StateOpen
		st.OpenedAt = b.now()
		_ = b.store.Delete(ctx, b.trialKey(op))
	}

	if err := b.persist(ctx, st); err != nil {
		logger.From(ctx).Warn("circuit failure not persisted", logger.OpKind(op), logger.Err(err))
		return
	}
	if opened {
		metrics.CircuitTransitions.WithLabelValues(op, string(StateOpen)).Inc()
		logger.From(ctx).Warn("circuit opened",
			logger.OpKind(op), logger.Int("consecutive_failures", st.ConsecutiveFailures))
	}
}

// Reset vuelve el circuito a cerrado (operación administrativa).
func (b *Breaker) Reset(ctx context.Context, op string) error {
	if err := b.store.Delete(ctx, b.stateKey(op)); err != nil {
		return err
	}
	return b.store.Delete(ctx, b.trialKey(op))
}

func (b *Breaker) persist(ctx context.Context, st CircuitState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return b.store.SetWithTTL(ctx, b.stateKey(st.Op), string(raw), b.cfg.StateTTL)
}
