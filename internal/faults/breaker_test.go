package faults

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/crmbridge/internal/cache"
	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
)

func newTestBreaker(t *testing.T, cfg BreakerConfig) *Breaker {
	t.Helper()
	c, err := cache.New(cache.Config{Driver: "memory"})
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	return NewBreaker(cache.Counters(c), cfg)
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := newTestBreaker(t, BreakerConfig{Threshold: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		b.RecordFailure(ctx, OpSync)
		if err := b.Allow(ctx, OpSync); err != nil {
			t.Fatalf("con %d fallas el circuito sigue cerrado: %v", i+1, err)
		}
	}

	b.RecordFailure(ctx, OpSync)
	err := b.Allow(ctx, OpSync)
	var coe *CircuitOpenError
	if !errors.As(err, &coe) {
		t.Fatalf("want CircuitOpenError, got %v", err)
	}
	if coe.Op != OpSync || coe.RetryIn <= 0 {
		t.Fatalf("got %+v", coe)
	}
}

func TestBreaker_OpsAreIndependent(t *testing.T) {
	b := newTestBreaker(t, BreakerConfig{Threshold: 1})
	ctx := context.Background()

	b.RecordFailure(ctx, OpSync)
	if err := b.Allow(ctx, OpSync); err == nil {
		t.Fatal("sync debería estar abierto")
	}
	if err := b.Allow(ctx, OpWebhook); err != nil {
		t.Fatalf("webhook no comparte circuito con sync: %v", err)
	}
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	b := newTestBreaker(t, BreakerConfig{Threshold: 3})
	ctx := context.Background()

	b.RecordFailure(ctx, OpSync)
	b.RecordFailure(ctx, OpSync)
	b.RecordSuccess(ctx, OpSync)
	b.RecordFailure(ctx, OpSync)
	b.RecordFailure(ctx, OpSync)

	if err := b.Allow(ctx, OpSync); err != nil {
		t.Fatalf("la racha se resetea con cada éxito: %v", err)
	}
	st, _ := b.State(ctx, OpSync)
	if st.ConsecutiveFailures != 2 {
		t.Fatalf("failures=%d, want 2", st.ConsecutiveFailures)
	}
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	b := newTestBreaker(t, BreakerConfig{Threshold: 1, OpenTimeout: time.Minute})
	ctx := context.Background()

	opened := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return opened }
	b.RecordFailure(ctx, OpSync)

	// Antes del timeout: rechazado.
	b.now = func() time.Time { return opened.Add(30 * time.Second) }
	if err := b.Allow(ctx, OpSync); err == nil {
		t.Fatal("el timeout todavía no venció")
	}

	// Timeout vencido: exactamente un trial pasa.
	b.now = func() time.Time { return opened.Add(2 * time.Minute) }
	if err := b.Allow(ctx, OpSync); err != nil {
		t.Fatalf("primer trial: %v", err)
	}
	if err := b.Allow(ctx, OpSync); err == nil {
		t.Fatal("segundo intento debería esperar el veredicto del trial")
	}

	st, _ := b.State(ctx, OpSync)
	if st.State != StateHalfOpen {
		t.Fatalf("state=%s, want half_open", st.State)
	}
}

func TestBreaker_TrialSuccessCloses(t *testing.T) {
	b := newTestBreaker(t, BreakerConfig{Threshold: 1, OpenTimeout: time.Minute})
	ctx := context.Background()

	opened := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return opened }
	b.RecordFailure(ctx, OpSync)

	b.now = func() time.Time { return opened.Add(2 * time.Minute) }
	if err := b.Allow(ctx, OpSync); err != nil {
		t.Fatalf("trial: %v", err)
	}
	b.RecordSuccess(ctx, OpSync)

	st, _ := b.State(ctx, OpSync)
	if st.State != StateClosed || st.ConsecutiveFailures != 0 {
		t.Fatalf("got %+v", st)
	}
	if err := b.Allow(ctx, OpSync); err != nil {
		t.Fatalf("cerrado tras trial exitoso: %v", err)
	}
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	b := newTestBreaker(t, BreakerConfig{Threshold: 1, OpenTimeout: time.Minute})
	ctx := context.Background()

	opened := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return opened }
	b.RecordFailure(ctx, OpSync)

	trialAt := opened.Add(2 * time.Minute)
	b.now = func() time.Time { return trialAt }
	if err := b.Allow(ctx, OpSync); err != nil {
		t.Fatalf("trial: %v", err)
	}
	b.RecordFailure(ctx, OpSync)

	st, _ := b.State(ctx, OpSync)
	if st.State != StateOpen {
		t.Fatalf("state=%s, want open", st.State)
	}
	if !st.OpenedAt.Equal(trialAt) {
		t.Fatalf("el timeout debe reiniciarse desde el trial fallido: %s", st.OpenedAt)
	}

	// Y un nuevo timeout completo habilita otro trial.
	b.now = func() time.Time { return trialAt.Add(2 * time.Minute) }
	if err := b.Allow(ctx, OpSync); err != nil {
		t.Fatalf("nuevo trial tras reapertura: %v", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b := newTestBreaker(t, BreakerConfig{Threshold: 1})
	ctx := context.Background()

	b.RecordFailure(ctx, OpSync)
	if err := b.Reset(ctx, OpSync); err != nil {
		t.Fatalf("reset: %v", err)
	}
	st, _ := b.State(ctx, OpSync)
	if st.State != StateClosed {
		t.Fatalf("state=%s tras reset", st.State)
	}
}

// failStore simula un counter store caído.
type failStore struct{}

func (failStore) Increment(ctx context.Context, key string, amount int64) (int64, error) {
	return 0, errors.New("store down")
}
func (failStore) Get(ctx context.Context, key string) (string, error) {
	return "", errors.New("store down")
}
func (failStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return errors.New("store down")
}
func (failStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return errors.New("store down")
}
func (failStore) Delete(ctx context.Context, key string) error {
	return errors.New("store down")
}

var _ repository.CounterStore = failStore{}

func TestBreaker_FailsOpenOnStoreErrors(t *testing.T) {
	b := NewBreaker(failStore{}, BreakerConfig{Threshold: 1})
	ctx := context.Background()

	b.RecordFailure(ctx, OpSync)
	if err := b.Allow(ctx, OpSync); err != nil {
		t.Fatalf("con el store caído el breaker no debe frenar el sync: %v", err)
	}
}

func TestClassifier_ShouldRetry(t *testing.T) {
	b := newTestBreaker(t, BreakerConfig{Threshold: 1})
	c := NewClassifier(b)
	ctx := context.Background()

	ce := &ClassifiedError{Kind: KindServer, Retryable: true, MaxRetries: 3, Op: OpSync}
	if !c.ShouldRetry(ctx, ce, 1) {
		t.Fatal("attempt 1 de 3 debería reintentar")
	}
	if c.ShouldRetry(ctx, ce, 3) {
		t.Fatal("presupuesto agotado")
	}
	if c.ShouldRetry(ctx, &ClassifiedError{Kind: KindAuth, Retryable: false, MaxRetries: 1, Op: OpSync}, 0) {
		t.Fatal("no retryable")
	}

	// Circuito abierto corta los retries aunque quede presupuesto.
	b.RecordFailure(ctx, OpSync)
	if c.ShouldRetry(ctx, ce, 1) {
		t.Fatal("con el circuito abierto no se reintenta")
	}
}

func TestClassifier_RecordFailureSkipsValidation(t *testing.T) {
	b := newTestBreaker(t, BreakerConfig{Threshold: 1})
	c := NewClassifier(b)
	ctx := context.Background()

	c.RecordFailure(ctx, &ClassifiedError{Kind: KindValidation, Op: OpWebhook})
	if err := b.Allow(ctx, OpWebhook); err != nil {
		t.Fatalf("un payload malo no debe abrir el circuito: %v", err)
	}

	c.RecordFailure(ctx, &ClassifiedError{Kind: KindServer, Op: OpWebhook})
	if err := b.Allow(ctx, OpWebhook); err == nil {
		t.Fatal("una falla real sí cuenta")
	}
}

func TestClassifier_RetryDelay(t *testing.T) {
	c := NewClassifier(newTestBreaker(t, BreakerConfig{}))

	ce := &ClassifiedError{Kind: KindServer, RetryAfter: 10 * time.Second}
	if d := c.RetryDelay(ce, 1); d != 10*time.Second {
		t.Fatalf("attempt 1: %s", d)
	}
	if d := c.RetryDelay(ce, 2); d != 20*time.Second {
		t.Fatalf("attempt 2: %s", d)
	}
	if d := c.RetryDelay(ce, 3); d != 40*time.Second {
		t.Fatalf("attempt 3: %s", d)
	}

	// Sin hint: delay base por kind.
	noHint := &ClassifiedError{Kind: KindRateLimit}
	if d := c.RetryDelay(noHint, 1); d != 60*time.Second {
		t.Fatalf("rate limit base: %s", d)
	}

	// Techo de 10 minutos.
	if d := c.RetryDelay(ce, 12); d != 10*time.Minute {
		t.Fatalf("cap: %s", d)
	}
}
