// Package rate administra el presupuesto diario de requests contra el CRM
// por clase de endpoint.
//
// Ventana fija de un día UTC (INCR sobre una key con fecha), misma mecánica
// que un fixed-window clásico pero con costo variable por llamada: los
// endpoints de búsqueda pesan más que los de detalle.
//
// El limiter nunca duerme: cuando no hay presupuesto retorna un
// *LimitedError con la espera recomendada y el caller decide si bloquea
// (modo sincrónico) o difiere el run (modo asincrónico).
package rate

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
	"github.com/dropDatabas3/crmbridge/internal/metrics"
)

// Budget es la foto del presupuesto de una clase de endpoint.
type Budget struct {
	EndpointClass string    `json:"endpoint_class"`
	DailyLimit    int64     `json:"daily_limit"`
	ConsumedToday int64     `json:"consumed_today"`
	ResetAt       time.Time `json:"reset_at"`
}

// Remaining retorna la capacidad que queda hoy.
func (b Budget) Remaining() int64 {
	r := b.DailyLimit - b.ConsumedToday
	if r < 0 {
		return 0
	}
	return r
}

// LimitedError es la señal tipada de presupuesto agotado.
type LimitedError struct {
	EndpointClass string
	RetryIn       time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limited on %q, retry in %s", e.EndpointClass, e.RetryIn.Round(time.Second))
}

// RateLimitRetryIn implementa el hint que reconoce el clasificador.
func (e *LimitedError) RateLimitRetryIn() time.Duration { return e.RetryIn }

// Config parametriza el limiter.
type Config struct {
	// Limits por clase de endpoint. Las clases ausentes usan DefaultLimit.
	Limits map[string]int64
	// DefaultLimit diario. Default 10000.
	DefaultLimit int64
	// BaseDelay del backoff exponencial para WaitDuration. Default 2s.
	BaseDelay time.Duration
	// MaxDelay techo del backoff. Default 5m.
	MaxDelay time.Duration
	// Jitter fracción uniforme aplicada al delay (0.2 = ±20%). Default 0.2.
	Jitter float64
	// KeyPrefix en el counter store. Default "rate".
	KeyPrefix string
}

func (c Config) withDefaults() Config {
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = 10000
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Minute
	}
	if c.Jitter == 0 {
		c.Jitter = 0.2
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "rate"
	}
	return c
}

// Limiter trackea consumo diario por clase de endpoint sobre el counter
// store compartido. Todos los workers descuentan del mismo contador.
type Limiter struct {
	store repository.CounterStore
	cfg   Config
	now   func() time.Time // inyectable para tests

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewLimiter crea un Limiter.
func NewLimiter(store repository.CounterStore, cfg Config) *Limiter {
	return &Limiter{
		store: store,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		rnd:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (l *Limiter) limitFor(class string) int64 {
	if lim, ok := l.cfg.Limits[class]; ok && lim > 0 {
		return lim
	}
	return l.cfg.DefaultLimit
}

// key arma la key del día UTC corriente: rate:<class>:<yyyymmdd>.
// El reset de medianoche sale gratis por el cambio de key.
func (l *Limiter) key(class string) string {
	return fmt.Sprintf("%s:%s:%s", l.cfg.KeyPrefix, class, l.now().UTC().Format("20060102"))
}

func (l *Limiter) resetAt() time.Time {
	now := l.now().UTC()
	return now.Truncate(24 * time.Hour).Add(24 * time.Hour)
}

// CanConsume verifica capacidad restante sin descontar.
func (l *Limiter) CanConsume(ctx context.Context, class string, cost int64) (bool, error) {
	b, err := l.Status(ctx, class)
	if err != nil {
		return false, err
	}
	return b.Remaining() >= cost, nil
}

// Consume descuenta cost del presupuesto de forma atómica. Si el descuento
// dejaría el contador por encima del límite, lo compensa y retorna
// *LimitedError con la espera hasta el próximo reset.
func (l *Limiter) Consume(ctx context.Context, class string, cost int64) error {
	key := l.key(class)
	limit := l.limitFor(class)

	n, err := l.store.Increment(ctx, key, cost)
	if err != nil {
		return fmt.Errorf("rate: increment %q: %w", key, err)
	}
	if n == cost {
		// Primer hit del día: fijar expiración con margen para inspección.
		// Expire no toca el valor; un Set acá pisaría increments de otros
		// workers entre medio.
		_ = l.store.Expire(ctx, key, 48*time.Hour)
	}
	if n > limit {
		// Compensar para que el contador no quede inflado.
		_, _ = l.store.Increment(ctx, key, -cost)
		metrics.RateRejections.WithLabelValues(class).Inc()
		return &LimitedError{
			EndpointClass: class,
			RetryIn:       l.resetAt().Sub(l.now().UTC()),
		}
	}
	metrics.RateConsumed.WithLabelValues(class).Add(float64(cost))
	return nil
}

// Status retorna el presupuesto corriente de una clase.
func (l *Limiter) Status(ctx context.Context, class string) (Budget, error) {
	b := Budget{
		EndpointClass: class,
		DailyLimit:    l.limitFor(class),
		ResetAt:       l.resetAt(),
	}
	raw, err := l.store.Get(ctx, l.key(class))
	if repository.IsNotFound(err) {
		return b, nil
	}
	if err != nil {
		return Budget{}, err
	}
	b.ConsumedToday, _ = strconv.ParseInt(raw, 10, 64)
	return b, nil
}

// ApplyServerMeta sincroniza el contador local con lo que el proveedor
// declara en sus headers: sus números mandan sobre la estimación propia.
func (l *Limiter) ApplyServerMeta(ctx context.Context, class string, meta repository.HTTPMeta) error {
	if meta.RateLimitLimit <= 0 || meta.RateLimitRemaining < 0 {
		return nil
	}
	consumed := meta.RateLimitLimit - meta.RateLimitRemaining
	if consumed < 0 {
		consumed = 0
	}
	return l.store.SetWithTTL(ctx, l.key(class), strconv.FormatInt(consumed, 10), 48*time.Hour)
}

// WaitDuration calcula la espera sugerida antes del intento attempt
// (1-based): exponencial con techo y jitter uniforme para que los workers
// no se sincronicen.
func (l *Limiter) WaitDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := l.cfg.BaseDelay << (attempt - 1)
	if d > l.cfg.MaxDelay || d <= 0 {
		d = l.cfg.MaxDelay
	}
	if l.cfg.Jitter > 0 {
		l.mu.Lock()
		f := 1 + l.cfg.Jitter*(2*l.rnd.Float64()-1)
		l.mu.Unlock()
		d = time.Duration(float64(d) * f)
	}
	return d
}

// Reset borra el contador del día de una clase (operación administrativa).
func (l *Limiter) Reset(ctx context.Context, class string) error {
	return l.store.Delete(ctx, l.key(class))
}
