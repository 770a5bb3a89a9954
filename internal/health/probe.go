// Package health sondea la disponibilidad y latencia del CRM remoto.
//
// El veredicto se cachea con TTL para que los que consultan en caliente
// (driver, readyz, status endpoints) no conviertan el health check en su
// propia fuente de carga contra el upstream. Estado local del proceso.
package health

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
	"github.com/dropDatabas3/crmbridge/internal/metrics"
	"github.com/dropDatabas3/crmbridge/internal/observability/logger"
)

// Status del upstream derivado del buffer de checks recientes.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Record es el resultado de un check individual.
type Record struct {
	CheckedAt time.Time `json:"checked_at"`
	Success   bool      `json:"success"`
	LatencyMs int64     `json:"latency_ms"`
}

// Config parametriza el probe.
type Config struct {
	// TTL del veredicto cacheado. Default 60s.
	TTL time.Duration
	// FailureThreshold de fallas consecutivas para Unhealthy. Default 3.
	FailureThreshold int
	// DegradationThresholdMs de latencia promedio para Degraded. Default 2000.
	DegradationThresholdMs int64
	// BufferSize del ring de records recientes. Default 20.
	BufferSize int
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 60 * time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 3
	}
	if c.DegradationThresholdMs <= 0 {
		c.DegradationThresholdMs = 2000
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 20
	}
	return c
}

const verdictKey = "verdict"

// Probe mantiene un ring buffer de checks y deriva el Status.
type Probe struct {
	client repository.CRMClient
	cfg    Config

	mu       sync.Mutex
	buf      []Record // ring acotado a BufferSize
	failures int      // fallas consecutivas

	verdict *gocache.Cache
	sf      singleflight.Group
}

// NewProbe crea un Probe sobre el cliente CRM dado.
func NewProbe(client repository.CRMClient, cfg Config) *Probe {
	cfg = cfg.withDefaults()
	return &Probe{
		client:  client,
		cfg:     cfg,
		verdict: gocache.New(cfg.TTL, 2*cfg.TTL),
	}
}

// Check hace una llamada liviana al upstream y registra el resultado.
func (p *Probe) Check(ctx context.Context) Record {
	start := time.Now()
	latency, err := p.client.Ping(ctx)
	if latency <= 0 {
		latency = time.Since(start)
	}

	rec := Record{
		CheckedAt: time.Now().UTC(),
		Success:   err == nil,
		LatencyMs: latency.Milliseconds(),
	}

	p.mu.Lock()
	p.buf = append(p.buf, rec)
	if len(p.buf) > p.cfg.BufferSize {
		p.buf = p.buf[len(p.buf)-p.cfg.BufferSize:]
	}
	if rec.Success {
		p.failures = 0
	} else {
		p.failures++
	}
	p.mu.Unlock()

	metrics.UpstreamLatency.Observe(float64(rec.LatencyMs))
	if err != nil {
		logger.From(ctx).Warn("upstream health check failed",
			logger.Err(err), logger.DurationMs(rec.LatencyMs))
	}

	// Cada check fresco invalida el veredicto cacheado.
	p.verdict.Delete(verdictKey)
	return rec
}

// Status retorna el veredicto cacheado; si expiró corre un check nuevo.
// singleflight colapsa consultas concurrentes en un solo check.
func (p *Probe) Status(ctx context.Context) Status {
	if v, ok := p.verdict.Get(verdictKey); ok {
		return v.(Status)
	}

	v, _, _ := p.sf.Do(verdictKey, func() (any, error) {
		p.Check(ctx)
		st := p.compute()
		p.verdict.Set(verdictKey, st, gocache.DefaultExpiration)
		p.publish(st)
		return st, nil
	})
	return v.(Status)
}

// compute deriva el Status del buffer corriente.
//
// Unhealthy: FailureThreshold fallas consecutivas.
// Degraded: latencia promedio de los éxitos recientes sobre el umbral.
// Healthy: lo demás. Un éxito con latencia aceptable recupera.
func (p *Probe) compute() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failures >= p.cfg.FailureThreshold {
		return StatusUnhealthy
	}

	var sum, n int64
	for _, r := range p.buf {
		if r.Success {
			sum += r.LatencyMs
			n++
		}
	}
	if n > 0 && sum/n > p.cfg.DegradationThresholdMs {
		return StatusDegraded
	}
	return StatusHealthy
}

func (p *Probe) publish(st Status) {
	switch st {
	case StatusHealthy:
		metrics.UpstreamHealthy.Set(1)
	case StatusDegraded:
		metrics.UpstreamHealthy.Set(0.5)
	default:
		metrics.UpstreamHealthy.Set(0)
	}
}

// Snapshot arma la foto para el SyncResult.
func (p *Probe) Snapshot(ctx context.Context) repository.HealthSnapshot {
	st := p.Status(ctx)
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := repository.HealthSnapshot{Status: string(st)}
	if len(p.buf) > 0 {
		last := p.buf[len(p.buf)-1]
		snap.CheckedAt = last.CheckedAt
		snap.LatencyMs = last.LatencyMs
	}
	return snap
}

// Recent retorna una copia del buffer (para status endpoints).
func (p *Probe) Recent() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Record, len(p.buf))
	copy(out, p.buf)
	return out
}

// Reset limpia buffer, racha y veredicto (operación administrativa).
func (p *Probe) Reset() {
	p.mu.Lock()
	p.buf = nil
	p.failures = 0
	p.mu.Unlock()
	p.verdict.Flush()
}
