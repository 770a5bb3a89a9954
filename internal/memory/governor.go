// Package memory implementa el governor de batching adaptativo.
//
// Muestrea la memoria del proceso entre páginas y achica (o deja crecer) el
// tamaño de página del próximo fetch. Es estado local del proceso: cada
// worker cuida su propio heap, acá no hay nada compartido.
package memory

import (
	"runtime"
	"time"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
	"github.com/dropDatabas3/crmbridge/internal/metrics"
)

// Level de presión de memoria observado.
type Level string

const (
	LevelOK       Level = "ok"
	LevelAlert    Level = "alert"
	LevelCritical Level = "critical"
)

// BatchPlan es el tamaño de página vigente con sus cotas.
// Invariante: MinSize <= CurrentSize <= MaxSize.
type BatchPlan struct {
	CurrentSize int `json:"current_size"`
	MinSize     int `json:"min_size"`
	MaxSize     int `json:"max_size"`
}

func (p BatchPlan) clamp() BatchPlan {
	if p.CurrentSize < p.MinSize {
		p.CurrentSize = p.MinSize
	}
	if p.CurrentSize > p.MaxSize {
		p.CurrentSize = p.MaxSize
	}
	return p
}

// Config parametriza el governor.
type Config struct {
	// ThresholdPercent a partir del cual se achica el batch. Default 80.
	ThresholdPercent float64
	// AlertPercent dispara el force-GC entre páginas. Default 85.
	AlertPercent float64
	// CriticalPercent aborta el run con error de memoria. Default 95.
	CriticalPercent float64
	// MinBatch piso del batch. Default 10.
	MinBatch int
	// MaxBatch techo del batch. Default 500.
	MaxBatch int
	// LimitBytes del proceso. 0 = default 1GiB; en contenedores conviene
	// setearlo al límite del cgroup.
	LimitBytes uint64
}

func (c Config) withDefaults() Config {
	if c.ThresholdPercent <= 0 {
		c.ThresholdPercent = 80
	}
	if c.AlertPercent <= 0 {
		c.AlertPercent = 85
	}
	if c.CriticalPercent <= 0 {
		c.CriticalPercent = 95
	}
	if c.MinBatch <= 0 {
		c.MinBatch = 10
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 500
	}
	if c.LimitBytes == 0 {
		c.LimitBytes = 1 << 30
	}
	return c
}

// Governor muestrea memoria y recalcula el BatchPlan entre páginas.
type Governor struct {
	cfg Config
	// readSample inyectable para tests; default lee runtime.MemStats.
	readSample func() (used uint64)
}

// NewGovernor crea un Governor.
func NewGovernor(cfg Config) *Governor {
	return &Governor{
		cfg: cfg.withDefaults(),
		readSample: func() uint64 {
			var ms runtime.MemStats
			runtime.ReadMemStats(&ms)
			return ms.HeapAlloc
		},
	}
}

// DefaultPlan arma el plan inicial de un run, acotado por el pedido del
// caller. Se resetea al arranque de cada run.
func (g *Governor) DefaultPlan(requested int) BatchPlan {
	p := BatchPlan{
		CurrentSize: g.cfg.MaxBatch,
		MinSize:     g.cfg.MinBatch,
		MaxSize:     g.cfg.MaxBatch,
	}
	if requested > 0 && requested < p.MaxSize {
		p.MaxSize = requested
		p.CurrentSize = requested
	}
	return p.clamp()
}

// Sample toma una foto del uso de memoria actual.
func (g *Governor) Sample() repository.MemorySnapshot {
	used := g.readSample()
	s := repository.MemorySnapshot{
		UsedBytes:    used,
		LimitBytes:   g.cfg.LimitBytes,
		UsagePercent: float64(used) / float64(g.cfg.LimitBytes) * 100,
		SampledAt:    time.Now().UTC(),
	}
	metrics.MemoryUsagePercent.Set(s.UsagePercent)
	return s
}

// Observe clasifica una muestra en niveles de alerta.
func (g *Governor) Observe(s repository.MemorySnapshot) Level {
	switch {
	case s.UsagePercent >= g.cfg.CriticalPercent:
		return LevelCritical
	case s.UsagePercent >= g.cfg.AlertPercent:
		return LevelAlert
	default:
		return LevelOK
	}
}

// PlanNextBatch recalcula el tamaño para la próxima página: sobre el
// threshold se parte a la mitad (piso MinSize); cómodamente por debajo
// vuelve a crecer de a 25% hacia MaxSize. Nunca cambia a mitad de página.
func (g *Governor) PlanNextBatch(plan BatchPlan) BatchPlan {
	s := g.Sample()

	switch {
	case s.UsagePercent > g.cfg.ThresholdPercent:
		plan.CurrentSize = plan.CurrentSize / 2
	case s.UsagePercent < g.cfg.ThresholdPercent-10:
		grown := plan.CurrentSize + plan.CurrentSize/4
		if grown == plan.CurrentSize {
			grown++
		}
		plan.CurrentSize = grown
	}
	return plan.clamp()
}

// ShouldForceGC indica si conviene liberar buffers explícitamente entre
// páginas. El driver lo consulta una vez por página procesada.
func (g *Governor) ShouldForceGC() bool {
	used := g.readSample()
	pct := float64(used) / float64(g.cfg.LimitBytes) * 100
	return pct >= g.cfg.AlertPercent
}

// ForceGC fuerza una pasada del garbage collector.
func (g *Governor) ForceGC() {
	runtime.GC()
}
