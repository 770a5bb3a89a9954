package syncer

import (
	"fmt"
	"time"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
)

// Mode del run de sync.
//
// Incremental ordena por modificación más reciente primero y corta en un
// tope de páginas de seguridad; Full ordena del más viejo al más nuevo para
// que el cursor sea estable a lo largo de todo el dataset.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
)

// Options de un run individual.
type Options struct {
	EntityType string
	Mode       Mode
	// PageSize pedido por el caller; el governor lo puede achicar.
	// 0 = usar el máximo del governor.
	PageSize int
	// MaxPages tope de seguridad. 0 = default según modo (incremental 20,
	// full sin tope).
	MaxPages int
	// Cursor de arranque para retomar un run diferido.
	Cursor string
	// Force ignora el veredicto advisory del health probe.
	Force bool
	// Blocking define el modo de ejecución: true bloquea en esperas de
	// rate (inline); false difiere el run con resultado parcial (worker).
	Blocking bool
}

func (o Options) withDefaults(cfg Config) Options {
	if o.Mode == "" {
		o.Mode = ModeIncremental
	}
	if o.MaxPages == 0 && o.Mode == ModeIncremental {
		o.MaxPages = cfg.DefaultMaxPages
	}
	return o
}

func (o Options) validate(cfg Config) error {
	if o.EntityType == "" {
		return fmt.Errorf("%w: entity type required", repository.ErrInvalidInput)
	}
	if len(cfg.EntityTypes) > 0 {
		known := false
		for _, et := range cfg.EntityTypes {
			if et == o.EntityType {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("%w: %q", repository.ErrUnknownEntityType, o.EntityType)
		}
	}
	if o.Mode != ModeIncremental && o.Mode != ModeFull {
		return fmt.Errorf("%w: mode %q", repository.ErrInvalidInput, o.Mode)
	}
	if o.PageSize < 0 {
		return fmt.Errorf("%w: page size %d", repository.ErrInvalidInput, o.PageSize)
	}
	if o.MaxPages < 0 {
		return fmt.Errorf("%w: max pages %d", repository.ErrInvalidInput, o.MaxPages)
	}
	return nil
}

func (o Options) sortMode() repository.SortMode {
	if o.Mode == ModeFull {
		return repository.SortOldestFirst
	}
	return repository.SortRecentFirst
}

// Config del driver, compartida entre runs.
type Config struct {
	// EntityTypes conocidos. Vacío = aceptar cualquiera.
	EntityTypes []string
	// EndpointClass contra la que descuenta el limiter. Default "crm:read".
	EndpointClass string
	// FetchCost tokens que cuesta cada fetch. Default 1.
	FetchCost int64
	// DefaultMaxPages del modo incremental. Default 20.
	DefaultMaxPages int
	// RunTimeout aborta el run completo. Default 1h.
	RunTimeout time.Duration
	// CallTimeout acota cada llamada remota. Default 30s.
	CallTimeout time.Duration
	// RateWaitAttempts máximo de esperas por presupuesto en modo blocking
	// antes de diferir igual. Default 3.
	RateWaitAttempts int
}

func (c Config) withDefaults() Config {
	if c.EndpointClass == "" {
		c.EndpointClass = "crm:read"
	}
	if c.FetchCost <= 0 {
		c.FetchCost = 1
	}
	if c.DefaultMaxPages <= 0 {
		c.DefaultMaxPages = 20
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = time.Hour
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.RateWaitAttempts <= 0 {
		c.RateWaitAttempts = 3
	}
	return c
}
