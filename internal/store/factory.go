// Package store resuelve el backend de almacenamiento local según config.
package store

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
	"github.com/dropDatabas3/crmbridge/internal/store/memory"
	"github.com/dropDatabas3/crmbridge/internal/store/pg"
)

// Config del almacenamiento.
type Config struct {
	Driver string // "postgres" | "memory"
	DSN    string
}

// Stores agrupa los repositorios concretos ya armados.
type Stores struct {
	Records repository.RecordStore
	Links   repository.LinkRepository
	Close   func()
}

// New arma los repositorios según el driver.
func New(ctx context.Context, cfg Config) (Stores, error) {
	switch cfg.Driver {
	case "postgres", "pg":
		if cfg.DSN == "" {
			return Stores{}, fmt.Errorf("store: %w", repository.ErrNoDatabase)
		}
		p, err := pg.New(ctx, cfg.DSN)
		if err != nil {
			return Stores{}, fmt.Errorf("store: %w", err)
		}
		return Stores{
			Records: p.Records(),
			Links:   p.Links(),
			Close:   p.Close,
		}, nil
	case "memory", "":
		m := memory.New()
		return Stores{
			Records: m.Records(),
			Links:   m.Links(),
			Close:   func() {},
		}, nil
	default:
		return Stores{}, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
