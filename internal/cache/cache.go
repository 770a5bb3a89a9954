// Package cache provee abstracciones para caching y contadores compartidos
// con soporte multi-backend.
//
// Soporta:
//   - Memory (in-process, para desarrollo/testing y despliegues de un worker)
//   - Redis (distribuido, para producción con varios workers)
//
// Los presupuestos de rate y el estado del circuit breaker viven acá; por eso
// el Client expone Increment atómico además de las operaciones clásicas de
// cache.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Client define las operaciones de cache y contadores.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor con TTL opcional.
	// Si ttl es 0, no expira.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Increment suma amount de forma atómica y retorna el valor resultante.
	// Si la key no existe arranca desde 0.
	Increment(ctx context.Context, key string, amount int64) (int64, error)

	// Expire ajusta el TTL de una key existente sin tocar su valor.
	// Si ttl es 0, la key deja de expirar. ErrNotFound si no existe.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete elimina una key.
	Delete(ctx context.Context, key string) error

	// Exists verifica si una key existe.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifica la conexión.
	Ping(ctx context.Context) error

	// Close cierra la conexión.
	Close() error

	// Stats retorna estadísticas del cache.
	Stats(ctx context.Context) (Stats, error)
}

// Stats contiene estadísticas del cache.
type Stats struct {
	Driver     string
	Keys       int64
	UsedMemory string
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Driver   string // "memory" | "redis"
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string // Prefijo para todas las keys
}

// Errores de cache.
var (
	ErrNotFound = errNotFound{}
)

type errNotFound struct{}

func (e errNotFound) Error() string { return "cache: key not found" }

// IsNotFound verifica si el error es porque la key no existe.
func IsNotFound(err error) bool {
	_, ok := err.(errNotFound)
	return ok
}

// New crea un cliente de cache según la configuración.
func New(cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(cfg)
	case "memory", "":
		return NewMemory(cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", cfg.Driver)
	}
}
