package repository

import (
	"context"
	"time"
)

// FetchPageInput parametriza un fetch paginado contra el CRM remoto.
type FetchPageInput struct {
	EntityType string
	PageSize   int
	Cursor     string
	Sort       SortMode
}

// CRMClient es el colaborador remoto. El armado de requests a nivel wire
// (auth, headers, serialización) vive en internal/crm y queda fuera del core.
type CRMClient interface {
	// FetchPage trae una página de records. NextCursor vacío = última página.
	FetchPage(ctx context.Context, in FetchPageInput) (Page, error)

	// FetchRecord trae un record individual por id remoto.
	// Retorna ErrNotFound si el remoto no lo conoce.
	FetchRecord(ctx context.Context, entityType, remoteID string) (Record, error)

	// Ping hace una llamada liviana para medir disponibilidad/latencia.
	Ping(ctx context.Context) (latency time.Duration, err error)
}

// RecordStore es el almacenamiento local de records sincronizados.
type RecordStore interface {
	// Upsert reconcilia un record remoto contra el almacenamiento local.
	Upsert(ctx context.Context, rec Record) (UpsertOutcome, error)

	// Delete elimina el record local por id remoto.
	// Retorna ErrNotFound si no existe.
	Delete(ctx context.Context, entityType, remoteID string) error

	// Get obtiene un record local por id remoto. ErrNotFound si no existe.
	Get(ctx context.Context, entityType, remoteID string) (Record, error)

	// Ping verifica la conexión al almacenamiento.
	Ping(ctx context.Context) error
}

// LinkRepository administra los EntityLink del host. El migrador de merges
// es su único consumidor de escritura dentro del core.
type LinkRepository interface {
	// ListByEntity lista los links que apuntan a una entidad remota.
	ListByEntity(ctx context.Context, entityType, entityID string) ([]EntityLink, error)

	// FindForOwner busca el link de un owner (linkableType+linkableID) hacia
	// una entidad concreta. ErrNotFound si no existe.
	FindForOwner(ctx context.Context, linkableType, linkableID, entityType, entityID string) (EntityLink, error)

	// Update persiste los campos mutables de un link existente.
	Update(ctx context.Context, link EntityLink) error

	// Delete elimina un link por id.
	Delete(ctx context.Context, id string) error
}

// CounterStore es el store compartido para contadores y estado mutable
// global (presupuestos de rate, estado de circuit breaker). Con más de un
// worker activo tiene que estar respaldado por Redis; el backend en memoria
// sirve solo para un proceso único o tests.
type CounterStore interface {
	// Increment suma amount de forma atómica y retorna el valor resultante.
	Increment(ctx context.Context, key string, amount int64) (int64, error)

	// Get obtiene un valor. Retorna ErrNotFound si no existe.
	Get(ctx context.Context, key string) (string, error)

	// SetWithTTL guarda un valor con TTL. TTL 0 = sin expiración.
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error

	// Expire ajusta el TTL de una key existente sin tocar su valor.
	// TTL 0 = sin expiración. ErrNotFound si la key no existe.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Delete elimina una key.
	Delete(ctx context.Context, key string) error
}
