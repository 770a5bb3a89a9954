// Package memory implementa los repositorios locales sobre maps en proceso.
// Útil para desarrollo y testing; no sobrevive reinicios.
package memory

import (
	"context"
	"sync"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
)

// Store guarda records y links en memoria. Las vistas Records() y Links()
// exponen los contratos de dominio.
type Store struct {
	mu      sync.RWMutex
	records map[string]repository.Record     // entityType/remoteID
	links   map[string]repository.EntityLink // id
}

// New crea un Store vacío.
func New() *Store {
	return &Store{
		records: make(map[string]repository.Record),
		links:   make(map[string]repository.EntityLink),
	}
}

// Records expone la vista RecordStore.
func (s *Store) Records() repository.RecordStore { return recordsView{s} }

// Links expone la vista LinkRepository.
func (s *Store) Links() repository.LinkRepository { return linksView{s} }

// PutLink siembra un link (tests y tooling del host).
func (s *Store) PutLink(link repository.EntityLink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.ID] = link
}

// Link lee un link por id (tests).
func (s *Store) Link(id string) (repository.EntityLink, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[id]
	return l, ok
}

func recordKey(entityType, remoteID string) string {
	return entityType + "/" + remoteID
}

// ───── RecordStore ─────

type recordsView struct{ s *Store }

func (v recordsView) Upsert(ctx context.Context, rec repository.Record) (repository.UpsertOutcome, error) {
	if rec.RemoteID == "" || rec.EntityType == "" {
		return "", repository.ErrInvalidInput
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	k := recordKey(rec.EntityType, rec.RemoteID)
	existing, ok := v.s.records[k]
	if !ok {
		v.s.records[k] = rec
		return repository.OutcomeCreated, nil
	}
	// Un record más viejo que lo almacenado no pisa nada.
	if !rec.UpdatedAt.After(existing.UpdatedAt) {
		return repository.OutcomeSkipped, nil
	}
	v.s.records[k] = rec
	return repository.OutcomeUpdated, nil
}

func (v recordsView) Delete(ctx context.Context, entityType, remoteID string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	k := recordKey(entityType, remoteID)
	if _, ok := v.s.records[k]; !ok {
		return repository.ErrNotFound
	}
	delete(v.s.records, k)
	return nil
}

func (v recordsView) Get(ctx context.Context, entityType, remoteID string) (repository.Record, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	rec, ok := v.s.records[recordKey(entityType, remoteID)]
	if !ok {
		return repository.Record{}, repository.ErrNotFound
	}
	return rec, nil
}

func (v recordsView) Ping(ctx context.Context) error { return nil }

// ───── LinkRepository ─────

type linksView struct{ s *Store }

func (v linksView) ListByEntity(ctx context.Context, entityType, entityID string) ([]repository.EntityLink, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	var out []repository.EntityLink
	for _, l := range v.s.links {
		if l.EntityType == entityType && l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (v linksView) FindForOwner(ctx context.Context, linkableType, linkableID, entityType, entityID string) (repository.EntityLink, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	for _, l := range v.s.links {
		if l.LinkableType == linkableType && l.LinkableID == linkableID &&
			l.EntityType == entityType && l.EntityID == entityID {
			return l, nil
		}
	}
	return repository.EntityLink{}, repository.ErrNotFound
}

func (v linksView) Update(ctx context.Context, link repository.EntityLink) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.links[link.ID]; !ok {
		return repository.ErrNotFound
	}
	// Misma unicidad owner→target que el índice parcial de postgres: los
	// links con MigratedFrom seteado quedan exentos.
	if link.MigratedFrom == "" {
		for id, other := range v.s.links {
			if id == link.ID || other.MigratedFrom != "" {
				continue
			}
			if other.LinkableType == link.LinkableType && other.LinkableID == link.LinkableID &&
				other.EntityType == link.EntityType && other.EntityID == link.EntityID {
				return repository.ErrConflict
			}
		}
	}
	v.s.links[link.ID] = link
	return nil
}

func (v linksView) Delete(ctx context.Context, id string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	if _, ok := v.s.links[id]; !ok {
		return repository.ErrNotFound
	}
	delete(v.s.links, id)
	return nil
}
