package webhook

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
)

// Detector infiere merges cuando el proveedor no manda el evento explícito.
//
// Patrón: dentro de una ventana corta keyeada por correlation id, dos o más
// records del mismo entity type actualizados y uno de ellos borrado después
// ⇒ merge con mergedId = el borrado y survivingId = el otro actualizado.
//
// El buffer vive solo lo que dura la ventana; no hay estado persistente.
type Detector struct {
	window time.Duration
	mu     sync.Mutex
	seen   *gocache.Cache // key → []updateMark
}

type updateMark struct {
	EntityID string
	At       time.Time
}

// NewDetector crea un Detector con la ventana dada (default 30s).
func NewDetector(window time.Duration) *Detector {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Detector{
		window: window,
		seen:   gocache.New(window, 2*window),
	}
}

func (d *Detector) key(ev Event) string {
	cid := ev.CorrelationID
	if cid == "" {
		// Sin correlation id la ventana se parte por entity type solo;
		// más ruidosa pero sigue acotada.
		cid = "-"
	}
	return ev.EntityType + ":" + cid
}

// ObserveUpdate registra una actualización dentro de la ventana.
func (d *Detector) ObserveUpdate(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := d.key(ev)
	var marks []updateMark
	if v, ok := d.seen.Get(k); ok {
		marks = v.([]updateMark)
	}
	// Dedup por entity id, quedándose con la marca más nueva. Las marcas
	// vencidas se podan acá: cada Set renueva el TTL de la key entera, así
	// que pueden seguir vivas más allá de la ventana.
	cutoff := time.Now().Add(-d.window)
	out := marks[:0]
	for _, m := range marks {
		if m.EntityID != ev.EntityID && m.At.After(cutoff) {
			out = append(out, m)
		}
	}
	out = append(out, updateMark{EntityID: ev.EntityID, At: time.Now()})
	d.seen.Set(k, out, gocache.DefaultExpiration)
}

// ObserveDelete evalúa si el borrado cierra el patrón de merge. Retorna el
// MergeEvent inferido o false.
func (d *Detector) ObserveDelete(ev Event) (repository.MergeEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := d.key(ev)
	v, ok := d.seen.Get(k)
	if !ok {
		return repository.MergeEvent{}, false
	}
	marks := v.([]updateMark)

	// Solo las marcas dentro de la ventana participan del patrón.
	cutoff := time.Now().Add(-d.window)
	deletedSeen := false
	var survivor *updateMark
	for i := range marks {
		if !marks[i].At.After(cutoff) {
			continue
		}
		if marks[i].EntityID == ev.EntityID {
			deletedSeen = true
			continue
		}
		// El sobreviviente es la otra actualización más reciente.
		if survivor == nil || marks[i].At.After(survivor.At) {
			survivor = &marks[i]
		}
	}
	if !deletedSeen || survivor == nil {
		return repository.MergeEvent{}, false
	}

	d.seen.Delete(k)
	return repository.MergeEvent{
		EntityType:  ev.EntityType,
		MergedID:    ev.EntityID,
		SurvivingID: survivor.EntityID,
		DetectedVia: repository.MergeHeuristic,
	}, true
}
