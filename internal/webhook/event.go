// Package webhook aplica las notificaciones de cambio asincrónicas del CRM
// con las mismas garantías de resiliencia que el sync paginado, más la
// detección y migración de merges de entidades.
//
// La verificación de firma del webhook es responsabilidad del ingress HTTP
// del host; acá entra el payload ya autenticado.
package webhook

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
)

// EventType normalizado de un evento.
type EventType string

const (
	EventAdded   EventType = "added"
	EventUpdated EventType = "updated"
	EventDeleted EventType = "deleted"
	EventMerged  EventType = "merged"
	EventUnknown EventType = "unknown"
)

// Event es una notificación de cambio sobre una entidad remota.
type Event struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	EntityType    string         `json:"entity_type"`
	EntityID      string         `json:"entity_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Record        map[string]any `json:"record,omitempty"`

	// Solo para eventos merged.
	MergedID    string `json:"merged_id,omitempty"`
	SurvivingID string `json:"surviving_id,omitempty"`
}

// Kind normaliza el type crudo del proveedor.
func (e Event) Kind() EventType {
	switch e.Type {
	case "added", "created", "create":
		return EventAdded
	case "updated", "changed", "update":
		return EventUpdated
	case "deleted", "delete", "removed":
		return EventDeleted
	case "merged", "merge":
		return EventMerged
	default:
		return EventUnknown
	}
}

// toRecord arma el Record de dominio a partir del payload del evento.
func (e Event) toRecord() repository.Record {
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return repository.Record{
		RemoteID:   e.EntityID,
		EntityType: e.EntityType,
		UpdatedAt:  occurred,
		Fields:     e.Record,
	}
}

// Parse valida el payload crudo contra el schema y lo deserializa.
func Parse(raw []byte) (Event, error) {
	if err := ValidatePayload(raw); err != nil {
		return Event{}, fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", repository.ErrInvalidInput, err)
	}
	return ev, nil
}
