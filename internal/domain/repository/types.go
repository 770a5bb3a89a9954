package repository

import "time"

// Record representa una entidad remota del CRM tal como llega por la API.
// Fields es schemaless a propósito: el mapeo campo a campo no es
// responsabilidad de esta capa.
type Record struct {
	RemoteID   string
	EntityType string
	UpdatedAt  time.Time
	DeletedAt  *time.Time
	Fields     map[string]any
}

// UpsertOutcome indica qué hizo el almacenamiento local con un record.
type UpsertOutcome string

const (
	OutcomeCreated UpsertOutcome = "created"
	OutcomeUpdated UpsertOutcome = "updated"
	OutcomeSkipped UpsertOutcome = "skipped"
)

// SortMode define el orden de paginación remota.
// "incremental" pagina por modificación más reciente primero;
// "full" pagina del más viejo al más nuevo para cursores estables.
type SortMode string

const (
	SortRecentFirst SortMode = "recent_first"
	SortOldestFirst SortMode = "oldest_first"
)

// HTTPMeta son los metadatos de rate-limit que el proveedor adjunta a cada
// respuesta. Los valores -1 significan "no informado".
type HTTPMeta struct {
	Status             int
	RateLimitLimit     int64
	RateLimitRemaining int64
	RateLimitReset     time.Time
	RetryAfter         time.Duration
}

// Page es el resultado de un fetch paginado. NextCursor vacío significa que
// no hay más páginas.
type Page struct {
	Records    []Record
	NextCursor string
	Meta       HTTPMeta
}

// RateSnapshot es una foto del presupuesto de rate al cierre de un run.
type RateSnapshot struct {
	EndpointClass string    `json:"endpoint_class"`
	DailyLimit    int64     `json:"daily_limit"`
	ConsumedToday int64     `json:"consumed_today"`
	ResetAt       time.Time `json:"reset_at"`
}

// MemorySnapshot es una foto del uso de memoria del proceso.
type MemorySnapshot struct {
	UsedBytes    uint64    `json:"used_bytes"`
	LimitBytes   uint64    `json:"limit_bytes"`
	UsagePercent float64   `json:"usage_percent"`
	SampledAt    time.Time `json:"sampled_at"`
}

// HealthSnapshot es una foto del estado del upstream.
type HealthSnapshot struct {
	Status    string    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`
	LatencyMs int64     `json:"latency_ms"`
}

// SyncResult resume un run de sincronización (o la aplicación de un webhook).
// Es inmutable una vez retornado; los runs que abarcan varios sub-batches se
// acumulan via Merge antes de retornar.
type SyncResult struct {
	RunID       string    `json:"run_id"`
	EntityType  string    `json:"entity_type"`
	Synced      int       `json:"synced"`
	Updated     int       `json:"updated"`
	Skipped     int       `json:"skipped"`
	Errors      int       `json:"errors"`
	Pages       int       `json:"pages"`
	Attempts    int       `json:"attempts"`
	Deferred    bool      `json:"deferred,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	Memory *MemorySnapshot `json:"memory,omitempty"`
	Rate   *RateSnapshot   `json:"rate,omitempty"`
	Health *HealthSnapshot `json:"health,omitempty"`

	// Err queda seteado cuando el run terminó en fallo a nivel run
	// (no por errores aislados de records).
	Err        error  `json:"-"`
	ErrMessage string `json:"error,omitempty"`
}

// Merge acumula los contadores de otro resultado parcial sobre r y retorna
// el resultado combinado. Los timestamps se extienden para cubrir ambos.
func (r SyncResult) Merge(other SyncResult) SyncResult {
	r.Synced += other.Synced
	r.Updated += other.Updated
	r.Skipped += other.Skipped
	r.Errors += other.Errors
	r.Pages += other.Pages
	if other.Attempts > r.Attempts {
		r.Attempts = other.Attempts
	}
	r.Deferred = r.Deferred || other.Deferred
	if r.StartedAt.IsZero() || (!other.StartedAt.IsZero() && other.StartedAt.Before(r.StartedAt)) {
		r.StartedAt = other.StartedAt
	}
	if other.CompletedAt.After(r.CompletedAt) {
		r.CompletedAt = other.CompletedAt
	}
	if other.Memory != nil {
		r.Memory = other.Memory
	}
	if other.Rate != nil {
		r.Rate = other.Rate
	}
	if other.Health != nil {
		r.Health = other.Health
	}
	if other.Err != nil {
		r.Err = other.Err
		r.ErrMessage = other.Err.Error()
	}
	return r
}

// Duration retorna cuánto tardó el run.
func (r SyncResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// SyncStatus de un link respecto del remoto.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusError   SyncStatus = "error"
)

// EntityLink relaciona un objeto local (el "linkable": orden, ticket, lo que
// sea que el host defina) con una entidad remota del CRM. El migrador de
// merges reescribe EntityID pero nunca crea el lado linkable.
type EntityLink struct {
	ID           string
	LinkableType string
	LinkableID   string
	EntityType   string
	EntityID     string
	IsPrimary    bool
	SyncStatus   SyncStatus
	// MigratedFrom guarda el id retirado cuando el link fue reescrito por
	// un merge (procedencia).
	MigratedFrom string
	UpdatedAt    time.Time
}

// Owner identifica el lado linkable de un EntityLink.
func (l EntityLink) Owner() string {
	return l.LinkableType + "#" + l.LinkableID
}

// MergeDetection indica cómo se detectó un merge.
type MergeDetection string

const (
	MergeExplicit  MergeDetection = "explicit"
	MergeHeuristic MergeDetection = "heuristic"
)

// MergeEvent describe un merge de entidades remotas: mergedID se retira,
// survivingID queda. Se consume de inmediato, no se persiste.
type MergeEvent struct {
	EntityType  string
	MergedID    string
	SurvivingID string
	DetectedVia MergeDetection
}
