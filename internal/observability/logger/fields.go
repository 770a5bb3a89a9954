package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - SYNC
// =================================================================================

// RunID crea un campo para el id del run de sync.
func RunID(v string) zap.Field {
	return zap.String("run_id", v)
}

// EntityType crea un campo para el tipo de entidad remota.
func EntityType(v string) zap.Field {
	return zap.String("entity_type", v)
}

// Cursor crea un campo para el cursor de paginación.
func Cursor(v string) zap.Field {
	return zap.String("cursor", v)
}

// Pages crea un campo para la cantidad de páginas procesadas.
func Pages(v int) zap.Field {
	return zap.Int("pages", v)
}

// BatchSize crea un campo para el tamaño de página vigente.
func BatchSize(v int) zap.Field {
	return zap.Int("batch_size", v)
}

// Synced crea un campo para la cantidad de records sincronizados.
func Synced(v int) zap.Field {
	return zap.Int("synced", v)
}

// Errors crea un campo para la cantidad de errores de record.
func Errors(v int) zap.Field {
	return zap.Int("errors", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - RESILIENCIA
// =================================================================================

// OpKind crea un campo para el tipo de operación (sync, push, webhook).
func OpKind(v string) zap.Field {
	return zap.String("op_kind", v)
}

// Attempt crea un campo para el número de intento.
func Attempt(v int) zap.Field {
	return zap.Int("attempt", v)
}

// RetryAfter crea un campo para la espera recomendada antes del retry.
func RetryAfter(v time.Duration) zap.Field {
	return zap.Duration("retry_after", v)
}

// ErrorKind crea un campo para el kind del error clasificado.
func ErrorKind(v string) zap.Field {
	return zap.String("error_kind", v)
}

// CircuitState crea un campo para el estado del circuit breaker.
func CircuitState(v string) zap.Field {
	return zap.String("circuit_state", v)
}

// EndpointClass crea un campo para la clase de endpoint remoto.
func EndpointClass(v string) zap.Field {
	return zap.String("endpoint_class", v)
}

// UsagePercent crea un campo para el porcentaje de memoria usada.
func UsagePercent(v float64) zap.Field {
	return zap.Float64("usage_percent", v)
}

// HealthStatus crea un campo para el estado del upstream.
func HealthStatus(v string) zap.Field {
	return zap.String("health_status", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - WEBHOOKS
// =================================================================================

// EventType crea un campo para el tipo de evento de webhook.
func EventType(v string) zap.Field {
	return zap.String("event_type", v)
}

// EventID crea un campo para el id del evento.
func EventID(v string) zap.Field {
	return zap.String("event_id", v)
}

// CorrelationID crea un campo para el id de correlación.
func CorrelationID(v string) zap.Field {
	return zap.String("correlation_id", v)
}

// MergedID crea un campo para el id retirado en un merge.
func MergedID(v string) zap.Field {
	return zap.String("merged_id", v)
}

// SurvivingID crea un campo para el id sobreviviente en un merge.
func SurvivingID(v string) zap.Field {
	return zap.String("surviving_id", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración de una operación.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// DurationMs crea un campo para la duración en milisegundos.
func DurationMs(v int64) zap.Field {
	return zap.Int64("duration_ms", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// ID crea un campo genérico para un ID.
func ID(v string) zap.Field {
	return zap.String("id", v)
}

// Key crea un campo genérico para una clave.
func Key(v string) zap.Field {
	return zap.String("key", v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}

// Int crea un campo int genérico.
func Int(key string, v int) zap.Field {
	return zap.Int(key, v)
}

// Bool crea un campo bool genérico.
func Bool(key string, v bool) zap.Field {
	return zap.Bool(key, v)
}
