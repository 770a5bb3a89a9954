package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del subsistema de sync. Viven en un paquete propio para evitar
// ciclos de import entre el driver, el breaker y las capas HTTP.

var (
	PagesFetched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crmbridge_pages_fetched_total",
		Help: "Páginas traídas del CRM remoto por entity type",
	}, []string{"entity_type"})

	RecordsSynced = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crmbridge_records_synced_total",
		Help: "Records reconciliados por entity type y outcome",
	}, []string{"entity_type", "outcome"})

	RecordErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crmbridge_record_errors_total",
		Help: "Errores aislados de record durante el procesamiento",
	}, []string{"entity_type", "kind"})

	SyncRunDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crmbridge_sync_run_seconds",
		Help:    "Duración de un run de sync completo",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"entity_type"})

	RateRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crmbridge_rate_rejections_total",
		Help: "Intentos rechazados por presupuesto de rate agotado",
	}, []string{"endpoint_class"})

	RateConsumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crmbridge_rate_consumed_total",
		Help: "Tokens de presupuesto consumidos por clase de endpoint",
	}, []string{"endpoint_class"})

	CircuitTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crmbridge_circuit_transitions_total",
		Help: "Transiciones del circuit breaker por op y estado destino",
	}, []string{"op", "state"})

	WebhookEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crmbridge_webhook_events_total",
		Help: "Eventos de webhook aplicados por tipo y resultado",
	}, []string{"event_type", "result"})

	MergeMigrations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crmbridge_merge_migrations_total",
		Help: "Links migrados por merges de entidades, por outcome",
	}, []string{"entity_type", "outcome"})

	MemoryUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crmbridge_memory_usage_percent",
		Help: "Porcentaje de memoria usada según el MemoryGovernor",
	})

	BatchSize = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "crmbridge_batch_size",
		Help: "Tamaño de página vigente por entity type",
	}, []string{"entity_type"})

	UpstreamHealthy = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crmbridge_upstream_healthy",
		Help: "Estado del upstream: 1 healthy, 0.5 degraded, 0 unhealthy",
	})

	UpstreamLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "crmbridge_upstream_latency_ms",
		Help:    "Latencia del health check contra el CRM en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crmbridge_worker_queue_depth",
		Help: "Jobs encolados esperando worker",
	})
)

// Register registra todas las métricas en el registry dado (o el default
// si es nil). Tolera registros repetidos.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collectors := []prometheus.Collector{
		PagesFetched,
		RecordsSynced,
		RecordErrors,
		SyncRunDuration,
		RateRejections,
		RateConsumed,
		CircuitTransitions,
		WebhookEvents,
		MergeMigrations,
		MemoryUsagePercent,
		BatchSize,
		UpstreamHealthy,
		UpstreamLatency,
		QueueDepth,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
