package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
	"github.com/dropDatabas3/crmbridge/internal/faults"
	"github.com/dropDatabas3/crmbridge/internal/merge"
	"github.com/dropDatabas3/crmbridge/internal/metrics"
	"github.com/dropDatabas3/crmbridge/internal/observability/logger"
	"github.com/dropDatabas3/crmbridge/internal/rate"
	"github.com/dropDatabas3/crmbridge/internal/syncer"
)

// Config del processor.
type Config struct {
	// MergeStrategy para conflictos de links. Default keep_both.
	MergeStrategy merge.Strategy
	// AllowUnknownAsUpdate restaura el comportamiento legacy de tratar
	// eventos desconocidos como updates. Default false: se rechazan como
	// Validation para no enmascarar payloads malformados.
	AllowUnknownAsUpdate bool
	// HeuristicMerge habilita la inferencia de merges por ventana cuando
	// el proveedor no manda el evento explícito.
	HeuristicMerge bool
	// HeuristicWindow de correlación. Default 30s.
	HeuristicWindow time.Duration
	// EndpointClass y FetchCost del refresh post-merge.
	EndpointClass string
	FetchCost     int64
}

func (c Config) withDefaults() Config {
	if !c.MergeStrategy.Valid() {
		c.MergeStrategy = merge.StrategyKeepBoth
	}
	if c.HeuristicWindow <= 0 {
		c.HeuristicWindow = 30 * time.Second
	}
	if c.EndpointClass == "" {
		c.EndpointClass = "crm:read"
	}
	if c.FetchCost <= 0 {
		c.FetchCost = 1
	}
	return c
}

// Processor aplica un evento de webhook por vez. Los eventos added/updated
// pasan por el mismo paso Process del sync driver (reuso, no duplicación).
type Processor struct {
	driver     *syncer.Driver
	records    repository.RecordStore
	crm        repository.CRMClient
	limiter    *rate.Limiter
	classifier *faults.Classifier
	migrator   *merge.Migrator
	detector   *Detector
	cfg        Config
}

// NewProcessor arma un Processor con sus colaboradores.
func NewProcessor(
	driver *syncer.Driver,
	records repository.RecordStore,
	crm repository.CRMClient,
	limiter *rate.Limiter,
	classifier *faults.Classifier,
	migrator *merge.Migrator,
	cfg Config,
) *Processor {
	cfg = cfg.withDefaults()
	return &Processor{
		driver:     driver,
		records:    records,
		crm:        crm,
		limiter:    limiter,
		classifier: classifier,
		migrator:   migrator,
		detector:   NewDetector(cfg.HeuristicWindow),
		cfg:        cfg,
	}
}

// Apply procesa un evento y retorna el resultado estructurado: nada se
// descarta en silencio.
func (p *Processor) Apply(ctx context.Context, ev Event) repository.SyncResult {
	res := repository.SyncResult{
		RunID:      uuid.NewString(),
		EntityType: ev.EntityType,
		StartedAt:  time.Now().UTC(),
	}
	kind := ev.Kind()
	log := logger.FromWithFields(ctx,
		logger.Component("webhook"),
		logger.EventID(ev.ID),
		logger.EventType(string(kind)),
		logger.EntityType(ev.EntityType),
	)
	ctx = logger.ToContext(ctx, log)

	if err := p.classifier.Breaker().Allow(ctx, faults.OpWebhook); err != nil {
		return p.fail(ctx, res, p.classifier.Classify(err, faults.OpWebhook), string(kind))
	}

	switch kind {
	case EventAdded, EventUpdated:
		res = res.Merge(p.applyUpsert(ctx, ev))

	case EventDeleted:
		res = res.Merge(p.applyDelete(ctx, ev))

	case EventMerged:
		if ev.MergedID == "" || ev.SurvivingID == "" {
			err := fmt.Errorf("%w: merged event without merged_id/surviving_id", repository.ErrInvalidInput)
			return p.fail(ctx, res, p.classifier.Classify(err, faults.OpWebhook), string(kind))
		}
		res = res.Merge(p.applyMerge(ctx, repository.MergeEvent{
			EntityType:  ev.EntityType,
			MergedID:    ev.MergedID,
			SurvivingID: ev.SurvivingID,
			DetectedVia: repository.MergeExplicit,
		}, ev.Record))

	default:
		if p.cfg.AllowUnknownAsUpdate && ev.Record != nil {
			log.Warn("unknown event type treated as update (legacy mode)",
				logger.String("raw_type", ev.Type))
			res = res.Merge(p.applyUpsert(ctx, ev))
		} else {
			err := fmt.Errorf("%w: unknown event type %q", repository.ErrInvalidInput, ev.Type)
			return p.fail(ctx, res, p.classifier.Classify(err, faults.OpWebhook), string(kind))
		}
	}

	res.CompletedAt = time.Now().UTC()
	if res.Errors > 0 {
		p.classifier.Breaker().RecordFailure(ctx, faults.OpWebhook)
		metrics.WebhookEvents.WithLabelValues(string(kind), "error").Inc()
	} else {
		p.classifier.RecordSuccess(ctx, faults.OpWebhook)
		metrics.WebhookEvents.WithLabelValues(string(kind), "ok").Inc()
	}
	log.Info("webhook applied",
		logger.Synced(res.Synced),
		logger.Errors(res.Errors),
		logger.Duration(res.Duration()),
	)
	return res
}

func (p *Processor) applyUpsert(ctx context.Context, ev Event) repository.SyncResult {
	if p.cfg.HeuristicMerge {
		p.detector.ObserveUpdate(ev)
	}
	// Una página de un solo record por el mismo paso Process del driver.
	return p.driver.ProcessOne(ctx, ev.toRecord())
}

func (p *Processor) applyDelete(ctx context.Context, ev Event) repository.SyncResult {
	var res repository.SyncResult

	if p.cfg.HeuristicMerge {
		if mev, ok := p.detector.ObserveDelete(ev); ok {
			logger.From(ctx).Info("merge inferred from update/delete pattern",
				logger.MergedID(mev.MergedID),
				logger.SurvivingID(mev.SurvivingID),
			)
			return p.applyMerge(ctx, mev, nil)
		}
	}

	err := p.records.Delete(ctx, ev.EntityType, ev.EntityID)
	switch {
	case err == nil:
		res.Synced++
	case repository.IsNotFound(err):
		// Borrar lo que no está es un no-op idempotente.
		res.Skipped++
	default:
		res.Errors++
		logger.From(ctx).Warn("delete failed", logger.ID(ev.EntityID), logger.Err(err))
	}
	return res
}

// applyMerge migra los links y después refresca el record sobreviviente
// (semántica de update). Si el evento traía payload se usa directo; si no,
// se trae del CRM descontando presupuesto.
func (p *Processor) applyMerge(ctx context.Context, mev repository.MergeEvent, payload map[string]any) repository.SyncResult {
	var res repository.SyncResult

	mres, err := p.migrator.Migrate(ctx, mev, p.cfg.MergeStrategy)
	if err != nil {
		res.Errors++
		logger.From(ctx).Error("merge migration aborted", logger.Err(err))
		return res
	}
	res.Synced += mres.Migrated
	res.Skipped += mres.Skipped
	res.Errors += mres.Errors

	if payload != nil {
		upd := p.driver.ProcessOne(ctx, repository.Record{
			RemoteID:   mev.SurvivingID,
			EntityType: mev.EntityType,
			UpdatedAt:  time.Now().UTC(),
			Fields:     payload,
		})
		return res.Merge(upd)
	}

	// Refresh remoto del sobreviviente.
	if err := p.limiter.Consume(ctx, p.cfg.EndpointClass, p.cfg.FetchCost); err != nil {
		var limited *rate.LimitedError
		if errors.As(err, &limited) {
			// La migración ya quedó hecha; el refresh se difiere.
			res.Deferred = true
			logger.From(ctx).Info("surviving refresh deferred, budget exhausted",
				logger.RetryAfter(limited.RetryIn))
			return res
		}
		res.Errors++
		return res
	}

	rec, err := p.crm.FetchRecord(ctx, mev.EntityType, mev.SurvivingID)
	if err != nil {
		if repository.IsNotFound(err) {
			res.Skipped++
			return res
		}
		res.Errors++
		logger.From(ctx).Warn("surviving record fetch failed",
			logger.SurvivingID(mev.SurvivingID), logger.Err(err))
		return res
	}
	return res.Merge(p.driver.ProcessOne(ctx, rec))
}

func (p *Processor) fail(ctx context.Context, res repository.SyncResult, ce *faults.ClassifiedError, eventType string) repository.SyncResult {
	res.Errors++
	res.Err = ce
	res.ErrMessage = ce.Error()
	res.CompletedAt = time.Now().UTC()
	p.classifier.RecordFailure(ctx, ce)
	metrics.WebhookEvents.WithLabelValues(eventType, "rejected").Inc()
	logger.From(ctx).Error("webhook rejected",
		logger.ErrorKind(string(ce.Kind)), logger.Err(ce))
	return res
}
