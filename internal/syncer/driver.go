// Package syncer implementa el driver paginado de sincronización.
//
// Un run recorre Init → FetchPage → RateCheck → Process → AdaptBatch y
// repite mientras haya cursor. Compone el limiter, el clasificador con su
// circuit breaker, el governor de memoria y el health probe; la lógica es
// una sola función pura de orquestación que después envuelven los adapters
// inline y encolado (internal/worker).
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
	"github.com/dropDatabas3/crmbridge/internal/faults"
	"github.com/dropDatabas3/crmbridge/internal/health"
	"github.com/dropDatabas3/crmbridge/internal/memory"
	"github.com/dropDatabas3/crmbridge/internal/metrics"
	"github.com/dropDatabas3/crmbridge/internal/observability/logger"
	"github.com/dropDatabas3/crmbridge/internal/rate"
)

// Driver corre runs de sync para un entity type por invocación.
type Driver struct {
	crm        repository.CRMClient
	records    repository.RecordStore
	limiter    *rate.Limiter
	classifier *faults.Classifier
	governor   *memory.Governor
	probe      *health.Probe
	cfg        Config
}

// NewDriver arma un Driver con sus colaboradores.
func NewDriver(
	crm repository.CRMClient,
	records repository.RecordStore,
	limiter *rate.Limiter,
	classifier *faults.Classifier,
	governor *memory.Governor,
	probe *health.Probe,
	cfg Config,
) *Driver {
	return &Driver{
		crm:        crm,
		records:    records,
		limiter:    limiter,
		classifier: classifier,
		governor:   governor,
		probe:      probe,
		cfg:        cfg.withDefaults(),
	}
}

// Run ejecuta un run completo y siempre retorna un SyncResult con contadores
// y fotos de rate/memoria/health, haya terminado bien o mal.
func (d *Driver) Run(ctx context.Context, opts Options) repository.SyncResult {
	opts = opts.withDefaults(d.cfg)

	res := repository.SyncResult{
		RunID:      uuid.NewString(),
		EntityType: opts.EntityType,
		StartedAt:  time.Now().UTC(),
	}
	log := logger.FromWithFields(ctx,
		logger.Component("syncer"),
		logger.RunID(res.RunID),
		logger.EntityType(opts.EntityType),
	)
	ctx = logger.ToContext(ctx, log)

	if err := opts.validate(d.cfg); err != nil {
		return d.fail(ctx, res, d.classifier.Classify(err, faults.OpSync))
	}

	// Advisory: upstream caído y run no forzado → diferir sin intentar.
	if !opts.Force && d.probe.Status(ctx) == health.StatusUnhealthy {
		log.Warn("upstream unhealthy, deferring run")
		res.Deferred = true
		return d.finish(ctx, res)
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.RunTimeout)
	defer cancel()

	plan := d.governor.DefaultPlan(opts.PageSize)
	cursor := opts.Cursor
	attempts := 0

	for {
		// Circuito abierto para sync: el run corta acá.
		if err := d.classifier.Breaker().Allow(ctx, faults.OpSync); err != nil {
			return d.fail(ctx, res, d.classifier.Classify(err, faults.OpSync))
		}

		// RateCheck: descontar presupuesto antes de pegarle al CRM.
		deferred, err := d.consumeBudget(ctx, opts)
		if err != nil {
			return d.fail(ctx, res, d.classifier.Classify(err, faults.OpSync))
		}
		if deferred {
			res.Deferred = true
			log.Info("budget exhausted, deferring run", logger.Cursor(cursor))
			return d.finish(ctx, res)
		}

		page, fetchAttempts, err := d.fetchPage(ctx, repository.FetchPageInput{
			EntityType: opts.EntityType,
			PageSize:   plan.CurrentSize,
			Cursor:     cursor,
			Sort:       opts.sortMode(),
		})
		if fetchAttempts > attempts {
			attempts = fetchAttempts
		}
		res.Attempts = attempts
		if err != nil {
			return d.fail(ctx, res, d.classifier.Classify(err, faults.OpSync))
		}

		res.Pages++
		metrics.PagesFetched.WithLabelValues(opts.EntityType).Inc()
		metrics.BatchSize.WithLabelValues(opts.EntityType).Set(float64(plan.CurrentSize))

		// Los headers del proveedor pisan la contabilidad local.
		if err := d.limiter.ApplyServerMeta(ctx, d.cfg.EndpointClass, page.Meta); err != nil {
			log.Warn("rate meta not applied", logger.Err(err))
		}

		pageRes := d.processPage(ctx, opts.EntityType, page.Records)
		res = res.Merge(pageRes)

		log.Debug("page processed",
			logger.Pages(res.Pages),
			logger.BatchSize(plan.CurrentSize),
			logger.Synced(res.Synced),
			logger.Errors(res.Errors),
		)

		// AdaptBatch: recalcular tamaño para la próxima página.
		plan = d.governor.PlanNextBatch(plan)
		sample := d.governor.Sample()
		if d.governor.Observe(sample) == memory.LevelCritical {
			err := fmt.Errorf("%w: %.1f%% used", faults.ErrMemoryPressure, sample.UsagePercent)
			return d.fail(ctx, res, d.classifier.Classify(err, faults.OpSync))
		}
		if d.governor.ShouldForceGC() {
			log.Info("memory over alert level, forcing gc", logger.UsagePercent(sample.UsagePercent))
			d.governor.ForceGC()
		}

		cursor = page.NextCursor
		if cursor == "" {
			break
		}
		if opts.MaxPages > 0 && res.Pages >= opts.MaxPages {
			log.Info("safety page cap reached", logger.Pages(res.Pages))
			break
		}
		if ctx.Err() != nil {
			return d.fail(ctx, res, d.classifier.Classify(ctx.Err(), faults.OpSync))
		}
	}

	return d.finish(ctx, res)
}

// consumeBudget descuenta el costo de un fetch. En modo blocking espera y
// reintenta hasta RateWaitAttempts; en modo async pide diferir.
func (d *Driver) consumeBudget(ctx context.Context, opts Options) (deferred bool, err error) {
	for attempt := 1; ; attempt++ {
		err := d.limiter.Consume(ctx, d.cfg.EndpointClass, d.cfg.FetchCost)
		if err == nil {
			return false, nil
		}
		var limited *rate.LimitedError
		if !errors.As(err, &limited) {
			return false, err
		}
		if !opts.Blocking || attempt > d.cfg.RateWaitAttempts {
			return true, nil
		}
		wait := limited.RetryIn
		if backoff := d.limiter.WaitDuration(attempt); backoff < wait {
			wait = backoff
		}
		logger.From(ctx).Info("waiting for rate budget",
			logger.EndpointClass(d.cfg.EndpointClass),
			logger.Attempt(attempt),
			logger.RetryAfter(wait),
		)
		if err := sleepCtx(ctx, wait); err != nil {
			return false, err
		}
	}
}

// fetchPage trae una página con retries según la política del clasificador.
// Retorna el número de intento que terminó ganando.
func (d *Driver) fetchPage(ctx context.Context, in repository.FetchPageInput) (repository.Page, int, error) {
	attempt := 1
	for {
		callCtx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		page, err := d.crm.FetchPage(callCtx, in)
		cancel()

		if err == nil {
			d.classifier.RecordSuccess(ctx, faults.OpSync)
			return page, attempt, nil
		}

		ce := d.classifier.Classify(err, faults.OpSync)
		d.classifier.RecordFailure(ctx, ce)

		if !d.classifier.ShouldRetry(ctx, ce, attempt) {
			return repository.Page{}, attempt, ce
		}

		delay := d.classifier.RetryDelay(ce, attempt)
		logger.From(ctx).Warn("fetch failed, retrying",
			logger.ErrorKind(string(ce.Kind)),
			logger.Attempt(attempt),
			logger.RetryAfter(delay),
			logger.Err(err),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return repository.Page{}, attempt, ce
		}
		attempt++
	}
}

// processPage reconcilia los records de una página contra el almacenamiento
// local con aislamiento de fallas por record: un record malo suma al
// contador de errores y el resto sigue.
func (d *Driver) processPage(ctx context.Context, entityType string, recs []repository.Record) repository.SyncResult {
	var res repository.SyncResult

	for i := range recs {
		outcome, err := d.upsertRecord(ctx, recs[i])
		if err != nil {
			res.Errors++
			ce := d.classifier.Classify(err, faults.OpSync)
			metrics.RecordErrors.WithLabelValues(entityType, string(ce.Kind)).Inc()
			logger.From(ctx).Warn("record failed",
				logger.ID(recs[i].RemoteID),
				logger.ErrorKind(string(ce.Kind)),
				logger.Err(err),
			)
			continue
		}
		res.Synced++
		switch outcome {
		case repository.OutcomeUpdated:
			res.Updated++
		case repository.OutcomeSkipped:
			res.Skipped++
		}
		metrics.RecordsSynced.WithLabelValues(entityType, string(outcome)).Inc()
	}
	return res
}

// upsertRecord hace el upsert de un record con retry inline acotado por el
// presupuesto del clasificador. Nunca reintenta a mitad de record.
func (d *Driver) upsertRecord(ctx context.Context, rec repository.Record) (repository.UpsertOutcome, error) {
	attempt := 1
	for {
		outcome, err := d.records.Upsert(ctx, rec)
		if err == nil {
			return outcome, nil
		}
		ce := d.classifier.Classify(err, faults.OpSync)
		if !ce.Retryable || attempt >= ce.MaxRetries {
			return "", ce
		}
		if err := sleepCtx(ctx, d.classifier.RetryDelay(ce, attempt)); err != nil {
			return "", ce
		}
		attempt++
	}
}

// ProcessOne aplica el paso Process a un único record. Lo reusa el webhook
// processor para los eventos added/updated: misma política, sin duplicar.
func (d *Driver) ProcessOne(ctx context.Context, rec repository.Record) repository.SyncResult {
	res := d.processPage(ctx, rec.EntityType, []repository.Record{rec})
	res.EntityType = rec.EntityType
	return res
}

// fail cierra el run como fallido, notifica operador-si-corresponde y
// adjunta las fotos de estado igual que un run exitoso.
func (d *Driver) fail(ctx context.Context, res repository.SyncResult, ce *faults.ClassifiedError) repository.SyncResult {
	res.Err = ce
	res.ErrMessage = ce.Error()
	logger.From(ctx).Error("sync run failed",
		logger.ErrorKind(string(ce.Kind)),
		logger.Pages(res.Pages),
		logger.Synced(res.Synced),
		logger.Err(ce),
	)
	return d.finish(ctx, res)
}

func (d *Driver) finish(ctx context.Context, res repository.SyncResult) repository.SyncResult {
	res.CompletedAt = time.Now().UTC()

	if budget, err := d.limiter.Status(ctx, d.cfg.EndpointClass); err == nil {
		res.Rate = &repository.RateSnapshot{
			EndpointClass: budget.EndpointClass,
			DailyLimit:    budget.DailyLimit,
			ConsumedToday: budget.ConsumedToday,
			ResetAt:       budget.ResetAt,
		}
	}
	mem := d.governor.Sample()
	res.Memory = &mem
	hs := d.probe.Snapshot(ctx)
	res.Health = &hs

	metrics.SyncRunDuration.WithLabelValues(res.EntityType).Observe(res.Duration().Seconds())

	logger.From(ctx).Info("sync run finished",
		logger.Pages(res.Pages),
		logger.Synced(res.Synced),
		logger.Errors(res.Errors),
		logger.Bool("deferred", res.Deferred),
		logger.Duration(res.Duration()),
	)
	return res
}

// sleepCtx duerme respetando la cancelación del contexto.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
