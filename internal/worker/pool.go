// Package worker provee la ejecución dual del sync: inline (el caller
// bloquea y recibe el resultado) o encolada sobre un pool acotado que
// reintenta según la política del clasificador. La orquestación es siempre
// la misma función del driver; acá solo viven los dos adapters.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dropDatabas3/crmbridge/internal/alert"
	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
	"github.com/dropDatabas3/crmbridge/internal/faults"
	"github.com/dropDatabas3/crmbridge/internal/metrics"
	"github.com/dropDatabas3/crmbridge/internal/observability/logger"
	"github.com/dropDatabas3/crmbridge/internal/syncer"
	"github.com/dropDatabas3/crmbridge/internal/webhook"
)

// JobKind de un job encolado.
type JobKind string

const (
	JobSync    JobKind = "sync"
	JobWebhook JobKind = "webhook"
)

// Job es una unidad de trabajo encolada.
type Job struct {
	ID       string
	Kind     JobKind
	SyncOpts syncer.Options
	Event    webhook.Event
	Attempt  int
}

// Config del pool.
type Config struct {
	// Workers concurrentes. Default 4.
	Workers int
	// QueueSize del buffer de jobs. Default 256.
	QueueSize int
	// DeferDelay antes de reencolar un run diferido por presupuesto.
	// Default 60s.
	DeferDelay time.Duration
	// MaxAttempts por job encolado. Default 3.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.DeferDelay <= 0 {
		c.DeferDelay = 60 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// Runner expone los dos modos de ejecución sobre el mismo driver.
type Runner struct {
	driver     *syncer.Driver
	processor  *webhook.Processor
	classifier *faults.Classifier
	notifier   alert.Notifier
	cfg        Config

	jobs chan Job
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewRunner arma el Runner. Start debe llamarse antes de encolar.
func NewRunner(
	driver *syncer.Driver,
	processor *webhook.Processor,
	classifier *faults.Classifier,
	notifier alert.Notifier,
	cfg Config,
) *Runner {
	cfg = cfg.withDefaults()
	return &Runner{
		driver:     driver,
		processor:  processor,
		classifier: classifier,
		notifier:   notifier,
		cfg:        cfg,
		jobs:       make(chan Job, cfg.QueueSize),
	}
}

// RunSyncInline ejecuta un run bloqueante: las esperas de rate se duermen
// acá mismo y el caller recibe el resultado final.
func (r *Runner) RunSyncInline(ctx context.Context, opts syncer.Options) repository.SyncResult {
	opts.Blocking = true
	res := r.driver.Run(ctx, opts)
	r.surfaceOperatorErrors(ctx, res)
	return res
}

// ApplyWebhookInline aplica un evento bloqueante.
func (r *Runner) ApplyWebhookInline(ctx context.Context, ev webhook.Event) repository.SyncResult {
	res := r.processor.Apply(ctx, ev)
	r.surfaceOperatorErrors(ctx, res)
	return res
}

// EnqueueSync agenda un run para el pool; el caller recibe el id del job.
func (r *Runner) EnqueueSync(opts syncer.Options) (string, error) {
	opts.Blocking = false
	return r.enqueue(Job{Kind: JobSync, SyncOpts: opts, Attempt: 1})
}

// EnqueueWebhook agenda la aplicación de un evento.
func (r *Runner) EnqueueWebhook(ev webhook.Event) (string, error) {
	return r.enqueue(Job{Kind: JobWebhook, Event: ev, Attempt: 1})
}

func (r *Runner) enqueue(j Job) (string, error) {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return "", fmt.Errorf("worker: queue closed")
	}
	select {
	case r.jobs <- j:
		metrics.QueueDepth.Set(float64(len(r.jobs)))
		return j.ID, nil
	default:
		return "", fmt.Errorf("worker: queue full")
	}
}

// Start levanta el pool. Retorna cuando todos los workers terminaron
// (contexto cancelado y cola drenada).
func (r *Runner) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case j, ok := <-r.jobs:
					if !ok {
						return nil
					}
					metrics.QueueDepth.Set(float64(len(r.jobs)))
					r.handle(ctx, j)
				}
			}
		})
	}
	return g.Wait()
}

// Close corta la entrada de jobs nuevos. Los encolados se terminan de
// drenar mientras el contexto de Start siga vivo.
func (r *Runner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.jobs)
	}
}

func (r *Runner) handle(ctx context.Context, j Job) {
	log := logger.FromWithFields(ctx,
		logger.Component("worker"),
		logger.ID(j.ID),
		logger.String("job_kind", string(j.Kind)),
		logger.Attempt(j.Attempt),
	)
	ctx = logger.ToContext(ctx, log)

	var res repository.SyncResult
	switch j.Kind {
	case JobSync:
		res = r.driver.Run(ctx, j.SyncOpts)
	case JobWebhook:
		res = r.processor.Apply(ctx, j.Event)
	default:
		log.Error("unknown job kind dropped")
		return
	}

	r.surfaceOperatorErrors(ctx, res)

	// Diferido por presupuesto: volver a intentar cuando el limiter
	// recomiende, sin gastar el presupuesto de retries.
	if res.Deferred {
		r.requeueLater(ctx, j, r.cfg.DeferDelay, false)
		return
	}

	if res.Err == nil {
		return
	}

	ce := r.classifier.Classify(res.Err, string(j.Kind))
	if j.Attempt >= r.cfg.MaxAttempts || !r.classifier.ShouldRetry(ctx, ce, j.Attempt) {
		log.Error("job exhausted retries",
			logger.ErrorKind(string(ce.Kind)), logger.Err(ce))
		return
	}
	r.requeueLater(ctx, j, r.classifier.RetryDelay(ce, j.Attempt), true)
}

func (r *Runner) requeueLater(ctx context.Context, j Job, delay time.Duration, bumpAttempt bool) {
	if bumpAttempt {
		j.Attempt++
	}
	logger.From(ctx).Info("job requeued", logger.RetryAfter(delay))
	time.AfterFunc(delay, func() {
		if _, err := r.enqueue(j); err != nil {
			logger.L().Warn("requeue dropped", logger.ID(j.ID), logger.Err(err))
		}
	})
}

// surfaceOperatorErrors manda la alerta cuando el run murió por algo que
// solo un humano puede arreglar.
func (r *Runner) surfaceOperatorErrors(ctx context.Context, res repository.SyncResult) {
	if res.Err == nil {
		return
	}
	ce := faults.Classify(res.Err, "")
	if !ce.OperatorAction() {
		return
	}
	subject := fmt.Sprintf("%s error syncing %s", ce.Kind, res.EntityType)
	body := fmt.Sprintf(
		"Run %s (%s) aborted with a %s error and will not be retried automatically.\n\nError: %v\nSynced: %d\nErrors: %d\n",
		res.RunID, res.EntityType, ce.Kind, ce, res.Synced, res.Errors,
	)
	_ = r.notifier.NotifyOperator(ctx, subject, body)
}
