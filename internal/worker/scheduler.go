package worker

import (
	"context"
	"time"

	"github.com/dropDatabas3/crmbridge/internal/health"
	"github.com/dropDatabas3/crmbridge/internal/observability/logger"
	"github.com/dropDatabas3/crmbridge/internal/syncer"
)

// Scheduler encola syncs incrementales periódicos por entity type.
type Scheduler struct {
	runner      *Runner
	probe       *health.Probe
	interval    time.Duration
	entityTypes []string
}

// NewScheduler crea un Scheduler. interval <= 0 lo deshabilita.
func NewScheduler(runner *Runner, probe *health.Probe, interval time.Duration, entityTypes []string) *Scheduler {
	return &Scheduler{
		runner:      runner,
		probe:       probe,
		interval:    interval,
		entityTypes: entityTypes,
	}
}

// Run corre el loop hasta que el contexto muera.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 || len(s.entityTypes) == 0 {
		return
	}
	log := logger.FromWithFields(ctx, logger.Component("scheduler"))

	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			// Con el upstream caído no vale la pena encolar; degraded es
			// solo advisory y el run igual se auto-defiere si empeora.
			if s.probe.Status(ctx) == health.StatusUnhealthy {
				log.Warn("upstream unhealthy, skipping scheduled syncs")
				continue
			}
			for _, et := range s.entityTypes {
				id, err := s.runner.EnqueueSync(syncer.Options{
					EntityType: et,
					Mode:       syncer.ModeIncremental,
				})
				if err != nil {
					log.Warn("scheduled sync not enqueued",
						logger.EntityType(et), logger.Err(err))
					continue
				}
				log.Debug("scheduled sync enqueued",
					logger.EntityType(et), logger.ID(id))
			}
		}
	}
}
