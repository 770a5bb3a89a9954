// Package merge reescribe los EntityLink cuando el CRM fusiona entidades:
// todo lo que apuntaba al id retirado pasa a apuntar al sobreviviente.
package merge

import (
	"context"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
	"github.com/dropDatabas3/crmbridge/internal/metrics"
	"github.com/dropDatabas3/crmbridge/internal/observability/logger"
)

// Strategy de resolución cuando el owner ya tiene un link al sobreviviente.
type Strategy string

const (
	// StrategyKeepBoth reescribe el link fusionado pero lo demote: nunca
	// queda como primario.
	StrategyKeepBoth Strategy = "keep_both"
	// StrategyKeepSurviving descarta el link fusionado.
	StrategyKeepSurviving Strategy = "keep_surviving"
	// StrategyKeepMerged reescribe el fusionado y descarta el preexistente.
	StrategyKeepMerged Strategy = "keep_merged"
)

// Valid verifica que la estrategia sea conocida.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyKeepBoth, StrategyKeepSurviving, StrategyKeepMerged:
		return true
	}
	return false
}

// Result resume una migración.
type Result struct {
	Migrated  int `json:"migrated"`
	Skipped   int `json:"skipped"`
	Conflicts int `json:"conflicts"`
	Errors    int `json:"errors"`
}

// Migrator reescribe links de un id retirado hacia el sobreviviente.
type Migrator struct {
	links repository.LinkRepository
}

// NewMigrator crea un Migrator.
func NewMigrator(links repository.LinkRepository) *Migrator {
	return &Migrator{links: links}
}

// Migrate procesa todos los links que apuntan a ev.MergedID. Cada link con
// problemas suma al contador de errores y no frena al resto (misma política
// de aislamiento por record que el sync driver). Es idempotente: una
// segunda pasada no encuentra links hacia el id retirado.
func (m *Migrator) Migrate(ctx context.Context, ev repository.MergeEvent, strategy Strategy) (Result, error) {
	var res Result

	if !strategy.Valid() {
		strategy = StrategyKeepBoth
	}

	log := logger.FromWithFields(ctx,
		logger.Component("merge"),
		logger.EntityType(ev.EntityType),
		logger.MergedID(ev.MergedID),
		logger.SurvivingID(ev.SurvivingID),
	)

	linked, err := m.links.ListByEntity(ctx, ev.EntityType, ev.MergedID)
	if err != nil {
		return res, err
	}

	for _, link := range linked {
		outcome, err := m.migrateOne(ctx, link, ev, strategy, &res)
		if repository.IsConflict(err) {
			// Carrera: otro writer creó el link al sobreviviente entre el
			// Find y el Update. El link queda en el id retirado; una pasada
			// posterior lo resuelve por la rama de conflicto.
			res.Conflicts++
			metrics.MergeMigrations.WithLabelValues(ev.EntityType, "conflict").Inc()
			log.Warn("link migration conflicted",
				logger.ID(link.ID),
				logger.String("owner", link.Owner()),
				logger.Err(err),
			)
			continue
		}
		if err != nil {
			res.Errors++
			metrics.MergeMigrations.WithLabelValues(ev.EntityType, "error").Inc()
			log.Warn("link migration failed",
				logger.ID(link.ID),
				logger.String("owner", link.Owner()),
				logger.Err(err),
			)
			continue
		}
		metrics.MergeMigrations.WithLabelValues(ev.EntityType, outcome).Inc()
	}

	log.Info("merge migration done",
		logger.Int("migrated", res.Migrated),
		logger.Int("skipped", res.Skipped),
		logger.Int("conflicts", res.Conflicts),
		logger.Int("errors", res.Errors),
	)
	return res, nil
}

func (m *Migrator) migrateOne(
	ctx context.Context,
	link repository.EntityLink,
	ev repository.MergeEvent,
	strategy Strategy,
	res *Result,
) (string, error) {
	existing, err := m.links.FindForOwner(ctx, link.LinkableType, link.LinkableID, ev.EntityType, ev.SurvivingID)
	if repository.IsNotFound(err) {
		// Sin conflicto: reescribir el target con procedencia.
		link.EntityID = ev.SurvivingID
		link.MigratedFrom = ev.MergedID
		if err := m.links.Update(ctx, link); err != nil {
			return "", err
		}
		res.Migrated++
		return "migrated", nil
	}
	if err != nil {
		return "", err
	}

	// El owner ya estaba linkeado al sobreviviente: conflicto.
	res.Conflicts++
	switch strategy {
	case StrategyKeepSurviving:
		if err := m.links.Delete(ctx, link.ID); err != nil {
			return "", err
		}
		res.Skipped++
		return "skipped", nil

	case StrategyKeepMerged:
		link.EntityID = ev.SurvivingID
		link.MigratedFrom = ev.MergedID
		if err := m.links.Update(ctx, link); err != nil {
			return "", err
		}
		if err := m.links.Delete(ctx, existing.ID); err != nil {
			return "", err
		}
		res.Migrated++
		return "migrated", nil

	default: // StrategyKeepBoth
		link.EntityID = ev.SurvivingID
		link.MigratedFrom = ev.MergedID
		link.IsPrimary = false
		if err := m.links.Update(ctx, link); err != nil {
			return "", err
		}
		res.Migrated++
		return "migrated", nil
	}
}
