// Package pg implementa los repositorios locales sobre PostgreSQL (pgx).
// Schema en migrations/postgres/.
package pg

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dropDatabas3/crmbridge/internal/domain/repository"
	migrations "github.com/dropDatabas3/crmbridge/migrations/postgres"
)

// Store envuelve el pool y expone las vistas de dominio.
type Store struct{ pool *pgxpool.Pool }

// New abre el pool y verifica la conexión.
func New(ctx context.Context, dsn string) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping failed: %w", err)
	}
	if err := migrations.Apply(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: migrations: %w", err)
	}
	return &Store{pool: pool}, nil
}

// mapPgErr traduce las violaciones de unicidad al error de dominio.
func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

// Pool expone el pool interno para usos avanzados (metrics/migraciones).
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Close cierra el pool subyacente (idempotente).
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Records expone la vista RecordStore.
func (s *Store) Records() repository.RecordStore { return recordsView{s} }

// Links expone la vista LinkRepository.
func (s *Store) Links() repository.LinkRepository { return linksView{s} }

// ───── RecordStore ─────

type recordsView struct{ s *Store }

func (v recordsView) Upsert(ctx context.Context, rec repository.Record) (repository.UpsertOutcome, error) {
	if rec.RemoteID == "" || rec.EntityType == "" {
		return "", repository.ErrInvalidInput
	}

	// xmax = 0 solo en tuplas insertadas: distingue created de updated sin
	// un segundo round-trip. El WHERE evita pisar con datos más viejos.
	const q = `
		INSERT INTO synced_records (entity_type, remote_id, updated_at, deleted_at, fields, synced_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (entity_type, remote_id) DO UPDATE
			SET updated_at = EXCLUDED.updated_at,
			    deleted_at = EXCLUDED.deleted_at,
			    fields     = EXCLUDED.fields,
			    synced_at  = now()
			WHERE EXCLUDED.updated_at > synced_records.updated_at
		RETURNING (xmax = 0) AS inserted`

	var inserted bool
	err := v.s.pool.QueryRow(ctx, q,
		rec.EntityType, rec.RemoteID, rec.UpdatedAt, rec.DeletedAt, rec.Fields,
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		// El WHERE filtró el update: el record entrante era más viejo.
		return repository.OutcomeSkipped, nil
	}
	if err != nil {
		return "", err
	}
	if inserted {
		return repository.OutcomeCreated, nil
	}
	return repository.OutcomeUpdated, nil
}

func (v recordsView) Delete(ctx context.Context, entityType, remoteID string) error {
	tag, err := v.s.pool.Exec(ctx,
		`DELETE FROM synced_records WHERE entity_type = $1 AND remote_id = $2`,
		entityType, remoteID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (v recordsView) Get(ctx context.Context, entityType, remoteID string) (repository.Record, error) {
	rec := repository.Record{EntityType: entityType, RemoteID: remoteID}
	err := v.s.pool.QueryRow(ctx,
		`SELECT updated_at, deleted_at, fields
		   FROM synced_records WHERE entity_type = $1 AND remote_id = $2`,
		entityType, remoteID,
	).Scan(&rec.UpdatedAt, &rec.DeletedAt, &rec.Fields)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.Record{}, repository.ErrNotFound
	}
	if err != nil {
		return repository.Record{}, err
	}
	return rec, nil
}

func (v recordsView) Ping(ctx context.Context) error {
	return v.s.pool.Ping(ctx)
}

// ───── LinkRepository ─────

type linksView struct{ s *Store }

const linkCols = `id, linkable_type, linkable_id, entity_type, entity_id,
	is_primary, sync_status, COALESCE(migrated_from, ''), updated_at`

func scanLink(row pgx.Row) (repository.EntityLink, error) {
	var l repository.EntityLink
	err := row.Scan(&l.ID, &l.LinkableType, &l.LinkableID, &l.EntityType,
		&l.EntityID, &l.IsPrimary, &l.SyncStatus, &l.MigratedFrom, &l.UpdatedAt)
	return l, err
}

func (v linksView) ListByEntity(ctx context.Context, entityType, entityID string) ([]repository.EntityLink, error) {
	rows, err := v.s.pool.Query(ctx,
		`SELECT `+linkCols+` FROM entity_links WHERE entity_type = $1 AND entity_id = $2`,
		entityType, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []repository.EntityLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (v linksView) FindForOwner(ctx context.Context, linkableType, linkableID, entityType, entityID string) (repository.EntityLink, error) {
	l, err := scanLink(v.s.pool.QueryRow(ctx,
		`SELECT `+linkCols+` FROM entity_links
		  WHERE linkable_type = $1 AND linkable_id = $2
		    AND entity_type = $3 AND entity_id = $4`,
		linkableType, linkableID, entityType, entityID))
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.EntityLink{}, repository.ErrNotFound
	}
	return l, err
}

func (v linksView) Update(ctx context.Context, link repository.EntityLink) error {
	tag, err := v.s.pool.Exec(ctx,
		`UPDATE entity_links
		    SET entity_id = $2, is_primary = $3, sync_status = $4,
		        migrated_from = NULLIF($5, ''), updated_at = now()
		  WHERE id = $1`,
		link.ID, link.EntityID, link.IsPrimary, link.SyncStatus, link.MigratedFrom)
	if err != nil {
		return mapPgErr(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (v linksView) Delete(ctx context.Context, id string) error {
	tag, err := v.s.pool.Exec(ctx, `DELETE FROM entity_links WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
