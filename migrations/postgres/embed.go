// Package migrations embebe el schema de postgres y lo aplica al arranque.
package migrations

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sql/*.sql
var FS embed.FS

// Dir es el directorio dentro de FS donde viven las migraciones.
const Dir = "sql"

// Files lista las migraciones embebidas en orden ascendente de aplicación.
func Files() ([]string, error) {
	entries, err := fs.ReadDir(FS, Dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

// Apply ejecuta todas las migraciones contra el pool dado. Los archivos son
// idempotentes (IF NOT EXISTS), así que correrlas en cada arranque es seguro.
func Apply(ctx context.Context, pool *pgxpool.Pool) error {
	files, err := Files()
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	for _, name := range files {
		sql, err := fs.ReadFile(FS, Dir+"/"+name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("exec %s: %w", name, err)
		}
	}
	return nil
}
