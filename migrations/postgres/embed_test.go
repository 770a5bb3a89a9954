package migrations

import (
	"io/fs"
	"sort"
	"strings"
	"testing"
)

func TestFiles_SortedSQL(t *testing.T) {
	files, err := Files()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no hay migraciones embebidas")
	}
	if !sort.StringsAreSorted(files) {
		t.Fatalf("las migraciones deben aplicarse en orden ascendente: %v", files)
	}
	for _, name := range files {
		if !strings.HasSuffix(name, ".sql") {
			t.Fatalf("archivo inesperado embebido: %s", name)
		}
	}
}

func TestFS_ContainsSchema(t *testing.T) {
	b, err := fs.ReadFile(FS, Dir+"/0001_init.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	schema := string(b)
	for _, want := range []string{"synced_records", "entity_links", "migrated_from IS NULL"} {
		if !strings.Contains(schema, want) {
			t.Fatalf("el schema no menciona %q", want)
		}
	}
}
