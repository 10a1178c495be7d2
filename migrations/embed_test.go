package main

import (
	"sort"
	"strings"
	"testing"
	"testing/fstest"
)

func TestEmbeddedMigrationSetIsValid(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	source := NewMigrationSource(nil)

	if err := source.Validate(); err != nil {
		t.Fatalf("embedded migrations should be valid: %v", err)
	}

	files, err := source.Files()
	if err != nil {
		t.Fatalf("failed to list embedded migrations: %v", err)
	}

	if len(files) == 0 {
		t.Fatal("expected embedded migration files")
	}

	// The warehouse schema starts with the execution log.
	if files[0] != "001_create_pipeline_run_log.down.sql" {
		t.Errorf("unexpected first migration file: %s", files[0])
	}

	if !sort.StringsAreSorted(files) {
		t.Error("migration files should be listed in lexicographic order")
	}
}

func TestMigrationSourceMaxVersion(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	testFS := fstest.MapFS{
		"001_first.up.sql":    &fstest.MapFile{Data: []byte("CREATE TABLE first (id INTEGER);")},
		"001_first.down.sql":  &fstest.MapFile{Data: []byte("DROP TABLE first;")},
		"002_second.up.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE second (id INTEGER);")},
		"002_second.down.sql": &fstest.MapFile{Data: []byte("DROP TABLE second;")},
	}

	source := NewMigrationSource(testFS)

	if got := source.MaxVersion(); got != 2 {
		t.Errorf("MaxVersion() = %d, want 2", got)
	}
}

func TestMigrationSourceFilenameValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		filename string
	}{
		{"missing sequence", "migration.sql"},
		{"missing direction", "001.sql"},
		{"invalid direction", "001_test.invalid.sql"},
		{"non-numeric prefix", "invalid_migration.up.sql"},
		{"wrong case direction", "001_migration.UP.sql"},
		{"two digit sequence", "01_migration.up.sql"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			testFS := fstest.MapFS{
				tt.filename: &fstest.MapFile{Data: []byte("-- invalid name")},
			}

			source := NewMigrationSource(testFS)

			err := source.Validate()
			if err == nil {
				t.Fatalf("Validate() should reject filename %s", tt.filename)
			}

			if !strings.Contains(err.Error(), "invalid migration filename") {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestMigrationSourcePairingValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	unpairedFS := fstest.MapFS{
		"001_initial.up.sql": &fstest.MapFile{Data: []byte("CREATE TABLE users (id INTEGER);")},
		// 001_initial.down.sql is deliberately missing
		"002_posts.up.sql":    &fstest.MapFile{Data: []byte("CREATE TABLE posts (id INTEGER);")},
		"002_posts.down.sql":  &fstest.MapFile{Data: []byte("DROP TABLE posts;")},
		"003_orphan.down.sql": &fstest.MapFile{Data: []byte("DROP TABLE orphan;")},
	}

	source := NewMigrationSource(unpairedFS)

	err := source.Validate()
	if err == nil {
		t.Fatal("Validate() should reject unpaired migrations")
	}

	if !strings.Contains(err.Error(), "orphaned") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMigrationSourceSequenceValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Run("gap in sequence", func(t *testing.T) {
		gappedFS := fstest.MapFS{
			"001_first.up.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE first (id INTEGER);")},
			"001_first.down.sql": &fstest.MapFile{Data: []byte("DROP TABLE first;")},
			"003_third.up.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE third (id INTEGER);")},
			"003_third.down.sql": &fstest.MapFile{Data: []byte("DROP TABLE third;")},
		}

		err := NewMigrationSource(gappedFS).Validate()
		if err == nil {
			t.Fatal("Validate() should reject gapped sequences")
		}

		if !strings.Contains(err.Error(), "gap in migration sequence") {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("sequence not starting at one", func(t *testing.T) {
		offsetFS := fstest.MapFS{
			"002_second.up.sql":   &fstest.MapFile{Data: []byte("CREATE TABLE second (id INTEGER);")},
			"002_second.down.sql": &fstest.MapFile{Data: []byte("DROP TABLE second;")},
		}

		err := NewMigrationSource(offsetFS).Validate()
		if err == nil {
			t.Fatal("Validate() should reject sequences not starting at 001")
		}

		if !strings.Contains(err.Error(), "should start with 001") {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

func TestMigrationSourceEmpty(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	err := NewMigrationSource(fstest.MapFS{}).Validate()
	if err == nil {
		t.Fatal("Validate() should reject an empty migration set")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	m, err := parseMigrationFilename("003_create_star_schema.up.sql")
	if err != nil {
		t.Fatalf("parseMigrationFilename() error: %v", err)
	}

	if m.Sequence != 3 {
		t.Errorf("Sequence = %d, want 3", m.Sequence)
	}

	if m.Name != "create_star_schema" {
		t.Errorf("Name = %q, want %q", m.Name, "create_star_schema")
	}

	if m.Direction != "up" {
		t.Errorf("Direction = %q, want %q", m.Direction, "up")
	}
}
