package main

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

type (
	// MigrationSource wraps a filesystem of migration files and validates
	// that the set is well formed before any state-changing operation runs.
	MigrationSource struct {
		fs fs.FS
	}

	// migrationFile is the parsed form of one migration filename.
	migrationFile struct {
		Sequence  int
		Name      string
		Direction string // "up" or "down"
		Filename  string
	}
)

//go:embed *.sql
var embeddedMigrations embed.FS

// Migration filenames follow 001_name.up.sql / 001_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// NewMigrationSource creates a MigrationSource over the given filesystem.
// Pass nil to use the migrations embedded in the binary.
func NewMigrationSource(filesystem fs.FS) *MigrationSource {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &MigrationSource{fs: filesystem}
}

// FS returns the underlying migration filesystem.
func (s *MigrationSource) FS() fs.FS {
	return s.fs
}

// Files lists the migration files that conform to the naming standard, in
// lexicographic order. Non-conforming files are ignored here; Validate
// rejects them.
func (s *MigrationSource) Files() ([]string, error) {
	entries, err := fs.ReadDir(s.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if migrationFilenameRegex.MatchString(entry.Name()) {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks the migration set: every .sql file must match the naming
// standard, every up migration must have a down counterpart, and sequence
// numbers must be contiguous starting at 001.
func (s *MigrationSource) Validate() error {
	entries, err := fs.ReadDir(s.fs, ".")
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrations []*migrationFile

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}

		m, err := parseMigrationFilename(entry.Name())
		if err != nil {
			return err
		}

		if _, err := fs.ReadFile(s.fs, entry.Name()); err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", entry.Name(), err)
		}

		migrations = append(migrations, m)
	}

	if len(migrations) == 0 {
		return fmt.Errorf("no migration files found")
	}

	if err := validatePairing(migrations); err != nil {
		return err
	}

	return validateSequence(migrations)
}

// MaxVersion returns the highest sequence number in the migration set, or
// zero when the set cannot be read.
func (s *MigrationSource) MaxVersion() int {
	files, err := s.Files()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, filename := range files {
		if m, err := parseMigrationFilename(filename); err == nil && m.Sequence > maxSequence {
			maxSequence = m.Sequence
		}
	}

	return maxSequence
}

func parseMigrationFilename(filename string) (*migrationFile, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename: %s (expected 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &migrationFile{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validatePairing ensures every up migration has a down counterpart and
// vice versa.
func validatePairing(migrations []*migrationFile) error {
	directions := make(map[string]map[string]bool)

	for _, m := range migrations {
		key := fmt.Sprintf("%03d_%s", m.Sequence, m.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][m.Direction] = true
	}

	for key, dirs := range directions {
		if !dirs["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !dirs["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures sequence numbers start at 001 with no gaps.
func validateSequence(migrations []*migrationFile) error {
	seen := make(map[int]bool)
	for _, m := range migrations {
		seen[m.Sequence] = true
	}

	sequences := make([]int, 0, len(seen))
	for seq := range seen {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf("gap in migration sequence: expected %03d, found %03d",
				sequences[i-1]+1, sequences[i])
		}
	}

	return nil
}
