package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starforge-io/starforge/internal/materialize"
)

// Sentinel errors for view storage operations.
var (
	// ErrViewWriteFailed is returned when a view overwrite fails.
	ErrViewWriteFailed = errors.New("view write failed")

	// ErrViewNotFound is returned when a named view has never been
	// materialized. A view that materialized to zero rows is found, empty.
	ErrViewNotFound = errors.New("view not found")
)

// ViewStore persists materialized view contents.
//
// Each view's stored representation is fully overwritten per materialization
// run. Row order is preserved via an explicit position column: the stored
// view reproduces the materializer's deterministic ordering exactly.
type ViewStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewViewStore creates a ViewStore on an existing connection.
func NewViewStore(conn *Connection, logger *slog.Logger) (*ViewStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &ViewStore{conn: conn, logger: logger}, nil
}

// ReplaceView overwrites the stored rows of one view in a single transaction.
func (s *ViewStore) ReplaceView(ctx context.Context, result *materialize.ViewResult) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Register the view before writing rows: a zero-row materialization
	// still marks the view as present.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO view_catalog (view_name, refreshed_at)
		VALUES ($1, NOW())
		ON CONFLICT (view_name) DO UPDATE SET refreshed_at = NOW()`,
		result.Name,
	); err != nil {
		return fmt.Errorf("%w: failed to register view %q: %w", ErrViewWriteFailed, result.Name, err)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM view_rows WHERE view_name = $1", result.Name,
	); err != nil {
		return fmt.Errorf("%w: failed to clear view %q: %w", ErrViewWriteFailed, result.Name, err)
	}

	for position, row := range result.Rows {
		group, err := json.Marshal(row.Group)
		if err != nil {
			return fmt.Errorf("%w: failed to encode group for view %q: %w",
				ErrViewWriteFailed, result.Name, err)
		}

		values, err := json.Marshal(row.Values)
		if err != nil {
			return fmt.Errorf("%w: failed to encode values for view %q: %w",
				ErrViewWriteFailed, result.Name, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO view_rows (view_name, position, group_values, measure_values)
			VALUES ($1, $2, $3, $4)`,
			result.Name, position, group, values,
		); err != nil {
			return fmt.Errorf("%w: failed to insert row for view %q: %w",
				ErrViewWriteFailed, result.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit view %q: %w", ErrViewWriteFailed, result.Name, err)
	}

	s.logger.Debug("Replaced materialized view",
		slog.String("view", result.Name),
		slog.Int("rows", len(result.Rows)))

	return nil
}

// LoadView reads one view's stored rows in materialized order.
func (s *ViewStore) LoadView(ctx context.Context, name string) (materialize.ViewResult, error) {
	result := materialize.ViewResult{Name: name}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT group_values, measure_values
		FROM view_rows
		WHERE view_name = $1
		ORDER BY position`, name)
	if err != nil {
		return result, fmt.Errorf("failed to load view %q: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var group, values []byte

		if err := rows.Scan(&group, &values); err != nil {
			return result, fmt.Errorf("failed to scan view %q row: %w", name, err)
		}

		var row materialize.ViewRow

		if err := json.Unmarshal(group, &row.Group); err != nil {
			return result, fmt.Errorf("failed to decode group for view %q: %w", name, err)
		}

		if err := json.Unmarshal(values, &row.Values); err != nil {
			return result, fmt.Errorf("failed to decode values for view %q: %w", name, err)
		}

		result.Rows = append(result.Rows, row)
	}

	if err := rows.Err(); err != nil {
		return result, fmt.Errorf("failed to read view %q: %w", name, err)
	}

	if len(result.Rows) == 0 {
		var registered bool

		if err := s.conn.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM view_catalog WHERE view_name = $1)", name,
		).Scan(&registered); err != nil {
			return result, fmt.Errorf("failed to check view %q: %w", name, err)
		}

		if !registered {
			return result, fmt.Errorf("%w: %q", ErrViewNotFound, name)
		}
	}

	return result, nil
}

// ListViews returns the names of all materialized views, sorted. Views that
// materialized to zero rows are included.
func (s *ViewStore) ListViews(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT view_name FROM view_catalog ORDER BY view_name")
	if err != nil {
		return nil, fmt.Errorf("failed to list views: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string

	for rows.Next() {
		var name string

		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan view name: %w", err)
		}

		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read view names: %w", err)
	}

	return names, nil
}
