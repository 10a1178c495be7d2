package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starforge-io/starforge/internal/journal"
)

// ErrJournalWriteFailed is returned when appending an execution log entry fails.
var ErrJournalWriteFailed = errors.New("journal write failed")

// defaultRunListLimit caps the read path when no limit is given.
const defaultRunListLimit = 100

// Compile-time check that JournalStore implements journal.Sink.
var _ journal.Sink = (*JournalStore)(nil)

// JournalStore is the PostgreSQL journal sink: the primary, durable copy of
// the execution log. The table is append-only; this store exposes no update
// or delete path.
type JournalStore struct {
	conn *Connection
}

// NewJournalStore creates a JournalStore on an existing connection.
func NewJournalStore(conn *Connection) (*JournalStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &JournalStore{conn: conn}, nil
}

// Record appends one execution log entry.
func (s *JournalStore) Record(ctx context.Context, entry journal.Entry) error {
	if _, err := s.conn.ExecContext(ctx, `
		INSERT INTO pipeline_run_log
			(run_id, dataset, stage, start_timestamp, end_timestamp,
			 run_duration_minutes, destination, row_count, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))`,
		entry.RunID, entry.Dataset, entry.Stage, entry.StartTimestamp,
		entry.EndTimestamp, entry.RunDurationMinutes, entry.Destination,
		entry.RowCount, entry.Note,
	); err != nil {
		return fmt.Errorf("%w: %w", ErrJournalWriteFailed, err)
	}

	return nil
}

// ListRuns returns the most recent execution log entries, newest first.
// A non-positive limit falls back to the default.
func (s *JournalStore) ListRuns(ctx context.Context, limit int) ([]journal.Entry, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT run_id, dataset, stage, start_timestamp, end_timestamp,
		       run_duration_minutes, destination, row_count, note
		FROM pipeline_run_log
		ORDER BY start_timestamp DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []journal.Entry

	for rows.Next() {
		var (
			entry journal.Entry
			note  sql.NullString
		)

		if err := rows.Scan(
			&entry.RunID, &entry.Dataset, &entry.Stage, &entry.StartTimestamp,
			&entry.EndTimestamp, &entry.RunDurationMinutes, &entry.Destination,
			&entry.RowCount, &note,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run entry: %w", err)
		}

		entry.Note = note.String
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read run entries: %w", err)
	}

	return entries, nil
}
