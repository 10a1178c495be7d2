// Package journal provides the append-only pipeline execution log.
//
// Every attempted stage run, successful or failed, appends exactly one entry
// to the journal. Entries are never updated or deleted: the journal is the
// authoritative audit trail for row counts and data-quality drops, and its
// schema is a stable contract consumed by external monitoring tooling.
package journal

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FailedRowCount is the sentinel row count recorded for a stage that was
// attempted but failed. It is distinct from zero, which means the stage ran
// and produced no rows.
const FailedRowCount = -1

// Entry is one record of the execution log.
//
// Field names and types are a stable external contract; new fields may be
// added but existing ones are never removed or retyped.
type Entry struct {
	RunID              uuid.UUID `json:"run_id"`
	Dataset            string    `json:"dataset"`
	Stage              string    `json:"stage"`
	StartTimestamp     time.Time `json:"start_timestamp"`
	EndTimestamp       time.Time `json:"end_timestamp"`
	RunDurationMinutes float64   `json:"run_duration_minutes"`
	Destination        string    `json:"destination"`
	RowCount           int64     `json:"row_count"`
	// Note carries failure details or drop-count summaries. Empty on a clean
	// run.
	Note string `json:"note,omitempty"`
}

// NewEntry builds an Entry with the duration derived from the timestamps.
func NewEntry(runID uuid.UUID, dataset, stage string, start, end time.Time, destination string, rowCount int64) Entry {
	return Entry{
		RunID:              runID,
		Dataset:            dataset,
		Stage:              stage,
		StartTimestamp:     start,
		EndTimestamp:       end,
		RunDurationMinutes: end.Sub(start).Minutes(),
		Destination:        destination,
		RowCount:           rowCount,
	}
}

// Sink appends execution log entries. Implementations must be append-only:
// recording an entry never mutates or removes prior entries.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}
