package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/starforge-io/starforge/internal/journal"
)

type (
	// Stage is one unit of pipeline work. Run reads its input layer from the
	// warehouse, transforms it, and overwrites its destination.
	Stage interface {
		// Name is the stage's journal name.
		Name() string
		// Destination is the output table the stage overwrites.
		Destination() string
		Run(ctx context.Context) (StageResult, error)
	}

	// StageResult is the outcome of a successful stage run.
	StageResult struct {
		// RowCount is the number of rows written to the destination.
		RowCount int64
		// Note summarizes drops or rejections. Empty on a clean run.
		Note string
	}

	// Runner executes stages, timing each one and appending exactly one
	// journal entry per attempted stage. The journal sink is injected, never
	// ambient: tests run against a memory sink.
	Runner struct {
		runID   uuid.UUID
		dataset string
		sink    journal.Sink
		logger  *slog.Logger
		now     func() time.Time
	}
)

// NewRunner creates a Runner for one pipeline run. All stages executed by
// this Runner share the run ID.
func NewRunner(dataset string, sink journal.Sink, logger *slog.Logger) *Runner {
	return &Runner{
		runID:   uuid.New(),
		dataset: dataset,
		sink:    sink,
		logger:  logger,
		now:     time.Now,
	}
}

// RunID returns the run identifier shared by this Runner's journal entries.
func (r *Runner) RunID() uuid.UUID {
	return r.runID
}

// Execute runs one stage and journals the attempt.
//
// A disabled stage is skipped outright: no I/O, no journal entry. An enabled
// stage always produces exactly one journal entry, success or failure; a
// failed stage records the sentinel row count with the error as the note, and
// the error is propagated after journaling. Journal append failures are
// surfaced too: a run whose audit trail could not be written is not a clean
// run.
func (r *Runner) Execute(ctx context.Context, stage Stage, enabled bool) error {
	if !enabled {
		r.logger.Info("Stage disabled, skipping",
			slog.String("stage", stage.Name()))

		return nil
	}

	r.logger.Info("Stage starting",
		slog.String("stage", stage.Name()),
		slog.String("destination", stage.Destination()))

	start := r.now().UTC()
	result, runErr := stage.Run(ctx)
	end := r.now().UTC()

	entry := journal.NewEntry(r.runID, r.dataset, stage.Name(),
		start, end, stage.Destination(), result.RowCount)
	entry.Note = result.Note

	if runErr != nil {
		entry.RowCount = journal.FailedRowCount
		entry.Note = runErr.Error()

		r.logger.Error("Stage failed",
			slog.String("stage", stage.Name()),
			slog.String("error", runErr.Error()))
	} else {
		r.logger.Info("Stage completed",
			slog.String("stage", stage.Name()),
			slog.Int64("row_count", result.RowCount),
			slog.Float64("duration_minutes", entry.RunDurationMinutes))
	}

	if err := r.sink.Record(ctx, entry); err != nil {
		recordErr := fmt.Errorf("failed to journal stage %s: %w", stage.Name(), err)

		if runErr != nil {
			return errors.Join(runErr, recordErr)
		}

		return recordErr
	}

	if runErr != nil {
		return fmt.Errorf("stage %s: %w", stage.Name(), runErr)
	}

	return nil
}

// Pipeline runs a fixed sequence of stages in forward order, stopping at the
// first fatal stage error. Stages never run out of order; a stage only ever
// consumes the output of the stages before it.
type Pipeline struct {
	runner  *Runner
	toggles StageToggles
	stages  []Stage
}

// NewPipeline creates a Pipeline over the given stages in execution order.
func NewPipeline(runner *Runner, toggles StageToggles, stages ...Stage) *Pipeline {
	return &Pipeline{
		runner:  runner,
		toggles: toggles,
		stages:  stages,
	}
}

// Run executes every enabled stage in order.
func (p *Pipeline) Run(ctx context.Context) error {
	for _, stage := range p.stages {
		if err := p.runner.Execute(ctx, stage, p.toggles.Enabled(stage.Name())); err != nil {
			return err
		}
	}

	return nil
}
