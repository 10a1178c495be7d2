package pipeline

import (
	"context"
	"fmt"

	"github.com/starforge-io/starforge/internal/cleaning"
	"github.com/starforge-io/starforge/internal/dataset"
	"github.com/starforge-io/starforge/internal/enrichment"
	"github.com/starforge-io/starforge/internal/materialize"
	"github.com/starforge-io/starforge/internal/modeling"
)

// Narrow store interfaces per stage, implemented by the warehouse stores.
// Each stage sees only the layers it reads and the one it overwrites.
type (
	// CleanStore is the storage surface of the cleaning stage.
	CleanStore interface {
		LoadRaw(ctx context.Context) ([]dataset.RawRecord, error)
		ReplaceCleaned(ctx context.Context, records []dataset.CleanedRecord) error
	}

	// EnrichStore is the storage surface of the enrichment stage.
	EnrichStore interface {
		LoadCleaned(ctx context.Context) ([]dataset.CleanedRecord, error)
		ReplaceEnriched(ctx context.Context, records []dataset.EnrichedRecord) error
	}

	// EnrichedReader reads the enriched layer.
	EnrichedReader interface {
		LoadEnriched(ctx context.Context) ([]dataset.EnrichedRecord, error)
	}

	// StarWriter is the storage surface of the modeling stage's output.
	StarWriter interface {
		LoadKnownKeys(ctx context.Context) (modeling.KnownKeys, error)
		ApplyDelta(ctx context.Context, delta *modeling.StarDelta) error
	}

	// SnapshotReader loads one consistent fact-dimension snapshot.
	SnapshotReader interface {
		LoadSnapshot(ctx context.Context) ([]materialize.Row, error)
	}

	// ViewWriter overwrites stored view contents.
	ViewWriter interface {
		ReplaceView(ctx context.Context, result *materialize.ViewResult) error
	}
)

// CleanStage types, deduplicates and persists the cleaned order layer.
type CleanStage struct {
	store   CleanStore
	cleaner *cleaning.Cleaner
}

// NewCleanStage creates the cleaning stage.
func NewCleanStage(store CleanStore, cleaner *cleaning.Cleaner) *CleanStage {
	return &CleanStage{store: store, cleaner: cleaner}
}

// Name implements Stage.
func (s *CleanStage) Name() string { return StageClean }

// Destination implements Stage.
func (s *CleanStage) Destination() string { return "clean_orders" }

// Run implements Stage.
func (s *CleanStage) Run(ctx context.Context) (StageResult, error) {
	raw, err := s.store.LoadRaw(ctx)
	if err != nil {
		return StageResult{}, err
	}

	result := s.cleaner.Clean(raw)

	if err := s.store.ReplaceCleaned(ctx, result.Records); err != nil {
		return StageResult{}, err
	}

	stageResult := StageResult{RowCount: int64(len(result.Records))}

	if result.Drops.Total() > 0 {
		stageResult.Note = fmt.Sprintf("dropped: unparseable=%d null_key=%d duplicate=%d",
			result.Drops.Unparseable, result.Drops.NullKey, result.Drops.Duplicate)
	}

	return stageResult, nil
}

// EnrichStage joins geo coordinates onto the cleaned layer.
type EnrichStage struct {
	store    EnrichStore
	enricher *enrichment.Enricher
}

// NewEnrichStage creates the enrichment stage.
func NewEnrichStage(store EnrichStore, enricher *enrichment.Enricher) *EnrichStage {
	return &EnrichStage{store: store, enricher: enricher}
}

// Name implements Stage.
func (s *EnrichStage) Name() string { return StageEnrich }

// Destination implements Stage.
func (s *EnrichStage) Destination() string { return "enriched_orders" }

// Run implements Stage.
func (s *EnrichStage) Run(ctx context.Context) (StageResult, error) {
	cleaned, err := s.store.LoadCleaned(ctx)
	if err != nil {
		return StageResult{}, err
	}

	result, err := s.enricher.Enrich(ctx, cleaned)
	if err != nil {
		return StageResult{}, err
	}

	if err := s.store.ReplaceEnriched(ctx, result.Records); err != nil {
		return StageResult{}, err
	}

	stageResult := StageResult{RowCount: int64(len(result.Records))}

	if result.Failures > 0 {
		stageResult.Note = fmt.Sprintf("geo lookup failed for %d states", result.Failures)
	}

	return stageResult, nil
}

// ModelStage derives the star schema delta and persists it.
type ModelStage struct {
	orders  EnrichedReader
	star    StarWriter
	modeler *modeling.Modeler
}

// NewModelStage creates the modeling stage.
func NewModelStage(orders EnrichedReader, star StarWriter, modeler *modeling.Modeler) *ModelStage {
	return &ModelStage{orders: orders, star: star, modeler: modeler}
}

// Name implements Stage.
func (s *ModelStage) Name() string { return StageModel }

// Destination implements Stage.
func (s *ModelStage) Destination() string { return "fact_sales" }

// Run implements Stage.
//
// An over-threshold rejection rate aborts the stage before anything is
// persisted: a systemically broken batch must not overwrite good fact
// partitions. Below the threshold, rejections are persisted-around and
// surfaced in the journal note.
func (s *ModelStage) Run(ctx context.Context) (StageResult, error) {
	enriched, err := s.orders.LoadEnriched(ctx)
	if err != nil {
		return StageResult{}, err
	}

	known, err := s.star.LoadKnownKeys(ctx)
	if err != nil {
		return StageResult{}, err
	}

	delta, err := s.modeler.Build(enriched, known)
	if err != nil {
		return StageResult{}, err
	}

	if err := s.star.ApplyDelta(ctx, &delta); err != nil {
		return StageResult{}, err
	}

	stageResult := StageResult{RowCount: int64(len(delta.Facts))}

	if delta.Rejected > 0 {
		stageResult.Note = fmt.Sprintf("rejected %d rows with unresolvable dimension keys", delta.Rejected)
	}

	return stageResult, nil
}

// MaterializeStage recomputes every declared view from one snapshot.
type MaterializeStage struct {
	star         SnapshotReader
	views        ViewWriter
	materializer *materialize.Materializer
	definitions  []materialize.ViewDefinition
}

// NewMaterializeStage creates the materialization stage.
func NewMaterializeStage(
	star SnapshotReader,
	views ViewWriter,
	materializer *materialize.Materializer,
	definitions []materialize.ViewDefinition,
) *MaterializeStage {
	return &MaterializeStage{
		star:         star,
		views:        views,
		materializer: materializer,
		definitions:  definitions,
	}
}

// Name implements Stage.
func (s *MaterializeStage) Name() string { return StageMaterialize }

// Destination implements Stage.
func (s *MaterializeStage) Destination() string { return "view_rows" }

// Run implements Stage.
func (s *MaterializeStage) Run(ctx context.Context) (StageResult, error) {
	snapshot, err := s.star.LoadSnapshot(ctx)
	if err != nil {
		return StageResult{}, err
	}

	results, err := s.materializer.Materialize(snapshot, s.definitions)
	if err != nil {
		return StageResult{}, err
	}

	var rows int64

	for i := range results {
		if err := s.views.ReplaceView(ctx, &results[i]); err != nil {
			return StageResult{}, err
		}

		rows += int64(len(results[i].Rows))
	}

	return StageResult{
		RowCount: rows,
		Note:     fmt.Sprintf("materialized %d views", len(results)),
	}, nil
}
