// Package pipeline orchestrates the sales ETL stages: cleaning, geo
// enrichment, dimensional modeling and view materialization, in strict
// forward order, with every attempted stage journaled.
package pipeline

import (
	"github.com/starforge-io/starforge/internal/config"
	"github.com/starforge-io/starforge/internal/modeling"
)

// Stage names, used in the journal and in log output.
const (
	StageClean       = "clean"
	StageEnrich      = "enrich"
	StageModel       = "model"
	StageMaterialize = "materialize"
)

// defaultDataset is the dataset name journaled when none is configured.
const defaultDataset = "superstore_sales"

type (
	// StageToggles holds one enable flag per stage. A disabled stage is
	// skipped entirely: no I/O, no journal entry.
	StageToggles struct {
		Clean       bool
		Enrich      bool
		Model       bool
		Materialize bool
	}

	// Config holds pipeline-level settings, loaded once at process start and
	// never mutated mid-run.
	Config struct {
		// Dataset is the logical dataset name recorded in every journal entry.
		Dataset string
		Stages  StageToggles

		// RejectionThreshold is the fact rejection rate above which the
		// modeling stage aborts.
		RejectionThreshold float64
	}
)

// LoadConfig reads pipeline configuration from environment variables. Every
// stage defaults to enabled.
func LoadConfig() *Config {
	return &Config{
		Dataset:            config.GetEnvStr("DATASET_NAME", defaultDataset),
		RejectionThreshold: config.GetEnvFloat("FACT_REJECTION_THRESHOLD", modeling.DefaultRejectionThreshold),
		Stages: StageToggles{
			Clean:       config.GetEnvBool("STAGE_CLEAN_ENABLED", true),
			Enrich:      config.GetEnvBool("STAGE_ENRICH_ENABLED", true),
			Model:       config.GetEnvBool("STAGE_MODEL_ENABLED", true),
			Materialize: config.GetEnvBool("STAGE_MATERIALIZE_ENABLED", true),
		},
	}
}

// Enabled reports whether the named stage is switched on.
func (t StageToggles) Enabled(stage string) bool {
	switch stage {
	case StageClean:
		return t.Clean
	case StageEnrich:
		return t.Enrich
	case StageModel:
		return t.Model
	case StageMaterialize:
		return t.Materialize
	default:
		return false
	}
}
