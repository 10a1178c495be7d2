package main

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starforge-io/starforge/internal/materialize"
	"github.com/starforge-io/starforge/internal/modeling"
	"github.com/starforge-io/starforge/internal/pipeline"
)

func TestReadRawCSVNormalizesHeaders(t *testing.T) {
	input := strings.Join([]string{
		`Order ID,Order Date,Customer ID,Product ID,State,Sales,Quantity`,
		`O-1,2023-01-05,C-1,P-1,Texas,261.96,2`,
		`O-2,not-a-date,C-2,P-2,Ohio,10,1`,
	}, "\n")

	records, err := readRawCSV(strings.NewReader(input), 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, int64(1), records[0].Seq)
	assert.Equal(t, "O-1", records[0].OrderID)
	assert.Equal(t, "Texas", records[0].State)
	assert.Equal(t, "not-a-date", records[1].OrderDate, "values pass through untyped")
}

func TestReadRawCSVNumbersRowsAfterLastSeq(t *testing.T) {
	input := strings.Join([]string{
		`Order ID,Customer ID,Product ID`,
		`O-3,C-3,P-3`,
		`O-4,C-4,P-4`,
	}, "\n")

	// A repeat load continues numbering after the highest stored seq so the
	// append never collides with rows from earlier loads.
	records, err := readRawCSV(strings.NewReader(input), 42)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, int64(43), records[0].Seq)
	assert.Equal(t, int64(44), records[1].Seq)
}

func TestBuildStagesSkipsGeocoderWhenEnrichDisabled(t *testing.T) {
	// No GEOCODER_BASE_URL configured: a disabled enrich stage must not
	// require one.
	cfg := &pipeline.Config{
		Stages: pipeline.StageToggles{
			Clean:       true,
			Enrich:      false,
			Model:       true,
			Materialize: true,
		},
		RejectionThreshold: modeling.DefaultRejectionThreshold,
	}

	stages, err := buildStages(cfg, slog.New(slog.DiscardHandler), nil, nil, nil, materialize.DefaultViews())
	require.NoError(t, err)
	require.Len(t, stages, 3)

	for _, stage := range stages {
		assert.NotEqual(t, pipeline.StageEnrich, stage.Name())
	}
}

func TestBuildStagesRequiresGeocoderWhenEnrichEnabled(t *testing.T) {
	cfg := &pipeline.Config{
		Stages: pipeline.StageToggles{
			Clean:       true,
			Enrich:      true,
			Model:       true,
			Materialize: true,
		},
		RejectionThreshold: modeling.DefaultRejectionThreshold,
	}

	t.Run("missing base url", func(t *testing.T) {
		t.Setenv("GEOCODER_BASE_URL", "")

		_, err := buildStages(cfg, slog.New(slog.DiscardHandler), nil, nil, nil, materialize.DefaultViews())
		require.Error(t, err)
	})

	t.Run("configured", func(t *testing.T) {
		t.Setenv("GEOCODER_BASE_URL", "http://localhost:8089")

		stages, err := buildStages(cfg, slog.New(slog.DiscardHandler), nil, nil, nil, materialize.DefaultViews())
		require.NoError(t, err)
		require.Len(t, stages, 4)
		assert.Equal(t, pipeline.StageEnrich, stages[1].Name())
	})
}
