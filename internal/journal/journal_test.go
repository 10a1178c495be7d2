package journal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(t *testing.T) Entry {
	t.Helper()

	start, err := time.Parse(time.RFC3339, "2024-03-01T06:00:00Z")
	require.NoError(t, err)

	return NewEntry(uuid.New(), "superstore_sales", "clean",
		start, start.Add(90*time.Second), "clean_orders", 9800)
}

func TestNewEntryDerivesDuration(t *testing.T) {
	entry := sampleEntry(t)

	assert.InDelta(t, 1.5, entry.RunDurationMinutes, 0.0001)
	assert.Equal(t, int64(9800), entry.RowCount)
	assert.Empty(t, entry.Note)
}

func TestEntryJSONSchema(t *testing.T) {
	// The wire field names are a stable contract for external monitoring.
	entry := sampleEntry(t)
	entry.Note = "dropped: unparseable=3 null_key=1 duplicate=12"

	payload, err := json.Marshal(entry)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))

	for _, name := range []string{
		"run_id", "dataset", "stage", "start_timestamp", "end_timestamp",
		"run_duration_minutes", "destination", "row_count", "note",
	} {
		assert.Contains(t, fields, name)
	}

	assert.Equal(t, "clean", fields["stage"])
	assert.InDelta(t, 9800.0, fields["row_count"], 0.001)
}

func TestEntryJSONOmitsEmptyNote(t *testing.T) {
	payload, err := json.Marshal(sampleEntry(t))
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(payload, &fields))

	assert.NotContains(t, fields, "note")
}

func TestMemorySinkAppendOnly(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	first := sampleEntry(t)
	second := sampleEntry(t)
	second.Stage = "enrich"

	require.NoError(t, sink.Record(ctx, first))
	require.NoError(t, sink.Record(ctx, second))

	entries := sink.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "clean", entries[0].Stage)
	assert.Equal(t, "enrich", entries[1].Stage)

	// Mutating the returned slice must not affect the sink.
	entries[0].Stage = "mutated"
	assert.Equal(t, "clean", sink.Entries()[0].Stage)
}

func TestMemorySinkConcurrentRecords(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	const writers = 8

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = sink.Record(ctx, sampleEntry(t))
		}()
	}

	wg.Wait()

	assert.Len(t, sink.Entries(), writers)
}

type failingSink struct {
	err error
}

func (s *failingSink) Record(_ context.Context, _ Entry) error {
	return s.err
}

func TestMultiSinkFansOut(t *testing.T) {
	primary := NewMemorySink()
	secondary := NewMemorySink()
	multi := NewMultiSink(primary, secondary)

	require.NoError(t, multi.Record(context.Background(), sampleEntry(t)))

	assert.Len(t, primary.Entries(), 1)
	assert.Len(t, secondary.Entries(), 1)
}

func TestMultiSinkRecordsToAllSinksDespiteFailure(t *testing.T) {
	sinkErr := errors.New("broker unavailable")
	primary := NewMemorySink()
	multi := NewMultiSink(&failingSink{err: sinkErr}, primary)

	err := multi.Record(context.Background(), sampleEntry(t))

	assert.ErrorIs(t, err, sinkErr)
	assert.Len(t, primary.Entries(), 1, "primary sink must still receive the entry")
}

func TestLoadKafkaConfig(t *testing.T) {
	tests := []struct {
		name        string
		brokers     string
		topic       string
		wantEnabled bool
		wantBrokers []string
		wantTopic   string
	}{
		{
			name:        "unset brokers disables sink",
			brokers:     "",
			wantEnabled: false,
		},
		{
			name:        "single broker with default topic",
			brokers:     "localhost:9092",
			wantEnabled: true,
			wantBrokers: []string{"localhost:9092"},
			wantTopic:   DefaultKafkaTopic,
		},
		{
			name:        "multiple brokers with custom topic",
			brokers:     "kafka-1:9092, kafka-2:9092",
			topic:       "etl.audit",
			wantEnabled: true,
			wantBrokers: []string{"kafka-1:9092", "kafka-2:9092"},
			wantTopic:   "etl.audit",
		},
		{
			name:        "whitespace-only brokers disables sink",
			brokers:     " , ",
			wantEnabled: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(KafkaBrokersEnvVar, tt.brokers)
			t.Setenv(KafkaTopicEnvVar, tt.topic)

			cfg, enabled := LoadKafkaConfig()

			assert.Equal(t, tt.wantEnabled, enabled)

			if tt.wantEnabled {
				assert.Equal(t, tt.wantBrokers, cfg.Brokers)
				assert.Equal(t, tt.wantTopic, cfg.Topic)
			}
		})
	}
}
