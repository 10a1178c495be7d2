package warehouse

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/starforge-io/starforge/internal/config"
	"github.com/starforge-io/starforge/internal/dataset"
	"github.com/starforge-io/starforge/internal/journal"
	"github.com/starforge-io/starforge/internal/materialize"
	"github.com/starforge-io/starforge/internal/modeling"
)

// setupWarehouse starts a migrated postgres container and returns a live
// Connection.
func setupWarehouse(ctx context.Context, t *testing.T) *Connection {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn, err := Connect(ctx, NewConfig(testDB.ConnStr))
	require.NoError(t, err, "Failed to connect to warehouse")

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func testDate(t *testing.T, value string) time.Time {
	t.Helper()

	d, err := time.Parse("2006-01-02", value)
	require.NoError(t, err)

	return d
}

func cleanedFixture(t *testing.T, seq int64, orderID, productID string, date string) dataset.CleanedRecord {
	t.Helper()

	return dataset.CleanedRecord{
		Seq:          seq,
		OrderID:      orderID,
		OrderDate:    testDate(t, date),
		ShipMode:     "Standard Class",
		CustomerID:   "C-1",
		CustomerName: "Aaron Hawkins",
		Segment:      "Consumer",
		Country:      "United States",
		City:         "Houston",
		State:        "Texas",
		PostalCode:   "77095",
		Region:       "Central",
		ProductID:    productID,
		Category:     "Furniture",
		SubCategory:  "Bookcases",
		ProductName:  "Somerset Bookcase",
		Sales:        261.96,
		Quantity:     2,
		Discount:     0.1,
		Profit:       41.91,
	}
}

func TestOrderStoreRawRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	store, err := NewOrderStore(conn, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	raw := []dataset.RawRecord{
		{Seq: 1, OrderID: "O-1", OrderDate: "2023-01-05", State: "Texas",
			CustomerID: "C-1", ProductID: "P-1", Sales: "261.96", Quantity: "2"},
		{Seq: 2, OrderID: "O-2", OrderDate: "not-a-date", State: "Ohio",
			CustomerID: "C-2", ProductID: "P-2", Sales: "10", Quantity: "1"},
	}

	require.NoError(t, store.InsertRaw(ctx, raw))

	got, err := store.LoadRaw(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, int64(1), got[0].Seq)
	assert.Equal(t, "O-1", got[0].OrderID)
	assert.Equal(t, "not-a-date", got[1].OrderDate, "raw layer stores values untyped")
}

func TestOrderStoreRawAppendsAcrossLoads(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	store, err := NewOrderStore(conn, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	lastSeq, err := store.MaxRawSeq(ctx)
	require.NoError(t, err)
	assert.Zero(t, lastSeq, "empty raw layer has no seq")

	first := []dataset.RawRecord{
		{Seq: 1, OrderID: "O-1", OrderDate: "2023-01-05", CustomerID: "C-1", ProductID: "P-1"},
		{Seq: 2, OrderID: "O-2", OrderDate: "2023-01-06", CustomerID: "C-2", ProductID: "P-2"},
	}
	require.NoError(t, store.InsertRaw(ctx, first))

	lastSeq, err = store.MaxRawSeq(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), lastSeq)

	// A second export appends after the highest stored seq instead of
	// restarting at 1 and colliding with the first load.
	second := []dataset.RawRecord{
		{Seq: lastSeq + 1, OrderID: "O-3", OrderDate: "2023-02-01", CustomerID: "C-3", ProductID: "P-3"},
		{Seq: lastSeq + 2, OrderID: "O-1", OrderDate: "2023-01-05", CustomerID: "C-1", ProductID: "P-1"},
	}
	require.NoError(t, store.InsertRaw(ctx, second))

	got, err := store.LoadRaw(ctx)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, int64(3), got[2].Seq)
	assert.Equal(t, "O-3", got[2].OrderID)
	assert.Equal(t, "O-1", got[3].OrderID, "repeated source rows append untouched; dedup is the cleaner's job")
}

func TestOrderStorePartitionOverwriteIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	store, err := NewOrderStore(conn, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	batch := []dataset.CleanedRecord{
		cleanedFixture(t, 1, "O-1", "P-1", "2023-01-05"),
		cleanedFixture(t, 2, "O-2", "P-1", "2023-01-20"),
		cleanedFixture(t, 3, "O-3", "P-2", "2023-02-03"),
	}

	require.NoError(t, store.ReplaceCleaned(ctx, batch))
	require.NoError(t, store.ReplaceCleaned(ctx, batch), "re-run against unchanged input")

	var count int
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM clean_orders").Scan(&count))
	assert.Equal(t, 3, count, "overwrite must not duplicate rows")

	// A partial re-run touching only January replaces that partition and
	// leaves February alone.
	require.NoError(t, store.ReplaceCleaned(ctx, []dataset.CleanedRecord{
		cleanedFixture(t, 1, "O-1", "P-1", "2023-01-05"),
	}))

	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM clean_orders WHERE month = 1").Scan(&count))
	assert.Equal(t, 1, count)

	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM clean_orders WHERE month = 2").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestOrderStoreEnrichedRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	store, err := NewOrderStore(conn, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	withCoords := dataset.EnrichedRecord{
		CleanedRecord: cleanedFixture(t, 1, "O-1", "P-1", "2023-01-05"),
		Coords:        &dataset.Coordinates{Latitude: 31.0545, Longitude: -97.5635},
	}
	withCoords.ShipDate = testDate(t, "2023-01-09")

	withoutCoords := dataset.EnrichedRecord{
		CleanedRecord: cleanedFixture(t, 2, "O-2", "P-2", "2023-01-06"),
	}

	require.NoError(t, store.ReplaceEnriched(ctx,
		[]dataset.EnrichedRecord{withCoords, withoutCoords}))

	got, err := store.LoadEnriched(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.NotNil(t, got[0].Coords)
	assert.InDelta(t, 31.0545, got[0].Coords.Latitude, 0.0001)
	assert.False(t, got[0].ShipDate.IsZero())

	assert.Nil(t, got[1].Coords, "failed lookups stay null")
	assert.True(t, got[1].ShipDate.IsZero(), "missing ship date stays null")
}

func TestStarStoreDeltaRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)
	logger := slog.New(slog.DiscardHandler)

	store, err := NewStarStore(conn, logger)
	require.NoError(t, err)

	modeler := modeling.NewModeler()

	batch := []dataset.EnrichedRecord{
		{CleanedRecord: cleanedFixture(t, 1, "O-1", "P-1", "2023-01-05")},
		{CleanedRecord: cleanedFixture(t, 2, "O-2", "P-2", "2023-01-06")},
	}

	delta, err := modeler.Build(batch, modeling.NewKnownKeys())
	require.NoError(t, err)

	require.NoError(t, store.ApplyDelta(ctx, &delta))

	// Known keys now cover everything the delta persisted.
	known, err := store.LoadKnownKeys(ctx)
	require.NoError(t, err)

	for _, c := range delta.Customers {
		assert.Contains(t, known.Customers, c.Key)
	}

	for _, d := range delta.Dates {
		assert.Contains(t, known.Dates, d.Key)
	}

	snapshot, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 2)

	assert.Equal(t, "O-1", snapshot[0].OrderID)
	assert.Equal(t, "Texas", snapshot[0].State)
	assert.Equal(t, 2023, snapshot[0].Year)
	assert.InDelta(t, 261.96, snapshot[0].Sales, 0.001)
}

func TestStarStoreDimensionFirstWriteWins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	store, err := NewStarStore(conn, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	key := modeling.SurrogateKey(modeling.KindCustomer, "C-1")

	first := modeling.StarDelta{
		Customers: []modeling.CustomerDim{
			{Key: key, CustomerID: "C-1", Name: "Aaron Hawkins", Segment: "Consumer"},
		},
	}
	require.NoError(t, store.ApplyDelta(ctx, &first))

	// Re-apply with different attributes: the original row must survive.
	second := modeling.StarDelta{
		Customers: []modeling.CustomerDim{
			{Key: key, CustomerID: "C-1", Name: "A. Hawkins", Segment: "Corporate"},
		},
	}
	require.NoError(t, store.ApplyDelta(ctx, &second))

	var name, segment string
	require.NoError(t, conn.QueryRowContext(ctx,
		"SELECT name, segment FROM dim_customer WHERE key = $1", key).
		Scan(&name, &segment))

	assert.Equal(t, "Aaron Hawkins", name)
	assert.Equal(t, "Consumer", segment)
}

func TestViewStoreReplaceAndLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	store, err := NewViewStore(conn, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	result := materialize.ViewResult{
		Name: "sales_by_state",
		Rows: []materialize.ViewRow{
			{Group: map[string]string{"state": "Texas"}, Values: map[string]float64{"total_sales": 400}},
			{Group: map[string]string{"state": "Ohio"}, Values: map[string]float64{"total_sales": 200}},
		},
	}

	require.NoError(t, store.ReplaceView(ctx, &result))

	got, err := store.LoadView(ctx, "sales_by_state")
	require.NoError(t, err)
	require.Len(t, got.Rows, 2)
	assert.Equal(t, "Texas", got.Rows[0].Group["state"], "materialized order is preserved")

	// Overwrite shrinks the view; stale rows must not survive.
	result.Rows = result.Rows[:1]
	require.NoError(t, store.ReplaceView(ctx, &result))

	got, err = store.LoadView(ctx, "sales_by_state")
	require.NoError(t, err)
	assert.Len(t, got.Rows, 1)

	names, err := store.ListViews(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales_by_state"}, names)

	_, err = store.LoadView(ctx, "missing_view")
	assert.ErrorIs(t, err, ErrViewNotFound)
}

func TestViewStoreZeroRowViewIsFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	store, err := NewViewStore(conn, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	// An empty snapshot materializes every view to zero rows. The view still
	// exists; only a name that was never materialized is not found.
	empty := materialize.ViewResult{Name: "sales_by_state"}
	require.NoError(t, store.ReplaceView(ctx, &empty))

	got, err := store.LoadView(ctx, "sales_by_state")
	require.NoError(t, err, "a zero-row view is present, not missing")
	assert.Empty(t, got.Rows)

	names, err := store.ListViews(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"sales_by_state"}, names)

	_, err = store.LoadView(ctx, "never_materialized")
	assert.ErrorIs(t, err, ErrViewNotFound)
}

func TestJournalStoreAppendAndList(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupWarehouse(ctx, t)

	store, err := NewJournalStore(conn)
	require.NoError(t, err)

	runID := uuid.New()
	start := time.Now().UTC().Truncate(time.Millisecond)

	ok := journal.NewEntry(runID, "superstore_sales", "clean",
		start, start.Add(time.Minute), "clean_orders", 9800)

	failed := journal.NewEntry(runID, "superstore_sales", "model",
		start.Add(2*time.Minute), start.Add(3*time.Minute), "fact_sales", journal.FailedRowCount)
	failed.Note = "fact rejection rate exceeded threshold"

	require.NoError(t, store.Record(ctx, ok))
	require.NoError(t, store.Record(ctx, failed))

	entries, err := store.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "model", entries[0].Stage)
	assert.Equal(t, int64(journal.FailedRowCount), entries[0].RowCount)
	assert.Equal(t, "fact rejection rate exceeded threshold", entries[0].Note)

	assert.Equal(t, "clean", entries[1].Stage)
	assert.Equal(t, runID, entries[1].RunID)
	assert.Empty(t, entries[1].Note)
}
