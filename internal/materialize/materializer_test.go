package materialize

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func snapshotFixture() []Row {
	return []Row{
		{OrderID: "O-1", CustomerID: "C-1", CustomerName: "Aaron", State: "Texas", Region: "Central",
			Category: "Furniture", SubCategory: "Chairs", Year: 2023, Quarter: 1, Month: 1,
			Sales: 100, Quantity: 2, Profit: 20},
		{OrderID: "O-2", CustomerID: "C-2", CustomerName: "Norah", State: "Texas", Region: "Central",
			Category: "Furniture", SubCategory: "Chairs", Year: 2023, Quarter: 1, Month: 2,
			Sales: 300, Quantity: 1, Profit: -30},
		{OrderID: "O-3", CustomerID: "C-1", CustomerName: "Aaron", State: "Ohio", Region: "East",
			Category: "Technology", SubCategory: "Phones", Year: 2023, Quarter: 1, Month: 1,
			Sales: 200, Quantity: 3, Profit: 50},
	}
}

func TestMaterializeGroupsAndAggregates(t *testing.T) {
	m := NewMaterializer(testLogger())

	views := []ViewDefinition{{
		Name:    "sales_by_state",
		GroupBy: []string{"state"},
		Measures: []Measure{
			{Column: "sales", Func: AggSum, As: "total_sales"},
			{Column: "profit", Func: AggSum, As: "total_profit"},
			{Column: "order_id", Func: AggCount, As: "order_lines"},
		},
		OrderBy: []OrderBy{{Column: "total_sales", Desc: true}},
	}}

	results, err := m.Materialize(snapshotFixture(), views)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0].Rows, 2)

	texas := results[0].Rows[0]
	assert.Equal(t, "Texas", texas.Group["state"])
	assert.InDelta(t, 400.0, texas.Values["total_sales"], 0.001)
	assert.InDelta(t, -10.0, texas.Values["total_profit"], 0.001)
	assert.InDelta(t, 2.0, texas.Values["order_lines"], 0.001)

	ohio := results[0].Rows[1]
	assert.Equal(t, "Ohio", ohio.Group["state"])
	assert.InDelta(t, 200.0, ohio.Values["total_sales"], 0.001)
}

func TestMaterializeAggregateFunctions(t *testing.T) {
	m := NewMaterializer(testLogger())

	views := []ViewDefinition{{
		Name:    "stats",
		GroupBy: []string{"category"},
		Measures: []Measure{
			{Column: "sales", Func: AggAvg, As: "avg_sales"},
			{Column: "sales", Func: AggMin, As: "min_sales"},
			{Column: "sales", Func: AggMax, As: "max_sales"},
		},
	}}

	results, err := m.Materialize(snapshotFixture(), views)
	require.NoError(t, err)
	require.Len(t, results[0].Rows, 2)

	// Tie-break ordering is group key ascending: Furniture before Technology.
	furniture := results[0].Rows[0]
	assert.Equal(t, "Furniture", furniture.Group["category"])
	assert.InDelta(t, 200.0, furniture.Values["avg_sales"], 0.001)
	assert.InDelta(t, 100.0, furniture.Values["min_sales"], 0.001)
	assert.InDelta(t, 300.0, furniture.Values["max_sales"], 0.001)
}

func TestMaterializeTopNDeterministicOrdering(t *testing.T) {
	m := NewMaterializer(testLogger())

	// Two customers with identical totals: the tie must break on the group
	// key ascending, and the limit must apply after ordering.
	snapshot := []Row{
		{CustomerID: "C-3", CustomerName: "Zed", Sales: 500},
		{CustomerID: "C-1", CustomerName: "Aaron", Sales: 500},
		{CustomerID: "C-2", CustomerName: "Norah", Sales: 900},
	}

	views := []ViewDefinition{{
		Name:     "top_customers",
		GroupBy:  []string{"customer_id"},
		Measures: []Measure{{Column: "sales", Func: AggSum, As: "total_sales"}},
		OrderBy:  []OrderBy{{Column: "total_sales", Desc: true}},
		Limit:    2,
	}}

	results, err := m.Materialize(snapshot, views)
	require.NoError(t, err)
	require.Len(t, results[0].Rows, 2)

	assert.Equal(t, "C-2", results[0].Rows[0].Group["customer_id"])
	assert.Equal(t, "C-1", results[0].Rows[1].Group["customer_id"], "ties break on group key ascending")
}

func TestMaterializeIsPureFunctionOfSnapshot(t *testing.T) {
	m := NewMaterializer(testLogger())
	views := DefaultViews()

	first, err := m.Materialize(snapshotFixture(), views)
	require.NoError(t, err)

	second, err := m.Materialize(snapshotFixture(), views)
	require.NoError(t, err)

	assert.Equal(t, first, second, "unchanged snapshot must reproduce identical view contents")
}

func TestMaterializeCalendarColumnsOrderNumerically(t *testing.T) {
	m := NewMaterializer(testLogger())

	snapshot := []Row{
		{Year: 2023, Month: 10, Sales: 1},
		{Year: 2023, Month: 9, Sales: 1},
		{Year: 2023, Month: 2, Sales: 1},
	}

	views := []ViewDefinition{{
		Name:     "monthly",
		GroupBy:  []string{"year", "month"},
		Measures: []Measure{{Column: "sales", Func: AggSum, As: "total_sales"}},
	}}

	results, err := m.Materialize(snapshot, views)
	require.NoError(t, err)
	require.Len(t, results[0].Rows, 3)

	assert.Equal(t, "02", results[0].Rows[0].Group["month"])
	assert.Equal(t, "09", results[0].Rows[1].Group["month"])
	assert.Equal(t, "10", results[0].Rows[2].Group["month"])
}

func TestMaterializeEmptySnapshot(t *testing.T) {
	m := NewMaterializer(testLogger())

	results, err := m.Materialize(nil, DefaultViews())
	require.NoError(t, err)
	require.Len(t, results, len(DefaultViews()))

	for _, result := range results {
		assert.Empty(t, result.Rows)
	}
}

func TestMaterializeUnknownColumns(t *testing.T) {
	m := NewMaterializer(testLogger())
	snapshot := snapshotFixture()

	tests := []struct {
		name string
		view ViewDefinition
	}{
		{
			name: "unknown group_by column",
			view: ViewDefinition{
				Name:     "bad",
				GroupBy:  []string{"warehouse"},
				Measures: []Measure{{Column: "sales", Func: AggSum}},
			},
		},
		{
			name: "unknown measure column",
			view: ViewDefinition{
				Name:     "bad",
				GroupBy:  []string{"state"},
				Measures: []Measure{{Column: "revenue", Func: AggSum}},
			},
		},
		{
			name: "unknown order_by column",
			view: ViewDefinition{
				Name:     "bad",
				GroupBy:  []string{"state"},
				Measures: []Measure{{Column: "sales", Func: AggSum, As: "total_sales"}},
				OrderBy:  []OrderBy{{Column: "grand_total", Desc: true}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Materialize(snapshot, []ViewDefinition{tt.view})
			assert.ErrorIs(t, err, ErrUnknownColumn)
		})
	}
}

func TestMeasureAliasDefault(t *testing.T) {
	m := Measure{Column: "sales", Func: AggSum}
	assert.Equal(t, "sum_sales", m.Alias())

	m.As = "total_sales"
	assert.Equal(t, "total_sales", m.Alias())
}
