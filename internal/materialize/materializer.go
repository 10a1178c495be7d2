package materialize

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// ErrUnknownColumn is returned when a view references a column the snapshot
// schema does not carry.
var ErrUnknownColumn = errors.New("unknown snapshot column")

// groupKeySeparator joins group column values into a map key. The unit
// separator cannot appear in warehouse text columns.
const groupKeySeparator = "\x1f"

type (
	// Row is one record of the materialization snapshot: a sales fact joined
	// with its dimension attributes. All views in one run aggregate over the
	// same snapshot, so every view reflects one consistent state of the star
	// schema.
	Row struct {
		OrderID      string
		CustomerID   string
		CustomerName string
		Segment      string
		ProductID    string
		ProductName  string
		Category     string
		SubCategory  string
		State        string
		Region       string
		Country      string
		Year         int
		Quarter      int
		Month        int
		Sales        float64
		Quantity     int
		Discount     float64
		Profit       float64
	}

	// ViewRow is one output row of a materialized view.
	ViewRow struct {
		// Group maps each group_by column to its value.
		Group map[string]string
		// Values maps each measure alias to its aggregated value.
		Values map[string]float64
	}

	// ViewResult is the fully recomputed content of one view.
	ViewResult struct {
		Name string
		Rows []ViewRow
	}

	// Materializer recomputes view results from a star-schema snapshot.
	Materializer struct {
		logger *slog.Logger
	}

	// accumulator holds per-group aggregation state for one view.
	accumulator struct {
		groupValues []string
		sums        []float64
		mins        []float64
		maxs        []float64
		counts      []int64
	}
)

// NewMaterializer creates a Materializer logging through the given logger.
func NewMaterializer(logger *slog.Logger) *Materializer {
	return &Materializer{logger: logger}
}

// Materialize computes every view in declared order from a single snapshot.
//
// Output is fully deterministic: rows follow the view's declared order_by
// terms, with the complete group key (ascending, in group_by order) as the
// final tie-break, so re-running against an unchanged snapshot reproduces
// identical results. Limit truncates after ordering.
func (m *Materializer) Materialize(snapshot []Row, views []ViewDefinition) ([]ViewResult, error) {
	results := make([]ViewResult, 0, len(views))

	for i := range views {
		view := &views[i]

		result, err := computeView(snapshot, view)
		if err != nil {
			return nil, fmt.Errorf("view %q: %w", view.Name, err)
		}

		m.logger.Debug("Materialized view",
			slog.String("view", view.Name),
			slog.Int("input_rows", len(snapshot)),
			slog.Int("output_rows", len(result.Rows)))

		results = append(results, result)
	}

	return results, nil
}

// computeView aggregates the snapshot for one view definition.
func computeView(snapshot []Row, view *ViewDefinition) (ViewResult, error) {
	groups := make(map[string]*accumulator)
	order := make([]string, 0)

	for i := range snapshot {
		row := &snapshot[i]

		groupValues, err := groupKey(row, view.GroupBy)
		if err != nil {
			return ViewResult{}, err
		}

		key := strings.Join(groupValues, groupKeySeparator)

		acc, ok := groups[key]
		if !ok {
			acc = newAccumulator(groupValues, len(view.Measures))
			groups[key] = acc
			order = append(order, key)
		}

		for j := range view.Measures {
			if err := acc.observe(j, &view.Measures[j], row); err != nil {
				return ViewResult{}, err
			}
		}
	}

	rows := make([]ViewRow, 0, len(order))

	for _, key := range order {
		rows = append(rows, groups[key].finish(view))
	}

	if err := sortRows(rows, view); err != nil {
		return ViewResult{}, err
	}

	if view.Limit > 0 && len(rows) > view.Limit {
		rows = rows[:view.Limit]
	}

	return ViewResult{Name: view.Name, Rows: rows}, nil
}

func newAccumulator(groupValues []string, measures int) *accumulator {
	return &accumulator{
		groupValues: groupValues,
		sums:        make([]float64, measures),
		mins:        make([]float64, measures),
		maxs:        make([]float64, measures),
		counts:      make([]int64, measures),
	}
}

// observe folds one snapshot row into the measure at index i.
func (a *accumulator) observe(i int, measure *Measure, row *Row) error {
	if measure.Func == AggCount {
		a.counts[i]++

		return nil
	}

	value, err := measureValue(row, measure.Column)
	if err != nil {
		return err
	}

	if a.counts[i] == 0 || value < a.mins[i] {
		a.mins[i] = value
	}

	if a.counts[i] == 0 || value > a.maxs[i] {
		a.maxs[i] = value
	}

	a.sums[i] += value
	a.counts[i]++

	return nil
}

// finish produces the output row for one group.
func (a *accumulator) finish(view *ViewDefinition) ViewRow {
	group := make(map[string]string, len(view.GroupBy))
	for i, column := range view.GroupBy {
		group[column] = a.groupValues[i]
	}

	values := make(map[string]float64, len(view.Measures))

	for i := range view.Measures {
		measure := &view.Measures[i]

		var value float64

		switch measure.Func {
		case AggSum:
			value = a.sums[i]
		case AggAvg:
			if a.counts[i] > 0 {
				value = a.sums[i] / float64(a.counts[i])
			}
		case AggMin:
			value = a.mins[i]
		case AggMax:
			value = a.maxs[i]
		case AggCount:
			value = float64(a.counts[i])
		}

		values[measure.Alias()] = value
	}

	return ViewRow{Group: group, Values: values}
}

// sortRows orders view output by the declared order_by terms, then by the
// full group key ascending.
func sortRows(rows []ViewRow, view *ViewDefinition) error {
	// Validate order_by terms up front so the comparator cannot fail.
	aliases := make(map[string]struct{}, len(view.Measures))
	for i := range view.Measures {
		aliases[view.Measures[i].Alias()] = struct{}{}
	}

	groupCols := make(map[string]struct{}, len(view.GroupBy))
	for _, column := range view.GroupBy {
		groupCols[column] = struct{}{}
	}

	for _, term := range view.OrderBy {
		_, isAlias := aliases[term.Column]
		_, isGroup := groupCols[term.Column]

		if !isAlias && !isGroup {
			return fmt.Errorf("order_by %q: %w", term.Column, ErrUnknownColumn)
		}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		left, right := &rows[i], &rows[j]

		for _, term := range view.OrderBy {
			if _, isAlias := aliases[term.Column]; isAlias {
				lv, rv := left.Values[term.Column], right.Values[term.Column]
				if lv != rv {
					if term.Desc {
						return lv > rv
					}

					return lv < rv
				}

				continue
			}

			lv, rv := left.Group[term.Column], right.Group[term.Column]
			if lv != rv {
				if term.Desc {
					return lv > rv
				}

				return lv < rv
			}
		}

		// Tie-break: full group key ascending, in declared column order.
		for _, column := range view.GroupBy {
			lv, rv := left.Group[column], right.Group[column]
			if lv != rv {
				return lv < rv
			}
		}

		return false
	})

	return nil
}

// groupKey extracts the group column values for one row, in group_by order.
func groupKey(row *Row, columns []string) ([]string, error) {
	values := make([]string, len(columns))

	for i, column := range columns {
		value, err := columnValue(row, column)
		if err != nil {
			return nil, err
		}

		values[i] = value
	}

	return values, nil
}

// columnValue resolves a group-by column name against the snapshot schema.
// Numeric calendar columns are zero-padded so string ordering matches
// numeric ordering.
func columnValue(row *Row, column string) (string, error) {
	switch column {
	case "order_id":
		return row.OrderID, nil
	case "customer_id":
		return row.CustomerID, nil
	case "customer_name":
		return row.CustomerName, nil
	case "segment":
		return row.Segment, nil
	case "product_id":
		return row.ProductID, nil
	case "product_name":
		return row.ProductName, nil
	case "category":
		return row.Category, nil
	case "sub_category":
		return row.SubCategory, nil
	case "state":
		return row.State, nil
	case "region":
		return row.Region, nil
	case "country":
		return row.Country, nil
	case "year":
		return fmt.Sprintf("%04d", row.Year), nil
	case "quarter":
		return fmt.Sprintf("%02d", row.Quarter), nil
	case "month":
		return fmt.Sprintf("%02d", row.Month), nil
	default:
		return "", fmt.Errorf("group_by %q: %w", column, ErrUnknownColumn)
	}
}

// measureValue resolves a measure column name against the snapshot schema.
func measureValue(row *Row, column string) (float64, error) {
	switch column {
	case "sales":
		return row.Sales, nil
	case "quantity":
		return float64(row.Quantity), nil
	case "discount":
		return row.Discount, nil
	case "profit":
		return row.Profit, nil
	default:
		return 0, fmt.Errorf("measure %q: %w", column, ErrUnknownColumn)
	}
}
