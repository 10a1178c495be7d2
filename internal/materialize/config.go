// Package materialize recomputes declarative aggregate views over the star
// schema.
//
// Views are named aggregation specs (grouping columns, aggregated measures,
// optional ordering and row limit) declared in a YAML file. Each
// materialization run recomputes every view fully from a single snapshot of
// the fact and dimension tables and overwrites the stored result, so a view
// is always a pure function of warehouse state.
package materialize

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/starforge-io/starforge/internal/config"
)

// Sentinel errors for view definition validation.
var (
	// ErrViewNameEmpty is returned when a view definition has no name.
	ErrViewNameEmpty = errors.New("view name is empty")

	// ErrDuplicateViewName is returned when two view definitions share a name.
	ErrDuplicateViewName = errors.New("duplicate view name")

	// ErrNoMeasures is returned when a view definition declares no measures.
	ErrNoMeasures = errors.New("view has no measures")

	// ErrUnknownAggregate is returned when a measure names an unsupported
	// aggregate function.
	ErrUnknownAggregate = errors.New("unknown aggregate function")

	// ErrNegativeLimit is returned when a view declares a negative row limit.
	ErrNegativeLimit = errors.New("view limit is negative")
)

// Supported aggregate functions.
const (
	AggSum   = "sum"
	AggAvg   = "avg"
	AggMin   = "min"
	AggMax   = "max"
	AggCount = "count"
)

// DefaultConfigPath is the default location for the view definition file.
const DefaultConfigPath = "views.yaml"

// ConfigPathEnvVar is the environment variable name for a custom view
// definition path.
const ConfigPathEnvVar = "STARFORGE_VIEWS_PATH"

type (
	// Measure is one aggregated output column of a view.
	Measure struct {
		// Column is the snapshot measure column to aggregate (ignored for count).
		Column string `yaml:"column"`
		// Func is one of sum, avg, min, max, count.
		Func string `yaml:"func"`
		// As is the output column name. Defaults to "<func>_<column>".
		As string `yaml:"as"`
	}

	// OrderBy is one term of a view's declared ordering.
	OrderBy struct {
		// Column names either a group_by column or a measure alias.
		Column string `yaml:"column"`
		Desc   bool   `yaml:"desc"`
	}

	// ViewDefinition is one declarative aggregation spec.
	ViewDefinition struct {
		Name     string    `yaml:"name"`
		GroupBy  []string  `yaml:"group_by"`
		Measures []Measure `yaml:"measures"`
		OrderBy  []OrderBy `yaml:"order_by"`
		// Limit truncates the result after ordering. Zero means unlimited.
		Limit int `yaml:"limit"`
	}

	// Config holds the full set of view definitions for a deployment.
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	Config struct {
		Views []ViewDefinition `yaml:"views"`
	}
)

// DefaultViews returns the built-in view set used when no definition file is
// present: the standard reporting aggregates over the sales star schema.
func DefaultViews() []ViewDefinition {
	return []ViewDefinition{
		{
			Name:    "sales_by_state",
			GroupBy: []string{"state", "region"},
			Measures: []Measure{
				{Column: "sales", Func: AggSum, As: "total_sales"},
				{Column: "profit", Func: AggSum, As: "total_profit"},
				{Column: "order_id", Func: AggCount, As: "order_lines"},
			},
			OrderBy: []OrderBy{{Column: "total_sales", Desc: true}},
		},
		{
			Name:    "sales_by_category",
			GroupBy: []string{"category", "sub_category"},
			Measures: []Measure{
				{Column: "sales", Func: AggSum, As: "total_sales"},
				{Column: "quantity", Func: AggSum, As: "total_quantity"},
				{Column: "profit", Func: AggAvg, As: "avg_profit"},
			},
			OrderBy: []OrderBy{{Column: "total_sales", Desc: true}},
		},
		{
			Name:    "monthly_sales",
			GroupBy: []string{"year", "month"},
			Measures: []Measure{
				{Column: "sales", Func: AggSum, As: "total_sales"},
				{Column: "profit", Func: AggSum, As: "total_profit"},
				{Column: "order_id", Func: AggCount, As: "order_lines"},
			},
		},
		{
			Name:    "top_customers",
			GroupBy: []string{"customer_id", "customer_name"},
			Measures: []Measure{
				{Column: "sales", Func: AggSum, As: "total_sales"},
			},
			OrderBy: []OrderBy{{Column: "total_sales", Desc: true}},
			Limit:   50,
		},
	}
}

// LoadConfig loads view definitions from a YAML file at the given path.
//
// Behavior:
//   - Returns the built-in default views (not an error) if the file doesn't
//     exist - a custom view file is optional
//   - Returns an error for unreadable files, invalid YAML, or invalid view
//     definitions - a half-parsed view set would silently drop reporting
//     output downstream tools depend on
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("View definition file not found, using built-in views",
				slog.String("path", path))

			return &Config{Views: DefaultViews()}, nil
		}

		return nil, fmt.Errorf("failed to read view definitions %s: %w", path, err)
	}

	cfg := &Config{}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse view definitions %s: %w", path, err)
	}

	if len(cfg.Views) == 0 {
		cfg.Views = DefaultViews()
	}

	if err := validateViews(cfg.Views); err != nil {
		return nil, fmt.Errorf("invalid view definitions %s: %w", path, err)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads view definitions from the path in
// STARFORGE_VIEWS_PATH, falling back to "views.yaml" in the current directory.
func LoadConfigFromEnv() (*Config, error) {
	path := config.GetEnvStr(ConfigPathEnvVar, DefaultConfigPath)

	return LoadConfig(path)
}

// validateViews checks structural validity of a view set.
func validateViews(views []ViewDefinition) error {
	seen := make(map[string]struct{}, len(views))

	for i := range views {
		view := &views[i]

		if view.Name == "" {
			return fmt.Errorf("view %d: %w", i, ErrViewNameEmpty)
		}

		if _, ok := seen[view.Name]; ok {
			return fmt.Errorf("view %q: %w", view.Name, ErrDuplicateViewName)
		}

		seen[view.Name] = struct{}{}

		if len(view.Measures) == 0 {
			return fmt.Errorf("view %q: %w", view.Name, ErrNoMeasures)
		}

		for j := range view.Measures {
			m := &view.Measures[j]

			switch m.Func {
			case AggSum, AggAvg, AggMin, AggMax, AggCount:
			default:
				return fmt.Errorf("view %q measure %d: %w: %q",
					view.Name, j, ErrUnknownAggregate, m.Func)
			}
		}

		if view.Limit < 0 {
			return fmt.Errorf("view %q: %w: %d", view.Name, ErrNegativeLimit, view.Limit)
		}
	}

	return nil
}

// Alias returns the measure's output column name, defaulting to
// "<func>_<column>" when no alias is declared.
func (m *Measure) Alias() string {
	if m.As != "" {
		return m.As
	}

	return m.Func + "_" + m.Column
}
