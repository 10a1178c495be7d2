package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/starforge-io/starforge/internal/materialize"
	"github.com/starforge-io/starforge/internal/modeling"
)

// ErrStarWriteFailed is returned when applying a star-schema delta fails.
var ErrStarWriteFailed = errors.New("star schema write failed")

// StarStore persists the star schema: the four dimension tables and the
// sales fact table.
//
// Dimension writes are first-write-wins: a surrogate key already present
// keeps its original attributes (ON CONFLICT DO NOTHING), so key assignments
// made by earlier runs are never changed. Fact writes are partition
// overwrites like the order layers.
type StarStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewStarStore creates a StarStore on an existing connection.
func NewStarStore(conn *Connection, logger *slog.Logger) (*StarStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &StarStore{conn: conn, logger: logger}, nil
}

// LoadKnownKeys reads every persisted dimension surrogate key. The modeler
// resolves fact foreign keys against these plus the current batch's delta.
func (s *StarStore) LoadKnownKeys(ctx context.Context) (modeling.KnownKeys, error) {
	known := modeling.NewKnownKeys()

	tables := []struct {
		table string
		keys  map[int64]struct{}
	}{
		{table: "dim_customer", keys: known.Customers},
		{table: "dim_product", keys: known.Products},
		{table: "dim_state", keys: known.States},
		{table: "dim_date", keys: known.Dates},
	}

	for _, t := range tables {
		query := fmt.Sprintf("SELECT key FROM %s", t.table) //nolint:gosec // table name is a package constant

		rows, err := s.conn.QueryContext(ctx, query)
		if err != nil {
			return known, fmt.Errorf("failed to load %s keys: %w", t.table, err)
		}

		for rows.Next() {
			var key int64

			if err := rows.Scan(&key); err != nil {
				_ = rows.Close()

				return known, fmt.Errorf("failed to scan %s key: %w", t.table, err)
			}

			t.keys[key] = struct{}{}
		}

		if err := rows.Err(); err != nil {
			_ = rows.Close()

			return known, fmt.Errorf("failed to read %s keys: %w", t.table, err)
		}

		_ = rows.Close()
	}

	return known, nil
}

// ApplyDelta persists a modeling run: dimension rows are appended
// first-write-wins, then every fact partition present in the delta is
// overwritten. One transaction covers the whole delta so a failed run never
// leaves facts referencing unpersisted dimension rows.
func (s *StarStore) ApplyDelta(ctx context.Context, delta *modeling.StarDelta) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertDimensions(ctx, tx, delta); err != nil {
		return err
	}

	if err := replaceFacts(ctx, tx, delta.Facts); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %w", ErrStarWriteFailed, err)
	}

	s.logger.Debug("Applied star schema delta",
		slog.Int("customers", len(delta.Customers)),
		slog.Int("products", len(delta.Products)),
		slog.Int("states", len(delta.States)),
		slog.Int("dates", len(delta.Dates)),
		slog.Int("facts", len(delta.Facts)),
		slog.Int64("rejected", delta.Rejected))

	return nil
}

func insertDimensions(ctx context.Context, tx *sql.Tx, delta *modeling.StarDelta) error {
	for i := range delta.Customers {
		d := &delta.Customers[i]

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dim_customer (key, customer_id, name, segment)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO NOTHING`,
			d.Key, d.CustomerID, d.Name, d.Segment,
		); err != nil {
			return fmt.Errorf("%w: dim_customer insert: %w", ErrStarWriteFailed, err)
		}
	}

	for i := range delta.Products {
		d := &delta.Products[i]

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dim_product (key, product_id, name, category, sub_category)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (key) DO NOTHING`,
			d.Key, d.ProductID, d.Name, d.Category, d.SubCategory,
		); err != nil {
			return fmt.Errorf("%w: dim_product insert: %w", ErrStarWriteFailed, err)
		}
	}

	for i := range delta.States {
		d := &delta.States[i]

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dim_state (key, state, region, country, latitude, longitude)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (key) DO NOTHING`,
			d.Key, d.State, d.Region, d.Country, d.Latitude, d.Longitude,
		); err != nil {
			return fmt.Errorf("%w: dim_state insert: %w", ErrStarWriteFailed, err)
		}
	}

	for i := range delta.Dates {
		d := &delta.Dates[i]

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO dim_date (key, date, year, quarter, month, day, weekday)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (key) DO NOTHING`,
			d.Key, d.Date, d.Year, d.Quarter, d.Month, d.Day, d.Weekday,
		); err != nil {
			return fmt.Errorf("%w: dim_date insert: %w", ErrStarWriteFailed, err)
		}
	}

	return nil
}

func replaceFacts(ctx context.Context, tx *sql.Tx, facts []modeling.FactSale) error {
	partitions := make(map[partition]struct{})
	for i := range facts {
		partitions[partition{year: facts[i].Year, month: facts[i].Month}] = struct{}{}
	}

	if err := deletePartitions(ctx, tx, "fact_sales", partitions); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("fact_sales",
		"order_id", "customer_key", "product_key", "state_key", "date_key",
		"sales", "quantity", "discount", "profit", "year", "month"))
	if err != nil {
		return fmt.Errorf("%w: failed to prepare fact copy: %w", ErrStarWriteFailed, err)
	}

	for i := range facts {
		f := &facts[i]

		if _, err := stmt.ExecContext(ctx,
			f.OrderID, f.CustomerKey, f.ProductKey, f.StateKey, f.DateKey,
			f.Sales, f.Quantity, f.Discount, f.Profit, f.Year, f.Month,
		); err != nil {
			_ = stmt.Close()

			return fmt.Errorf("%w: failed to copy fact row: %w", ErrStarWriteFailed, err)
		}
	}

	return finishCopy(ctx, stmt)
}

// LoadSnapshot reads one consistent snapshot of the fact table joined with
// its dimensions, inside a repeatable-read transaction so every view of a
// materialization run aggregates the same logical state.
func (s *StarStore) LoadSnapshot(ctx context.Context) ([]materialize.Row, error) {
	tx, err := s.conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT f.order_id,
		       c.customer_id, c.name, c.segment,
		       p.product_id, p.name, p.category, p.sub_category,
		       st.state, st.region, st.country,
		       d.year, d.quarter, d.month,
		       f.sales, f.quantity, f.discount, f.profit
		FROM fact_sales f
		JOIN dim_customer c ON c.key = f.customer_key
		JOIN dim_product p ON p.key = f.product_key
		JOIN dim_state st ON st.key = f.state_key
		JOIN dim_date d ON d.key = f.date_key
		ORDER BY f.order_id, p.product_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load star snapshot: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot []materialize.Row

	for rows.Next() {
		var row materialize.Row

		if err := rows.Scan(
			&row.OrderID,
			&row.CustomerID, &row.CustomerName, &row.Segment,
			&row.ProductID, &row.ProductName, &row.Category, &row.SubCategory,
			&row.State, &row.Region, &row.Country,
			&row.Year, &row.Quarter, &row.Month,
			&row.Sales, &row.Quantity, &row.Discount, &row.Profit,
		); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		snapshot = append(snapshot, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read star snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to close snapshot transaction: %w", err)
	}

	return snapshot, nil
}
