package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/starforge-io/starforge/internal/dataset"
)

// Sentinel errors for order layer storage operations.
var (
	// ErrRawLoadFailed is returned when the raw order table cannot be read.
	ErrRawLoadFailed = errors.New("raw order load failed")

	// ErrPartitionWriteFailed is returned when a partition overwrite fails.
	// The transaction is rolled back: a failed write never leaves a partially
	// overwritten partition behind.
	ErrPartitionWriteFailed = errors.New("partition overwrite failed")
)

type (
	// OrderStore persists the raw, cleaned and enriched order layers.
	//
	// Cleaned and enriched writes are partition overwrites: within one
	// transaction every (year, month) partition present in the batch is
	// deleted and bulk-reloaded, so re-running a stage against unchanged
	// input reproduces identical table contents.
	OrderStore struct {
		conn   *Connection
		logger *slog.Logger
	}

	// partition is one (year, month) overwrite unit.
	partition struct {
		year  int
		month int
	}
)

// NewOrderStore creates an OrderStore on an existing connection.
func NewOrderStore(conn *Connection, logger *slog.Logger) (*OrderStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &OrderStore{conn: conn, logger: logger}, nil
}

// LoadRaw reads the full raw order table in ingestion order.
func (s *OrderStore) LoadRaw(ctx context.Context) ([]dataset.RawRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT seq, order_id, order_date, ship_date, ship_mode,
		       customer_id, customer_name, segment, country, city, state,
		       postal_code, region, product_id, category, sub_category,
		       product_name, sales, quantity, discount, profit
		FROM raw_orders
		ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRawLoadFailed, err)
	}
	defer func() { _ = rows.Close() }()

	var records []dataset.RawRecord

	for rows.Next() {
		var rec dataset.RawRecord

		if err := rows.Scan(
			&rec.Seq, &rec.OrderID, &rec.OrderDate, &rec.ShipDate, &rec.ShipMode,
			&rec.CustomerID, &rec.CustomerName, &rec.Segment, &rec.Country, &rec.City,
			&rec.State, &rec.PostalCode, &rec.Region, &rec.ProductID, &rec.Category,
			&rec.SubCategory, &rec.ProductName, &rec.Sales, &rec.Quantity,
			&rec.Discount, &rec.Profit,
		); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRawLoadFailed, err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRawLoadFailed, err)
	}

	return records, nil
}

// InsertRaw appends raw order rows. Used by the loader tooling and tests;
// the pipeline itself only reads this table.
func (s *OrderStore) InsertRaw(ctx context.Context, records []dataset.RawRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("raw_orders",
		"seq", "order_id", "order_date", "ship_date", "ship_mode",
		"customer_id", "customer_name", "segment", "country", "city", "state",
		"postal_code", "region", "product_id", "category", "sub_category",
		"product_name", "sales", "quantity", "discount", "profit"))
	if err != nil {
		return fmt.Errorf("failed to prepare raw copy: %w", err)
	}

	for i := range records {
		rec := &records[i]

		if _, err := stmt.ExecContext(ctx,
			rec.Seq, rec.OrderID, rec.OrderDate, rec.ShipDate, rec.ShipMode,
			rec.CustomerID, rec.CustomerName, rec.Segment, rec.Country, rec.City,
			rec.State, rec.PostalCode, rec.Region, rec.ProductID, rec.Category,
			rec.SubCategory, rec.ProductName, rec.Sales, rec.Quantity,
			rec.Discount, rec.Profit,
		); err != nil {
			_ = stmt.Close()

			return fmt.Errorf("failed to copy raw row: %w", err)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()

		return fmt.Errorf("failed to flush raw copy: %w", err)
	}

	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close raw copy: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit raw insert: %w", err)
	}

	return nil
}

// MaxRawSeq returns the highest seq in the raw layer, or zero when the layer
// is empty. Loaders number appended rows starting after this value.
func (s *OrderStore) MaxRawSeq(ctx context.Context) (int64, error) {
	var maxSeq int64

	if err := s.conn.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM raw_orders").Scan(&maxSeq); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRawLoadFailed, err)
	}

	return maxSeq, nil
}

// ReplaceCleaned overwrites every (year, month) partition present in the
// batch with the batch's rows for that partition.
func (s *OrderStore) ReplaceCleaned(ctx context.Context, records []dataset.CleanedRecord) error {
	partitions := make(map[partition]struct{})
	for i := range records {
		year, month := records[i].Partition()
		partitions[partition{year: year, month: month}] = struct{}{}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := deletePartitions(ctx, tx, "clean_orders", partitions); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("clean_orders",
		"seq", "order_id", "order_date", "ship_date", "ship_mode",
		"customer_id", "customer_name", "segment", "country", "city", "state",
		"postal_code", "region", "product_id", "category", "sub_category",
		"product_name", "sales", "quantity", "discount", "profit",
		"year", "month"))
	if err != nil {
		return fmt.Errorf("%w: failed to prepare copy: %w", ErrPartitionWriteFailed, err)
	}

	for i := range records {
		rec := &records[i]
		year, month := rec.Partition()

		if _, err := stmt.ExecContext(ctx,
			rec.Seq, rec.OrderID, rec.OrderDate, nullTime(rec.ShipDate), rec.ShipMode,
			rec.CustomerID, rec.CustomerName, rec.Segment, rec.Country, rec.City,
			rec.State, rec.PostalCode, rec.Region, rec.ProductID, rec.Category,
			rec.SubCategory, rec.ProductName, rec.Sales, rec.Quantity,
			rec.Discount, rec.Profit, year, month,
		); err != nil {
			_ = stmt.Close()

			return fmt.Errorf("%w: failed to copy row: %w", ErrPartitionWriteFailed, err)
		}
	}

	if err := finishCopy(ctx, stmt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %w", ErrPartitionWriteFailed, err)
	}

	s.logger.Debug("Overwrote cleaned order partitions",
		slog.Int("partitions", len(partitions)),
		slog.Int("rows", len(records)))

	return nil
}

// ReplaceEnriched overwrites every (year, month) partition present in the
// batch with the batch's enriched rows for that partition.
func (s *OrderStore) ReplaceEnriched(ctx context.Context, records []dataset.EnrichedRecord) error {
	partitions := make(map[partition]struct{})
	for i := range records {
		year, month := records[i].Partition()
		partitions[partition{year: year, month: month}] = struct{}{}
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := deletePartitions(ctx, tx, "enriched_orders", partitions); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("enriched_orders",
		"seq", "order_id", "order_date", "ship_date", "ship_mode",
		"customer_id", "customer_name", "segment", "country", "city", "state",
		"postal_code", "region", "product_id", "category", "sub_category",
		"product_name", "sales", "quantity", "discount", "profit",
		"year", "month", "latitude", "longitude"))
	if err != nil {
		return fmt.Errorf("%w: failed to prepare copy: %w", ErrPartitionWriteFailed, err)
	}

	for i := range records {
		rec := &records[i]
		year, month := rec.Partition()

		var lat, lon any
		if rec.Coords != nil {
			lat, lon = rec.Coords.Latitude, rec.Coords.Longitude
		}

		if _, err := stmt.ExecContext(ctx,
			rec.Seq, rec.OrderID, rec.OrderDate, nullTime(rec.ShipDate), rec.ShipMode,
			rec.CustomerID, rec.CustomerName, rec.Segment, rec.Country, rec.City,
			rec.State, rec.PostalCode, rec.Region, rec.ProductID, rec.Category,
			rec.SubCategory, rec.ProductName, rec.Sales, rec.Quantity,
			rec.Discount, rec.Profit, year, month, lat, lon,
		); err != nil {
			_ = stmt.Close()

			return fmt.Errorf("%w: failed to copy row: %w", ErrPartitionWriteFailed, err)
		}
	}

	if err := finishCopy(ctx, stmt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %w", ErrPartitionWriteFailed, err)
	}

	s.logger.Debug("Overwrote enriched order partitions",
		slog.Int("partitions", len(partitions)),
		slog.Int("rows", len(records)))

	return nil
}

// LoadCleaned reads the full cleaned order table in ingestion order.
func (s *OrderStore) LoadCleaned(ctx context.Context) ([]dataset.CleanedRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT seq, order_id, order_date, ship_date, ship_mode,
		       customer_id, customer_name, segment, country, city, state,
		       postal_code, region, product_id, category, sub_category,
		       product_name, sales, quantity, discount, profit
		FROM clean_orders
		ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to load cleaned orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []dataset.CleanedRecord

	for rows.Next() {
		var (
			rec      dataset.CleanedRecord
			shipDate sql.NullTime
		)

		if err := rows.Scan(
			&rec.Seq, &rec.OrderID, &rec.OrderDate, &shipDate, &rec.ShipMode,
			&rec.CustomerID, &rec.CustomerName, &rec.Segment, &rec.Country, &rec.City,
			&rec.State, &rec.PostalCode, &rec.Region, &rec.ProductID, &rec.Category,
			&rec.SubCategory, &rec.ProductName, &rec.Sales, &rec.Quantity,
			&rec.Discount, &rec.Profit,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cleaned order: %w", err)
		}

		if shipDate.Valid {
			rec.ShipDate = shipDate.Time
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cleaned orders: %w", err)
	}

	return records, nil
}

// LoadEnriched reads the full enriched order table in ingestion order.
func (s *OrderStore) LoadEnriched(ctx context.Context) ([]dataset.EnrichedRecord, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT seq, order_id, order_date, ship_date, ship_mode,
		       customer_id, customer_name, segment, country, city, state,
		       postal_code, region, product_id, category, sub_category,
		       product_name, sales, quantity, discount, profit,
		       latitude, longitude
		FROM enriched_orders
		ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to load enriched orders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []dataset.EnrichedRecord

	for rows.Next() {
		var (
			rec      dataset.EnrichedRecord
			shipDate sql.NullTime
			lat, lon sql.NullFloat64
		)

		if err := rows.Scan(
			&rec.Seq, &rec.OrderID, &rec.OrderDate, &shipDate, &rec.ShipMode,
			&rec.CustomerID, &rec.CustomerName, &rec.Segment, &rec.Country, &rec.City,
			&rec.State, &rec.PostalCode, &rec.Region, &rec.ProductID, &rec.Category,
			&rec.SubCategory, &rec.ProductName, &rec.Sales, &rec.Quantity,
			&rec.Discount, &rec.Profit, &lat, &lon,
		); err != nil {
			return nil, fmt.Errorf("failed to scan enriched order: %w", err)
		}

		if shipDate.Valid {
			rec.ShipDate = shipDate.Time
		}

		if lat.Valid && lon.Valid {
			rec.Coords = &dataset.Coordinates{Latitude: lat.Float64, Longitude: lon.Float64}
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read enriched orders: %w", err)
	}

	return records, nil
}

// deletePartitions removes every listed (year, month) partition from table.
func deletePartitions(ctx context.Context, tx *sql.Tx, table string, partitions map[partition]struct{}) error {
	for p := range partitions {
		query := fmt.Sprintf("DELETE FROM %s WHERE year = $1 AND month = $2", table) //nolint:gosec // table name is a package constant

		if _, err := tx.ExecContext(ctx, query, p.year, p.month); err != nil {
			return fmt.Errorf("%w: failed to clear %s partition %d-%02d: %w",
				ErrPartitionWriteFailed, table, p.year, p.month, err)
		}
	}

	return nil
}

// finishCopy flushes and closes a COPY statement.
func finishCopy(ctx context.Context, stmt *sql.Stmt) error {
	if _, err := stmt.ExecContext(ctx); err != nil {
		_ = stmt.Close()

		return fmt.Errorf("%w: failed to flush copy: %w", ErrPartitionWriteFailed, err)
	}

	if err := stmt.Close(); err != nil {
		return fmt.Errorf("%w: failed to close copy: %w", ErrPartitionWriteFailed, err)
	}

	return nil
}

// nullTime maps the zero time to SQL NULL.
func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t
}
