// Package dataset provides the layered record schemas for the starforge pipeline.
//
// Each pipeline layer has an explicit typed schema (Raw → Cleaned → Enriched)
// rather than relying on implicit coercion. Type mismatches are first-class
// row-level failures handled by the cleaning stage, not silent data corruption.
package dataset

import (
	"time"
)

type (
	// RawRecord represents one order line as ingested from the upstream source.
	//
	// All attributes arrive loosely typed (strings). Column names have already
	// been normalized by the loader via NormalizeColumnName, but values are
	// untrusted: dates may be unparseable, numerics malformed, keys empty.
	//
	// Seq is the ingestion order of the row within its batch. It is the
	// tie-break for deduplication: first-seen wins, and "first" means lowest
	// Seq, so re-runs against unchanged input are reproducible.
	RawRecord struct {
		Seq          int64
		OrderID      string
		OrderDate    string
		ShipDate     string
		ShipMode     string
		CustomerID   string
		CustomerName string
		Segment      string
		Country      string
		City         string
		State        string
		PostalCode   string
		Region       string
		ProductID    string
		Category     string
		SubCategory  string
		ProductName  string
		Sales        string
		Quantity     string
		Discount     string
		Profit       string
	}

	// CleanedRecord is a RawRecord with normalized column names, typed dates
	// and measures, non-null required key fields, and a unique
	// (order_id, product_id) pair within its batch.
	CleanedRecord struct {
		Seq          int64
		OrderID      string
		OrderDate    time.Time
		ShipDate     time.Time
		ShipMode     string
		CustomerID   string
		CustomerName string
		Segment      string
		Country      string
		City         string
		State        string
		PostalCode   string
		Region       string
		ProductID    string
		Category     string
		SubCategory  string
		ProductName  string
		Sales        float64
		Quantity     int
		Discount     float64
		Profit       float64
	}

	// Coordinates holds a resolved geographic position for a state.
	Coordinates struct {
		Latitude  float64
		Longitude float64
	}

	// EnrichedRecord is a CleanedRecord plus best-effort geo coordinates.
	//
	// Coords is nil when the external lookup failed or returned not-found.
	// Coordinates are supplementary, non-authoritative data: a nil value never
	// blocks the row from flowing downstream.
	EnrichedRecord struct {
		CleanedRecord

		Coords *Coordinates
	}

	// DropCounts tallies rows dropped by the cleaning stage, per reason.
	//
	// The tallies are per-reason counters, not a partition of dropped rows:
	// Duplicate counts every raw key collision in ingestion order, even when
	// the colliding row ends up kept because an earlier row with the same key
	// failed date parsing. Unparseable + NullKey + Duplicate can therefore
	// exceed rows-in minus rows-out.
	DropCounts struct {
		Unparseable int64
		NullKey     int64
		Duplicate   int64
	}
)

// Total returns the sum of all drop tallies.
func (d DropCounts) Total() int64 {
	return d.Unparseable + d.NullKey + d.Duplicate
}

// Partition returns the (year, month) partition key of the record, derived
// from the order date. Every warehouse layer downstream of cleaning is
// partitioned by this key and overwritten at this granularity per run.
func (c *CleanedRecord) Partition() (int, int) {
	return c.OrderDate.Year(), int(c.OrderDate.Month())
}

// DedupKey returns the composite deduplication key of the record.
func (c *CleanedRecord) DedupKey() string {
	return c.OrderID + "\x1f" + c.ProductID
}
