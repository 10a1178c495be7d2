// Package cleaning implements the clean/deduplicate stage of the pipeline.
//
// The cleaner encodes the data-quality policy of the warehouse: what counts as
// a duplicate, which key columns must be non-null, and how unparseable values
// are handled. All failures are row-level: a bad row is dropped and counted,
// never fatal to the batch.
package cleaning

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/starforge-io/starforge/internal/dataset"
)

// Sentinel errors for cleaning configuration.
var (
	// ErrNoDateFormats is returned when a Cleaner is constructed without date formats.
	ErrNoDateFormats = errors.New("cleaner requires at least one date format")
)

// dateFormats are the accepted source date layouts, tried in order.
// The upstream feed has shipped all three across exports.
var dateFormats = []string{
	"2006-01-02",
	"1/2/2006",
	"2006-01-02 15:04:05",
}

type (
	// Cleaner normalizes, types, and deduplicates raw order batches.
	//
	// Policy defaults follow the reference behavior: first-seen wins on the
	// (order_id, product_id) composite key, with "first" meaning lowest
	// ingestion sequence among rows that survived parsing and null checks.
	Cleaner struct {
		requiredKeys []string
		formats      []string
	}

	// Option configures optional Cleaner behavior.
	Option func(*Cleaner)

	// Result carries the cleaned batch and the per-reason drop tallies.
	// The tallies feed the stage's logged row-count delta.
	Result struct {
		Records []dataset.CleanedRecord
		Drops   dataset.DropCounts
	}
)

// WithRequiredKeys overrides the default required key columns
// (order_id, product_id, customer_id, state). Rows with an empty value in any
// required key column are dropped and counted under NullKey.
func WithRequiredKeys(keys ...string) Option {
	return func(c *Cleaner) {
		c.requiredKeys = keys
	}
}

// WithDateFormats overrides the accepted source date layouts.
func WithDateFormats(formats ...string) Option {
	return func(c *Cleaner) {
		c.formats = formats
	}
}

// New creates a Cleaner with default policy.
func New(opts ...Option) (*Cleaner, error) {
	c := &Cleaner{
		requiredKeys: []string{"order_id", "product_id", "customer_id", "state"},
		formats:      dateFormats,
	}

	for _, opt := range opts {
		opt(c)
	}

	if len(c.formats) == 0 {
		return nil, ErrNoDateFormats
	}

	return c, nil
}

// Clean transforms a batch of raw records into cleaned records.
//
// Algorithm:
//  1. Type each row individually: parse dates and measures. A row that fails
//     parsing is dropped and counted under Unparseable.
//  2. Drop rows with empty required key columns, counted under NullKey.
//  3. Deduplicate surviving rows on (order_id, product_id), keeping the
//     first-seen valid row under ingestion order (lowest Seq).
//
// The Duplicate tally counts every raw key collision in ingestion order,
// independent of whether the colliding row was ultimately kept: when the first
// row carrying a key fails date parsing and a later valid row with the same
// key is kept, the batch still records one duplicate. This keeps the tally an
// honest signal of upstream key collisions rather than an artifact of which
// copy happened to parse.
//
// Rows are processed in Seq order, so re-runs over unchanged input produce a
// byte-identical batch.
func (c *Cleaner) Clean(raw []dataset.RawRecord) Result {
	var res Result

	res.Records = make([]dataset.CleanedRecord, 0, len(raw))

	seenRaw := make(map[string]struct{}, len(raw))
	kept := make(map[string]struct{}, len(raw))

	for i := range raw {
		row := &raw[i]

		rawKey := strings.TrimSpace(row.OrderID) + "\x1f" + strings.TrimSpace(row.ProductID)
		if _, ok := seenRaw[rawKey]; ok {
			res.Drops.Duplicate++
		} else {
			seenRaw[rawKey] = struct{}{}
		}

		cleaned, ok := c.typeRow(row)
		if !ok {
			res.Drops.Unparseable++

			continue
		}

		if c.hasNullKey(row) {
			res.Drops.NullKey++

			continue
		}

		if _, ok := kept[cleaned.DedupKey()]; ok {
			continue // collision already tallied against the raw batch
		}

		kept[cleaned.DedupKey()] = struct{}{}
		res.Records = append(res.Records, cleaned)
	}

	return res
}

// typeRow parses the loosely typed raw values into the cleaned schema.
// Returns false when any date or measure fails to parse.
func (c *Cleaner) typeRow(row *dataset.RawRecord) (dataset.CleanedRecord, bool) {
	orderDate, err := c.parseDate(row.OrderDate)
	if err != nil {
		return dataset.CleanedRecord{}, false
	}

	// Ship date is optional upstream; when present it must parse.
	var shipDate time.Time

	if strings.TrimSpace(row.ShipDate) != "" {
		shipDate, err = c.parseDate(row.ShipDate)
		if err != nil {
			return dataset.CleanedRecord{}, false
		}
	}

	sales, err := parseFloat(row.Sales)
	if err != nil {
		return dataset.CleanedRecord{}, false
	}

	profit, err := parseFloat(row.Profit)
	if err != nil {
		return dataset.CleanedRecord{}, false
	}

	discount, err := parseFloat(row.Discount)
	if err != nil {
		return dataset.CleanedRecord{}, false
	}

	quantity, err := parseInt(row.Quantity)
	if err != nil {
		return dataset.CleanedRecord{}, false
	}

	return dataset.CleanedRecord{
		Seq:          row.Seq,
		OrderID:      strings.TrimSpace(row.OrderID),
		OrderDate:    orderDate,
		ShipDate:     shipDate,
		ShipMode:     strings.TrimSpace(row.ShipMode),
		CustomerID:   strings.TrimSpace(row.CustomerID),
		CustomerName: strings.TrimSpace(row.CustomerName),
		Segment:      strings.TrimSpace(row.Segment),
		Country:      strings.TrimSpace(row.Country),
		City:         strings.TrimSpace(row.City),
		State:        dataset.NormalizeStateName(row.State),
		PostalCode:   strings.TrimSpace(row.PostalCode),
		Region:       strings.TrimSpace(row.Region),
		ProductID:    strings.TrimSpace(row.ProductID),
		Category:     strings.TrimSpace(row.Category),
		SubCategory:  strings.TrimSpace(row.SubCategory),
		ProductName:  strings.TrimSpace(row.ProductName),
		Sales:        sales,
		Quantity:     quantity,
		Discount:     discount,
		Profit:       profit,
	}, true
}

// parseDate parses a date string against the configured layouts in order.
// time.Parse rejects impossible calendar dates ("2023-13-40"), which is the
// behavior the acceptance scenarios depend on.
func (c *Cleaner) parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)

	var lastErr error

	for _, layout := range c.formats {
		d, err := time.Parse(layout, value)
		if err == nil {
			return d, nil
		}

		lastErr = err
	}

	return time.Time{}, lastErr
}

// hasNullKey reports whether any required key column is empty on the raw row.
func (c *Cleaner) hasNullKey(row *dataset.RawRecord) bool {
	for _, key := range c.requiredKeys {
		var value string

		switch key {
		case "order_id":
			value = row.OrderID
		case "product_id":
			value = row.ProductID
		case "customer_id":
			value = row.CustomerID
		case "state":
			value = row.State
		case "order_date":
			value = row.OrderDate
		case "region":
			value = row.Region
		case "city":
			value = row.City
		}

		if strings.TrimSpace(value) == "" {
			return true
		}
	}

	return false
}

// parseFloat parses a numeric measure. Empty values default to zero: the
// upstream feed omits discount/profit on some rows, and a missing measure is
// not a data-quality failure the way a malformed one is.
func parseFloat(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	return strconv.ParseFloat(value, 64)
}

func parseInt(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}

	return strconv.Atoi(value)
}
