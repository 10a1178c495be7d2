package modeling

import (
	"errors"
	"fmt"

	"github.com/starforge-io/starforge/internal/dataset"
)

// Sentinel errors for modeling operations.
var (
	// ErrRejectionRateExceeded is returned when the share of fact rows with
	// unresolvable dimension keys crosses the configured threshold. Below the
	// threshold rejections are counted, not fatal; above it they indicate
	// systemic upstream breakage that must not be masked.
	ErrRejectionRateExceeded = errors.New("fact rejection rate exceeded threshold")
)

// DefaultRejectionThreshold is the fact rejection rate above which a batch
// aborts when no override is configured.
const DefaultRejectionThreshold = 0.05

type (
	// Modeler derives dimension deltas and fact rows from an enriched batch.
	Modeler struct {
		rejectionThreshold float64
		deriveDimensions   bool
	}

	// ModelerOption configures optional Modeler behavior.
	ModelerOption func(*Modeler)

	// KnownKeys holds the surrogate keys already persisted in the warehouse
	// dimensions. Fact foreign keys resolve against these plus the keys
	// derived from the current batch.
	KnownKeys struct {
		Customers map[int64]struct{}
		Products  map[int64]struct{}
		States    map[int64]struct{}
		Dates     map[int64]struct{}
	}
)

// WithRejectionThreshold overrides the default 5% fact rejection threshold.
func WithRejectionThreshold(threshold float64) ModelerOption {
	return func(m *Modeler) {
		m.rejectionThreshold = threshold
	}
}

// WithoutDimensionDerivation disables deriving new dimension rows from the
// batch. Facts then resolve only against previously persisted keys, the
// situation that arises on partial or filtered re-runs.
func WithoutDimensionDerivation() ModelerOption {
	return func(m *Modeler) {
		m.deriveDimensions = false
	}
}

// NewModeler creates a Modeler with default policy: dimensions derived from
// the batch, 5% rejection threshold.
func NewModeler(opts ...ModelerOption) *Modeler {
	m := &Modeler{
		rejectionThreshold: DefaultRejectionThreshold,
		deriveDimensions:   true,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// NewKnownKeys returns an empty KnownKeys set.
func NewKnownKeys() KnownKeys {
	return KnownKeys{
		Customers: make(map[int64]struct{}),
		Products:  make(map[int64]struct{}),
		States:    make(map[int64]struct{}),
		Dates:     make(map[int64]struct{}),
	}
}

// Build derives the star-schema delta for an enriched batch.
//
// Dimensions are deduplicated by natural key with first-seen attribute values
// (ingestion order), and only natural keys absent from known are emitted, so
// the delta is purely additive: existing surrogate-key assignments are never
// touched (first write wins).
//
// Every fact row's foreign keys are resolved against the batch delta plus
// known keys. A record whose key cannot be resolved is rejected and counted,
// never silently nulled. Build returns ErrRejectionRateExceeded (with the
// partial delta) when rejections cross the configured threshold.
//
// An empty batch produces empty deltas and no error.
func (m *Modeler) Build(records []dataset.EnrichedRecord, known KnownKeys) (StarDelta, error) {
	delta := StarDelta{}

	batch := m.deriveDeltas(&delta, records, known)

	for i := range records {
		rec := &records[i]

		fact, ok := resolveFact(rec, batch, known)
		if !ok {
			delta.Rejected++

			continue
		}

		delta.Facts = append(delta.Facts, fact)
	}

	if len(records) > 0 {
		rate := float64(delta.Rejected) / float64(len(records))
		if rate > m.rejectionThreshold {
			return delta, fmt.Errorf("%w: %d of %d rows (%.1f%%)",
				ErrRejectionRateExceeded, delta.Rejected, len(records), rate*100)
		}
	}

	return delta, nil
}

// batchKeys tracks the surrogate keys derived from the current batch.
type batchKeys struct {
	customers map[int64]struct{}
	products  map[int64]struct{}
	states    map[int64]struct{}
	dates     map[int64]struct{}
}

// deriveDeltas populates the dimension deltas from the batch, first-seen
// wins, skipping natural keys already persisted. Returns the full key set
// derived from the batch for fact resolution.
func (m *Modeler) deriveDeltas(delta *StarDelta, records []dataset.EnrichedRecord, known KnownKeys) batchKeys {
	batch := batchKeys{
		customers: make(map[int64]struct{}),
		products:  make(map[int64]struct{}),
		states:    make(map[int64]struct{}),
		dates:     make(map[int64]struct{}),
	}

	if !m.deriveDimensions {
		return batch
	}

	for i := range records {
		rec := &records[i]

		if key := SurrogateKey(KindCustomer, rec.CustomerID); firstSeen(batch.customers, key) {
			if _, exists := known.Customers[key]; !exists {
				delta.Customers = append(delta.Customers, CustomerDim{
					Key:        key,
					CustomerID: rec.CustomerID,
					Name:       rec.CustomerName,
					Segment:    rec.Segment,
				})
			}
		}

		if key := SurrogateKey(KindProduct, rec.ProductID); firstSeen(batch.products, key) {
			if _, exists := known.Products[key]; !exists {
				delta.Products = append(delta.Products, ProductDim{
					Key:         key,
					ProductID:   rec.ProductID,
					Name:        rec.ProductName,
					Category:    rec.Category,
					SubCategory: rec.SubCategory,
				})
			}
		}

		if key := SurrogateKey(KindState, rec.State); firstSeen(batch.states, key) {
			if _, exists := known.States[key]; !exists {
				dim := StateDim{
					Key:     key,
					State:   rec.State,
					Region:  rec.Region,
					Country: rec.Country,
				}

				if rec.Coords != nil {
					lat, lon := rec.Coords.Latitude, rec.Coords.Longitude
					dim.Latitude, dim.Longitude = &lat, &lon
				}

				delta.States = append(delta.States, dim)
			}
		}

		if key := DateKey(rec.OrderDate); firstSeen(batch.dates, key) {
			if _, exists := known.Dates[key]; !exists {
				delta.Dates = append(delta.Dates, DateDim{
					Key:     key,
					Date:    rec.OrderDate,
					Year:    rec.OrderDate.Year(),
					Quarter: (int(rec.OrderDate.Month())-1)/3 + 1,
					Month:   int(rec.OrderDate.Month()),
					Day:     rec.OrderDate.Day(),
					Weekday: rec.OrderDate.Weekday().String(),
				})
			}
		}
	}

	return batch
}

// firstSeen records key in the batch set, reporting true only on first sight.
func firstSeen(set map[int64]struct{}, key int64) bool {
	if _, ok := set[key]; ok {
		return false
	}

	set[key] = struct{}{}

	return true
}

// resolveFact rewrites an enriched record with dimension surrogate keys.
// Returns false when any foreign key resolves to no dimension row.
func resolveFact(rec *dataset.EnrichedRecord, batch batchKeys, known KnownKeys) (FactSale, bool) {
	customerKey := SurrogateKey(KindCustomer, rec.CustomerID)
	productKey := SurrogateKey(KindProduct, rec.ProductID)
	stateKey := SurrogateKey(KindState, rec.State)
	dateKey := DateKey(rec.OrderDate)

	if !inEither(batch.customers, known.Customers, customerKey) ||
		!inEither(batch.products, known.Products, productKey) ||
		!inEither(batch.states, known.States, stateKey) ||
		!inEither(batch.dates, known.Dates, dateKey) {
		return FactSale{}, false
	}

	year, month := rec.Partition()

	return FactSale{
		OrderID:     rec.OrderID,
		CustomerKey: customerKey,
		ProductKey:  productKey,
		StateKey:    stateKey,
		DateKey:     dateKey,
		Sales:       rec.Sales,
		Quantity:    rec.Quantity,
		Discount:    rec.Discount,
		Profit:      rec.Profit,
		Year:        year,
		Month:       month,
	}, true
}

func inEither(batch, known map[int64]struct{}, key int64) bool {
	if _, ok := batch[key]; ok {
		return true
	}

	_, ok := known[key]

	return ok
}
