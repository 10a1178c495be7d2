package modeling

import (
	"time"
)

type (
	// CustomerDim is one row of the customer dimension.
	// Natural key: customer_id.
	CustomerDim struct {
		Key        int64
		CustomerID string
		Name       string
		Segment    string
	}

	// ProductDim is one row of the product dimension.
	// Natural key: product_id.
	ProductDim struct {
		Key         int64
		ProductID   string
		Name        string
		Category    string
		SubCategory string
	}

	// StateDim is one row of the state dimension.
	// Natural key: the normalized state name. Coordinates are the best-effort
	// values observed at modeling time; nil when enrichment missed.
	StateDim struct {
		Key       int64
		State     string
		Region    string
		Country   string
		Latitude  *float64
		Longitude *float64
	}

	// DateDim is one row of the date dimension.
	// Natural key: the calendar date.
	DateDim struct {
		Key     int64
		Date    time.Time
		Year    int
		Quarter int
		Month   int
		Day     int
		Weekday string
	}

	// FactSale is one row of the sales fact table: an enriched order line
	// rewritten with dimension surrogate keys substituted for natural keys,
	// plus the measures.
	//
	// Year/Month is the partition key, carried denormalized so partition
	// overwrite never needs a date-dimension join.
	FactSale struct {
		OrderID     string
		CustomerKey int64
		ProductKey  int64
		StateKey    int64
		DateKey     int64
		Sales       float64
		Quantity    int
		Discount    float64
		Profit      float64
		Year        int
		Month       int
	}

	// StarDelta is the output of one modeling run: additive dimension deltas
	// and the fact rows for the batch.
	StarDelta struct {
		Customers []CustomerDim
		Products  []ProductDim
		States    []StateDim
		Dates     []DateDim
		Facts     []FactSale

		// Rejected counts fact rows dropped for unresolvable dimension keys.
		Rejected int64
	}
)
