package dataset

import (
	"testing"
	"time"
)

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()

	d, err := time.Parse("2006-01-02", value)
	if err != nil {
		t.Fatalf("failed to parse test date %q: %v", value, err)
	}

	return d
}

func TestNormalizeColumnName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple space separator",
			input:    "Order ID",
			expected: "order_id",
		},
		{
			name:     "hyphen separator",
			input:    "Sub-Category",
			expected: "sub_category",
		},
		{
			name:     "surrounding whitespace",
			input:    "  Postal Code ",
			expected: "postal_code",
		},
		{
			name:     "already normalized",
			input:    "customer_id",
			expected: "customer_id",
		},
		{
			name:     "run of separators collapses",
			input:    "Ship -- Mode",
			expected: "ship_mode",
		},
		{
			name:     "mixed case no separator",
			input:    "ProfitMargin",
			expected: "profitmargin",
		},
		{
			name:     "trailing separator dropped",
			input:    "Discount%",
			expected: "discount",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeColumnName(tt.input)
			if got != tt.expected {
				t.Errorf("NormalizeColumnName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeStateName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "surrounding whitespace stripped",
			input:    "  Texas ",
			expected: "Texas",
		},
		{
			name:     "inner whitespace collapsed",
			input:    "New    York",
			expected: "New York",
		},
		{
			name:     "case preserved",
			input:    "North Carolina",
			expected: "North Carolina",
		},
		{
			name:     "empty input",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeStateName(tt.input)
			if got != tt.expected {
				t.Errorf("NormalizeStateName(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCleanedRecordPartition(t *testing.T) {
	rec := CleanedRecord{OrderDate: mustDate(t, "2023-01-05")}

	year, month := rec.Partition()
	if year != 2023 || month != 1 {
		t.Errorf("Partition() = (%d, %d), want (2023, 1)", year, month)
	}
}

func TestDedupKeyDistinguishesFields(t *testing.T) {
	// The separator must prevent ("ab", "c") and ("a", "bc") from colliding.
	a := CleanedRecord{OrderID: "ab", ProductID: "c"}
	b := CleanedRecord{OrderID: "a", ProductID: "bc"}

	if a.DedupKey() == b.DedupKey() {
		t.Error("DedupKey() collides for distinct (order_id, product_id) pairs")
	}
}
