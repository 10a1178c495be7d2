package dataset

import (
	"strings"
	"unicode"
)

// NormalizeColumnName normalizes a source column name to the warehouse contract
// to prevent schema drift when upstream exports rename or reformat headers
// inconsistently.
//
// Normalization rules:
//  1. Leading/trailing whitespace is stripped.
//  2. Letters are lowercased.
//  3. Every run of non-alphanumeric characters collapses to a single "_".
//  4. Leading/trailing separators are dropped.
//
// Rationale:
// The same upstream feed has shipped headers as "Order ID", "order-id" and
// "Order_ID " across exports. Without normalization these appear as three
// different columns and break the typed layer schemas downstream.
//
// Examples:
//   - NormalizeColumnName("Order ID") → "order_id"
//   - NormalizeColumnName("Sub-Category") → "sub_category"
//   - NormalizeColumnName("  Postal Code ") → "postal_code"
//
// Returns: Normalized column name string.
func NormalizeColumnName(name string) string {
	name = strings.TrimSpace(name)

	var b strings.Builder

	b.Grow(len(name))

	pendingSep := false

	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}

			pendingSep = false

			b.WriteRune(unicode.ToLower(r))

			continue
		}

		pendingSep = true
	}

	return b.String()
}

// NormalizeStateName canonicalizes a state value for use as a dimension
// natural key and geocoder lookup key. Lookups and key assignment must agree
// on the same form, otherwise "Texas" and " texas " become two dimension rows
// and two external lookups.
func NormalizeStateName(state string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(state)), " ")
}
