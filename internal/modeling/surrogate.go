// Package modeling derives the star schema from enriched order records.
//
// The modeler produces deduplicated dimension deltas (customer, product,
// state, date) and a fact delta whose foreign keys are guaranteed to resolve
// against the dimensions at write time. Surrogate keys are pure functions of
// natural keys, so parallel writers and re-runs can never disagree on an
// assignment.
package modeling

import (
	"crypto/sha256"
	"encoding/binary"
	"time"
)

// Dimension kinds, used as the hash domain separator so the same natural key
// string never collides across dimensions.
const (
	KindCustomer = "customer"
	KindProduct  = "product"
	KindState    = "state"
	KindDate     = "date"
)

// SurrogateKey derives the stable surrogate key for a dimension row.
//
// Formula: first 8 bytes of SHA-256("{kind}|{natural}"), big-endian, masked
// to a non-negative int64 (warehouse keys are BIGINT).
//
// Properties:
//   - Pure function of (kind, natural): the same natural key always maps to
//     the same surrogate key, across runs, processes, and parallel writers.
//     No lookup-and-increment coordination is needed.
//   - Domain separated: customer "X" and product "X" get different keys.
//
// Key assignment is therefore idempotent by construction; the first-write-wins
// persistence policy only governs dimension attributes, never the keys.
func SurrogateKey(kind, natural string) int64 {
	h := sha256.New()
	h.Write([]byte(kind))
	h.Write([]byte{'|'})
	h.Write([]byte(natural))

	sum := h.Sum(nil)

	//nolint:gosec // deliberate truncation of a hash digest
	return int64(binary.BigEndian.Uint64(sum[:8]) &^ (1 << 63))
}

// DateKey derives the surrogate key for a calendar date.
// The natural key is the ISO form of the date, so "2023-01-05" keys
// identically regardless of the source layout it arrived in.
func DateKey(d time.Time) int64 {
	return SurrogateKey(KindDate, d.Format("2006-01-02"))
}
