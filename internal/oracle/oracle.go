// Package oracle turns a raw price-feed account (Pyth push-oracle,
// Chainlink OCR2, or an authority-pushed value) into a non-negative e6-fixed
// point price, and rate-limits how fast the slab's effective index can move
// toward a freshly observed mark price.
package oracle

import (
	"math"

	"github.com/percolator-labs/percolator/internal/percerr"
)

// PriceE6 is a price fixed at 1e6 units per whole token.
type PriceE6 = uint64

// Cache mirrors the slab header's oracle_cache: the last parsed price, the
// last clamped effective price, the slot it became effective at, and an
// optional circuit-breaker cap (0 means disabled).
type Cache struct {
	LastParsed     PriceE6
	LastEffective  PriceE6
	LastSlot       uint64
	CircuitBreaker PriceE6
}

// ClampTowardWithDt rate-limits index toward mark by at most cap*dt.
//
//   - dt == 0 or cap == 0: index is returned unchanged (also makes a second
//     crank within the same slot a no-op).
//   - index == 0: bootstrap discovery, mark is accepted outright.
//   - otherwise: index moves toward mark by at most cap*dt, saturating the
//     step at the observed distance so it never overshoots.
func ClampTowardWithDt(index, mark, cap, dt uint64) uint64 {
	if dt == 0 || cap == 0 {
		return index
	}
	if index == 0 {
		return mark
	}

	limit := saturatingMul(cap, dt)

	if mark >= index {
		delta := mark - index
		if delta > limit {
			delta = limit
		}
		return index + delta
	}
	delta := index - mark
	if delta > limit {
		delta = limit
	}
	return index - delta
}

func saturatingMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}

// ApplyCircuitBreaker rejects a parsed price that lies outside [0, cap] when
// cap is nonzero. A cap of 0 means the breaker is disabled.
func ApplyCircuitBreaker(price PriceE6, cap PriceE6) (PriceE6, error) {
	if cap != 0 && price > cap {
		return 0, percerr.Wrap(percerr.ErrOracleFailure, "price exceeds circuit-breaker cap")
	}
	return price, nil
}
