// Package units implements the lossless base<->units conversion the slab
// uses to translate on-chain token amounts ("base") into the risk engine's
// internal integer scale ("units"), plus the dust accounting that keeps the
// conversion exact across many small deposits and withdrawals.
package units

import "math"

// MaxUnitScale is the largest accepted unit_scale (spec.md S4.1, init_market_scale).
const MaxUnitScale = 1_000_000_000

// BaseToUnits converts a base amount into units and the remainder ("dust")
// that could not be represented. scale == 0 means identity: dust is always 0.
//
// Invariant: units*scale + dust == base, and 0 <= dust < scale (when scale > 0).
func BaseToUnits(base uint64, scale uint64) (units uint64, dust uint64) {
	if scale == 0 {
		return base, 0
	}
	return base / scale, base % scale
}

// UnitsToBase converts units back to base, saturating at math.MaxUint64
// rather than wrapping on overflow.
func UnitsToBase(u uint64, scale uint64) uint64 {
	if scale == 0 {
		return u
	}
	if u == 0 {
		return 0
	}
	if u > math.MaxUint64/scale {
		return math.MaxUint64
	}
	return u * scale
}

// AccumulateDust adds dust to an accumulator with saturating addition.
func AccumulateDust(acc uint64, dust uint64) uint64 {
	sum := acc + dust
	if sum < acc {
		return math.MaxUint64
	}
	return sum
}

// SweepDust splits an accumulator into the portion that is an exact multiple
// of scale (ready to move into the insurance fund) and the remainder that
// must stay in the accumulator. scale == 0 sweeps nothing.
func SweepDust(acc uint64, scale uint64) (swept uint64, remaining uint64) {
	if scale == 0 {
		return 0, acc
	}
	whole := acc / scale
	swept = whole * scale
	remaining = acc - swept
	return swept, remaining
}

// WithdrawAligned reports whether amount can be withdrawn without leaving a
// fractional-base remainder. scale == 0 is always aligned.
func WithdrawAligned(amount uint64, scale uint64) bool {
	if scale == 0 {
		return true
	}
	return amount%scale == 0
}

// ScalePriceE6 rescales an e6-fixed-point price by the same divisor
// BaseToUnits uses, so a price and an amount stay comparable after
// conversion. A result of exactly 0 is a hard failure: a unit_scale large
// enough to zero out the price would silently break every PnL computation
// downstream, so it is rejected here instead of propagating.
func ScalePriceE6(price uint64, scale uint64) (uint64, bool) {
	if scale <= 1 {
		return price, true
	}
	scaled := price / scale
	if scaled == 0 {
		return 0, false
	}
	return scaled, true
}

// InitMarketScale reports whether s is an acceptable unit_scale for
// InitMarket.
func InitMarketScale(s uint64) bool {
	return s <= MaxUnitScale
}
