package risk

import "math/big"

// priceScale is the e6 fixed-point scale every price in this package is
// expressed in.
const priceScale = int64(1_000_000)

// checkedMulDivI64 computes (a*b)/d using a 128-bit intermediate so a*b can
// never silently overflow int64, and reports whether the final result still
// fits in int64.
func checkedMulDivI64(a, b, d int64) (int64, bool) {
	if d == 0 {
		return 0, false
	}
	num := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	q := new(big.Int).Quo(num, big.NewInt(d))
	if !q.IsInt64() {
		return 0, false
	}
	return q.Int64(), true
}

// markPnL computes the unrealized PnL of a position of size (signed, long>0)
// at entryPrice against oraclePrice, both e6-scaled. Zero position is always
// zero PnL. Returns ok=false on overflow, per the crank's documented
// conservative "wipe" fallback.
func markPnL(position int64, entryPriceE6, oraclePriceE6 uint64) (int64, bool) {
	if position == 0 {
		return 0, true
	}
	priceDiff := int64(oraclePriceE6) - int64(entryPriceE6)
	return checkedMulDivI64(position, priceDiff, priceScale)
}

// MarkPnL is the exported form of markPnL, used by the crank's liquidation
// and equity checks.
func MarkPnL(position int64, entryPriceE6, oraclePriceE6 uint64) (int64, bool) {
	return markPnL(position, entryPriceE6, oraclePriceE6)
}

// notional computes |position| * priceE6 / priceScale, saturating semantics
// are the caller's responsibility (used only for margin sizing here, where
// overflow should hard-fail like any other checked arithmetic).
func notional(absPosition uint64, priceE6 uint64) (uint64, bool) {
	v, ok := checkedMulDivI64(int64(absPosition), int64(priceE6), priceScale)
	if !ok || v < 0 {
		return 0, false
	}
	return uint64(v), true
}

// Notional is the exported form of notional.
func Notional(absPosition uint64, priceE6 uint64) (uint64, bool) {
	return notional(absPosition, priceE6)
}

// requiredMargin computes the margin an account must maintain against an
// absolute position at the given oracle price and margin ratio in bps.
func requiredMargin(absPosition uint64, oraclePriceE6 uint64, marginBps uint64) (uint64, bool) {
	n, ok := notional(absPosition, oraclePriceE6)
	if !ok {
		return 0, false
	}
	m, ok := checkedMulDivI64(int64(n), int64(marginBps), 10_000)
	if !ok || m < 0 {
		return 0, false
	}
	return uint64(m), true
}

// RequiredMargin is the exported form of requiredMargin.
func RequiredMargin(absPosition uint64, oraclePriceE6 uint64, marginBps uint64) (uint64, bool) {
	return requiredMargin(absPosition, oraclePriceE6, marginBps)
}

// Equity computes an account's current equity: capital plus mark-PnL minus
// reserved PnL, the same quantity Withdraw checks against required margin.
func (a *Account) Equity(oraclePriceE6 uint64) (int64, bool) {
	mark, ok := markPnL(a.Position, a.EntryPriceE6, oraclePriceE6)
	if !ok {
		return 0, false
	}
	return int64(a.Capital) + mark - int64(a.ReservedPnL), true
}

// fundingPayment computes the funding transfer owed on a position between
// two funding-index observations. Positive means the account receives
// funding; negative means it pays.
func fundingPayment(position int64, indexNow, indexLast int64) (int64, bool) {
	if position == 0 {
		return 0, true
	}
	deltaIndex := indexNow - indexLast
	return checkedMulDivI64(position, deltaIndex, priceScale)
}
