package risk

import "github.com/percolator-labs/percolator/internal/percerr"

// Deposit credits units of collateral to idx.
func (e *Engine) Deposit(idx uint32, units uint64) error {
	if err := e.CheckIdx(idx); err != nil {
		return err
	}
	acc := &e.Accounts[idx]
	acc.Capital += units
	e.CTot += units
	return nil
}

// Withdraw settles funding and fees, then rejects the withdrawal if the
// account would fall below its required margin afterward.
func (e *Engine) Withdraw(idx uint32, units uint64, oraclePriceE6 uint64, slot uint64, cfg MarketParams) error {
	if err := e.CheckIdx(idx); err != nil {
		return err
	}
	if units > e.Accounts[idx].Capital {
		return percerr.Wrap(percerr.ErrInsufficientMargin, "withdrawal exceeds capital")
	}

	if err := e.settleFunding(idx); err != nil {
		return err
	}
	if err := e.settleFeeDebt(idx); err != nil {
		return err
	}

	acc := &e.Accounts[idx]
	postCapital := acc.Capital - units
	mark, ok := markPnL(acc.Position, acc.EntryPriceE6, oraclePriceE6)
	if !ok {
		return percerr.Wrap(percerr.ErrOverflow, "mark-PnL overflow during withdraw margin check")
	}

	equity := int64(postCapital) + mark - int64(acc.ReservedPnL)
	required, ok := requiredMargin(acc.AbsPosition(), oraclePriceE6, cfg.MaintenanceMarginBps)
	if !ok {
		return percerr.Wrap(percerr.ErrOverflow, "required-margin overflow during withdraw check")
	}
	if equity < int64(required) {
		return percerr.Wrap(percerr.ErrInsufficientMargin, "withdrawal would breach required margin")
	}

	acc.Capital = postCapital
	e.CTot -= units
	return nil
}

// Trade applies a signed execution to both the user and the LP side of a
// fill: settles funding, updates position/OI/LP aggregates, realizes
// mark-PnL against the settlement price, and recomputes each side's warmup
// schedule if its available-gross PnL increased.
func (e *Engine) Trade(userIdx, lpIdx uint32, signedExecSize int64, execPriceE6, oraclePriceE6 uint64, slot uint64, cfg MarketParams) error {
	if err := e.CheckIdx(userIdx); err != nil {
		return err
	}
	if err := e.CheckIdx(lpIdx); err != nil {
		return err
	}
	if signedExecSize == 0 {
		return percerr.Wrap(percerr.ErrStateInvariant, "trade exec_size must be nonzero")
	}

	if err := e.settleFunding(userIdx); err != nil {
		return err
	}
	if err := e.settleFunding(lpIdx); err != nil {
		return err
	}

	if err := e.applyFill(userIdx, signedExecSize, execPriceE6, oraclePriceE6, slot, cfg); err != nil {
		return err
	}
	if err := e.applyFill(lpIdx, -signedExecSize, execPriceE6, oraclePriceE6, slot, cfg); err != nil {
		return err
	}
	return nil
}

// applyFill realizes execSize against one side of a trade: books realized
// PnL on the closed portion of any existing opposite-sign position, updates
// OI aggregates, and resets the entry price to oraclePrice so mark_pnl=0
// immediately after settlement.
func (e *Engine) applyFill(idx uint32, execSize int64, execPriceE6, oraclePriceE6 uint64, slot uint64, cfg MarketParams) error {
	acc := &e.Accounts[idx]
	oldPosition := acc.Position

	if oldPosition > 0 {
		e.OiLong -= uint64(oldPosition)
	} else if oldPosition < 0 {
		e.OiShort -= uint64(-oldPosition)
	}

	closingAmount := int64(0)
	if oldPosition != 0 && sign(oldPosition) != sign(execSize) {
		closingAmount = minI64(absI64(oldPosition), absI64(execSize))
		if sign(execSize) < 0 {
			closingAmount = -closingAmount
		}
		pnl, ok := checkedMulDivI64(-closingAmount, int64(execPriceE6)-int64(acc.EntryPriceE6), priceScale)
		if !ok {
			return percerr.Wrap(percerr.ErrOverflow, "realized-PnL overflow during trade")
		}
		if err := e.creditRealizedPnL(idx, pnl); err != nil {
			return err
		}
	}

	newPosition := oldPosition + execSize
	acc.Position = newPosition
	acc.EntryPriceE6 = oraclePriceE6

	if newPosition > 0 {
		e.OiLong += uint64(newPosition)
	} else if newPosition < 0 {
		e.OiShort += uint64(-newPosition)
	}
	if acc.Kind == KindLP {
		abs := acc.AbsPosition()
		if abs > acc.LPAbsPosMax {
			acc.LPAbsPosMax = abs
		}
	}

	return e.maybeRestartWarmup(idx, slot, cfg)
}

// creditRealizedPnL adjusts realized_pnl while keeping pnl_pos_tot correct.
func (e *Engine) creditRealizedPnL(idx uint32, delta int64) error {
	acc := &e.Accounts[idx]
	before := maxI64(acc.RealizedPnL, 0)
	acc.RealizedPnL += delta
	after := maxI64(acc.RealizedPnL, 0)
	if after > before {
		e.PnlPosTot += uint64(after - before)
	} else if before > after {
		e.PnlPosTot -= uint64(before - after)
	}
	return nil
}

// SetPnL adjusts realized_pnl directly (used by admin/oracle-close paths)
// while maintaining pnl_pos_tot.
func (e *Engine) SetPnL(idx uint32, newPnL int64) error {
	if err := e.CheckIdx(idx); err != nil {
		return err
	}
	acc := &e.Accounts[idx]
	before := maxI64(acc.RealizedPnL, 0)
	after := maxI64(newPnL, 0)
	acc.RealizedPnL = newPnL
	if after > before {
		e.PnlPosTot += uint64(after - before)
	} else if before > after {
		e.PnlPosTot -= uint64(before - after)
	}
	return nil
}

// TouchAccountFull settles funding, fees, and warmup vesting in one call;
// used before closing an account or on demand by the crank.
func (e *Engine) TouchAccountFull(idx uint32, slot uint64, oraclePriceE6 uint64, cfg MarketParams) error {
	if err := e.CheckIdx(idx); err != nil {
		return err
	}
	if err := e.settleFunding(idx); err != nil {
		return err
	}
	if err := e.settleFeeDebt(idx); err != nil {
		return err
	}
	e.vestWarmup(idx, slot)
	return nil
}

// OracleClosePosition closes idx's entire position at oraclePrice. If the
// mark-PnL computation overflows, capital is wiped as a documented
// conservative failure mode rather than leaving inconsistent state.
func (e *Engine) OracleClosePosition(idx uint32, oraclePriceE6 uint64, slot uint64, cfg MarketParams) error {
	if err := e.CheckIdx(idx); err != nil {
		return err
	}
	acc := &e.Accounts[idx]
	if acc.Position == 0 {
		e.vestWarmup(idx, slot)
		return nil
	}

	if acc.Position > 0 {
		e.OiLong -= uint64(acc.Position)
	} else {
		e.OiShort -= uint64(-acc.Position)
	}

	mark, ok := markPnL(acc.Position, acc.EntryPriceE6, oraclePriceE6)
	if !ok {
		e.CTot -= acc.Capital
		acc.Capital = 0
		acc.Position = 0
		e.vestWarmup(idx, slot)
		return nil
	}
	acc.Position = 0

	if mark < 0 {
		absLoss := uint64(-mark)
		if absLoss >= acc.Capital {
			e.CTot -= acc.Capital
			acc.Capital = 0
		} else {
			acc.Capital -= absLoss
			e.CTot -= absLoss
		}
	} else if mark > 0 {
		if err := e.creditRealizedPnL(idx, mark); err != nil {
			return err
		}
	}

	e.vestWarmup(idx, slot)
	return nil
}

// OracleClosePositionSlice closes closeAbs units of idx's position at
// oraclePrice, or falls through to a full close when closeAbs covers the
// whole position. Partial closes leave the entry price unchanged.
func (e *Engine) OracleClosePositionSlice(idx uint32, closeAbs uint64, oraclePriceE6 uint64, slot uint64, cfg MarketParams) error {
	if err := e.CheckIdx(idx); err != nil {
		return err
	}
	acc := &e.Accounts[idx]
	if acc.Position == 0 {
		return nil
	}
	if closeAbs >= acc.AbsPosition() {
		return e.OracleClosePosition(idx, oraclePriceE6, slot, cfg)
	}

	closeSigned := int64(closeAbs)
	if acc.Position < 0 {
		closeSigned = -closeSigned
	}

	pnl, ok := checkedMulDivI64(closeSigned, int64(oraclePriceE6)-int64(acc.EntryPriceE6), priceScale)
	if !ok {
		return percerr.Wrap(percerr.ErrOverflow, "realized-PnL overflow during partial oracle close")
	}

	if acc.Position > 0 {
		e.OiLong -= closeAbs
	} else {
		e.OiShort -= closeAbs
	}
	acc.Position -= closeSigned
	if acc.Kind == KindLP {
		abs := acc.AbsPosition()
		if abs > acc.LPAbsPosMax {
			acc.LPAbsPosMax = abs
		}
	}

	return e.creditRealizedPnL(idx, pnl)
}

// UpdateFundingIndex advances the funding index by rateBps*dtSlots/10_000, clamping
// rate to ±FundingRateCapBps and dt to MaxFundingDtSlots, and hard-failing
// on overflow rather than wrapping.
func (e *Engine) UpdateFundingIndex(rateBps int64, dtSlots uint64, cfg MarketParams) error {
	if rateBps > cfg.FundingRateCapBps {
		rateBps = cfg.FundingRateCapBps
	}
	if rateBps < -cfg.FundingRateCapBps {
		rateBps = -cfg.FundingRateCapBps
	}
	if dtSlots > cfg.MaxFundingDtSlots {
		dtSlots = cfg.MaxFundingDtSlots
	}
	delta, ok := checkedMulDivI64(rateBps, int64(dtSlots), 10_000)
	if !ok {
		return percerr.Wrap(percerr.ErrOverflow, "funding rate*dt overflow")
	}
	next := e.FundingIndexQPBE6 + delta
	if (delta > 0 && next < e.FundingIndexQPBE6) || (delta < 0 && next > e.FundingIndexQPBE6) {
		return percerr.Wrap(percerr.ErrOverflow, "funding index overflow")
	}
	e.FundingIndexQPBE6 = next
	return nil
}

// settleFunding applies the funding payment owed since idx's last
// settlement and rolls its stored index forward.
func (e *Engine) settleFunding(idx uint32) error {
	acc := &e.Accounts[idx]
	payment, ok := fundingPayment(acc.Position, e.FundingIndexQPBE6, acc.FundingLastIndexQPBE6)
	if !ok {
		return percerr.Wrap(percerr.ErrOverflow, "funding payment overflow")
	}
	if payment != 0 {
		if err := e.creditRealizedPnL(idx, payment); err != nil {
			return err
		}
	}
	acc.FundingLastIndexQPBE6 = e.FundingIndexQPBE6
	return nil
}

// settleFeeDebt clears an account's negative fee_credits against its
// capital where possible.
func (e *Engine) settleFeeDebt(idx uint32) error {
	acc := &e.Accounts[idx]
	if acc.FeeCredits >= 0 {
		return nil
	}
	owed := uint64(-acc.FeeCredits)
	paid := owed
	if paid > acc.Capital {
		paid = acc.Capital
	}
	acc.Capital -= paid
	e.CTot -= paid
	acc.FeeCredits += int64(paid)
	if acc.FeeCredits < 0 {
		e.FeeDebtTot -= owed - uint64(-acc.FeeCredits)
	} else {
		e.FeeDebtTot -= owed
	}
	return nil
}

// ChargeMaintenanceFee is the crank's best-effort per-tick fee charge: it
// never fails hard, only reports whether it could fully collect and how much
// was actually pulled from capital. The amount collected from capital is not
// booked anywhere else in the account table (it just leaves c_tot), so it
// becomes float the crank later sweeps into the insurance fund.
func (e *Engine) ChargeMaintenanceFee(idx uint32, oraclePriceE6 uint64, cfg MarketParams) (collected bool, collectedUnits uint64) {
	acc := &e.Accounts[idx]
	fee, ok := requiredMargin(acc.AbsPosition(), oraclePriceE6, cfg.MaintenanceFeeBps)
	if !ok || fee == 0 {
		return true, 0
	}
	payFromCapital := fee
	if payFromCapital > acc.Capital {
		payFromCapital = acc.Capital
	}
	acc.Capital -= payFromCapital
	e.CTot -= payFromCapital

	remaining := fee - payFromCapital
	if remaining == 0 {
		return true, payFromCapital
	}
	acc.FeeCredits -= int64(remaining)
	e.FeeDebtTot += remaining
	return false, payFromCapital
}

// maybeRestartWarmup recomputes the warmup schedule when an account's
// available-gross (its total unvested reserved PnL) increases, restarting
// the linear schedule so the full outstanding amount vests over one warmup
// period from now.
func (e *Engine) maybeRestartWarmup(idx uint32, slot uint64, cfg MarketParams) error {
	acc := &e.Accounts[idx]
	availGross := acc.ReservedPnL
	increased := false
	if acc.RealizedPnL > 0 {
		newlyReserved := uint64(acc.RealizedPnL)
		if newlyReserved > availGross {
			acc.ReservedPnL = newlyReserved
			availGross = newlyReserved
			increased = true
		}
	}
	if !increased {
		return nil
	}
	slope := availGross / cfg.WarmupPeriodSlots
	if slope < 1 {
		slope = 1
	}
	acc.WarmupSlope = slope
	acc.WarmupRemaining = availGross
	acc.WarmupStartedSlot = slot
	return nil
}

// vestWarmup releases WarmupSlope*(slot-WarmupStartedSlot) of reserved PnL
// into capital, saturating at WarmupRemaining.
func (e *Engine) vestWarmup(idx uint32, slot uint64) {
	acc := &e.Accounts[idx]
	if acc.WarmupRemaining == 0 || slot <= acc.WarmupStartedSlot {
		return
	}
	elapsed := slot - acc.WarmupStartedSlot
	vested := acc.WarmupSlope * elapsed
	if vested > acc.WarmupRemaining {
		vested = acc.WarmupRemaining
	}
	if vested == 0 {
		return
	}
	acc.WarmupRemaining -= vested
	acc.ReservedPnL -= vested
	acc.Capital += vested
	e.CTot += vested
	acc.WarmupStartedSlot = slot
}

func sign(v int64) int {
	if v > 0 {
		return 1
	}
	if v < 0 {
		return -1
	}
	return 0
}

func absI64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func minI64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
