// Package crank implements the permissionless keeper tick: funding accrual
// against the stored (not yet updated) rate, best-effort caller and
// per-account settlement, bounded cursor iteration over the account table,
// closed-form liquidation sizing, force-realize under low insurance, and
// dust sweeping on cursor wraparound. It is grounded on the same
// cursor-bounded, best-effort-continue loop shape the teacher's keeper tick
// uses over open orders, adapted here to a fixed-capacity account table
// instead of a dynamically fetched order list.
package crank

import (
	"github.com/percolator-labs/percolator/internal/decision"
	"github.com/percolator-labs/percolator/internal/percerr"
	"github.com/percolator-labs/percolator/internal/risk"
	"github.com/percolator-labs/percolator/internal/units"
)

// AccountsPerCrank bounds how many account-table slots one KeeperCrank
// instruction walks, so the instruction stays inside a fixed compute budget.
const AccountsPerCrank = 16

// LiquidationBudgetPerTick bounds how many partial liquidations one tick may
// perform, independent of how many accounts it merely touches.
const LiquidationBudgetPerTick = 4

// LiquidationBufferBps is added on top of the maintenance margin ratio when
// sizing a liquidation slice, so the account lands comfortably above the
// maintenance line rather than exactly on it.
const LiquidationBufferBps = 200 // 2%

// MinLiquidationAbs is the dust kill-switch: a liquidation that would leave
// less than this much absolute position outstanding closes the position
// fully instead.
const MinLiquidationAbs = 1

// CallerSettleFeeDiscountBps is the discount applied to the caller's own
// maintenance fee when it settles itself via the crank (spec's incentive to
// call the crank at all).
const CallerSettleFeeDiscountBps = 5_000 // 50%

// State is the crank-relevant subset of slab state: the risk engine plus the
// market-scoped fields the crank reads and mutates that don't belong to any
// one account. internal/slab builds this view from its header and persisted
// crank fields for each KeeperCrank and writes it back afterwards.
type State struct {
	Engine *risk.Engine
	Params risk.MarketParams

	// StoredFundingRateBps is the rate this crank applies; PendingFundingRateBps
	// is whatever an admin op most recently set, and only takes effect on the
	// *next* crank (anti-retroactivity).
	StoredFundingRateBps  int64
	PendingFundingRateBps int64
	LastFundingSlot       uint64

	InsuranceFund          uint64
	RiskReductionThreshold uint64

	Cursor        uint32
	SweepStartIdx uint32
	SweepActive   bool
	DustAccum     uint64
}

// TickSummary reports what one KeeperCrank invocation did, for the caller to
// log the way the teacher logs its own tick summary.
type TickSummary struct {
	Touched       int
	FeesCollected int
	Liquidated    int
	ForceClosed   int
	GCed          int
	SweepSwept    bool
}

// Tick runs one KeeperCrank instruction. callerIdx/hasCaller identify an
// optional caller account to settle at a discount. The dispatcher has
// already authorized the crank through decide_crank before Tick is called:
// a crank that names no account is permissionless, and panicMode only lets
// the admin name an account it does not own.
func (s *State) Tick(hasCaller bool, callerIdx uint32, slot uint64, oraclePriceE6 uint64) (TickSummary, error) {
	var summary TickSummary

	if err := s.accrueFunding(slot); err != nil {
		return summary, err
	}

	if hasCaller {
		if err := s.Engine.CheckIdx(callerIdx); err == nil {
			s.settleCallerDiscounted(callerIdx, oraclePriceE6)
		}
	}

	forceRealizeActive := decision.GatePolicy(s.RiskReductionThreshold, s.InsuranceFund)

	liquidationsThisTick := 0
	start := s.Cursor
	wrapped := false
	for i := 0; i < AccountsPerCrank; i++ {
		idx := (start + uint32(i)) % risk.MaxAccounts
		if idx < start {
			wrapped = true
		}

		acc := &s.Engine.Accounts[idx]
		if !acc.Used {
			continue
		}

		outcome := s.processAccount(idx, oraclePriceE6, slot, forceRealizeActive, &liquidationsThisTick)
		summary.Touched++
		switch outcome {
		case outcomeFeeCollected:
			summary.FeesCollected++
		case outcomeLiquidated:
			summary.Liquidated++
		case outcomeForceClosed:
			summary.ForceClosed++
		case outcomeGCed:
			summary.GCed++
		}
	}

	s.Cursor = (start + AccountsPerCrank) % risk.MaxAccounts
	if wrapped || s.Cursor == s.SweepStartIdx {
		swept := s.DustAccum
		if swept > 0 {
			s.InsuranceFund = units.AccumulateDust(s.InsuranceFund, swept)
			s.DustAccum = 0
			summary.SweepSwept = true
		}
		s.SweepStartIdx = s.Cursor
		s.SweepActive = false
	}

	return summary, nil
}

// accrueFunding advances the funding index using the rate stored from the
// previous crank, then rotates the pending rate into place for next time.
// dt=0 (same-slot re-entry) is a no-op, matching ClampTowardWithDt's
// dt=0 convention elsewhere in this program.
func (s *State) accrueFunding(slot uint64) error {
	if slot <= s.LastFundingSlot {
		return nil
	}
	dt := slot - s.LastFundingSlot
	if err := s.Engine.UpdateFundingIndex(s.StoredFundingRateBps, dt, s.Params); err != nil {
		return err
	}
	s.LastFundingSlot = slot
	s.StoredFundingRateBps = s.PendingFundingRateBps
	return nil
}

// settleCallerDiscounted charges the caller's own maintenance fee at half
// rate as an incentive to invoke the crank; best-effort, never fails the
// tick.
func (s *State) settleCallerDiscounted(idx uint32, oraclePriceE6 uint64) {
	discounted := s.Params
	discounted.MaintenanceFeeBps = discounted.MaintenanceFeeBps * (10_000 - CallerSettleFeeDiscountBps) / 10_000
	if _, collectedUnits := s.Engine.ChargeMaintenanceFee(idx, oraclePriceE6, discounted); collectedUnits > 0 {
		s.DustAccum = units.AccumulateDust(s.DustAccum, collectedUnits)
	}
	_ = s.Engine.TouchAccountFull(idx, s.LastFundingSlot, oraclePriceE6, s.Params)
}

type accountOutcome int

const (
	outcomeNone accountOutcome = iota
	outcomeFeeCollected
	outcomeLiquidated
	outcomeForceClosed
	outcomeGCed
)

// processAccount runs the best-effort per-account sequence: maintenance fee,
// touch+warmup settle, then either force-realize, liquidate, force-close, or
// garbage-collect as applicable. Any step that fails is skipped rather than
// aborting the tick, matching the crank's documented best-effort exceptions
// to the otherwise all-or-nothing propagation rule.
func (s *State) processAccount(idx uint32, oraclePriceE6 uint64, slot uint64, forceRealizeActive bool, liquidationsThisTick *int) accountOutcome {
	outcome := outcomeNone

	if collected, collectedUnits := s.Engine.ChargeMaintenanceFee(idx, oraclePriceE6, s.Params); collectedUnits > 0 {
		s.DustAccum = units.AccumulateDust(s.DustAccum, collectedUnits)
		if collected {
			outcome = outcomeFeeCollected
		}
	}

	if err := s.Engine.TouchAccountFull(idx, slot, oraclePriceE6, s.Params); err != nil {
		return outcome
	}

	acc := &s.Engine.Accounts[idx]

	if acc.Position == 0 {
		if closeable(acc) {
			if err := s.Engine.CloseAccount(idx); err == nil {
				return outcomeGCed
			}
		}
		return outcome
	}

	if forceRealizeActive {
		if err := s.Engine.OracleClosePosition(idx, oraclePriceE6, slot, s.Params); err == nil {
			return outcomeForceClosed
		}
		return outcome
	}

	equity, ok := acc.Equity(oraclePriceE6)
	if !ok {
		return outcome
	}
	required, ok := risk.RequiredMargin(acc.AbsPosition(), oraclePriceE6, s.Params.MaintenanceMarginBps)
	if !ok {
		return outcome
	}
	underwater := equity < int64(required)

	if !underwater {
		return outcome
	}
	if equity <= 0 || *liquidationsThisTick >= LiquidationBudgetPerTick {
		if err := s.Engine.OracleClosePosition(idx, oraclePriceE6, slot, s.Params); err == nil {
			return outcomeForceClosed
		}
		return outcome
	}

	closeAbs := s.liquidationSliceAbs(acc, oraclePriceE6, equity)
	if closeAbs == 0 {
		return outcome
	}
	if err := s.Engine.OracleClosePositionSlice(idx, closeAbs, oraclePriceE6, slot, s.Params); err != nil {
		return outcome
	}
	*liquidationsThisTick++
	return outcomeLiquidated
}

// liquidationSliceAbs derives the closed-form absolute position size to
// close so the remaining position's required margin at
// maintenance+LiquidationBufferBps lands at the account's current equity.
// Required margin scales linearly with |position| at a fixed price, so the
// fraction of position to retain is equity/required_margin(abs_pos, target_bps).
// Subtracts a one-unit conservative rounding guard, and closes fully instead
// (the dust kill-switch) when that would leave less than MinLiquidationAbs
// outstanding.
func (s *State) liquidationSliceAbs(acc *risk.Account, oraclePriceE6 uint64, equity int64) uint64 {
	absPos := acc.AbsPosition()
	if equity <= 0 {
		return absPos
	}

	targetBps := s.Params.MaintenanceMarginBps + LiquidationBufferBps
	requiredAtTargetBps, ok := risk.RequiredMargin(absPos, oraclePriceE6, targetBps)
	if !ok || requiredAtTargetBps == 0 {
		return absPos
	}
	if uint64(equity) >= requiredAtTargetBps {
		return 0
	}

	keepAbs := absPos * uint64(equity) / requiredAtTargetBps
	if keepAbs >= absPos {
		return 0
	}
	closeAbs := absPos - keepAbs
	if closeAbs > 0 {
		closeAbs-- // conservative one-unit rounding guard
	}
	remaining := absPos - closeAbs
	if remaining < MinLiquidationAbs || closeAbs == 0 {
		return absPos
	}
	return closeAbs
}

// closeable reports whether an account with no open position also has no
// outstanding reserved PnL or fee debt, and has been fully drained of
// capital, making it eligible for the crank's garbage-collection sweep.
func closeable(acc *risk.Account) bool {
	return acc.Position == 0 && acc.ReservedPnL == 0 && acc.FeeCredits >= 0 && acc.Capital == 0
}

// SetPendingFundingRate records a new funding rate to take effect on the
// crank tick *after* the current one, per the anti-retroactivity rule.
func (s *State) SetPendingFundingRate(rateBps int64, cfg risk.MarketParams) error {
	if rateBps > cfg.FundingRateCapBps || rateBps < -cfg.FundingRateCapBps {
		return percerr.Wrap(percerr.ErrInvalidConfig, "funding rate outside allowed range")
	}
	s.PendingFundingRateBps = rateBps
	return nil
}
