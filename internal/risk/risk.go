// Package risk implements the slab's per-account accounting: capital,
// position, PnL, funding, and warmup vesting, plus the aggregate counters
// the conservation invariant is checked against. Every exported operation is
// total: on failure it returns a typed error and leaves the engine
// untouched, matching the all-or-nothing propagation the dispatcher expects.
package risk

import (
	"github.com/gagliardetto/solana-go"

	"github.com/percolator-labs/percolator/internal/percerr"
)

// MaxAccounts is the slab's fixed account-table capacity.
const MaxAccounts = 256

// Kind distinguishes a user margin account from a liquidity provider.
type Kind uint8

const (
	KindUser Kind = iota
	KindLP
)

// Account is one entry in the slab's fixed-capacity account table.
type Account struct {
	Used bool
	Owner solana.PublicKey
	Kind  Kind

	Capital      uint64 // non-negative
	Position     int64  // signed, long>0 short<0
	EntryPriceE6 uint64
	RealizedPnL  int64
	ReservedPnL  uint64 // non-negative, earmarked and not yet claimable
	FeeCredits   int64  // negative when fees are owed

	FundingLastIndexQPBE6 int64

	WarmupStartedSlot uint64
	WarmupSlope       uint64
	WarmupRemaining   uint64

	// LP-only. Zero for user accounts.
	MatcherProgram solana.PublicKey
	MatcherContext solana.PublicKey
	LPAbsPosMax    uint64
}

// AbsPosition returns |Position|.
func (a *Account) AbsPosition() uint64 {
	if a.Position < 0 {
		return uint64(-a.Position)
	}
	return uint64(a.Position)
}

// MarketParams are the risk-relevant market configuration values; the rest
// of the market config (funding curve, threshold tuning, oracle wiring)
// lives in internal/slab's MarketConfig.
type MarketParams struct {
	MaintenanceMarginBps uint64
	InitialMarginBps     uint64
	WarmupPeriodSlots    uint64
	FundingRateCapBps    int64  // ±10_000 per spec
	MaxFundingDtSlots    uint64 // one year of slots
	MaintenanceFeeBps    uint64 // charged per crank tick against notional
}

// DefaultMarketParams matches the spec's named constants where it names one,
// and picks conservative values for the open parameters it leaves to the
// implementer (see DESIGN.md).
var DefaultMarketParams = MarketParams{
	MaintenanceMarginBps: 500,  // 5%
	InitialMarginBps:     1000, // 10%
	WarmupPeriodSlots:    216_000,
	FundingRateCapBps:    10_000,
	MaxFundingDtSlots:    78_892_315, // ~1 year at ~400ms/slot
	MaintenanceFeeBps:    1,
}

// Engine holds the account table and the aggregates the conservation
// invariant is checked against.
type Engine struct {
	Accounts [MaxAccounts]Account
	NumUsed  uint32

	CTot              uint64
	PnlPosTot         uint64
	OiLong            uint64
	OiShort           uint64
	FeeDebtTot        uint64
	FundingIndexQPBE6 int64
}

// CheckIdx enforces §4.7's check_idx: idx must be in range and used.
func (e *Engine) CheckIdx(idx uint32) error {
	if idx >= MaxAccounts {
		return percerr.Wrap(percerr.ErrInvalidAccount, "account index out of range")
	}
	if !e.Accounts[idx].Used {
		return percerr.Wrap(percerr.ErrInvalidAccount, "account index not in use")
	}
	return nil
}

// InitAccount installs a new entry at idx (which must not currently be
// used) with zero capital. Called by InitUser/InitLP; no registration fee
// is charged on either path.
func (e *Engine) InitAccount(idx uint32, owner solana.PublicKey, kind Kind, matcherProgram, matcherContext solana.PublicKey) error {
	if idx >= MaxAccounts {
		return percerr.Wrap(percerr.ErrInvalidAccount, "account index out of range")
	}
	if e.Accounts[idx].Used {
		return percerr.Wrap(percerr.ErrInvalidAccount, "account index already in use")
	}
	e.Accounts[idx] = Account{
		Used: true, Owner: owner, Kind: kind,
		MatcherProgram: matcherProgram, MatcherContext: matcherContext,
	}
	e.NumUsed++
	return nil
}

// CloseAccount releases idx once its close precondition holds: zero
// position, zero reserved PnL, and no outstanding fee debt.
func (e *Engine) CloseAccount(idx uint32) error {
	if err := e.CheckIdx(idx); err != nil {
		return err
	}
	acc := &e.Accounts[idx]
	if acc.Position != 0 {
		return percerr.Wrap(percerr.ErrStateInvariant, "cannot close account with open position")
	}
	if acc.ReservedPnL != 0 {
		return percerr.Wrap(percerr.ErrStateInvariant, "cannot close account with reserved PnL outstanding")
	}
	if acc.FeeCredits < 0 {
		return percerr.Wrap(percerr.ErrStateInvariant, "cannot close account with fee debt outstanding")
	}
	e.CTot -= acc.Capital
	if acc.RealizedPnL > 0 {
		e.PnlPosTot -= uint64(acc.RealizedPnL)
	}
	*acc = Account{}
	e.NumUsed--
	return nil
}

// RecomputeAggregates recomputes every aggregate from scratch, for tests to
// check against the incrementally maintained values.
func (e *Engine) RecomputeAggregates() (cTot, pnlPosTot uint64, oiLong, oiShort, feeDebtTot uint64) {
	for i := range e.Accounts {
		acc := &e.Accounts[i]
		if !acc.Used {
			continue
		}
		cTot += acc.Capital
		if acc.RealizedPnL > 0 {
			pnlPosTot += uint64(acc.RealizedPnL)
		}
		if acc.Position > 0 {
			oiLong += uint64(acc.Position)
		} else if acc.Position < 0 {
			oiShort += uint64(-acc.Position)
		}
		if acc.FeeCredits < 0 {
			feeDebtTot += uint64(-acc.FeeCredits)
		}
	}
	return
}

// ConservationHolds recomputes vault-attributable liabilities and checks
// the global invariant vault_balance >= c_tot + insurance_fund +
// reserved_fee_debt, within slack.
func (e *Engine) ConservationHolds(vaultBalance, insuranceFund, slack uint64) bool {
	cTot, _, _, _, feeDebtTot := e.RecomputeAggregates()
	required := cTot + insuranceFund + feeDebtTot
	if vaultBalance >= required {
		return true
	}
	return required-vaultBalance <= slack
}

func maxI64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
