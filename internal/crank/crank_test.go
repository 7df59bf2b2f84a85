package crank

import (
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/percolator-labs/percolator/internal/risk"
)

func newTestState(t *testing.T, numAccounts int) *State {
	t.Helper()
	e := &risk.Engine{}
	for i := 0; i < numAccounts; i++ {
		owner := solana.NewWallet().PublicKey()
		if err := e.InitAccount(uint32(i), owner, risk.KindUser, solana.PublicKey{}, solana.PublicKey{}); err != nil {
			t.Fatalf("init account %d: %v", i, err)
		}
	}
	return &State{Engine: e, Params: risk.DefaultMarketParams}
}

func TestTickAccruesFundingUsingStoredRateNotPending(t *testing.T) {
	s := newTestState(t, 1)
	s.StoredFundingRateBps = 100
	s.PendingFundingRateBps = 9_999

	// dt=1000, rate=100bps -> delta = 100*1000/10000 = 10.
	if _, err := s.Tick(false, 0, 1000, 100_000); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if s.Engine.FundingIndexQPBE6 != 10 {
		t.Fatalf("funding index = %d, want 10 (stored rate applied, not pending)", s.Engine.FundingIndexQPBE6)
	}
	if s.StoredFundingRateBps != 9_999 {
		t.Fatal("pending rate must roll into stored rate only after this crank")
	}
}

func TestTickCursorAdvancesAndWrapsAroundFullTable(t *testing.T) {
	s := newTestState(t, 1)
	s.Cursor = risk.MaxAccounts - AccountsPerCrank/2

	if _, err := s.Tick(false, 0, 1, 100_000); err != nil {
		t.Fatalf("tick: %v", err)
	}
	wantCursor := uint32((risk.MaxAccounts - AccountsPerCrank/2 + AccountsPerCrank) % risk.MaxAccounts)
	if s.Cursor != wantCursor {
		t.Fatalf("cursor = %d, want %d", s.Cursor, wantCursor)
	}
}

func TestTickSweepsAccumulatedDustOnWraparound(t *testing.T) {
	s := newTestState(t, 2)
	if err := s.Engine.Deposit(0, 1_000_000); err != nil {
		t.Fatalf("deposit 0: %v", err)
	}
	if err := s.Engine.Deposit(1, 1_000_000); err != nil {
		t.Fatalf("deposit 1: %v", err)
	}
	if err := s.Engine.Trade(0, 1, 100_000, 100_000, 100_000, 1, s.Params); err != nil {
		t.Fatalf("trade: %v", err)
	}

	// Start half a batch before the end of the table so this tick's walk
	// wraps past the last slot and still visits accounts 0 and 1.
	s.Cursor = risk.MaxAccounts - AccountsPerCrank/2
	s.SweepStartIdx = 0
	summary, err := s.Tick(false, 0, 2, 100_000)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !summary.SweepSwept {
		t.Fatal("expected a tick whose walk wraps past the end of the account table to trigger a sweep")
	}
	if s.DustAccum != 0 {
		t.Fatalf("dust accumulator should be drained after sweep, got %d", s.DustAccum)
	}
}

func TestTickLiquidatesUnderwaterPositionWithinBudget(t *testing.T) {
	s := newTestState(t, 2)
	if err := s.Engine.Deposit(0, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := s.Engine.Deposit(1, 1_000_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// user 0 opens a large long relative to its thin capital.
	if err := s.Engine.Trade(0, 1, 10_000, 100_000, 100_000, 1, s.Params); err != nil {
		t.Fatalf("open: %v", err)
	}

	summary, err := s.Tick(false, 0, 2, 1_000) // price crashes far below entry
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if summary.Liquidated == 0 && summary.ForceClosed == 0 {
		t.Fatal("expected the underwater account to be liquidated or force-closed")
	}
}

func TestTickForceRealizesWhenInsuranceBelowThreshold(t *testing.T) {
	s := newTestState(t, 2)
	s.RiskReductionThreshold = 1_000
	s.InsuranceFund = 100 // below threshold: force-realize active

	if err := s.Engine.Deposit(0, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := s.Engine.Deposit(1, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := s.Engine.Trade(0, 1, 10, 100_000, 100_000, 1, s.Params); err != nil {
		t.Fatalf("open: %v", err)
	}

	summary, err := s.Tick(false, 0, 2, 100_000)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if summary.ForceClosed == 0 {
		t.Fatal("expected force-realize mode to close open positions")
	}
	if s.Engine.Accounts[0].Position != 0 {
		t.Fatal("force-realize must zero out the position")
	}
}

func TestTickGarbageCollectsDrainedFlatAccounts(t *testing.T) {
	s := newTestState(t, 1)
	// account 0 starts flat with zero capital: immediately closeable.
	summary, err := s.Tick(false, 0, 1, 100_000)
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if summary.GCed == 0 {
		t.Fatal("expected the drained flat account to be garbage-collected")
	}
	if s.Engine.Accounts[0].Used {
		t.Fatal("garbage-collected account must no longer be marked used")
	}
}

func TestSetPendingFundingRateRejectsOutOfRange(t *testing.T) {
	s := newTestState(t, 1)
	if err := s.SetPendingFundingRate(999_999, s.Params); err == nil {
		t.Fatal("expected out-of-range funding rate to be rejected")
	}
	if err := s.SetPendingFundingRate(500, s.Params); err != nil {
		t.Fatalf("expected in-range funding rate to be accepted: %v", err)
	}
}
