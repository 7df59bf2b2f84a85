package oracle

import "testing"

func TestClampTowardWithDtScenario(t *testing.T) {
	// S4: index=1_000_000, mark=2_000_000, cap=1000, dt=10 -> new index=1_010_000
	got := ClampTowardWithDt(1_000_000, 2_000_000, 1000, 10)
	if got != 1_010_000 {
		t.Fatalf("ClampTowardWithDt = %d, want 1010000", got)
	}
}

func TestClampTowardWithDtZeroDtIsNoop(t *testing.T) {
	got := ClampTowardWithDt(1_000_000, 2_000_000, 1000, 0)
	if got != 1_000_000 {
		t.Fatalf("dt=0 must leave index unchanged, got %d", got)
	}
}

func TestClampTowardWithDtZeroCapIsNoop(t *testing.T) {
	got := ClampTowardWithDt(1_000_000, 2_000_000, 0, 10)
	if got != 1_000_000 {
		t.Fatalf("cap=0 must leave index unchanged, got %d", got)
	}
}

func TestClampTowardWithDtBootstrapsFromZero(t *testing.T) {
	got := ClampTowardWithDt(0, 2_000_000, 1000, 10)
	if got != 2_000_000 {
		t.Fatalf("index=0 must accept mark outright, got %d", got)
	}
}

func TestClampTowardWithDtNeverOvershoots(t *testing.T) {
	// distance is smaller than cap*dt, so index should land exactly on mark.
	got := ClampTowardWithDt(1_000_000, 1_000_500, 1000, 10)
	if got != 1_000_500 {
		t.Fatalf("clamp overshot: got %d, want 1000500", got)
	}
}

func TestClampTowardWithDtMovesDownward(t *testing.T) {
	got := ClampTowardWithDt(2_000_000, 1_000_000, 1000, 10)
	if got != 1_990_000 {
		t.Fatalf("downward clamp = %d, want 1990000", got)
	}
}

func TestClampTowardWithDtSaturatesStep(t *testing.T) {
	got := ClampTowardWithDt(1_000_000, 2_000_000, ^uint64(0), 2)
	if got != 2_000_000 {
		t.Fatalf("saturating multiply should still land on mark, got %d", got)
	}
}

func TestApplyCircuitBreaker(t *testing.T) {
	if _, err := ApplyCircuitBreaker(2_000_000, 1_500_000); err == nil {
		t.Fatal("expected rejection above cap")
	}
	got, err := ApplyCircuitBreaker(1_000_000, 1_500_000)
	if err != nil || got != 1_000_000 {
		t.Fatalf("expected pass-through under cap, got %d err=%v", got, err)
	}
	got, err = ApplyCircuitBreaker(9_000_000, 0)
	if err != nil || got != 9_000_000 {
		t.Fatalf("cap=0 must disable the breaker, got %d err=%v", got, err)
	}
}
