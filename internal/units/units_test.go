package units

import (
	"math"
	"testing"
)

func TestBaseToUnitsConservation(t *testing.T) {
	cases := []struct {
		base, scale     uint64
		wantU, wantDust uint64
	}{
		{123_456, 1000, 123, 456},
		{100, 0, 100, 0},
		{0, 1000, 0, 0},
		{999, 1000, 0, 999},
	}
	for _, c := range cases {
		u, d := BaseToUnits(c.base, c.scale)
		if u != c.wantU || d != c.wantDust {
			t.Fatalf("BaseToUnits(%d,%d) = (%d,%d), want (%d,%d)", c.base, c.scale, u, d, c.wantU, c.wantDust)
		}
		if c.scale > 0 {
			if u*c.scale+d != c.base {
				t.Fatalf("conservation violated for base=%d scale=%d", c.base, c.scale)
			}
			if d >= c.scale {
				t.Fatalf("dust bound violated: dust=%d scale=%d", d, c.scale)
			}
		}
	}
}

func TestUnitsToBaseRoundTrip(t *testing.T) {
	if got := UnitsToBase(123, 1000); got != 123_000 {
		t.Fatalf("UnitsToBase(123,1000) = %d, want 123000", got)
	}
	if got := UnitsToBase(50, 0); got != 50 {
		t.Fatalf("UnitsToBase(50,0) = %d, want 50 (identity)", got)
	}
}

func TestUnitsToBaseSaturates(t *testing.T) {
	got := UnitsToBase(math.MaxUint64, 2)
	if got != math.MaxUint64 {
		t.Fatalf("UnitsToBase overflow did not saturate, got %d", got)
	}
}

func TestAccumulateDustAcrossDeposits(t *testing.T) {
	scale := uint64(1000)
	var acc uint64
	for i := 0; i < 10; i++ {
		_, dust := BaseToUnits(123_456, scale)
		acc = AccumulateDust(acc, dust)
	}
	if acc != 4560 {
		t.Fatalf("dust accumulator = %d, want 4560", acc)
	}
	swept, remaining := SweepDust(acc, scale)
	if swept != 4000 || remaining != 560 {
		t.Fatalf("SweepDust = (%d,%d), want (4000,560)", swept, remaining)
	}
	if swept+remaining != acc {
		t.Fatalf("sweep conservation violated")
	}
}

func TestAccumulateDustSaturating(t *testing.T) {
	got := AccumulateDust(math.MaxUint64-1, 10)
	if got != math.MaxUint64 {
		t.Fatalf("AccumulateDust did not saturate, got %d", got)
	}
}

func TestSweepDustZeroScale(t *testing.T) {
	swept, remaining := SweepDust(999, 0)
	if swept != 0 || remaining != 999 {
		t.Fatalf("SweepDust with scale=0 = (%d,%d), want (0,999)", swept, remaining)
	}
}

func TestWithdrawAligned(t *testing.T) {
	if !WithdrawAligned(1000, 0) {
		t.Fatal("scale 0 must always be aligned")
	}
	if !WithdrawAligned(2000, 1000) {
		t.Fatal("2000 should align to 1000")
	}
	if WithdrawAligned(1500, 1000) {
		t.Fatal("1500 should not align to 1000")
	}
}

func TestScalePriceE6(t *testing.T) {
	if p, ok := ScalePriceE6(100_000, 0); !ok || p != 100_000 {
		t.Fatalf("identity scale failed: %d %v", p, ok)
	}
	if p, ok := ScalePriceE6(100_000, 1); !ok || p != 100_000 {
		t.Fatalf("scale=1 identity failed: %d %v", p, ok)
	}
	if p, ok := ScalePriceE6(100_000, 10); !ok || p != 10_000 {
		t.Fatalf("ScalePriceE6(100000,10) = %d, want 10000", p)
	}
	if _, ok := ScalePriceE6(5, 10); ok {
		t.Fatal("result of 0 must be a hard failure")
	}
}

func TestInitMarketScale(t *testing.T) {
	if !InitMarketScale(0) || !InitMarketScale(MaxUnitScale) {
		t.Fatal("boundary values must be accepted")
	}
	if InitMarketScale(MaxUnitScale + 1) {
		t.Fatal("value above MaxUnitScale must be rejected")
	}
}
