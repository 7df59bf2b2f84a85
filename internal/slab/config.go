package slab

import (
	"github.com/percolator-labs/percolator/internal/percerr"
	"github.com/percolator-labs/percolator/internal/risk"
)

// MarketConfig is the mutable market-wide configuration surfaced through
// UpdateConfig, SetMaintenanceFee, SetOraclePriceCap, and SetOracleAuthority.
// The margin/funding/warmup fields double as the risk.MarketParams the
// engine and crank consume; this struct is the wire-encoded superset.
type MarketConfig struct {
	MaintenanceMarginBps uint64
	InitialMarginBps     uint64
	WarmupPeriodSlots    uint64
	FundingRateCapBps    int64
	MaxFundingDtSlots    uint64
	MaintenanceFeeBps    uint64

	// FundingHorizonSlots and FundingInvScaleNotionalE6 parameterize the
	// funding-rate curve an off-slab keeper computes StoredFundingRateBps
	// from; the slab itself only stores and applies the resulting rate.
	FundingHorizonSlots      uint64
	FundingInvScaleNotionalE6 uint64

	// ThreshAlphaBps/ThreshMin/ThreshMax are validated and stored with the
	// config; SetRiskThreshold does not consult them.
	ThreshAlphaBps uint64
	ThreshMin      uint64
	ThreshMax      uint64

	OracleAuthority   [32]byte // zero means "no authority-pushed price accepted"
	OraclePriceCapE6  uint64   // 0 disables the circuit breaker
	OracleClampCapE6  uint64   // per-slot clamp cap for clamp_toward_with_dt
}

// AsRiskParams projects the risk-relevant subset of the config into a
// risk.MarketParams the engine and crank consume directly.
func (c *MarketConfig) AsRiskParams() risk.MarketParams {
	return risk.MarketParams{
		MaintenanceMarginBps: c.MaintenanceMarginBps,
		InitialMarginBps:     c.InitialMarginBps,
		WarmupPeriodSlots:    c.WarmupPeriodSlots,
		FundingRateCapBps:    c.FundingRateCapBps,
		MaxFundingDtSlots:    c.MaxFundingDtSlots,
		MaintenanceFeeBps:    c.MaintenanceFeeBps,
	}
}

// Validate enforces UpdateConfig's field constraints (spec.md §6).
func (c *MarketConfig) Validate() error {
	if c.FundingHorizonSlots == 0 {
		return percerr.Wrap(percerr.ErrInvalidConfig, "funding_horizon_slots must be > 0")
	}
	if c.FundingInvScaleNotionalE6 == 0 {
		return percerr.Wrap(percerr.ErrInvalidConfig, "funding_inv_scale_notional_e6 must be > 0")
	}
	if c.ThreshAlphaBps > 10_000 {
		return percerr.Wrap(percerr.ErrInvalidConfig, "thresh_alpha_bps must be <= 10_000")
	}
	if c.ThreshMin > c.ThreshMax {
		return percerr.Wrap(percerr.ErrInvalidConfig, "thresh_min must be <= thresh_max")
	}
	return nil
}

// DefaultMarketConfig seeds a freshly initialized market with conservative
// values; InitMarket overrides the fields its payload specifies.
var DefaultMarketConfig = MarketConfig{
	MaintenanceMarginBps:      risk.DefaultMarketParams.MaintenanceMarginBps,
	InitialMarginBps:          risk.DefaultMarketParams.InitialMarginBps,
	WarmupPeriodSlots:         risk.DefaultMarketParams.WarmupPeriodSlots,
	FundingRateCapBps:         risk.DefaultMarketParams.FundingRateCapBps,
	MaxFundingDtSlots:         risk.DefaultMarketParams.MaxFundingDtSlots,
	MaintenanceFeeBps:         risk.DefaultMarketParams.MaintenanceFeeBps,
	FundingHorizonSlots:       3600,
	FundingInvScaleNotionalE6: 1_000_000_000,
	ThreshAlphaBps:            1_000,
	ThreshMin:                 0,
	ThreshMax:                 1_000_000_000,
}
