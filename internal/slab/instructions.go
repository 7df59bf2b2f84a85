package slab

import "github.com/gagliardetto/solana-go"

// Tag identifies one of the 22 instructions by its leading byte.
type Tag byte

const (
	TagInitMarket             Tag = 0
	TagInitUser               Tag = 1
	TagInitLP                 Tag = 2
	TagDepositCollateral      Tag = 3
	TagWithdrawCollateral     Tag = 4
	TagKeeperCrank            Tag = 5
	TagTradeNoCpi             Tag = 6
	TagLiquidateAtOracle      Tag = 7
	TagCloseAccount           Tag = 8
	TagTopUpInsurance         Tag = 9
	TagTradeCpi               Tag = 10
	TagSetRiskThreshold       Tag = 11
	TagUpdateAdmin            Tag = 12
	TagCloseSlab              Tag = 13
	TagUpdateConfig           Tag = 14
	TagSetMaintenanceFee      Tag = 15
	TagSetOracleAuthority     Tag = 16
	TagPushOraclePrice        Tag = 17
	TagSetOraclePriceCap      Tag = 18
	TagResolveMarket          Tag = 19
	TagWithdrawInsurance      Tag = 20
	TagAdminForceCloseAccount Tag = 21
)

// Each payload below is the packed little-endian struct the corresponding
// instruction's data decodes into, per spec.md §6.

type InitMarketPayload struct {
	Admin          solana.PublicKey
	VaultAuthority solana.PublicKey
	UnitScale      uint64
	Config         MarketConfig
}

type InitUserPayload struct {
	Idx   uint32
	Owner solana.PublicKey
}

type InitLPPayload struct {
	Idx            uint32
	Owner          solana.PublicKey
	MatcherProgram solana.PublicKey
	MatcherContext solana.PublicKey
}

type DepositCollateralPayload struct {
	Idx       uint32
	BaseAmount uint64
}

type WithdrawCollateralPayload struct {
	Idx        uint32
	BaseAmount uint64
	OraclePriceE6 uint64
	Slot       uint64
}

type KeeperCrankPayload struct {
	PanicMode bool
	HasCaller bool
	CallerIdx uint32
	Slot      uint64
	OraclePriceE6 uint64
}

type TradeNoCpiPayload struct {
	UserIdx       uint32
	LPIdx         uint32
	SignedExecSize int64
	ExecPriceE6   uint64
	OraclePriceE6 uint64
	Slot          uint64
}

type LiquidateAtOraclePayload struct {
	Idx           uint32
	OraclePriceE6 uint64
	Slot          uint64
}

type CloseAccountPayload struct {
	Idx uint32
}

type TopUpInsurancePayload struct {
	BaseAmount uint64
}

type TradeCpiPayload struct {
	UserIdx       uint32
	LPIdx         uint32
	// ReqSize is the signed requested size. The wire ABI carries a full
	// i128, but no position this harness can represent ever approaches
	// int64's range, so the top 64 bits are always a sign extension of
	// this field and are never transmitted.
	ReqSize       int64
	OraclePriceE6 uint64
	Slot          uint64
	MatcherProgram solana.PublicKey
	MatcherContext solana.PublicKey
}

type SetRiskThresholdPayload struct {
	NewThreshold uint64
}

type UpdateAdminPayload struct {
	NewAdmin solana.PublicKey
}

type CloseSlabPayload struct{}

type UpdateConfigPayload struct {
	Config MarketConfig
}

type SetMaintenanceFeePayload struct {
	MaintenanceFeeBps uint64
}

type SetOracleAuthorityPayload struct {
	Authority [32]byte
}

type PushOraclePricePayload struct {
	PriceE6 uint64
	Slot    uint64
}

type SetOraclePriceCapPayload struct {
	CapE6 uint64
}

type ResolveMarketPayload struct {
	OraclePriceE6 uint64
	Slot          uint64
}

type WithdrawInsurancePayload struct {
	BaseAmount uint64
}

type AdminForceCloseAccountPayload struct {
	Idx           uint32
	OraclePriceE6 uint64
	Slot          uint64
}
