package slab

import "github.com/gagliardetto/solana-go"

// OracleCache holds the slab's last observed and last rate-limited prices,
// per spec.md §3's oracle_cache field.
type OracleCache struct {
	LastParsedE6      uint64
	LastEffectiveE6   uint64
	LastEffectiveSlot uint64
	CircuitBreakerE6  uint64 // 0 disables
}

// Header is the process-wide, one-per-market portion of the slab.
type Header struct {
	Magic      uint64
	Version    uint32
	VersionPad [4]byte // keeps 8-byte alignment for the fields below

	Admin          solana.PublicKey
	VaultAuthority solana.PublicKey

	UnitScale uint64
	DustBase  uint64

	Nonce uint64

	InsuranceFund          uint64
	RiskReductionThreshold uint64

	Oracle OracleCache

	NumUsedAccounts uint32
	NextAccountID   uint32

	Resolved   bool
	ResolvePad [7]byte
}

// IsBurned reports whether the admin key has been permanently zeroed.
func (h *Header) IsBurned() bool {
	return h.Admin.IsZero()
}
