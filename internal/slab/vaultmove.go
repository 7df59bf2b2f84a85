package slab

import "github.com/percolator-labs/percolator/internal/percerr"

var errVaultUnderfunded = percerr.Wrap(percerr.ErrStateInvariant, "vault balance underfunded")

// VaultMover is the dispatcher's abstraction over the token vault: on the
// real chain runtime this is an SPL token transfer signed by the
// vault-authority PDA; here (no chain runtime, per the out-of-scope list)
// it is supplied by the harness and tracks a plain balance so tests can
// assert conservation against it directly.
type VaultMover interface {
	// Deposit moves `base` units of the collateral token from the user's
	// token account into the vault.
	Deposit(base uint64) error
	// Withdraw moves `base` units of the collateral token out of the vault,
	// signed by the vault-authority PDA.
	Withdraw(base uint64) error
	// Balance reports the vault's current token balance, in base units.
	Balance() uint64
}

// MemoryVault is a VaultMover backed by an in-memory counter, the harness's
// default implementation and the one used by every scenario test.
type MemoryVault struct {
	balance uint64
}

func (v *MemoryVault) Deposit(base uint64) error {
	v.balance += base
	return nil
}

func (v *MemoryVault) Withdraw(base uint64) error {
	if base > v.balance {
		return errVaultUnderfunded
	}
	v.balance -= base
	return nil
}

func (v *MemoryVault) Balance() uint64 { return v.balance }
