package pdakeys

import (
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestDeriveVaultAuthorityPDADeterministic(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	slabKey := solana.NewWallet().PublicKey()

	pk1, bump1, err := DeriveVaultAuthorityPDA(programID, slabKey)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	pk2, bump2, err := DeriveVaultAuthorityPDA(programID, slabKey)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	if pk1 != pk2 || bump1 != bump2 {
		t.Fatal("vault authority PDA derivation must be deterministic")
	}
}

func TestDeriveLPSignerPDADiffersByIndex(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	slabKey := solana.NewWallet().PublicKey()

	pk0, _, err := DeriveLPSignerPDA(programID, slabKey, 0)
	if err != nil {
		t.Fatalf("derive lp0: %v", err)
	}
	pk1, _, err := DeriveLPSignerPDA(programID, slabKey, 1)
	if err != nil {
		t.Fatalf("derive lp1: %v", err)
	}
	if pk0.Equals(pk1) {
		t.Fatal("distinct LP indices must derive distinct signer PDAs")
	}
}

func TestDeriveVaultAndLPSignerAreDistinct(t *testing.T) {
	programID := solana.NewWallet().PublicKey()
	slabKey := solana.NewWallet().PublicKey()

	vault := MustDeriveVaultAuthorityPDA(programID, slabKey)
	lp := MustDeriveLPSignerPDA(programID, slabKey, 0)
	if vault.Equals(lp) {
		t.Fatal("vault authority and LP signer PDAs must not collide")
	}
}
