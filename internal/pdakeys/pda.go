// Package pdakeys derives the program-derived addresses the slab's
// dispatcher signs with, generalizing the seed-derivation pattern the
// order-engine backend uses for its own PDAs.
package pdakeys

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DeriveVaultAuthorityPDA derives the signer authority for the slab's token
// vault: seeds ("vault", slab_key).
func DeriveVaultAuthorityPDA(programID, slabKey solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("vault"), slabKey.Bytes()}, programID)
}

// DeriveLPSignerPDA derives the signer used when the dispatcher invokes a
// given LP's matcher over CPI: seeds ("lp", slab_key, lp_idx_le).
func DeriveLPSignerPDA(programID, slabKey solana.PublicKey, lpIdx uint32) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("lp"), slabKey.Bytes(), u32LE(lpIdx)}, programID)
}

// MustDeriveVaultAuthorityPDA panics on derivation failure; used at startup
// where a bad program id is a configuration bug, not a runtime condition.
func MustDeriveVaultAuthorityPDA(programID, slabKey solana.PublicKey) solana.PublicKey {
	pk, _, err := DeriveVaultAuthorityPDA(programID, slabKey)
	if err != nil {
		panic(fmt.Errorf("derive vault authority PDA: %w", err))
	}
	return pk
}

// MustDeriveLPSignerPDA panics on derivation failure; see MustDeriveVaultAuthorityPDA.
func MustDeriveLPSignerPDA(programID, slabKey solana.PublicKey, lpIdx uint32) solana.PublicKey {
	pk, _, err := DeriveLPSignerPDA(programID, slabKey, lpIdx)
	if err != nil {
		panic(fmt.Errorf("derive LP signer PDA: %w", err))
	}
	return pk
}

func u32LE(value uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, value)
	return buf
}
