// Package matcher validates the 64-byte wire response an external matcher
// program returns over CPI, and defines the CPI identity-binding checks that
// decide which matcher account pair a given LP is allowed to invoke.
package matcher

import (
	"encoding/binary"
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/percolator-labs/percolator/internal/percerr"
)

const (
	// AbiVersion is the only matcher wire version this build accepts.
	AbiVersion uint16 = 1

	// WireLen is the fixed size of a matcher return buffer, including the
	// 8 bytes of alignment padding that repr(C) inserts ahead of the
	// 16-byte-aligned exec_size field.
	WireLen = 64

	flagValid     uint16 = 1
	flagRejected  uint16 = 2
	flagPartialOK uint16 = 4
	allFlagsMask  uint16 = flagValid | flagRejected | flagPartialOK
)

// Return is the decoded matcher wire response.
type Return struct {
	AbiVersion    uint16
	Flags         uint16
	ReqID         uint64
	LPAccountID   uint64
	OraclePriceE6 uint64
	ExecPriceE6   uint64
	ExecSize      *big.Int // i128
}

// Expected is the set of values the caller sent into the CPI, which the
// matcher's response must echo back unchanged.
type Expected struct {
	ReqID         uint64
	LPAccountID   uint64
	OraclePriceE6 uint64
	ReqSize       *big.Int // i128, signed
}

// Decode parses a raw 64-byte matcher return buffer without trusting its
// shape: any length mismatch is a hard reject before a single field is read.
func Decode(buf []byte) (*Return, error) {
	if len(buf) != WireLen {
		return nil, percerr.Wrap(percerr.ErrInvalidMatcherShape, "matcher return is not 64 bytes")
	}

	r := &Return{
		AbiVersion:    binary.LittleEndian.Uint16(buf[0:2]),
		Flags:         binary.LittleEndian.Uint16(buf[2:4]),
		ReqID:         binary.LittleEndian.Uint64(buf[8:16]),
		LPAccountID:   binary.LittleEndian.Uint64(buf[16:24]),
		OraclePriceE6: binary.LittleEndian.Uint64(buf[24:32]),
		ExecPriceE6:   binary.LittleEndian.Uint64(buf[32:40]),
	}
	if reserved := binary.LittleEndian.Uint32(buf[4:8]); reserved != 0 {
		return nil, percerr.Wrap(percerr.ErrInvalidMatcherShape, "reserved field must be zero")
	}
	for _, b := range buf[40:48] {
		if b != 0 {
			return nil, percerr.Wrap(percerr.ErrInvalidMatcherShape, "alignment padding must be zero")
		}
	}
	r.ExecSize = decodeI128(buf[48:64])
	return r, nil
}

// decodeI128 reads a little-endian two's-complement 128-bit integer.
func decodeI128(b []byte) *big.Int {
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[15-i] = b[i]
	}
	v := new(big.Int).SetBytes(be)
	if be[0]&0x80 != 0 {
		v.Sub(v, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	return v
}

// Validate implements the acceptance predicate of the matcher ABI validator:
// abi_version matches, VALID is set and REJECTED clear with no unknown flag
// bits, reserved fields are zero (checked at Decode time), every echoed
// field matches what was sent, exec_price_e6 is positive, exec_size is
// either nonzero or PARTIAL_OK is set, |exec_size| <= |req_size| using
// unsigned-absolute comparison, and exec_size's sign matches req_size's sign
// whenever both are nonzero.
func Validate(r *Return, exp Expected) error {
	if r.AbiVersion != AbiVersion {
		return percerr.Wrap(percerr.ErrInvalidMatcherAbi, "abi_version mismatch")
	}
	if r.Flags&^allFlagsMask != 0 {
		return percerr.Wrap(percerr.ErrInvalidMatcherAbi, "unknown flag bits set")
	}
	if r.Flags&flagValid == 0 || r.Flags&flagRejected != 0 {
		return percerr.Wrap(percerr.ErrInvalidMatcherAbi, "matcher did not report VALID or reported REJECTED")
	}
	if r.ReqID != exp.ReqID {
		return percerr.Wrap(percerr.ErrInvalidMatcherAbi, "req_id mismatch")
	}
	if r.LPAccountID != exp.LPAccountID {
		return percerr.Wrap(percerr.ErrInvalidMatcherAbi, "lp_account_id mismatch")
	}
	if r.OraclePriceE6 != exp.OraclePriceE6 {
		return percerr.Wrap(percerr.ErrInvalidMatcherAbi, "oracle_price_e6 mismatch")
	}
	if r.ExecPriceE6 == 0 {
		return percerr.Wrap(percerr.ErrInvalidMatcherAbi, "exec_price_e6 must be positive")
	}

	execZero := r.ExecSize.Sign() == 0
	if execZero && r.Flags&flagPartialOK == 0 {
		return percerr.Wrap(percerr.ErrInvalidMatcherAbi, "exec_size is zero without PARTIAL_OK")
	}

	if absCmp(r.ExecSize, exp.ReqSize) > 0 {
		return percerr.Wrap(percerr.ErrInvalidMatcherAbi, "abs(exec_size) exceeds abs(req_size)")
	}
	if !execZero && exp.ReqSize.Sign() != 0 && r.ExecSize.Sign() != exp.ReqSize.Sign() {
		return percerr.Wrap(percerr.ErrInvalidMatcherAbi, "exec_size sign does not match req_size sign")
	}

	return nil
}

// absCmp compares |a| to |b| without relying on signed comparison. The
// absolute values are taken on arbitrary-precision big.Int values, so the
// minimum representable i128 value has the exact magnitude 2^127.
func absCmp(a, b *big.Int) int {
	return absBig(a).Cmp(absBig(b))
}

func absBig(v *big.Int) *big.Int {
	out := new(big.Int).Set(v)
	return out.Abs(out)
}

// Identity is the CPI target bound to an LP account at registration.
type Identity struct {
	MatcherProgram solana.PublicKey
	MatcherContext solana.PublicKey
}

// AccountInfo is the narrow view of an on-chain account CheckIdentity needs;
// the dispatcher's Ctx carries these directly rather than a full account model.
type AccountInfo struct {
	Key        solana.PublicKey
	Owner      solana.PublicKey
	Executable bool
	DataLen    int
}

// MinContextLen is the minimum matcher-context account size accepted.
const MinContextLen = 8

// CheckIdentity enforces CPI identity binding: the supplied program/context
// accounts must exactly match what was bound on the LP, the program account
// must be executable, the context account must not be executable, must be
// owned by the program, and must meet the minimum length. Any mismatch
// rejects even if the eventual matcher response would otherwise validate.
func CheckIdentity(bound Identity, program, context AccountInfo) error {
	if !program.Key.Equals(bound.MatcherProgram) {
		return percerr.Wrap(percerr.ErrInvalidMatcherIdentity, "matcher program key mismatch")
	}
	if !context.Key.Equals(bound.MatcherContext) {
		return percerr.Wrap(percerr.ErrInvalidMatcherIdentity, "matcher context key mismatch")
	}
	if !program.Executable {
		return percerr.Wrap(percerr.ErrInvalidMatcherIdentity, "matcher program account not executable")
	}
	if context.Executable {
		return percerr.Wrap(percerr.ErrInvalidMatcherIdentity, "matcher context account must not be executable")
	}
	if !context.Owner.Equals(program.Key) {
		return percerr.Wrap(percerr.ErrInvalidMatcherIdentity, "matcher context not owned by matcher program")
	}
	if context.DataLen < MinContextLen {
		return percerr.Wrap(percerr.ErrInvalidMatcherIdentity, "matcher context account too small")
	}
	return nil
}
