package slab

import (
	"encoding/binary"
	"math/big"

	"github.com/percolator-labs/percolator/internal/matcher"
)

// MatcherCPI is the dispatcher's abstraction over invoking an external
// matcher program via cross-program call. On the real chain runtime this is
// a CPI whose return data is read back from the invoked program; here it is
// supplied by the harness, which may simulate an honest, buggy, or
// adversarial matcher for testing the decision pipeline's defenses.
type MatcherCPI interface {
	// Call invokes the matcher bound to program/context with the given
	// request and returns its raw 64-byte response, or an error if the
	// matcher could not be invoked at all (e.g. account-shape checks the
	// runtime itself performs before ever reaching the matcher).
	Call(program, context matcher.AccountInfo, req matcher.Expected) ([]byte, error)
}

// FuncMatcherCPI adapts a plain function to MatcherCPI, letting tests wire
// up scripted matcher behavior inline.
type FuncMatcherCPI func(program, context matcher.AccountInfo, req matcher.Expected) ([]byte, error)

func (f FuncMatcherCPI) Call(program, context matcher.AccountInfo, req matcher.Expected) ([]byte, error) {
	return f(program, context, req)
}

// InvokeMatcher resolves the CPI identity, invokes the bound matcher, and
// decodes and validates its response, returning the fill it authorizes. It
// is the single choke point TradeCpi routes every matcher call through.
func InvokeMatcher(cpi MatcherCPI, bound matcher.Identity, program, context matcher.AccountInfo, req matcher.Expected) (*matcher.Return, error) {
	if err := matcher.CheckIdentity(bound, program, context); err != nil {
		return nil, err
	}
	raw, err := cpi.Call(program, context, req)
	if err != nil {
		return nil, err
	}
	ret, err := matcher.Decode(raw)
	if err != nil {
		return nil, err
	}
	if err := matcher.Validate(ret, req); err != nil {
		return nil, err
	}
	return ret, nil
}

// HonestMatcher builds a MatcherCPI that always fills the full requested
// size at the given execution price, the simplest well-behaved matcher for
// tests that don't care about matcher edge cases.
func HonestMatcher(execPriceE6 uint64) MatcherCPI {
	return FuncMatcherCPI(func(_, _ matcher.AccountInfo, req matcher.Expected) ([]byte, error) {
		return encodeMatcherReturn(req.ReqID, req.LPAccountID, req.OraclePriceE6, execPriceE6, req.ReqSize), nil
	})
}

func encodeMatcherReturn(reqID, lpAccountID, oraclePriceE6, execPriceE6 uint64, execSize *big.Int) []byte {
	buf := make([]byte, matcher.WireLen)
	binary.LittleEndian.PutUint16(buf[0:2], matcher.AbiVersion)
	binary.LittleEndian.PutUint16(buf[2:4], 1) // VALID
	binary.LittleEndian.PutUint64(buf[8:16], reqID)
	binary.LittleEndian.PutUint64(buf[16:24], lpAccountID)
	binary.LittleEndian.PutUint64(buf[24:32], oraclePriceE6)
	binary.LittleEndian.PutUint64(buf[32:40], execPriceE6)
	copy(buf[48:64], encodeI128(execSize))
	return buf
}

// encodeI128 writes v as a little-endian two's-complement 128-bit integer.
func encodeI128(v *big.Int) []byte {
	out := make([]byte, 16)
	if v.Sign() >= 0 {
		b := v.Bytes()
		for i := 0; i < len(b) && i < 16; i++ {
			out[i] = b[len(b)-1-i]
		}
		return out
	}
	twos := new(big.Int).Add(v, new(big.Int).Lsh(big.NewInt(1), 128))
	b := twos.Bytes()
	for i := 0; i < len(b) && i < 16; i++ {
		out[i] = b[len(b)-1-i]
	}
	return out
}
