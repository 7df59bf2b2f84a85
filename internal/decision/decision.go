// Package decision implements every authorization and policy check as a
// pure, total function of a narrow input record. None of these functions
// observe or mutate shared state; the dispatcher in internal/slab is solely
// responsible for gathering their inputs and applying their effects.
package decision

import (
	"math/big"

	"github.com/gagliardetto/solana-go"

	"github.com/percolator-labs/percolator/internal/matcher"
)

// Verdict is the outcome of a decision function: either Accept (the
// dispatcher may apply the named effects) or Reject.
type Verdict int

const (
	Reject Verdict = iota
	Accept
)

func (v Verdict) Accepted() bool { return v == Accept }

// DecideSingleOwner authorizes any instruction gated on "signer must be the
// account's stored owner" (deposit, withdraw, close by owner, etc).
func DecideSingleOwner(storedOwner, signer solana.PublicKey) Verdict {
	if storedOwner.Equals(signer) {
		return Accept
	}
	return Reject
}

// DecideAdmin authorizes admin-only instructions. An admin key of the zero
// public key permanently disables every admin instruction.
func DecideAdmin(admin, signer solana.PublicKey) Verdict {
	if admin.IsZero() {
		return Reject
	}
	if admin.Equals(signer) {
		return Accept
	}
	return Reject
}

// CrankTarget describes the account the crank instruction was pointed at,
// if any. HasTarget is false for a crank call with no target account (the
// permissionless global-tick path).
type CrankTarget struct {
	HasTarget bool
	Owner     solana.PublicKey
}

// DecideCrank authorizes a crank instruction: permissionless when it names
// no account; otherwise the signer must be the target's owner, or panic_mode
// is set and the signer is the admin.
func DecideCrank(target CrankTarget, admin, signer solana.PublicKey, panicMode bool) Verdict {
	if !target.HasTarget {
		return Accept
	}
	if target.Owner.Equals(signer) {
		return Accept
	}
	if panicMode && admin.Equals(signer) {
		return Accept
	}
	return Reject
}

// GatePolicy reports whether the risk-reduction gate is currently active:
// active iff a positive threshold is configured and the insurance fund has
// fallen to or below it. While active, only risk-reducing trades pass.
func GatePolicy(riskReductionThreshold, insuranceFund uint64) bool {
	return riskReductionThreshold > 0 && insuranceFund <= riskReductionThreshold
}

// DecideTradeNoCPI authorizes a trade against a resting LP quote with no
// matcher CPI involved.
func DecideTradeNoCPI(userAuth, lpAuth, gateActive, riskIncrease bool) Verdict {
	if !userAuth || !lpAuth || (gateActive && riskIncrease) {
		return Reject
	}
	return Accept
}

// DecideTradeCPI authorizes a matcher-CPI trade from pre-computed booleans.
// This and DecideTradeCPIFromMatcherReturn must always agree: the latter
// derives identityOk/abiOk from the same matcher.CheckIdentity/Validate
// calls the dispatcher would make, so the two are provably equivalent by
// construction rather than by independent re-implementation.
func DecideTradeCPI(shapeOk, pdaOk, userAuth, lpAuth, identityOk, abiOk, gateActive, riskIncrease bool) Verdict {
	allOk := shapeOk && pdaOk && userAuth && lpAuth && identityOk && abiOk
	if allOk && !(gateActive && riskIncrease) {
		return Accept
	}
	return Reject
}

// TradeCPIRawInputs bundles everything DecideTradeCPIFromMatcherReturn needs
// to derive identityOk/abiOk from a real matcher response instead of
// pre-computed booleans.
type TradeCPIRawInputs struct {
	ShapeOk      bool
	PdaOk        bool
	UserAuth     bool
	LPAuth       bool
	BoundID      matcher.Identity
	Program      matcher.AccountInfo
	Context      matcher.AccountInfo
	RawReturn    []byte
	Expected     matcher.Expected
	GateActive   bool
	RiskIncrease bool
}

// DecideTradeCPIFromMatcherReturn is the raw-matcher-return variant of
// DecideTradeCPI. It performs CPI identity binding and ABI validation, then
// delegates the accept/reject computation itself to DecideTradeCPI so the
// two variants can never diverge.
func DecideTradeCPIFromMatcherReturn(in TradeCPIRawInputs) (Verdict, *matcher.Return) {
	identityOk := matcher.CheckIdentity(in.BoundID, in.Program, in.Context) == nil

	var ret *matcher.Return
	abiOk := false
	if identityOk {
		decoded, err := matcher.Decode(in.RawReturn)
		if err == nil {
			ret = decoded
			abiOk = matcher.Validate(decoded, in.Expected) == nil
		}
	}

	verdict := DecideTradeCPI(in.ShapeOk, in.PdaOk, in.UserAuth, in.LPAuth, identityOk, abiOk, in.GateActive, in.RiskIncrease)
	return verdict, ret
}

// NonceEffect computes the post-decision nonce: unchanged on reject,
// incremented with 64-bit wraparound on accept.
func NonceEffect(verdict Verdict, noncePre uint64) uint64 {
	if verdict == Reject {
		return noncePre
	}
	return noncePre + 1
}

// ReqIDForTrade is the req_id sent to the matcher on the successful path:
// nonce_pre + 1, matching the post-accept nonce exactly.
func ReqIDForTrade(noncePre uint64) uint64 {
	return noncePre + 1
}

// RiskIncrease reports whether applying execSize to an LP's current signed
// position would increase its absolute magnitude — the "opening" direction
// the gate policy restricts.
func RiskIncrease(currentPosition, execSize *big.Int) bool {
	next := new(big.Int).Add(currentPosition, execSize)
	return new(big.Int).Abs(next).Cmp(new(big.Int).Abs(currentPosition)) > 0
}
