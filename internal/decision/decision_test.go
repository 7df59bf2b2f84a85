package decision

import (
	"math/big"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/percolator-labs/percolator/internal/matcher"
)

func TestDecideSingleOwner(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	if DecideSingleOwner(owner, owner) != Accept {
		t.Fatal("matching owner must accept")
	}
	if DecideSingleOwner(owner, other) != Reject {
		t.Fatal("mismatched owner must reject")
	}
}

func TestDecideAdmin(t *testing.T) {
	admin := solana.NewWallet().PublicKey()
	if DecideAdmin(solana.PublicKey{}, admin) != Reject {
		t.Fatal("zero admin key must permanently reject")
	}
	if DecideAdmin(admin, admin) != Accept {
		t.Fatal("matching admin must accept")
	}
	if DecideAdmin(admin, solana.NewWallet().PublicKey()) != Reject {
		t.Fatal("non-admin signer must reject")
	}
}

func TestDecideCrankPermissionless(t *testing.T) {
	admin := solana.NewWallet().PublicKey()
	signer := solana.NewWallet().PublicKey()
	if DecideCrank(CrankTarget{HasTarget: false}, admin, signer, false) != Accept {
		t.Fatal("untargeted crank must be permissionless")
	}
}

func TestDecideCrankTargetedRequiresOwnerOrPanicAdmin(t *testing.T) {
	admin := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	stranger := solana.NewWallet().PublicKey()

	target := CrankTarget{HasTarget: true, Owner: owner}
	if DecideCrank(target, admin, owner, false) != Accept {
		t.Fatal("owner must be able to crank their own account")
	}
	if DecideCrank(target, admin, stranger, false) != Reject {
		t.Fatal("stranger must be rejected outside panic mode")
	}
	if DecideCrank(target, admin, admin, false) != Reject {
		t.Fatal("admin without panic_mode must not bypass owner check")
	}
	if DecideCrank(target, admin, admin, true) != Accept {
		t.Fatal("admin with panic_mode must be able to crank any account")
	}
}

func TestGatePolicy(t *testing.T) {
	if GatePolicy(0, 0) {
		t.Fatal("threshold=0 must disable the gate")
	}
	if !GatePolicy(100, 10) {
		t.Fatal("insurance below threshold must activate the gate")
	}
	if !GatePolicy(100, 100) {
		t.Fatal("insurance exactly at threshold must activate the gate")
	}
	if GatePolicy(100, 101) {
		t.Fatal("insurance above threshold must not activate the gate")
	}
}

func TestDecideTradeNoCPI(t *testing.T) {
	if DecideTradeNoCPI(false, true, false, false) != Reject {
		t.Fatal("missing user auth must reject")
	}
	if DecideTradeNoCPI(true, false, false, false) != Reject {
		t.Fatal("missing lp auth must reject")
	}
	if DecideTradeNoCPI(true, true, true, true) != Reject {
		t.Fatal("risk-increasing trade while gate active must reject")
	}
	if DecideTradeNoCPI(true, true, true, false) != Accept {
		t.Fatal("risk-reducing trade while gate active must accept")
	}
	if DecideTradeNoCPI(true, true, false, true) != Accept {
		t.Fatal("gate inactive must accept regardless of risk direction")
	}
}

func TestDecideTradeCPIEquivalenceWithBooleanVariant(t *testing.T) {
	// S3-style scenario: gate active (insurance below threshold), LP opening
	// a new position (risk_increase=true) with an otherwise fully-valid CPI.
	boundID := matcher.Identity{MatcherProgram: solana.NewWallet().PublicKey(), MatcherContext: solana.NewWallet().PublicKey()}
	program := matcher.AccountInfo{Key: boundID.MatcherProgram, Executable: true}
	context := matcher.AccountInfo{Key: boundID.MatcherContext, Owner: boundID.MatcherProgram, DataLen: matcher.MinContextLen}

	raw := buildValidReturn(t, 43, 7, 1_000_000, 1_000_500, 5)
	expected := matcher.Expected{ReqID: 43, LPAccountID: 7, OraclePriceE6: 1_000_000, ReqSize: big.NewInt(10)}

	rawInputs := TradeCPIRawInputs{
		ShapeOk: true, PdaOk: true, UserAuth: true, LPAuth: true,
		BoundID: boundID, Program: program, Context: context,
		RawReturn: raw, Expected: expected,
		GateActive: true, RiskIncrease: true,
	}
	gotFromRaw, ret := DecideTradeCPIFromMatcherReturn(rawInputs)
	if gotFromRaw != Reject {
		t.Fatal("risk-increasing CPI trade under an active gate must reject")
	}
	if ret == nil {
		t.Fatal("identity/shape passed, so the matcher return should have been decoded")
	}

	gotFromBool := DecideTradeCPI(true, true, true, true, true, true, true, true)
	if gotFromBool != gotFromRaw {
		t.Fatal("boolean and raw-return variants diverged")
	}

	rawInputs.RiskIncrease = false
	gotFromRaw, _ = DecideTradeCPIFromMatcherReturn(rawInputs)
	gotFromBool = DecideTradeCPI(true, true, true, true, true, true, true, false)
	if gotFromRaw != Accept || gotFromBool != Accept {
		t.Fatal("risk-reducing CPI trade under an active gate must accept")
	}
}

func TestDecideTradeCPIFromMatcherReturnRejectsIdentityMismatch(t *testing.T) {
	boundID := matcher.Identity{MatcherProgram: solana.NewWallet().PublicKey(), MatcherContext: solana.NewWallet().PublicKey()}
	wrongProgram := matcher.AccountInfo{Key: solana.NewWallet().PublicKey(), Executable: true}
	context := matcher.AccountInfo{Key: boundID.MatcherContext, Owner: boundID.MatcherProgram, DataLen: matcher.MinContextLen}

	raw := buildValidReturn(t, 1, 1, 1_000_000, 1_000_000, 1)
	in := TradeCPIRawInputs{
		ShapeOk: true, PdaOk: true, UserAuth: true, LPAuth: true,
		BoundID: boundID, Program: wrongProgram, Context: context,
		RawReturn: raw, Expected: matcher.Expected{ReqID: 1, LPAccountID: 1, OraclePriceE6: 1_000_000, ReqSize: big.NewInt(1)},
	}
	verdict, ret := DecideTradeCPIFromMatcherReturn(in)
	if verdict != Reject {
		t.Fatal("identity mismatch must reject even with an otherwise valid response")
	}
	if ret != nil {
		t.Fatal("matcher return must not even be decoded when identity fails")
	}
}

func TestNonceEffect(t *testing.T) {
	if got := NonceEffect(Reject, 42); got != 42 {
		t.Fatalf("reject must leave nonce unchanged, got %d", got)
	}
	if got := NonceEffect(Accept, 42); got != 43 {
		t.Fatalf("accept must increment nonce, got %d", got)
	}
	if got := NonceEffect(Accept, ^uint64(0)); got != 0 {
		t.Fatalf("nonce must wrap on overflow, got %d", got)
	}
}

func TestReqIDForTrade(t *testing.T) {
	if got := ReqIDForTrade(42); got != 43 {
		t.Fatalf("req_id must be nonce_pre+1, got %d", got)
	}
}

func TestRiskIncrease(t *testing.T) {
	if !RiskIncrease(big.NewInt(0), big.NewInt(5)) {
		t.Fatal("opening from flat must be a risk increase")
	}
	if RiskIncrease(big.NewInt(10), big.NewInt(-3)) {
		t.Fatal("partial close of a long must not be a risk increase")
	}
	if !RiskIncrease(big.NewInt(10), big.NewInt(5)) {
		t.Fatal("adding to a long must be a risk increase")
	}
	if RiskIncrease(big.NewInt(-10), big.NewInt(3)) {
		t.Fatal("partial close of a short must not be a risk increase")
	}
}

func buildValidReturn(t *testing.T, reqID, lpID, oraclePrice, execPrice uint64, execSize int64) []byte {
	t.Helper()
	buf := make([]byte, matcher.WireLen)
	putU16(buf[0:2], matcher.AbiVersion)
	putU16(buf[2:4], 1) // VALID
	putU64(buf[8:16], reqID)
	putU64(buf[16:24], lpID)
	putU64(buf[24:32], oraclePrice)
	putU64(buf[32:40], execPrice)
	putI128(buf[48:64], execSize)
	return buf
}

func putU16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func putI128(b []byte, v int64) {
	putU64(b[0:8], uint64(v))
	if v < 0 {
		for i := 8; i < 16; i++ {
			b[i] = 0xff
		}
	}
}
