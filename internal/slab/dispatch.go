package slab

import (
	"log/slog"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/percolator-labs/percolator/internal/crank"
	"github.com/percolator-labs/percolator/internal/decision"
	"github.com/percolator-labs/percolator/internal/matcher"
	"github.com/percolator-labs/percolator/internal/oracle"
	"github.com/percolator-labs/percolator/internal/pdakeys"
	"github.com/percolator-labs/percolator/internal/percerr"
	"github.com/percolator-labs/percolator/internal/risk"
	"github.com/percolator-labs/percolator/internal/units"
)

// Ctx is everything the dispatcher needs from the surrounding transaction
// that isn't already encoded in the instruction payload: the signer, the
// program's own identity (for PDA derivation), and the external
// collaborators (vault, matcher CPI) that stand in for the chain runtime.
type Ctx struct {
	Signer    solana.PublicKey
	ProgramID solana.PublicKey
	SlabKey   solana.PublicKey

	Vault   VaultMover
	Matcher MatcherCPI

	// MatcherProgramInfo/MatcherContextInfo describe the accounts passed to
	// a TradeCpi instruction, for CPI identity binding.
	MatcherProgramInfo matcher.AccountInfo
	MatcherContextInfo matcher.AccountInfo

	// LPSignerPDA is the PDA the runtime actually used to sign the CPI into
	// the matcher; it must match derive("lp", slab_key, lp_idx) exactly.
	LPSignerPDA solana.PublicKey

	// Logger receives one structured line per instruction outcome. Nil
	// disables logging entirely.
	Logger *slog.Logger
}

// NewSlab returns a zero-value slab ready to receive InitMarket. Every other
// instruction rejects with errInvalidMagic until InitMarket has run.
func NewSlab() *Slab {
	return &Slab{}
}

// Dispatch decodes one instruction's payload and applies it to s, following
// §4.7: check_idx, compute the decision inputs, call the pure decision
// function, and on Accept apply the effect. Every path is all-or-nothing
// except KeeperCrank, whose best-effort exceptions are documented on
// internal/crank.
func Dispatch(s *Slab, tag Tag, data []byte, ctx Ctx) error {
	nonceBefore := s.Header.Nonce
	saved := *s
	err := dispatchTag(s, tag, data, ctx)
	if err != nil {
		*s = saved
	}
	logOutcome(ctx.Logger, tag, nonceBefore, s.Header.Nonce, err)
	return err
}

func logOutcome(logger *slog.Logger, tag Tag, nonceBefore, nonceAfter uint64, err error) {
	if logger == nil {
		return
	}
	if err != nil {
		logger.Info("instruction rejected", "tag", tag, "nonce_before", nonceBefore, "nonce_after", nonceAfter, "error", err)
		return
	}
	logger.Info("instruction accepted", "tag", tag, "nonce_before", nonceBefore, "nonce_after", nonceAfter)
}

func dispatchTag(s *Slab, tag Tag, data []byte, ctx Ctx) error {
	if tag != TagInitMarket {
		if err := s.checkTag(); err != nil {
			return err
		}
	}

	switch tag {
	case TagInitMarket:
		return dispatchInitMarket(s, data, ctx)
	case TagInitUser:
		return dispatchInitUser(s, data, ctx)
	case TagInitLP:
		return dispatchInitLP(s, data, ctx)
	case TagDepositCollateral:
		return dispatchDeposit(s, data, ctx)
	case TagWithdrawCollateral:
		return dispatchWithdraw(s, data, ctx)
	case TagKeeperCrank:
		return dispatchKeeperCrank(s, data, ctx)
	case TagTradeNoCpi:
		return dispatchTradeNoCpi(s, data, ctx)
	case TagLiquidateAtOracle:
		return dispatchLiquidateAtOracle(s, data, ctx)
	case TagCloseAccount:
		return dispatchCloseAccount(s, data, ctx)
	case TagTopUpInsurance:
		return dispatchTopUpInsurance(s, data, ctx)
	case TagTradeCpi:
		return dispatchTradeCpi(s, data, ctx)
	case TagSetRiskThreshold:
		return dispatchSetRiskThreshold(s, data, ctx)
	case TagUpdateAdmin:
		return dispatchUpdateAdmin(s, data, ctx)
	case TagCloseSlab:
		return dispatchCloseSlab(s, data, ctx)
	case TagUpdateConfig:
		return dispatchUpdateConfig(s, data, ctx)
	case TagSetMaintenanceFee:
		return dispatchSetMaintenanceFee(s, data, ctx)
	case TagSetOracleAuthority:
		return dispatchSetOracleAuthority(s, data, ctx)
	case TagPushOraclePrice:
		return dispatchPushOraclePrice(s, data, ctx)
	case TagSetOraclePriceCap:
		return dispatchSetOraclePriceCap(s, data, ctx)
	case TagResolveMarket:
		return dispatchResolveMarket(s, data, ctx)
	case TagWithdrawInsurance:
		return dispatchWithdrawInsurance(s, data, ctx)
	case TagAdminForceCloseAccount:
		return dispatchAdminForceCloseAccount(s, data, ctx)
	default:
		return percerr.Wrap(percerr.ErrInvalidAccount, "unknown instruction tag")
	}
}

func decodePayload(data []byte, v interface{}) error {
	dec := bin.NewBinDecoder(data)
	return dec.Decode(v)
}

func requireNotResolved(s *Slab) error {
	if s.Header.Resolved {
		return percerr.Wrap(percerr.ErrPostResolution, "market has been resolved")
	}
	return nil
}

func requireAdmin(s *Slab, signer solana.PublicKey) error {
	if !decision.DecideAdmin(s.Header.Admin, signer).Accepted() {
		return percerr.Wrap(percerr.ErrUnauthorized, "admin authorization failed")
	}
	return nil
}

func dispatchInitMarket(s *Slab, data []byte, ctx Ctx) error {
	if s.Header.Magic == Magic {
		return percerr.Wrap(percerr.ErrStateInvariant, "market already initialized")
	}
	var p InitMarketPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	if !units.InitMarketScale(p.UnitScale) {
		return percerr.Wrap(percerr.ErrInvalidConfig, "unit_scale out of range")
	}
	if err := p.Config.Validate(); err != nil {
		return err
	}

	s.Header = Header{
		Magic:          Magic,
		Version:        Version,
		Admin:          p.Admin,
		VaultAuthority: p.VaultAuthority,
		UnitScale:      p.UnitScale,
	}
	s.Config = p.Config
	s.Crank = CrankPersisted{}
	s.Engine = risk.Engine{}
	return nil
}

func dispatchInitUser(s *Slab, data []byte, ctx Ctx) error {
	if err := requireNotResolved(s); err != nil {
		return err
	}
	var p InitUserPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	if err := s.Engine.InitAccount(p.Idx, p.Owner, risk.KindUser, solana.PublicKey{}, solana.PublicKey{}); err != nil {
		return err
	}
	s.Header.NumUsedAccounts++
	s.Header.NextAccountID++
	return nil
}

func dispatchInitLP(s *Slab, data []byte, ctx Ctx) error {
	if err := requireNotResolved(s); err != nil {
		return err
	}
	var p InitLPPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	if err := s.Engine.InitAccount(p.Idx, p.Owner, risk.KindLP, p.MatcherProgram, p.MatcherContext); err != nil {
		return err
	}
	s.Header.NumUsedAccounts++
	s.Header.NextAccountID++
	return nil
}

func dispatchDeposit(s *Slab, data []byte, ctx Ctx) error {
	if err := requireNotResolved(s); err != nil {
		return err
	}
	var p DepositCollateralPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	if err := s.Engine.CheckIdx(p.Idx); err != nil {
		return err
	}
	if !decision.DecideSingleOwner(s.Engine.Accounts[p.Idx].Owner, ctx.Signer).Accepted() {
		return percerr.Wrap(percerr.ErrUnauthorized, "deposit signer is not the account owner")
	}

	unitsAmount, dust := units.BaseToUnits(p.BaseAmount, s.Header.UnitScale)
	if err := s.Engine.Deposit(p.Idx, unitsAmount); err != nil {
		return err
	}
	if err := ctx.Vault.Deposit(p.BaseAmount); err != nil {
		return err
	}
	s.Header.DustBase = units.AccumulateDust(s.Header.DustBase, dust)
	return nil
}

func dispatchWithdraw(s *Slab, data []byte, ctx Ctx) error {
	var p WithdrawCollateralPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	if err := s.Engine.CheckIdx(p.Idx); err != nil {
		return err
	}
	if !decision.DecideSingleOwner(s.Engine.Accounts[p.Idx].Owner, ctx.Signer).Accepted() {
		return percerr.Wrap(percerr.ErrUnauthorized, "withdrawal signer is not the account owner")
	}
	if !units.WithdrawAligned(p.BaseAmount, s.Header.UnitScale) {
		return percerr.Wrap(percerr.ErrInvalidConfig, "withdrawal amount is not unit-scale aligned")
	}

	unitsAmount, _ := units.BaseToUnits(p.BaseAmount, s.Header.UnitScale)
	if err := s.Engine.Withdraw(p.Idx, unitsAmount, p.OraclePriceE6, p.Slot, s.Config.AsRiskParams()); err != nil {
		return err
	}
	return ctx.Vault.Withdraw(p.BaseAmount)
}

func dispatchKeeperCrank(s *Slab, data []byte, ctx Ctx) error {
	var p KeeperCrankPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}

	target := decision.CrankTarget{HasTarget: p.HasCaller}
	if p.HasCaller {
		if err := s.Engine.CheckIdx(p.CallerIdx); err != nil {
			return err
		}
		target.Owner = s.Engine.Accounts[p.CallerIdx].Owner
	}
	if !decision.DecideCrank(target, s.Header.Admin, ctx.Signer, p.PanicMode).Accepted() {
		return percerr.Wrap(percerr.ErrUnauthorized, "crank authorization failed")
	}

	cs := s.crankState()
	summary, err := cs.Tick(p.HasCaller, p.CallerIdx, p.Slot, p.OraclePriceE6)
	if err != nil {
		return err
	}
	s.writeBackCrankState(cs)
	if ctx.Logger != nil {
		ctx.Logger.Info("keeper tick complete",
			"touched", summary.Touched,
			"fees_collected", summary.FeesCollected,
			"liquidated", summary.Liquidated,
			"force_closed", summary.ForceClosed,
			"gced", summary.GCed,
			"sweep_swept", summary.SweepSwept,
		)
	}
	return nil
}

func dispatchTradeNoCpi(s *Slab, data []byte, ctx Ctx) error {
	if err := requireNotResolved(s); err != nil {
		return err
	}
	var p TradeNoCpiPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	if err := s.Engine.CheckIdx(p.UserIdx); err != nil {
		return err
	}
	if err := s.Engine.CheckIdx(p.LPIdx); err != nil {
		return err
	}
	user := &s.Engine.Accounts[p.UserIdx]
	lp := &s.Engine.Accounts[p.LPIdx]

	userAuth := decision.DecideSingleOwner(user.Owner, ctx.Signer).Accepted()
	lpAuth := lp.Kind == risk.KindLP && lp.Used
	gateActive := decision.GatePolicy(s.Header.RiskReductionThreshold, s.Header.InsuranceFund)
	lpEffect := big.NewInt(-p.SignedExecSize)
	riskIncrease := decision.RiskIncrease(big.NewInt(lp.Position), lpEffect)

	verdict := decision.DecideTradeNoCPI(userAuth, lpAuth, gateActive, riskIncrease)
	s.Header.Nonce = decision.NonceEffect(verdict, s.Header.Nonce)
	if !verdict.Accepted() {
		if gateActive && riskIncrease {
			return percerr.Wrap(percerr.ErrRiskGate, "risk-increasing trade rejected while gate is active")
		}
		return percerr.Wrap(percerr.ErrUnauthorized, "trade authorization failed")
	}

	return s.Engine.Trade(p.UserIdx, p.LPIdx, p.SignedExecSize, p.ExecPriceE6, p.OraclePriceE6, p.Slot, s.Config.AsRiskParams())
}

// dispatchLiquidateAtOracle is the permissionless single-account liquidation
// entrypoint: it applies the same closed-form sizing the crank uses so a
// keeper never needs to wait for the cursor to reach a given account.
func dispatchLiquidateAtOracle(s *Slab, data []byte, ctx Ctx) error {
	var p LiquidateAtOraclePayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	if err := s.Engine.CheckIdx(p.Idx); err != nil {
		return err
	}
	acc := &s.Engine.Accounts[p.Idx]
	if acc.Position == 0 {
		return percerr.Wrap(percerr.ErrStateInvariant, "account has no position to liquidate")
	}

	params := s.Config.AsRiskParams()
	equity, ok := acc.Equity(p.OraclePriceE6)
	if !ok {
		return percerr.Wrap(percerr.ErrOverflow, "equity overflow during liquidation check")
	}
	required, ok := risk.RequiredMargin(acc.AbsPosition(), p.OraclePriceE6, params.MaintenanceMarginBps)
	if !ok {
		return percerr.Wrap(percerr.ErrOverflow, "required-margin overflow during liquidation check")
	}
	if equity >= int64(required) {
		return percerr.Wrap(percerr.ErrStateInvariant, "account is not below maintenance margin")
	}

	if equity <= 0 || acc.AbsPosition() < crank.MinLiquidationAbs {
		return s.Engine.OracleClosePosition(p.Idx, p.OraclePriceE6, p.Slot, params)
	}

	targetBps := params.MaintenanceMarginBps + crank.LiquidationBufferBps
	requiredAtTarget, ok := risk.RequiredMargin(acc.AbsPosition(), p.OraclePriceE6, targetBps)
	if !ok || requiredAtTarget == 0 || uint64(equity) >= requiredAtTarget {
		return s.Engine.OracleClosePosition(p.Idx, p.OraclePriceE6, p.Slot, params)
	}
	absPos := acc.AbsPosition()
	keepAbs := absPos * uint64(equity) / requiredAtTarget
	if keepAbs >= absPos {
		return percerr.Wrap(percerr.ErrStateInvariant, "account is not below maintenance margin")
	}
	closeAbs := absPos - keepAbs
	if closeAbs > 0 {
		closeAbs--
	}
	if absPos-closeAbs < crank.MinLiquidationAbs || closeAbs == 0 {
		return s.Engine.OracleClosePosition(p.Idx, p.OraclePriceE6, p.Slot, params)
	}
	return s.Engine.OracleClosePositionSlice(p.Idx, closeAbs, p.OraclePriceE6, p.Slot, params)
}

func dispatchCloseAccount(s *Slab, data []byte, ctx Ctx) error {
	var p CloseAccountPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	if err := s.Engine.CheckIdx(p.Idx); err != nil {
		return err
	}
	acc := &s.Engine.Accounts[p.Idx]
	if !decision.DecideSingleOwner(acc.Owner, ctx.Signer).Accepted() {
		return percerr.Wrap(percerr.ErrUnauthorized, "close signer is not the account owner")
	}

	remainingBase := units.UnitsToBase(acc.Capital, s.Header.UnitScale)
	if err := s.Engine.CloseAccount(p.Idx); err != nil {
		return err
	}
	if remainingBase > 0 {
		if err := ctx.Vault.Withdraw(remainingBase); err != nil {
			return err
		}
	}
	s.Header.NumUsedAccounts--
	return nil
}

func dispatchTopUpInsurance(s *Slab, data []byte, ctx Ctx) error {
	var p TopUpInsurancePayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	unitsAmount, dust := units.BaseToUnits(p.BaseAmount, s.Header.UnitScale)
	if err := ctx.Vault.Deposit(p.BaseAmount); err != nil {
		return err
	}
	s.Header.InsuranceFund = units.AccumulateDust(s.Header.InsuranceFund, unitsAmount)
	s.Header.DustBase = units.AccumulateDust(s.Header.DustBase, dust)
	return nil
}

func dispatchTradeCpi(s *Slab, data []byte, ctx Ctx) error {
	if err := requireNotResolved(s); err != nil {
		return err
	}
	var p TradeCpiPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	if err := s.Engine.CheckIdx(p.UserIdx); err != nil {
		return err
	}
	if err := s.Engine.CheckIdx(p.LPIdx); err != nil {
		return err
	}
	user := &s.Engine.Accounts[p.UserIdx]
	lp := &s.Engine.Accounts[p.LPIdx]
	if lp.Kind != risk.KindLP {
		return percerr.Wrap(percerr.ErrInvalidAccount, "trade_cpi target is not an LP account")
	}

	derivedPDA, _, err := pdakeys.DeriveLPSignerPDA(ctx.ProgramID, ctx.SlabKey, p.LPIdx)
	if err != nil {
		return err
	}
	if !derivedPDA.Equals(ctx.LPSignerPDA) {
		return percerr.Wrap(percerr.ErrInvalidAccount, "lp signer pda mismatch")
	}

	bound := matcher.Identity{MatcherProgram: lp.MatcherProgram, MatcherContext: lp.MatcherContext}
	reqID := decision.ReqIDForTrade(s.Header.Nonce)
	expected := matcher.Expected{
		ReqID:         reqID,
		LPAccountID:   uint64(p.LPIdx),
		OraclePriceE6: p.OraclePriceE6,
		ReqSize:       big.NewInt(p.ReqSize),
	}

	ret, err := InvokeMatcher(ctx.Matcher, bound, ctx.MatcherProgramInfo, ctx.MatcherContextInfo, expected)
	if err != nil {
		return err
	}

	gateActive := decision.GatePolicy(s.Header.RiskReductionThreshold, s.Header.InsuranceFund)
	lpEffect := new(big.Int).Neg(ret.ExecSize)
	riskIncrease := decision.RiskIncrease(big.NewInt(lp.Position), lpEffect)
	userAuth := decision.DecideSingleOwner(user.Owner, ctx.Signer).Accepted()

	verdict := decision.DecideTradeCPI(true, true, userAuth, true, true, true, gateActive, riskIncrease)
	s.Header.Nonce = decision.NonceEffect(verdict, s.Header.Nonce)
	if !verdict.Accepted() {
		if gateActive && riskIncrease {
			return percerr.Wrap(percerr.ErrRiskGate, "risk-increasing cpi trade rejected while gate is active")
		}
		return percerr.Wrap(percerr.ErrUnauthorized, "cpi trade authorization failed")
	}

	return s.Engine.Trade(p.UserIdx, p.LPIdx, ret.ExecSize.Int64(), ret.ExecPriceE6, p.OraclePriceE6, p.Slot, s.Config.AsRiskParams())
}

func dispatchSetRiskThreshold(s *Slab, data []byte, ctx Ctx) error {
	if err := requireAdmin(s, ctx.Signer); err != nil {
		return err
	}
	var p SetRiskThresholdPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	s.Header.RiskReductionThreshold = p.NewThreshold
	return nil
}

func dispatchUpdateAdmin(s *Slab, data []byte, ctx Ctx) error {
	if err := requireAdmin(s, ctx.Signer); err != nil {
		return err
	}
	var p UpdateAdminPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	s.Header.Admin = p.NewAdmin
	return nil
}

func dispatchCloseSlab(s *Slab, data []byte, ctx Ctx) error {
	if err := requireAdmin(s, ctx.Signer); err != nil {
		return err
	}
	if !UnsafeClose {
		if ctx.Vault.Balance() != 0 {
			return percerr.Wrap(percerr.ErrStateInvariant, "cannot close slab with nonzero vault balance")
		}
		if s.Header.InsuranceFund != 0 {
			return percerr.Wrap(percerr.ErrStateInvariant, "cannot close slab with nonzero insurance fund")
		}
		if s.Header.NumUsedAccounts != 0 {
			return percerr.Wrap(percerr.ErrStateInvariant, "cannot close slab with accounts still open")
		}
		if s.Header.DustBase != 0 {
			return percerr.Wrap(percerr.ErrStateInvariant, "cannot close slab with dust outstanding")
		}
	}
	*s = Slab{}
	return nil
}

func dispatchUpdateConfig(s *Slab, data []byte, ctx Ctx) error {
	if err := requireAdmin(s, ctx.Signer); err != nil {
		return err
	}
	var p UpdateConfigPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	if err := p.Config.Validate(); err != nil {
		return err
	}
	s.Config = p.Config
	return nil
}

func dispatchSetMaintenanceFee(s *Slab, data []byte, ctx Ctx) error {
	if err := requireAdmin(s, ctx.Signer); err != nil {
		return err
	}
	var p SetMaintenanceFeePayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	s.Config.MaintenanceFeeBps = p.MaintenanceFeeBps
	return nil
}

func dispatchSetOracleAuthority(s *Slab, data []byte, ctx Ctx) error {
	if err := requireAdmin(s, ctx.Signer); err != nil {
		return err
	}
	var p SetOracleAuthorityPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	s.Config.OracleAuthority = p.Authority
	return nil
}

func dispatchPushOraclePrice(s *Slab, data []byte, ctx Ctx) error {
	var p PushOraclePricePayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	authority := solana.PublicKeyFromBytes(s.Config.OracleAuthority[:])
	if !decision.DecideSingleOwner(authority, ctx.Signer).Accepted() {
		return percerr.Wrap(percerr.ErrUnauthorized, "signer is not the oracle authority")
	}

	effective, err := oracle.ApplyCircuitBreaker(p.PriceE6, s.Config.OraclePriceCapE6)
	if err != nil {
		return err
	}

	dt := uint64(0)
	if p.Slot > s.Header.Oracle.LastEffectiveSlot {
		dt = p.Slot - s.Header.Oracle.LastEffectiveSlot
	}
	newEffective := oracle.ClampTowardWithDt(s.Header.Oracle.LastEffectiveE6, effective, s.Config.OracleClampCapE6, dt)

	s.Header.Oracle.LastParsedE6 = p.PriceE6
	s.Header.Oracle.LastEffectiveE6 = newEffective
	s.Header.Oracle.LastEffectiveSlot = p.Slot
	return nil
}

func dispatchSetOraclePriceCap(s *Slab, data []byte, ctx Ctx) error {
	if err := requireAdmin(s, ctx.Signer); err != nil {
		return err
	}
	var p SetOraclePriceCapPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	s.Config.OraclePriceCapE6 = p.CapE6
	s.Header.Oracle.CircuitBreakerE6 = p.CapE6
	return nil
}

func dispatchResolveMarket(s *Slab, data []byte, ctx Ctx) error {
	if err := requireAdmin(s, ctx.Signer); err != nil {
		return err
	}
	if err := requireNotResolved(s); err != nil {
		return err
	}
	var p ResolveMarketPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}

	params := s.Config.AsRiskParams()
	for i := range s.Engine.Accounts {
		acc := &s.Engine.Accounts[i]
		if !acc.Used || acc.Position == 0 {
			continue
		}
		if err := s.Engine.OracleClosePosition(uint32(i), p.OraclePriceE6, p.Slot, params); err != nil {
			return err
		}
	}
	s.Header.Resolved = true
	return nil
}

func dispatchWithdrawInsurance(s *Slab, data []byte, ctx Ctx) error {
	if err := requireAdmin(s, ctx.Signer); err != nil {
		return err
	}
	var p WithdrawInsurancePayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	if !units.WithdrawAligned(p.BaseAmount, s.Header.UnitScale) {
		return percerr.Wrap(percerr.ErrInvalidConfig, "withdrawal amount is not unit-scale aligned")
	}
	unitsAmount, _ := units.BaseToUnits(p.BaseAmount, s.Header.UnitScale)
	if unitsAmount > s.Header.InsuranceFund {
		return percerr.Wrap(percerr.ErrInsufficientMargin, "withdrawal exceeds insurance fund balance")
	}
	s.Header.InsuranceFund -= unitsAmount
	return ctx.Vault.Withdraw(p.BaseAmount)
}

func dispatchAdminForceCloseAccount(s *Slab, data []byte, ctx Ctx) error {
	if err := requireAdmin(s, ctx.Signer); err != nil {
		return err
	}
	var p AdminForceCloseAccountPayload
	if err := decodePayload(data, &p); err != nil {
		return err
	}
	if err := s.Engine.CheckIdx(p.Idx); err != nil {
		return err
	}
	acc := &s.Engine.Accounts[p.Idx]
	params := s.Config.AsRiskParams()
	if acc.Position != 0 {
		if err := s.Engine.OracleClosePosition(p.Idx, p.OraclePriceE6, p.Slot, params); err != nil {
			return err
		}
	}
	if err := s.Engine.TouchAccountFull(p.Idx, p.Slot, p.OraclePriceE6, params); err != nil {
		return err
	}

	remainingBase := units.UnitsToBase(acc.Capital, s.Header.UnitScale)
	acc.ReservedPnL = 0
	if acc.FeeCredits < 0 {
		s.Engine.FeeDebtTot -= uint64(-acc.FeeCredits)
		acc.FeeCredits = 0
	}
	if err := s.Engine.CloseAccount(p.Idx); err != nil {
		return err
	}
	if remainingBase > 0 {
		if err := ctx.Vault.Withdraw(remainingBase); err != nil {
			return err
		}
	}
	s.Header.NumUsedAccounts--
	return nil
}

// crankState builds a transient crank.State from the slab's persisted crank
// fields plus header fields the crank reads but does not own.
func (s *Slab) crankState() *crank.State {
	return &crank.State{
		Engine:                 &s.Engine,
		Params:                 s.Config.AsRiskParams(),
		StoredFundingRateBps:   s.Crank.StoredFundingRateBps,
		PendingFundingRateBps:  s.Crank.PendingFundingRateBps,
		LastFundingSlot:        s.Crank.LastFundingSlot,
		InsuranceFund:          s.Header.InsuranceFund,
		RiskReductionThreshold: s.Header.RiskReductionThreshold,
		Cursor:                 s.Crank.Cursor,
		SweepStartIdx:          s.Crank.SweepStartIdx,
		SweepActive:            s.Crank.SweepActive,
		DustAccum:              s.Crank.DustAccum,
	}
}

// writeBackCrankState persists whatever crankState produced back onto the
// slab's own fields after Tick returns.
func (s *Slab) writeBackCrankState(cs *crank.State) {
	s.Crank.StoredFundingRateBps = cs.StoredFundingRateBps
	s.Crank.PendingFundingRateBps = cs.PendingFundingRateBps
	s.Crank.LastFundingSlot = cs.LastFundingSlot
	s.Crank.Cursor = cs.Cursor
	s.Crank.SweepStartIdx = cs.SweepStartIdx
	s.Crank.SweepActive = cs.SweepActive
	s.Crank.DustAccum = cs.DustAccum
	s.Header.InsuranceFund = cs.InsuranceFund
	s.Header.NumUsedAccounts = s.Engine.NumUsed
}
