// Package harness drives a single in-process slab the way a real cluster's
// validator plus a keeper bot would together: it owns the slab, an
// in-memory vault, a scripted matcher, and a ticking crank loop.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/percolator-labs/percolator/internal/config"
	"github.com/percolator-labs/percolator/internal/matcher"
	"github.com/percolator-labs/percolator/internal/pdakeys"
	"github.com/percolator-labs/percolator/internal/slab"
)

const (
	demoUserIdx uint32 = 0
	demoLPIdx   uint32 = 1
	demoDeposit uint64 = 1_000_000
	demoTrade   int64  = 10
)

// Service owns one slab and the harness config that seeded it.
type Service struct {
	cfg       config.HarnessConfig
	signer    solana.PrivateKey
	programID solana.PublicKey
	slabKey   solana.PublicKey
	userOwner solana.PublicKey
	logger    *slog.Logger

	slab  *slab.Slab
	vault *slab.MemoryVault
	ctx   slab.Ctx
}

// fixedKey builds a deterministic placeholder public key, the way
// slab's own tests build synthetic account keys, standing in for the
// program/account addresses a real deployment would allocate on-chain.
func fixedKey(seed byte) (k solana.PublicKey) {
	for i := range k {
		k[i] = seed
	}
	return k
}

// New loads the operator keypair, seeds a fresh slab from the given
// SlabConfig, and returns a Service ready to run.
func New(cfg config.HarnessConfig, slabCfg config.SlabConfig, logger *slog.Logger) (*Service, error) {
	signer, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.KeypairPath)
	if err != nil {
		return nil, fmt.Errorf("load keypair %q: %w", cfg.KeypairPath, err)
	}

	programID := fixedKey(0x01)
	slabKey := fixedKey(0x02)
	matcherProgramID := cfg.MatcherProgramID
	if matcherProgramID.IsZero() {
		matcherProgramID = fixedKey(0x03)
	}
	matcherContext := fixedKey(0x04)
	lpSignerPDA, _, err := pdakeys.DeriveLPSignerPDA(programID, slabKey, demoLPIdx)
	if err != nil {
		return nil, fmt.Errorf("derive lp signer pda: %w", err)
	}

	vault := &slab.MemoryVault{}
	dctx := slab.Ctx{
		Signer:             signer.PublicKey(),
		ProgramID:          programID,
		SlabKey:            slabKey,
		Vault:              vault,
		Matcher:            slab.HonestMatcher(cfg.DefaultOracleE6),
		MatcherProgramInfo: matcher.AccountInfo{Key: matcherProgramID, Executable: true},
		MatcherContextInfo: matcher.AccountInfo{Key: matcherContext, Owner: matcherProgramID, DataLen: matcher.MinContextLen},
		LPSignerPDA:        lpSignerPDA,
		Logger:             logger,
	}

	marketCfg := slab.DefaultMarketConfig
	marketCfg.MaintenanceFeeBps = slabCfg.MaintenanceFeeBps
	marketCfg.OracleClampCapE6 = slabCfg.OracleClampCapE6
	marketCfg.OraclePriceCapE6 = slabCfg.OraclePriceCapE6
	marketCfg.OracleAuthority = slabCfg.OracleAuthority

	s := slab.NewSlab()
	payload := slab.InitMarketPayload{
		Admin:          signer.PublicKey(),
		VaultAuthority: signer.PublicKey(),
		UnitScale:      slabCfg.UnitScale,
		Config:         marketCfg,
	}
	data, err := encode(payload)
	if err != nil {
		return nil, fmt.Errorf("encode init_market payload: %w", err)
	}
	if err := slab.Dispatch(s, slab.TagInitMarket, data, dctx); err != nil {
		return nil, fmt.Errorf("init_market: %w", err)
	}
	if slabCfg.RiskReductionThreshold != 0 {
		thresholdData, err := encode(slab.SetRiskThresholdPayload{NewThreshold: slabCfg.RiskReductionThreshold})
		if err != nil {
			return nil, fmt.Errorf("encode set_risk_threshold payload: %w", err)
		}
		if err := slab.Dispatch(s, slab.TagSetRiskThreshold, thresholdData, dctx); err != nil {
			return nil, fmt.Errorf("set_risk_threshold: %w", err)
		}
	}

	userOwner := fixedKey(0x05)
	lpOwner := fixedKey(0x06)
	if err := seedAccount(s, dctx, slab.TagInitUser, slab.InitUserPayload{Idx: demoUserIdx, Owner: userOwner}); err != nil {
		return nil, fmt.Errorf("init_user: %w", err)
	}
	if err := seedAccount(s, dctx, slab.TagInitLP, slab.InitLPPayload{
		Idx:            demoLPIdx,
		Owner:          lpOwner,
		MatcherProgram: matcherProgramID,
		MatcherContext: matcherContext,
	}); err != nil {
		return nil, fmt.Errorf("init_lp: %w", err)
	}

	userCtx, lpCtx := dctx, dctx
	userCtx.Signer, lpCtx.Signer = userOwner, lpOwner
	if err := seedAccount(s, userCtx, slab.TagDepositCollateral, slab.DepositCollateralPayload{Idx: demoUserIdx, BaseAmount: demoDeposit}); err != nil {
		return nil, fmt.Errorf("deposit(user): %w", err)
	}
	if err := seedAccount(s, lpCtx, slab.TagDepositCollateral, slab.DepositCollateralPayload{Idx: demoLPIdx, BaseAmount: demoDeposit}); err != nil {
		return nil, fmt.Errorf("deposit(lp): %w", err)
	}

	return &Service{
		cfg:       cfg,
		signer:    signer,
		programID: programID,
		slabKey:   slabKey,
		userOwner: userOwner,
		logger:    logger,
		slab:      s,
		vault:     vault,
		ctx:       dctx,
	}, nil
}

func seedAccount(s *slab.Slab, ctx slab.Ctx, tag slab.Tag, payload interface{}) error {
	data, err := encode(payload)
	if err != nil {
		return err
	}
	return slab.Dispatch(s, tag, data, ctx)
}

// Run ticks the crank on cfg.CrankInterval until ctx is cancelled, the way
// the teacher's keeper polls for open orders on cfg.PollInterval.
func (svc *Service) Run(ctx context.Context) error {
	svc.logger.Info("percolator-sim started",
		"admin", svc.signer.PublicKey(),
		"program_id", svc.programID,
		"slab_key", svc.slabKey,
		"unit_scale", svc.slab.Header.UnitScale,
		"crank_interval", svc.cfg.CrankInterval,
	)

	slot := uint64(0)
	if err := svc.tick(&slot); err != nil {
		svc.logger.Error("crank tick failed", "err", err)
	}

	ticker := time.NewTicker(svc.cfg.CrankInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			svc.logger.Info("percolator-sim stopped")
			return nil
		case <-ticker.C:
			if err := svc.tick(&slot); err != nil {
				svc.logger.Error("crank tick failed", "err", err)
			}
		}
	}
}

func (svc *Service) tick(slot *uint64) error {
	*slot++

	tradeCtx := svc.ctx
	tradeCtx.Signer = svc.userOwner
	tradePayload := slab.TradeCpiPayload{
		UserIdx:        demoUserIdx,
		LPIdx:          demoLPIdx,
		ReqSize:        demoTrade,
		OraclePriceE6:  svc.cfg.DefaultOracleE6,
		Slot:           *slot,
		MatcherProgram: tradeCtx.MatcherProgramInfo.Key,
		MatcherContext: tradeCtx.MatcherContextInfo.Key,
	}
	tradeData, err := encode(tradePayload)
	if err != nil {
		return err
	}
	if err := slab.Dispatch(svc.slab, slab.TagTradeCpi, tradeData, tradeCtx); err != nil {
		svc.logger.Warn("scripted trade_cpi rejected", "err", err)
	}

	crankPayload := slab.KeeperCrankPayload{
		PanicMode:     svc.cfg.CrankPanicMode,
		Slot:          *slot,
		OraclePriceE6: svc.cfg.DefaultOracleE6,
	}
	crankData, err := encode(crankPayload)
	if err != nil {
		return err
	}
	return slab.Dispatch(svc.slab, slab.TagKeeperCrank, crankData, svc.ctx)
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := bin.NewBinEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
