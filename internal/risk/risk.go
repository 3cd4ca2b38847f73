// Package risk implements the spec §4.7 risk analyzer: quick_check and the
// three-phase analyze() pipeline, backed by blacklist/whitelist LRUs and a
// 5-minute per-mint analysis cache.
package risk

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"solsniper"
	"solsniper/internal/cache"
	"solsniper/internal/rpcmanager"
)

// Scoring weights, exposed as tunable constants per spec §4.7.
const (
	ScoreMintAuthorityRevoked   = 20
	ScoreFreezeAuthorityRevoked = 15
	ScoreLPLockedFull           = 25
	ScoreLPLockedBonus          = 5
	ScoreLPLockedPartial        = 15
	ScoreLPLockedFail           = -10
	ScoreLiquidityFull          = 10
	ScoreHoneypotPassed         = 15
	ScoreHoneypotHalf           = 7
	ScoreStandardSPL            = 10
	ScoreToken2022Benign        = 15
	maxTopHolderPenalty         = 20
	liquidityFullThresholdSol   = 10.0
)

const analysisCacheTTL = 5 * time.Minute
const blacklistTTL = 24 * time.Hour
const blacklistCap = 10_000
const whitelistCap = 1_000

// Config tunes the analyzer's thresholds (spec §6).
type Config struct {
	MinLiquiditySol     float64
	MaxTopHolderPercent float64
	EnableHoneypotCheck bool
	MaxTaxPercent       float64
	WalletAddress       solana.PublicKey
}

// Request is the candidate pool handed to quick_check/analyze (spec §4.7).
type Request struct {
	Mint       solsniper.Address
	Pool       solsniper.Address
	Dex        solsniper.Dex
	BaseMint   solsniper.Address
	QuoteMint  solsniper.Address
	BaseVault  solsniper.Address
	QuoteVault solsniper.Address
	LPMint     *solsniper.Address
	Creator    *solsniper.Address
}

// QuickCheckResult is quick_check's fast verdict.
type QuickCheckResult struct {
	Viable bool
	Reason string
}

// SellSimulator builds and simulates a nominal sell for the Phase 3 honeypot
// check. internal/executor implements this for DEXes it can build sell
// instructions for; DEXes with no registered simulator get the neutral
// Phase-3 result described in DESIGN.md.
type SellSimulator interface {
	SimulateSell(ctx context.Context, req Request, nominalTokenAmount uint64) (*rpc.SimulateTransactionResponse, error)
}

// Analyzer is the risk engine. It is safe for concurrent use.
type Analyzer struct {
	cfg    Config
	rpcMgr *rpcmanager.Manager
	logger *zap.Logger

	simulators map[solsniper.Dex]SellSimulator

	analysisCache *cache.Cache[string, *solsniper.RiskAnalysis]
	blacklist     *cache.Cache[string, string]
	whitelist     *cache.Cache[string, struct{}]
}

// New constructs an Analyzer.
func New(cfg Config, rpcMgr *rpcmanager.Manager, logger *zap.Logger) *Analyzer {
	return &Analyzer{
		cfg:           cfg,
		rpcMgr:        rpcMgr,
		logger:        logger,
		simulators:    make(map[solsniper.Dex]SellSimulator),
		analysisCache: cache.New[string, *solsniper.RiskAnalysis](4096, analysisCacheTTL),
		blacklist:     cache.New[string, string](blacklistCap, blacklistTTL),
		whitelist:     cache.New[string, struct{}](whitelistCap, 30*24*time.Hour),
	}
}

// RegisterSellSimulator wires a DEX's Phase-3 sell simulator.
func (a *Analyzer) RegisterSellSimulator(d solsniper.Dex, s SellSimulator) {
	a.simulators[d] = s
}

// Blacklist marks a mint as always-fail, with a reason recorded for the
// synthetic factor quick_check/analyze return for it.
func (a *Analyzer) Blacklist(mint string, reason string) {
	a.blacklist.Set(mint, reason)
}

// Whitelist marks a mint as pre-approved; quick_check still runs its other
// checks, but the blacklist short-circuit never applies.
func (a *Analyzer) Whitelist(mint string) {
	a.whitelist.Set(mint, struct{}{})
}

// QuickCheck is the ultra-fast viability check: blacklist/whitelist,
// critical-extension presence, and a liquidity floor (spec §4.7).
func (a *Analyzer) QuickCheck(ctx context.Context, req Request) QuickCheckResult {
	mintKey := req.Mint.String()
	if _, whitelisted := a.whitelist.Get(mintKey); !whitelisted {
		if reason, ok := a.blacklist.Get(mintKey); ok {
			return QuickCheckResult{Viable: false, Reason: "blacklisted: " + reason}
		}
	}

	mint, err := a.fetchMintState(ctx, req.Mint)
	if err != nil || mint == nil {
		return QuickCheckResult{Viable: false, Reason: "mint account unreadable"}
	}
	if mint.HasExtensions {
		for _, ext := range parseExtensions(mint.ExtensionData) {
			if isCriticalExtension(ext.Type) {
				return QuickCheckResult{Viable: false, Reason: "critical token-2022 extension present"}
			}
		}
	}

	liquidity, err := a.quoteVaultLiquiditySol(ctx, req)
	if err == nil && liquidity < a.cfg.MinLiquiditySol {
		return QuickCheckResult{Viable: false, Reason: "liquidity below floor"}
	}

	return QuickCheckResult{Viable: true}
}

// Analyze runs the full three-phase pipeline and caches the result for
// analysisCacheTTL, keyed by mint (spec §4.7).
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*solsniper.RiskAnalysis, error) {
	mintKey := req.Mint.String()

	if reason, ok := a.blacklist.Get(mintKey); ok {
		return &solsniper.RiskAnalysis{
			Score:  0,
			Passed: false,
			Factors: []solsniper.RiskFactor{{
				Name: "blacklist", Score: -100, MaxScore: 1, Passed: false, Details: reason,
			}},
			Timestamp: time.Now().UTC(),
		}, nil
	}

	if cached, ok := a.analysisCache.Get(mintKey); ok {
		return cached, nil
	}

	analysis := a.analyze(ctx, req)
	a.analysisCache.Set(mintKey, analysis)
	return analysis, nil
}

func (a *Analyzer) analyze(ctx context.Context, req Request) *solsniper.RiskAnalysis {
	factors, warnings, terminate := a.phase1(ctx, req)
	if terminate {
		return finalize(factors, warnings)
	}

	p2factors, p2warnings := a.phase2(ctx, req)
	factors = append(factors, p2factors...)
	warnings = append(warnings, p2warnings...)

	if a.cfg.EnableHoneypotCheck {
		p3factor, _ := a.phase3(ctx, req)
		factors = append(factors, p3factor)
	}

	return finalize(factors, warnings)
}

func finalize(factors []solsniper.RiskFactor, warnings []string) *solsniper.RiskAnalysis {
	analysis := &solsniper.RiskAnalysis{
		Score:     solsniper.NormalizeScore(factors),
		Factors:   factors,
		Warnings:  warnings,
		Timestamp: time.Now().UTC(),
	}
	analysis.Passed = !analysis.HasCritical() && analysis.Score >= 50
	return analysis
}

func (a *Analyzer) fetchMintState(ctx context.Context, mint solsniper.Address) (*mintState, error) {
	info, err := a.rpcMgr.GetAccountInfo(ctx, mint.PublicKey())
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, nil
	}
	ms, ok := parseMintAccount(info.Data)
	if !ok {
		return nil, nil
	}
	return ms, nil
}

// wrappedSolMint is the canonical wrapped-SOL mint; vault balances in this
// mint translate 1:1 to lamports rather than needing a price lookup.
var wrappedSolMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

func (a *Analyzer) quoteVaultLiquiditySol(ctx context.Context, req Request) (float64, error) {
	info, err := a.rpcMgr.GetAccountInfo(ctx, req.QuoteVault.PublicKey())
	if err != nil || info == nil {
		return 0, err
	}
	lamports, ok := tokenAccountAmount(info.Data)
	if !ok {
		return 0, nil
	}
	switch req.QuoteMint.PublicKey() {
	case wrappedSolMint:
		return float64(lamports) / 1e9, nil
	case usdcMint, usdtMint:
		// Crude fixed SOL-equivalent ratio rather than a live price feed,
		// per spec §4.7.
		uiAmount := float64(lamports) / 1e6
		return uiAmount * stablecoinToSolRatio, nil
	default:
		return float64(lamports), nil // raw, intentionally crude
	}
}

// usdcMint/usdtMint are the mainnet stablecoin mints recognized for the
// crude SOL-equivalent liquidity conversion.
var (
	usdcMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	usdtMint = solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB")
)

// stablecoinToSolRatio approximates SOL's USD price for liquidity sizing
// only; it is not a trading price and is deliberately coarse (spec §4.7
// calls for "a crude SOL equivalent via fixed ratio").
const stablecoinToSolRatio = 1.0 / 150.0

// tokenAccountAmount reads the 8-byte little-endian `amount` field at
// offset 64 of an SPL token Account (after mint[32] + owner[32]).
func tokenAccountAmount(data []byte) (uint64, bool) {
	const offAmount = 64
	if len(data) < offAmount+8 {
		return 0, false
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(data[offAmount+i])
	}
	return v, true
}

func isCriticalExtension(t ExtensionType) bool {
	switch t {
	case ExtMintCloseAuthority, ExtPermanentDelegate, ExtTransferHook, ExtNonTransferable:
		return true
	default:
		return false
	}
}
