package risk

import (
	"context"

	"solsniper"
)

// phase1 runs the fast mint/freeze/liquidity/extension checks (spec §4.7).
// terminate is true when a critical Phase-1 failure means the full analysis
// should stop here; finalize() derives Passed from the returned factors'
// IsCritical/score regardless, so terminate only controls early exit.
func (a *Analyzer) phase1(ctx context.Context, req Request) (factors []solsniper.RiskFactor, warnings []string, terminate bool) {
	mint, err := a.fetchMintState(ctx, req.Mint)
	if err != nil || mint == nil {
		factors = append(factors, solsniper.RiskFactor{
			Name: "mint_authority", Score: -100, MaxScore: ScoreMintAuthorityRevoked, Passed: false,
			Details: "mint account unreadable",
		})
		return factors, warnings, true
	}

	if mint.MintAuthority == nil {
		factors = append(factors, solsniper.RiskFactor{
			Name: "mint_authority", Score: ScoreMintAuthorityRevoked, MaxScore: ScoreMintAuthorityRevoked, Passed: true,
		})
	} else {
		factors = append(factors, solsniper.RiskFactor{
			Name: "mint_authority", Score: -100, MaxScore: ScoreMintAuthorityRevoked, Passed: false,
			Details: "mint authority not revoked",
		})
		return factors, warnings, true
	}

	if mint.FreezeAuthority == nil {
		factors = append(factors, solsniper.RiskFactor{
			Name: "freeze_authority", Score: ScoreFreezeAuthorityRevoked, MaxScore: ScoreFreezeAuthorityRevoked, Passed: true,
		})
	} else {
		factors = append(factors, solsniper.RiskFactor{
			Name: "freeze_authority", Score: -100, MaxScore: ScoreFreezeAuthorityRevoked, Passed: false,
			Details: "freeze authority not revoked",
		})
		return factors, warnings, true
	}

	liquiditySol, err := a.quoteVaultLiquiditySol(ctx, req)
	if err != nil {
		liquiditySol = 0
	}
	if liquiditySol < a.cfg.MinLiquiditySol {
		factors = append(factors, solsniper.RiskFactor{
			Name: "liquidity", Score: -100, MaxScore: ScoreLiquidityFull, Passed: false,
			Details: "liquidity below configured floor",
		})
		return factors, warnings, true
	}
	liquidityScore := ScoreLiquidityFull
	if liquiditySol < liquidityFullThresholdSol {
		liquidityScore = int(roundHalfUp(ScoreLiquidityFull * liquiditySol / liquidityFullThresholdSol))
	}
	factors = append(factors, solsniper.RiskFactor{
		Name: "liquidity", Score: liquidityScore, MaxScore: ScoreLiquidityFull, Passed: true,
	})

	extFactor, extWarnings, extCritical := a.extensionFactor(mint)
	factors = append(factors, extFactor)
	warnings = append(warnings, extWarnings...)
	if extCritical {
		return factors, warnings, true
	}

	return factors, warnings, false
}

func (a *Analyzer) extensionFactor(mint *mintState) (solsniper.RiskFactor, []string, bool) {
	if !mint.HasExtensions {
		return solsniper.RiskFactor{
			Name: "token_standard", Score: ScoreStandardSPL, MaxScore: ScoreToken2022Benign, Passed: true,
			Details: "standard SPL mint",
		}, nil, false
	}

	extensions := parseExtensions(mint.ExtensionData)
	var warnings []string
	score := ScoreToken2022Benign
	for _, ext := range extensions {
		switch ext.Type {
		case ExtMintCloseAuthority, ExtPermanentDelegate, ExtTransferHook, ExtNonTransferable:
			return solsniper.RiskFactor{
				Name: "token_standard", Score: -100, MaxScore: ScoreToken2022Benign, Passed: false,
				Details: "critical token-2022 extension present",
			}, warnings, true
		case ExtTransferFeeConfig:
			bps, ok := transferFeeBasisPoints(ext.Value)
			if !ok {
				continue
			}
			pct := float64(bps) / 100
			switch {
			case pct > 1:
				score -= 15
				warnings = append(warnings, "transfer fee exceeds 1%")
			case pct >= 0.1:
				score -= 5
				warnings = append(warnings, "transfer fee between 0.1% and 1%")
			default:
				warnings = append(warnings, "transfer fee present (<=0.1%)")
			}
		case ExtDefaultAccountState:
			if defaultAccountStateIsFrozen(ext.Value) {
				score -= 8
				warnings = append(warnings, "default account state is frozen")
			}
		}
	}
	if score < -100 {
		score = -100
	}
	return solsniper.RiskFactor{
		Name: "token_standard", Score: score, MaxScore: ScoreToken2022Benign, Passed: true,
	}, warnings, false
}

func roundHalfUp(v float64) float64 {
	if v < 0 {
		return -roundHalfUp(-v)
	}
	i := float64(int64(v))
	if v-i >= 0.5 {
		return i + 1
	}
	return i
}
