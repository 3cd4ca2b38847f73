package risk

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc"

	"solsniper"
)

// burnAddresses are well-known "nobody can move this" destinations; LP
// tokens sent here are treated the same as a locked LP for scoring purposes.
var burnAddresses = map[string]bool{
	"11111111111111111111111111111111":            true,
	"1nc1nerator11111111111111111111111111111111": true,
}

// phase2 runs the deeper top-holder / LP-lock / creator checks (spec §4.7).
func (a *Analyzer) phase2(ctx context.Context, req Request) (factors []solsniper.RiskFactor, warnings []string) {
	holderFactor, holderWarnings, top10 := a.topHolderFactor(ctx, req)
	factors = append(factors, holderFactor)
	warnings = append(warnings, holderWarnings...)

	if req.LPMint != nil {
		factors = append(factors, a.lpLockFactor(ctx, *req.LPMint))
	}

	if req.Creator != nil {
		if factor, ok := a.creatorHolderFactor(*req.Creator, top10); ok {
			factors = append(factors, factor)
		}
	}

	return factors, warnings
}

type holderEntry struct {
	Address string
	UIAmount float64
}

// topHolderFactor classifies concentration risk from the top-1/top-5/top-10
// holder share of supply (spec §4.7).
func (a *Analyzer) topHolderFactor(ctx context.Context, req Request) (solsniper.RiskFactor, []string, []holderEntry) {
	res, err := a.rpcMgr.GetTokenLargestAccounts(ctx, req.Mint.PublicKey(), rpc.CommitmentFinalized)
	if err != nil || res == nil || len(res.Value) == 0 {
		return solsniper.RiskFactor{
			Name: "holder_distribution", Score: 0, MaxScore: maxTopHolderPenalty, Passed: true,
			Details: "top holder data unavailable",
		}, nil, nil
	}

	supply, err := a.rpcMgr.GetTokenSupply(ctx, req.Mint.PublicKey(), rpc.CommitmentFinalized)
	if err != nil || supply == nil || supply.Value == nil || supply.Value.UiAmount == nil || *supply.Value.UiAmount == 0 {
		return solsniper.RiskFactor{
			Name: "holder_distribution", Score: 0, MaxScore: maxTopHolderPenalty, Passed: true,
			Details: "total supply unavailable",
		}, nil, nil
	}
	totalSupply := *supply.Value.UiAmount

	holders := make([]holderEntry, 0, len(res.Value))
	for _, v := range res.Value {
		ui := 0.0
		if v.UiAmount != nil {
			ui = *v.UiAmount
		}
		holders = append(holders, holderEntry{Address: v.Address.String(), UIAmount: ui})
	}

	sum := func(n int) float64 {
		if n > len(holders) {
			n = len(holders)
		}
		var s float64
		for i := 0; i < n; i++ {
			s += holders[i].UIAmount
		}
		return s
	}

	top1Pct := sum(1) / totalSupply * 100
	top5Pct := sum(5) / totalSupply * 100
	top10Pct := sum(10) / totalSupply * 100

	var warnings []string
	var score int
	var concentration string
	switch {
	case top1Pct <= 10 && top5Pct <= 30:
		concentration = "low"
		score = maxTopHolderPenalty
	case top1Pct <= 20 && top5Pct <= 50:
		concentration = "medium"
		score = maxTopHolderPenalty / 2
		warnings = append(warnings, "medium holder concentration")
	default:
		concentration = "high"
		score = -maxTopHolderPenalty
		warnings = append(warnings, "high holder concentration")
	}

	if a.cfg.MaxTopHolderPercent > 0 && top1Pct > a.cfg.MaxTopHolderPercent {
		score = -maxTopHolderPenalty
		warnings = append(warnings, "top holder exceeds configured ceiling")
	}

	return solsniper.RiskFactor{
		Name: "holder_distribution", Score: score, MaxScore: maxTopHolderPenalty, Passed: score >= 0,
		Details: fmt.Sprintf("%s concentration (top1=%.1f%% top5=%.1f%% top10=%.1f%%)", concentration, top1Pct, top5Pct, top10Pct),
	}, warnings, holders
}

// lpLockFactor rewards LP tokens that sit in a burn address or otherwise
// appear immovable; a readable-but-unlocked LP mint is a soft fail rather
// than critical, since rug-via-LP-pull still requires a second transaction
// this bot can in principle react to.
func (a *Analyzer) lpLockFactor(ctx context.Context, lpMint solsniper.Address) solsniper.RiskFactor {
	supply, err := a.rpcMgr.GetTokenSupply(ctx, lpMint.PublicKey(), rpc.CommitmentFinalized)
	if err != nil || supply == nil || supply.Value == nil {
		return solsniper.RiskFactor{
			Name: "lp_lock", Score: 0, MaxScore: ScoreLPLockedFull, Passed: true,
			Details: "LP supply unavailable",
		}
	}

	largest, err := a.rpcMgr.GetTokenLargestAccounts(ctx, lpMint.PublicKey(), rpc.CommitmentFinalized)
	if err != nil || largest == nil || len(largest.Value) == 0 {
		return solsniper.RiskFactor{
			Name: "lp_lock", Score: ScoreLPLockedFail, MaxScore: ScoreLPLockedFull, Passed: false,
			Details: "LP holder data unavailable",
		}
	}

	totalSupply := 0.0
	if supply.Value.UiAmount != nil {
		totalSupply = *supply.Value.UiAmount
	}

	var burnedPct float64
	for _, v := range largest.Value {
		if !burnAddresses[v.Address.String()] {
			continue
		}
		if v.UiAmount != nil && totalSupply > 0 {
			burnedPct += *v.UiAmount / totalSupply * 100
		}
	}

	switch {
	case burnedPct >= 95:
		return solsniper.RiskFactor{
			Name: "lp_lock", Score: ScoreLPLockedFull, MaxScore: ScoreLPLockedFull, Passed: true,
			Details: "LP effectively burned",
		}
	case burnedPct >= 50:
		return solsniper.RiskFactor{
			Name: "lp_lock", Score: ScoreLPLockedPartial, MaxScore: ScoreLPLockedFull, Passed: true,
			Details: "LP partially burned",
		}
	default:
		return solsniper.RiskFactor{
			Name: "lp_lock", Score: ScoreLPLockedFail, MaxScore: ScoreLPLockedFull, Passed: false,
			Details: "LP not locked or burned",
		}
	}
}

// creatorHolderFactor flags a creator wallet that still sits among the top
// holders post-launch, a common setup for a later dump.
func (a *Analyzer) creatorHolderFactor(creator solsniper.Address, top []holderEntry) (solsniper.RiskFactor, bool) {
	if len(top) == 0 {
		return solsniper.RiskFactor{}, false
	}
	addr := creator.String()
	for i, h := range top {
		if h.Address != addr {
			continue
		}
		if i < 3 {
			return solsniper.RiskFactor{
				Name: "creator_holding", Score: -15, MaxScore: 0, Passed: false,
				Details: "creator wallet among top-3 holders",
			}, true
		}
		return solsniper.RiskFactor{
			Name: "creator_holding", Score: -5, MaxScore: 0, Passed: false,
			Details: "creator wallet among top-10 holders",
		}, true
	}
	return solsniper.RiskFactor{
		Name: "creator_holding", Score: ScoreLPLockedBonus, MaxScore: ScoreLPLockedBonus, Passed: true,
		Details: "creator wallet not among top holders",
	}, true
}
