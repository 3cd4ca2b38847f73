package executor

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go/rpc"

	"solsniper/internal/risk"
)

// SimulateSell implements risk.SellSimulator for Pumpfun (spec §4.7 Phase
// 3): it builds a nominal sell for nominalTokenAmount and runs it through
// C4's simulateTransaction, without ever submitting it on-chain. Raydium
// sell simulation is not implemented — see DESIGN.md — so only Pumpfun is
// registered against the risk analyzer.
func (e *Executor) SimulateSell(ctx context.Context, req risk.Request, nominalTokenAmount uint64) (*rpc.SimulateTransactionResponse, error) {
	plan, err := e.buildPumpfunSwap(ctx, Request{
		Dex:            req.Dex,
		Mint:           req.Mint,
		Pool:           req.Pool,
		Side:           SideSell,
		AmountLamports: nominalTokenAmount,
		SlippageBps:    0,
	})
	if err != nil {
		return nil, fmt.Errorf("executor: build nominal sell: %w", err)
	}

	latest, err := e.rpcMgr.GetLatestBlockhash(ctx, rpc.CommitmentProcessed)
	if err != nil || latest == nil || latest.Value == nil {
		return nil, fmt.Errorf("executor: get latest blockhash for simulation: %w", err)
	}

	tx, err := e.signTransaction(plan.Instructions, latest.Value.Blockhash)
	if err != nil {
		return nil, fmt.Errorf("executor: sign simulation transaction: %w", err)
	}

	sigVerify := false
	return e.rpcMgr.SimulateTransaction(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  sigVerify,
		Commitment: rpc.CommitmentProcessed,
	})
}
