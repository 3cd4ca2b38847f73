// Package executor implements the spec §4.8 bundle executor: DEX-specific
// swap instruction building, tip computation, block-engine bundle submission
// with status polling, and a direct-RPC fallback on bundle failure/timeout.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"solsniper"
	"solsniper/internal/rpcmanager"
)

// Side is the trade direction of an execution request.
type Side int

const (
	SideBuy Side = iota
	SideSell
)

func (s Side) String() string {
	if s == SideSell {
		return "sell"
	}
	return "buy"
}

// Request is a single swap request handed to Execute (spec §4.8).
type Request struct {
	Dex   solsniper.Dex
	Mint  solsniper.Address
	Pool  solsniper.Address // bonding curve / AMM pool state account
	Side  Side
	// AmountLamports is lamports to spend on a buy, or raw token units to
	// sell on a sell.
	AmountLamports uint64
	SlippageBps    int
}

// Result is Execute's return envelope (spec §4.8: "{success, tx_hash?,
// price?, error?, latency_ms}"). Err is populated on any failure; Execute
// reports every failure through Result and its own error return is always
// nil.
type Result struct {
	Success   bool
	TxHash    string
	BundleID  string
	Price     float64
	Err       error
	LatencyMs int64
}

// Config tunes bundle/tip/compute-budget behavior (spec §6).
type Config struct {
	DryRun bool
	Wallet solana.PrivateKey

	ComputeUnitLimit              uint32
	ComputeUnitPriceMicroLamports uint64

	TipStrategy    TipStrategy
	TipLamports    uint64
	TipPercent     float64
	MaxTipLamports uint64

	BlockEngineURL     string
	BundleTimeout      time.Duration
	BundlePollInterval time.Duration

	// FeeRecipient is Pumpfun's protocol fee account. Overridable for
	// devnet/testing; defaults to the mainnet fee recipient.
	FeeRecipient solana.PublicKey

	// MaxFallbackRetries bounds the direct-RPC fallback's retry count
	// (spec §4.8 step 7: "internal retries ≤ 3").
	MaxFallbackRetries uint
}

// Executor drives a single swap request to on-chain inclusion, preferring a
// Jito-style bundle with a direct-RPC fallback (spec §4.8). It is safe for
// concurrent use.
type Executor struct {
	cfg    Config
	rpcMgr *rpcmanager.Manager
	logger *zap.Logger

	bundle *bundleClient
	tips   *tipTracker
}

// New constructs an Executor. cfg.Wallet must be a valid signer; a zero
// Wallet is only acceptable when cfg.DryRun is true.
func New(cfg Config, rpcMgr *rpcmanager.Manager, logger *zap.Logger) *Executor {
	if cfg.BundleTimeout <= 0 {
		cfg.BundleTimeout = 60 * time.Second
	}
	if cfg.BundlePollInterval <= 0 {
		cfg.BundlePollInterval = 2 * time.Second
	}
	if cfg.ComputeUnitLimit == 0 {
		cfg.ComputeUnitLimit = 200_000
	}
	if cfg.MaxFallbackRetries == 0 {
		cfg.MaxFallbackRetries = 3
	}
	if cfg.FeeRecipient == (solana.PublicKey{}) {
		cfg.FeeRecipient = defaultFeeRecipient
	}
	return &Executor{
		cfg:    cfg,
		rpcMgr: rpcMgr,
		logger: logger,
		bundle: newBundleClient(cfg.BlockEngineURL),
		tips:   newTipTracker(),
	}
}

// Execute builds, submits and (on bundle failure) falls back a single swap
// request per the seven-step algorithm of spec §4.8.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	elapsed := func() int64 { return time.Since(start).Milliseconds() }

	if e.cfg.DryRun {
		e.logger.Info("executor: dry-run short-circuit", zap.String("dex", req.Dex.String()), zap.String("side", req.Side.String()))
		return &Result{Success: true, TxHash: "dry-run", LatencyMs: elapsed()}, nil
	}

	build, ok := e.builders()[req.Dex]
	if !ok {
		return &Result{Success: false, Err: fmt.Errorf("executor: unsupported dex %s", req.Dex), LatencyMs: elapsed()}, nil
	}

	plan, err := build(ctx, req)
	if err != nil {
		return &Result{Success: false, Err: fmt.Errorf("executor: build instructions: %w", err), LatencyMs: elapsed()}, nil
	}

	latest, err := e.rpcMgr.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil || latest == nil || latest.Value == nil {
		return &Result{Success: false, Err: fmt.Errorf("executor: get latest blockhash: %w", err), LatencyMs: elapsed()}, nil
	}
	blockhash := latest.Value.Blockhash

	tipRecipient, err := e.selectTipRecipient(ctx)
	if err != nil {
		e.logger.Warn("executor: tip recipient selection fell back to embedded defaults", zap.Error(err))
	}
	tipLamports := e.computeTip(0, nil)
	tipIx := transferInstruction(e.cfg.Wallet.PublicKey(), tipRecipient, tipLamports)

	budgetIxs := []solana.Instruction{
		setComputeUnitLimitInstruction(e.cfg.ComputeUnitLimit),
		setComputeUnitPriceInstruction(e.cfg.ComputeUnitPriceMicroLamports),
	}
	fullIxs := append(append(append([]solana.Instruction{}, budgetIxs...), plan.Instructions...), tipIx)

	tx, err := e.signTransaction(fullIxs, blockhash)
	if err != nil {
		return &Result{Success: false, Err: fmt.Errorf("executor: sign transaction: %w", err), LatencyMs: elapsed()}, nil
	}

	bundleID, err := e.bundle.SendBundle(ctx, []*solana.Transaction{tx})
	if err != nil {
		e.logger.Warn("executor: bundle submission failed, falling back", zap.Error(err))
		return e.fallback(ctx, budgetIxs, plan, blockhash, plan.Price, elapsed)
	}

	status, err := e.pollBundleStatus(ctx, bundleID)
	if err != nil || status != BundleLanded {
		e.logger.Info("executor: bundle did not land, falling back", zap.String("bundle_id", bundleID), zap.Any("status", status), zap.Error(err))
		return e.fallback(ctx, budgetIxs, plan, blockhash, plan.Price, elapsed)
	}

	e.tips.record(tipLamports)
	return &Result{
		Success:   true,
		TxHash:    tx.Signatures[0].String(),
		BundleID:  bundleID,
		Price:     plan.Price,
		LatencyMs: elapsed(),
	}, nil
}

// fallback drops the tip instruction and sends the remaining instructions
// directly through C4 with bounded retries (spec §4.8 step 7), then confirms.
func (e *Executor) fallback(ctx context.Context, budgetIxs []solana.Instruction, plan *swapPlan, blockhash solana.Hash, price float64, elapsed func() int64) (*Result, error) {
	ixs := append(append([]solana.Instruction{}, budgetIxs...), plan.Instructions...)
	tx, err := e.signTransaction(ixs, blockhash)
	if err != nil {
		return &Result{Success: false, Err: fmt.Errorf("executor: sign fallback transaction: %w", err), LatencyMs: elapsed()}, nil
	}

	sig, err := e.sendWithRetry(ctx, tx)
	if err != nil {
		return &Result{Success: false, Err: fmt.Errorf("executor: direct-rpc fallback failed: %w", err), LatencyMs: elapsed()}, nil
	}

	if _, err := e.rpcMgr.ConfirmTransaction(ctx, sig); err != nil {
		return &Result{Success: false, Err: fmt.Errorf("executor: fallback transaction unconfirmed: %w", err), LatencyMs: elapsed()}, nil
	}

	return &Result{Success: true, TxHash: sig.String(), Price: price, LatencyMs: elapsed()}, nil
}

// swapPlan is the intermediate result of building a DEX-specific swap: the
// instructions to submit plus the price observed while sizing it.
type swapPlan struct {
	Instructions []solana.Instruction
	Price        float64
}

type buildFunc func(ctx context.Context, req Request) (*swapPlan, error)

func (e *Executor) builders() map[solsniper.Dex]buildFunc {
	return map[solsniper.Dex]buildFunc{
		solsniper.DexPumpfun: e.buildPumpfunSwap,
	}
}

func (e *Executor) signTransaction(ixs []solana.Instruction, blockhash solana.Hash) (*solana.Transaction, error) {
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(e.cfg.Wallet.PublicKey()))
	if err != nil {
		return nil, err
	}
	wallet := e.cfg.Wallet
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(wallet.PublicKey()) {
			return &wallet
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return tx, nil
}
