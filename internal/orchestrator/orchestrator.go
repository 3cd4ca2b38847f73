// Package orchestrator wires ingestion through risk analysis, execution and
// position management into the running pipeline of spec §4.10. It lives
// apart from the root package because it must import every component
// package, each of which already imports the root package for shared types.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solsniper"
	"solsniper/internal/executor"
	"solsniper/internal/ingestion"
	"solsniper/internal/logging"
	"solsniper/internal/position"
	"solsniper/internal/risk"
	"solsniper/internal/rpcmanager"
)

// Config tunes the pipeline's buy decision (spec §4.10, §6 Trading params).
type Config struct {
	RiskScoreThreshold int
	BuyAmountLamports  uint64
	MaxSlippageBps     int
	Wallet             solana.PublicKey
}

// Orchestrator wires ingestion (C6) through risk analysis (C7), execution
// (C8) and position management (C9), per spec §4.10. It holds no state of
// its own beyond the wiring: every shared resource belongs to exactly one
// of the components it coordinates (spec §5 "shared resources").
type Orchestrator struct {
	cfg Config

	ingestion *ingestion.Coordinator
	analyzer  *risk.Analyzer
	exec      *executor.Executor
	positions *position.Manager
	rpcMgr    *rpcmanager.Manager
	sweeper   *executor.Sweeper

	logger *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Orchestrator from its already-constructed components.
// Callers build the components (each with their own Config projected from
// configs.Config) and hand them here to be wired together.
func New(cfg Config, ing *ingestion.Coordinator, analyzer *risk.Analyzer, exec *executor.Executor, positions *position.Manager, rpcMgr *rpcmanager.Manager, sweeper *executor.Sweeper, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		ingestion: ing,
		analyzer:  analyzer,
		exec:      exec,
		positions: positions,
		rpcMgr:    rpcMgr,
		sweeper:   sweeper,
		logger:    logger,
	}
}

// Start launches the ingestion coordinator, the position manager's
// price-refresh timer, the auto-sweep timer (if configured), and the two
// event-consumption loops (new pools, exit triggers). It returns once every
// background goroutine has been launched.
func (o *Orchestrator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	if o.ingestion != nil {
		o.ingestion.Start(runCtx)
	}
	o.positions.Start(runCtx)
	if o.sweeper != nil {
		o.sweeper.Start(runCtx)
	}

	o.wg.Add(2)
	go func() {
		defer o.wg.Done()
		o.consumeNewPools(runCtx)
	}()
	go func() {
		defer o.wg.Done()
		o.consumeExitTriggers(runCtx)
	}()
}

// Stop propagates cancellation to every owned component, per spec §5: halts
// ingestion's receive loop and closes its streams, cancels the
// position-polling timer, cancels the auto-sweep timer. It blocks until
// both consumption loops have exited.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	if o.ingestion != nil {
		o.ingestion.Stop()
	}
	o.positions.Stop()
	if o.sweeper != nil {
		o.sweeper.Stop()
	}
	o.wg.Wait()
}

// consumeNewPools implements the NewPoolEvent branch of spec §4.10: skip if
// a position already exists for the mint; else analyze, and on a passing
// score, buy and open a position.
func (o *Orchestrator) consumeNewPools(ctx context.Context) {
	if o.ingestion == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.ingestion.Events():
			if !ok {
				return
			}
			if ev == nil || ev.Kind != solsniper.PoolEventNewPool {
				continue
			}
			o.handleNewPool(ctx, ev)
		}
	}
}

func (o *Orchestrator) handleNewPool(ctx context.Context, ev *solsniper.PoolEvent) {
	if o.positions.HasPosition(ev.Mint) {
		return
	}

	analyzeDone := logging.StageTimer(o.logger, "analyze", zap.String("mint", ev.Mint.String()))
	req := risk.Request{
		Mint: ev.Mint, Pool: ev.Pool, Dex: ev.Dex,
		BaseMint: ev.BaseMint, QuoteMint: ev.QuoteMint,
		BaseVault: ev.BaseVault, QuoteVault: ev.QuoteVault, LPMint: ev.LPMint,
	}
	start := time.Now()
	analysis, err := o.analyzer.Analyze(ctx, req)
	analyzeDone(time.Since(start).Milliseconds(), err)
	if err != nil {
		o.logger.Warn("orchestrator: analyze failed", zap.String("mint", ev.Mint.String()), zap.Error(err))
		return
	}
	if !analysis.Passed || analysis.Score < o.cfg.RiskScoreThreshold {
		o.logger.Info("orchestrator: candidate rejected",
			zap.String("mint", ev.Mint.String()), zap.Int("score", analysis.Score), zap.Bool("passed", analysis.Passed))
		return
	}

	buyDone := logging.StageTimer(o.logger, "buy", zap.String("mint", ev.Mint.String()))
	start = time.Now()
	res, err := o.exec.Execute(ctx, executor.Request{
		Dex: ev.Dex, Mint: ev.Mint, Pool: ev.Pool,
		Side: executor.SideBuy, AmountLamports: o.cfg.BuyAmountLamports, SlippageBps: o.cfg.MaxSlippageBps,
	})
	buyDone(time.Since(start).Milliseconds(), err)
	if err != nil || res == nil || !res.Success {
		o.logger.Warn("orchestrator: buy failed", zap.String("mint", ev.Mint.String()), zap.Error(resultErr(res, err)))
		return
	}

	solSpent := float64(o.cfg.BuyAmountLamports) / float64(solana.LAMPORTS_PER_SOL)
	if _, err := o.positions.Open(ctx, ev.Mint, ev.Pool, ev.Dex, res.Price, solSpent, 0, res.TxHash); err != nil {
		o.logger.Error("orchestrator: open_position rejected after a successful buy", zap.String("mint", ev.Mint.String()), zap.Error(err))
	}
}

// consumeExitTriggers implements the exit_trigger branch of spec §4.10:
// read the on-chain token balance for the mint; if zero, close with no tx;
// else sell, closing on success and reverting to Open on failure.
func (o *Orchestrator) consumeExitTriggers(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case trig, ok := <-o.positions.ExitTriggers():
			if !ok {
				return
			}
			o.handleExitTrigger(ctx, trig)
		}
	}
}

func (o *Orchestrator) handleExitTrigger(ctx context.Context, trig position.ExitTrigger) {
	sellDone := logging.StageTimer(o.logger, "sell", zap.String("mint", trig.Mint.String()), zap.String("reason", trig.Reason.String()))
	start := time.Now()

	balance, err := o.tokenBalance(ctx, trig.Mint)
	if err != nil {
		sellDone(time.Since(start).Milliseconds(), err)
		o.logger.Warn("orchestrator: token balance read failed, reverting", zap.String("mint", trig.Mint.String()), zap.Error(err))
		o.positions.Revert(trig.PositionID)
		return
	}
	if balance == 0 {
		sellDone(time.Since(start).Milliseconds(), nil)
		if err := o.positions.Close(ctx, trig.PositionID, trig.Reason, "", 0); err != nil {
			o.logger.Error("orchestrator: close_position failed", zap.Uint64("id", trig.PositionID), zap.Error(err))
		}
		return
	}

	res, err := o.exec.Execute(ctx, executor.Request{
		Dex: trig.Dex, Mint: trig.Mint, Pool: trig.Pool,
		Side: executor.SideSell, AmountLamports: balance, SlippageBps: o.cfg.MaxSlippageBps,
	})
	sellDone(time.Since(start).Milliseconds(), err)
	if err != nil || res == nil || !res.Success {
		o.logger.Warn("orchestrator: sell failed, reverting position", zap.Uint64("id", trig.PositionID), zap.Error(resultErr(res, err)))
		o.positions.Revert(trig.PositionID)
		return
	}

	if err := o.positions.Close(ctx, trig.PositionID, trig.Reason, res.TxHash, res.Price); err != nil {
		o.logger.Error("orchestrator: close_position failed after a successful sell", zap.Uint64("id", trig.PositionID), zap.Error(err))
	}
}

// tokenBalance reads the raw token amount of the wallet's associated token
// account for mint (spec §4.10 "read the on-chain token balance").
func (o *Orchestrator) tokenBalance(ctx context.Context, mint solsniper.Address) (uint64, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(o.cfg.Wallet, mint.PublicKey())
	if err != nil {
		return 0, err
	}
	info, err := o.rpcMgr.GetAccountInfo(ctx, ata)
	if err != nil {
		return 0, err
	}
	if info == nil {
		return 0, nil
	}
	amount, ok := tokenAccountAmount(info.Data)
	if !ok {
		return 0, nil
	}
	return amount, nil
}

// tokenAccountAmount reads the 8-byte little-endian amount field at offset
// 64 of an SPL token Account (after mint[32] + owner[32]).
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

func resultErr(res *executor.Result, err error) error {
	if err != nil {
		return err
	}
	if res != nil {
		return res.Err
	}
	return nil
}
