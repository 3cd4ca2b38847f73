// Command solsniper is the long-running process of spec §6: no arguments,
// configured entirely from the environment, SIGINT/SIGTERM trigger graceful
// shutdown, uncaught panics exit non-zero.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"solsniper"
	"solsniper/configs"
	"solsniper/internal/dex"
	"solsniper/internal/dex/pumpfun"
	"solsniper/internal/dex/raydium"
	"solsniper/internal/executor"
	"solsniper/internal/ingestion"
	"solsniper/internal/logging"
	"solsniper/internal/orchestrator"
	"solsniper/internal/position"
	"solsniper/internal/risk"
	"solsniper/internal/rpcmanager"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "solsniper:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := configs.Load()
	if err != nil {
		return err
	}

	logger := logging.New(logging.Options{Level: cfg.LogLevel, Console: cfg.LogConsole, File: cfg.LogFile})
	defer logger.Sync()

	wallet, err := cfg.Wallet()
	if err != nil {
		return err
	}

	rpcMgr, err := rpcmanager.New(logger, cfg.RPCCacheTTL, 4096, cfg.ToProviderConfigs())
	if err != nil {
		return err
	}

	registry := dex.NewRegistry()
	if cfg.EnablePumpfun {
		registry.Register(solsniper.DexPumpfun, pumpfun.ProgramID, pumpfun.New())
	}
	if cfg.EnableRaydium {
		registry.Register(solsniper.DexRaydium, raydium.ProgramID, raydium.New())
	}

	enabledDexes := cfg.EnabledDexes()
	ingestionCoordinator := ingestion.New(cfg.ToIngestionConfig(enabledDexes), registry, rpcMgr, logger)

	analyzer := risk.New(cfg.ToRiskConfig(wallet.PublicKey()), rpcMgr, logger)

	exec := executor.New(cfg.ToExecutorConfig(wallet), rpcMgr, logger)
	// Pumpfun is the only DEX with a registered sell-simulation path (see
	// DESIGN.md); Phase 3 honeypot checks for other DEXes get the neutral
	// result until their swap-building is implemented.
	analyzer.RegisterSellSimulator(solsniper.DexPumpfun, exec)

	positions := position.New(cfg.ToPositionConfig(), rpcMgr, logger)

	var sweeper *executor.Sweeper
	if cfg.EnableAutoSweep {
		coldWallet, err := cfg.ColdWallet()
		if err != nil {
			return fmt.Errorf("COLD_WALLET_ADDRESS: %w", err)
		}
		sweeper = executor.NewSweeper(exec, rpcMgr, coldWallet, 0, logger)
	}

	orch := orchestrator.New(cfg.ToOrchestratorConfig(wallet.PublicKey()), ingestionCoordinator, analyzer, exec, positions, rpcMgr, sweeper, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("solsniper: starting",
		zap.String("wallet", wallet.PublicKey().String()),
		zap.Bool("dry_run", cfg.DryRun),
		zap.Bool("devnet", cfg.UseDevnet))
	orch.Start(ctx)

	<-ctx.Done()
	logger.Info("solsniper: shutdown signal received, draining")
	orch.Stop()
	logger.Info("solsniper: stopped")
	return nil
}
