package executor

import (
	"context"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"solsniper/internal/rpcmanager"
)

// sweepReserveLamports is kept in the hot wallet on every sweep so it never
// runs out of rent/fees for the next trade.
const sweepReserveLamports = 50_000_000 // 0.05 SOL

// Sweeper periodically transfers any lamports above a reserve from the
// trading wallet to a cold wallet — "a simple timer loop atop the executor"
// (SPEC_FULL.md SUPPLEMENTED FEATURES), built directly on Executor's signing
// and C4 access rather than as a separate component.
type Sweeper struct {
	exec       *Executor
	rpcMgr     *rpcmanager.Manager
	coldWallet solana.PublicKey
	interval   time.Duration
	logger     *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper constructs a Sweeper. interval defaults to one minute when <=0.
func NewSweeper(exec *Executor, rpcMgr *rpcmanager.Manager, coldWallet solana.PublicKey, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		exec:       exec,
		rpcMgr:     rpcMgr,
		coldWallet: coldWallet,
		interval:   interval,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}

func (s *Sweeper) tick(ctx context.Context) {
	wallet := s.exec.cfg.Wallet.PublicKey()
	bal, err := s.rpcMgr.GetBalance(ctx, wallet, rpc.CommitmentConfirmed)
	if err != nil || bal == nil {
		s.logger.Warn("sweeper: balance read failed", zap.Error(err))
		return
	}
	if bal.Value <= sweepReserveLamports {
		return
	}
	amount := bal.Value - sweepReserveLamports

	latest, err := s.rpcMgr.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil || latest == nil || latest.Value == nil {
		s.logger.Warn("sweeper: blockhash read failed", zap.Error(err))
		return
	}

	tx, err := s.exec.signTransaction([]solana.Instruction{transferInstruction(wallet, s.coldWallet, amount)}, latest.Value.Blockhash)
	if err != nil {
		s.logger.Warn("sweeper: sign failed", zap.Error(err))
		return
	}

	sig, err := s.rpcMgr.SendTransaction(ctx, tx, rpc.TransactionOpts{SkipPreflight: true})
	if err != nil {
		s.logger.Warn("sweeper: send failed", zap.Error(err))
		return
	}
	s.logger.Info("sweeper: swept to cold wallet", zap.Uint64("lamports", amount), zap.String("tx", sig.String()))
}
