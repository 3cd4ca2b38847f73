// Package position implements the spec §4.9 position manager: it owns the
// open-positions map, refreshes prices on a timer, and fires typed exit
// triggers for the orchestrator to act on. All position mutation happens
// through the Manager's own methods (spec §5 "position-map exclusion").
package position

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solsniper"
	"solsniper/internal/errs"
	"solsniper/internal/logging"
	"solsniper/internal/rpcmanager"

	"solsniper/internal/dex/pumpfun"
)

// Config configures the Manager's lifecycle ceilings and refresh cadence
// (spec §4.9, §6 Trading params).
type Config struct {
	TakeProfitPercent      float64
	StopLossPercent        float64
	MaxPositionSizeSol     float64
	MaxConcurrentPositions int
	RefreshInterval        time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.RefreshInterval <= 0 {
		out.RefreshInterval = 500 * time.Millisecond
	}
	if out.MaxConcurrentPositions <= 0 {
		out.MaxConcurrentPositions = 5
	}
	return out
}

// OpenedEvent is emitted on position_opened (spec §9: explicit channel, not
// an event-emitter registration).
type OpenedEvent struct {
	Position solsniper.Position
}

// ExitTrigger is emitted on exit_trigger, naming which position crossed its
// TP or SL threshold.
type ExitTrigger struct {
	PositionID uint64
	Mint       solsniper.Address
	Pool       solsniper.Address
	Dex        solsniper.Dex
	Reason     solsniper.ExitReason
	Price      float64
}

// ClosedEvent is emitted on position_closed.
type ClosedEvent struct {
	Position solsniper.Position
}

// Manager owns the open-positions map and the price-refresh timer.
type Manager struct {
	cfg    Config
	rpcMgr *rpcmanager.Manager
	logger *zap.Logger

	mu       sync.Mutex
	byID     map[uint64]*solsniper.Position
	byMint   map[solsniper.Address]uint64
	nextID   uint64
	spentSol float64

	opened chan OpenedEvent
	exits  chan ExitTrigger
	closed chan ClosedEvent

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Manager. Event channels are closed on Stop; callers must
// drain them to avoid blocking the refresh loop.
func New(cfg Config, rpcMgr *rpcmanager.Manager, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg.withDefaults(),
		rpcMgr: rpcMgr,
		logger: logger,
		byID:   make(map[uint64]*solsniper.Position),
		byMint: make(map[solsniper.Address]uint64),
		opened: make(chan OpenedEvent, 64),
		exits:  make(chan ExitTrigger, 64),
		closed: make(chan ClosedEvent, 64),
		done:   make(chan struct{}),
	}
}

// Opened returns the position_opened event channel.
func (m *Manager) Opened() <-chan OpenedEvent { return m.opened }

// ExitTriggers returns the exit_trigger event channel.
func (m *Manager) ExitTriggers() <-chan ExitTrigger { return m.exits }

// Closed returns the position_closed event channel.
func (m *Manager) Closed() <-chan ClosedEvent { return m.closed }

// Start launches the price-refresh timer (spec §4.9) until ctx is cancelled
// or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	go func() {
		defer close(m.done)
		defer close(m.opened)
		defer close(m.exits)
		defer close(m.closed)

		ticker := time.NewTicker(m.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.refreshTick(ctx)
			}
		}
	}()
}

// Stop cancels the refresh timer and waits for the loop goroutine to exit,
// per spec §5 cancellation propagation ((b) "cancel the position-polling
// timer").
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

// HasPosition reports whether an open or closing position already exists
// for mint, per spec §4.10 "if a position already exists for mint, skip".
func (m *Manager) HasPosition(mint solsniper.Address) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byMint[mint]
	return ok
}

// Open implements open_position (spec §4.9): rejects on the concurrent- or
// sized-position ceilings, computes TP/SL, emits position_opened.
func (m *Manager) Open(ctx context.Context, mint, pool solsniper.Address, dex solsniper.Dex, entryPrice, solSpent float64, tokenAmount uint64, entryTx string) (*solsniper.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.byID) >= m.cfg.MaxConcurrentPositions {
		return nil, errs.Wrap(errs.ErrInvariant, "position: max_concurrent_positions (%d) reached", m.cfg.MaxConcurrentPositions)
	}
	if m.spentSol+solSpent > m.cfg.MaxPositionSizeSol {
		return nil, errs.Wrap(errs.ErrInvariant, "position: max_position_size_sol (%.4f) would be exceeded", m.cfg.MaxPositionSizeSol)
	}

	m.nextID++
	id := m.nextID
	pos := &solsniper.Position{
		ID:         id,
		ExternalID: fmt.Sprintf("pos-%d", id),
		Mint:       mint,
		Pool:       pool,
		Dex:        dex,
		EntryPrice: entryPrice,
		EntryTime:  time.Now(),
		Amount:     tokenAmount,
		SolSpent:   solSpent,
		EntryTx:    entryTx,
		Status:     solsniper.PositionOpen,
	}
	pos.ComputeTPSL(m.cfg.TakeProfitPercent, m.cfg.StopLossPercent)
	pos.CurrentPrice = entryPrice

	m.byID[id] = pos
	m.byMint[mint] = id
	m.spentSol += solSpent

	out := *pos
	m.logger.Info("position: opened",
		zap.Uint64("id", id), zap.String("mint", mint.String()),
		zap.Float64("entry_price", entryPrice), zap.Float64("sol_spent", solSpent))
	m.emitOpened(ctx, OpenedEvent{Position: out})
	return pos, nil
}

// emitOpened/emitExit/emitClosed send without blocking the refresh loop
// forever: they respect ctx cancellation like every other blocking send in
// the pipeline (spec §5 "in-flight RPCs may complete but must not enqueue
// further work").
func (m *Manager) emitOpened(ctx context.Context, ev OpenedEvent) {
	select {
	case m.opened <- ev:
	case <-ctx.Done():
	}
}

func (m *Manager) emitExit(ctx context.Context, ev ExitTrigger) {
	select {
	case m.exits <- ev:
	case <-ctx.Done():
	}
}

func (m *Manager) emitClosed(ctx context.Context, ev ClosedEvent) {
	select {
	case m.closed <- ev:
	case <-ctx.Done():
	}
}

// Close implements close_position (spec §4.9): finalizes pnl_percent and
// emits position_closed. exitPrice may be 0 when the position closed with
// no sell transaction (token balance already zero).
func (m *Manager) Close(ctx context.Context, id uint64, reason solsniper.ExitReason, exitTx string, exitPrice float64) error {
	m.mu.Lock()
	pos, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return errs.Wrap(errs.ErrInvariant, "position: no such position %d", id)
	}
	if exitPrice > 0 {
		pos.CurrentPrice = exitPrice
		pos.PnLPercent = (exitPrice - pos.EntryPrice) / pos.EntryPrice * 100
	}
	pos.Status = solsniper.PositionClosed
	pos.ExitTx = exitTx
	pos.ExitReason = reason
	delete(m.byID, id)
	delete(m.byMint, pos.Mint)
	m.spentSol -= pos.SolSpent
	out := *pos
	m.mu.Unlock()

	m.logger.Info("position: closed",
		zap.Uint64("id", id), zap.String("reason", reason.String()), zap.Float64("pnl_percent", out.PnLPercent))
	m.emitClosed(ctx, ClosedEvent{Position: out})
	return nil
}

// Revert reopens a Closing position after its sell failed, per spec §4.9
// "reverts Closing → Open on sell failure so it is retried next tick".
func (m *Manager) Revert(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if pos, ok := m.byID[id]; ok {
		pos.Status = solsniper.PositionOpen
	}
}

// Snapshot returns a shallow copy of every currently-tracked position, for
// logging and metrics.
func (m *Manager) Snapshot() []solsniper.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]solsniper.Position, 0, len(m.byID))
	for _, p := range m.byID {
		out = append(out, *p)
	}
	return out
}

// refreshTick implements the price-refresh tick of spec §4.9: partition
// open positions by DEX, batch-read Pumpfun curves, evaluate TP/SL.
func (m *Manager) refreshTick(ctx context.Context) {
	done := logging.StageTimer(m.logger, "position_refresh")
	start := time.Now()

	pumpfunPositions := m.snapshotByDex(solsniper.DexPumpfun)
	if len(pumpfunPositions) == 0 {
		done(time.Since(start).Milliseconds(), nil)
		return
	}

	addrs := make([]solana.PublicKey, len(pumpfunPositions))
	for i, p := range pumpfunPositions {
		addrs[i] = p.Pool.PublicKey()
	}
	infos, err := m.rpcMgr.GetMultipleAccountInfos(ctx, addrs)
	if err != nil {
		done(time.Since(start).Milliseconds(), err)
		return
	}

	for i, p := range pumpfunPositions {
		if i >= len(infos) || infos[i] == nil {
			continue
		}
		curve, ok := pumpfun.DecodeCurve(infos[i].Data)
		if !ok {
			continue
		}
		price := curve.SpotPrice()
		m.evaluate(ctx, p.ID, price)
	}
	done(time.Since(start).Milliseconds(), nil)
}

// evaluate applies the TP/SL comparison of spec §4.9 to one position and,
// on a crossing, transitions Open → Closing and emits exit_trigger.
func (m *Manager) evaluate(ctx context.Context, id uint64, price float64) {
	m.mu.Lock()
	pos, ok := m.byID[id]
	if !ok || pos.Status != solsniper.PositionOpen {
		m.mu.Unlock()
		return
	}
	pos.CurrentPrice = price
	pos.PnLPercent = (price - pos.EntryPrice) / pos.EntryPrice * 100

	var reason solsniper.ExitReason
	switch {
	case price >= pos.TPPrice:
		reason = solsniper.ExitTakeProfit
	case price <= pos.SLPrice:
		reason = solsniper.ExitStopLoss
	default:
		m.mu.Unlock()
		return
	}
	pos.Status = solsniper.PositionClosing
	mint, pool, dx := pos.Mint, pos.Pool, pos.Dex
	m.mu.Unlock()

	m.logger.Info("position: exit trigger",
		zap.Uint64("id", id), zap.String("reason", reason.String()), zap.Float64("price", price))
	m.emitExit(ctx, ExitTrigger{PositionID: id, Mint: mint, Pool: pool, Dex: dx, Reason: reason, Price: price})
}

func (m *Manager) snapshotByDex(dex solsniper.Dex) []solsniper.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]solsniper.Position, 0, len(m.byID))
	for _, p := range m.byID {
		if p.Dex == dex && p.Status == solsniper.PositionOpen {
			out = append(out, *p)
		}
	}
	return out
}
