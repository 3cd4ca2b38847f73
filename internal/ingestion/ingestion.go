// Package ingestion implements the spec §4.6 event ingestion coordinator:
// gRPC-primary, WebSocket-fallback, polling-last-resort pool-event
// detection with bounded in-flight fetches and signature deduplication.
package ingestion

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"solsniper"
	"solsniper/internal/dex"
	"solsniper/internal/rpcmanager"
)

// Mode is the ingestion coordinator's currently active data source.
type Mode int

const (
	ModeNone Mode = iota
	ModeGRPC
	ModeWebSocket
	ModePolling
)

func (m Mode) String() string {
	switch m {
	case ModeGRPC:
		return "grpc"
	case ModeWebSocket:
		return "websocket"
	case ModePolling:
		return "polling"
	default:
		return "none"
	}
}

// Config configures startup mode selection, timeouts and bounds (spec §4.6,
// §6).
type Config struct {
	GRPCEndpoint string
	GRPCToken    string
	WSEndpoint   string

	EnabledDexes []solsniper.Dex

	UseDevnet            bool
	EnableGRPCAutoDetect bool

	MaxConcurrentFetches int
	FetchTimeout         time.Duration
	PollInterval         time.Duration
	ProbeTimeout         time.Duration

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxConcurrentFetches <= 0 {
		out.MaxConcurrentFetches = 2
	}
	if out.FetchTimeout <= 0 {
		out.FetchTimeout = 5 * time.Second
	}
	if out.PollInterval <= 0 {
		out.PollInterval = 2 * time.Second
	}
	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = 2 * time.Second
	}
	if out.ReconnectBaseDelay <= 0 {
		out.ReconnectBaseDelay = time.Second
	}
	if out.ReconnectMaxDelay <= 0 {
		out.ReconnectMaxDelay = 30 * time.Second
	}
	return out
}

// Stats are the coordinator's running counters (spec §4.6).
type Stats struct {
	EventsReceived atomic.Int64
	PoolsDetected  atomic.Int64
	Errors         atomic.Int64
	LastEventUnix  atomic.Int64
}

// Snapshot is a point-in-time, non-atomic copy of Stats for logging.
type StatsSnapshot struct {
	EventsReceived int64
	PoolsDetected  int64
	Errors         int64
	LastEventUnix  int64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		EventsReceived: s.EventsReceived.Load(),
		PoolsDetected:  s.PoolsDetected.Load(),
		Errors:         s.Errors.Load(),
		LastEventUnix:  s.LastEventUnix.Load(),
	}
}

// Coordinator owns the active ingestion mode and publishes PoolEvents on a
// single output channel regardless of which mode produced them.
type Coordinator struct {
	cfg      Config
	registry *dex.Registry
	rpcMgr   *rpcmanager.Manager
	logger   *zap.Logger

	// grpcStreamer is nil in production (no generated block-stream client is
	// wired, see DESIGN.md); tests inject a fake to exercise the gRPC path.
	grpcStreamer GRPCStreamer
	wsDialer     WSDialer

	out      chan *solsniper.PoolEvent
	dedup    *sigDedup
	inflight chan struct{}

	mode   atomic.Int32
	stats  Stats
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option customizes a Coordinator at construction, mainly for test seams.
type Option func(*Coordinator)

// WithGRPCStreamer injects a GRPCStreamer, enabling the gRPC path in tests
// where no live block-stream endpoint exists.
func WithGRPCStreamer(s GRPCStreamer) Option {
	return func(c *Coordinator) { c.grpcStreamer = s }
}

// WithWSDialer overrides the WebSocket dialer, for tests.
func WithWSDialer(d WSDialer) Option {
	return func(c *Coordinator) { c.wsDialer = d }
}

// New constructs a Coordinator. events must be drained by the caller; the
// coordinator closes it on Stop.
func New(cfg Config, registry *dex.Registry, rpcMgr *rpcmanager.Manager, logger *zap.Logger, opts ...Option) *Coordinator {
	resolved := cfg.withDefaults()
	c := &Coordinator{
		cfg:      resolved,
		registry: registry,
		rpcMgr:   rpcMgr,
		logger:   logger,
		out:      make(chan *solsniper.PoolEvent, 256),
		dedup:    newSigDedup(),
		inflight: make(chan struct{}, resolved.MaxConcurrentFetches),
		wsDialer: defaultWSDialer{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the channel PoolEvents are published on.
func (c *Coordinator) Events() <-chan *solsniper.PoolEvent { return c.out }

// Mode reports the currently active ingestion mode.
func (c *Coordinator) Mode() Mode { return Mode(c.mode.Load()) }

// Stats returns the running counters.
func (c *Coordinator) Stats() StatsSnapshot { return c.stats.Snapshot() }

// Start runs the startup chain of spec §4.6 and launches the winning mode
// in the background. It returns once a mode has been selected.
func (c *Coordinator) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.cfg.UseDevnet {
		c.runMode(runCtx, ModeWebSocket, c.runWebSocketForever)
		return
	}

	if c.cfg.EnableGRPCAutoDetect && c.grpcStreamer != nil && c.probeGRPC(runCtx) {
		c.runMode(runCtx, ModeGRPC, c.runGRPCWithFallback)
		return
	}

	if c.probeWebSocket(runCtx) {
		c.runMode(runCtx, ModeWebSocket, c.runWebSocketForever)
		return
	}

	c.runMode(runCtx, ModePolling, c.runPollingForever)
}

func (c *Coordinator) runMode(ctx context.Context, mode Mode, fn func(context.Context)) {
	c.mode.Store(int32(mode))
	c.logger.Info("ingestion: mode selected", zap.String("mode", mode.String()))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(ctx)
	}()
}

// Stop halts the receive loop and closes the output channel. It blocks
// until the active mode's goroutine has exited (spec §5 cancellation).
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	close(c.out)
}

// runGRPCWithFallback runs the gRPC stream until it ends or errors, then
// transitions to WebSocket exactly once, per spec §4.6 disconnection
// handling.
func (c *Coordinator) runGRPCWithFallback(ctx context.Context) {
	err := c.runGRPCStream(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		c.logger.Warn("ingestion: grpc stream ended, falling back to websocket", zap.Error(err))
		c.mode.Store(int32(ModeWebSocket))
		c.runWebSocketForever(ctx)
	}
}

// tryAcquireFetch implements the bounded-in-flight-fetch rule of spec §5:
// candidates beyond MaxConcurrentFetches are dropped, not queued.
func (c *Coordinator) tryAcquireFetch() bool {
	select {
	case c.inflight <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Coordinator) releaseFetch() {
	<-c.inflight
}

func (c *Coordinator) publish(ctx context.Context, ev *solsniper.PoolEvent) {
	if ev == nil {
		return
	}
	c.stats.EventsReceived.Add(1)
	c.stats.PoolsDetected.Add(1)
	c.stats.LastEventUnix.Store(time.Now().Unix())
	select {
	case c.out <- ev:
	case <-ctx.Done():
	}
}

// fetchAndParse fetches a parsed transaction by signature (subject to the
// bounded-fetch and timeout rules) and offers it to every enabled decoder.
func (c *Coordinator) fetchAndParse(ctx context.Context, sig solana.Signature, slot uint64) {
	if !c.tryAcquireFetch() {
		return
	}
	defer c.releaseFetch()

	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	txResult, err := c.rpcMgr.GetParsedTransaction(fetchCtx, sig, nil)
	if err != nil || txResult == nil {
		if err != nil {
			c.stats.Errors.Add(1)
		}
		return
	}
	tx, err := txResult.Transaction.GetTransaction()
	if err != nil || tx == nil {
		c.stats.Errors.Add(1)
		return
	}
	instructions := dex.InstructionsFromTransaction(tx)

	for _, d := range c.cfg.EnabledDexes {
		decoder := c.registry.Decoder(d)
		if decoder == nil {
			continue
		}
		ev, err := decoder.ParseTransaction(sig, tx.Message.AccountKeys, instructions, slot)
		if err != nil {
			c.stats.Errors.Add(1)
			continue
		}
		if ev != nil {
			c.publish(ctx, ev)
			return
		}
	}
}
