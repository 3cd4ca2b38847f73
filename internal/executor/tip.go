package executor

import (
	"context"
	"math/rand/v2"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// TipStrategy selects how Execute sizes the tip transfer (spec §4.8).
type TipStrategy int

const (
	TipFixed TipStrategy = iota
	TipDynamic
	TipCompetitive
)

// Urgency multipliers for TipCompetitive, per spec §4.8.
const (
	UrgencyLow    = 1.1
	UrgencyMedium = 1.25
	UrgencyHigh   = 1.5
)

// maxTipHistory bounds the rolling successful-tip sample window (spec §4.8:
// "at most 10 successful tips").
const maxTipHistory = 10

// minTipHistoryForRecommendation is the sample count below which no
// recommended tip is derived (spec §4.8: "after ≥ 5 samples").
const minTipHistoryForRecommendation = 5

// tipTracker maintains the rolling history of successful tip amounts used to
// derive a recommended tip (spec §4.8).
type tipTracker struct {
	mu      sync.Mutex
	history []uint64
}

func newTipTracker() *tipTracker {
	return &tipTracker{history: make([]uint64, 0, maxTipHistory)}
}

// record appends a successful tip, evicting the oldest sample once the
// window is full.
func (t *tipTracker) record(lamports uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history = append(t.history, lamports)
	if len(t.history) > maxTipHistory {
		t.history = t.history[len(t.history)-maxTipHistory:]
	}
}

// recommended returns floor(avg*1.1) clamped by maxTip once at least
// minTipHistoryForRecommendation samples are present.
func (t *tipTracker) recommended(maxTip uint64) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.history) < minTipHistoryForRecommendation {
		return 0, false
	}
	var sum uint64
	for _, v := range t.history {
		sum += v
	}
	avg := float64(sum) / float64(len(t.history))
	rec := uint64(avg * 1.1)
	if maxTip > 0 && rec > maxTip {
		rec = maxTip
	}
	return rec, true
}

// computeTip derives the tip lamports per the configured strategy (spec
// §4.8). expectedProfitLamports and competitorTips are only consulted by
// TipDynamic / TipCompetitive respectively; either may be zero/nil.
func (e *Executor) computeTip(expectedProfitLamports int64, competitorTips []uint64) uint64 {
	switch e.cfg.TipStrategy {
	case TipDynamic:
		if expectedProfitLamports <= 0 {
			return e.cfg.TipLamports
		}
		tip := uint64(e.cfg.TipPercent / 100 * float64(expectedProfitLamports))
		return clampTip(tip, e.cfg.TipLamports, e.cfg.MaxTipLamports)
	case TipCompetitive:
		var maxCompetitor uint64
		for _, t := range competitorTips {
			if t > maxCompetitor {
				maxCompetitor = t
			}
		}
		if maxCompetitor == 0 {
			if rec, ok := e.tips.recommended(e.cfg.MaxTipLamports); ok {
				maxCompetitor = rec
			} else {
				return e.cfg.TipLamports
			}
		}
		tip := uint64(float64(maxCompetitor) * UrgencyMedium)
		if e.cfg.MaxTipLamports > 0 && tip > e.cfg.MaxTipLamports {
			tip = e.cfg.MaxTipLamports
		}
		return tip
	default:
		return e.cfg.TipLamports
	}
}

func clampTip(v, floor, ceiling uint64) uint64 {
	if v < floor {
		v = floor
	}
	if ceiling > 0 && v > ceiling {
		v = ceiling
	}
	return v
}

// defaultTipAccounts is the embedded fallback tip-recipient list used when
// getTipAccounts cannot be reached (spec §4.8: "a fixed list of 8
// addresses"). These are arbitrary-but-fixed 32-byte accounts distinct from
// any real wallet; production deployments should let selectTipRecipient's
// live getTipAccounts call supersede this list.
var defaultTipAccounts = buildDefaultTipAccounts()

func buildDefaultTipAccounts() []solana.PublicKey {
	accounts := make([]solana.PublicKey, 8)
	for i := range accounts {
		var raw [32]byte
		raw[0] = byte('T')
		raw[1] = byte('I')
		raw[2] = byte('P')
		raw[3] = byte(i)
		accounts[i] = solana.PublicKey(raw)
	}
	return accounts
}

// defaultFeeRecipient is Pumpfun's mainnet protocol fee account.
var defaultFeeRecipient = solana.MustPublicKeyFromBase58("CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM")

// selectTipRecipient picks one tip account uniformly at random from the
// block engine's live getTipAccounts list (cached on the bundle client),
// falling back to defaultTipAccounts when the RPC call fails. Selection
// uses math/rand/v2, a non-cryptographic PRNG: tip-account choice is not a
// security boundary, only a load-spreading heuristic (spec §4.8).
func (e *Executor) selectTipRecipient(ctx context.Context) (solana.PublicKey, error) {
	accounts, err := e.bundle.GetTipAccounts(ctx)
	if err != nil || len(accounts) == 0 {
		accounts = defaultTipAccounts
		idx := rand.IntN(len(accounts))
		return accounts[idx], err
	}
	idx := rand.IntN(len(accounts))
	return accounts[idx], nil
}
