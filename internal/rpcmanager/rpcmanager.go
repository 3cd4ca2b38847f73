// Package rpcmanager implements the multi-provider RPC substrate of spec
// §4.4: per-provider rate limiting, capacity-aware priority selection, health
// tracking with cooldown, response caching, request coalescing and failover.
package rpcmanager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"solsniper/internal/cache"
	"solsniper/internal/coalesce"
	"solsniper/internal/errs"
	"solsniper/internal/ratelimiter"
)

const (
	// DefaultMaxConsecutiveFailures is F_max from spec §4.4.
	DefaultMaxConsecutiveFailures = 3
	// DefaultCooldown is T_cooldown from spec §4.4.
	DefaultCooldown = 30 * time.Second
	// maxAccountsPerBatch bounds getMultipleAccounts calls per spec §4.4.
	maxAccountsPerBatch = 100
)

// RawClient is the subset of *rpc.Client this package depends on, narrowed so
// tests can supply a fake provider without a live endpoint.
type RawClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error)
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	SimulateTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
	GetTokenLargestAccounts(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenLargestAccountsResult, error)
	GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// ProviderConfig describes one configured RPC endpoint (spec §6:
// HELIUS_*, SHYFT_*, BACKUP_RPC_URLS, SOLANA_PRIORITY, ...).
type ProviderConfig struct {
	Name     string
	URL      string
	RPSLimit float64
	Priority int // 1 (highest) .. 3 (lowest)
	Client   RawClient // when nil, the Manager dials rpc.New(URL)
}

// ProviderRecord is the Manager's live bookkeeping for one provider (spec §3).
type ProviderRecord struct {
	Name       string
	URL        string
	Priority   int
	Connection RawClient
	Bucket     *ratelimiter.Limiter

	mu                  sync.Mutex
	healthy             bool
	consecutiveFailures int
	lastFailureTs       time.Time
	lastSuccessTs       time.Time
	stats               Stats
}

// Stats tracks simple per-provider counters for observability.
type Stats struct {
	Requests int64
	Failures int64
}

func newProviderRecord(cfg ProviderConfig) *ProviderRecord {
	client := cfg.Client
	if client == nil {
		client = rpc.New(cfg.URL)
	}
	return &ProviderRecord{
		Name:       cfg.Name,
		URL:        cfg.URL,
		Priority:   cfg.Priority,
		Connection: client,
		Bucket:     ratelimiter.New(cfg.RPSLimit, 2),
		healthy:    true,
	}
}

func (p *ProviderRecord) isHealthy(cooldown time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.healthy {
		return true
	}
	if time.Since(p.lastFailureTs) >= cooldown {
		// Eligible again at configured priority with a cleared failure
		// count, per spec §4.4.
		p.healthy = true
		p.consecutiveFailures = 0
		return true
	}
	return false
}

func (p *ProviderRecord) recordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = true
	p.consecutiveFailures = 0
	p.lastSuccessTs = time.Now()
	p.stats.Requests++
}

func (p *ProviderRecord) recordFailure(maxFailures int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastFailureTs = time.Now()
	p.consecutiveFailures++
	p.stats.Requests++
	p.stats.Failures++
	if p.consecutiveFailures >= maxFailures {
		p.healthy = false
	}
}

// AccountInfo is the decoder-facing projection of a raw account blob.
type AccountInfo struct {
	Owner    solana.PublicKey
	Data     []byte
	Lamports uint64
	Executable bool
}

// Manager holds 1-N provider records and exposes cache-backed read APIs and a
// raw send-transaction API, each with automatic failover (spec §4.4).
type Manager struct {
	logger                 *zap.Logger
	providers              []*ProviderRecord
	maxConsecutiveFailures int
	cooldown               time.Duration

	accountCache *cache.Cache[string, *AccountInfo]
	coalescer    coalesce.Group
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithHealthParams overrides F_max and T_cooldown.
func WithHealthParams(maxFailures int, cooldown time.Duration) Option {
	return func(m *Manager) {
		m.maxConsecutiveFailures = maxFailures
		m.cooldown = cooldown
	}
}

// New constructs a Manager. An empty provider list is a fatal configuration
// error per spec §4.4.
func New(logger *zap.Logger, cacheTTL time.Duration, cacheSize int, providers []ProviderConfig, opts ...Option) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errs.Wrap(errs.ErrConfiguration, "rpcmanager: at least one provider is required")
	}
	m := &Manager{
		logger:                 logger,
		maxConsecutiveFailures: DefaultMaxConsecutiveFailures,
		cooldown:               DefaultCooldown,
		accountCache:           cache.New[string, *AccountInfo](cacheSize, cacheTTL),
	}
	for _, cfg := range providers {
		m.providers = append(m.providers, newProviderRecord(cfg))
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// candidates returns healthy providers sorted ascending by priority, with
// ties within a priority band broken by available token count
// (descending), stably (spec §4.4 step 1-2).
func (m *Manager) candidates() []*ProviderRecord {
	var healthy []*ProviderRecord
	for _, p := range m.providers {
		if p.isHealthy(m.cooldown) {
			healthy = append(healthy, p)
		}
	}
	sort.SliceStable(healthy, func(i, j int) bool {
		if healthy[i].Priority != healthy[j].Priority {
			return healthy[i].Priority < healthy[j].Priority
		}
		return healthy[i].Bucket.AvailableTokens() > healthy[j].Bucket.AvailableTokens()
	})
	return healthy
}

// withFailover tries each healthy provider in selection order until one
// succeeds or all fail (spec §4.4 step 3).
func withFailover[T any](ctx context.Context, m *Manager, priority ratelimiter.Priority, fn func(*ProviderRecord) (T, error)) (T, error) {
	var zero T
	candidates := m.candidates()
	if len(candidates) == 0 {
		return zero, errs.Wrap(errs.ErrProviderExhausted, "rpcmanager: no healthy providers")
	}
	var lastErr error
	for _, p := range candidates {
		if err := p.Bucket.Acquire(ctx, priority); err != nil {
			lastErr = err
			continue
		}
		v, err := fn(p)
		if err != nil {
			p.recordFailure(m.maxConsecutiveFailures)
			lastErr = err
			continue
		}
		p.recordSuccess()
		return v, nil
	}
	return zero, errs.Wrap(errs.ErrProviderExhausted, "rpcmanager: all providers failed: %v", lastErr)
}

// GetAccountInfo is cache-first and coalesces concurrent requests per
// address (spec §4.4).
func (m *Manager) GetAccountInfo(ctx context.Context, addr solana.PublicKey) (*AccountInfo, error) {
	key := "acct:" + addr.String()
	return coalesce.DoTyped(&m.coalescer, key, func() (*AccountInfo, error) {
		if v, ok := m.accountCache.Get(key); ok {
			return v, nil
		}
		info, err := withFailover(ctx, m, ratelimiter.PriorityNormal, func(p *ProviderRecord) (*AccountInfo, error) {
			out, err := p.Connection.GetAccountInfo(ctx, addr)
			if err != nil {
				return nil, err
			}
			if out == nil || out.Value == nil {
				return nil, nil
			}
			return &AccountInfo{
				Owner:      out.Value.Owner,
				Data:       out.Value.Data.GetBinary(),
				Lamports:   out.Value.Lamports,
				Executable: out.Value.Executable,
			}, nil
		})
		if err != nil {
			return nil, err
		}
		if info != nil {
			m.accountCache.Set(key, info)
		}
		return info, nil
	})
}

// GetMultipleAccountInfos fetches addresses in batches of <=100, merging
// partial cache hits with live reads for the remainder (spec §4.4).
func (m *Manager) GetMultipleAccountInfos(ctx context.Context, addrs []solana.PublicKey) ([]*AccountInfo, error) {
	result := make([]*AccountInfo, len(addrs))
	var missIdx []int
	var missAddrs []solana.PublicKey

	for i, a := range addrs {
		key := "acct:" + a.String()
		if v, ok := m.accountCache.Get(key); ok {
			result[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missAddrs = append(missAddrs, a)
	}

	for start := 0; start < len(missAddrs); start += maxAccountsPerBatch {
		end := start + maxAccountsPerBatch
		if end > len(missAddrs) {
			end = len(missAddrs)
		}
		batch := missAddrs[start:end]
		batchIdx := missIdx[start:end]

		infos, err := withFailover(ctx, m, ratelimiter.PriorityNormal, func(p *ProviderRecord) ([]*AccountInfo, error) {
			out, err := p.Connection.GetMultipleAccountsWithOpts(ctx, batch, nil)
			if err != nil {
				return nil, err
			}
			infos := make([]*AccountInfo, len(batch))
			for i, v := range out.Value {
				if v == nil {
					continue
				}
				infos[i] = &AccountInfo{
					Owner:      v.Owner,
					Data:       v.Data.GetBinary(),
					Lamports:   v.Lamports,
					Executable: v.Executable,
				}
			}
			return infos, nil
		})
		if err != nil {
			return nil, err
		}
		for i, info := range infos {
			idx := batchIdx[i]
			result[idx] = info
			if info != nil {
				m.accountCache.Set("acct:"+batch[i].String(), info)
			}
		}
	}
	return result, nil
}

// GetParsedTransaction fetches a transaction by signature; results are
// never cached (slot-bound, spec §4.4).
func (m *Manager) GetParsedTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	return withFailover(ctx, m, ratelimiter.PriorityNormal, func(p *ProviderRecord) (*rpc.GetTransactionResult, error) {
		return p.Connection.GetTransaction(ctx, sig, opts)
	})
}

// GetSignaturesForAddress is used by the polling ingestion fallback.
func (m *Manager) GetSignaturesForAddress(ctx context.Context, addr solana.PublicKey, limit int, until solana.Signature) ([]*rpc.TransactionSignature, error) {
	return withFailover(ctx, m, ratelimiter.PriorityNormal, func(p *ProviderRecord) ([]*rpc.TransactionSignature, error) {
		opts := &rpc.GetSignaturesForAddressOpts{Limit: &limit}
		if !until.IsZero() {
			opts.Until = until
		}
		return p.Connection.GetSignaturesForAddressWithOpts(ctx, addr, opts)
	})
}

// SendTransaction bypasses cache and acquires with top priority so it jumps
// rate-limit queues and is never starved by read traffic (spec §4.4).
func (m *Manager) SendTransaction(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	return withFailover(ctx, m, ratelimiter.PriorityMax, func(p *ProviderRecord) (solana.Signature, error) {
		return p.Connection.SendTransactionWithOpts(ctx, tx, opts)
	})
}

// SimulateTransaction runs a dry-run execution of tx against the selected
// provider, used by the risk analyzer's sell-simulation phase (spec §4.7).
func (m *Manager) SimulateTransaction(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	return withFailover(ctx, m, ratelimiter.PriorityNormal, func(p *ProviderRecord) (*rpc.SimulateTransactionResponse, error) {
		return p.Connection.SimulateTransactionWithOpts(ctx, tx, opts)
	})
}

// GetTokenLargestAccounts is used by the risk analyzer's top-holder phase.
func (m *Manager) GetTokenLargestAccounts(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenLargestAccountsResult, error) {
	return withFailover(ctx, m, ratelimiter.PriorityNormal, func(p *ProviderRecord) (*rpc.GetTokenLargestAccountsResult, error) {
		return p.Connection.GetTokenLargestAccounts(ctx, mint, commitment)
	})
}

// GetTokenSupply is used to cross-check top-holder percentages and detect
// LP-burn (circulating << total supply).
func (m *Manager) GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error) {
	return withFailover(ctx, m, ratelimiter.PriorityNormal, func(p *ProviderRecord) (*rpc.GetTokenSupplyResult, error) {
		return p.Connection.GetTokenSupply(ctx, mint, commitment)
	})
}

// GetBalance reads a lamport balance, used for wrapped-SOL vault liquidity
// checks and cold-wallet sweep sizing.
func (m *Manager) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return withFailover(ctx, m, ratelimiter.PriorityNormal, func(p *ProviderRecord) (*rpc.GetBalanceResult, error) {
		return p.Connection.GetBalance(ctx, account, commitment)
	})
}

// GetLatestBlockhash is used by the bundle executor to assemble versioned
// transactions.
func (m *Manager) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return withFailover(ctx, m, ratelimiter.PriorityNormal, func(p *ProviderRecord) (*rpc.GetLatestBlockhashResult, error) {
		return p.Connection.GetLatestBlockhash(ctx, commitment)
	})
}

// confirmPollInterval is the spacing between getSignatureStatuses polls in
// ConfirmTransaction.
const confirmPollInterval = 500 * time.Millisecond

// ConfirmTransaction polls getSignatureStatuses via a healthy provider until
// sig reaches at least confirmed commitment, ctx is cancelled, or a
// transaction-level error is observed (spec §6: "confirmTransaction"; §4.8
// step 7 "then confirm via C4"). A nil error with a non-nil returned status
// means confirmed; a nil status with ctx.Err() means ctx expired first.
func (m *Manager) ConfirmTransaction(ctx context.Context, sig solana.Signature) (*rpc.SignatureStatusesResult, error) {
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()
	for {
		status, err := withFailover(ctx, m, ratelimiter.PriorityHigh, func(p *ProviderRecord) (*rpc.GetSignatureStatusesResult, error) {
			return p.Connection.GetSignatureStatuses(ctx, false, sig)
		})
		if err == nil && status != nil && len(status.Value) > 0 && status.Value[0] != nil {
			st := status.Value[0]
			if st.Err != nil {
				return st, fmt.Errorf("transaction %s failed: %v", sig, st.Err)
			}
			if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return st, nil
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Snapshot returns a point-in-time copy of provider health, for diagnostics.
func (m *Manager) Snapshot() []ProviderSnapshot {
	out := make([]ProviderSnapshot, 0, len(m.providers))
	for _, p := range m.providers {
		healthy := p.isHealthy(m.cooldown)
		p.mu.Lock()
		out = append(out, ProviderSnapshot{
			Name:                p.Name,
			Priority:            p.Priority,
			Healthy:             healthy,
			ConsecutiveFailures: p.consecutiveFailures,
			AvailableTokens:     p.Bucket.AvailableTokens(),
			Stats:               p.stats,
		})
		p.mu.Unlock()
	}
	return out
}

// ProviderSnapshot is a read-only view of one provider's health for logging.
type ProviderSnapshot struct {
	Name                string
	Priority            int
	Healthy             bool
	ConsecutiveFailures int
	AvailableTokens     float64
	Stats               Stats
}

func (s ProviderSnapshot) String() string {
	return fmt.Sprintf("%s(p%d healthy=%v fails=%d tokens=%.2f)", s.Name, s.Priority, s.Healthy, s.ConsecutiveFailures, s.AvailableTokens)
}
