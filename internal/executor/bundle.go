package executor

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// bundleClient is a hand-rolled JSON-RPC client for the Jito-style
// block-engine endpoints named in spec §6 (sendBundle, getBundleStatuses,
// getTipAccounts). No generated Go SDK for this surface exists in the
// ecosystem the rest of this module draws from, so the three methods are
// implemented directly over net/http + encoding/json, matching the
// minimal-dependency style of internal/dex's hand-rolled decoders — see
// DESIGN.md.
type bundleClient struct {
	endpoint   string
	httpClient *http.Client

	mu         sync.Mutex
	tipAccounts []solana.PublicKey
}

func newBundleClient(endpoint string) *bundleClient {
	return &bundleClient{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRPCError   `json:"error"`
}

func (b *bundleClient) call(ctx context.Context, method string, params any, out any) error {
	reqBody, err := json.Marshal(jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("bundle client: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return fmt.Errorf("bundle client: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("bundle client: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("bundle client: %s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("bundle client: %s: %s (code %d)", method, rpcResp.Error.Message, rpcResp.Error.Code)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

// SendBundle submits txs (already signed) as a single bundle and returns the
// block engine's bundle ID.
func (b *bundleClient) SendBundle(ctx context.Context, txs []*solana.Transaction) (string, error) {
	encoded := make([]string, len(txs))
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("bundle client: marshal tx %d: %w", i, err)
		}
		encoded[i] = base64.StdEncoding.EncodeToString(raw)
	}

	var bundleID string
	params := []any{encoded, map[string]string{"encoding": "base64"}}
	if err := b.call(ctx, "sendBundle", params, &bundleID); err != nil {
		return "", err
	}
	return bundleID, nil
}

// bundleStatusEntry mirrors the block engine's getBundleStatuses value
// shape: one entry per requested bundle ID.
type bundleStatusEntry struct {
	BundleID string `json:"bundle_id"`
	Status   string `json:"status"`
}

type bundleStatusResult struct {
	Value []bundleStatusEntry `json:"value"`
}

// GetBundleStatuses queries the current status of one or more bundle IDs.
func (b *bundleClient) GetBundleStatuses(ctx context.Context, bundleIDs []string) ([]bundleStatusEntry, error) {
	var result bundleStatusResult
	params := []any{bundleIDs}
	if err := b.call(ctx, "getBundleStatuses", params, &result); err != nil {
		return nil, err
	}
	return result.Value, nil
}

// GetTipAccounts fetches the block engine's current tip account list,
// caching it for subsequent calls within the same Executor lifetime (spec
// §4.8: "a fixed list of 8 addresses").
func (b *bundleClient) GetTipAccounts(ctx context.Context) ([]solana.PublicKey, error) {
	b.mu.Lock()
	if len(b.tipAccounts) > 0 {
		cached := b.tipAccounts
		b.mu.Unlock()
		return cached, nil
	}
	b.mu.Unlock()

	var raw []string
	if err := b.call(ctx, "getTipAccounts", []any{}, &raw); err != nil {
		return nil, err
	}
	accounts := make([]solana.PublicKey, 0, len(raw))
	for _, s := range raw {
		pk, err := solana.PublicKeyFromBase58(s)
		if err != nil {
			continue
		}
		accounts = append(accounts, pk)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("bundle client: getTipAccounts returned no usable accounts")
	}

	b.mu.Lock()
	b.tipAccounts = accounts
	b.mu.Unlock()
	return accounts, nil
}

// BundleStatus is the normalized landing state of a submitted bundle (spec
// §4.8).
type BundleStatus int

const (
	BundleUnknown BundleStatus = iota
	BundlePending
	BundleLanded
	BundleFailed
	BundleDropped
)

func (s BundleStatus) String() string {
	switch s {
	case BundlePending:
		return "pending"
	case BundleLanded:
		return "landed"
	case BundleFailed:
		return "failed"
	case BundleDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// normalizeBundleStatus maps a block-engine status string to BundleStatus
// per spec §4.8's exact normalization table.
func normalizeBundleStatus(s string) BundleStatus {
	switch strings.ToLower(s) {
	case "landed", "confirmed", "finalized":
		return BundleLanded
	case "failed", "rejected":
		return BundleFailed
	case "dropped":
		return BundleDropped
	case "pending", "processing":
		return BundlePending
	default:
		return BundleUnknown
	}
}

// pollBundleStatus polls getBundleStatuses at cfg.BundlePollInterval until a
// terminal status (Landed/Failed/Dropped) is observed or cfg.BundleTimeout
// elapses (spec §4.8 step 6).
func (e *Executor) pollBundleStatus(ctx context.Context, bundleID string) (BundleStatus, error) {
	deadline := time.Now().Add(e.cfg.BundleTimeout)
	ticker := time.NewTicker(e.cfg.BundlePollInterval)
	defer ticker.Stop()

	for {
		entries, err := e.bundle.GetBundleStatuses(ctx, []string{bundleID})
		if err == nil {
			for _, entry := range entries {
				if entry.BundleID != bundleID {
					continue
				}
				status := normalizeBundleStatus(entry.Status)
				if status == BundleLanded || status == BundleFailed || status == BundleDropped {
					return status, nil
				}
			}
		}

		if time.Now().After(deadline) {
			return BundleUnknown, fmt.Errorf("bundle %s: timed out after %s", bundleID, e.cfg.BundleTimeout)
		}

		select {
		case <-ctx.Done():
			return BundleUnknown, ctx.Err()
		case <-ticker.C:
		}
	}
}
