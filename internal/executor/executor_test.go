package executor

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solsniper"
	"solsniper/internal/rpcmanager"
)

// accountDataFrom encodes raw bytes the way the JSON-RPC wire format encodes
// base64 account data, so it round-trips through rpc.DataBytesOrJSON's
// UnmarshalJSON exactly as a live node's response would (mirrors
// internal/risk's test helper of the same name).
func accountDataFrom(t *testing.T, raw []byte) rpc.DataBytesOrJSON {
	t.Helper()
	b64 := base64.StdEncoding.EncodeToString(raw)
	payload, err := json.Marshal([2]string{b64, "base64"})
	require.NoError(t, err)
	var d rpc.DataBytesOrJSON
	require.NoError(t, json.Unmarshal(payload, &d))
	return d
}

// fakeRawClient is a minimal rpcmanager.RawClient stand-in so executor tests
// never touch the network, mirroring internal/rpcmanager's own fakeClient.
type fakeRawClient struct {
	accounts map[solana.PublicKey]*rpc.Account

	blockhash *rpc.GetLatestBlockhashResult

	sendErr error
	sendSig solana.Signature

	sigStatus *rpc.GetSignatureStatusesResult
}

func (f *fakeRawClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	acct := f.accounts[account]
	if acct == nil {
		return &rpc.GetAccountInfoResult{}, nil
	}
	return &rpc.GetAccountInfoResult{Value: acct}, nil
}

func (f *fakeRawClient) GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error) {
	out := make([]*rpc.Account, len(accounts))
	for i, a := range accounts {
		out[i] = f.accounts[a]
	}
	return &rpc.GetMultipleAccountsResult{Value: out}, nil
}

func (f *fakeRawClient) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	return nil, errUnsupportedInFake
}

func (f *fakeRawClient) GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	return nil, nil
}

func (f *fakeRawClient) SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return f.sendSig, nil
}

func (f *fakeRawClient) SimulateTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	return &rpc.SimulateTransactionResponse{}, nil
}

func (f *fakeRawClient) GetTokenLargestAccounts(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenLargestAccountsResult, error) {
	return nil, errUnsupportedInFake
}

func (f *fakeRawClient) GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error) {
	return nil, errUnsupportedInFake
}

func (f *fakeRawClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return &rpc.GetBalanceResult{Value: 0}, nil
}

func (f *fakeRawClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if f.blockhash != nil {
		return f.blockhash, nil
	}
	return &rpc.GetLatestBlockhashResult{Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{1, 2, 3}}}, nil
}

func (f *fakeRawClient) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if f.sigStatus != nil {
		return f.sigStatus, nil
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}}}, nil
}

var errUnsupportedInFake = fakeUnsupportedErr{}

type fakeUnsupportedErr struct{}

func (fakeUnsupportedErr) Error() string { return "not implemented in fake" }

func testExecutor(t *testing.T, cfg Config, client *fakeRawClient) *Executor {
	t.Helper()
	mgr, err := rpcmanager.New(zap.NewNop(), time.Minute, 64, []rpcmanager.ProviderConfig{
		{Name: "p1", RPSLimit: 1000, Priority: 1, Client: client},
	})
	require.NoError(t, err)
	cfg.BundlePollInterval = 10 * time.Millisecond
	cfg.BundleTimeout = 50 * time.Millisecond
	return New(cfg, mgr, zap.NewNop())
}

func TestExecuteDryRunShortCircuits(t *testing.T) {
	wallet := solana.NewWallet()
	exec := testExecutor(t, Config{DryRun: true, Wallet: wallet.PrivateKey}, &fakeRawClient{})

	res, err := exec.Execute(context.Background(), Request{Dex: solsniper.DexPumpfun, Side: SideBuy})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "dry-run", res.TxHash)
}

func TestExecuteUnsupportedDexReturnsFailureResult(t *testing.T) {
	wallet := solana.NewWallet()
	exec := testExecutor(t, Config{Wallet: wallet.PrivateKey}, &fakeRawClient{})

	res, err := exec.Execute(context.Background(), Request{Dex: solsniper.DexRaydium, Side: SideBuy})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Error(t, res.Err)
}

func TestExecuteFallsBackWhenBundleEndpointUnreachable(t *testing.T) {
	wallet := solana.NewWallet()
	mint := solana.NewWallet().PublicKey()
	curve := solana.NewWallet().PublicKey()

	curveData := make([]byte, 49)
	putU64(curveData, 8, pumpfunInitialVirtualTokenReserves)
	putU64(curveData, 16, pumpfunInitialVirtualSolReserves)

	client := &fakeRawClient{
		accounts: map[solana.PublicKey]*rpc.Account{
			curve: {Data: accountDataFrom(t, curveData)},
		},
		sendSig: solana.Signature{9, 9, 9},
	}
	cfg := Config{
		Wallet:             wallet.PrivateKey,
		BlockEngineURL:     "http://127.0.0.1:0", // unreachable: forces bundle path to fail
		TipStrategy:        TipFixed,
		TipLamports:        1000,
		MaxTipLamports:     10000,
		MaxFallbackRetries: 1,
	}
	exec := testExecutor(t, cfg, client)

	res, err := exec.Execute(context.Background(), Request{
		Dex:            solsniper.DexPumpfun,
		Mint:           solsniper.NewAddressFromPublicKey(mint),
		Pool:           solsniper.NewAddressFromPublicKey(curve),
		Side:           SideBuy,
		AmountLamports: 1_000_000,
		SlippageBps:    500,
	})
	require.NoError(t, err)
	assert.True(t, res.Success, "fallback should still land the trade: %v", res.Err)
	assert.Equal(t, client.sendSig.String(), res.TxHash)
}

func putU64(buf []byte, offset int, v uint64) {
	for i := 0; i < 8; i++ {
		buf[offset+i] = byte(v >> (8 * i))
	}
}

const (
	pumpfunInitialVirtualSolReserves   = 30_000_000_000
	pumpfunInitialVirtualTokenReserves = 1_073_000_000_000_000
)
