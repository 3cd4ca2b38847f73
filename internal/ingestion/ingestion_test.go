package ingestion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"solsniper"
	"solsniper/internal/dex"
	"solsniper/internal/dex/pumpfun"
	"solsniper/internal/dex/raydium"
	"solsniper/internal/rpcmanager"
)

type fakeRawClient struct {
	sigs []*rpc.TransactionSignature
}

func (f *fakeRawClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	return nil, errors.New("unused")
}

func (f *fakeRawClient) GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error) {
	return nil, errors.New("unused")
}

func (f *fakeRawClient) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	return nil, errors.New("no transaction in fake")
}

func (f *fakeRawClient) GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	return f.sigs, nil
}

func (f *fakeRawClient) SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	return solana.Signature{}, errors.New("unused")
}

func (f *fakeRawClient) SimulateTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	return nil, errors.New("unused")
}

func (f *fakeRawClient) GetTokenLargestAccounts(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenLargestAccountsResult, error) {
	return nil, errors.New("unused")
}

func (f *fakeRawClient) GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error) {
	return nil, errors.New("unused")
}

func (f *fakeRawClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return nil, errors.New("unused")
}

func (f *fakeRawClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return nil, errors.New("unused")
}

func testRegistry() *dex.Registry {
	r := dex.NewRegistry()
	r.Register(solsniper.DexRaydium, raydium.ProgramID, raydium.New())
	r.Register(solsniper.DexPumpfun, pumpfun.ProgramID, pumpfun.New())
	return r
}

func TestPollOnceAdvancesCursorAndDedupes(t *testing.T) {
	sig1 := solana.Signature{1}
	sig2 := solana.Signature{2}
	fc := &fakeRawClient{sigs: []*rpc.TransactionSignature{
		{Signature: sig2, Slot: 20},
		{Signature: sig1, Slot: 10},
	}}
	mgr, err := rpcmanager.New(zap.NewNop(), time.Minute, 16, []rpcmanager.ProviderConfig{
		{Name: "p1", RPSLimit: 100, Priority: 1, Client: fc},
	})
	require.NoError(t, err)

	registry := testRegistry()
	cfg := Config{EnabledDexes: []solsniper.Dex{solsniper.DexRaydium, solsniper.DexPumpfun}}
	c := New(cfg, registry, mgr, zap.NewNop())

	cursors := make(map[solana.PublicKey]solana.Signature)
	c.pollOnce(context.Background(), cursors)

	time.Sleep(20 * time.Millisecond) // let the fetch goroutines run (and fail, harmlessly)
	assert.True(t, c.dedup.SeenOrAdd(sig1.String()))
	assert.True(t, c.dedup.SeenOrAdd(sig2.String()))
	assert.Equal(t, sig2, cursors[raydium.ProgramID], "cursor should advance to the newest signature")
	assert.Equal(t, sig2, cursors[pumpfun.ProgramID])
}

func TestCoordinatorStartFallsBackToPollingWithNoEndpoints(t *testing.T) {
	fc := &fakeRawClient{}
	mgr, err := rpcmanager.New(zap.NewNop(), time.Minute, 16, []rpcmanager.ProviderConfig{
		{Name: "p1", RPSLimit: 100, Priority: 1, Client: fc},
	})
	require.NoError(t, err)

	registry := testRegistry()
	cfg := Config{EnabledDexes: []solsniper.Dex{solsniper.DexRaydium}, PollInterval: 10 * time.Millisecond}
	c := New(cfg, registry, mgr, zap.NewNop())

	c.Start(context.Background())
	assert.Equal(t, ModePolling, c.Mode())
	c.Stop()
}

func TestCoordinatorStartFallsBackToPollingWhenWebSocketDialFails(t *testing.T) {
	fc := &fakeRawClient{}
	mgr, err := rpcmanager.New(zap.NewNop(), time.Minute, 16, []rpcmanager.ProviderConfig{
		{Name: "p1", RPSLimit: 100, Priority: 1, Client: fc},
	})
	require.NoError(t, err)

	registry := testRegistry()
	cfg := Config{EnabledDexes: []solsniper.Dex{solsniper.DexRaydium}, WSEndpoint: "wss://example.invalid"}
	c := New(cfg, registry, mgr, zap.NewNop(), WithWSDialer(alwaysFailDialer{}))

	c.Start(context.Background())
	// the dialer fails, so the coordinator falls through to polling.
	assert.Equal(t, ModePolling, c.Mode())
	c.Stop()
}

type alwaysFailDialer struct{}

func (alwaysFailDialer) Dial(ctx context.Context, url string) (WSConn, error) {
	return nil, errors.New("dial refused")
}
