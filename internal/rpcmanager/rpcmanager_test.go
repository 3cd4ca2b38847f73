package rpcmanager

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
)

// fakeClient is a minimal RawClient stand-in so tests never touch a network.
type fakeClient struct {
	name string

	accountInfoErr error
	accountInfo    *rpc.GetAccountInfoResult

	sendErr error
	sendSig solana.Signature

	sigStatusErr error
	sigStatus    *rpc.GetSignatureStatusesResult

	calls int
}

func (f *fakeClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	f.calls++
	if f.accountInfoErr != nil {
		return nil, f.accountInfoErr
	}
	return f.accountInfo, nil
}

func (f *fakeClient) GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error) {
	f.calls++
	return nil, errors.New("not implemented in fake")
}

func (f *fakeClient) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	f.calls++
	return nil, errors.New("not implemented in fake")
}

func (f *fakeClient) GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	f.calls++
	return nil, nil
}

func (f *fakeClient) SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	f.calls++
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return f.sendSig, nil
}

func (f *fakeClient) SimulateTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	f.calls++
	return nil, errors.New("not implemented in fake")
}

func (f *fakeClient) GetTokenLargestAccounts(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenLargestAccountsResult, error) {
	f.calls++
	return nil, errors.New("not implemented in fake")
}

func (f *fakeClient) GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error) {
	f.calls++
	return nil, errors.New("not implemented in fake")
}

func (f *fakeClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	f.calls++
	return nil, errors.New("not implemented in fake")
}

func (f *fakeClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	f.calls++
	return nil, errors.New("not implemented in fake")
}

func (f *fakeClient) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	f.calls++
	if f.sigStatusErr != nil {
		return nil, f.sigStatusErr
	}
	return f.sigStatus, nil
}

func testManager(t *testing.T, providers ...ProviderConfig) *Manager {
	t.Helper()
	m, err := New(zap.NewNop(), time.Minute, 64, providers, WithHealthParams(2, 20*time.Millisecond))
	require.NoError(t, err)
	return m
}

func TestNewRejectsEmptyProviders(t *testing.T) {
	_, err := New(zap.NewNop(), time.Minute, 64, nil)
	assert.Error(t, err)
}

func TestGetAccountInfoCachesResult(t *testing.T) {
	fc := &fakeClient{accountInfo: &rpc.GetAccountInfoResult{
		RPCContext: rpc.RPCContext{},
		Value:      &rpc.Account{Data: rpc.DataBytesOrJSONFromBytes([]byte{1, 2, 3})},
	}}
	m := testManager(t, ProviderConfig{Name: "p1", RPSLimit: 100, Priority: 1, Client: fc})

	addr := solana.NewWallet().PublicKey()
	info, err := m.GetAccountInfo(context.Background(), addr)
	require.NoError(t, err)
	assert.NotNil(t, info)

	_, err = m.GetAccountInfo(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, 1, fc.calls, "second call should hit cache, not the fake client again")
}

func TestFailoverMovesToNextProvider(t *testing.T) {
	bad := &fakeClient{accountInfoErr: errors.New("boom")}
	good := &fakeClient{accountInfo: &rpc.GetAccountInfoResult{}}
	m := testManager(t,
		ProviderConfig{Name: "bad", RPSLimit: 100, Priority: 1, Client: bad},
		ProviderConfig{Name: "good", RPSLimit: 100, Priority: 2, Client: good},
	)

	_, err := m.GetAccountInfo(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, bad.calls, 1)
	assert.GreaterOrEqual(t, good.calls, 1)
}

func TestProviderMarkedUnhealthyAfterConsecutiveFailures(t *testing.T) {
	bad := &fakeClient{accountInfoErr: errors.New("boom")}
	m := testManager(t, ProviderConfig{Name: "bad", RPSLimit: 100, Priority: 1, Client: bad})

	for i := 0; i < 2; i++ {
		_, err := m.GetAccountInfo(context.Background(), solana.NewWallet().PublicKey())
		assert.Error(t, err)
	}

	snap := m.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].Healthy)

	time.Sleep(30 * time.Millisecond)
	snap = m.Snapshot()
	assert.True(t, snap[0].Healthy, "provider should re-enter rotation after cooldown")
}

func TestSendTransactionReturnsProviderSignature(t *testing.T) {
	fc := &fakeClient{sendSig: solana.Signature{1, 2, 3}}
	m := testManager(t, ProviderConfig{Name: "p1", RPSLimit: 100, Priority: 1, Client: fc})

	tx := &solana.Transaction{}
	sig, err := m.SendTransaction(context.Background(), tx, rpc.TransactionOpts{})
	require.NoError(t, err)
	assert.Equal(t, fc.sendSig, sig)
}

func TestAllProvidersExhaustedReturnsError(t *testing.T) {
	bad := &fakeClient{accountInfoErr: errors.New("boom")}
	m := testManager(t, ProviderConfig{Name: "bad", RPSLimit: 100, Priority: 1, Client: bad})

	for i := 0; i < 2; i++ {
		_, _ = m.GetAccountInfo(context.Background(), solana.NewWallet().PublicKey())
	}
	_, err := m.GetAccountInfo(context.Background(), solana.NewWallet().PublicKey())
	assert.Error(t, err)
}

func TestConfirmTransactionReturnsOnConfirmed(t *testing.T) {
	fc := &fakeClient{sigStatus: &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{{ConfirmationStatus: rpc.ConfirmationStatusConfirmed}},
	}}
	m := testManager(t, ProviderConfig{Name: "p1", RPSLimit: 100, Priority: 1, Client: fc})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := m.ConfirmTransaction(ctx, solana.Signature{1, 2, 3})
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, rpc.ConfirmationStatusConfirmed, status.ConfirmationStatus)
}

func TestConfirmTransactionSurfacesTransactionError(t *testing.T) {
	fc := &fakeClient{sigStatus: &rpc.GetSignatureStatusesResult{
		Value: []*rpc.SignatureStatusesResult{{Err: map[string]any{"InstructionError": []any{0, "Custom"}}}},
	}}
	m := testManager(t, ProviderConfig{Name: "p1", RPSLimit: 100, Priority: 1, Client: fc})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := m.ConfirmTransaction(ctx, solana.Signature{1, 2, 3})
	assert.Error(t, err)
}

func TestConfirmTransactionTimesOutWhenNeverConfirmed(t *testing.T) {
	fc := &fakeClient{sigStatus: &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{nil}}}
	m := testManager(t, ProviderConfig{Name: "p1", RPSLimit: 100, Priority: 1, Client: fc})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := m.ConfirmTransaction(ctx, solana.Signature{1, 2, 3})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
