package risk

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
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
// UnmarshalJSON exactly as a live node's response would.
func accountDataFrom(t *testing.T, raw []byte) rpc.DataBytesOrJSON {
	t.Helper()
	b64 := base64.StdEncoding.EncodeToString(raw)
	payload, err := json.Marshal([2]string{b64, "base64"})
	require.NoError(t, err)
	var d rpc.DataBytesOrJSON
	require.NoError(t, json.Unmarshal(payload, &d))
	return d
}

func buildMintBytes(mintAuthority, freezeAuthority *solana.PublicKey) []byte {
	buf := make([]byte, mintLayoutLen)
	if mintAuthority != nil {
		binary.LittleEndian.PutUint32(buf[offMintAuthorityFlag:], 1)
		copy(buf[offMintAuthorityPubkey:offMintAuthorityPubkey+32], (*mintAuthority)[:])
	}
	binary.LittleEndian.PutUint64(buf[offSupply:offSupply+8], 1_000_000)
	buf[offDecimals] = 6
	buf[offIsInitialized] = 1
	if freezeAuthority != nil {
		binary.LittleEndian.PutUint32(buf[offFreezeAuthorityFlag:], 1)
		copy(buf[offFreezeAuthorityPubkey:offFreezeAuthorityPubkey+32], (*freezeAuthority)[:])
	}
	return buf
}

func buildTokenAccountBytes(amount uint64) []byte {
	buf := make([]byte, 165)
	binary.LittleEndian.PutUint64(buf[64:72], amount)
	return buf
}

// fakeRiskClient is a minimal rpcmanager.RawClient stand-in keyed by address.
type fakeRiskClient struct {
	t *testing.T

	accounts map[string][]byte
	largest  map[string]*rpc.GetTokenLargestAccountsResult
	supply   map[string]*rpc.GetTokenSupplyResult

	accountInfoCalls int
}

func (f *fakeRiskClient) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	f.accountInfoCalls++
	raw, ok := f.accounts[account.String()]
	if !ok {
		return &rpc.GetAccountInfoResult{}, nil
	}
	return &rpc.GetAccountInfoResult{Value: &rpc.Account{Data: accountDataFrom(f.t, raw)}}, nil
}

func (f *fakeRiskClient) GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error) {
	return nil, errors.New("unused")
}

func (f *fakeRiskClient) GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	return nil, errors.New("unused")
}

func (f *fakeRiskClient) GetSignaturesForAddressWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error) {
	return nil, errors.New("unused")
}

func (f *fakeRiskClient) SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	return solana.Signature{}, errors.New("unused")
}

func (f *fakeRiskClient) SimulateTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	return nil, errors.New("unused")
}

func (f *fakeRiskClient) GetTokenLargestAccounts(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenLargestAccountsResult, error) {
	if res, ok := f.largest[mint.String()]; ok {
		return res, nil
	}
	return nil, errors.New("no largest accounts in fake")
}

func (f *fakeRiskClient) GetTokenSupply(ctx context.Context, mint solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenSupplyResult, error) {
	if res, ok := f.supply[mint.String()]; ok {
		return res, nil
	}
	return nil, errors.New("no supply in fake")
}

func (f *fakeRiskClient) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	return nil, errors.New("unused")
}

func (f *fakeRiskClient) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return nil, errors.New("unused")
}

func newTestAnalyzer(t *testing.T, fc *fakeRiskClient, cfg Config) (*Analyzer, *rpcmanager.Manager) {
	t.Helper()
	mgr, err := rpcmanager.New(zap.NewNop(), time.Minute, 64, []rpcmanager.ProviderConfig{
		{Name: "p1", RPSLimit: 1000, Priority: 1, Client: fc},
	})
	require.NoError(t, err)
	return New(cfg, mgr, zap.NewNop()), mgr
}

func wrappedSolUiAmount(v float64) *rpc.GetTokenSupplyResult {
	return &rpc.GetTokenSupplyResult{Value: &rpc.UiTokenAmount{UiAmount: &v}}
}

func uiAmountAccounts(addrs []string, amounts []float64) *rpc.GetTokenLargestAccountsResult {
	out := &rpc.GetTokenLargestAccountsResult{}
	for i, a := range addrs {
		pk := solana.MustPublicKeyFromBase58(a)
		amt := amounts[i]
		out.Value = append(out.Value, &rpc.TokenLargestAccountsResult{Address: pk, UiTokenAmount: rpc.UiTokenAmount{UiAmount: &amt}})
	}
	return out
}

func TestQuickCheckBlacklisted(t *testing.T) {
	fc := &fakeRiskClient{t: t, accounts: map[string][]byte{}}
	a, _ := newTestAnalyzer(t, fc, Config{MinLiquiditySol: 1})
	mint, _ := solsniper.AddressFromBase58("So11111111111111111111111111111111111111112")
	a.Blacklist(mint.String(), "rugpull history")

	res := a.QuickCheck(context.Background(), Request{Mint: mint})
	assert.False(t, res.Viable)
	assert.Contains(t, res.Reason, "blacklisted")
}

func TestQuickCheckLiquidityBelowFloor(t *testing.T) {
	wsol := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	mintPk := solana.NewWallet().PublicKey()
	vaultPk := solana.NewWallet().PublicKey()

	fc := &fakeRiskClient{t: t, accounts: map[string][]byte{
		mintPk.String():  buildMintBytes(nil, nil),
		vaultPk.String(): buildTokenAccountBytes(1 * 1e9), // 1 SOL
	}}
	a, _ := newTestAnalyzer(t, fc, Config{MinLiquiditySol: 10})

	req := Request{
		Mint:       solsniper.NewAddressFromPublicKey(mintPk),
		QuoteMint:  solsniper.NewAddressFromPublicKey(wsol),
		QuoteVault: solsniper.NewAddressFromPublicKey(vaultPk),
	}
	res := a.QuickCheck(context.Background(), req)
	assert.False(t, res.Viable)
	assert.Contains(t, res.Reason, "liquidity")
}

func TestAnalyzeTerminatesOnMintAuthorityPresent(t *testing.T) {
	authority := solana.NewWallet().PublicKey()
	mintPk := solana.NewWallet().PublicKey()

	fc := &fakeRiskClient{t: t, accounts: map[string][]byte{
		mintPk.String(): buildMintBytes(&authority, nil),
	}}
	a, _ := newTestAnalyzer(t, fc, Config{MinLiquiditySol: 1})

	analysis, err := a.Analyze(context.Background(), Request{Mint: solsniper.NewAddressFromPublicKey(mintPk)})
	require.NoError(t, err)
	assert.False(t, analysis.Passed)
	assert.True(t, analysis.HasCritical())
	require.Len(t, analysis.Factors, 1)
	assert.Equal(t, "mint_authority", analysis.Factors[0].Name)
}

func TestAnalyzeFullPipelinePassesWithoutHoneypot(t *testing.T) {
	wsol := solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	mintPk := solana.NewWallet().PublicKey()
	vaultPk := solana.NewWallet().PublicKey()
	holder1 := solana.NewWallet().PublicKey()
	holder2 := solana.NewWallet().PublicKey()

	fc := &fakeRiskClient{
		t: t,
		accounts: map[string][]byte{
			mintPk.String():  buildMintBytes(nil, nil),
			vaultPk.String(): buildTokenAccountBytes(50 * 1e9), // 50 SOL
		},
		supply: map[string]*rpc.GetTokenSupplyResult{
			mintPk.String(): wrappedSolUiAmount(1_000_000),
		},
		largest: map[string]*rpc.GetTokenLargestAccountsResult{
			mintPk.String(): uiAmountAccounts(
				[]string{holder1.String(), holder2.String()},
				[]float64{50_000, 20_000}, // top1=5%, top5/top10 <= 7%
			),
		},
	}
	a, _ := newTestAnalyzer(t, fc, Config{MinLiquiditySol: 1, EnableHoneypotCheck: false})

	req := Request{
		Mint:       solsniper.NewAddressFromPublicKey(mintPk),
		QuoteMint:  solsniper.NewAddressFromPublicKey(wsol),
		QuoteVault: solsniper.NewAddressFromPublicKey(vaultPk),
	}
	analysis, err := a.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, analysis.Passed)
	assert.False(t, analysis.HasCritical())
	assert.GreaterOrEqual(t, analysis.Score, 50)
}

func TestAnalyzeCachesResultByMint(t *testing.T) {
	mintPk := solana.NewWallet().PublicKey()
	fc := &fakeRiskClient{t: t, accounts: map[string][]byte{
		mintPk.String(): buildMintBytes(&mintPk, nil), // terminates at phase 1, cheap
	}}
	a, _ := newTestAnalyzer(t, fc, Config{MinLiquiditySol: 1})

	req := Request{Mint: solsniper.NewAddressFromPublicKey(mintPk)}
	_, err := a.Analyze(context.Background(), req)
	require.NoError(t, err)
	callsAfterFirst := fc.accountInfoCalls

	_, err = a.Analyze(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, fc.accountInfoCalls, "second analyze should be served from the analysis cache")
}

type fakeSellSimulator struct {
	resp *rpc.SimulateTransactionResponse
	err  error
}

func (f *fakeSellSimulator) SimulateSell(ctx context.Context, req Request, nominalTokenAmount uint64) (*rpc.SimulateTransactionResponse, error) {
	return f.resp, f.err
}

func TestPhase3HoneypotBlockedIsCritical(t *testing.T) {
	mintPk := solana.NewWallet().PublicKey()
	a, _ := newTestAnalyzer(t, &fakeRiskClient{t: t}, Config{EnableHoneypotCheck: true, MaxTaxPercent: 10})
	a.RegisterSellSimulator(solsniper.DexPumpfun, &fakeSellSimulator{err: errors.New("transaction blocked by blacklist check")})

	factor, honeypot := a.phase3(context.Background(), Request{Mint: solsniper.NewAddressFromPublicKey(mintPk), Dex: solsniper.DexPumpfun})
	assert.True(t, honeypot)
	assert.Equal(t, "honeypot", factor.Name)
	assert.False(t, factor.Passed)
}

func TestPhase3NoSimulatorIsNeutral(t *testing.T) {
	a, _ := newTestAnalyzer(t, &fakeRiskClient{t: t}, Config{EnableHoneypotCheck: true})

	factor, honeypot := a.phase3(context.Background(), Request{Dex: solsniper.DexRaydium})
	assert.False(t, honeypot)
	assert.True(t, factor.Passed)
	assert.Equal(t, 0, factor.Score)
}

func TestPhase3InsufficientFundsIsInconclusiveNotCritical(t *testing.T) {
	a, _ := newTestAnalyzer(t, &fakeRiskClient{t: t}, Config{EnableHoneypotCheck: true})
	a.RegisterSellSimulator(solsniper.DexPumpfun, &fakeSellSimulator{err: errors.New("insufficient funds for transaction")})

	factor, honeypot := a.phase3(context.Background(), Request{Dex: solsniper.DexPumpfun})
	assert.False(t, honeypot)
	assert.True(t, factor.Passed)
	assert.Equal(t, ScoreHoneypotHalf, factor.Score)
}

func TestExtensionFactorCriticalForPermanentDelegate(t *testing.T) {
	ext := Extension{Type: ExtPermanentDelegate, Value: []byte{1, 2, 3}}
	data := encodeExtensions(t, ext)
	mint := &mintState{HasExtensions: true, ExtensionData: data}

	a := &Analyzer{}
	factor, _, critical := a.extensionFactor(mint)
	assert.True(t, critical)
	assert.False(t, factor.Passed)
}

// encodeExtensions builds a minimal TLV blob matching parseExtensions' format.
func encodeExtensions(t *testing.T, exts ...Extension) []byte {
	t.Helper()
	var buf []byte
	for _, e := range exts {
		head := make([]byte, 4)
		binary.LittleEndian.PutUint16(head[0:2], uint16(e.Type))
		binary.LittleEndian.PutUint16(head[2:4], uint16(len(e.Value)))
		buf = append(buf, head...)
		buf = append(buf, e.Value...)
	}
	return buf
}
