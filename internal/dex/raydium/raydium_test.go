package raydium

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solsniper"
	"solsniper/internal/dex"
)

func poolStateBlob(status uint64, baseVault, quoteVault, baseMint, quoteMint, lpMint solana.PublicKey) []byte {
	buf := make([]byte, minPoolStateLen)
	putU64(buf, offStatus, status)
	copy(buf[offBaseVault:offBaseVault+32], baseVault[:])
	copy(buf[offQuoteVault:offQuoteVault+32], quoteVault[:])
	copy(buf[offBaseMint:offBaseMint+32], baseMint[:])
	copy(buf[offQuoteMint:offQuoteMint+32], quoteMint[:])
	copy(buf[offLPMint:offLPMint+32], lpMint[:])
	return buf
}

func putU64(buf []byte, offset int, v uint64) {
	for i := 0; i < 8; i++ {
		buf[offset+i] = byte(v)
		v >>= 8
	}
}

func TestParseAccountYieldsNewPoolForLiveStatus(t *testing.T) {
	pool := solana.NewWallet().PublicKey()
	baseVault := solana.NewWallet().PublicKey()
	quoteVault := solana.NewWallet().PublicKey()
	baseMint := solana.NewWallet().PublicKey()
	quoteMint := solana.NewWallet().PublicKey()
	lpMint := solana.NewWallet().PublicKey()

	blob := poolStateBlob(1, baseVault, quoteVault, baseMint, quoteMint, lpMint)

	ev, err := New().ParseAccount(pool, blob, 100)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, solsniper.PoolEventNewPool, ev.Kind)
	assert.Equal(t, solsniper.DexRaydium, ev.Dex)
	assert.Equal(t, solsniper.NewAddressFromPublicKey(baseMint), ev.Mint)
	assert.Equal(t, solsniper.NewAddressFromPublicKey(pool), ev.Pool)
}

func TestParseAccountIgnoresNonLiveStatus(t *testing.T) {
	blob := poolStateBlob(0, solana.PublicKey{}, solana.PublicKey{}, solana.PublicKey{}, solana.PublicKey{}, solana.PublicKey{})
	ev, err := New().ParseAccount(solana.PublicKey{}, blob, 1)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestParseAccountRejectsShortBlob(t *testing.T) {
	ev, err := New().ParseAccount(solana.PublicKey{}, []byte{1, 2, 3}, 1)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestParseTransactionMatchesInitialize2(t *testing.T) {
	accounts := make([]solana.PublicKey, 12)
	for i := range accounts {
		accounts[i] = solana.NewWallet().PublicKey()
	}
	ix := dex.Instruction{
		ProgramID: ProgramID,
		Accounts:  accounts,
		Data:      append([]byte{1, 0, 0, 0, 0, 0, 0, 0}, 0xAA),
	}

	ev, err := New().ParseTransaction(solana.Signature{9}, accounts, []dex.Instruction{ix}, 5)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, solsniper.NewAddressFromPublicKey(accounts[4]), ev.Pool)
	assert.Equal(t, solsniper.NewAddressFromPublicKey(accounts[8]), ev.Mint)
}

func TestParseTransactionSkipsShortAccountList(t *testing.T) {
	ix := dex.Instruction{
		ProgramID: ProgramID,
		Accounts:  []solana.PublicKey{solana.NewWallet().PublicKey()},
		Data:      []byte{1, 0, 0, 0, 0, 0, 0, 0},
	}
	ev, err := New().ParseTransaction(solana.Signature{}, nil, []dex.Instruction{ix}, 1)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestParseTransactionIgnoresOtherPrograms(t *testing.T) {
	ix := dex.Instruction{
		ProgramID: solana.NewWallet().PublicKey(),
		Data:      []byte{1, 0, 0, 0, 0, 0, 0, 0},
	}
	ev, err := New().ParseTransaction(solana.Signature{}, nil, []dex.Instruction{ix}, 1)
	require.NoError(t, err)
	assert.Nil(t, ev)
}
