package pumpfun

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solsniper"
	"solsniper/internal/dex"
)

func curveBlob(vTok, vSol, rTok, rSol, supply uint64, complete bool) []byte {
	buf := make([]byte, minCurveLen)
	putU64(buf, offVirtualTokenReserves, vTok)
	putU64(buf, offVirtualSolReserves, vSol)
	putU64(buf, offRealTokenReserves, rTok)
	putU64(buf, offRealSolReserves, rSol)
	putU64(buf, offTokenTotalSupply, supply)
	if complete {
		buf[offComplete] = 1
	}
	return buf
}

func putU64(buf []byte, offset int, v uint64) {
	for i := 0; i < 8; i++ {
		buf[offset+i] = byte(v)
		v >>= 8
	}
}

func TestParseAccountYieldsMigrationWhenComplete(t *testing.T) {
	blob := curveBlob(1, 1, 1, 1, 1, true)
	ev, err := New().ParseAccount(solana.PublicKey{7}, blob, 10)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, solsniper.PoolEventMigration, ev.Kind)
	assert.Equal(t, solsniper.DexPumpfun, ev.SourceDex)
	assert.Equal(t, solsniper.DexRaydium, ev.TargetDex)
}

func TestParseAccountNoEventWhileActive(t *testing.T) {
	blob := curveBlob(InitialVirtualTokenReserves, InitialVirtualSolReserves, 0, 0, 0, false)
	ev, err := New().ParseAccount(solana.PublicKey{}, blob, 1)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestIsFreshCurve(t *testing.T) {
	assert.True(t, IsFreshCurve(InitialVirtualSolReserves, InitialVirtualTokenReserves))
	assert.False(t, IsFreshCurve(1, 2))
}

func TestParseTransactionMatchesCreate(t *testing.T) {
	accounts := []solana.PublicKey{solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()}
	ix := dex.Instruction{
		ProgramID: ProgramID,
		Accounts:  accounts,
		Data:      discriminatorCreate[:],
	}
	ev, err := New().ParseTransaction(solana.Signature{1}, accounts, []dex.Instruction{ix}, 42)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, solsniper.NewAddressFromPublicKey(accounts[0]), ev.Mint)
	assert.Equal(t, solsniper.NewAddressFromPublicKey(accounts[2]), ev.Pool)
}

func TestBuyOutputAndSellOutputRoundTripDirection(t *testing.T) {
	c := &Curve{
		VirtualSolReserves:   InitialVirtualSolReserves,
		VirtualTokenReserves: InitialVirtualTokenReserves,
	}
	out := c.BuyOutput(1_000_000_000) // 1 SOL
	assert.Greater(t, out, uint64(0))
	assert.Less(t, out, InitialVirtualTokenReserves)

	sellBack := c.SellOutput(out)
	assert.Greater(t, sellBack, uint64(0))
	assert.Less(t, sellBack, uint64(1_000_000_000), "fees should make the round trip lossy")
}

func TestBuyOutputZeroOnZeroInput(t *testing.T) {
	c := &Curve{VirtualSolReserves: InitialVirtualSolReserves, VirtualTokenReserves: InitialVirtualTokenReserves}
	assert.Equal(t, uint64(0), c.BuyOutput(0))
}

func TestSpotPrice(t *testing.T) {
	c := &Curve{VirtualSolReserves: 100, VirtualTokenReserves: 200}
	assert.InDelta(t, 0.5, c.SpotPrice(), 1e-9)
}

func TestDecodeCurveRejectsShortBlob(t *testing.T) {
	_, ok := DecodeCurve([]byte{1, 2, 3})
	assert.False(t, ok)
}
