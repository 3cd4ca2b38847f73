// Package pumpfun implements the spec §4.5 Pumpfun bonding-curve decoder:
// fixed account layout parsing, CREATE/BUY/SELL instruction matching, and
// overflow-safe curve pricing math.
package pumpfun

import (
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"

	"solsniper"
	"solsniper/internal/dex"
)

// ProgramID is the mainnet Pumpfun program.
var ProgramID = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")

// Bonding-curve account layout offsets (after the 8-byte Anchor account
// discriminator), per spec §3: five u64 reserve/supply fields plus a
// 1-byte complete flag.
const (
	offVirtualTokenReserves = 8
	offVirtualSolReserves   = 16
	offRealTokenReserves    = 24
	offRealSolReserves      = 32
	offTokenTotalSupply     = 40
	offComplete             = 48

	minCurveLen = 49
)

// Protocol constants for a freshly created curve (spec §4.5).
const (
	InitialVirtualSolReserves   uint64 = 30_000_000_000         // 30 SOL in lamports
	InitialVirtualTokenReserves uint64 = 1_073_000_000_000_000  // 1.073e15
)

// FeeBps is the bonding-curve trade fee in basis points.
const FeeBps uint64 = 100

// discriminators are the first 8 bytes of each instruction's data.
var (
	discriminatorCreate = [8]byte{24, 30, 200, 40, 5, 28, 7, 119}
	discriminatorBuy    = [8]byte{102, 6, 61, 18, 1, 218, 235, 234}
	discriminatorSell   = [8]byte{51, 230, 133, 164, 1, 127, 131, 173}
)

const (
	createMintAccountIdx         = 0
	createBondingCurveAccountIdx = 2
	minCreateAccounts            = 3
)

// Decoder implements dex.Decoder for the Pumpfun program.
type Decoder struct{}

// New constructs a Pumpfun decoder. It holds no state.
func New() *Decoder { return &Decoder{} }

// ParseAccount reads the bonding-curve layout. It yields a Migration event
// when the curve is complete (graduated to Raydium); it does not yield a
// NewPool from account data alone because identifying "new curve" requires
// knowing the mint out-of-band (spec §4.5) — that association is made by
// ParseTransaction's CREATE handling instead.
func (Decoder) ParseAccount(address solana.PublicKey, data []byte, slot uint64) (*solsniper.PoolEvent, error) {
	if len(data) < minCurveLen {
		return nil, nil
	}
	complete, ok := readBool(data, offComplete)
	if !ok {
		return nil, nil
	}
	if !complete {
		return nil, nil
	}
	return &solsniper.PoolEvent{
		Kind:       solsniper.PoolEventMigration,
		SourceDex:  solsniper.DexPumpfun,
		TargetDex:  solsniper.DexRaydium,
		SourcePool: solsniper.NewAddressFromPublicKey(address),
		Slot:       slot,
		Timestamp:  time.Now().UTC(),
	}, nil
}

// IsFreshCurve reports whether the given reserves exactly match the
// protocol's initial constants for a just-created curve (spec §4.5).
func IsFreshCurve(virtualSolReserves, virtualTokenReserves uint64) bool {
	return virtualSolReserves == InitialVirtualSolReserves && virtualTokenReserves == InitialVirtualTokenReserves
}

// ParseTransaction matches CREATE instructions and reads the fixed mint/
// bonding-curve account slots named in spec §4.5.
func (Decoder) ParseTransaction(signature solana.Signature, accountKeys []solana.PublicKey, instructions []dex.Instruction, slot uint64) (*solsniper.PoolEvent, error) {
	for _, ix := range instructions {
		if ix.ProgramID != ProgramID {
			continue
		}
		if len(ix.Data) < 8 || [8]byte(ix.Data[:8]) != discriminatorCreate {
			continue
		}
		if len(ix.Accounts) < minCreateAccounts {
			continue
		}
		mint := ix.Accounts[createMintAccountIdx]
		curve := ix.Accounts[createBondingCurveAccountIdx]
		return &solsniper.PoolEvent{
			Kind:      solsniper.PoolEventNewPool,
			Dex:       solsniper.DexPumpfun,
			Mint:      solsniper.NewAddressFromPublicKey(mint),
			Pool:      solsniper.NewAddressFromPublicKey(curve),
			BaseMint:  solsniper.NewAddressFromPublicKey(mint),
			Slot:      slot,
			Signature: signature.String(),
			Timestamp: time.Now().UTC(),
		}, nil
	}
	return nil, nil
}

// IsBuyInstruction reports whether data begins with the BUY discriminator.
func IsBuyInstruction(data []byte) bool {
	return len(data) >= 8 && [8]byte(data[:8]) == discriminatorBuy
}

// IsSellInstruction reports whether data begins with the SELL discriminator.
func IsSellInstruction(data []byte) bool {
	return len(data) >= 8 && [8]byte(data[:8]) == discriminatorSell
}

// BuyDiscriminator returns the 8-byte BUY instruction tag, exported so
// internal/executor can build buy instructions without duplicating the
// constant.
func BuyDiscriminator() [8]byte { return discriminatorBuy }

// SellDiscriminator returns the 8-byte SELL instruction tag.
func SellDiscriminator() [8]byte { return discriminatorSell }

// PDA seed prefixes for the accounts internal/executor must derive when
// building buy/sell instructions (spec §4.8); the bonding curve account
// itself is already known from the pool event and is not derived here.
var (
	GlobalSeed         = []byte("global")
	EventAuthoritySeed = []byte("__event_authority")
)

// Curve is a snapshot of a bonding curve's reserves, used by the pricing
// functions below. All arithmetic is performed in math/big to avoid
// intermediate overflow across the 64x64-bit multiplications (spec §4.5).
type Curve struct {
	VirtualSolReserves   uint64
	VirtualTokenReserves uint64
	RealSolReserves      uint64
	RealTokenReserves    uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// DecodeCurve parses a raw bonding-curve account blob.
func DecodeCurve(data []byte) (*Curve, bool) {
	if len(data) < minCurveLen {
		return nil, false
	}
	vTok, _ := readU64(data, offVirtualTokenReserves)
	vSol, _ := readU64(data, offVirtualSolReserves)
	rTok, _ := readU64(data, offRealTokenReserves)
	rSol, _ := readU64(data, offRealSolReserves)
	supply, _ := readU64(data, offTokenTotalSupply)
	complete, _ := readBool(data, offComplete)
	return &Curve{
		VirtualSolReserves:   vSol,
		VirtualTokenReserves: vTok,
		RealSolReserves:      rSol,
		RealTokenReserves:    rTok,
		TokenTotalSupply:     supply,
		Complete:             complete,
	}, true
}

// SpotPrice returns virtual_sol_reserves / virtual_token_reserves as a
// float64. The executor uses it as a trade's entry price and the position
// manager uses it for TP/SL price refresh; output amounts come from the
// integer Buy/Sell functions below.
func (c *Curve) SpotPrice() float64 {
	if c.VirtualTokenReserves == 0 {
		return 0
	}
	return float64(c.VirtualSolReserves) / float64(c.VirtualTokenReserves)
}

const bpsDenominator = 10_000

// BuyOutput computes the token amount received for spending lamportsIn SOL,
// per spec §4.5: x' = x - x*FEE_BPS/10000; new_vSOL = vSOL+x'; new_vTOK =
// vSOL*vTOK/new_vSOL; output = vTOK - new_vTOK.
func (c *Curve) BuyOutput(lamportsIn uint64) uint64 {
	x := new(big.Int).SetUint64(lamportsIn)
	fee := new(big.Int).Mul(x, big.NewInt(int64(FeeBps)))
	fee.Quo(fee, big.NewInt(bpsDenominator))
	xPrime := new(big.Int).Sub(x, fee)

	vSol := new(big.Int).SetUint64(c.VirtualSolReserves)
	vTok := new(big.Int).SetUint64(c.VirtualTokenReserves)

	newVSol := new(big.Int).Add(vSol, xPrime)
	if newVSol.Sign() == 0 {
		return 0
	}
	product := new(big.Int).Mul(vSol, vTok)
	newVTok := new(big.Int).Quo(product, newVSol)

	out := new(big.Int).Sub(vTok, newVTok)
	if out.Sign() <= 0 {
		return 0
	}
	return clampUint64(out)
}

// SellOutput computes net lamports received for selling tokensIn tokens,
// per spec §4.5: new_vTOK = vTOK+y; new_vSOL = vSOL*vTOK/new_vTOK;
// gross = vSOL-new_vSOL; net = gross*(1-FEE_BPS/10000).
func (c *Curve) SellOutput(tokensIn uint64) uint64 {
	y := new(big.Int).SetUint64(tokensIn)
	vSol := new(big.Int).SetUint64(c.VirtualSolReserves)
	vTok := new(big.Int).SetUint64(c.VirtualTokenReserves)

	newVTok := new(big.Int).Add(vTok, y)
	if newVTok.Sign() == 0 {
		return 0
	}
	product := new(big.Int).Mul(vSol, vTok)
	newVSol := new(big.Int).Quo(product, newVTok)

	gross := new(big.Int).Sub(vSol, newVSol)
	if gross.Sign() <= 0 {
		return 0
	}
	net := new(big.Int).Mul(gross, big.NewInt(bpsDenominator-int64(FeeBps)))
	net.Quo(net, big.NewInt(bpsDenominator))
	return clampUint64(net)
}

func clampUint64(v *big.Int) uint64 {
	if v.Sign() < 0 {
		return 0
	}
	max := new(big.Int).SetUint64(^uint64(0))
	if v.Cmp(max) > 0 {
		return ^uint64(0)
	}
	return v.Uint64()
}

func readU64(data []byte, offset int) (uint64, bool) {
	if offset < 0 || offset+8 > len(data) {
		return 0, false
	}
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(data[offset+i])
	}
	return v, true
}

func readBool(data []byte, offset int) (bool, bool) {
	if offset < 0 || offset >= len(data) {
		return false, false
	}
	return data[offset] != 0, true
}
