// Package solsniper implements an automated on-chain trading pipeline for Solana
// decentralized exchanges: pool detection, risk analysis, bundled execution and
// position management. See SPEC_FULL.md for the full component breakdown.
package solsniper

import (
	"encoding/hex"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Address is the 32-byte opaque identifier shared by mints, pools and vaults.
type Address [32]byte

// ZeroAddress is the all-zero sentinel used where no address is set.
var ZeroAddress = Address{}

// NewAddressFromPublicKey converts a solana-go public key into an Address.
func NewAddressFromPublicKey(pk solana.PublicKey) Address {
	var a Address
	copy(a[:], pk[:])
	return a
}

// PublicKey projects the Address back into a solana-go public key.
func (a Address) PublicKey() solana.PublicKey {
	var pk solana.PublicKey
	copy(pk[:], a[:])
	return pk
}

// String returns the base58 textual form.
func (a Address) String() string {
	return a.PublicKey().String()
}

// IsZero reports whether the address is the zero value.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Hex is a debug helper; base58 (String) is the canonical textual form.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// AddressFromBase58 parses a base58-encoded address.
func AddressFromBase58(s string) (Address, error) {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return Address{}, err
	}
	return NewAddressFromPublicKey(pk), nil
}

// Dex enumerates the DEX families the decoder/risk/executor layers understand.
type Dex int

const (
	DexUnknown Dex = iota
	DexRaydium
	DexPumpfun
	DexOrca
)

func (d Dex) String() string {
	switch d {
	case DexRaydium:
		return "raydium"
	case DexPumpfun:
		return "pumpfun"
	case DexOrca:
		return "orca"
	default:
		return "unknown"
	}
}

// PoolEventKind tags the closed sum type PoolEvent is implemented as (spec §3,
// §9 "prefer a closed sum type over open inheritance").
type PoolEventKind int

const (
	PoolEventNewPool PoolEventKind = iota
	PoolEventMigration
	PoolEventLiquidityAdded
)

// PoolEvent is a tagged-variant record; only the fields relevant to Kind are
// populated. Decoders construct it directly rather than through an event-emitter.
type PoolEvent struct {
	Kind PoolEventKind

	// NewPool fields.
	Dex        Dex
	Mint       Address
	Pool       Address
	BaseMint   Address
	QuoteMint  Address
	BaseVault  Address
	QuoteVault Address
	LPMint     *Address
	OpenTime   *time.Time

	// Migration fields (SourceDex/TargetDex, SourcePool/TargetPool; Mint shared).
	SourceDex  Dex
	TargetDex  Dex
	SourcePool Address
	TargetPool Address

	// LiquidityAdded fields — defined but not consumed by the core pipeline.
	LiquidityBase  *uint64
	LiquidityQuote *uint64

	Slot      uint64
	Signature string
	Timestamp time.Time
}

// RiskFactor is one scored dimension of a RiskAnalysis.
type RiskFactor struct {
	Name     string
	Score    int
	MaxScore int
	Passed   bool
	Details  string
}

// criticalFactorNames enumerates the names that terminate a RiskAnalysis's
// "passed" status regardless of aggregate score (spec §3).
var criticalFactorNames = map[string]bool{
	"honeypot":       true,
	"mint_authority": true,
}

// IsCritical reports whether this factor belongs to the critical set. The
// holder_distribution factor is critical only when its score is below -10,
// per spec §3, so it is evaluated here rather than via the static table.
func (f RiskFactor) IsCritical() bool {
	if criticalFactorNames[f.Name] {
		return !f.Passed
	}
	if f.Name == "holder_distribution" && f.Score < -10 {
		return true
	}
	return false
}

// RiskAnalysis is the result of internal/risk's analyze operation.
type RiskAnalysis struct {
	Score     int
	Passed    bool
	Factors   []RiskFactor
	Warnings  []string
	Timestamp time.Time
}

// NormalizeScore implements spec §3's normalization: round(100 * sum(score) /
// max(sum(max_score), 1)), clamped to [0, 100].
func NormalizeScore(factors []RiskFactor) int {
	var sumScore, sumMax int
	for _, f := range factors {
		sumScore += f.Score
		sumMax += f.MaxScore
	}
	if sumMax < 1 {
		sumMax = 1
	}
	n := int(roundFloat(100 * float64(sumScore) / float64(sumMax)))
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

func roundFloat(v float64) float64 {
	if v < 0 {
		return -roundFloat(-v)
	}
	i := float64(int64(v))
	if v-i >= 0.5 {
		return i + 1
	}
	return i
}

// HasCritical reports whether any factor in the analysis is critical-failed.
func (a RiskAnalysis) HasCritical() bool {
	for _, f := range a.Factors {
		if f.IsCritical() {
			return true
		}
	}
	return false
}

// PositionStatus is the lifecycle state of a Position (spec §3).
type PositionStatus int

const (
	PositionOpen PositionStatus = iota
	PositionClosing
	PositionClosed
)

func (s PositionStatus) String() string {
	switch s {
	case PositionOpen:
		return "open"
	case PositionClosing:
		return "closing"
	case PositionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ExitReason names why a position was (or is being) closed.
type ExitReason int

const (
	ExitNone ExitReason = iota
	ExitTakeProfit
	ExitStopLoss
)

func (r ExitReason) String() string {
	switch r {
	case ExitTakeProfit:
		return "take_profit"
	case ExitStopLoss:
		return "stop_loss"
	default:
		return "none"
	}
}

// Position tracks one open/closing/closed trade. IDs are monotonically
// increasing integer handles (spec §9 "arena-like identity"); ExternalID is
// the stable textual form used in logs.
type Position struct {
	ID           uint64
	ExternalID   string
	Mint         Address
	Pool         Address
	Dex          Dex
	EntryPrice   float64
	EntryTime    time.Time
	Amount       uint64
	SolSpent     float64
	CurrentPrice float64
	PnLPercent   float64
	TPPrice      float64
	SLPrice      float64
	Status       PositionStatus
	EntryTx      string
	ExitTx       string
	ExitReason   ExitReason
}

// ComputeTPSL fills TPPrice/SLPrice from EntryPrice and the configured
// percentages, per spec §3: tp = entry*(1+tp%/100), sl = entry*(1-sl%/100).
func (p *Position) ComputeTPSL(tpPercent, slPercent float64) {
	p.TPPrice = p.EntryPrice * (1 + tpPercent/100)
	p.SLPrice = p.EntryPrice * (1 - slPercent/100)
}
