// Package dex defines the shared decoder contract of spec §4.5 and a small
// registry so the ingestion coordinator (C6) can dispatch by program ID
// without importing each concrete decoder.
package dex

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"solsniper"
)

// Instruction is a decoder-facing projection of one top-level instruction
// inside a confirmed transaction: resolved account keys plus raw data.
type Instruction struct {
	ProgramID solana.PublicKey
	Accounts  []solana.PublicKey
	Data      []byte
}

// Decoder is implemented by each DEX-specific account/transaction parser
// (spec §4.5). Both operations return (nil, nil) when the input does not
// describe a pool-affecting event recognized by this decoder.
type Decoder interface {
	// ParseAccount inspects one account's raw data, as observed at slot,
	// and yields a PoolEvent when it represents a live or migrated pool.
	ParseAccount(address solana.PublicKey, data []byte, slot uint64) (*solsniper.PoolEvent, error)

	// ParseTransaction inspects one confirmed transaction's top-level
	// instructions and yields a PoolEvent when one of them is a
	// pool-creating instruction this decoder recognizes.
	ParseTransaction(signature solana.Signature, accountKeys []solana.PublicKey, instructions []Instruction, slot uint64) (*solsniper.PoolEvent, error)
}

// Registry dispatches decoding work to the Decoder registered for a given
// DEX and exposes lookup by owning program ID, for C6's account-subscription
// filters.
type Registry struct {
	byDex     map[solsniper.Dex]Decoder
	byProgram map[solana.PublicKey]solsniper.Dex
}

// NewRegistry builds an empty Registry; call Register for each known DEX.
func NewRegistry() *Registry {
	return &Registry{
		byDex:     make(map[solsniper.Dex]Decoder),
		byProgram: make(map[solana.PublicKey]solsniper.Dex),
	}
}

// Register associates a DEX, its on-chain program ID, and the decoder that
// understands its account/instruction layouts.
func (r *Registry) Register(dex solsniper.Dex, programID solana.PublicKey, d Decoder) {
	r.byDex[dex] = d
	r.byProgram[programID] = dex
}

// Decoder returns the decoder registered for dex, or nil if none.
func (r *Registry) Decoder(dex solsniper.Dex) Decoder {
	return r.byDex[dex]
}

// DexForProgram resolves a program ID to the DEX it belongs to.
func (r *Registry) DexForProgram(programID solana.PublicKey) (solsniper.Dex, bool) {
	d, ok := r.byProgram[programID]
	return d, ok
}

// Programs returns every program ID this registry dispatches for, for
// building gRPC/WebSocket subscription filters.
func (r *Registry) Programs() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(r.byProgram))
	for p := range r.byProgram {
		out = append(out, p)
	}
	return out
}

// ParseAccount tries every registered decoder's ParseAccount and returns the
// first non-nil result, used when the owning program of an account update
// is not already known (e.g. a bare AccountInfo payload from polling).
func (r *Registry) ParseAccount(address solana.PublicKey, data []byte, slot uint64) (*solsniper.PoolEvent, error) {
	for _, d := range r.byDex {
		ev, err := d.ParseAccount(address, data, slot)
		if err != nil {
			return nil, err
		}
		if ev != nil {
			return ev, nil
		}
	}
	return nil, nil
}

// InstructionsFromTransaction resolves a decoded transaction's compiled
// instructions into Instruction values with program IDs and accounts
// already looked up, for feeding to Decoder.ParseTransaction.
func InstructionsFromTransaction(tx *solana.Transaction) []Instruction {
	if tx == nil {
		return nil
	}
	keys := tx.Message.AccountKeys
	out := make([]Instruction, 0, len(tx.Message.Instructions))
	for _, ci := range tx.Message.Instructions {
		if int(ci.ProgramIDIndex) >= len(keys) {
			continue
		}
		accounts := make([]solana.PublicKey, 0, len(ci.Accounts))
		for _, idx := range ci.Accounts {
			if int(idx) >= len(keys) {
				continue
			}
			accounts = append(accounts, keys[idx])
		}
		out = append(out, Instruction{
			ProgramID: keys[ci.ProgramIDIndex],
			Accounts:  accounts,
			Data:      []byte(ci.Data),
		})
	}
	return out
}

// matchDiscriminator reports whether data begins with the given 8-byte
// instruction discriminator.
func matchDiscriminator(data []byte, discriminator [8]byte) bool {
	if len(data) < 8 {
		return false
	}
	return [8]byte(data[:8]) == discriminator
}

// readU64LE reads a little-endian uint64 at the given byte offset, or
// returns (0, false) if data is too short.
func readU64LE(data []byte, offset int) (uint64, bool) {
	if offset < 0 || offset+8 > len(data) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(data[offset : offset+8]), true
}

// readU8 reads a single byte at offset, or returns (0, false) if out of range.
func readU8(data []byte, offset int) (uint8, bool) {
	if offset < 0 || offset >= len(data) {
		return 0, false
	}
	return data[offset], true
}

// readPubkey reads a 32-byte public key at offset.
func readPubkey(data []byte, offset int) (solana.PublicKey, bool) {
	if offset < 0 || offset+32 > len(data) {
		return solana.PublicKey{}, false
	}
	var pk solana.PublicKey
	copy(pk[:], data[offset:offset+32])
	return pk, true
}
