package executor

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Well-known program IDs referenced by the hand-built instructions below.
// internal/dex hand-rolls account/instruction *decoding* for the same
// reason this package hand-rolls instruction *building*: the exact builder
// APIs exposed by solana-go's programs/* subpackages cannot be verified
// against a live toolchain here, whereas the on-chain wire format (8-byte
// discriminators, fixed-offset LE fields) is public and stable — see
// DESIGN.md.
var (
	computeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	associatedTokenProgram = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

const (
	computeBudgetTagSetUnitLimit = 2
	computeBudgetTagSetUnitPrice = 3
)

// borshEncodeU8U32 and borshEncodeU8U64 build a [1-byte tag][LE value]
// instruction payload via gagliardetto/binary's Borsh encoder, exercising
// the library for instruction-data construction (decoding in internal/dex
// stays hand-rolled per DESIGN.md; encoding fixed small integer payloads is
// exactly Borsh's niche).
func borshEncodeU8U32(tag uint8, v uint32) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint8(tag); err != nil {
		return nil, err
	}
	if err := enc.WriteUint32(v, bin.LE); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func borshEncodeU8U64(tag uint8, v uint64) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint8(tag); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(v, bin.LE); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setComputeUnitLimitInstruction(units uint32) solana.Instruction {
	data, err := borshEncodeU8U32(computeBudgetTagSetUnitLimit, units)
	if err != nil {
		data = []byte{computeBudgetTagSetUnitLimit}
	}
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

func setComputeUnitPriceInstruction(microLamports uint64) solana.Instruction {
	data, err := borshEncodeU8U64(computeBudgetTagSetUnitPrice, microLamports)
	if err != nil {
		data = []byte{computeBudgetTagSetUnitPrice}
	}
	return solana.NewInstruction(computeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// transferInstruction builds a system-program lamport transfer. The system
// program's instruction discriminator is a 4-byte little-endian u32 (index
// 2 = Transfer), distinct from the 1-byte tags used above.
func transferInstruction(from, to solana.PublicKey, lamports uint64) solana.Instruction {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	_ = enc.WriteUint32(2, bin.LE)
	_ = enc.WriteUint64(lamports, bin.LE)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(from, true, true),
		solana.NewAccountMeta(to, true, false),
	}
	return solana.NewInstruction(solana.SystemProgramID, accounts, buf.Bytes())
}

// createAssociatedTokenAccountInstruction builds an idempotent ATA-create
// instruction: payer funds it, owner will hold it, mint is the token mint.
func createAssociatedTokenAccountInstruction(payer, owner, mint, ata solana.PublicKey) solana.Instruction {
	const createIdempotentTag = 1
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(ata, true, false),
		solana.NewAccountMeta(owner, false, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}
	return solana.NewInstruction(associatedTokenProgram, accounts, []byte{createIdempotentTag})
}

// sendWithRetry submits tx directly through C4 with skip-preflight and up to
// cfg.MaxFallbackRetries exponential-backoff retries (spec §4.8 step 7).
func (e *Executor) sendWithRetry(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 250 * time.Millisecond
	policy.MaxInterval = 4 * time.Second

	return backoff.Retry(ctx, func() (solana.Signature, error) {
		sig, err := e.rpcMgr.SendTransaction(ctx, tx, rpc.TransactionOpts{SkipPreflight: true})
		if err != nil {
			return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
		}
		return sig, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(e.cfg.MaxFallbackRetries+1))
}
