package executor

import (
	"bytes"
	"context"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"solsniper/internal/dex/pumpfun"
)

const bpsDenominator = 10_000

// buildPumpfunSwap builds a buy or sell instruction set for a Pumpfun
// bonding curve (spec §4.8 step 2): one batched read of the curve and the
// user's associated token account, slippage-bounded min_tokens/min_sol, and
// an ATA-create instruction prepended when the user's ATA does not exist
// yet.
func (e *Executor) buildPumpfunSwap(ctx context.Context, req Request) (*swapPlan, error) {
	mint := req.Mint.PublicKey()
	curveAddr := req.Pool.PublicKey()
	wallet := e.cfg.Wallet.PublicKey()

	userATA, _, err := solana.FindAssociatedTokenAddress(wallet, mint)
	if err != nil {
		return nil, fmt.Errorf("derive user ata: %w", err)
	}
	associatedCurve, _, err := solana.FindAssociatedTokenAddress(curveAddr, mint)
	if err != nil {
		return nil, fmt.Errorf("derive curve ata: %w", err)
	}

	infos, err := e.rpcMgr.GetMultipleAccountInfos(ctx, []solana.PublicKey{curveAddr, userATA})
	if err != nil {
		return nil, fmt.Errorf("batched curve/ata read: %w", err)
	}
	if infos[0] == nil {
		return nil, fmt.Errorf("bonding curve account %s not found", curveAddr)
	}
	curve, ok := pumpfun.DecodeCurve(infos[0].Data)
	if !ok {
		return nil, fmt.Errorf("decode bonding curve %s", curveAddr)
	}
	userATAExists := infos[1] != nil

	global, _, err := solana.FindProgramAddress([][]byte{pumpfun.GlobalSeed}, pumpfun.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive global pda: %w", err)
	}
	eventAuthority, _, err := solana.FindProgramAddress([][]byte{pumpfun.EventAuthoritySeed}, pumpfun.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive event authority pda: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(global, false, false),
		solana.NewAccountMeta(e.cfg.FeeRecipient, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(curveAddr, true, false),
		solana.NewAccountMeta(associatedCurve, true, false),
		solana.NewAccountMeta(userATA, true, false),
		solana.NewAccountMeta(wallet, true, true),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		solana.NewAccountMeta(eventAuthority, false, false),
		solana.NewAccountMeta(pumpfun.ProgramID, false, false),
	}

	var instructions []solana.Instruction
	if !userATAExists {
		instructions = append(instructions, createAssociatedTokenAccountInstruction(wallet, wallet, mint, userATA))
	}

	price := curve.SpotPrice()
	slippageBps := req.SlippageBps

	switch req.Side {
	case SideBuy:
		expectedTokens := curve.BuyOutput(req.AmountLamports)
		minTokens := expectedTokens * uint64(bpsDenominator-slippageBps) / bpsDenominator
		data, err := encodeSwapArgs(pumpfun.BuyDiscriminator(), req.AmountLamports, minTokens)
		if err != nil {
			return nil, fmt.Errorf("encode buy args: %w", err)
		}
		instructions = append(instructions, solana.NewInstruction(pumpfun.ProgramID, accounts, data))
	case SideSell:
		expectedLamports := curve.SellOutput(req.AmountLamports)
		minSol := expectedLamports * uint64(bpsDenominator-slippageBps) / bpsDenominator
		data, err := encodeSwapArgs(pumpfun.SellDiscriminator(), req.AmountLamports, minSol)
		if err != nil {
			return nil, fmt.Errorf("encode sell args: %w", err)
		}
		instructions = append(instructions, solana.NewInstruction(pumpfun.ProgramID, accounts, data))
	default:
		return nil, fmt.Errorf("unknown side %v", req.Side)
	}

	return &swapPlan{Instructions: instructions, Price: price}, nil
}

// encodeSwapArgs Borsh-encodes a Pumpfun buy/sell instruction payload:
// 8-byte discriminator + amount(u64) + limit(u64), where limit is
// min_tokens for a buy and min_sol for a sell.
func encodeSwapArgs(discriminator [8]byte, amount, limit uint64) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(discriminator[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(amount, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(limit, bin.LE); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
