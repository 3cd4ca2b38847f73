package risk

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"
)

// SPL Token (and Token-2022) base Mint account layout: a 4-byte COption
// discriminant + 32-byte pubkey for each of mint_authority/freeze_authority,
// an 8-byte supply, a 1-byte decimals, and a 1-byte is_initialized flag.
const (
	mintLayoutLen           = 82
	offMintAuthorityFlag    = 0
	offMintAuthorityPubkey  = 4
	offSupply               = 36
	offDecimals             = 44
	offIsInitialized        = 45
	offFreezeAuthorityFlag  = 46
	offFreezeAuthorityPubkey = 50

	// token2022AccountTypeOffset marks a Mint (vs. Account) in the 1-byte
	// discriminator Token-2022 appends right after the base layout, before
	// any TLV extensions.
	token2022AccountTypeOffset = 82
	token2022ExtensionsStart   = 83
	token2022AccountTypeMint   = 1
)

// mintState is the decoded subset of a Mint account this package reads.
type mintState struct {
	MintAuthority   *solana.PublicKey
	FreezeAuthority *solana.PublicKey
	Supply          uint64
	Decimals        uint8
	HasExtensions   bool
	ExtensionData   []byte
}

func parseMintAccount(data []byte) (*mintState, bool) {
	if len(data) < mintLayoutLen {
		return nil, false
	}
	m := &mintState{
		Supply:   binary.LittleEndian.Uint64(data[offSupply : offSupply+8]),
		Decimals: data[offDecimals],
	}
	if binary.LittleEndian.Uint32(data[offMintAuthorityFlag:offMintAuthorityFlag+4]) != 0 {
		var pk solana.PublicKey
		copy(pk[:], data[offMintAuthorityPubkey:offMintAuthorityPubkey+32])
		m.MintAuthority = &pk
	}
	if binary.LittleEndian.Uint32(data[offFreezeAuthorityFlag:offFreezeAuthorityFlag+4]) != 0 {
		var pk solana.PublicKey
		copy(pk[:], data[offFreezeAuthorityPubkey:offFreezeAuthorityPubkey+32])
		m.FreezeAuthority = &pk
	}
	if len(data) > token2022AccountTypeOffset && data[token2022AccountTypeOffset] == token2022AccountTypeMint {
		m.HasExtensions = true
		if len(data) > token2022ExtensionsStart {
			m.ExtensionData = data[token2022ExtensionsStart:]
		}
	}
	return m, true
}

// ExtensionType enumerates the spl-token-2022 extension type tags this
// package cares about (spec §4.7).
type ExtensionType uint16

const (
	ExtTransferFeeConfig    ExtensionType = 1
	ExtMintCloseAuthority   ExtensionType = 3
	ExtDefaultAccountState  ExtensionType = 6
	ExtNonTransferable      ExtensionType = 9
	ExtPermanentDelegate    ExtensionType = 12
	ExtTransferHook         ExtensionType = 14
)

// Extension is one decoded TLV entry from a Token-2022 mint's extension list.
type Extension struct {
	Type  ExtensionType
	Value []byte
}

// parseExtensions walks the TLV (type u16, length u16, value) list that
// follows the base Mint layout on a Token-2022 mint account.
func parseExtensions(data []byte) []Extension {
	var out []Extension
	offset := 0
	for offset+4 <= len(data) {
		typ := binary.LittleEndian.Uint16(data[offset : offset+2])
		length := binary.LittleEndian.Uint16(data[offset+2 : offset+4])
		offset += 4
		if offset+int(length) > len(data) {
			break
		}
		out = append(out, Extension{Type: ExtensionType(typ), Value: data[offset : offset+int(length)]})
		offset += int(length)
	}
	return out
}

// transferFeeBasisPoints reads a TransferFeeConfig extension's "newer
// transfer fee" basis-points field, per the upstream TransferFeeConfig
// layout (two 32-byte authorities, withheld_amount u64, then older/newer fee
// records of {epoch u64, maximum_fee u64, transfer_fee_basis_points u16}).
func transferFeeBasisPoints(value []byte) (uint16, bool) {
	const newerFeeBpsOffset = 32 + 32 + 8 + 18 + 8 + 8 // authorities, withheld amount, older fee record, newer epoch+max_fee
	if len(value) < newerFeeBpsOffset+2 {
		return 0, false
	}
	return binary.LittleEndian.Uint16(value[newerFeeBpsOffset : newerFeeBpsOffset+2]), true
}

func defaultAccountStateIsFrozen(value []byte) bool {
	return len(value) >= 1 && value[0] == 2 // AccountState::Frozen == 2
}
