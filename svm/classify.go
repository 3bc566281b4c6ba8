package svm

import (
	"bytes"
	"encoding/binary"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/amiko-network/x402-facilitator"
)

// InstructionKind is the closed set of operations the introspector cares
// about. Anything else classifies as KindUnknown.
type InstructionKind int

const (
	KindUnknown InstructionKind = iota
	KindComputeUnitLimit
	KindComputeUnitPrice
	KindCreateATA
	KindTransferChecked
	KindRegisterJob
)

func (k InstructionKind) String() string {
	switch k {
	case KindComputeUnitLimit:
		return "compute_unit_limit"
	case KindComputeUnitPrice:
		return "compute_unit_price"
	case KindCreateATA:
		return "create_associated_token_account"
	case KindTransferChecked:
		return "transfer_checked"
	case KindRegisterJob:
		return "register_job"
	default:
		return "unknown"
	}
}

// TransferChecked is a decoded SPL transfer-checked instruction. TokenProgram
// records which of the two token program implementations carries it.
type TransferChecked struct {
	TokenProgram solana.PublicKey
	Source       solana.PublicKey
	Mint         solana.PublicKey
	Destination  solana.PublicKey
	Authority    solana.PublicKey
	Amount       uint64
	Decimals     uint8
}

// CreateATA is a decoded create-associated-token-account instruction.
type CreateATA struct {
	Payer        solana.PublicKey
	Account      solana.PublicKey
	Owner        solana.PublicKey
	Mint         solana.PublicKey
	TokenProgram solana.PublicKey
}

// Classified is the tagged result of classifying one instruction. Exactly
// the fields matching Kind are populated.
type Classified struct {
	Kind             InstructionKind
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64
	Transfer         *TransferChecked
	Create           *CreateATA
}

// Classifier identifies instructions by program address and leading
// discriminator bytes. It is a pure function holder: classifying the same
// bytes twice yields the same result.
type Classifier struct {
	registryProgram solana.PublicKey
	registryDisc    [8]byte
}

// NewClassifier builds a classifier recognizing the given job-registry
// program. A zero program key disables job-registration recognition.
func NewClassifier(registryProgram solana.PublicKey, registryDisc [8]byte) *Classifier {
	return &Classifier{registryProgram: registryProgram, registryDisc: registryDisc}
}

// Classify determines the instruction's kind. Malformed data shorter than
// the expected discriminator width is an error, not a panic; unrecognized
// program/discriminator combinations are KindUnknown.
func (c *Classifier) Classify(ix *Instruction) (Classified, error) {
	switch {
	case ix.ProgramID.Equals(solana.ComputeBudget):
		return classifyComputeBudget(ix)

	case ix.ProgramID.Equals(solana.TokenProgramID) || ix.ProgramID.Equals(solana.Token2022ProgramID):
		return classifyTokenInstruction(ix)

	case ix.ProgramID.Equals(solana.SPLAssociatedTokenAccountProgramID):
		return classifyCreateATA(ix)

	case !c.registryProgram.IsZero() && ix.ProgramID.Equals(c.registryProgram):
		return c.classifyRegistry(ix)

	default:
		return Classified{Kind: KindUnknown}, nil
	}
}

func classifyComputeBudget(ix *Instruction) (Classified, error) {
	if len(ix.Data) < 1 {
		return Classified{}, x402.NewPaymentError(x402.ReasonMalformedTransaction,
			"compute budget instruction with empty data")
	}
	switch ix.Data[0] {
	case computeBudgetSetLimitDiscriminator:
		if len(ix.Data) < 5 {
			return Classified{}, x402.NewPaymentError(x402.ReasonInvalidComputeLimit,
				"set-compute-unit-limit data too short: %d bytes", len(ix.Data))
		}
		return Classified{
			Kind:             KindComputeUnitLimit,
			ComputeUnitLimit: binary.LittleEndian.Uint32(ix.Data[1:5]),
		}, nil
	case computeBudgetSetPriceDiscriminator:
		if len(ix.Data) < 9 {
			return Classified{}, x402.NewPaymentError(x402.ReasonMalformedTransaction,
				"set-compute-unit-price data too short: %d bytes", len(ix.Data))
		}
		return Classified{
			Kind:             KindComputeUnitPrice,
			ComputeUnitPrice: binary.LittleEndian.Uint64(ix.Data[1:9]),
		}, nil
	default:
		return Classified{Kind: KindUnknown}, nil
	}
}

func classifyTokenInstruction(ix *Instruction) (Classified, error) {
	if len(ix.Data) < 1 {
		return Classified{}, x402.NewPaymentError(x402.ReasonMalformedTransaction,
			"token instruction with empty data")
	}
	if ix.Data[0] != tokenTransferCheckedDiscriminator {
		return Classified{Kind: KindUnknown}, nil
	}
	// TransferChecked layout: [disc u8][amount u64 le][decimals u8],
	// accounts [source, mint, destination, authority, ...].
	if len(ix.Data) < 10 {
		return Classified{}, x402.NewPaymentError(x402.ReasonMalformedTransaction,
			"transfer-checked data too short: %d bytes", len(ix.Data))
	}
	if len(ix.Accounts) < 4 {
		return Classified{}, x402.NewPaymentError(x402.ReasonMalformedTransaction,
			"transfer-checked with %d accounts", len(ix.Accounts))
	}
	return Classified{
		Kind: KindTransferChecked,
		Transfer: &TransferChecked{
			TokenProgram: ix.ProgramID,
			Source:       ix.Accounts[0].PublicKey,
			Mint:         ix.Accounts[1].PublicKey,
			Destination:  ix.Accounts[2].PublicKey,
			Authority:    ix.Accounts[3].PublicKey,
			Amount:       binary.LittleEndian.Uint64(ix.Data[1:9]),
			Decimals:     ix.Data[9],
		},
	}, nil
}

func classifyCreateATA(ix *Instruction) (Classified, error) {
	// Create and CreateIdempotent: empty data or a single discriminator
	// byte (0 or 1); accounts [payer, ata, owner, mint, system, token].
	if len(ix.Data) > 1 || (len(ix.Data) == 1 && ix.Data[0] > 1) {
		return Classified{Kind: KindUnknown}, nil
	}
	if len(ix.Accounts) < 6 {
		return Classified{}, x402.NewPaymentError(x402.ReasonMalformedTransaction,
			"create-ata with %d accounts", len(ix.Accounts))
	}
	return Classified{
		Kind: KindCreateATA,
		Create: &CreateATA{
			Payer:        ix.Accounts[0].PublicKey,
			Account:      ix.Accounts[1].PublicKey,
			Owner:        ix.Accounts[2].PublicKey,
			Mint:         ix.Accounts[3].PublicKey,
			TokenProgram: ix.Accounts[5].PublicKey,
		},
	}, nil
}

func (c *Classifier) classifyRegistry(ix *Instruction) (Classified, error) {
	if len(ix.Data) < 8 {
		return Classified{}, x402.NewPaymentError(x402.ReasonMalformedTransaction,
			"registry instruction data too short: %d bytes", len(ix.Data))
	}
	if !bytes.Equal(ix.Data[:8], c.registryDisc[:]) {
		return Classified{Kind: KindUnknown}, nil
	}
	return Classified{Kind: KindRegisterJob}, nil
}
