package svm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/shopspring/decimal"

	x402 "github.com/amiko-network/x402-facilitator"
)

// Builder failure modes surfaced to the prepare endpoint.
var (
	ErrFeePayerRequired    = errors.New("feePayer is required in paymentRequirements.extra")
	ErrUnknownTokenProgram = errors.New("asset was not created by a known token program")
)

// Builder assembles unsigned payment transactions: the canonical instruction
// sequence the introspector validates against. Client and facilitator derive
// the identical sequence from the same requirements.
type Builder struct {
	client LedgerClient
	cfg    Config
}

func NewBuilder(client LedgerClient, cfg Config) *Builder {
	return &Builder{client: client, cfg: cfg}
}

// BuildUnsignedTransaction assembles, in this exact fixed order:
// set-compute-unit-limit, set-compute-unit-price, optional
// create-associated-token-account (only when the destination does not yet
// exist), transfer-checked for the exact required amount, and an optional
// job-registration instruction when trustless mode is enabled.
func (b *Builder) BuildUnsignedTransaction(
	ctx context.Context,
	payer solana.PublicKey,
	requirements *x402.PaymentRequirements,
	enableTrustless bool,
) (*solana.Transaction, error) {
	feePayerAddr := requirements.FeePayer()
	if feePayerAddr == "" {
		return nil, ErrFeePayerRequired
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid feePayer address: %w", err)
	}
	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, fmt.Errorf("invalid payTo address: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return nil, fmt.Errorf("invalid asset address: %w", err)
	}
	amount, err := requirements.AmountRequired()
	if err != nil {
		return nil, fmt.Errorf("invalid maxAmountRequired: %w", err)
	}

	mintAccount, err := b.client.GetAccountInfo(ctx, mint)
	if err != nil || mintAccount == nil || mintAccount.Value == nil {
		return nil, fmt.Errorf("fetch mint account %s: %w", mint, err)
	}
	tokenProgram := mintAccount.Value.Owner
	if !tokenProgram.Equals(solana.TokenProgramID) && !tokenProgram.Equals(solana.Token2022ProgramID) {
		return nil, ErrUnknownTokenProgram
	}

	var mintData token.Mint
	if err := bin.NewBinDecoder(mintAccount.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return nil, fmt.Errorf("decode mint data: %w", err)
	}

	sourceATA, err := DeriveATA(payer, mint, tokenProgram)
	if err != nil {
		return nil, err
	}
	destinationATA, err := DeriveATA(payTo, mint, tokenProgram)
	if err != nil {
		return nil, err
	}

	destExists, err := b.accountExists(ctx, destinationATA)
	if err != nil {
		return nil, err
	}

	latest, err := b.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("fetch latest blockhash: %w", err)
	}

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(DefaultComputeUnitLimit).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute limit instruction: %w", err)
	}
	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(DefaultComputeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return nil, fmt.Errorf("build compute price instruction: %w", err)
	}

	builder := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice)

	// The client funds account creation. The fee payer cannot appear in the
	// create instruction or the introspector would reject the transaction.
	if !destExists {
		builder.AddInstruction(newCreateATAInstruction(payer, destinationATA, payTo, mint, tokenProgram))
	}

	builder.AddInstruction(newTransferCheckedInstruction(
		tokenProgram, sourceATA, mint, destinationATA, payer, amount, mintData.Decimals,
	))

	if enableTrustless && !b.cfg.registryProgram().IsZero() {
		registerJob, err := NewRegisterJobInstruction(
			b.cfg.registryProgram(),
			b.cfg.registryDiscriminator(),
			NewJobSeed(),
			payTo,
			payer,
			feePayer,
			amount,
		)
		if err != nil {
			return nil, err
		}
		builder.AddInstruction(registerJob)
	}

	tx, err := builder.
		SetRecentBlockHash(latest.Value.Blockhash).
		SetFeePayer(feePayer).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}
	return tx, nil
}

func (b *Builder) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	res, err := b.client.GetMultipleAccounts(ctx, account)
	if err != nil {
		return false, fmt.Errorf("account existence lookup: %w", err)
	}
	return res != nil && len(res.Value) == 1 && res.Value[0] != nil, nil
}

// newCreateATAInstruction builds a create-idempotent associated token account
// instruction. Constructed by hand because the library builder only targets
// the legacy token program.
func newCreateATAInstruction(payer, ata, owner, mint, tokenProgram solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		solana.AccountMetaSlice{
			solana.Meta(payer).WRITE().SIGNER(),
			solana.Meta(ata).WRITE(),
			solana.Meta(owner),
			solana.Meta(mint),
			solana.Meta(solana.SystemProgramID),
			solana.Meta(tokenProgram),
		},
		[]byte{1},
	)
}

// newTransferCheckedInstruction builds a transfer-checked instruction under
// either token program.
func newTransferCheckedInstruction(
	tokenProgram, source, mint, destination, owner solana.PublicKey,
	amount uint64,
	decimals uint8,
) solana.Instruction {
	data := make([]byte, 10)
	data[0] = tokenTransferCheckedDiscriminator
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals

	return solana.NewInstruction(
		tokenProgram,
		solana.AccountMetaSlice{
			solana.Meta(source).WRITE(),
			solana.Meta(mint),
			solana.Meta(destination).WRITE(),
			solana.Meta(owner).SIGNER(),
		},
		data,
	)
}

// ParseAmount converts a human-readable decimal amount into the asset's
// smallest unit.
func ParseAmount(amount string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	scaled := d.Shift(int32(decimals))
	if scaled.IsNegative() || !scaled.IsInteger() {
		return 0, fmt.Errorf("amount %q is not representable in %d decimals", amount, decimals)
	}
	big := scaled.BigInt()
	if !big.IsUint64() {
		return 0, fmt.Errorf("amount %q overflows uint64", amount)
	}
	return big.Uint64(), nil
}
