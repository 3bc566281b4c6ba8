package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	x402 "github.com/amiko-network/x402-facilitator"
)

// Introspection is the proof extracted from a structurally valid payment
// transaction.
type Introspection struct {
	// Payer is the transfer authority, i.e. the client paying.
	Payer solana.PublicKey
	// Transfer is the decoded transfer-checked instruction.
	Transfer *TransferChecked
	// HasCreateATA records whether the transaction creates the destination
	// token account.
	HasCreateATA bool
	// HasJobRegistration records whether the final instruction registers a
	// job with the trustless registry.
	HasJobRegistration bool
	// DestinationATA is the expected destination derived from
	// (asset, payTo, token program).
	DestinationATA solana.PublicKey
}

// DeriveATA computes the associated token account of owner for mint under
// the given token program. This is the only destination the facilitator
// accepts funds to be sent to.
func DeriveATA(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{owner.Bytes(), tokenProgram.Bytes(), mint.Bytes()},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive ata: %w", err)
	}
	return addr, nil
}

// Introspector walks a decompiled transaction and enforces the structural
// payment contract. Every position is re-derived from instruction content;
// client-declared ordering is only trusted after it matches the required
// shape. Account existence is the single ledger round trip, performed after
// all purely structural checks.
type Introspector struct {
	client LedgerClient
	cfg    Config
}

func NewIntrospector(client LedgerClient, cfg Config) *Introspector {
	return &Introspector{client: client, cfg: cfg}
}

// Introspect validates the transaction against the requirements and the
// facilitator fee payer. All rejections are *x402.PaymentError values with
// stable reason codes; any other error is an infrastructure fault.
func (in *Introspector) Introspect(
	ctx context.Context,
	tx *solana.Transaction,
	requirements *x402.PaymentRequirements,
	feePayer solana.PublicKey,
) (*Introspection, error) {
	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, fmt.Errorf("invalid payTo address: %w", err)
	}
	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return nil, fmt.Errorf("invalid asset address: %w", err)
	}
	amountRequired, err := requirements.AmountRequired()
	if err != nil {
		return nil, fmt.Errorf("invalid maxAmountRequired: %w", err)
	}

	instructions, err := Decompile(tx)
	if err != nil {
		return nil, err
	}

	classifier := in.cfg.classifier()

	// The job-registration instruction, when present, is always last;
	// its presence shifts the allowed instruction count by one.
	hasJobRegistration := false
	if len(instructions) > 0 {
		last := &instructions[len(instructions)-1]
		if classified, cerr := classifier.Classify(last); cerr == nil && classified.Kind == KindRegisterJob {
			hasJobRegistration = true
		}
	}

	count := len(instructions)
	minCount, maxCount := 3, 4
	if hasJobRegistration {
		minCount, maxCount = 4, 5
	}
	if count < minCount || count > maxCount {
		return nil, x402.NewPaymentError(x402.ReasonInvalidInstructionCount,
			"expected %d-%d instructions, got %d", minCount, maxCount, count)
	}

	// Both derive from the count alone: a create-token-account instruction
	// is present exactly when the count exceeds the minimal shape, and the
	// transfer sits immediately after it.
	hasCreateATA := count == maxCount
	transferPos := 2
	if hasCreateATA {
		transferPos = 3
	}

	// Instruction 0: set-compute-unit-limit.
	limit, err := classifier.Classify(&instructions[0])
	if err != nil || limit.Kind != KindComputeUnitLimit {
		return nil, x402.NewPaymentError(x402.ReasonInvalidComputeLimit,
			"instruction 0 is %s, want compute unit limit", kindOf(limit, err))
	}

	// Instruction 1: set-compute-unit-price, bounded by the fee ceiling.
	price, err := classifier.Classify(&instructions[1])
	if err != nil || price.Kind != KindComputeUnitPrice {
		return nil, x402.NewPaymentError(x402.ReasonInvalidComputeLimit,
			"instruction 1 is %s, want compute unit price", kindOf(price, err))
	}
	if price.ComputeUnitPrice > MaxComputeUnitPrice {
		return nil, x402.NewPaymentError(x402.ReasonComputePriceTooHigh,
			"compute unit price %d exceeds ceiling %d", price.ComputeUnitPrice, MaxComputeUnitPrice)
	}

	// The fee payer must not appear inside any instruction except the
	// final job registration, where it legitimately signs as the account
	// funding the job record. At the transfer position, a transfer whose
	// authority is the fee payer gets the more specific rejection; any
	// other fee-payer reference is the general exclusion violation.
	for i := range instructions {
		if hasJobRegistration && i == len(instructions)-1 {
			continue
		}
		if i == transferPos {
			c, cerr := classifier.Classify(&instructions[i])
			if cerr == nil && c.Kind == KindTransferChecked && c.Transfer.Authority.Equals(feePayer) {
				return nil, x402.NewPaymentError(x402.ReasonFeePayerTransferringFund,
					"fee payer %s is the transfer authority", feePayer)
			}
		}
		if instructions[i].HasAccount(feePayer) {
			return nil, x402.NewPaymentError(x402.ReasonFeePayerInInstruction,
				"fee payer %s referenced by instruction %d", feePayer, i)
		}
	}

	// The optional create-token-account instruction occupies position 2.
	var created *CreateATA
	if hasCreateATA {
		classified, cerr := classifier.Classify(&instructions[2])
		if cerr != nil || classified.Kind != KindCreateATA {
			return nil, x402.NewPaymentError(x402.ReasonCreateATAIncorrectPayee,
				"instruction 2 is %s, want create associated token account", kindOf(classified, cerr))
		}
		created = classified.Create
		if !created.Owner.Equals(payTo) {
			return nil, x402.NewPaymentError(x402.ReasonCreateATAIncorrectPayee,
				"create-ata owner %s, want %s", created.Owner, payTo)
		}
		if !created.Mint.Equals(mint) {
			return nil, x402.NewPaymentError(x402.ReasonCreateATAIncorrectAsset,
				"create-ata mint %s, want %s", created.Mint, mint)
		}
	}

	classified, cerr := classifier.Classify(&instructions[transferPos])
	if cerr != nil || classified.Kind != KindTransferChecked {
		return nil, x402.NewPaymentError(x402.ReasonNoTransferInstruction,
			"instruction %d is %s, want transfer-checked", transferPos, kindOf(classified, cerr))
	}
	transfer := classified.Transfer

	expectedDest, err := DeriveATA(payTo, mint, transfer.TokenProgram)
	if err != nil {
		return nil, err
	}
	if !transfer.Destination.Equals(expectedDest) {
		return nil, x402.NewPaymentError(x402.ReasonTransferToIncorrectATA,
			"transfer destination %s, want %s", transfer.Destination, expectedDest)
	}

	// Single batched existence lookup for both token accounts. The
	// destination may legitimately be absent only when this transaction
	// creates it.
	accounts, err := in.client.GetMultipleAccounts(ctx, transfer.Source, transfer.Destination)
	if err != nil {
		return nil, fmt.Errorf("account existence lookup: %w", err)
	}
	if accounts == nil || len(accounts.Value) != 2 {
		return nil, fmt.Errorf("account existence lookup returned unexpected shape")
	}
	if accounts.Value[0] == nil {
		return nil, x402.NewPaymentError(x402.ReasonSenderATANotFound,
			"source token account %s does not exist", transfer.Source)
	}
	if accounts.Value[1] == nil && !hasCreateATA {
		return nil, x402.NewPaymentError(x402.ReasonReceiverATANotFound,
			"destination token account %s does not exist and is not being created", transfer.Destination)
	}

	if transfer.Amount != amountRequired {
		return nil, x402.NewPaymentError(x402.ReasonAmountMismatch,
			"transferred %d, required %d", transfer.Amount, amountRequired)
	}

	return &Introspection{
		Payer:              transfer.Authority,
		Transfer:           transfer,
		HasCreateATA:       hasCreateATA,
		HasJobRegistration: hasJobRegistration,
		DestinationATA:     expectedDest,
	}, nil
}

func kindOf(c Classified, err error) string {
	if err != nil {
		return "malformed"
	}
	return c.Kind.String()
}
