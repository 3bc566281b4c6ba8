package svm

import (
	"context"
	"fmt"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	x402 "github.com/amiko-network/x402-facilitator"
)

// FacilitatorSigner signs transactions with the facilitator's fee-payer key.
type FacilitatorSigner interface {
	Address() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// CustodyChecker answers whether a wallet's keys are held by the custodial
// service. Implementations must fail open: lookup errors mean "not
// custodial", never a blocked settlement.
type CustodyChecker interface {
	IsCustodialWallet(ctx context.Context, address string) bool
}

// CustodialSigner has the custodial service sign a prepared transaction with
// the wallet's own key. Both arguments and the result are base58 wire
// transactions.
type CustodialSigner interface {
	SignWithWallet(ctx context.Context, walletAddress, transactionBase58 string) (string, error)
}

// LocalSigner is a FacilitatorSigner backed by an in-process ed25519 key.
type LocalSigner struct {
	key solana.PrivateKey
}

// NewLocalSigner builds a signer from a base58-encoded private key.
func NewLocalSigner(privateKeyBase58 string) (*LocalSigner, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid facilitator private key: %w", err)
	}
	return &LocalSigner{key: key}, nil
}

func (s *LocalSigner) Address() solana.PublicKey { return s.key.PublicKey() }

// SignTransaction adds the signer's signature at its account index, keeping
// every signature already present.
func (s *LocalSigner) SignTransaction(_ context.Context, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	signature, err := s.key.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("sign message: %w", err)
	}
	index, err := tx.GetAccountIndex(s.key.PublicKey())
	if err != nil {
		return fmt.Errorf("signer not in transaction: %w", err)
	}
	if len(tx.Signatures) <= int(index) {
		grown := make([]solana.Signature, index+1)
		copy(grown, tx.Signatures)
		tx.Signatures = grown
	}
	tx.Signatures[index] = signature
	return nil
}

// SignerCoordinator completes partial signing before broadcast. Non-custodial
// flows get the facilitator's co-signature plus a full-coverage assertion;
// custodial flows skip both, since the custodial service already produced
// every signature it owns and the facilitator cannot observe that step.
type SignerCoordinator struct {
	signer  FacilitatorSigner
	custody CustodyChecker
	log     *zap.Logger
}

func NewSignerCoordinator(signer FacilitatorSigner, custody CustodyChecker, log *zap.Logger) *SignerCoordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &SignerCoordinator{signer: signer, custody: custody, log: log}
}

// IsCustodial reports whether settlement for this payer is delegated to the
// custodial service. The requirements flag short-circuits the registry
// lookup; registry unavailability defaults to the non-custodial path.
func (c *SignerCoordinator) IsCustodial(ctx context.Context, requirements *x402.PaymentRequirements, payer solana.PublicKey) bool {
	if requirements.IsCrossmintWallet() {
		return true
	}
	if c.custody == nil {
		return false
	}
	return c.custody.IsCustodialWallet(ctx, payer.String())
}

// CompleteSigning finishes the signature set for broadcast. For custodial
// transactions it must not re-sign over the custodial signatures.
func (c *SignerCoordinator) CompleteSigning(ctx context.Context, tx *solana.Transaction, custodial bool) error {
	if custodial {
		return nil
	}
	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return fmt.Errorf("facilitator co-sign: %w", err)
	}
	return c.assertFullySigned(tx)
}

// assertFullySigned verifies every required signer produced a signature.
func (c *SignerCoordinator) assertFullySigned(tx *solana.Transaction) error {
	required := int(tx.Message.Header.NumRequiredSignatures)
	if required > len(tx.Message.AccountKeys) {
		return x402.NewPaymentError(x402.ReasonMalformedTransaction,
			"header requires %d signatures but message has %d accounts", required, len(tx.Message.AccountKeys))
	}

	var missing []string
	for i := 0; i < required; i++ {
		if i >= len(tx.Signatures) || tx.Signatures[i].IsZero() {
			missing = append(missing, tx.Message.AccountKeys[i].String())
		}
	}
	if len(missing) > 0 {
		return x402.NewPaymentError(x402.ReasonMissingSignatures,
			"missing signatures: %s", strings.Join(missing, ", "))
	}
	return nil
}
