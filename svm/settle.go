package svm

import (
	"context"
	"errors"
	"fmt"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	x402 "github.com/amiko-network/x402-facilitator"
)

// blockhashPollInterval is how often the confirmation loop re-checks whether
// the transaction's validity window has lapsed.
const blockhashPollInterval = 2 * time.Second

// SettlementEngine drives a verified payment through signing, a single
// broadcast, and confirmation. Exactly one broadcast attempt is made per
// call; callers retrying after a soft failure must prepare a fresh
// transaction with a new blockhash.
type SettlementEngine struct {
	client      LedgerClient
	stream      ConfirmationStream
	verifier    *Verifier
	coordinator *SignerCoordinator
	cfg         Config
	log         *zap.Logger
}

func NewSettlementEngine(
	client LedgerClient,
	stream ConfirmationStream,
	verifier *Verifier,
	coordinator *SignerCoordinator,
	cfg Config,
	log *zap.Logger,
) *SettlementEngine {
	if log == nil {
		log = zap.NewNop()
	}
	return &SettlementEngine{
		client:      client,
		stream:      stream,
		verifier:    verifier,
		coordinator: coordinator,
		cfg:         cfg,
		log:         log,
	}
}

// Settle runs the state machine: Verifying, Signing, Submitting, Confirming.
// No step is skipped or reordered; nothing is broadcast when verification
// fails.
func (e *SettlementEngine) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) x402.SettleResponse {
	fail := func(reason x402.ErrorKind, payer string) x402.SettleResponse {
		return x402.SettleResponse{
			Success:     false,
			ErrorReason: reason,
			Network:     requirements.Network,
			Payer:       payer,
		}
	}

	// Verifying.
	verification := e.verifier.Verify(ctx, payload, requirements)
	if !verification.IsValid {
		return fail(verification.InvalidReason, verification.Payer)
	}

	tx, err := DecodeTransaction(payload.Payload.Transaction)
	if err != nil {
		// Verification already decoded this payload; reaching here means
		// the payload changed between steps, which cannot happen for an
		// immutable payload.
		return fail(x402.ReasonOf(err, x402.ReasonMalformedTransaction), verification.Payer)
	}

	// Signing.
	custodial := e.custodialPayer(ctx, &requirements, verification.Payer)
	if err := e.coordinator.CompleteSigning(ctx, tx, custodial); err != nil {
		if x402.IsExpectedRejection(err) {
			return fail(x402.ReasonOf(err, x402.ReasonMissingSignatures), verification.Payer)
		}
		e.log.Error("signing failed", zap.Error(err))
		return fail(x402.ReasonUnexpectedSettleError, verification.Payer)
	}

	// Submitting. Preflight is skipped: the introspector and simulation
	// already validated the transaction, and the ledger rejects invalid
	// ones at execution.
	sig, err := e.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		e.log.Warn("broadcast failed", zap.Error(err))
		return fail(x402.ReasonBroadcastFailed, verification.Payer)
	}

	res := x402.SettleResponse{
		Transaction: sig.String(),
		Network:     requirements.Network,
		Payer:       verification.Payer,
	}
	if jobID, ok := ExtractJobID(tx, e.cfg); ok {
		res.JobID = jobID.String()
	}

	// Confirming.
	if err := e.confirm(ctx, sig, tx.Message.RecentBlockhash); err != nil {
		if x402.IsExpectedRejection(err) {
			res.ErrorReason = x402.ReasonOf(err, x402.ReasonUnexpectedSettleError)
			return res
		}
		// Infrastructure fault, not a payment-validity fact.
		e.log.Error("confirmation error", zap.String("signature", sig.String()), zap.Error(err))
		res.ErrorReason = x402.ReasonUnexpectedSettleError
		return res
	}

	res.Success = true
	return res
}

// custodialPayer decides whether signing is delegated to the custodial
// service. An unparseable payer address falls back to the non-custodial path
// rather than querying custody for the zero address.
func (e *SettlementEngine) custodialPayer(ctx context.Context, requirements *x402.PaymentRequirements, payerAddr string) bool {
	if !e.cfg.AllowCrossmintWallets {
		return false
	}
	payer, err := solana.PublicKeyFromBase58(payerAddr)
	if err != nil {
		e.log.Warn("invalid payer address in custody check", zap.String("payer", payerAddr), zap.Error(err))
		return false
	}
	return e.coordinator.IsCustodial(ctx, requirements, payer)
}

// confirm races the signature-confirmation stream against the transaction's
// blockhash validity window and a fixed wall-clock timeout. All in-flight
// subscriptions are torn down on exit.
func (e *SettlementEngine) confirm(ctx context.Context, sig solana.Signature, blockhash solana.Hash) error {
	ctx, cancel := context.WithTimeout(ctx, ConfirmTimeout)
	defer cancel()

	sub, err := e.stream.SignatureSubscribe(sig, rpc.CommitmentConfirmed)
	if err != nil {
		return fmt.Errorf("signature subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	type recvResult struct {
		err      interface{}
		streamEr error
	}
	recvCh := make(chan recvResult, 1)
	go func() {
		got, rerr := sub.Recv(ctx)
		if rerr != nil {
			recvCh <- recvResult{streamEr: rerr}
			return
		}
		recvCh <- recvResult{err: got.Value.Err}
	}()

	ticker := time.NewTicker(blockhashPollInterval)
	defer ticker.Stop()

	for {
		select {
		case got := <-recvCh:
			if got.streamEr != nil {
				if errors.Is(got.streamEr, context.DeadlineExceeded) {
					return x402.NewPaymentError(x402.ReasonConfirmationTimedOut,
						"no confirmation within %s", ConfirmTimeout)
				}
				return fmt.Errorf("confirmation stream: %w", got.streamEr)
			}
			if got.err != nil {
				return x402.NewPaymentError(x402.ReasonTransactionFailed,
					"transaction failed on chain: %v", got.err)
			}
			return nil

		case <-ticker.C:
			valid, verr := e.client.IsBlockhashValid(ctx, blockhash, rpc.CommitmentProcessed)
			if verr != nil {
				// Transient poll failure; the subscription and the
				// timeout still bound the wait.
				e.log.Debug("blockhash validity poll failed", zap.Error(verr))
				continue
			}
			if valid != nil && !valid.Value {
				return x402.NewPaymentError(x402.ReasonBlockHeightExceeded,
					"blockhash %s expired before confirmation", blockhash)
			}

		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return x402.NewPaymentError(x402.ReasonConfirmationTimedOut,
					"no confirmation within %s", ConfirmTimeout)
			}
			return ctx.Err()
		}
	}
}
