package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	x402 "github.com/amiko-network/x402-facilitator"
)

// Verifier decides payment validity: structural introspection followed by a
// dry-run simulation against the ledger. It is read-only; no funds move.
type Verifier struct {
	client       LedgerClient
	introspector *Introspector
	feePayer     solana.PublicKey
	cfg          Config
	log          *zap.Logger
}

func NewVerifier(client LedgerClient, feePayer solana.PublicKey, cfg Config, log *zap.Logger) *Verifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{
		client:       client,
		introspector: NewIntrospector(client, cfg),
		feePayer:     feePayer,
		cfg:          cfg,
		log:          log,
	}
}

// Verify validates a payment payload against the requirements. Expected
// rejections are reported as data; unexpected faults are logged and
// downgraded to an unexpected-error reason, never propagated raw.
func (v *Verifier) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) x402.VerifyResponse {
	if payload.Scheme != x402.SchemeExact || requirements.Scheme != x402.SchemeExact {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInvalidScheme}
	}
	if payload.Network != requirements.Network || !IsValidNetwork(string(requirements.Network)) {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonInvalidNetwork}
	}

	tx, err := DecodeTransaction(payload.Payload.Transaction)
	if err != nil {
		return x402.VerifyResponse{IsValid: false, InvalidReason: x402.ReasonOf(err, x402.ReasonMalformedTransaction)}
	}

	introspection, err := v.introspector.Introspect(ctx, tx, &requirements, v.feePayer)
	if err != nil {
		return v.reject(tx, err)
	}

	if err := v.simulate(ctx, tx); err != nil {
		return v.reject(tx, err)
	}

	return x402.VerifyResponse{
		IsValid: true,
		Payer:   introspection.Payer.String(),
	}
}

// simulate dry-runs the transaction. Fails closed: any simulation error is a
// rejection.
func (v *Verifier) simulate(ctx context.Context, tx *solana.Transaction) error {
	res, err := v.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:              false,
		ReplaceRecentBlockhash: true,
		Commitment:             rpc.CommitmentProcessed,
	})
	if err != nil {
		return x402.WrapPaymentError(x402.ReasonSimulationFailed, err)
	}
	if res == nil || res.Value == nil {
		return x402.WrapPaymentError(x402.ReasonSimulationFailed, fmt.Errorf("empty simulation response"))
	}
	if res.Value.Err != nil {
		return x402.NewPaymentError(x402.ReasonSimulationFailed, "simulation failed: %v", res.Value.Err)
	}
	return nil
}

// reject maps an introspection or simulation error into the response shape,
// still attempting to extract the transaction fee payer for diagnostic
// correlation. Secondary decode failures are swallowed.
func (v *Verifier) reject(tx *solana.Transaction, err error) x402.VerifyResponse {
	reason := x402.ReasonOf(err, x402.ReasonUnexpectedVerifyError)
	if reason == x402.ReasonUnexpectedVerifyError {
		v.log.Error("unexpected verify error", zap.Error(err))
	}

	res := x402.VerifyResponse{IsValid: false, InvalidReason: reason}
	if payer, perr := FeePayerOf(tx); perr == nil {
		res.Payer = payer.String()
	}
	return res
}
