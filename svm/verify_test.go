package svm

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/amiko-network/x402-facilitator"
)

func TestVerifyValidPayment(t *testing.T) {
	a := newPaymentActors(t)
	ledger := newFakeLedger()
	ledger.exists(a.sourceATA, a.destATA)

	verifier := NewVerifier(ledger, a.facilitator.PublicKey(), Config{}, nil)
	tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000, signed: true})

	res := verifier.Verify(context.Background(), testPayload(t, tx), testRequirements(a, "1000"))
	require.True(t, res.IsValid, "invalidReason: %s", res.InvalidReason)
	assert.Empty(t, res.InvalidReason)
	assert.Equal(t, a.client.PublicKey().String(), res.Payer)
}

func TestVerifySchemeAndNetwork(t *testing.T) {
	a := newPaymentActors(t)
	ledger := newFakeLedger()
	ledger.exists(a.sourceATA, a.destATA)
	verifier := NewVerifier(ledger, a.facilitator.PublicKey(), Config{}, nil)
	tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000})

	t.Run("wrong scheme", func(t *testing.T) {
		payload := testPayload(t, tx)
		payload.Scheme = "upto"
		res := verifier.Verify(context.Background(), payload, testRequirements(a, "1000"))
		assert.False(t, res.IsValid)
		assert.Equal(t, x402.ReasonInvalidScheme, res.InvalidReason)
	})

	t.Run("network mismatch", func(t *testing.T) {
		payload := testPayload(t, tx)
		payload.Network = x402.Network(NetworkMainnet)
		res := verifier.Verify(context.Background(), payload, testRequirements(a, "1000"))
		assert.False(t, res.IsValid)
		assert.Equal(t, x402.ReasonInvalidNetwork, res.InvalidReason)
	})

	t.Run("unknown network", func(t *testing.T) {
		payload := testPayload(t, tx)
		payload.Network = "base-sepolia"
		requirements := testRequirements(a, "1000")
		requirements.Network = "base-sepolia"
		res := verifier.Verify(context.Background(), payload, requirements)
		assert.False(t, res.IsValid)
		assert.Equal(t, x402.ReasonInvalidNetwork, res.InvalidReason)
	})
}

func TestVerifyMalformedPayload(t *testing.T) {
	a := newPaymentActors(t)
	verifier := NewVerifier(newFakeLedger(), a.facilitator.PublicKey(), Config{}, nil)

	payload := x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      x402.SchemeExact,
		Network:     x402.Network(NetworkDevnet),
		Payload:     x402.ExactSvmPayload{Transaction: "not a transaction"},
	}
	res := verifier.Verify(context.Background(), payload, testRequirements(a, "1000"))
	assert.False(t, res.IsValid)
	assert.Equal(t, x402.ReasonMalformedTransaction, res.InvalidReason)
}

func TestVerifySimulationFailsClosed(t *testing.T) {
	t.Run("on-chain failure", func(t *testing.T) {
		a := newPaymentActors(t)
		ledger := newFakeLedger()
		ledger.exists(a.sourceATA, a.destATA)
		ledger.simResult = &rpc.SimulateTransactionResponse{
			Value: &rpc.SimulateTransactionResult{
				Err: map[string]interface{}{"InstructionError": []interface{}{}},
			},
		}

		verifier := NewVerifier(ledger, a.facilitator.PublicKey(), Config{}, nil)
		tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000, signed: true})

		res := verifier.Verify(context.Background(), testPayload(t, tx), testRequirements(a, "1000"))
		assert.False(t, res.IsValid)
		assert.Equal(t, x402.ReasonSimulationFailed, res.InvalidReason)
		// The transaction fee payer is still reported for correlation.
		assert.Equal(t, a.facilitator.PublicKey().String(), res.Payer)
	})

	t.Run("rpc failure", func(t *testing.T) {
		a := newPaymentActors(t)
		ledger := newFakeLedger()
		ledger.exists(a.sourceATA, a.destATA)
		ledger.simResult = nil
		ledger.simErr = errors.New("rpc unavailable")

		verifier := NewVerifier(ledger, a.facilitator.PublicKey(), Config{}, nil)
		tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000, signed: true})

		res := verifier.Verify(context.Background(), testPayload(t, tx), testRequirements(a, "1000"))
		assert.False(t, res.IsValid)
		assert.Equal(t, x402.ReasonSimulationFailed, res.InvalidReason)
	})
}

func TestVerifyReportsStructuralReason(t *testing.T) {
	a := newPaymentActors(t)
	ledger := newFakeLedger()
	ledger.exists(a.sourceATA, a.destATA)

	verifier := NewVerifier(ledger, a.facilitator.PublicKey(), Config{}, nil)
	tx := buildPaymentTx(t, a, paymentTxSpec{amount: 999, signed: true})

	res := verifier.Verify(context.Background(), testPayload(t, tx), testRequirements(a, "1000"))
	assert.False(t, res.IsValid)
	assert.Equal(t, x402.ReasonAmountMismatch, res.InvalidReason)
}
