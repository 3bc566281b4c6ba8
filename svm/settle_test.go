package svm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/amiko-network/x402-facilitator"
)

func newTestEngine(t *testing.T, a paymentActors, ledger *fakeLedger, stream ConfirmationStream, cfg Config) *SettlementEngine {
	t.Helper()
	signer := &LocalSigner{key: a.facilitator}
	verifier := NewVerifier(ledger, a.facilitator.PublicKey(), cfg, nil)
	coordinator := NewSignerCoordinator(signer, nil, nil)
	return NewSettlementEngine(ledger, stream, verifier, coordinator, cfg, nil)
}

func TestSettleConfirmedPayment(t *testing.T) {
	a := newPaymentActors(t)
	ledger := newFakeLedger()
	ledger.exists(a.sourceATA, a.destATA)
	stream := &fakeStream{sub: confirmedResult()}

	engine := newTestEngine(t, a, ledger, stream, Config{})
	tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000, signed: true})

	res := engine.Settle(context.Background(), testPayload(t, tx), testRequirements(a, "1000"))
	require.True(t, res.Success, "errorReason: %s", res.ErrorReason)
	assert.Equal(t, ledger.sendSig.String(), res.Transaction)
	assert.Equal(t, a.client.PublicKey().String(), res.Payer)
	assert.Equal(t, x402.Network(NetworkDevnet), res.Network)
	assert.Empty(t, res.JobID)
	assert.Equal(t, 1, ledger.sendDone)
}

func TestSettleRejectsBeforeBroadcast(t *testing.T) {
	a := newPaymentActors(t)
	ledger := newFakeLedger()
	ledger.exists(a.sourceATA, a.destATA)
	stream := &fakeStream{sub: confirmedResult()}

	engine := newTestEngine(t, a, ledger, stream, Config{})
	tx := buildPaymentTx(t, a, paymentTxSpec{amount: 42, signed: true})

	res := engine.Settle(context.Background(), testPayload(t, tx), testRequirements(a, "1000"))
	assert.False(t, res.Success)
	assert.Equal(t, x402.ReasonAmountMismatch, res.ErrorReason)
	// Nothing reaches the ledger when verification fails.
	assert.Zero(t, ledger.sendDone)
}

func TestSettleMissingClientSignature(t *testing.T) {
	a := newPaymentActors(t)
	ledger := newFakeLedger()
	ledger.exists(a.sourceATA, a.destATA)
	stream := &fakeStream{sub: confirmedResult()}

	engine := newTestEngine(t, a, ledger, stream, Config{})
	// The client never signed; only the facilitator co-signature lands.
	tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000})

	res := engine.Settle(context.Background(), testPayload(t, tx), testRequirements(a, "1000"))
	assert.False(t, res.Success)
	assert.Equal(t, x402.ReasonMissingSignatures, res.ErrorReason)
	assert.Zero(t, ledger.sendDone)
}

func TestSettleBroadcastFailure(t *testing.T) {
	a := newPaymentActors(t)
	ledger := newFakeLedger()
	ledger.exists(a.sourceATA, a.destATA)
	ledger.sendErr = errors.New("connection refused")
	stream := &fakeStream{sub: confirmedResult()}

	engine := newTestEngine(t, a, ledger, stream, Config{})
	tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000, signed: true})

	res := engine.Settle(context.Background(), testPayload(t, tx), testRequirements(a, "1000"))
	assert.False(t, res.Success)
	assert.Equal(t, x402.ReasonBroadcastFailed, res.ErrorReason)
	assert.Equal(t, 1, ledger.sendDone)
}

func TestSettleTransactionFailedOnChain(t *testing.T) {
	a := newPaymentActors(t)
	ledger := newFakeLedger()
	ledger.exists(a.sourceATA, a.destATA)
	stream := &fakeStream{sub: failedOnChainResult()}

	engine := newTestEngine(t, a, ledger, stream, Config{})
	tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000, signed: true})

	res := engine.Settle(context.Background(), testPayload(t, tx), testRequirements(a, "1000"))
	assert.False(t, res.Success)
	assert.Equal(t, x402.ReasonTransactionFailed, res.ErrorReason)
	// The signature is still reported so callers can inspect the failure.
	assert.Equal(t, ledger.sendSig.String(), res.Transaction)
}

func TestSettleBlockhashExpiry(t *testing.T) {
	a := newPaymentActors(t)
	ledger := newFakeLedger()
	ledger.exists(a.sourceATA, a.destATA)
	ledger.blockhashValid = false
	// The subscription never delivers; expiry is detected by polling.
	stream := &fakeStream{sub: &fakeSub{block: true}}

	engine := newTestEngine(t, a, ledger, stream, Config{})
	tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000, signed: true})

	res := engine.Settle(context.Background(), testPayload(t, tx), testRequirements(a, "1000"))
	assert.False(t, res.Success)
	assert.Equal(t, x402.ReasonBlockHeightExceeded, res.ErrorReason)
}

func TestSettleReportsJobID(t *testing.T) {
	cfg := Config{TrustlessProgramID: DefaultTrustlessProgramID}
	a := newPaymentActors(t)
	ledger := newFakeLedger()
	ledger.exists(a.sourceATA, a.destATA)
	stream := &fakeStream{sub: confirmedResult()}

	engine := newTestEngine(t, a, ledger, stream, cfg)
	tx := buildPaymentTx(t, a, paymentTxSpec{
		amount: 1000, withJob: true, registry: DefaultTrustlessProgramID, signed: true,
	})

	res := engine.Settle(context.Background(), testPayload(t, tx), testRequirements(a, "1000"))
	require.True(t, res.Success, "errorReason: %s", res.ErrorReason)
	require.NotEmpty(t, res.JobID)

	// The reported id matches the job-record account of the registration
	// instruction.
	decoded, err := DecodeTransaction(testPayload(t, tx).Payload.Transaction)
	require.NoError(t, err)
	jobID, ok := ExtractJobID(decoded, cfg)
	require.True(t, ok)
	assert.Equal(t, jobID.String(), res.JobID)
}

func TestSettleCustodyDecision(t *testing.T) {
	a := newPaymentActors(t)
	ledger := newFakeLedger()
	cfg := Config{AllowCrossmintWallets: true}
	custody := &fakeCustody{custodial: map[string]bool{a.client.PublicKey().String(): true}}
	verifier := NewVerifier(ledger, a.facilitator.PublicKey(), cfg, nil)
	coordinator := NewSignerCoordinator(&LocalSigner{key: a.facilitator}, custody, nil)
	engine := NewSettlementEngine(ledger, &fakeStream{sub: confirmedResult()}, verifier, coordinator, cfg, nil)

	requirements := testRequirements(a, "1000")

	t.Run("valid payer consults the registry", func(t *testing.T) {
		assert.True(t, engine.custodialPayer(context.Background(), &requirements, a.client.PublicKey().String()))
		assert.Equal(t, 1, custody.calls)
	})

	t.Run("unparseable payer falls back to non-custodial", func(t *testing.T) {
		calls := custody.calls
		assert.False(t, engine.custodialPayer(context.Background(), &requirements, "not-an-address"))
		assert.Equal(t, calls, custody.calls)
	})

	t.Run("disabled custodial flows never consult the registry", func(t *testing.T) {
		off := NewSettlementEngine(ledger, &fakeStream{sub: confirmedResult()}, verifier, coordinator, Config{}, nil)
		calls := custody.calls
		assert.False(t, off.custodialPayer(context.Background(), &requirements, a.client.PublicKey().String()))
		assert.Equal(t, calls, custody.calls)
	})
}

func TestSettleJobIDSurvivesConfirmationFailure(t *testing.T) {
	cfg := Config{TrustlessProgramID: DefaultTrustlessProgramID}
	a := newPaymentActors(t)
	ledger := newFakeLedger()
	ledger.exists(a.sourceATA, a.destATA)
	stream := &fakeStream{sub: failedOnChainResult()}

	engine := newTestEngine(t, a, ledger, stream, cfg)
	tx := buildPaymentTx(t, a, paymentTxSpec{
		amount: 1000, withJob: true, registry: DefaultTrustlessProgramID, signed: true,
	})

	res := engine.Settle(context.Background(), testPayload(t, tx), testRequirements(a, "1000"))
	assert.False(t, res.Success)
	// Job extraction is broadcast-scoped, not confirmation-scoped.
	assert.NotEmpty(t, res.JobID)
}
