package svm

import (
	"context"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/amiko-network/x402-facilitator"
)

type fakeCustody struct {
	custodial map[string]bool
	calls     int
}

func (f *fakeCustody) IsCustodialWallet(_ context.Context, address string) bool {
	f.calls++
	return f.custodial[address]
}

func TestNewLocalSigner(t *testing.T) {
	key := solana.NewWallet().PrivateKey

	signer, err := NewLocalSigner(key.String())
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), signer.Address())

	_, err = NewLocalSigner("not a key")
	assert.Error(t, err)
}

func TestLocalSignerSignTransaction(t *testing.T) {
	a := newPaymentActors(t)
	signer := &LocalSigner{key: a.facilitator}
	tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000, signed: true})

	clientSig := tx.Signatures[1]
	require.NoError(t, signer.SignTransaction(context.Background(), tx))

	messageBytes, err := tx.Message.MarshalBinary()
	require.NoError(t, err)

	// The facilitator signature lands at its account index and verifies
	// against the message; the client signature is untouched.
	assert.True(t, tx.Signatures[0].Verify(a.facilitator.PublicKey(), messageBytes))
	assert.Equal(t, clientSig, tx.Signatures[1])
}

func TestLocalSignerNotInTransaction(t *testing.T) {
	a := newPaymentActors(t)
	signer := &LocalSigner{key: solana.NewWallet().PrivateKey}
	tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000})

	assert.Error(t, signer.SignTransaction(context.Background(), tx))
}

func TestSignerCoordinatorIsCustodial(t *testing.T) {
	a := newPaymentActors(t)
	payer := a.client.PublicKey()

	t.Run("requirements flag short-circuits the registry", func(t *testing.T) {
		custody := &fakeCustody{}
		coordinator := NewSignerCoordinator(&LocalSigner{key: a.facilitator}, custody, nil)

		requirements := testRequirements(a, "1000")
		requirements.Extra["isCrossmintWallet"] = true

		assert.True(t, coordinator.IsCustodial(context.Background(), &requirements, payer))
		assert.Zero(t, custody.calls)
	})

	t.Run("registry lookup", func(t *testing.T) {
		custody := &fakeCustody{custodial: map[string]bool{payer.String(): true}}
		coordinator := NewSignerCoordinator(&LocalSigner{key: a.facilitator}, custody, nil)

		requirements := testRequirements(a, "1000")
		assert.True(t, coordinator.IsCustodial(context.Background(), &requirements, payer))
		assert.Equal(t, 1, custody.calls)
	})

	t.Run("no registry means non-custodial", func(t *testing.T) {
		coordinator := NewSignerCoordinator(&LocalSigner{key: a.facilitator}, nil, nil)
		requirements := testRequirements(a, "1000")
		assert.False(t, coordinator.IsCustodial(context.Background(), &requirements, payer))
	})
}

func TestCompleteSigning(t *testing.T) {
	t.Run("co-signs and asserts coverage", func(t *testing.T) {
		a := newPaymentActors(t)
		coordinator := NewSignerCoordinator(&LocalSigner{key: a.facilitator}, nil, nil)
		tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000, signed: true})

		require.NoError(t, coordinator.CompleteSigning(context.Background(), tx, false))
		for i, sig := range tx.Signatures {
			assert.False(t, sig.IsZero(), "signature %d", i)
		}
	})

	t.Run("rejects missing client signature", func(t *testing.T) {
		a := newPaymentActors(t)
		coordinator := NewSignerCoordinator(&LocalSigner{key: a.facilitator}, nil, nil)
		tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000})

		err := coordinator.CompleteSigning(context.Background(), tx, false)
		require.Error(t, err)
		assert.Equal(t, x402.ReasonMissingSignatures, x402.ReasonOf(err, ""))
	})

	t.Run("custodial skips co-signing", func(t *testing.T) {
		a := newPaymentActors(t)
		coordinator := NewSignerCoordinator(&LocalSigner{key: a.facilitator}, nil, nil)
		tx := buildPaymentTx(t, a, paymentTxSpec{amount: 1000, signed: true})

		require.NoError(t, coordinator.CompleteSigning(context.Background(), tx, true))
		// The facilitator slot stays empty; the custodial service owns it.
		assert.True(t, tx.Signatures[0].IsZero())
	})
}
