// Package svm implements the "exact" payment scheme on SVM (Solana-style)
// networks: transaction introspection, verification, multi-party signing,
// settlement, and unsigned-transaction preparation.
package svm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	x402 "github.com/amiko-network/x402-facilitator"
)

// ExactSvmFacilitator is the exact-scheme mechanism registered with the
// protocol-level facilitator. Stateless across requests: every call fetches
// ledger facts fresh through the shared read-only RPC connections.
type ExactSvmFacilitator struct {
	verifier        *Verifier
	engine          *SettlementEngine
	builder         *Builder
	signer          FacilitatorSigner
	custody         CustodyChecker
	custodialSigner CustodialSigner
	cfg             Config
	log             *zap.Logger
}

// NewExactSvmFacilitator wires the verify/settle/prepare pipeline.
func NewExactSvmFacilitator(
	client LedgerClient,
	stream ConfirmationStream,
	signer FacilitatorSigner,
	custody CustodyChecker,
	cfg Config,
	log *zap.Logger,
) *ExactSvmFacilitator {
	if log == nil {
		log = zap.NewNop()
	}
	verifier := NewVerifier(client, signer.Address(), cfg, log)
	coordinator := NewSignerCoordinator(signer, custody, log)
	engine := NewSettlementEngine(client, stream, verifier, coordinator, cfg, log)
	// The custodial service client doubles as the signer for the prepare
	// flow when it supports delegated signing.
	custodialSigner, _ := custody.(CustodialSigner)
	return &ExactSvmFacilitator{
		verifier:        verifier,
		engine:          engine,
		builder:         NewBuilder(client, cfg),
		signer:          signer,
		custody:         custody,
		custodialSigner: custodialSigner,
		cfg:             cfg,
		log:             log,
	}
}

// Scheme returns the scheme identifier.
func (f *ExactSvmFacilitator) Scheme() string { return x402.SchemeExact }

// FeePayer is the address the facilitator pays network fees from.
func (f *ExactSvmFacilitator) FeePayer() string { return f.signer.Address().String() }

// Verify implements x402.SchemeNetworkFacilitator.
func (f *ExactSvmFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) x402.VerifyResponse {
	return f.verifier.Verify(ctx, payload, requirements)
}

// Settle implements x402.SchemeNetworkFacilitator.
func (f *ExactSvmFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) x402.SettleResponse {
	return f.engine.Settle(ctx, payload, requirements)
}

// Prepare assembles a payment transaction for the given wallet and returns
// it base64-encoded together with the enriched requirements. For wallets
// held by the custodial service the wallet's signature is obtained through
// the delegated-signing API before the transaction is returned; self-held
// wallets receive the transaction unsigned.
func (f *ExactSvmFacilitator) Prepare(ctx context.Context, walletAddress string, requirements x402.PaymentRequirements, enableTrustless bool) (string, x402.PaymentRequirements, error) {
	enriched, err := f.EnrichRequirements(requirements)
	if err != nil {
		return "", requirements, err
	}

	payer, err := solana.PublicKeyFromBase58(walletAddress)
	if err != nil {
		return "", enriched, fmt.Errorf("invalid wallet address: %w", err)
	}

	tx, err := f.builder.BuildUnsignedTransaction(ctx, payer, &enriched, enableTrustless)
	if err != nil {
		return "", enriched, err
	}

	if f.cfg.AllowCrossmintWallets && f.custodialSigner != nil && f.custody.IsCustodialWallet(ctx, walletAddress) {
		signed, err := f.custodialSign(ctx, walletAddress, tx)
		if err != nil {
			return "", enriched, err
		}
		enriched.Extra["isCrossmintWallet"] = true
		f.log.Info("prepared custodially signed transaction", zap.String("wallet", walletAddress))
		return signed, enriched, nil
	}

	encoded, err := EncodeTransaction(tx)
	if err != nil {
		return "", enriched, err
	}
	return encoded, enriched, nil
}

// custodialSign runs the delegated-signing round trip and re-encodes the
// signed result for the prepare response.
func (f *ExactSvmFacilitator) custodialSign(ctx context.Context, walletAddress string, tx *solana.Transaction) (string, error) {
	wire, err := EncodeTransactionBase58(tx)
	if err != nil {
		return "", err
	}
	signedWire, err := f.custodialSigner.SignWithWallet(ctx, walletAddress, wire)
	if err != nil {
		return "", fmt.Errorf("custodial signing: %w", err)
	}
	signed, err := DecodeTransactionBase58(signedWire)
	if err != nil {
		return "", fmt.Errorf("custodial signing returned a malformed transaction: %w", err)
	}
	return EncodeTransaction(signed)
}

// EnrichRequirements fills in the facilitator-owned fields: the fee payer,
// the default asset when none is named, and amount normalization from a
// human-readable decimal to the smallest unit.
func (f *ExactSvmFacilitator) EnrichRequirements(requirements x402.PaymentRequirements) (x402.PaymentRequirements, error) {
	enriched := requirements.Clone()

	network, err := GetNetworkConfig(string(enriched.Network))
	if err != nil {
		return requirements, err
	}
	if enriched.Asset == "" {
		enriched.Asset = network.DefaultAsset.Address
	}
	if strings.Contains(enriched.MaxAmountRequired, ".") && enriched.Asset == network.DefaultAsset.Address {
		amount, err := ParseAmount(enriched.MaxAmountRequired, network.DefaultAsset.Decimals)
		if err != nil {
			return requirements, err
		}
		enriched.MaxAmountRequired = strconv.FormatUint(amount, 10)
	}

	if enriched.Extra == nil {
		enriched.Extra = make(map[string]interface{})
	}
	if _, ok := enriched.Extra["feePayer"]; !ok {
		enriched.Extra["feePayer"] = f.signer.Address().String()
	}
	return enriched, nil
}
