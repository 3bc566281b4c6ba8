package svm

import (
	solana "github.com/gagliardetto/solana-go"
)

// Config is the request-scoped override bag for the exact-SVM mechanism.
// It is built once from server-wide defaults plus caller-supplied overrides
// and never mutated afterwards.
type Config struct {
	// RPCURL and WSURL override the network defaults when set.
	RPCURL string
	WSURL  string

	// TrustlessProgramID enables appending the job-registration instruction
	// when non-zero.
	TrustlessProgramID solana.PublicKey

	// RegisterJobDiscriminator overrides the derived Anchor discriminator
	// for deployments tracking a different program version. Zero means use
	// RegisterJobDiscriminator derived from the method name.
	RegisterJobDiscriminator [8]byte

	// AllowCrossmintWallets permits custodial-wallet settlement flows.
	AllowCrossmintWallets bool
}

// registryProgram resolves the job-registry program this config recognizes.
// A zero value means job registration is disabled entirely.
func (c Config) registryProgram() solana.PublicKey {
	return c.TrustlessProgramID
}

func (c Config) registryDiscriminator() [8]byte {
	if c.RegisterJobDiscriminator != ([8]byte{}) {
		return c.RegisterJobDiscriminator
	}
	return RegisterJobDiscriminator
}

// classifier builds the instruction classifier matching this config.
func (c Config) classifier() *Classifier {
	return NewClassifier(c.registryProgram(), c.registryDiscriminator())
}
