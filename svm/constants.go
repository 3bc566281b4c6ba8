package svm

import (
	"crypto/sha256"
	"time"

	solana "github.com/gagliardetto/solana-go"
)

// Compute budget policy. The price ceiling bounds how much network fee a
// malicious client can force the fee payer to spend; the defaults are what
// the builder puts into prepared transactions.
const (
	// MaxComputeUnitPrice is the ceiling, in micro-lamports per compute
	// unit, accepted by the introspector.
	MaxComputeUnitPrice uint64 = 5_000_000

	// DefaultComputeUnitLimit covers the canonical instruction sequence
	// (two compute-budget instructions, optional create-ATA, transfer,
	// optional job registration).
	DefaultComputeUnitLimit uint32 = 60_000

	// DefaultComputeUnitPrice is the minimal priority fee the builder
	// attaches to prepared transactions.
	DefaultComputeUnitPrice uint64 = 1
)

// ConfirmTimeout bounds how long settlement waits for a confirmation before
// returning the timed-out soft failure.
const ConfirmTimeout = 60 * time.Second

// Compute-budget instruction discriminators (first data byte).
const (
	computeBudgetSetLimitDiscriminator byte = 2
	computeBudgetSetPriceDiscriminator byte = 3
)

// SPL token instruction discriminator for TransferChecked.
const tokenTransferCheckedDiscriminator byte = 12

// DefaultTrustlessProgramID is the deployed job-registry program. Deployments
// tracking a different program version override it via Config.
var DefaultTrustlessProgramID = solana.MustPublicKeyFromBase58("CtZrqYPSzPipUnxB55hBzCHrQxtBfWPujyrnDBDeWpWe")

// AnchorDiscriminator derives the 8-byte instruction discriminator for a
// global Anchor method. The job-registry program is Anchor-based, so the
// discriminator is the method-name hash rather than a magic constant.
func AnchorDiscriminator(method string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + method))
	var out [8]byte
	copy(out[:], sum[:8])
	return out
}

// RegisterJobDiscriminator identifies the job-registration instruction.
var RegisterJobDiscriminator = AnchorDiscriminator("register_job")

// PDA seed prefixes used by the job-registry program.
var (
	jobSeedPrefix   = []byte("job")
	agentSeedPrefix = []byte("agent")
)
