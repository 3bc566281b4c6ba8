package svm

import (
	"context"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/stretchr/testify/require"

	x402 "github.com/amiko-network/x402-facilitator"
)

// fakeLedger implements LedgerClient in memory. Accounts present in the map
// exist on the fake ledger; everything else does not.
type fakeLedger struct {
	accounts map[solana.PublicKey]*rpc.Account

	multipleAccountCalls int

	simResult *rpc.SimulateTransactionResponse
	simErr    error

	blockhashValid bool
	latestHash     solana.Hash

	sendSig  solana.Signature
	sendErr  error
	sendDone int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		accounts:       make(map[solana.PublicKey]*rpc.Account),
		blockhashValid: true,
		latestHash:     testBlockhash(),
		sendSig:        solana.Signature{1},
		simResult: &rpc.SimulateTransactionResponse{
			Value: &rpc.SimulateTransactionResult{},
		},
	}
}

func (f *fakeLedger) exists(keys ...solana.PublicKey) {
	for _, key := range keys {
		f.accounts[key] = &rpc.Account{Owner: solana.TokenProgramID}
	}
}

func (f *fakeLedger) GetAccountInfo(_ context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	acct, ok := f.accounts[account]
	if !ok {
		return nil, rpc.ErrNotFound
	}
	return &rpc.GetAccountInfoResult{Value: acct}, nil
}

func (f *fakeLedger) GetMultipleAccounts(_ context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
	f.multipleAccountCalls++
	out := make([]*rpc.Account, len(accounts))
	for i, key := range accounts {
		out[i] = f.accounts[key]
	}
	return &rpc.GetMultipleAccountsResult{Value: out}, nil
}

func (f *fakeLedger) GetLatestBlockhash(context.Context, rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{
			Blockhash:            f.latestHash,
			LastValidBlockHeight: 100,
		},
	}, nil
}

func (f *fakeLedger) SendTransactionWithOpts(_ context.Context, _ *solana.Transaction, _ rpc.TransactionOpts) (solana.Signature, error) {
	f.sendDone++
	if f.sendErr != nil {
		return solana.Signature{}, f.sendErr
	}
	return f.sendSig, nil
}

func (f *fakeLedger) SimulateTransactionWithOpts(context.Context, *solana.Transaction, *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	return f.simResult, f.simErr
}

func (f *fakeLedger) IsBlockhashValid(context.Context, solana.Hash, rpc.CommitmentType) (*rpc.IsValidBlockhashResult, error) {
	return &rpc.IsValidBlockhashResult{Value: f.blockhashValid}, nil
}

// fakeSub delivers one canned confirmation result, or blocks until the
// context is torn down.
type fakeSub struct {
	result *ws.SignatureResult
	err    error
	block  bool
}

func (s *fakeSub) Recv(ctx context.Context) (*ws.SignatureResult, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.result, s.err
}

func (s *fakeSub) Unsubscribe() {}

type fakeStream struct {
	sub    *fakeSub
	subErr error
}

func (s *fakeStream) SignatureSubscribe(solana.Signature, rpc.CommitmentType) (SignatureSubscription, error) {
	if s.subErr != nil {
		return nil, s.subErr
	}
	return s.sub, nil
}

func confirmedResult() *fakeSub {
	return &fakeSub{result: &ws.SignatureResult{}}
}

func failedOnChainResult() *fakeSub {
	res := &ws.SignatureResult{}
	res.Value.Err = map[string]interface{}{"InstructionError": []interface{}{}}
	return &fakeSub{result: res}
}

func testBlockhash() solana.Hash {
	return solana.Hash(solana.NewWallet().PublicKey())
}

// paymentActors is the fixed cast of one payment: the facilitator fee payer,
// the paying client, the payee, and the asset with both derived token
// accounts.
type paymentActors struct {
	facilitator solana.PrivateKey
	client      solana.PrivateKey
	payTo       solana.PublicKey
	mint        solana.PublicKey
	sourceATA   solana.PublicKey
	destATA     solana.PublicKey
}

func newPaymentActors(t *testing.T) paymentActors {
	t.Helper()
	a := paymentActors{
		facilitator: solana.NewWallet().PrivateKey,
		client:      solana.NewWallet().PrivateKey,
		payTo:       solana.NewWallet().PublicKey(),
		mint:        solana.NewWallet().PublicKey(),
	}
	var err error
	a.sourceATA, err = DeriveATA(a.client.PublicKey(), a.mint, solana.TokenProgramID)
	require.NoError(t, err)
	a.destATA, err = DeriveATA(a.payTo, a.mint, solana.TokenProgramID)
	require.NoError(t, err)
	return a
}

// paymentTxSpec describes the transaction to assemble. Zero values pick the
// canonical happy-path shape for the given actors.
type paymentTxSpec struct {
	amount      uint64
	cuPrice     uint64
	withCreate  bool
	withJob     bool
	registry    solana.PublicKey
	authority   solana.PublicKey
	destination solana.PublicKey
	createOwner solana.PublicKey
	createMint  solana.PublicKey
	bare        bool // omit the compute budget pair
	signed      bool
}

func buildPaymentTx(t *testing.T, a paymentActors, spec paymentTxSpec) *solana.Transaction {
	t.Helper()

	if spec.cuPrice == 0 {
		spec.cuPrice = DefaultComputeUnitPrice
	}
	if spec.authority.IsZero() {
		spec.authority = a.client.PublicKey()
	}
	if spec.destination.IsZero() {
		spec.destination = a.destATA
	}
	if spec.createOwner.IsZero() {
		spec.createOwner = a.payTo
	}
	if spec.createMint.IsZero() {
		spec.createMint = a.mint
	}

	b := solana.NewTransactionBuilder()

	if !spec.bare {
		cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
			SetUnits(DefaultComputeUnitLimit).
			ValidateAndBuild()
		require.NoError(t, err)
		cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
			SetMicroLamports(spec.cuPrice).
			ValidateAndBuild()
		require.NoError(t, err)
		b.AddInstruction(cuLimit)
		b.AddInstruction(cuPrice)
	}

	if spec.withCreate {
		ata, err := DeriveATA(spec.createOwner, spec.createMint, solana.TokenProgramID)
		require.NoError(t, err)
		b.AddInstruction(newCreateATAInstruction(
			a.client.PublicKey(), ata, spec.createOwner, spec.createMint, solana.TokenProgramID,
		))
	}

	b.AddInstruction(newTransferCheckedInstruction(
		solana.TokenProgramID, a.sourceATA, a.mint, spec.destination, spec.authority, spec.amount, 6,
	))

	if spec.withJob {
		require.False(t, spec.registry.IsZero(), "withJob requires a registry program")
		registerJob, err := NewRegisterJobInstruction(
			spec.registry,
			RegisterJobDiscriminator,
			NewJobSeed(),
			a.payTo,
			a.client.PublicKey(),
			a.facilitator.PublicKey(),
			spec.amount,
		)
		require.NoError(t, err)
		b.AddInstruction(registerJob)
	}

	tx, err := b.
		SetRecentBlockHash(testBlockhash()).
		SetFeePayer(a.facilitator.PublicKey()).
		Build()
	require.NoError(t, err)

	if spec.signed {
		_, err = tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
			if key.Equals(a.client.PublicKey()) {
				k := a.client
				return &k
			}
			return nil
		})
		require.NoError(t, err)
	}
	return tx
}

func testRequirements(a paymentActors, amount string) x402.PaymentRequirements {
	return x402.PaymentRequirements{
		Scheme:            x402.SchemeExact,
		Network:           x402.Network(NetworkDevnet),
		MaxAmountRequired: amount,
		PayTo:             a.payTo.String(),
		Asset:             a.mint.String(),
		Extra: map[string]interface{}{
			"feePayer": a.facilitator.PublicKey().String(),
		},
	}
}

func testPayload(t *testing.T, tx *solana.Transaction) x402.PaymentPayload {
	t.Helper()
	encoded, err := EncodeTransaction(tx)
	require.NoError(t, err)
	return x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      x402.SchemeExact,
		Network:     x402.Network(NetworkDevnet),
		Payload:     x402.ExactSvmPayload{Transaction: encoded},
	}
}
