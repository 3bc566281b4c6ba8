package svm

import (
	"context"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
)

// LedgerClient is the slice of the ledger RPC API the mechanism consumes.
// *rpc.Client satisfies it; tests substitute fakes.
type LedgerClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
	IsBlockhashValid(ctx context.Context, blockhash solana.Hash, commitment rpc.CommitmentType) (*rpc.IsValidBlockhashResult, error)
}

// SignatureSubscription is one live confirmation subscription.
type SignatureSubscription interface {
	Recv(ctx context.Context) (*ws.SignatureResult, error)
	Unsubscribe()
}

// ConfirmationStream opens signature-confirmation subscriptions. The
// websocket client is long-lived and shared across settle calls.
type ConfirmationStream interface {
	SignatureSubscribe(signature solana.Signature, commitment rpc.CommitmentType) (SignatureSubscription, error)
}

// WSStream adapts *ws.Client to ConfirmationStream.
type WSStream struct {
	Client *ws.Client
}

func (s WSStream) SignatureSubscribe(signature solana.Signature, commitment rpc.CommitmentType) (SignatureSubscription, error) {
	sub, err := s.Client.SignatureSubscribe(signature, commitment)
	if err != nil {
		return nil, err
	}
	return sub, nil
}
