// Package crossmint talks to the Crossmint custodial wallet API: wallet
// custody lookups and delegated transaction signing. The facilitator core
// only depends on the custody answer; the signing flow is used when
// preparing transactions for custodially held wallets.
package crossmint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the production API endpoint.
const DefaultBaseURL = "https://www.crossmint.com/api/2022-06-09"

// pollInterval paces the transaction status polling loop.
const pollInterval = 2 * time.Second

// Client is a thin HTTP client for the Crossmint API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

// New builds a client. An empty baseURL selects the production endpoint.
func New(baseURL, apiKey string, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

// WalletInfo is the custody record returned for a wallet address.
type WalletInfo struct {
	IsCrossmint bool   `json:"isCrossmint"`
	Custodian   string `json:"custodian,omitempty"`
	Owner       string `json:"owner,omitempty"`
}

// IsCustodialWallet reports whether the address is a Crossmint-managed
// wallet. Fails open: any lookup error means "not custodial" so registry
// unavailability never blocks a settlement.
func (c *Client) IsCustodialWallet(ctx context.Context, address string) bool {
	info, err := c.GetWallet(ctx, address)
	if err != nil {
		c.log.Debug("wallet custody lookup failed", zap.String("address", address), zap.Error(err))
		return false
	}
	return info.IsCrossmint
}

// GetWallet fetches the custody record for an address.
func (c *Client) GetWallet(ctx context.Context, address string) (*WalletInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/wallets/%s", c.baseURL, address), nil)
	if err != nil {
		return nil, err
	}
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &WalletInfo{IsCrossmint: false}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wallet lookup: unexpected status %d", resp.StatusCode)
	}

	var info WalletInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("wallet lookup: decode response: %w", err)
	}
	return &info, nil
}

// TransactionStatus is a custodial signing job's lifecycle state.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusAwaiting  TransactionStatus = "awaiting-approval"
	StatusSuccess   TransactionStatus = "success"
	StatusFailed    TransactionStatus = "failed"
)

// Terminal reports whether the status is final.
func (s TransactionStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

// Transaction is a custodial signing job.
type Transaction struct {
	ID     string            `json:"id"`
	Status TransactionStatus `json:"status"`
	OnChain struct {
		Transaction string `json:"transaction,omitempty"`
		TxID        string `json:"txId,omitempty"`
	} `json:"onChain"`
	Error string `json:"error,omitempty"`
}

type createTransactionRequest struct {
	Params struct {
		Transaction string `json:"transaction"`
	} `json:"params"`
}

// CreateTransaction submits a base58 wire-encoded transaction for custodial
// signing on behalf of the wallet locator.
func (c *Client) CreateTransaction(ctx context.Context, locator, transactionBase58 string) (*Transaction, error) {
	var body createTransactionRequest
	body.Params.Transaction = transactionBase58
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/wallets/%s/transactions", c.baseURL, locator), bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create transaction: unexpected status %d", resp.StatusCode)
	}

	var tx Transaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, fmt.Errorf("create transaction: decode response: %w", err)
	}
	return &tx, nil
}

// GetTransaction fetches the current state of a custodial signing job.
func (c *Client) GetTransaction(ctx context.Context, locator, id string) (*Transaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/wallets/%s/transactions/%s", c.baseURL, locator, id), nil)
	if err != nil {
		return nil, err
	}
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get transaction: unexpected status %d", resp.StatusCode)
	}

	var tx Transaction
	if err := json.NewDecoder(resp.Body).Decode(&tx); err != nil {
		return nil, fmt.Errorf("get transaction: decode response: %w", err)
	}
	return &tx, nil
}

// SignWithWallet runs the full delegated-signing round trip: submit the wire
// transaction for the wallet, wait for a terminal status, and return the
// signed wire transaction.
func (c *Client) SignWithWallet(ctx context.Context, locator, transactionBase58 string) (string, error) {
	created, err := c.CreateTransaction(ctx, locator, transactionBase58)
	if err != nil {
		return "", err
	}
	final, err := c.AwaitTransaction(ctx, locator, created.ID)
	if err != nil {
		return "", err
	}
	if final.Status != StatusSuccess {
		return "", fmt.Errorf("custodial signing ended with status %q: %s", final.Status, final.Error)
	}
	if final.OnChain.Transaction == "" {
		return "", fmt.Errorf("custodial signing returned no transaction")
	}
	return final.OnChain.Transaction, nil
}

// AwaitTransaction polls a signing job until it reaches a terminal status or
// the context expires.
func (c *Client) AwaitTransaction(ctx context.Context, locator, id string) (*Transaction, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		tx, err := c.GetTransaction(ctx, locator, id)
		if err != nil {
			return nil, err
		}
		if tx.Status.Terminal() {
			return tx, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-KEY", c.apiKey)
	}
}
