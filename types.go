// Package x402 contains the protocol types shared by the facilitator HTTP
// surface and the per-network payment mechanisms.
package x402

import (
	"encoding/json"
	"strconv"
)

// X402Version is the protocol version this facilitator speaks.
const X402Version = 1

// SchemeExact is the only payment scheme supported: the transferred amount
// must equal the required amount precisely.
const SchemeExact = "exact"

// Network identifies a ledger network, e.g. "solana" or "solana-devnet".
type Network string

// PaymentRequirements is the server-declared payment contract attached to a
// 402 response and echoed back on /verify and /settle.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           Network                `json:"network"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Asset             string                 `json:"asset"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// AmountRequired parses MaxAmountRequired as an unsigned 64-bit integer in
// the asset's smallest unit.
func (r *PaymentRequirements) AmountRequired() (uint64, error) {
	return strconv.ParseUint(r.MaxAmountRequired, 10, 64)
}

// FeePayer returns the facilitator fee-payer address injected into
// extra.feePayer, or "" when absent.
func (r *PaymentRequirements) FeePayer() string {
	if r.Extra == nil {
		return ""
	}
	if v, ok := r.Extra["feePayer"].(string); ok {
		return v
	}
	return ""
}

// IsCrossmintWallet reports whether the requirements flag the payer wallet as
// custodially managed by Crossmint.
func (r *PaymentRequirements) IsCrossmintWallet() bool {
	if r.Extra == nil {
		return false
	}
	v, ok := r.Extra["isCrossmintWallet"].(bool)
	return ok && v
}

// ExactSvmPayload carries the base64 wire-encoded, partially signed
// transaction that proves the payment.
type ExactSvmPayload struct {
	Transaction string `json:"transaction"`
}

// PaymentPayload is the client-submitted proof of payment. It is constructed
// once by the paying client and consumed exactly once by verify then settle.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Scheme      string          `json:"scheme"`
	Network     Network         `json:"network"`
	Payload     ExactSvmPayload `json:"payload"`
}

// VerifyRequest is the /verify request body.
type VerifyRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload" binding:"required"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements" binding:"required"`
}

// VerifyResponse is the terminal result of payment verification.
type VerifyResponse struct {
	IsValid       bool      `json:"isValid"`
	InvalidReason ErrorKind `json:"invalidReason,omitempty"`
	Payer         string    `json:"payer,omitempty"`
}

// SettleRequest is the /settle request body.
type SettleRequest struct {
	PaymentPayload      PaymentPayload      `json:"paymentPayload" binding:"required"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements" binding:"required"`
}

// SettleResponse is the terminal result of payment settlement. JobID is set
// when the committed transaction carried a job-registration instruction and
// its job-record address could be extracted; settlement success is
// independent of JobID extraction.
type SettleResponse struct {
	Success     bool      `json:"success"`
	ErrorReason ErrorKind `json:"errorReason,omitempty"`
	Transaction string    `json:"transaction"`
	Network     Network   `json:"network"`
	Payer       string    `json:"payer,omitempty"`
	JobID       string    `json:"jobId,omitempty"`
}

// PrepareRequest asks the facilitator to assemble an unsigned payment
// transaction on a client's behalf.
type PrepareRequest struct {
	PaymentRequirements PaymentRequirements `json:"paymentRequirements" binding:"required"`
	WalletAddress       string              `json:"walletAddress" binding:"required"`
	EnableTrustless     bool                `json:"enableTrustless,omitempty"`
}

// PrepareResponse returns the assembled transaction together with the
// requirements enriched with the facilitator's fee payer.
type PrepareResponse struct {
	Transaction         string              `json:"transaction"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SupportedKind is one scheme/network combination the facilitator services.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     Network                `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is the /supported response body.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// ErrorResponse is the body returned for request-level failures (400/401/500).
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Clone returns a deep copy of the requirements. Handlers enrich a copy
// rather than mutating caller-supplied requirements.
func (r PaymentRequirements) Clone() PaymentRequirements {
	out := r
	if r.Extra != nil {
		out.Extra = make(map[string]interface{}, len(r.Extra))
		raw, err := json.Marshal(r.Extra)
		if err == nil {
			_ = json.Unmarshal(raw, &out.Extra)
		}
	}
	return out
}
