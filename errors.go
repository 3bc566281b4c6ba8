package x402

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable, machine-readable reason code. Expected
// payment-invalidity outcomes travel as data in VerifyResponse/SettleResponse
// rather than as raw errors.
type ErrorKind string

// Verification reason codes.
const (
	ReasonInvalidScheme  ErrorKind = "invalid_scheme"
	ReasonInvalidNetwork ErrorKind = "invalid_network"

	ReasonMalformedTransaction     ErrorKind = "invalid_exact_svm_payload_transaction_malformed"
	ReasonInvalidInstructionCount  ErrorKind = "invalid_exact_svm_payload_transaction_instructions_length"
	ReasonInvalidComputeLimit      ErrorKind = "invalid_exact_svm_payload_compute_limit_instruction"
	ReasonComputePriceTooHigh      ErrorKind = "invalid_exact_svm_payload_compute_price_too_high"
	ReasonFeePayerInInstruction    ErrorKind = "invalid_exact_svm_payload_fee_payer_included_in_instruction_accounts"
	ReasonCreateATAIncorrectPayee  ErrorKind = "invalid_exact_svm_payload_create_ata_incorrect_payee"
	ReasonCreateATAIncorrectAsset  ErrorKind = "invalid_exact_svm_payload_create_ata_incorrect_asset"
	ReasonNoTransferInstruction    ErrorKind = "invalid_exact_svm_payload_no_transfer_instruction"
	ReasonFeePayerTransferringFund ErrorKind = "invalid_exact_svm_payload_fee_payer_transferring_funds"
	ReasonTransferToIncorrectATA   ErrorKind = "invalid_exact_svm_payload_transfer_to_incorrect_ata"
	ReasonReceiverATANotFound      ErrorKind = "invalid_exact_svm_payload_receiver_ata_not_found"
	ReasonSenderATANotFound        ErrorKind = "invalid_exact_svm_payload_sender_ata_not_found"
	ReasonAmountMismatch           ErrorKind = "invalid_exact_svm_payload_transaction_amount_mismatch"
	ReasonSimulationFailed         ErrorKind = "invalid_exact_svm_payload_transaction_simulation_failed"
	ReasonUnexpectedVerifyError    ErrorKind = "unexpected_verify_error"
)

// Settlement reason codes.
const (
	ReasonMissingSignatures     ErrorKind = "settle_exact_svm_missing_signatures"
	ReasonBroadcastFailed       ErrorKind = "settle_exact_svm_broadcast_failed"
	ReasonTransactionFailed     ErrorKind = "settle_exact_svm_transaction_failed"
	ReasonBlockHeightExceeded   ErrorKind = "settle_exact_svm_block_height_exceeded"
	ReasonConfirmationTimedOut  ErrorKind = "settle_exact_svm_confirmation_timed_out"
	ReasonUnexpectedSettleError ErrorKind = "unexpected_settle_error"
)

// PaymentError is an expected business-rule rejection carrying its reason
// code. It is produced by the introspection chain and translated into the
// final response shape by the verifier or the settlement engine; it must not
// escape those layers as a raw error.
type PaymentError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *PaymentError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// NewPaymentError builds a PaymentError with a formatted message.
func NewPaymentError(kind ErrorKind, format string, args ...interface{}) *PaymentError {
	return &PaymentError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapPaymentError attaches a reason code to an underlying cause.
func WrapPaymentError(kind ErrorKind, err error) *PaymentError {
	return &PaymentError{Kind: kind, Err: err}
}

// ReasonOf extracts the reason code from err, or fallback when err is not a
// PaymentError (i.e. an unexpected infrastructure fault).
func ReasonOf(err error, fallback ErrorKind) ErrorKind {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return fallback
}

// IsExpectedRejection reports whether err is a structured payment rejection
// as opposed to an infrastructure fault.
func IsExpectedRejection(err error) bool {
	var pe *PaymentError
	return errors.As(err, &pe)
}
