package svm

import (
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	x402 "github.com/amiko-network/x402-facilitator"
)

// Instruction is one decompiled instruction: program address, resolved
// account metas in instruction order, and raw data bytes.
type Instruction struct {
	ProgramID solana.PublicKey
	Accounts  []*solana.AccountMeta
	Data      []byte
}

// HasAccount reports whether the instruction references the given address in
// any role.
func (ix *Instruction) HasAccount(key solana.PublicKey) bool {
	for _, meta := range ix.Accounts {
		if meta.PublicKey.Equals(key) {
			return true
		}
	}
	return false
}

// DecodeTransaction decodes a base64 wire-encoded transaction. Every
// structural violation is reported as a malformed-transaction rejection.
func DecodeTransaction(b64 string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ReasonMalformedTransaction, fmt.Errorf("invalid base64: %w", err))
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ReasonMalformedTransaction, fmt.Errorf("decode transaction: %w", err))
	}
	return tx, nil
}

// EncodeTransaction serializes a transaction to the base64 wire format.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// EncodeTransactionBase58 serializes to the base58 wire format used by the
// custodial signing API.
func EncodeTransactionBase58(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal transaction: %w", err)
	}
	return base58.Encode(raw), nil
}

// DecodeTransactionBase58 decodes a base58 wire-encoded transaction.
func DecodeTransactionBase58(b58 string) (*solana.Transaction, error) {
	raw, err := base58.Decode(b58)
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ReasonMalformedTransaction, fmt.Errorf("invalid base58: %w", err))
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, x402.WrapPaymentError(x402.ReasonMalformedTransaction, fmt.Errorf("decode transaction: %w", err))
	}
	return tx, nil
}

// ToBase58 encodes raw bytes as base58 text.
func ToBase58(b []byte) string { return base58.Encode(b) }

// FromBase58 decodes base58 text into raw bytes.
func FromBase58(s string) ([]byte, error) { return base58.Decode(s) }

// Decompile resolves every compiled instruction of the message against its
// account key list. Instruction order is preserved exactly as submitted; an
// out-of-range index anywhere rejects the whole transaction as malformed.
func Decompile(tx *solana.Transaction) ([]Instruction, error) {
	msg := &tx.Message
	out := make([]Instruction, 0, len(msg.Instructions))

	for i := range msg.Instructions {
		compiled := &msg.Instructions[i]

		if int(compiled.ProgramIDIndex) >= len(msg.AccountKeys) {
			return nil, x402.NewPaymentError(x402.ReasonMalformedTransaction,
				"instruction %d: program index %d out of range", i, compiled.ProgramIDIndex)
		}
		programID := msg.AccountKeys[compiled.ProgramIDIndex]

		accounts := make([]*solana.AccountMeta, len(compiled.Accounts))
		for j, idx := range compiled.Accounts {
			if int(idx) >= len(msg.AccountKeys) {
				return nil, x402.NewPaymentError(x402.ReasonMalformedTransaction,
					"instruction %d: account index %d out of range", i, idx)
			}
			key := msg.AccountKeys[idx]
			writable, err := msg.IsWritable(key)
			if err != nil {
				return nil, x402.WrapPaymentError(x402.ReasonMalformedTransaction, err)
			}
			accounts[j] = &solana.AccountMeta{
				PublicKey:  key,
				IsSigner:   msg.IsSigner(key),
				IsWritable: writable,
			}
		}

		out = append(out, Instruction{
			ProgramID: programID,
			Accounts:  accounts,
			Data:      compiled.Data,
		})
	}

	return out, nil
}

// FeePayerOf returns the transaction's fee payer, the first account of the
// message. Used for diagnostic payer extraction on failed verifications.
func FeePayerOf(tx *solana.Transaction) (solana.PublicKey, error) {
	if len(tx.Message.AccountKeys) == 0 {
		return solana.PublicKey{}, x402.NewPaymentError(x402.ReasonMalformedTransaction, "empty account key list")
	}
	return tx.Message.AccountKeys[0], nil
}
