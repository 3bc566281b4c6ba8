package svm

import (
	"crypto/sha256"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/near/borsh-go"
)

// registerJobArgs is the borsh-encoded argument block of the register_job
// instruction, appended after the 8-byte discriminator.
type registerJobArgs struct {
	PaymentAmount uint64
}

// JobSeed is the random per-payment token a job registration is keyed by.
// Each payment maps to a distinct job record because the job-record PDA is
// seeded from it.
type JobSeed struct {
	Token uuid.UUID
}

// NewJobSeed draws a fresh random per-payment token.
func NewJobSeed() JobSeed {
	return JobSeed{Token: uuid.New()}
}

// JobIDKey expands the token into the 32-byte job-id reference address.
func (s JobSeed) JobIDKey() solana.PublicKey {
	sum := sha256.Sum256(s.Token[:])
	return solana.PublicKeyFromBytes(sum[:])
}

// PaymentTxKey expands the token into the proof-of-payment reference address
// stored on the job record. Feedback submission later has to present this
// exact address.
func (s JobSeed) PaymentTxKey() solana.PublicKey {
	sum := sha256.Sum256(append([]byte("payment:"), s.Token[:]...))
	return solana.PublicKeyFromBytes(sum[:])
}

// DeriveJobRecordAddress computes the job-record PDA for a job id.
func DeriveJobRecordAddress(programID, jobID solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{jobSeedPrefix, jobID.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive job record: %w", err)
	}
	return addr, nil
}

// DeriveAgentAddress computes the agent-account PDA for an agent wallet.
func DeriveAgentAddress(programID, agent solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{agentSeedPrefix, agent.Bytes()}, programID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive agent account: %w", err)
	}
	return addr, nil
}

// NewRegisterJobInstruction assembles the job-registration instruction the
// builder appends as the final instruction of a trustless payment.
//
// Account order follows the on-chain program's register_job context:
// agent-account PDA, job-record PDA, agent, client, payment reference,
// job id, facilitator signer, system program. The job-record PDA at index 1
// is the contract with the settlement engine's job-id extractor.
func NewRegisterJobInstruction(
	programID solana.PublicKey,
	disc [8]byte,
	seed JobSeed,
	agent solana.PublicKey,
	client solana.PublicKey,
	facilitator solana.PublicKey,
	paymentAmount uint64,
) (solana.Instruction, error) {
	jobID := seed.JobIDKey()

	jobRecord, err := DeriveJobRecordAddress(programID, jobID)
	if err != nil {
		return nil, err
	}
	agentAccount, err := DeriveAgentAddress(programID, agent)
	if err != nil {
		return nil, err
	}

	args, err := borsh.Serialize(registerJobArgs{PaymentAmount: paymentAmount})
	if err != nil {
		return nil, fmt.Errorf("serialize register_job args: %w", err)
	}
	data := make([]byte, 0, 8+len(args))
	data = append(data, disc[:]...)
	data = append(data, args...)

	accounts := solana.AccountMetaSlice{
		solana.Meta(agentAccount).WRITE(),
		solana.Meta(jobRecord).WRITE(),
		solana.Meta(agent),
		solana.Meta(client),
		solana.Meta(seed.PaymentTxKey()),
		solana.Meta(jobID),
		solana.Meta(facilitator).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}

	return solana.NewInstruction(programID, accounts, data), nil
}

// jobRecordAccountIndex is the job-record PDA's position in the register_job
// account list.
const jobRecordAccountIndex = 1

// ExtractJobID scans a transaction for the job-registration instruction and
// returns the job-record address it references. The second return is false
// when no such instruction is present or the transaction cannot be walked;
// callers treat that as "no job", never as a settlement failure.
func ExtractJobID(tx *solana.Transaction, cfg Config) (solana.PublicKey, bool) {
	if cfg.registryProgram().IsZero() {
		return solana.PublicKey{}, false
	}
	instructions, err := Decompile(tx)
	if err != nil {
		return solana.PublicKey{}, false
	}
	classifier := cfg.classifier()
	for i := range instructions {
		classified, err := classifier.Classify(&instructions[i])
		if err != nil || classified.Kind != KindRegisterJob {
			continue
		}
		if len(instructions[i].Accounts) <= jobRecordAccountIndex {
			return solana.PublicKey{}, false
		}
		return instructions[i].Accounts[jobRecordAccountIndex].PublicKey, true
	}
	return solana.PublicKey{}, false
}
