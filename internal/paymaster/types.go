// Package paymaster decides whether to pay the network fee of an account
// operation, prices that fee in a stablecoin and collects it afterwards.
package paymaster

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// UserOperation is the account operation submitted by the host pipeline.
type UserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *big.Int       `json:"nonce"`
	InitCode             []byte         `json:"initCode"`
	CallData             []byte         `json:"callData"`
	CallGasLimit         uint64         `json:"callGasLimit"`
	VerificationGasLimit uint64         `json:"verificationGasLimit"`
	PreVerificationGas   uint64         `json:"preVerificationGas"`
	MaxFeePerGas         *big.Int       `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *big.Int       `json:"maxPriorityFeePerGas"`
	PaymasterAndData     []byte         `json:"paymasterAndData"`
	Signature            []byte         `json:"signature"`
}

// PaymasterAddress extracts the paymaster address from PaymasterAndData.
// Returns the zero address if there is none.
func (op *UserOperation) PaymasterAddress() common.Address {
	if len(op.PaymasterAndData) < 20 {
		return common.Address{}
	}
	return common.BytesToAddress(op.PaymasterAndData[:20])
}

// PostOpMode is the outcome the host reports to PostOp.
type PostOpMode uint8

const (
	OpSucceeded PostOpMode = iota
	OpReverted
	// PostOpReverted means a previous PostOp call reverted and the host
	// calls again; nothing is collected.
	PostOpReverted
)

func (m PostOpMode) String() string {
	switch m {
	case OpSucceeded:
		return "op_succeeded"
	case OpReverted:
		return "op_reverted"
	case PostOpReverted:
		return "postop_reverted"
	}
	return "unknown"
}

// ValidationData is the verdict of Validate. A SigFailed verdict tells the
// host not to sponsor the operation without failing it.
type ValidationData struct {
	SigFailed  bool   `json:"sig_failed"`
	ValidUntil uint64 `json:"valid_until"`
	ValidAfter uint64 `json:"valid_after"`
}

// Pack encodes v as sigFailed | validUntil<<160 | validAfter<<208.
func (v ValidationData) Pack() *big.Int {
	out := new(big.Int).SetUint64(v.ValidAfter)
	out.Lsh(out, 48)
	out.Or(out, new(big.Int).SetUint64(v.ValidUntil))
	out.Lsh(out, 160)
	if v.SigFailed {
		out.SetBit(out, 0, 1)
	}
	return out
}

// UnpackValidationData reverses Pack.
func UnpackValidationData(packed *big.Int) ValidationData {
	mask48 := new(big.Int).SetUint64(1<<48 - 1)
	until := new(big.Int).Rsh(packed, 160)
	until.And(until, mask48)
	after := new(big.Int).Rsh(packed, 208)
	after.And(after, mask48)
	return ValidationData{
		SigFailed:  packed.Bit(0) == 1,
		ValidUntil: until.Uint64(),
		ValidAfter: after.Uint64(),
	}
}
