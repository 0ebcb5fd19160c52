// Package payment settles merchant-signed payment requests in any supported
// currency, converting through the exchange pool when needed.
package payment

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ArtaPay/artapay-sc/internal/auth"
)

var ErrInvalidSignature = errors.New("payment: invalid merchant signature")

// Request is a payment obligation signed off-chain by the merchant. It is
// never stored; only its nonce is.
type Request struct {
	Recipient         common.Address `json:"recipient"`
	RequestedCurrency common.Address `json:"requested_currency"`
	RequestedAmount   *big.Int       `json:"requested_amount"`
	Deadline          uint64         `json:"deadline"`
	Nonce             common.Hash    `json:"nonce"`
	Signer            common.Address `json:"signer"`
}

var requestArgs = func() abi.Arguments {
	address, _ := abi.NewType("address", "", nil)
	uint256, _ := abi.NewType("uint256", "", nil)
	bytes32, _ := abi.NewType("bytes32", "", nil)
	return abi.Arguments{
		{Name: "settlement", Type: address},
		{Name: "chainId", Type: uint256},
		{Name: "recipient", Type: address},
		{Name: "requestedCurrency", Type: address},
		{Name: "requestedAmount", Type: uint256},
		{Name: "deadline", Type: uint256},
		{Name: "nonce", Type: bytes32},
		{Name: "signer", Type: address},
	}
}()

// HashRequest binds r to one settlement instance on one chain:
// keccak256(abi.encode(settlement, chainId, recipient, requestedCurrency,
// requestedAmount, deadline, nonce, signer)). Signatures are taken over the
// EIP-191 envelope of this hash.
func HashRequest(settlement common.Address, chainID *big.Int, r Request) (common.Hash, error) {
	amount := r.RequestedAmount
	if amount == nil {
		amount = new(big.Int)
	}
	packed, err := requestArgs.Pack(
		settlement,
		chainID,
		r.Recipient,
		r.RequestedCurrency,
		amount,
		new(big.Int).SetUint64(r.Deadline),
		[32]byte(r.Nonce),
		r.Signer,
	)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// SignRequest signs r as the merchant holding key. r.Signer must be the
// address of key for the signature to verify.
func SignRequest(key *ecdsa.PrivateKey, settlement common.Address, chainID *big.Int, r Request) ([]byte, error) {
	h, err := HashRequest(settlement, chainID, r)
	if err != nil {
		return nil, err
	}
	return auth.Sign(h[:], key)
}

// VerifyRequest checks that sig over r was produced by r.Signer.
func VerifyRequest(settlement common.Address, chainID *big.Int, r Request, sig []byte) error {
	h, err := HashRequest(settlement, chainID, r)
	if err != nil {
		return err
	}
	signer, err := auth.Recover(h[:], sig)
	if err != nil || signer != r.Signer {
		return ErrInvalidSignature
	}
	return nil
}
