// Package auth covers the wallet signatures the settlement core accepts.
// Merchants sign payment request digests and the sponsor signer signs
// paymaster approval digests, both as EIP-191 personal messages over the
// 32-byte digest. API callers sign the X-Signed-Message payload the same
// way; Middleware checks it and binds the recovered wallet to the request.
package auth

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrSignatureLength rejects anything but a 65-byte R || S || V signature.
var ErrSignatureLength = errors.New("auth: signature must be 65 bytes")

// HashMessage wraps msg in the personal-message envelope,
// keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg). A payment
// request or sponsor digest is therefore hashed under the "\n32" prefix,
// which is what wallets and on-chain ECDSA.toEthSignedMessageHash produce.
func HashMessage(msg []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return crypto.Keccak256([]byte(prefix), msg)
}

// Recover returns the wallet that signed msg. The paymaster uses it to
// check sponsor approvals, payment settlement to check the merchant on a
// request, and Middleware to identify API callers. V may be 0/1 or 27/28.
func Recover(msg []byte, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: got %d", ErrSignatureLength, len(sig))
	}

	// crypto.SigToPub wants V in {0,1}
	norm := make([]byte, 65)
	copy(norm, sig)
	if norm[64] >= 27 {
		norm[64] -= 27
	}

	pub, err := crypto.SigToPub(HashMessage(msg), norm)
	if err != nil {
		return common.Address{}, fmt.Errorf("ecrecover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign signs msg as a personal message with V in {27,28}. The sponsor
// signer uses it for paymaster approvals and merchant tooling for payment
// requests.
func Sign(msg []byte, key *ecdsa.PrivateKey) ([]byte, error) {
	sig, err := crypto.Sign(HashMessage(msg), key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}
