package token

import (
	"crypto/ecdsa"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ArtaPay/artapay-sc/internal/ledger"
)

var (
	domainTypeHash = crypto.Keccak256Hash([]byte(
		"EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)",
	))
	permitTypeHash = crypto.Keccak256Hash([]byte(
		"Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)",
	))
	versionHash = crypto.Keccak256Hash([]byte("1"))
)

// DomainSeparator computes the EIP-712 domain separator of a token.
func DomainSeparator(name string, chainID *big.Int, tokenAddr common.Address) [32]byte {
	// abi.encode(bytes32, bytes32, bytes32, uint256, address)
	encoded := make([]byte, 5*32)
	copy(encoded[0:32], domainTypeHash[:])
	nameHash := crypto.Keccak256Hash([]byte(name))
	copy(encoded[32:64], nameHash[:])
	copy(encoded[64:96], versionHash[:])
	chainID.FillBytes(encoded[96:128])
	copy(encoded[140:160], tokenAddr.Bytes())
	return crypto.Keccak256Hash(encoded)
}

// PermitDigest is the EIP-2612 digest the owner signs.
func PermitDigest(name string, chainID *big.Int, tokenAddr, owner, spender common.Address, value, nonce, deadline *big.Int) [32]byte {
	encoded := make([]byte, 6*32)
	copy(encoded[0:32], permitTypeHash[:])
	copy(encoded[44:64], owner.Bytes())
	copy(encoded[76:96], spender.Bytes())
	value.FillBytes(encoded[96:128])
	nonce.FillBytes(encoded[128:160])
	deadline.FillBytes(encoded[160:192])
	structHash := crypto.Keccak256Hash(encoded)
	sep := DomainSeparator(name, chainID, tokenAddr)

	// keccak256(0x1901 || domainSeparator || structHash)
	msg := make([]byte, 2+32+32)
	msg[0] = 0x19
	msg[1] = 0x01
	copy(msg[2:34], sep[:])
	copy(msg[34:66], structHash[:])
	return crypto.Keccak256Hash(msg)
}

// SignPermit signs an EIP-2612 permit for the owner of key. v is 27 or 28.
func SignPermit(key *ecdsa.PrivateKey, name string, chainID *big.Int, tokenAddr, spender common.Address, value, nonce, deadline *big.Int) (v uint8, r, s [32]byte, err error) {
	owner := crypto.PubkeyToAddress(key.PublicKey)
	digest := PermitDigest(name, chainID, tokenAddr, owner, spender, value, nonce, deadline)
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return 0, r, s, err
	}
	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])
	return sig[64] + 27, r, s, nil
}

// Permit sets the allowance of spender over owner's balance to value when
// (v, r, s) is owner's signature over the current permit nonce.
func (c *Stablecoin) Permit(tx *ledger.Tx, owner, spender common.Address, value, deadline *big.Int, v uint8, r, s [32]byte) error {
	if deadline.Cmp(new(big.Int).SetUint64(tx.Timestamp())) < 0 {
		return ErrPermitExpired
	}
	nonce := c.Nonces(owner)
	digest := PermitDigest(c.cfg.Name, tx.ChainID(), c.cfg.Address, owner, spender, value, new(big.Int).SetUint64(nonce), deadline)

	sig := make([]byte, 65)
	copy(sig[0:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = v
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return ErrInvalidPermit
	}
	if crypto.PubkeyToAddress(*pub) != owner {
		return ErrInvalidPermit
	}
	c.nonces.Set(tx, owner.Hex(), nonce+1)
	return c.Approve(tx, owner, spender, value)
}
