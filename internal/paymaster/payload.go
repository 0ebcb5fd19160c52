package paymaster

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// paymasterAndData layout. The host owns the 52-byte header:
//
//	paymaster(20) | verificationGasLimit(16) | postOpGasLimit(16)
//
// The authorization payload follows at these offsets:
//
//	[0:20)   currency
//	[20:40)  payer
//	[40:46)  validUntil (uint48)
//	[46:52)  validAfter (uint48)
//	[52]     hasPermit
//	[53]     isActivation
//	[54:151) permit, only when hasPermit: deadline(32) | v(1) | r(32) | s(32)
//	[..]     signature
const (
	HeaderLen     = 52
	MinPayloadLen = 54
	PermitLen     = 97
	maxUint48     = 1<<48 - 1
)

var (
	ErrMalformedPayload = errors.New("paymaster: malformed payload")
	ErrWindowOverflow   = errors.New("paymaster: validity window exceeds uint48")
)

// Header is the host-owned prefix of paymasterAndData.
type Header struct {
	Paymaster            common.Address
	VerificationGasLimit uint64
	PostOpGasLimit       uint64
}

// Permit is the embedded EIP-2612 approval. Its value is always MaxUint256.
type Permit struct {
	Deadline *big.Int
	V        uint8
	R        [32]byte
	S        [32]byte
}

// Authorization is the decoded sponsorship payload. It lives only for the
// duration of one validation.
type Authorization struct {
	Currency     common.Address
	Payer        common.Address
	ValidUntil   uint64
	ValidAfter   uint64
	IsActivation bool
	Permit       *Permit
	Signature    []byte
}

// ParseAuthorization decodes the payload that follows the header of
// paymasterAndData.
func ParseAuthorization(paymasterAndData []byte) (*Authorization, error) {
	if len(paymasterAndData) < HeaderLen+MinPayloadLen {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformedPayload, len(paymasterAndData), HeaderLen+MinPayloadLen)
	}
	p := paymasterAndData[HeaderLen:]
	a := &Authorization{
		Currency:     common.BytesToAddress(p[0:20]),
		Payer:        common.BytesToAddress(p[20:40]),
		ValidUntil:   readUint48(p[40:46]),
		ValidAfter:   readUint48(p[46:52]),
		IsActivation: p[53] != 0,
	}
	rest := p[MinPayloadLen:]
	if p[52] != 0 {
		if len(rest) < PermitLen {
			return nil, fmt.Errorf("%w: permit needs %d bytes, have %d", ErrMalformedPayload, PermitLen, len(rest))
		}
		pm := &Permit{
			Deadline: new(big.Int).SetBytes(rest[0:32]),
			V:        rest[32],
		}
		copy(pm.R[:], rest[33:65])
		copy(pm.S[:], rest[65:97])
		a.Permit = pm
		rest = rest[PermitLen:]
	}
	a.Signature = append([]byte(nil), rest...)
	return a, nil
}

// Encode serializes a (without header) in the wire layout.
func (a *Authorization) Encode() ([]byte, error) {
	if a.ValidUntil > maxUint48 || a.ValidAfter > maxUint48 {
		return nil, ErrWindowOverflow
	}
	n := MinPayloadLen + len(a.Signature)
	if a.Permit != nil {
		n += PermitLen
	}
	out := make([]byte, MinPayloadLen, n)
	copy(out[0:20], a.Currency.Bytes())
	copy(out[20:40], a.Payer.Bytes())
	putUint48(out[40:46], a.ValidUntil)
	putUint48(out[46:52], a.ValidAfter)
	if a.IsActivation {
		out[53] = 1
	}
	if a.Permit != nil {
		out[52] = 1
		pm := make([]byte, PermitLen)
		if a.Permit.Deadline.Sign() < 0 || a.Permit.Deadline.BitLen() > 256 {
			return nil, fmt.Errorf("%w: permit deadline", ErrMalformedPayload)
		}
		a.Permit.Deadline.FillBytes(pm[0:32])
		pm[32] = a.Permit.V
		copy(pm[33:65], a.Permit.R[:])
		copy(pm[65:97], a.Permit.S[:])
		out = append(out, pm...)
	}
	return append(out, a.Signature...), nil
}

// EncodePaymasterAndData prefixes the encoded authorization with h.
func EncodePaymasterAndData(h Header, a *Authorization) ([]byte, error) {
	payload, err := a.Encode()
	if err != nil {
		return nil, err
	}
	out := make([]byte, HeaderLen, HeaderLen+len(payload))
	copy(out[0:20], h.Paymaster.Bytes())
	new(big.Int).SetUint64(h.VerificationGasLimit).FillBytes(out[20:36])
	new(big.Int).SetUint64(h.PostOpGasLimit).FillBytes(out[36:52])
	return append(out, payload...), nil
}

func readUint48(b []byte) uint64 {
	var v uint64
	for _, x := range b[:6] {
		v = v<<8 | uint64(x)
	}
	return v
}

func putUint48(b []byte, v uint64) {
	for i := 5; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint48T, _  = abi.NewType("uint48", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	boolT, _    = abi.NewType("bool", "", nil)

	digestArgs = abi.Arguments{
		{Name: "payer", Type: addressT},
		{Name: "currency", Type: addressT},
		{Name: "validAfter", Type: uint48T},
		{Name: "validUntil", Type: uint48T},
		{Name: "isActivation", Type: boolT},
	}
)

// Digest is keccak256(abi.encode(payer, currency, validAfter, validUntil,
// isActivation)). The operation hash is not part of it; signers sign it in
// the EIP-191 envelope.
func Digest(payer, currency common.Address, validAfter, validUntil uint64, isActivation bool) (common.Hash, error) {
	if validUntil > maxUint48 || validAfter > maxUint48 {
		return common.Hash{}, ErrWindowOverflow
	}
	packed, err := digestArgs.Pack(
		payer,
		currency,
		new(big.Int).SetUint64(validAfter),
		new(big.Int).SetUint64(validUntil),
		isActivation,
	)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(packed), nil
}

// Digest hashes the static fields of a.
func (a *Authorization) Digest() (common.Hash, error) {
	return Digest(a.Payer, a.Currency, a.ValidAfter, a.ValidUntil, a.IsActivation)
}
