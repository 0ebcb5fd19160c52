// Package token provides the currency collaborators the settlement core
// talks to: an ERC-20 style interface, EIP-2612 permits, a test faucet and
// an address registry.
package token

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ArtaPay/artapay-sc/internal/ledger"
)

var (
	ErrInsufficientBalance   = errors.New("token: transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("token: insufficient allowance")
	ErrZeroAddress           = errors.New("token: zero address")
	ErrNegativeAmount        = errors.New("token: negative amount")
	ErrPermitExpired         = errors.New("token: permit expired")
	ErrInvalidPermit         = errors.New("token: invalid permit signature")
	ErrMintLimit             = errors.New("token: mint exceeds per-call limit")
	ErrUnknownToken          = errors.New("token: unknown token")
	ErrDuplicateToken        = errors.New("token: already registered")
)

// MaxUint256 is the "infinite" allowance. Allowances at this value are not
// decremented by TransferFrom.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ERC20 is the fungible-token surface used by the oracle, pool, paymaster
// and settlement protocol. Mutating methods run inside a ledger call.
type ERC20 interface {
	Address() common.Address
	Symbol() string
	Decimals() uint8
	BalanceOf(owner common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int
	Transfer(tx *ledger.Tx, from, to common.Address, amount *big.Int) error
	TransferFrom(tx *ledger.Tx, spender, from, to common.Address, amount *big.Int) error
	Approve(tx *ledger.Tx, owner, spender common.Address, amount *big.Int) error
}

// Permitter is implemented by tokens that accept EIP-2612 gasless approvals.
type Permitter interface {
	Permit(tx *ledger.Tx, owner, spender common.Address, value, deadline *big.Int, v uint8, r, s [32]byte) error
}

// Minter is the test-faucet entry point.
type Minter interface {
	Mint(tx *ledger.Tx, to common.Address, amount *big.Int) error
}

// Registry resolves currency addresses to their token implementation.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]ERC20
	order  []common.Address
}

func NewRegistry() *Registry {
	return &Registry{tokens: make(map[common.Address]ERC20)}
}

func (r *Registry) Add(t ERC20) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tokens[t.Address()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateToken, t.Address().Hex())
	}
	r.tokens[t.Address()] = t
	r.order = append(r.order, t.Address())
	return nil
}

// Lookup returns the token deployed at addr.
func (r *Registry) Lookup(addr common.Address) (ERC20, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return t, nil
}

// Decimals resolves the decimal places of addr.
func (r *Registry) Decimals(addr common.Address) (uint8, error) {
	t, err := r.Lookup(addr)
	if err != nil {
		return 0, err
	}
	return t.Decimals(), nil
}

// All returns the registered tokens in insertion order.
func (r *Registry) All() []ERC20 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ERC20, 0, len(r.order))
	for _, a := range r.order {
		out = append(out, r.tokens[a])
	}
	return out
}
