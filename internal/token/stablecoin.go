package token

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ArtaPay/artapay-sc/internal/ledger"
)

// Config describes one mock stablecoin deployment.
type Config struct {
	Address  common.Address
	Name     string
	Symbol   string
	Decimals uint8
	// MaxMintPerCall bounds a single faucet mint. Nil means unbounded.
	MaxMintPerCall *big.Int
}

// TransferHook runs after a transfer has been booked, inside the same call.
// It models token callbacks that re-enter the caller.
type TransferHook func(tx *ledger.Tx, from, to common.Address, amount *big.Int) error

// Stablecoin is a ledger-backed ERC-20 with EIP-2612 permits and an open
// test faucet.
type Stablecoin struct {
	cfg        Config
	balances   *ledger.Table[*big.Int]
	allowances *ledger.Table[*big.Int]
	nonces     *ledger.Table[uint64]
	supply     *ledger.Slot[*big.Int]
	hook       TransferHook
}

var (
	_ ERC20     = (*Stablecoin)(nil)
	_ Permitter = (*Stablecoin)(nil)
	_ Minter    = (*Stablecoin)(nil)
)

func NewStablecoin(st *ledger.State, cfg Config) *Stablecoin {
	prefix := "token:" + strings.ToLower(cfg.Address.Hex()) + ":"
	return &Stablecoin{
		cfg:        cfg,
		balances:   ledger.NewTable[*big.Int](st, prefix+"balances"),
		allowances: ledger.NewTable[*big.Int](st, prefix+"allowances"),
		nonces:     ledger.NewTable[uint64](st, prefix+"nonces"),
		supply:     ledger.NewSlot(st, prefix+"supply", new(big.Int)),
	}
}

// SetTransferHook installs h. Pass nil to remove it.
func (c *Stablecoin) SetTransferHook(h TransferHook) { c.hook = h }

func (c *Stablecoin) Address() common.Address { return c.cfg.Address }
func (c *Stablecoin) Name() string            { return c.cfg.Name }
func (c *Stablecoin) Symbol() string          { return c.cfg.Symbol }
func (c *Stablecoin) Decimals() uint8         { return c.cfg.Decimals }

func (c *Stablecoin) TotalSupply() *big.Int {
	return new(big.Int).Set(c.supply.Get())
}

func (c *Stablecoin) BalanceOf(owner common.Address) *big.Int {
	if b, ok := c.balances.Get(owner.Hex()); ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func allowanceKey(owner, spender common.Address) string {
	return owner.Hex() + ":" + spender.Hex()
}

func (c *Stablecoin) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := c.allowances.Get(allowanceKey(owner, spender)); ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Nonces returns the next permit nonce of owner.
func (c *Stablecoin) Nonces(owner common.Address) uint64 {
	n, _ := c.nonces.Get(owner.Hex())
	return n
}

func (c *Stablecoin) Transfer(tx *ledger.Tx, from, to common.Address, amount *big.Int) error {
	return c.move(tx, from, to, amount)
}

func (c *Stablecoin) TransferFrom(tx *ledger.Tx, spender, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	allowed := c.Allowance(from, spender)
	if allowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s allowed %s, need %s", ErrInsufficientAllowance, c.cfg.Symbol, allowed, amount)
	}
	if allowed.Cmp(MaxUint256) != 0 {
		c.allowances.Set(tx, allowanceKey(from, spender), new(big.Int).Sub(allowed, amount))
	}
	return c.move(tx, from, to, amount)
}

func (c *Stablecoin) Approve(tx *ledger.Tx, owner, spender common.Address, amount *big.Int) error {
	if owner == (common.Address{}) || spender == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	c.allowances.Set(tx, allowanceKey(owner, spender), new(big.Int).Set(amount))
	tx.Emit(c.cfg.Address, Approval{Owner: owner, Spender: spender, Amount: new(big.Int).Set(amount)})
	return nil
}

// Mint credits amount to to. Anyone may call it.
func (c *Stablecoin) Mint(tx *ledger.Tx, to common.Address, amount *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if c.cfg.MaxMintPerCall != nil && amount.Cmp(c.cfg.MaxMintPerCall) > 0 {
		return fmt.Errorf("%w: %s > %s", ErrMintLimit, amount, c.cfg.MaxMintPerCall)
	}
	c.balances.Set(tx, to.Hex(), new(big.Int).Add(c.BalanceOf(to), amount))
	c.supply.Set(tx, new(big.Int).Add(c.supply.Get(), amount))
	tx.Emit(c.cfg.Address, Transfer{To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

func (c *Stablecoin) move(tx *ledger.Tx, from, to common.Address, amount *big.Int) error {
	if from == (common.Address{}) || to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	bal := c.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, need %s", ErrInsufficientBalance, from.Hex(), bal, amount)
	}
	c.balances.Set(tx, from.Hex(), new(big.Int).Sub(bal, amount))
	c.balances.Set(tx, to.Hex(), new(big.Int).Add(c.BalanceOf(to), amount))
	tx.Emit(c.cfg.Address, Transfer{From: from, To: to, Amount: new(big.Int).Set(amount)})
	if c.hook != nil {
		return c.hook(tx, from, to, amount)
	}
	return nil
}
