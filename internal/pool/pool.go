// Package pool implements a price-taking exchange: prices come from the
// oracle and the pool only checks it holds enough of the output currency.
package pool

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ArtaPay/artapay-sc/internal/ledger"
	"github.com/ArtaPay/artapay-sc/internal/token"
)

const (
	SwapFeeBps     = 10
	BpsDenominator = 10_000
)

var (
	ErrSameCurrency        = errors.New("pool: identical currencies")
	ErrInactive            = errors.New("pool: currency inactive")
	ErrZeroAmount          = errors.New("pool: zero amount")
	ErrSlippage            = errors.New("pool: output below minimum")
	ErrInsufficientReserve = errors.New("pool: insufficient reserve")
	ErrNothingToWithdraw   = errors.New("pool: no fees collected")
	ErrZeroAddress         = errors.New("pool: zero address")
)

// PriceSource is the subset of the oracle the pool prices with.
type PriceSource interface {
	Address() common.Address
	Convert(from, to common.Address, amount *big.Int) (*big.Int, error)
	IsActive(addr common.Address) bool
}

// Quote is the result of pricing a swap.
type Quote struct {
	AmountOut *big.Int `json:"amount_out"`
	Fee       *big.Int `json:"fee"`
	TotalIn   *big.Int `json:"total_in"`
}

type Pool struct {
	*ledger.Pausable

	addr     common.Address
	oracle   PriceSource
	tokens   *token.Registry
	reserves *ledger.Table[*big.Int]
	fees     *ledger.Table[*big.Int]
	guard    ledger.Guard
}

func New(st *ledger.State, addr, owner common.Address, oracle PriceSource, tokens *token.Registry) *Pool {
	const name = "pool"
	return &Pool{
		Pausable: ledger.NewPausable(st, name, ledger.NewOwnable(st, name, addr, owner)),
		addr:     addr,
		oracle:   oracle,
		tokens:   tokens,
		reserves: ledger.NewTable[*big.Int](st, name+":reserves"),
		fees:     ledger.NewTable[*big.Int](st, name+":fees"),
	}
}

func (p *Pool) Address() common.Address { return p.addr }

func (p *Pool) Reserve(currency common.Address) *big.Int {
	if r, ok := p.reserves.Get(currency.Hex()); ok {
		return new(big.Int).Set(r)
	}
	return new(big.Int)
}

func (p *Pool) CollectedFee(currency common.Address) *big.Int {
	if f, ok := p.fees.Get(currency.Hex()); ok {
		return new(big.Int).Set(f)
	}
	return new(big.Int)
}

// Fee returns the swap fee charged on top of amountIn.
func Fee(amountIn *big.Int) *big.Int {
	fee := new(big.Int).Mul(amountIn, big.NewInt(SwapFeeBps))
	return fee.Quo(fee, big.NewInt(BpsDenominator))
}

// Quote prices swapping amountIn of in for out. The fee is charged on top.
func (p *Pool) Quote(in, out common.Address, amountIn *big.Int) (Quote, error) {
	amountOut, err := p.oracle.Convert(in, out, amountIn)
	if err != nil {
		return Quote{}, err
	}
	fee := Fee(amountIn)
	return Quote{
		AmountOut: amountOut,
		Fee:       fee,
		TotalIn:   new(big.Int).Add(amountIn, fee),
	}, nil
}

// Swap sells amountIn (plus the fee) of in from caller for out at the
// oracle price. Reserves and fees are booked before any token moves.
func (p *Pool) Swap(tx *ledger.Tx, caller common.Address, amountIn *big.Int, in, out common.Address, minAmountOut *big.Int) (*big.Int, error) {
	if err := p.WhenNotPaused(); err != nil {
		return nil, err
	}
	if in == out {
		return nil, ErrSameCurrency
	}
	if !p.oracle.IsActive(in) || !p.oracle.IsActive(out) {
		return nil, ErrInactive
	}
	if amountIn.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	q, err := p.Quote(in, out, amountIn)
	if err != nil {
		return nil, err
	}
	if q.AmountOut.Cmp(minAmountOut) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrSlippage, q.AmountOut, minAmountOut)
	}
	reserveOut := p.Reserve(out)
	if reserveOut.Cmp(q.AmountOut) < 0 {
		return nil, fmt.Errorf("%w: have %s, need %s", ErrInsufficientReserve, reserveOut, q.AmountOut)
	}
	tokIn, err := p.tokens.Lookup(in)
	if err != nil {
		return nil, err
	}
	tokOut, err := p.tokens.Lookup(out)
	if err != nil {
		return nil, err
	}

	p.reserves.Set(tx, in.Hex(), new(big.Int).Add(p.Reserve(in), q.TotalIn))
	p.reserves.Set(tx, out.Hex(), reserveOut.Sub(reserveOut, q.AmountOut))
	p.fees.Set(tx, in.Hex(), new(big.Int).Add(p.CollectedFee(in), q.Fee))
	tx.Emit(p.addr, Swapped{
		Account:   caller,
		TokenIn:   in,
		TokenOut:  out,
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: q.AmountOut,
		Fee:       q.Fee,
	})

	if err := tokIn.TransferFrom(tx, p.addr, caller, p.addr, q.TotalIn); err != nil {
		return nil, err
	}
	if err := tokOut.Transfer(tx, p.addr, caller, q.AmountOut); err != nil {
		return nil, err
	}
	return q.AmountOut, nil
}

// ── Liquidity (owner) ────────────────────────────────────────────────────────

func (p *Pool) Deposit(tx *ledger.Tx, caller, currency common.Address, amount *big.Int) error {
	if err := p.OnlyOwner(caller); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	tok, err := p.tokens.Lookup(currency)
	if err != nil {
		return err
	}
	p.reserves.Set(tx, currency.Hex(), new(big.Int).Add(p.Reserve(currency), amount))
	tx.Emit(p.addr, Deposited{Currency: currency, Amount: new(big.Int).Set(amount)})
	return tok.TransferFrom(tx, p.addr, caller, p.addr, amount)
}

func (p *Pool) Withdraw(tx *ledger.Tx, caller, currency common.Address, amount *big.Int) error {
	if err := p.OnlyOwner(caller); err != nil {
		return err
	}
	if amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	reserve := p.Reserve(currency)
	if reserve.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, want %s", ErrInsufficientReserve, reserve, amount)
	}
	tok, err := p.tokens.Lookup(currency)
	if err != nil {
		return err
	}
	p.reserves.Set(tx, currency.Hex(), reserve.Sub(reserve, amount))
	tx.Emit(p.addr, Withdrawn{Currency: currency, Amount: new(big.Int).Set(amount)})
	return tok.Transfer(tx, p.addr, caller, amount)
}

// WithdrawFees sends the collected fees of currency to to. Fees were booked
// into the reserve on swap-in, so the reserve shrinks by the same amount.
func (p *Pool) WithdrawFees(tx *ledger.Tx, caller, currency, to common.Address) (*big.Int, error) {
	if err := p.OnlyOwner(caller); err != nil {
		return nil, err
	}
	if err := p.guard.Enter(tx); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	fee := p.CollectedFee(currency)
	if fee.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	tok, err := p.tokens.Lookup(currency)
	if err != nil {
		return nil, err
	}
	reserve := p.Reserve(currency)
	if reserve.Cmp(fee) < 0 {
		return nil, fmt.Errorf("%w: have %s, fees %s", ErrInsufficientReserve, reserve, fee)
	}

	p.fees.Set(tx, currency.Hex(), new(big.Int))
	p.reserves.Set(tx, currency.Hex(), reserve.Sub(reserve, fee))
	tx.Emit(p.addr, FeesWithdrawn{Currency: currency, To: to, Amount: new(big.Int).Set(fee)})

	if err := tok.Transfer(tx, p.addr, to, fee); err != nil {
		return nil, err
	}
	p.guard.Exit(tx)
	return fee, nil
}

// ── Admin ────────────────────────────────────────────────────────────────────

func (p *Pool) Oracle() PriceSource { return p.oracle }

func (p *Pool) SetOracle(tx *ledger.Tx, caller common.Address, oracle PriceSource) error {
	if err := p.OnlyOwner(caller); err != nil {
		return err
	}
	if oracle == nil || oracle.Address() == (common.Address{}) {
		return ErrZeroAddress
	}
	prev := p.oracle
	p.oracle = oracle
	tx.OnRevert(func() { p.oracle = prev })
	tx.Emit(p.addr, OracleUpdated{Previous: prev.Address(), Next: oracle.Address()})
	return nil
}
