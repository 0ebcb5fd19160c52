package payment

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ArtaPay/artapay-sc/internal/ledger"
	"github.com/ArtaPay/artapay-sc/internal/pool"
	"github.com/ArtaPay/artapay-sc/internal/token"
)

var (
	ErrZeroRecipient     = errors.New("payment: zero recipient")
	ErrZeroAmount        = errors.New("payment: zero amount")
	ErrZeroSigner        = errors.New("payment: zero signer")
	ErrExpired           = errors.New("payment: request expired")
	ErrNonceUsed         = errors.New("payment: nonce already used")
	ErrInactiveCurrency  = errors.New("payment: currency inactive")
	ErrMaxAmountExceeded = errors.New("payment: total exceeds max amount to pay")
	ErrNoParts           = errors.New("payment: no payment parts")
	ErrUnderpaid         = errors.New("payment: parts do not cover the request")
	ErrZeroAddress       = errors.New("payment: zero address")
)

// PriceSource is the subset of the oracle the protocol quotes with.
type PriceSource interface {
	Converter
	Address() common.Address
	IsActive(addr common.Address) bool
}

// Exchange executes conversions for the protocol.
type Exchange interface {
	Address() common.Address
	Swap(tx *ledger.Tx, caller common.Address, amountIn *big.Int, in, out common.Address, minAmountOut *big.Int) (*big.Int, error)
}

var _ Exchange = (*pool.Pool)(nil)

// Part is one slice of a split payment.
type Part struct {
	Currency common.Address `json:"currency"`
	Amount   *big.Int       `json:"amount"`
}

// Settlement is the signed payment settlement protocol.
type Settlement struct {
	*ledger.Pausable

	addr         common.Address
	oracle       PriceSource
	exchange     Exchange
	tokens       *token.Registry
	usedNonces   *ledger.Table[bool]
	feeRecipient *ledger.Slot[common.Address]
	log          *zap.Logger
}

func New(st *ledger.State, addr, owner, feeRecipient common.Address, oracle PriceSource, exchange Exchange, tokens *token.Registry, log *zap.Logger) *Settlement {
	const name = "settlement"
	return &Settlement{
		Pausable:     ledger.NewPausable(st, name, ledger.NewOwnable(st, name, addr, owner)),
		addr:         addr,
		oracle:       oracle,
		exchange:     exchange,
		tokens:       tokens,
		usedNonces:   ledger.NewTable[bool](st, name+":used_nonces"),
		feeRecipient: ledger.NewSlot(st, name+":fee_recipient", feeRecipient),
		log:          log,
	}
}

func (s *Settlement) Address() common.Address      { return s.addr }
func (s *Settlement) FeeRecipient() common.Address { return s.feeRecipient.Get() }

func (s *Settlement) IsNonceUsed(nonce common.Hash) bool {
	used, _ := s.usedNonces.Get(nonce.Hex())
	return used
}

// Quote prices paying amount of requested in pay with the current oracle.
func (s *Settlement) Quote(requested common.Address, amount *big.Int, pay common.Address) (FeeBreakdown, error) {
	return Quote(s.oracle, requested, amount, pay)
}

// check runs every stateless and stateful precondition of a request except
// the currencies the payer brings.
func (s *Settlement) check(tx *ledger.Tx, r Request, sig []byte) error {
	if err := s.WhenNotPaused(); err != nil {
		return err
	}
	if r.Recipient == (common.Address{}) {
		return ErrZeroRecipient
	}
	if r.RequestedAmount == nil || r.RequestedAmount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if r.Deadline < tx.Timestamp() {
		return fmt.Errorf("%w: deadline %d, now %d", ErrExpired, r.Deadline, tx.Timestamp())
	}
	if s.IsNonceUsed(r.Nonce) {
		return fmt.Errorf("%w: %s", ErrNonceUsed, r.Nonce.Hex())
	}
	if !s.oracle.IsActive(r.RequestedCurrency) {
		return fmt.Errorf("%w: %s", ErrInactiveCurrency, r.RequestedCurrency.Hex())
	}
	if r.Signer == (common.Address{}) {
		return ErrZeroSigner
	}
	return VerifyRequest(s.addr, tx.ChainID(), r, sig)
}

func (s *Settlement) markUsed(tx *ledger.Tx, nonce common.Hash) {
	s.usedNonces.Set(tx, nonce.Hex(), true)
}

// Settle discharges r with caller's funds in payCurrency. The nonce is
// consumed before any token moves.
func (s *Settlement) Settle(tx *ledger.Tx, caller common.Address, r Request, sig []byte, payCurrency common.Address, maxAmountToPay *big.Int) (*SettlementCompleted, error) {
	if maxAmountToPay == nil || maxAmountToPay.Sign() <= 0 {
		return nil, fmt.Errorf("%w: max amount to pay", ErrZeroAmount)
	}
	if err := s.check(tx, r, sig); err != nil {
		return nil, err
	}
	if !s.oracle.IsActive(payCurrency) {
		return nil, fmt.Errorf("%w: %s", ErrInactiveCurrency, payCurrency.Hex())
	}
	s.markUsed(tx, r.Nonce)

	fb, err := s.Quote(r.RequestedCurrency, r.RequestedAmount, payCurrency)
	if err != nil {
		return nil, err
	}
	if fb.TotalRequired.Cmp(maxAmountToPay) > 0 {
		return nil, fmt.Errorf("%w: %s > %s", ErrMaxAmountExceeded, fb.TotalRequired, maxAmountToPay)
	}

	payTok, err := s.tokens.Lookup(payCurrency)
	if err != nil {
		return nil, err
	}
	reqTok, err := s.tokens.Lookup(r.RequestedCurrency)
	if err != nil {
		return nil, err
	}
	if err := payTok.TransferFrom(tx, s.addr, caller, s.addr, fb.TotalRequired); err != nil {
		return nil, err
	}

	required := new(big.Int).Add(r.RequestedAmount, fb.PlatformFee)
	received := required
	if payCurrency != r.RequestedCurrency {
		if err := payTok.Approve(tx, s.addr, s.exchange.Address(), fb.TotalRequired); err != nil {
			return nil, err
		}
		received, err = s.exchange.Swap(tx, s.addr, fb.ConvertedAmount, payCurrency, r.RequestedCurrency, required)
		if err != nil {
			return nil, err
		}
	}
	// Conversion surplus goes to the fee recipient with the platform fee.
	fee := new(big.Int).Sub(received, r.RequestedAmount)
	if err := s.payout(tx, reqTok, r.Recipient, r.RequestedAmount, fee); err != nil {
		return nil, err
	}

	ev := SettlementCompleted{
		Nonce:             r.Nonce,
		Recipient:         r.Recipient,
		Payer:             caller,
		RequestedCurrency: r.RequestedCurrency,
		PayCurrency:       payCurrency,
		RequestedAmount:   new(big.Int).Set(r.RequestedAmount),
		TotalPaid:         fb.TotalRequired,
		PlatformFee:       fb.PlatformFee,
		SwapFee:           fb.SwapFee,
		Refund:            new(big.Int),
		Parts:             []Part{{Currency: payCurrency, Amount: fb.TotalRequired}},
	}
	tx.Emit(s.addr, ev)
	s.log.Debug("request settled",
		zap.String("nonce", r.Nonce.Hex()),
		zap.String("payer", caller.Hex()),
		zap.Int("parts", len(ev.Parts)),
	)
	return &ev, nil
}

// SettleSplit discharges r with a list of parts in any active currencies.
// Parts are pulled in order until the request is covered; later parts are
// left untouched and any excess is refunded in the requested currency.
func (s *Settlement) SettleSplit(tx *ledger.Tx, caller common.Address, r Request, sig []byte, parts []Part) (*SettlementCompleted, error) {
	if err := s.check(tx, r, sig); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, ErrNoParts
	}
	for _, p := range parts {
		if !s.oracle.IsActive(p.Currency) {
			return nil, fmt.Errorf("%w: %s", ErrInactiveCurrency, p.Currency.Hex())
		}
		if p.Amount == nil || p.Amount.Sign() <= 0 {
			return nil, ErrZeroAmount
		}
	}
	s.markUsed(tx, r.Nonce)

	reqTok, err := s.tokens.Lookup(r.RequestedCurrency)
	if err != nil {
		return nil, err
	}
	platformFee := PlatformFee(r.RequestedAmount)
	required := new(big.Int).Add(r.RequestedAmount, platformFee)
	covered := new(big.Int)
	swapFees := new(big.Int)
	var paid []Part

	for _, p := range parts {
		if covered.Cmp(required) >= 0 {
			break
		}
		tok, err := s.tokens.Lookup(p.Currency)
		if err != nil {
			return nil, err
		}
		if p.Currency == r.RequestedCurrency {
			if err := tok.TransferFrom(tx, s.addr, caller, s.addr, p.Amount); err != nil {
				return nil, err
			}
			covered.Add(covered, p.Amount)
			paid = append(paid, Part{Currency: p.Currency, Amount: new(big.Int).Set(p.Amount)})
			continue
		}
		// Largest swap input whose fee still fits in the part.
		net := new(big.Int).Mul(p.Amount, big.NewInt(BpsDenominator))
		net.Quo(net, big.NewInt(BpsDenominator+pool.SwapFeeBps))
		if net.Sign() == 0 {
			return nil, fmt.Errorf("%w: part of %s %s too small to convert", ErrZeroAmount, p.Amount, p.Currency.Hex())
		}
		fee := pool.Fee(net)
		gross := new(big.Int).Add(net, fee)
		if err := tok.TransferFrom(tx, s.addr, caller, s.addr, gross); err != nil {
			return nil, err
		}
		if err := tok.Approve(tx, s.addr, s.exchange.Address(), gross); err != nil {
			return nil, err
		}
		out, err := s.exchange.Swap(tx, s.addr, net, p.Currency, r.RequestedCurrency, new(big.Int))
		if err != nil {
			return nil, err
		}
		covered.Add(covered, out)
		swapFees.Add(swapFees, fee)
		paid = append(paid, Part{Currency: p.Currency, Amount: gross})
	}
	if covered.Cmp(required) < 0 {
		return nil, fmt.Errorf("%w: %s < %s", ErrUnderpaid, covered, required)
	}

	refund := new(big.Int).Sub(covered, required)
	if err := s.payout(tx, reqTok, r.Recipient, r.RequestedAmount, platformFee); err != nil {
		return nil, err
	}
	if refund.Sign() > 0 {
		if err := reqTok.Transfer(tx, s.addr, caller, refund); err != nil {
			return nil, err
		}
	}

	ev := SettlementCompleted{
		Nonce:             r.Nonce,
		Recipient:         r.Recipient,
		Payer:             caller,
		RequestedCurrency: r.RequestedCurrency,
		PayCurrency:       paid[0].Currency,
		RequestedAmount:   new(big.Int).Set(r.RequestedAmount),
		TotalPaid:         covered,
		PlatformFee:       platformFee,
		SwapFee:           swapFees,
		Refund:            refund,
		Parts:             paid,
	}
	tx.Emit(s.addr, ev)
	s.log.Debug("request settled",
		zap.String("nonce", r.Nonce.Hex()),
		zap.String("payer", caller.Hex()),
		zap.Int("parts", len(ev.Parts)),
	)
	return &ev, nil
}

func (s *Settlement) payout(tx *ledger.Tx, tok token.ERC20, recipient common.Address, amount, fee *big.Int) error {
	if err := tok.Transfer(tx, s.addr, recipient, amount); err != nil {
		return err
	}
	if fee.Sign() == 0 {
		return nil
	}
	return tok.Transfer(tx, s.addr, s.feeRecipient.Get(), fee)
}

// ── Admin ────────────────────────────────────────────────────────────────────

func (s *Settlement) SetFeeRecipient(tx *ledger.Tx, caller, recipient common.Address) error {
	if err := s.OnlyOwner(caller); err != nil {
		return err
	}
	if recipient == (common.Address{}) {
		return ErrZeroAddress
	}
	prev := s.feeRecipient.Get()
	s.feeRecipient.Set(tx, recipient)
	tx.Emit(s.addr, FeeRecipientUpdated{Previous: prev, Next: recipient})
	return nil
}

func (s *Settlement) SetPool(tx *ledger.Tx, caller common.Address, exchange Exchange) error {
	if err := s.OnlyOwner(caller); err != nil {
		return err
	}
	if exchange == nil || exchange.Address() == (common.Address{}) {
		return ErrZeroAddress
	}
	prev := s.exchange
	s.exchange = exchange
	tx.OnRevert(func() { s.exchange = prev })
	tx.Emit(s.addr, PoolUpdated{Previous: prev.Address(), Next: exchange.Address()})
	return nil
}

func (s *Settlement) SetOracle(tx *ledger.Tx, caller common.Address, oracle PriceSource) error {
	if err := s.OnlyOwner(caller); err != nil {
		return err
	}
	if oracle == nil || oracle.Address() == (common.Address{}) {
		return ErrZeroAddress
	}
	prev := s.oracle
	s.oracle = oracle
	tx.OnRevert(func() { s.oracle = prev })
	tx.Emit(s.addr, OracleUpdated{Previous: prev.Address(), Next: oracle.Address()})
	return nil
}
