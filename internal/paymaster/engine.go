package paymaster

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/ArtaPay/artapay-sc/internal/auth"
	"github.com/ArtaPay/artapay-sc/internal/ledger"
	"github.com/ArtaPay/artapay-sc/internal/token"
)

const (
	DefaultMarkupBps  uint64 = 500
	MaxMarkupBps      uint64 = 5000
	BpsDenominator    uint64 = 10_000
	PostOpOverheadGas uint64 = 40_000
)

var (
	ErrUnsupportedCurrency   = errors.New("paymaster: currency not supported")
	ErrZeroPayer             = errors.New("paymaster: zero payer")
	ErrSelfSponsorOnly       = errors.New("paymaster: payer must be the sender")
	ErrActivationUsed        = errors.New("paymaster: activation already used")
	ErrInvalidActivation     = errors.New("paymaster: activation call data not allowed")
	ErrInsufficientBalance   = errors.New("paymaster: insufficient token balance")
	ErrInsufficientAllowance = errors.New("paymaster: insufficient token allowance")
	ErrInvalidContext        = errors.New("paymaster: invalid context")
)

// PriceSource is the subset of the oracle the engine prices gas with.
type PriceSource interface {
	Address() common.Address
	NativeToCurrency(currency common.Address, nativeAmount *big.Int) (*big.Int, error)
	IsActive(addr common.Address) bool
}

// Context is the state Validate hands to PostOp through the host.
type Context struct {
	Currency     common.Address
	Payer        common.Address
	MaxTokenCost *big.Int
	IsActivation bool
	IsFaucet     bool
}

var contextArgs = abi.Arguments{
	{Name: "currency", Type: addressT},
	{Name: "payer", Type: addressT},
	{Name: "maxTokenCost", Type: uint256T},
	{Name: "isActivation", Type: boolT},
	{Name: "isFaucet", Type: boolT},
}

// Encode packs c as abi.encode(currency, payer, maxTokenCost, isActivation, isFaucet).
func (c Context) Encode() ([]byte, error) {
	return contextArgs.Pack(c.Currency, c.Payer, valueOrZero(c.MaxTokenCost), c.IsActivation, c.IsFaucet)
}

func DecodeContext(b []byte) (Context, error) {
	vals, err := contextArgs.Unpack(b)
	if err != nil {
		return Context{}, fmt.Errorf("%w: %v", ErrInvalidContext, err)
	}
	return Context{
		Currency:     vals[0].(common.Address),
		Payer:        vals[1].(common.Address),
		MaxTokenCost: vals[2].(*big.Int),
		IsActivation: vals[3].(bool),
		IsFaucet:     vals[4].(bool),
	}, nil
}

// Engine is the gas-sponsorship paymaster.
type Engine struct {
	*ledger.Pausable

	addr           common.Address
	oracle         PriceSource
	tokens         *token.Registry
	supported      *ledger.Table[bool]
	signers        *ledger.Table[bool]
	activationUsed *ledger.Table[bool]
	fees           *ledger.Table[*big.Int]
	markupBps      *ledger.Slot[uint64]
	guard          ledger.Guard
	log            *zap.Logger
}

func New(st *ledger.State, addr, owner common.Address, oracle PriceSource, tokens *token.Registry, log *zap.Logger) *Engine {
	const name = "paymaster"
	return &Engine{
		Pausable:       ledger.NewPausable(st, name, ledger.NewOwnable(st, name, addr, owner)),
		addr:           addr,
		oracle:         oracle,
		tokens:         tokens,
		supported:      ledger.NewTable[bool](st, name+":supported"),
		signers:        ledger.NewTable[bool](st, name+":signers"),
		activationUsed: ledger.NewTable[bool](st, name+":activation_used"),
		fees:           ledger.NewTable[*big.Int](st, name+":fees"),
		markupBps:      ledger.NewSlot(st, name+":markup_bps", DefaultMarkupBps),
		log:            log,
	}
}

func (e *Engine) Address() common.Address { return e.addr }

// ── Validate ─────────────────────────────────────────────────────────────────

// Validate decides whether to sponsor op. A nil error with SigFailed set is
// a soft decline; any error aborts the call.
func (e *Engine) Validate(tx *ledger.Tx, op *UserOperation, opHash common.Hash, maxCost *big.Int) ([]byte, ValidationData, error) {
	if err := e.WhenNotPaused(); err != nil {
		return nil, ValidationData{}, err
	}
	a, err := ParseAuthorization(op.PaymasterAndData)
	if err != nil {
		return nil, ValidationData{}, err
	}
	if !e.IsSupported(a.Currency) {
		return nil, ValidationData{}, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, a.Currency.Hex())
	}
	if a.Payer == (common.Address{}) {
		return nil, ValidationData{}, ErrZeroPayer
	}
	if a.IsActivation {
		if a.Payer != op.Sender {
			return nil, ValidationData{}, ErrSelfSponsorOnly
		}
		if e.ActivationUsed(a.Payer) {
			return nil, ValidationData{}, fmt.Errorf("%w: %s", ErrActivationUsed, a.Payer.Hex())
		}
	}
	tok, err := e.tokens.Lookup(a.Currency)
	if err != nil {
		return nil, ValidationData{}, err
	}

	if a.Permit != nil {
		e.applyPermit(tx, tok, a)
	}

	verdict := ValidationData{ValidUntil: a.ValidUntil, ValidAfter: a.ValidAfter}
	if !e.authorized(a) {
		e.log.Debug("sponsorship declined",
			zap.String("op_hash", opHash.Hex()),
			zap.String("payer", a.Payer.Hex()),
		)
		verdict.SigFailed = true
		return nil, verdict, nil
	}

	if a.IsActivation {
		if !isActivationCallData(op.CallData, e.addr, e.oracle.IsActive) {
			return nil, ValidationData{}, ErrInvalidActivation
		}
		ctx, err := Context{Currency: a.Currency, Payer: a.Payer, IsActivation: true}.Encode()
		return ctx, verdict, err
	}
	if isFaucetCallData(op.CallData, a.Currency) {
		if a.Payer != op.Sender {
			return nil, ValidationData{}, ErrSelfSponsorOnly
		}
		ctx, err := Context{Currency: a.Currency, Payer: a.Payer, IsFaucet: true}.Encode()
		return ctx, verdict, err
	}

	tokenCost, err := e.QuoteTokenCost(a.Currency, maxCost)
	if err != nil {
		return nil, ValidationData{}, err
	}
	if bal := tok.BalanceOf(a.Payer); bal.Cmp(tokenCost) < 0 {
		return nil, ValidationData{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, bal, tokenCost)
	}
	if allowed := tok.Allowance(a.Payer, e.addr); allowed.Cmp(tokenCost) < 0 {
		return nil, ValidationData{}, fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowed, tokenCost)
	}
	ctx, err := Context{Currency: a.Currency, Payer: a.Payer, MaxTokenCost: tokenCost}.Encode()
	return ctx, verdict, err
}

// applyPermit executes the embedded approval. A failing permit is ignored:
// it may already have been used by a front-runner and the allowance check
// decides the outcome.
func (e *Engine) applyPermit(tx *ledger.Tx, tok token.ERC20, a *Authorization) {
	p, ok := tok.(token.Permitter)
	if !ok {
		return
	}
	err := tx.Try(func() error {
		return p.Permit(tx, a.Payer, e.addr, token.MaxUint256, a.Permit.Deadline, a.Permit.V, a.Permit.R, a.Permit.S)
	})
	if err != nil {
		e.log.Debug("permit ignored", zap.String("payer", a.Payer.Hex()), zap.Error(err))
	}
}

func (e *Engine) authorized(a *Authorization) bool {
	digest, err := a.Digest()
	if err != nil {
		return false
	}
	signer, err := auth.Recover(digest[:], a.Signature)
	if err != nil {
		return false
	}
	return e.IsSigner(signer)
}

// QuoteTokenCost prices nativeCost in currency with the markup applied.
func (e *Engine) QuoteTokenCost(currency common.Address, nativeCost *big.Int) (*big.Int, error) {
	base, err := e.oracle.NativeToCurrency(currency, nativeCost)
	if err != nil {
		return nil, err
	}
	cost := new(big.Int).Mul(base, new(big.Int).SetUint64(BpsDenominator+e.markupBps.Get()))
	return cost.Quo(cost, new(big.Int).SetUint64(BpsDenominator)), nil
}

// ── PostOp ───────────────────────────────────────────────────────────────────

// PostOp settles a sponsored operation. The payer never pays more than the
// MaxTokenCost quoted in Validate.
func (e *Engine) PostOp(tx *ledger.Tx, mode PostOpMode, rawCtx []byte, actualGasCost, actualFeePerGas *big.Int) error {
	c, err := DecodeContext(rawCtx)
	if err != nil {
		return err
	}
	switch {
	case c.IsActivation:
		if mode == OpSucceeded {
			e.activationUsed.Set(tx, c.Payer.Hex(), true)
			tx.Emit(e.addr, SponsorshipGranted{Payer: c.Payer, Currency: c.Currency, Kind: KindActivation, GasCost: new(big.Int).Set(actualGasCost), TokenCost: new(big.Int)})
		}
		return nil
	case c.IsFaucet:
		tx.Emit(e.addr, SponsorshipGranted{Payer: c.Payer, Currency: c.Currency, Kind: KindFaucet, GasCost: new(big.Int).Set(actualGasCost), TokenCost: new(big.Int)})
		return nil
	case mode == PostOpReverted:
		e.log.Warn("postOp reverted, fee not collected", zap.String("payer", c.Payer.Hex()))
		return nil
	}

	overhead := new(big.Int).Mul(new(big.Int).SetUint64(PostOpOverheadGas), actualFeePerGas)
	tokenCost, err := e.QuoteTokenCost(c.Currency, new(big.Int).Add(actualGasCost, overhead))
	if err != nil {
		return err
	}
	if tokenCost.Cmp(c.MaxTokenCost) > 0 {
		tokenCost = new(big.Int).Set(c.MaxTokenCost)
	}
	tok, err := e.tokens.Lookup(c.Currency)
	if err != nil {
		return err
	}
	if err := tok.TransferFrom(tx, e.addr, c.Payer, e.addr, tokenCost); err != nil {
		return err
	}
	e.fees.Set(tx, c.Currency.Hex(), new(big.Int).Add(e.CollectedFee(c.Currency), tokenCost))
	tx.Emit(e.addr, SponsorshipGranted{
		Payer:     c.Payer,
		Currency:  c.Currency,
		Kind:      KindFee,
		GasCost:   new(big.Int).Set(actualGasCost),
		TokenCost: tokenCost,
	})
	return nil
}

// ── Views ────────────────────────────────────────────────────────────────────

func (e *Engine) IsSupported(currency common.Address) bool {
	ok, _ := e.supported.Get(currency.Hex())
	return ok
}

func (e *Engine) IsSigner(signer common.Address) bool {
	ok, _ := e.signers.Get(signer.Hex())
	return ok
}

func (e *Engine) ActivationUsed(payer common.Address) bool {
	used, _ := e.activationUsed.Get(payer.Hex())
	return used
}

func (e *Engine) CollectedFee(currency common.Address) *big.Int {
	if f, ok := e.fees.Get(currency.Hex()); ok {
		return new(big.Int).Set(f)
	}
	return new(big.Int)
}

func (e *Engine) MarkupBps() uint64 { return e.markupBps.Get() }
