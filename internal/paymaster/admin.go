package paymaster

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ArtaPay/artapay-sc/internal/ledger"
)

var (
	ErrInactiveCurrency  = errors.New("paymaster: currency inactive in oracle")
	ErrInvalidMarkup     = errors.New("paymaster: markup too high")
	ErrZeroAddress       = errors.New("paymaster: zero address")
	ErrNothingToWithdraw = errors.New("paymaster: no fees collected")
)

// SetSupportedToken toggles sponsorship in currency. Enabling requires the
// currency to be active in the oracle.
func (e *Engine) SetSupportedToken(tx *ledger.Tx, caller, currency common.Address, supported bool) error {
	if err := e.OnlyOwner(caller); err != nil {
		return err
	}
	if supported {
		if !e.oracle.IsActive(currency) {
			return fmt.Errorf("%w: %s", ErrInactiveCurrency, currency.Hex())
		}
		if _, err := e.tokens.Lookup(currency); err != nil {
			return err
		}
	}
	e.supported.Set(tx, currency.Hex(), supported)
	tx.Emit(e.addr, CurrencySupportChanged{Currency: currency, Supported: supported})
	return nil
}

func (e *Engine) SetSigner(tx *ledger.Tx, caller, signer common.Address, authorized bool) error {
	if err := e.OnlyOwner(caller); err != nil {
		return err
	}
	if signer == (common.Address{}) {
		return ErrZeroAddress
	}
	e.signers.Set(tx, signer.Hex(), authorized)
	tx.Emit(e.addr, SignerChanged{Signer: signer, Authorized: authorized})
	return nil
}

func (e *Engine) SetOracle(tx *ledger.Tx, caller common.Address, oracle PriceSource) error {
	if err := e.OnlyOwner(caller); err != nil {
		return err
	}
	if oracle == nil || oracle.Address() == (common.Address{}) {
		return ErrZeroAddress
	}
	prev := e.oracle
	e.oracle = oracle
	tx.OnRevert(func() { e.oracle = prev })
	tx.Emit(e.addr, OracleUpdated{Previous: prev.Address(), Next: oracle.Address()})
	return nil
}

func (e *Engine) SetMarkup(tx *ledger.Tx, caller common.Address, bps uint64) error {
	if err := e.OnlyOwner(caller); err != nil {
		return err
	}
	if bps > MaxMarkupBps {
		return fmt.Errorf("%w: %d > %d", ErrInvalidMarkup, bps, MaxMarkupBps)
	}
	old := e.markupBps.Get()
	e.markupBps.Set(tx, bps)
	tx.Emit(e.addr, MarkupUpdated{OldBps: old, NewBps: bps})
	return nil
}

// WithdrawFees sends every collected fee of currency to to.
func (e *Engine) WithdrawFees(tx *ledger.Tx, caller, currency, to common.Address) (*big.Int, error) {
	if err := e.OnlyOwner(caller); err != nil {
		return nil, err
	}
	if err := e.guard.Enter(tx); err != nil {
		return nil, err
	}
	if to == (common.Address{}) {
		return nil, ErrZeroAddress
	}
	fee := e.CollectedFee(currency)
	if fee.Sign() == 0 {
		return nil, ErrNothingToWithdraw
	}
	tok, err := e.tokens.Lookup(currency)
	if err != nil {
		return nil, err
	}
	e.fees.Set(tx, currency.Hex(), new(big.Int))
	tx.Emit(e.addr, FeesWithdrawn{Currency: currency, To: to, Amount: new(big.Int).Set(fee)})
	if err := tok.Transfer(tx, e.addr, to, fee); err != nil {
		return nil, err
	}
	e.guard.Exit(tx)
	return fee, nil
}

// EmergencyWithdraw sweeps amount of any token the engine holds. Collected
// fees are clamped to what is left.
func (e *Engine) EmergencyWithdraw(tx *ledger.Tx, caller, currency, to common.Address, amount *big.Int) error {
	if err := e.OnlyOwner(caller); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	tok, err := e.tokens.Lookup(currency)
	if err != nil {
		return err
	}
	if err := tok.Transfer(tx, e.addr, to, amount); err != nil {
		return err
	}
	if left := tok.BalanceOf(e.addr); e.CollectedFee(currency).Cmp(left) > 0 {
		e.fees.Set(tx, currency.Hex(), left)
	}
	tx.Emit(e.addr, EmergencyWithdrawn{Currency: currency, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}
