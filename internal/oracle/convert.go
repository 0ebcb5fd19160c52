package oracle

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// nativeScale is 10^34: the native asset's 18 decimals times the rate scale
// applied on both sides of a native conversion.
var nativeScale = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(34))

func pow10(n uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(n)))
}

func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", ErrOverflow)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func toU256(amount *big.Int) (*uint256.Int, error) {
	if amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	v, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

func (o *Oracle) active(addr common.Address) (CurrencyInfo, error) {
	info, ok := o.Currency(addr)
	if !ok {
		return info, fmt.Errorf("%w: %s", ErrNotRegistered, addr.Hex())
	}
	if !info.Active {
		return info, fmt.Errorf("%w: %s", ErrInactive, addr.Hex())
	}
	return info, nil
}

// unitValue is rate·10^decimals: the base units of info per common unit,
// scaled by RatePrecision.
func unitValue(info CurrencyInfo) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(info.Rate), pow10(info.Decimals))
}

// Convert prices amount of from in to. Identity when from == to.
func (o *Oracle) Convert(from, to common.Address, amount *big.Int) (*big.Int, error) {
	if err := o.WhenNotPaused(); err != nil {
		return nil, err
	}
	if amount.Sign() < 0 {
		return nil, ErrNegativeAmount
	}
	if from == to {
		return new(big.Int).Set(amount), nil
	}
	fromInfo, err := o.active(from)
	if err != nil {
		return nil, err
	}
	toInfo, err := o.active(to)
	if err != nil {
		return nil, err
	}
	v, err := toU256(amount)
	if err != nil {
		return nil, err
	}
	// One 512-bit mul-div so the result is truncated exactly once.
	out, err := mulDiv(v, unitValue(toInfo), unitValue(fromInfo))
	if err != nil {
		return nil, err
	}
	return out.ToBig(), nil
}

// NativeToCurrency prices nativeAmount (18 decimals) in currency.
func (o *Oracle) NativeToCurrency(currency common.Address, nativeAmount *big.Int) (*big.Int, error) {
	if err := o.WhenNotPaused(); err != nil {
		return nil, err
	}
	info, err := o.active(currency)
	if err != nil {
		return nil, err
	}
	native := o.nativeRate.Get()
	if native == 0 {
		return nil, ErrNativeRateUnset
	}
	v, err := toU256(nativeAmount)
	if err != nil {
		return nil, err
	}
	num := new(uint256.Int).Mul(uint256.NewInt(native), unitValue(info))
	out, err := mulDiv(v, num, nativeScale)
	if err != nil {
		return nil, err
	}
	return out.ToBig(), nil
}

// CurrencyToNative prices amount of currency in native units (18 decimals).
func (o *Oracle) CurrencyToNative(currency common.Address, amount *big.Int) (*big.Int, error) {
	if err := o.WhenNotPaused(); err != nil {
		return nil, err
	}
	info, err := o.active(currency)
	if err != nil {
		return nil, err
	}
	native := o.nativeRate.Get()
	if native == 0 {
		return nil, ErrNativeRateUnset
	}
	v, err := toU256(amount)
	if err != nil {
		return nil, err
	}
	den := new(uint256.Int).Mul(unitValue(info), uint256.NewInt(native))
	out, err := mulDiv(v, nativeScale, den)
	if err != nil {
		return nil, err
	}
	return out.ToBig(), nil
}
