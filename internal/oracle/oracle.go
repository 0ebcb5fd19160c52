// Package oracle keeps every supported currency's rate against a common
// pricing unit and converts amounts between currencies and the native asset.
package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ArtaPay/artapay-sc/internal/ledger"
)

const (
	// RatePrecision is the fixed-point scale of every rate (8 decimals).
	RatePrecision uint64 = 1e8

	DefaultMinRate      uint64 = 1e4  // 0.0001 units per common unit
	DefaultMaxRate      uint64 = 1e16 // 100,000,000 units per common unit
	MinNativeRate       uint64 = 1e6
	MaxNativeRate       uint64 = 1e14
	DefaultMaxChangeBps uint64 = 5000
	BpsDenominator      uint64 = 10_000

	MaxDecimals    = 18
	NativeDecimals = 18
)

var (
	ErrAlreadyRegistered = errors.New("oracle: currency already registered")
	ErrNotRegistered     = errors.New("oracle: currency not registered")
	ErrInactive          = errors.New("oracle: currency inactive")
	ErrRateOutOfBounds   = errors.New("oracle: rate out of bounds")
	ErrRateChangeLimit   = errors.New("oracle: rate change exceeds limit")
	ErrInvalidDecimals   = errors.New("oracle: invalid decimals")
	ErrInvalidBounds     = errors.New("oracle: invalid rate bounds")
	ErrInvalidChangeBps  = errors.New("oracle: invalid max change bps")
	ErrZeroCurrency      = errors.New("oracle: zero currency address")
	ErrNegativeAmount    = errors.New("oracle: negative amount")
	ErrOverflow          = errors.New("oracle: arithmetic overflow")
	ErrNativeRateUnset   = errors.New("oracle: native rate not set")
)

// CurrencyInfo is the registration record of one currency.
type CurrencyInfo struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Region   string         `json:"region"`
	Rate     uint64         `json:"rate"`
	Active   bool           `json:"active"`
}

// Bounds is the accepted [Min, Max] range of a currency rate.
type Bounds struct {
	Min uint64 `json:"min"`
	Max uint64 `json:"max"`
}

// DecimalsResolver resolves the decimal places of a currency handle.
type DecimalsResolver interface {
	Decimals(addr common.Address) (uint8, error)
}

// Oracle is the rate registry. Mutations run inside a ledger call; views
// read committed state.
type Oracle struct {
	*ledger.Pausable

	addr         common.Address
	resolver     DecimalsResolver
	currencies   *ledger.Table[CurrencyInfo]
	nativeRate   *ledger.Slot[uint64]
	bounds       *ledger.Slot[Bounds]
	maxChangeBps *ledger.Slot[uint64]
}

func New(st *ledger.State, addr, owner common.Address, resolver DecimalsResolver) *Oracle {
	const name = "oracle"
	return &Oracle{
		Pausable:     ledger.NewPausable(st, name, ledger.NewOwnable(st, name, addr, owner)),
		addr:         addr,
		resolver:     resolver,
		currencies:   ledger.NewTable[CurrencyInfo](st, name+":currencies"),
		nativeRate:   ledger.NewSlot[uint64](st, name+":native_rate", 0),
		bounds:       ledger.NewSlot(st, name+":bounds", Bounds{Min: DefaultMinRate, Max: DefaultMaxRate}),
		maxChangeBps: ledger.NewSlot(st, name+":max_change_bps", DefaultMaxChangeBps),
	}
}

func (o *Oracle) Address() common.Address { return o.addr }

// ── Views ────────────────────────────────────────────────────────────────────

func (o *Oracle) Currency(addr common.Address) (CurrencyInfo, bool) {
	return o.currencies.Get(addr.Hex())
}

// Currencies returns every registered currency, active or not, ordered by
// address.
func (o *Oracle) Currencies() []CurrencyInfo {
	keys := o.currencies.Keys()
	out := make([]CurrencyInfo, 0, len(keys))
	for _, k := range keys {
		info, _ := o.currencies.Get(k)
		out = append(out, info)
	}
	return out
}

func (o *Oracle) CurrenciesByRegion(region string) []CurrencyInfo {
	var out []CurrencyInfo
	for _, info := range o.Currencies() {
		if info.Region == region {
			out = append(out, info)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (o *Oracle) IsActive(addr common.Address) bool {
	info, ok := o.Currency(addr)
	return ok && info.Active
}

func (o *Oracle) Rate(addr common.Address) (uint64, error) {
	info, ok := o.Currency(addr)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotRegistered, addr.Hex())
	}
	return info.Rate, nil
}

func (o *Oracle) NativeRate() uint64   { return o.nativeRate.Get() }
func (o *Oracle) Bounds() Bounds       { return o.bounds.Get() }
func (o *Oracle) MaxChangeBps() uint64 { return o.maxChangeBps.Get() }

// ── Registration ─────────────────────────────────────────────────────────────

// Registration is one element of RegisterBatch.
type Registration struct {
	Currency common.Address
	Symbol   string
	Region   string
	Rate     uint64
}

func (o *Oracle) Register(tx *ledger.Tx, caller common.Address, r Registration) error {
	if err := o.OnlyOwner(caller); err != nil {
		return err
	}
	return o.register(tx, r)
}

// RegisterBatch registers every element or none of them.
func (o *Oracle) RegisterBatch(tx *ledger.Tx, caller common.Address, rs []Registration) error {
	if err := o.OnlyOwner(caller); err != nil {
		return err
	}
	for i, r := range rs {
		if err := o.register(tx, r); err != nil {
			return fmt.Errorf("batch element %d: %w", i, err)
		}
	}
	return nil
}

func (o *Oracle) register(tx *ledger.Tx, r Registration) error {
	if r.Currency == (common.Address{}) {
		return ErrZeroCurrency
	}
	if o.currencies.Has(r.Currency.Hex()) {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, r.Currency.Hex())
	}
	if err := o.checkBounds(r.Rate); err != nil {
		return err
	}
	dec, err := o.resolver.Decimals(r.Currency)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDecimals, err)
	}
	if dec > MaxDecimals {
		return fmt.Errorf("%w: %d", ErrInvalidDecimals, dec)
	}
	info := CurrencyInfo{
		Address:  r.Currency,
		Symbol:   r.Symbol,
		Decimals: dec,
		Region:   r.Region,
		Rate:     r.Rate,
		Active:   true,
	}
	o.currencies.Set(tx, r.Currency.Hex(), info)
	tx.Emit(o.addr, CurrencyRegistered{Currency: r.Currency, Symbol: r.Symbol, Decimals: dec, Region: r.Region, Rate: r.Rate})
	return nil
}

func (o *Oracle) checkBounds(rate uint64) error {
	b := o.bounds.Get()
	if rate < b.Min || rate > b.Max {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrRateOutOfBounds, rate, b.Min, b.Max)
	}
	return nil
}

// ── Rate updates ─────────────────────────────────────────────────────────────

// RateUpdate is one element of UpdateRates.
type RateUpdate struct {
	Currency common.Address
	Rate     uint64
}

func (o *Oracle) UpdateRate(tx *ledger.Tx, caller, currency common.Address, rate uint64) error {
	if err := o.OnlyOwner(caller); err != nil {
		return err
	}
	return o.updateRate(tx, currency, rate)
}

// UpdateRates applies every update or none of them.
func (o *Oracle) UpdateRates(tx *ledger.Tx, caller common.Address, us []RateUpdate) error {
	if err := o.OnlyOwner(caller); err != nil {
		return err
	}
	for i, u := range us {
		if err := o.updateRate(tx, u.Currency, u.Rate); err != nil {
			return fmt.Errorf("batch element %d: %w", i, err)
		}
	}
	return nil
}

func (o *Oracle) updateRate(tx *ledger.Tx, currency common.Address, rate uint64) error {
	info, ok := o.Currency(currency)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, currency.Hex())
	}
	if err := o.checkBounds(rate); err != nil {
		return err
	}
	if err := checkChange(info.Rate, rate, o.maxChangeBps.Get()); err != nil {
		return err
	}
	old := info.Rate
	info.Rate = rate
	o.currencies.Set(tx, currency.Hex(), info)
	tx.Emit(o.addr, RateUpdated{Currency: currency, OldRate: old, NewRate: rate})
	return nil
}

// checkChange rejects |next-prev| > prev*bps/10000. A zero prev means the
// value was never set and any change is accepted.
func checkChange(prev, next, bps uint64) error {
	if prev == 0 {
		return nil
	}
	diff := new(big.Int).Sub(new(big.Int).SetUint64(next), new(big.Int).SetUint64(prev))
	diff.Abs(diff)
	limit := new(big.Int).Mul(new(big.Int).SetUint64(prev), new(big.Int).SetUint64(bps))
	limit.Quo(limit, new(big.Int).SetUint64(BpsDenominator))
	if diff.Cmp(limit) > 0 {
		return fmt.Errorf("%w: %d -> %d exceeds %d bps", ErrRateChangeLimit, prev, next, bps)
	}
	return nil
}

func (o *Oracle) UpdateNativeRate(tx *ledger.Tx, caller common.Address, rate uint64) error {
	if err := o.OnlyOwner(caller); err != nil {
		return err
	}
	if rate < MinNativeRate || rate > MaxNativeRate {
		return fmt.Errorf("%w: native %d not in [%d, %d]", ErrRateOutOfBounds, rate, MinNativeRate, MaxNativeRate)
	}
	old := o.nativeRate.Get()
	if err := checkChange(old, rate, o.maxChangeBps.Get()); err != nil {
		return err
	}
	o.nativeRate.Set(tx, rate)
	tx.Emit(o.addr, NativeRateUpdated{OldRate: old, NewRate: rate})
	return nil
}

// ── Admin ────────────────────────────────────────────────────────────────────

// SetCurrencyStatus activates or deactivates a currency. Currencies are
// never removed.
func (o *Oracle) SetCurrencyStatus(tx *ledger.Tx, caller, currency common.Address, active bool) error {
	if err := o.OnlyOwner(caller); err != nil {
		return err
	}
	info, ok := o.Currency(currency)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, currency.Hex())
	}
	info.Active = active
	o.currencies.Set(tx, currency.Hex(), info)
	tx.Emit(o.addr, CurrencyStatusChanged{Currency: currency, Active: active})
	return nil
}

func (o *Oracle) SetRateBounds(tx *ledger.Tx, caller common.Address, minRate, maxRate uint64) error {
	if err := o.OnlyOwner(caller); err != nil {
		return err
	}
	if minRate == 0 || minRate >= maxRate {
		return fmt.Errorf("%w: [%d, %d]", ErrInvalidBounds, minRate, maxRate)
	}
	o.bounds.Set(tx, Bounds{Min: minRate, Max: maxRate})
	tx.Emit(o.addr, RateBoundsUpdated{Min: minRate, Max: maxRate})
	return nil
}

func (o *Oracle) SetMaxChangeBps(tx *ledger.Tx, caller common.Address, bps uint64) error {
	if err := o.OnlyOwner(caller); err != nil {
		return err
	}
	if bps == 0 || bps > BpsDenominator {
		return fmt.Errorf("%w: %d", ErrInvalidChangeBps, bps)
	}
	old := o.maxChangeBps.Get()
	o.maxChangeBps.Set(tx, bps)
	tx.Emit(o.addr, MaxChangeUpdated{OldBps: old, NewBps: bps})
	return nil
}
