package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ArtaPay/artapay-sc/internal/ledger"
)

var (
	oracleAddr = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	stranger   = common.HexToAddress("0x00000000000000000000000000000000000000bb")

	usdc = common.HexToAddress("0x00000000000000000000000000000000000c0001") // 6 decimals, 1:1
	idrx = common.HexToAddress("0x00000000000000000000000000000000000c0002") // 2 decimals, 16000 per unit
	jpyc = common.HexToAddress("0x00000000000000000000000000000000000c0003") // 18 decimals, 150 per unit
	krwx = common.HexToAddress("0x00000000000000000000000000000000000c0004") // 18 decimals, registered per test
	bad  = common.HexToAddress("0x00000000000000000000000000000000000c00ff") // 24 decimals
)

type fakeDecimals map[common.Address]uint8

func (f fakeDecimals) Decimals(a common.Address) (uint8, error) {
	d, ok := f[a]
	if !ok {
		return 0, errors.New("unknown token")
	}
	return d, nil
}

func newTestOracle(t *testing.T) (*ledger.State, *Oracle) {
	t.Helper()
	st := ledger.NewState(big.NewInt(1))
	o := New(st, oracleAddr, owner, fakeDecimals{usdc: 6, idrx: 2, jpyc: 18, krwx: 18, bad: 24})
	return st, o
}

func run(t *testing.T, st *ledger.State, fn func(tx *ledger.Tx) error) error {
	t.Helper()
	return st.Execute(context.Background(), fn)
}

func seed(t *testing.T, st *ledger.State, o *Oracle) {
	t.Helper()
	err := run(t, st, func(tx *ledger.Tx) error {
		if err := o.RegisterBatch(tx, owner, []Registration{
			{Currency: usdc, Symbol: "USDC", Region: "US", Rate: 1e8},
			{Currency: idrx, Symbol: "IDRX", Region: "ID", Rate: 16000e8},
			{Currency: jpyc, Symbol: "JPYC", Region: "JP", Rate: 150e8},
		}); err != nil {
			return err
		}
		return o.UpdateNativeRate(tx, owner, 3000e8)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

// ── Registration ─────────────────────────────────────────────────────────────

func TestRegister_Validation(t *testing.T) {
	cases := []struct {
		name   string
		caller common.Address
		reg    Registration
		want   error
	}{
		{"not owner", stranger, Registration{Currency: usdc, Rate: 1e8}, ledger.ErrNotOwner},
		{"zero address", owner, Registration{Rate: 1e8}, ErrZeroCurrency},
		{"rate below min", owner, Registration{Currency: usdc, Rate: DefaultMinRate - 1}, ErrRateOutOfBounds},
		{"rate above max", owner, Registration{Currency: usdc, Rate: DefaultMaxRate + 1}, ErrRateOutOfBounds},
		{"unresolvable", owner, Registration{Currency: stranger, Rate: 1e8}, ErrInvalidDecimals},
		{"too many decimals", owner, Registration{Currency: bad, Rate: 1e8}, ErrInvalidDecimals},
		{"ok at min", owner, Registration{Currency: usdc, Rate: DefaultMinRate}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, o := newTestOracle(t)
			err := run(t, st, func(tx *ledger.Tx) error { return o.Register(tx, tc.caller, tc.reg) })
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)
	err := run(t, st, func(tx *ledger.Tx) error {
		return o.Register(tx, owner, Registration{Currency: usdc, Symbol: "USDC", Rate: 1e8})
	})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegisterBatch_Atomic(t *testing.T) {
	st, o := newTestOracle(t)
	err := run(t, st, func(tx *ledger.Tx) error {
		return o.RegisterBatch(tx, owner, []Registration{
			{Currency: usdc, Symbol: "USDC", Rate: 1e8},
			{Currency: idrx, Symbol: "IDRX", Rate: 0},
		})
	})
	if !errors.Is(err, ErrRateOutOfBounds) {
		t.Fatalf("expected ErrRateOutOfBounds, got %v", err)
	}
	if len(o.Currencies()) != 0 {
		t.Error("failed batch must not register any element")
	}
}

func TestViews(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)

	info, ok := o.Currency(idrx)
	if !ok || info.Decimals != 2 || info.Symbol != "IDRX" || !info.Active {
		t.Errorf("Currency(idrx): got %+v,%v", info, ok)
	}
	if n := len(o.Currencies()); n != 3 {
		t.Errorf("Currencies: got %d want 3", n)
	}
	if got := o.CurrenciesByRegion("JP"); len(got) != 1 || got[0].Address != jpyc {
		t.Errorf("CurrenciesByRegion(JP): got %+v", got)
	}
	if r, err := o.Rate(jpyc); err != nil || r != 150e8 {
		t.Errorf("Rate(jpyc): got %d,%v", r, err)
	}
	if _, err := o.Rate(stranger); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("Rate(unknown): got %v", err)
	}
	if o.NativeRate() != 3000e8 {
		t.Errorf("NativeRate: got %d", o.NativeRate())
	}
}

// ── Rate updates ─────────────────────────────────────────────────────────────

func TestUpdateRate_ChangeLimitBoundary(t *testing.T) {
	const old = 1e8
	limit := uint64(old) * DefaultMaxChangeBps / BpsDenominator

	cases := []struct {
		name string
		rate uint64
		want error
	}{
		{"boundary minus one up", old + limit - 1, nil},
		{"exact boundary up", old + limit, nil},
		{"boundary plus one up", old + limit + 1, ErrRateChangeLimit},
		{"exact boundary down", old - limit, nil},
		{"boundary plus one down", old - limit - 1, ErrRateChangeLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st, o := newTestOracle(t)
			seed(t, st, o)
			err := run(t, st, func(tx *ledger.Tx) error { return o.UpdateRate(tx, owner, usdc, tc.rate) })
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
			r, _ := o.Rate(usdc)
			if tc.want == nil && r != tc.rate {
				t.Errorf("rate: got %d want %d", r, tc.rate)
			}
			if tc.want != nil && r != old {
				t.Errorf("rejected update changed rate to %d", r)
			}
		})
	}
}

func TestUpdateRates_Atomic(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)
	err := run(t, st, func(tx *ledger.Tx) error {
		return o.UpdateRates(tx, owner, []RateUpdate{
			{Currency: usdc, Rate: 1.01e8},
			{Currency: idrx, Rate: 40000e8},
		})
	})
	if !errors.Is(err, ErrRateChangeLimit) {
		t.Fatalf("expected ErrRateChangeLimit, got %v", err)
	}
	if r, _ := o.Rate(usdc); r != 1e8 {
		t.Errorf("usdc rate must be unchanged, got %d", r)
	}
}

func TestUpdateRate_Unregistered(t *testing.T) {
	st, o := newTestOracle(t)
	err := run(t, st, func(tx *ledger.Tx) error { return o.UpdateRate(tx, owner, usdc, 1e8) })
	if !errors.Is(err, ErrNotRegistered) {
		t.Errorf("expected ErrNotRegistered, got %v", err)
	}
}

func TestUpdateNativeRate(t *testing.T) {
	st, o := newTestOracle(t)
	cases := []struct {
		name string
		rate uint64
		want error
	}{
		{"below min", MinNativeRate - 1, ErrRateOutOfBounds},
		{"above max", MaxNativeRate + 1, ErrRateOutOfBounds},
		{"first set", 3000e8, nil},
		{"within limit", 3500e8, nil},
		{"beyond limit", 9000e8, ErrRateChangeLimit},
	}
	for _, tc := range cases {
		err := run(t, st, func(tx *ledger.Tx) error { return o.UpdateNativeRate(tx, owner, tc.rate) })
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: got %v want %v", tc.name, err, tc.want)
		}
	}
	if o.NativeRate() != 3500e8 {
		t.Errorf("NativeRate: got %d want %d", o.NativeRate(), uint64(3500e8))
	}
}

// ── Admin ────────────────────────────────────────────────────────────────────

func TestSetRateBounds(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)

	err := run(t, st, func(tx *ledger.Tx) error { return o.SetRateBounds(tx, owner, 10, 10) })
	if !errors.Is(err, ErrInvalidBounds) {
		t.Fatalf("expected ErrInvalidBounds, got %v", err)
	}
	if err := run(t, st, func(tx *ledger.Tx) error { return o.SetRateBounds(tx, owner, 1e7, 1e9) }); err != nil {
		t.Fatalf("SetRateBounds: %v", err)
	}
	err = run(t, st, func(tx *ledger.Tx) error { return o.UpdateRate(tx, owner, usdc, 1.5e9) })
	if !errors.Is(err, ErrRateOutOfBounds) {
		t.Errorf("expected ErrRateOutOfBounds under new bounds, got %v", err)
	}
}

func TestSetMaxChangeBps(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)
	for _, bps := range []uint64{0, BpsDenominator + 1} {
		err := run(t, st, func(tx *ledger.Tx) error { return o.SetMaxChangeBps(tx, owner, bps) })
		if !errors.Is(err, ErrInvalidChangeBps) {
			t.Errorf("bps %d: expected ErrInvalidChangeBps, got %v", bps, err)
		}
	}
	if err := run(t, st, func(tx *ledger.Tx) error { return o.SetMaxChangeBps(tx, owner, 100) }); err != nil {
		t.Fatalf("SetMaxChangeBps: %v", err)
	}
	err := run(t, st, func(tx *ledger.Tx) error { return o.UpdateRate(tx, owner, usdc, 1.02e8) })
	if !errors.Is(err, ErrRateChangeLimit) {
		t.Errorf("2%% change with 1%% limit: got %v", err)
	}
}

func TestSetCurrencyStatus(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)
	if err := run(t, st, func(tx *ledger.Tx) error { return o.SetCurrencyStatus(tx, owner, idrx, false) }); err != nil {
		t.Fatalf("SetCurrencyStatus: %v", err)
	}
	if o.IsActive(idrx) {
		t.Error("idrx should be inactive")
	}
	if _, ok := o.Currency(idrx); !ok {
		t.Error("deactivated currency must stay registered")
	}
	if _, err := o.Convert(usdc, idrx, big.NewInt(1)); !errors.Is(err, ErrInactive) {
		t.Errorf("Convert to inactive: got %v", err)
	}
}

// ── Conversion ───────────────────────────────────────────────────────────────

func TestConvert_CrossDecimal(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)

	got, err := o.Convert(usdc, idrx, big.NewInt(1_000000))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if got.Cmp(big.NewInt(16000_00)) != 0 {
		t.Errorf("got %s want 1600000", got)
	}
}

func TestConvert_Identity(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)
	for _, c := range []common.Address{usdc, idrx, jpyc, stranger} {
		got, err := o.Convert(c, c, big.NewInt(123456789))
		if err != nil {
			t.Fatalf("Convert(%s): %v", c.Hex(), err)
		}
		if got.Int64() != 123456789 {
			t.Errorf("%s: got %s want 123456789", c.Hex(), got)
		}
	}
}

func TestConvert_RoundTrip(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)

	pairs := []struct {
		a, b   common.Address
		amount int64
		// one minimal unit of the coarser currency, expressed in a's units
		tolerance int64
	}{
		{usdc, jpyc, 12_345678, 1},
		{usdc, idrx, 12_345678, 1},
		{idrx, usdc, 98765_43, 1},
		{jpyc, idrx, 5e18, 1e14}, // one IDRX cent is 9.375e13 JPYC units
	}
	for _, p := range pairs {
		a := big.NewInt(p.amount)
		mid, err := o.Convert(p.a, p.b, a)
		if err != nil {
			t.Fatal(err)
		}
		back, err := o.Convert(p.b, p.a, mid)
		if err != nil {
			t.Fatal(err)
		}
		diff := new(big.Int).Sub(a, back)
		if diff.Sign() < 0 || diff.Cmp(big.NewInt(p.tolerance)) > 0 {
			t.Errorf("%s→%s→%s: %s → %s → %s (diff %s)", p.a.Hex()[38:], p.b.Hex()[38:], p.a.Hex()[38:], a, mid, back, diff)
		}
	}
}

// Cross-currency conversion truncates once: floor(amount·rateTo/rateFrom)
// for equal decimals.
func TestConvert_SingleRounding(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)
	if err := run(t, st, func(tx *ledger.Tx) error {
		return o.Register(tx, owner, Registration{Currency: krwx, Symbol: "KRWX", Region: "KR", Rate: 16000e8})
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	cases := []struct {
		from, to common.Address
		amount   int64
		want     int64
	}{
		{krwx, jpyc, 123456789, 1157407}, // 123456789·150/16000 = 1157407.4
		{jpyc, krwx, 7, 746},             // 7·16000/150 = 746.6
		{usdc, idrx, 1_234567, 19753},    // 1234567·0.016 = 19753.07
	}
	for _, tc := range cases {
		got, err := o.Convert(tc.from, tc.to, big.NewInt(tc.amount))
		if err != nil {
			t.Fatalf("Convert: %v", err)
		}
		if got.Int64() != tc.want {
			t.Errorf("%d %s→%s: got %s want %d", tc.amount, tc.from.Hex()[38:], tc.to.Hex()[38:], got, tc.want)
		}
	}
}

func TestConvert_Errors(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)

	if _, err := o.Convert(usdc, stranger, big.NewInt(1)); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("unknown currency: got %v", err)
	}
	if _, err := o.Convert(usdc, idrx, big.NewInt(-1)); !errors.Is(err, ErrNegativeAmount) {
		t.Errorf("negative: got %v", err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	if _, err := o.Convert(usdc, jpyc, huge); !errors.Is(err, ErrOverflow) {
		t.Errorf("overflow: got %v", err)
	}
}

func TestNativeConversions(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)

	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	got, err := o.NativeToCurrency(usdc, oneEth)
	if err != nil {
		t.Fatalf("NativeToCurrency: %v", err)
	}
	if got.Cmp(big.NewInt(3000_000000)) != 0 {
		t.Errorf("1 native in USDC: got %s want 3000000000", got)
	}

	back, err := o.CurrencyToNative(usdc, big.NewInt(3000_000000))
	if err != nil {
		t.Fatalf("CurrencyToNative: %v", err)
	}
	if back.Cmp(oneEth) != 0 {
		t.Errorf("3000 USDC in native: got %s want %s", back, oneEth)
	}

	idr, err := o.NativeToCurrency(idrx, oneEth)
	if err != nil {
		t.Fatalf("NativeToCurrency(idrx): %v", err)
	}
	if idr.Cmp(big.NewInt(48_000_000_00)) != 0 {
		t.Errorf("1 native in IDRX: got %s want 4800000000", idr)
	}
}

func TestNativeConversions_RateUnset(t *testing.T) {
	st, o := newTestOracle(t)
	_ = run(t, st, func(tx *ledger.Tx) error {
		return o.Register(tx, owner, Registration{Currency: usdc, Symbol: "USDC", Rate: 1e8})
	})
	if _, err := o.NativeToCurrency(usdc, big.NewInt(1)); !errors.Is(err, ErrNativeRateUnset) {
		t.Errorf("got %v want ErrNativeRateUnset", err)
	}
}

// Run with -race: conversions read the tables while rate updates commit.
func TestConvert_ConcurrentWithUpdates(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			rate := uint64(16000e8)
			if i%2 == 0 {
				rate = 17000e8
			}
			_ = st.Execute(context.Background(), func(tx *ledger.Tx) error {
				return o.UpdateRate(tx, owner, idrx, rate)
			})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			st.View(func() {
				if _, err := o.Convert(usdc, idrx, big.NewInt(1_000000)); err != nil {
					t.Errorf("Convert: %v", err)
				}
			})
			_, _ = o.Convert(idrx, usdc, big.NewInt(1_000000))
		}
	}()
	wg.Wait()
}

// Pausing disables conversions but not administration.
func TestPause_DisablesConversion(t *testing.T) {
	st, o := newTestOracle(t)
	seed(t, st, o)
	if err := run(t, st, func(tx *ledger.Tx) error { return o.Pause(tx, owner) }); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	if _, err := o.Convert(usdc, idrx, big.NewInt(1)); !errors.Is(err, ledger.ErrPaused) {
		t.Errorf("Convert: got %v", err)
	}
	if _, err := o.NativeToCurrency(usdc, big.NewInt(1)); !errors.Is(err, ledger.ErrPaused) {
		t.Errorf("NativeToCurrency: got %v", err)
	}
	if _, err := o.CurrencyToNative(usdc, big.NewInt(1)); !errors.Is(err, ledger.ErrPaused) {
		t.Errorf("CurrencyToNative: got %v", err)
	}
	if err := run(t, st, func(tx *ledger.Tx) error { return o.UpdateRate(tx, owner, usdc, 1.1e8) }); err != nil {
		t.Errorf("UpdateRate while paused: %v", err)
	}
}
