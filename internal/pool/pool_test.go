package pool

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ArtaPay/artapay-sc/internal/ledger"
	"github.com/ArtaPay/artapay-sc/internal/oracle"
	"github.com/ArtaPay/artapay-sc/internal/token"
)

var (
	poolAddr   = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	oracleAddr = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	owner      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	user       = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	treasury   = common.HexToAddress("0x00000000000000000000000000000000000000dd")

	usdcAddr = common.HexToAddress("0x00000000000000000000000000000000000c0001")
	idrxAddr = common.HexToAddress("0x00000000000000000000000000000000000c0002")
)

type fixture struct {
	st     *ledger.State
	oracle *oracle.Oracle
	pool   *Pool
	usdc   *token.Stablecoin
	idrx   *token.Stablecoin
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := ledger.NewState(big.NewInt(1))
	reg := token.NewRegistry()
	usdc := token.NewStablecoin(st, token.Config{Address: usdcAddr, Name: "USD Coin", Symbol: "USDC", Decimals: 6})
	idrx := token.NewStablecoin(st, token.Config{Address: idrxAddr, Name: "Rupiah Token", Symbol: "IDRX", Decimals: 2})
	_ = reg.Add(usdc)
	_ = reg.Add(idrx)

	o := oracle.New(st, oracleAddr, owner, reg)
	p := New(st, poolAddr, owner, o, reg)
	f := &fixture{st: st, oracle: o, pool: p, usdc: usdc, idrx: idrx}

	f.exec(t, func(tx *ledger.Tx) error {
		if err := o.RegisterBatch(tx, owner, []oracle.Registration{
			{Currency: usdcAddr, Symbol: "USDC", Region: "US", Rate: 1e8},
			{Currency: idrxAddr, Symbol: "IDRX", Region: "ID", Rate: 16000e8},
		}); err != nil {
			return err
		}
		for _, c := range []*token.Stablecoin{usdc, idrx} {
			if err := c.Mint(tx, owner, big.NewInt(1_000_000_000_000)); err != nil {
				return err
			}
			if err := c.Approve(tx, owner, poolAddr, token.MaxUint256); err != nil {
				return err
			}
			if err := p.Deposit(tx, owner, c.Address(), big.NewInt(1_000_000_000)); err != nil {
				return err
			}
		}
		if err := usdc.Mint(tx, user, big.NewInt(100_000000)); err != nil {
			return err
		}
		return usdc.Approve(tx, user, poolAddr, token.MaxUint256)
	})
	return f
}

func (f *fixture) exec(t *testing.T, fn func(tx *ledger.Tx) error) {
	t.Helper()
	if err := f.st.Execute(context.Background(), fn); err != nil {
		t.Fatalf("execute: %v", err)
	}
}

func (f *fixture) try(fn func(tx *ledger.Tx) error) error {
	return f.st.Execute(context.Background(), fn)
}

// ── Quote ────────────────────────────────────────────────────────────────────

func TestQuote(t *testing.T) {
	f := newFixture(t)
	q, err := f.pool.Quote(usdcAddr, idrxAddr, big.NewInt(10_000000))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.AmountOut.Int64() != 160000_00 {
		t.Errorf("amountOut: got %s want 16000000", q.AmountOut)
	}
	if q.Fee.Int64() != 10000 {
		t.Errorf("fee: got %s want 10000", q.Fee)
	}
	if q.TotalIn.Int64() != 10_010000 {
		t.Errorf("totalIn: got %s want 10010000", q.TotalIn)
	}
}

func TestFee_RoundsDown(t *testing.T) {
	cases := []struct{ in, want int64 }{
		{0, 0},
		{999, 0},
		{1000, 1},
		{1999, 1},
		{10_000000, 10000},
	}
	for _, tc := range cases {
		if got := Fee(big.NewInt(tc.in)).Int64(); got != tc.want {
			t.Errorf("Fee(%d): got %d want %d", tc.in, got, tc.want)
		}
	}
}

// ── Swap ─────────────────────────────────────────────────────────────────────

func TestSwap(t *testing.T) {
	f := newFixture(t)
	var out *big.Int
	f.exec(t, func(tx *ledger.Tx) error {
		var err error
		out, err = f.pool.Swap(tx, user, big.NewInt(10_000000), usdcAddr, idrxAddr, big.NewInt(160000_00))
		return err
	})

	if out.Int64() != 160000_00 {
		t.Errorf("out: got %s", out)
	}
	if got := f.usdc.BalanceOf(user).Int64(); got != 89_990000 {
		t.Errorf("user USDC: got %d want 89990000", got)
	}
	if got := f.idrx.BalanceOf(user).Int64(); got != 160000_00 {
		t.Errorf("user IDRX: got %d want 16000000", got)
	}
	if got := f.pool.Reserve(usdcAddr).Int64(); got != 1_000_000_000+10_010000 {
		t.Errorf("USDC reserve: got %d", got)
	}
	if got := f.pool.Reserve(idrxAddr).Int64(); got != 1_000_000_000-160000_00 {
		t.Errorf("IDRX reserve: got %d", got)
	}
	if got := f.pool.CollectedFee(usdcAddr).Int64(); got != 10000 {
		t.Errorf("fee: got %d want 10000", got)
	}
	// Reserves always match what the pool actually holds.
	for _, c := range []*token.Stablecoin{f.usdc, f.idrx} {
		if f.pool.Reserve(c.Address()).Cmp(c.BalanceOf(poolAddr)) != 0 {
			t.Errorf("%s: reserve %s != balance %s", c.Symbol(), f.pool.Reserve(c.Address()), c.BalanceOf(poolAddr))
		}
	}
}

func TestSwap_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(f *fixture) error
		amount int64
		in     common.Address
		out    common.Address
		minOut int64
		want   error
	}{
		{name: "same currency", amount: 1_000000, in: usdcAddr, out: usdcAddr, want: ErrSameCurrency},
		{name: "zero amount", amount: 0, in: usdcAddr, out: idrxAddr, want: ErrZeroAmount},
		{name: "slippage", amount: 10_000000, in: usdcAddr, out: idrxAddr, minOut: 160000_01, want: ErrSlippage},
		{name: "insufficient balance", amount: 99_950000, in: usdcAddr, out: idrxAddr, want: token.ErrInsufficientBalance},
		{
			name:   "inactive",
			amount: 1_000000, in: usdcAddr, out: idrxAddr,
			setup: func(f *fixture) error {
				return f.try(func(tx *ledger.Tx) error { return f.oracle.SetCurrencyStatus(tx, owner, idrxAddr, false) })
			},
			want: ErrInactive,
		},
		{
			name:   "paused",
			amount: 1_000000, in: usdcAddr, out: idrxAddr,
			setup: func(f *fixture) error {
				return f.try(func(tx *ledger.Tx) error { return f.pool.Pause(tx, owner) })
			},
			want: ledger.ErrPaused,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			if tc.setup != nil {
				if err := tc.setup(f); err != nil {
					t.Fatalf("setup: %v", err)
				}
			}
			reserveIn, reserveOut := f.pool.Reserve(tc.in), f.pool.Reserve(tc.out)
			err := f.try(func(tx *ledger.Tx) error {
				_, err := f.pool.Swap(tx, user, big.NewInt(tc.amount), tc.in, tc.out, big.NewInt(tc.minOut))
				return err
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v want %v", err, tc.want)
			}
			if tc.want != nil {
				if f.pool.Reserve(tc.in).Cmp(reserveIn) != 0 || f.pool.Reserve(tc.out).Cmp(reserveOut) != 0 {
					t.Error("failed swap must not move reserves")
				}
			}
		})
	}
}

func TestSwap_InsufficientReserve(t *testing.T) {
	f := newFixture(t)
	// Drain most IDRX liquidity so a 10 USDC swap cannot be served.
	f.exec(t, func(tx *ledger.Tx) error {
		return f.pool.Withdraw(tx, owner, idrxAddr, big.NewInt(1_000_000_000-100))
	})
	err := f.try(func(tx *ledger.Tx) error {
		_, err := f.pool.Swap(tx, user, big.NewInt(10_000000), usdcAddr, idrxAddr, big.NewInt(0))
		return err
	})
	if !errors.Is(err, ErrInsufficientReserve) {
		t.Fatalf("expected ErrInsufficientReserve, got %v", err)
	}
	if f.usdc.BalanceOf(user).Int64() != 100_000000 {
		t.Error("no transfer may happen when the reserve check fails")
	}
}

// ── Liquidity ────────────────────────────────────────────────────────────────

func TestDepositWithdraw(t *testing.T) {
	f := newFixture(t)

	err := f.try(func(tx *ledger.Tx) error { return f.pool.Deposit(tx, user, usdcAddr, big.NewInt(1)) })
	if !errors.Is(err, ledger.ErrNotOwner) {
		t.Errorf("deposit by stranger: got %v", err)
	}
	err = f.try(func(tx *ledger.Tx) error { return f.pool.Withdraw(tx, owner, usdcAddr, big.NewInt(1_000_000_001)) })
	if !errors.Is(err, ErrInsufficientReserve) {
		t.Errorf("over-withdraw: got %v", err)
	}

	before := f.usdc.BalanceOf(owner)
	f.exec(t, func(tx *ledger.Tx) error { return f.pool.Withdraw(tx, owner, usdcAddr, big.NewInt(400)) })
	if got := new(big.Int).Sub(f.usdc.BalanceOf(owner), before).Int64(); got != 400 {
		t.Errorf("owner received %d want 400", got)
	}
	if got := f.pool.Reserve(usdcAddr).Int64(); got != 1_000_000_000-400 {
		t.Errorf("reserve: got %d", got)
	}
}

func TestWithdrawFees(t *testing.T) {
	f := newFixture(t)
	f.exec(t, func(tx *ledger.Tx) error {
		_, err := f.pool.Swap(tx, user, big.NewInt(10_000000), usdcAddr, idrxAddr, big.NewInt(0))
		return err
	})
	reserve := f.pool.Reserve(usdcAddr)

	var got *big.Int
	f.exec(t, func(tx *ledger.Tx) error {
		var err error
		got, err = f.pool.WithdrawFees(tx, owner, usdcAddr, treasury)
		return err
	})
	if got.Int64() != 10000 {
		t.Errorf("withdrawn: got %s want 10000", got)
	}
	if f.usdc.BalanceOf(treasury).Int64() != 10000 {
		t.Errorf("treasury: got %s", f.usdc.BalanceOf(treasury))
	}
	if f.pool.CollectedFee(usdcAddr).Sign() != 0 {
		t.Error("collected fee must be reset")
	}
	if want := new(big.Int).Sub(reserve, big.NewInt(10000)); f.pool.Reserve(usdcAddr).Cmp(want) != 0 {
		t.Errorf("reserve: got %s want %s", f.pool.Reserve(usdcAddr), want)
	}

	err := f.try(func(tx *ledger.Tx) error {
		_, err := f.pool.WithdrawFees(tx, owner, usdcAddr, treasury)
		return err
	})
	if !errors.Is(err, ErrNothingToWithdraw) {
		t.Errorf("second withdrawal: got %v", err)
	}
}

func TestWithdrawFees_Reentrancy(t *testing.T) {
	f := newFixture(t)
	f.exec(t, func(tx *ledger.Tx) error {
		_, err := f.pool.Swap(tx, user, big.NewInt(10_000000), usdcAddr, idrxAddr, big.NewInt(0))
		return err
	})

	var reentryErr error
	f.usdc.SetTransferHook(func(tx *ledger.Tx, from, to common.Address, _ *big.Int) error {
		if from != poolAddr || to != treasury {
			return nil
		}
		_, reentryErr = f.pool.WithdrawFees(tx, owner, usdcAddr, treasury)
		return reentryErr
	})
	defer f.usdc.SetTransferHook(nil)

	err := f.try(func(tx *ledger.Tx) error {
		_, err := f.pool.WithdrawFees(tx, owner, usdcAddr, treasury)
		return err
	})
	if !errors.Is(reentryErr, ledger.ErrReentrantCall) {
		t.Fatalf("re-entrant call: got %v want ErrReentrantCall", reentryErr)
	}
	if !errors.Is(err, ledger.ErrReentrantCall) {
		t.Fatalf("outer call: got %v", err)
	}
	if f.pool.CollectedFee(usdcAddr).Int64() != 10000 {
		t.Error("fees must be intact after the reverted withdrawal")
	}
	if f.usdc.BalanceOf(treasury).Sign() != 0 {
		t.Error("treasury must receive nothing")
	}
}

func TestSetOracle(t *testing.T) {
	f := newFixture(t)
	err := f.try(func(tx *ledger.Tx) error { return f.pool.SetOracle(tx, user, f.oracle) })
	if !errors.Is(err, ledger.ErrNotOwner) {
		t.Errorf("got %v want ErrNotOwner", err)
	}
	err = f.try(func(tx *ledger.Tx) error { return f.pool.SetOracle(tx, owner, nil) })
	if !errors.Is(err, ErrZeroAddress) {
		t.Errorf("got %v want ErrZeroAddress", err)
	}
}
