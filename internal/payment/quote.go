package payment

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ArtaPay/artapay-sc/internal/pool"
)

const (
	PlatformFeeBps = 30
	BpsDenominator = 10_000

	// maxCorrectionPasses bounds the proportional scale-up of a quote.
	maxCorrectionPasses = 2
	// maxSearchDoublings bounds the upper-bound growth when the proportional
	// passes leave a quote short.
	maxSearchDoublings = 256
)

var ErrQuoteNotConverged = errors.New("payment: quote did not converge")

// Converter prices an amount of one currency in another.
type Converter interface {
	Convert(from, to common.Address, amount *big.Int) (*big.Int, error)
}

// FeeBreakdown is what a payer must supply to discharge a request.
// ConvertedAmount is the pay-side amount swapped before the swap fee; it is
// zero when no conversion is needed.
type FeeBreakdown struct {
	BaseAmount      *big.Int `json:"base_amount"`
	PlatformFee     *big.Int `json:"platform_fee"`
	SwapFee         *big.Int `json:"swap_fee"`
	ConvertedAmount *big.Int `json:"converted_amount"`
	TotalRequired   *big.Int `json:"total_required"`
}

// PlatformFee returns the platform fee on amount.
func PlatformFee(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(PlatformFeeBps))
	return fee.Quo(fee, big.NewInt(BpsDenominator))
}

// Quote computes the breakdown for paying amount of requested in pay. The
// pay-side amount is corrected until converting it back covers the
// requirement, so the payer is never short-quoted.
func Quote(conv Converter, requested common.Address, amount *big.Int, pay common.Address) (FeeBreakdown, error) {
	fb := FeeBreakdown{
		BaseAmount:      new(big.Int).Set(amount),
		PlatformFee:     PlatformFee(amount),
		SwapFee:         new(big.Int),
		ConvertedAmount: new(big.Int),
	}
	required := new(big.Int).Add(amount, fb.PlatformFee)
	if pay == requested {
		fb.TotalRequired = required
		return fb, nil
	}

	est, err := conv.Convert(requested, pay, required)
	if err != nil {
		return FeeBreakdown{}, err
	}
	est, err = correct(conv, requested, pay, required, est)
	if err != nil {
		return FeeBreakdown{}, err
	}
	fb.ConvertedAmount = est
	fb.SwapFee = pool.Fee(est)
	fb.TotalRequired = new(big.Int).Add(est, fb.SwapFee)
	return fb, nil
}

// correct raises est until Convert(pay, requested, est) >= required: up to
// maxCorrectionPasses proportional ceil scale-ups, then a +1 nudge. An
// estimate that still falls short, or converts back to nothing, is settled
// by search.
func correct(conv Converter, requested, pay common.Address, required, est *big.Int) (*big.Int, error) {
	covers := func(x *big.Int) (bool, *big.Int, error) {
		back, err := conv.Convert(pay, requested, x)
		if err != nil {
			return false, nil, err
		}
		return back.Cmp(required) >= 0, back, nil
	}

	for pass := 0; pass < maxCorrectionPasses; pass++ {
		ok, back, err := covers(est)
		if err != nil {
			return nil, err
		}
		if ok {
			return est, nil
		}
		if back.Sign() == 0 {
			break
		}
		// ceil(est * required / back)
		scaled := new(big.Int).Mul(est, required)
		scaled.Add(scaled, new(big.Int).Sub(back, big.NewInt(1)))
		est = scaled.Quo(scaled, back)
	}

	ok, _, err := covers(est)
	if err != nil {
		return nil, err
	}
	if ok {
		return est, nil
	}
	next := new(big.Int).Add(est, big.NewInt(1))
	ok, _, err = covers(next)
	if err != nil {
		return nil, err
	}
	if ok {
		return next, nil
	}
	return search(covers, next, required)
}

// search returns the smallest amount above lo that covers, where lo does
// not. The upper bound grows geometrically, then the gap is bisected, so
// the payer is charged no more than the exact requirement.
func search(covers func(*big.Int) (bool, *big.Int, error), lo, required *big.Int) (*big.Int, error) {
	lo = new(big.Int).Set(lo)
	hi := new(big.Int).Lsh(lo, 1)
	if hi.Sign() == 0 {
		hi.SetInt64(1)
	}
	for i := 0; ; i++ {
		ok, back, err := covers(hi)
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if i == maxSearchDoublings {
			return nil, fmt.Errorf("%w: %s converts back to %s, need %s", ErrQuoteNotConverged, hi, back, required)
		}
		lo.Set(hi)
		hi.Lsh(hi, 1)
	}

	one := big.NewInt(1)
	for new(big.Int).Sub(hi, lo).Cmp(one) > 0 {
		mid := new(big.Int).Add(lo, hi)
		mid.Rsh(mid, 1)
		ok, _, err := covers(mid)
		if err != nil {
			return nil, err
		}
		if ok {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi, nil
}
