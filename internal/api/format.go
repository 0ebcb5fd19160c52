package api

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/ArtaPay/artapay-sc/internal/oracle"
)

// Amount is a base-unit amount with its human-readable rendering.
type Amount struct {
	Raw     string `json:"raw"`
	Display string `json:"display"`
}

func formatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

func (h *Handler) amount(currency common.Address, v *big.Int) Amount {
	dec, _ := h.Tokens.Decimals(currency)
	if v == nil {
		v = new(big.Int)
	}
	return Amount{Raw: v.String(), Display: formatUnits(v, dec)}
}

// formatRate renders an 8-decimal oracle rate.
func formatRate(rate uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(rate), -8).String()
}

// nativeAmount renders a native-token amount.
func nativeAmount(v *big.Int) Amount {
	return Amount{Raw: v.String(), Display: formatUnits(v, oracle.NativeDecimals)}
}
