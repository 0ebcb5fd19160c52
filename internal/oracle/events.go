package oracle

import "github.com/ethereum/go-ethereum/common"

type CurrencyRegistered struct {
	Currency common.Address `json:"currency"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Region   string         `json:"region"`
	Rate     uint64         `json:"rate"`
}

func (CurrencyRegistered) EventName() string { return "CurrencyRegistered" }

type RateUpdated struct {
	Currency common.Address `json:"currency"`
	OldRate  uint64         `json:"old_rate"`
	NewRate  uint64         `json:"new_rate"`
}

func (RateUpdated) EventName() string { return "RateUpdated" }

type NativeRateUpdated struct {
	OldRate uint64 `json:"old_rate"`
	NewRate uint64 `json:"new_rate"`
}

func (NativeRateUpdated) EventName() string { return "NativeRateUpdated" }

type CurrencyStatusChanged struct {
	Currency common.Address `json:"currency"`
	Active   bool           `json:"active"`
}

func (CurrencyStatusChanged) EventName() string { return "CurrencyStatusChanged" }

type RateBoundsUpdated struct {
	Min uint64 `json:"min"`
	Max uint64 `json:"max"`
}

func (RateBoundsUpdated) EventName() string { return "RateBoundsUpdated" }

type MaxChangeUpdated struct {
	OldBps uint64 `json:"old_bps"`
	NewBps uint64 `json:"new_bps"`
}

func (MaxChangeUpdated) EventName() string { return "MaxChangeUpdated" }
