package payment

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SettlementCompleted is the receipt of a settled request. TotalPaid is in
// PayCurrency for a single-currency settlement and in the requested
// currency, after conversion, for a split one.
type SettlementCompleted struct {
	Nonce             common.Hash    `json:"nonce"`
	Recipient         common.Address `json:"recipient"`
	Payer             common.Address `json:"payer"`
	RequestedCurrency common.Address `json:"requested_currency"`
	PayCurrency       common.Address `json:"pay_currency"`
	RequestedAmount   *big.Int       `json:"requested_amount"`
	TotalPaid         *big.Int       `json:"total_paid"`
	PlatformFee       *big.Int       `json:"platform_fee"`
	SwapFee           *big.Int       `json:"swap_fee"`
	Refund            *big.Int       `json:"refund"`
	Parts             []Part         `json:"parts"`
}

func (SettlementCompleted) EventName() string { return "SettlementCompleted" }

type FeeRecipientUpdated struct {
	Previous common.Address `json:"previous"`
	Next     common.Address `json:"next"`
}

func (FeeRecipientUpdated) EventName() string { return "FeeRecipientUpdated" }

type PoolUpdated struct {
	Previous common.Address `json:"previous"`
	Next     common.Address `json:"next"`
}

func (PoolUpdated) EventName() string { return "PoolUpdated" }

type OracleUpdated struct {
	Previous common.Address `json:"previous"`
	Next     common.Address `json:"next"`
}

func (OracleUpdated) EventName() string { return "OracleUpdated" }
