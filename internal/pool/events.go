package pool

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

type Swapped struct {
	Account   common.Address `json:"account"`
	TokenIn   common.Address `json:"token_in"`
	TokenOut  common.Address `json:"token_out"`
	AmountIn  *big.Int       `json:"amount_in"`
	AmountOut *big.Int       `json:"amount_out"`
	Fee       *big.Int       `json:"fee"`
}

func (Swapped) EventName() string { return "Swapped" }

type Deposited struct {
	Currency common.Address `json:"currency"`
	Amount   *big.Int       `json:"amount"`
}

func (Deposited) EventName() string { return "Deposited" }

type Withdrawn struct {
	Currency common.Address `json:"currency"`
	Amount   *big.Int       `json:"amount"`
}

func (Withdrawn) EventName() string { return "Withdrawn" }

type FeesWithdrawn struct {
	Currency common.Address `json:"currency"`
	To       common.Address `json:"to"`
	Amount   *big.Int       `json:"amount"`
}

func (FeesWithdrawn) EventName() string { return "FeesWithdrawn" }

type OracleUpdated struct {
	Previous common.Address `json:"previous"`
	Next     common.Address `json:"next"`
}

func (OracleUpdated) EventName() string { return "OracleUpdated" }
