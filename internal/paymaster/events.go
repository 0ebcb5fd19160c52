package paymaster

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SponsorshipKind tells how a sponsored operation was paid for.
type SponsorshipKind string

const (
	KindFee        SponsorshipKind = "fee"
	KindActivation SponsorshipKind = "activation"
	KindFaucet     SponsorshipKind = "faucet"
)

type SponsorshipGranted struct {
	Payer     common.Address  `json:"payer"`
	Currency  common.Address  `json:"currency"`
	Kind      SponsorshipKind `json:"kind"`
	GasCost   *big.Int        `json:"gas_cost"`
	TokenCost *big.Int        `json:"token_cost"`
}

func (SponsorshipGranted) EventName() string { return "SponsorshipGranted" }

type FeesWithdrawn struct {
	Currency common.Address `json:"currency"`
	To       common.Address `json:"to"`
	Amount   *big.Int       `json:"amount"`
}

func (FeesWithdrawn) EventName() string { return "FeesWithdrawn" }

type EmergencyWithdrawn struct {
	Currency common.Address `json:"currency"`
	To       common.Address `json:"to"`
	Amount   *big.Int       `json:"amount"`
}

func (EmergencyWithdrawn) EventName() string { return "EmergencyWithdrawn" }

type CurrencySupportChanged struct {
	Currency  common.Address `json:"currency"`
	Supported bool           `json:"supported"`
}

func (CurrencySupportChanged) EventName() string { return "CurrencySupportChanged" }

type SignerChanged struct {
	Signer     common.Address `json:"signer"`
	Authorized bool           `json:"authorized"`
}

func (SignerChanged) EventName() string { return "SignerChanged" }

type MarkupUpdated struct {
	OldBps uint64 `json:"old_bps"`
	NewBps uint64 `json:"new_bps"`
}

func (MarkupUpdated) EventName() string { return "MarkupUpdated" }

type OracleUpdated struct {
	Previous common.Address `json:"previous"`
	Next     common.Address `json:"next"`
}

func (OracleUpdated) EventName() string { return "OracleUpdated" }
