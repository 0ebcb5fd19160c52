package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/ArtaPay/artapay-sc/internal/auth"
	"github.com/ArtaPay/artapay-sc/internal/ledger"
	"github.com/ArtaPay/artapay-sc/internal/oracle"
	"github.com/ArtaPay/artapay-sc/internal/paymaster"
	"github.com/ArtaPay/artapay-sc/internal/payment"
	"github.com/ArtaPay/artapay-sc/internal/sponsor"
)

// ── Settlement ──────────────────────────────────────────────────────────────

type partJSON struct {
	Currency common.Address `json:"currency"`
	Amount   string         `json:"amount"`
}

// settleBody settles with a single pay currency, or with parts when Parts
// is non-empty.
type settleBody struct {
	Request        requestJSON `json:"request"`
	Signature      string      `json:"signature"`
	PayCurrency    string      `json:"pay_currency"`
	MaxAmountToPay string      `json:"max_amount_to_pay"`
	Parts          []partJSON  `json:"parts"`
}

func (h *Handler) handleSettle(c *gin.Context) {
	var body settleBody
	if err := auth.BindPayload(c, &body); err != nil {
		badRequest(c, err)
		return
	}
	r, err := body.Request.toRequest()
	if err != nil {
		badRequest(c, err)
		return
	}
	sig, err := decodeHex(body.Signature)
	if err != nil {
		badRequest(c, err)
		return
	}
	payer := auth.Caller(c)

	var settle func(tx *ledger.Tx) (*payment.SettlementCompleted, error)
	if len(body.Parts) > 0 {
		parts := make([]payment.Part, 0, len(body.Parts))
		for i, p := range body.Parts {
			amt, err := parseAmount(fmt.Sprintf("parts[%d].amount", i), p.Amount)
			if err != nil {
				badRequest(c, err)
				return
			}
			parts = append(parts, payment.Part{Currency: p.Currency, Amount: amt})
		}
		settle = func(tx *ledger.Tx) (*payment.SettlementCompleted, error) {
			return h.Settlement.SettleSplit(tx, payer, r, sig, parts)
		}
	} else {
		pay, err := parseAddress("pay_currency", body.PayCurrency)
		if err != nil {
			badRequest(c, err)
			return
		}
		maxPay, err := parseAmount("max_amount_to_pay", body.MaxAmountToPay)
		if err != nil {
			badRequest(c, err)
			return
		}
		settle = func(tx *ledger.Tx) (*payment.SettlementCompleted, error) {
			return h.Settlement.Settle(tx, payer, r, sig, pay, maxPay)
		}
	}

	var ev *payment.SettlementCompleted
	err = h.State.Execute(c.Request.Context(), func(tx *ledger.Tx) error {
		var err error
		ev, err = settle(tx)
		return err
	})
	if err != nil {
		h.log.Debug("settlement rejected", zap.String("payer", payer.Hex()), zap.String("nonce", r.Nonce.Hex()), zap.Error(err))
		h.fail(c, err)
		return
	}

	parts := make([]gin.H, 0, len(ev.Parts))
	for _, p := range ev.Parts {
		parts = append(parts, gin.H{"currency": p.Currency, "amount": h.amount(p.Currency, p.Amount)})
	}
	paidIn := ev.PayCurrency
	if len(body.Parts) > 0 {
		paidIn = ev.RequestedCurrency
	}
	c.JSON(http.StatusOK, gin.H{
		"nonce":            ev.Nonce.Hex(),
		"recipient":        ev.Recipient,
		"requested_amount": h.amount(ev.RequestedCurrency, ev.RequestedAmount),
		"total_paid":       h.amount(paidIn, ev.TotalPaid),
		"platform_fee":     h.amount(ev.RequestedCurrency, ev.PlatformFee),
		"refund":           h.amount(ev.RequestedCurrency, ev.Refund),
		"parts":            parts,
	})
}

// ── Sponsorship ─────────────────────────────────────────────────────────────

type permitJSON struct {
	Deadline string      `json:"deadline"`
	V        uint8       `json:"v"`
	R        common.Hash `json:"r"`
	S        common.Hash `json:"s"`
}

type sponsorBody struct {
	Currency     common.Address `json:"currency"`
	IsActivation bool           `json:"is_activation"`
	Permit       *permitJSON    `json:"permit"`
}

// handleSponsor issues a sponsorship for the authenticated payer. The
// paymaster's own checks run at validation time; here we only refuse
// currencies it would never accept.
func (h *Handler) handleSponsor(c *gin.Context) {
	var body sponsorBody
	if err := auth.BindPayload(c, &body); err != nil {
		badRequest(c, err)
		return
	}
	payer := auth.Caller(c)
	var supported, activated bool
	h.State.View(func() {
		supported = h.Paymaster.IsSupported(body.Currency)
		activated = h.Paymaster.ActivationUsed(payer)
	})
	if !supported {
		h.fail(c, fmt.Errorf("%w: %s", paymaster.ErrUnsupportedCurrency, body.Currency.Hex()))
		return
	}
	if body.IsActivation && activated {
		h.fail(c, paymaster.ErrActivationUsed)
		return
	}

	req := sponsor.Request{Payer: payer, Currency: body.Currency, IsActivation: body.IsActivation}
	if body.Permit != nil {
		deadline, err := parseAmount("permit.deadline", body.Permit.Deadline)
		if err != nil {
			badRequest(c, err)
			return
		}
		req.Permit = &paymaster.Permit{Deadline: deadline, V: body.Permit.V, R: body.Permit.R, S: body.Permit.S}
	}

	g, err := h.Sponsor.Authorize(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"paymaster_and_data": hexutil.Encode(g.PaymasterAndData),
		"valid_after":        g.ValidAfter,
		"valid_until":        g.ValidUntil,
		"signer":             h.Sponsor.Address(),
	})
}

// ── Admin ───────────────────────────────────────────────────────────────────
// The owner check is enforced by the components themselves.

type rateJSON struct {
	Currency common.Address `json:"currency"`
	Rate     uint64         `json:"rate"`
}

type ratesBody struct {
	Rates      []rateJSON `json:"rates"`
	NativeRate uint64     `json:"native_rate"`
}

func (h *Handler) handleUpdateRates(c *gin.Context) {
	var body ratesBody
	if err := auth.BindPayload(c, &body); err != nil {
		badRequest(c, err)
		return
	}
	if len(body.Rates) == 0 && body.NativeRate == 0 {
		badRequest(c, errors.New("no rates given"))
		return
	}
	caller := auth.Caller(c)
	updates := make([]oracle.RateUpdate, 0, len(body.Rates))
	for _, r := range body.Rates {
		updates = append(updates, oracle.RateUpdate{Currency: r.Currency, Rate: r.Rate})
	}
	var nativeRate uint64
	err := h.State.Execute(c.Request.Context(), func(tx *ledger.Tx) error {
		defer func() { nativeRate = h.Oracle.NativeRate() }()
		if len(updates) > 0 {
			if err := h.Oracle.UpdateRates(tx, caller, updates); err != nil {
				return err
			}
		}
		if body.NativeRate != 0 {
			return h.Oracle.UpdateNativeRate(tx, caller, body.NativeRate)
		}
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": len(updates), "native_rate": formatRate(nativeRate)})
}

type statusBody struct {
	Currency common.Address `json:"currency"`
	Active   bool           `json:"active"`
}

func (h *Handler) handleCurrencyStatus(c *gin.Context) {
	var body statusBody
	if err := auth.BindPayload(c, &body); err != nil {
		badRequest(c, err)
		return
	}
	caller := auth.Caller(c)
	var active bool
	err := h.State.Execute(c.Request.Context(), func(tx *ledger.Tx) error {
		if err := h.Oracle.SetCurrencyStatus(tx, caller, body.Currency, body.Active); err != nil {
			return err
		}
		active = h.Oracle.IsActive(body.Currency)
		return nil
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"currency": body.Currency, "active": active})
}

type pauseBody struct {
	Target string `json:"target"`
	Paused bool   `json:"paused"`
}

// pausable is the pause surface shared by every component.
type pausable interface {
	Pause(tx *ledger.Tx, caller common.Address) error
	Unpause(tx *ledger.Tx, caller common.Address) error
	Paused() bool
}

func (h *Handler) pauseTarget(name string) (pausable, bool) {
	switch name {
	case "oracle":
		return h.Oracle, true
	case "pool":
		return h.Pool, true
	case "paymaster":
		return h.Paymaster, true
	case "settlement":
		return h.Settlement, true
	}
	return nil, false
}

func (h *Handler) handlePause(c *gin.Context) {
	var body pauseBody
	if err := auth.BindPayload(c, &body); err != nil {
		badRequest(c, err)
		return
	}
	target, ok := h.pauseTarget(body.Target)
	if !ok {
		badRequest(c, fmt.Errorf("unknown pause target %q", body.Target))
		return
	}
	caller := auth.Caller(c)
	var paused bool
	err := h.State.Execute(c.Request.Context(), func(tx *ledger.Tx) error {
		var err error
		if body.Paused {
			err = target.Pause(tx, caller)
		} else {
			err = target.Unpause(tx, caller)
		}
		paused = target.Paused()
		return err
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	h.log.Info("pause state changed", zap.String("target", body.Target), zap.Bool("paused", body.Paused), zap.String("by", caller.Hex()))
	c.JSON(http.StatusOK, gin.H{"target": body.Target, "paused": paused})
}

