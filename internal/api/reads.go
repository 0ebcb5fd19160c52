package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gin-gonic/gin"

	"github.com/ArtaPay/artapay-sc/internal/audit"
	"github.com/ArtaPay/artapay-sc/internal/oracle"
	"github.com/ArtaPay/artapay-sc/internal/payment"
	"github.com/ArtaPay/artapay-sc/internal/pool"
)

// nativeSymbol selects the native asset in /v1/convert.
const nativeSymbol = "native"

type currencyView struct {
	Address  common.Address `json:"address"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
	Region   string         `json:"region"`
	Rate     string         `json:"rate"`
	Active   bool           `json:"active"`
}

func (h *Handler) handleCurrencies(c *gin.Context) {
	var (
		infos      []oracle.CurrencyInfo
		nativeRate uint64
		paused     bool
	)
	region := c.Query("region")
	h.State.View(func() {
		if region != "" {
			infos = h.Oracle.CurrenciesByRegion(region)
		} else {
			infos = h.Oracle.Currencies()
		}
		nativeRate = h.Oracle.NativeRate()
		paused = h.Oracle.Paused()
	})
	out := make([]currencyView, 0, len(infos))
	for _, ci := range infos {
		out = append(out, currencyView{
			Address:  ci.Address,
			Symbol:   ci.Symbol,
			Decimals: ci.Decimals,
			Region:   ci.Region,
			Rate:     formatRate(ci.Rate),
			Active:   ci.Active,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"currencies":  out,
		"native_rate": formatRate(nativeRate),
		"paused":      paused,
	})
}

// handleConvert prices amount of from in to. Either side may be "native".
func (h *Handler) handleConvert(c *gin.Context) {
	fromNative := strings.EqualFold(c.Query("from"), nativeSymbol)
	toNative := strings.EqualFold(c.Query("to"), nativeSymbol)
	amount, err := parseAmount("amount", c.Query("amount"))
	if err != nil {
		badRequest(c, err)
		return
	}

	switch {
	case fromNative && toNative:
		badRequest(c, errors.New("from and to cannot both be native"))
	case fromNative:
		to, err := parseAddress("to", c.Query("to"))
		if err != nil {
			badRequest(c, err)
			return
		}
		var out *big.Int
		h.State.View(func() { out, err = h.Oracle.NativeToCurrency(to, amount) })
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"amount_in": nativeAmount(amount), "amount_out": h.amount(to, out)})
	case toNative:
		from, err := parseAddress("from", c.Query("from"))
		if err != nil {
			badRequest(c, err)
			return
		}
		var out *big.Int
		h.State.View(func() { out, err = h.Oracle.CurrencyToNative(from, amount) })
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"amount_in": h.amount(from, amount), "amount_out": nativeAmount(out)})
	default:
		from, err := parseAddress("from", c.Query("from"))
		if err != nil {
			badRequest(c, err)
			return
		}
		to, err := parseAddress("to", c.Query("to"))
		if err != nil {
			badRequest(c, err)
			return
		}
		var out *big.Int
		h.State.View(func() { out, err = h.Oracle.Convert(from, to, amount) })
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"amount_in": h.amount(from, amount), "amount_out": h.amount(to, out)})
	}
}

func (h *Handler) handlePoolQuote(c *gin.Context) {
	in, err := parseAddress("in", c.Query("in"))
	if err != nil {
		badRequest(c, err)
		return
	}
	out, err := parseAddress("out", c.Query("out"))
	if err != nil {
		badRequest(c, err)
		return
	}
	amount, err := parseAmount("amount", c.Query("amount"))
	if err != nil {
		badRequest(c, err)
		return
	}
	var (
		q       pool.Quote
		reserve *big.Int
	)
	h.State.View(func() {
		q, err = h.Pool.Quote(in, out, amount)
		reserve = h.Pool.Reserve(out)
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"amount_out":   h.amount(out, q.AmountOut),
		"fee":          h.amount(in, q.Fee),
		"total_in":     h.amount(in, q.TotalIn),
		"reserve_out":  h.amount(out, reserve),
		"swap_fee_bps": pool.SwapFeeBps,
	})
}

func (h *Handler) handlePaymentQuote(c *gin.Context) {
	requested, err := parseAddress("requested", c.Query("requested"))
	if err != nil {
		badRequest(c, err)
		return
	}
	pay, err := parseAddress("pay", c.Query("pay"))
	if err != nil {
		badRequest(c, err)
		return
	}
	amount, err := parseAmount("amount", c.Query("amount"))
	if err != nil {
		badRequest(c, err)
		return
	}
	var fb payment.FeeBreakdown
	h.State.View(func() { fb, err = h.Settlement.Quote(requested, amount, pay) })
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"base_amount":      h.amount(requested, fb.BaseAmount),
		"platform_fee":     h.amount(requested, fb.PlatformFee),
		"converted_amount": h.amount(pay, fb.ConvertedAmount),
		"swap_fee":         h.amount(pay, fb.SwapFee),
		"total_required":   h.amount(pay, fb.TotalRequired),
	})
}

func (h *Handler) handleReceipt(c *gin.Context) {
	raw := c.Param("nonce")
	if len(strings.TrimPrefix(raw, "0x")) != 2*common.HashLength {
		badRequest(c, errors.New("nonce must be 32 bytes hex"))
		return
	}
	nonce := common.HexToHash(raw)
	fields, err := audit.Receipt(c.Request.Context(), h.Redis, nonce)
	var used bool
	h.State.View(func() { used = h.Settlement.IsNonceUsed(nonce) })
	if errors.Is(err, audit.ErrReceiptNotFound) && used {
		// Settled but not yet indexed by the audit consumer.
		c.JSON(http.StatusAccepted, gin.H{"nonce": nonce.Hex(), "status": "settled"})
		return
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nonce": nonce.Hex(), "status": "indexed", "receipt": fields})
}

// requestJSON is the wire form of a payment request.
type requestJSON struct {
	Recipient         common.Address `json:"recipient"`
	RequestedCurrency common.Address `json:"requested_currency"`
	RequestedAmount   string         `json:"requested_amount"`
	Deadline          uint64         `json:"deadline"`
	Nonce             common.Hash    `json:"nonce"`
	Signer            common.Address `json:"signer"`
}

func (r requestJSON) toRequest() (payment.Request, error) {
	amount, err := parseAmount("requested_amount", r.RequestedAmount)
	if err != nil {
		return payment.Request{}, err
	}
	return payment.Request{
		Recipient:         r.Recipient,
		RequestedCurrency: r.RequestedCurrency,
		RequestedAmount:   amount,
		Deadline:          r.Deadline,
		Nonce:             r.Nonce,
		Signer:            r.Signer,
	}, nil
}

type verifyBody struct {
	Request   requestJSON `json:"request"`
	Signature string      `json:"signature"`
}

// handleVerify pre-checks a signed request without touching state.
func (h *Handler) handleVerify(c *gin.Context) {
	var body verifyBody
	if err := c.ShouldBindJSON(&body); err != nil {
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

	reason := ""
	now := uint64(h.State.Now().Unix())
	h.State.View(func() {
		switch {
		case payment.VerifyRequest(h.Settlement.Address(), h.State.ChainID(), r, sig) != nil:
			reason = "invalid signature"
		case h.Settlement.IsNonceUsed(r.Nonce):
			reason = "nonce already used"
		case r.Deadline < now:
			reason = "request expired"
		case !h.Oracle.IsActive(r.RequestedCurrency):
			reason = "requested currency inactive"
		}
	})
	hash, _ := payment.HashRequest(h.Settlement.Address(), h.State.ChainID(), r)
	c.JSON(http.StatusOK, gin.H{
		"valid":        reason == "",
		"reason":       reason,
		"request_hash": hash.Hex(),
		"amount":       h.amount(r.RequestedCurrency, r.RequestedAmount),
	})
}

func decodeHex(s string) ([]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}
