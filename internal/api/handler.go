// Package api is the HTTP facade over the settlement core.
package api

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ArtaPay/artapay-sc/internal/audit"
	"github.com/ArtaPay/artapay-sc/internal/auth"
	"github.com/ArtaPay/artapay-sc/internal/ledger"
	"github.com/ArtaPay/artapay-sc/internal/metrics"
	"github.com/ArtaPay/artapay-sc/internal/oracle"
	"github.com/ArtaPay/artapay-sc/internal/paymaster"
	"github.com/ArtaPay/artapay-sc/internal/payment"
	"github.com/ArtaPay/artapay-sc/internal/pool"
	"github.com/ArtaPay/artapay-sc/internal/sponsor"
	"github.com/ArtaPay/artapay-sc/internal/token"
)

// Signed actions accepted by the authenticated routes.
const (
	ActionSettle         = "payments.settle"
	ActionSponsor        = "sponsor.authorize"
	ActionUpdateRates    = "admin.rates"
	ActionCurrencyStatus = "admin.currencies.status"
	ActionPause          = "admin.pause"
)

// Deps are the components the API serves.
type Deps struct {
	State      *ledger.State
	Tokens     *token.Registry
	Oracle     *oracle.Oracle
	Pool       *pool.Pool
	Paymaster  *paymaster.Engine
	Settlement *payment.Settlement
	Sponsor    *sponsor.Signer
	Redis      *redis.Client
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer
}

// Handler wires up all API routes onto a Gin engine.
type Handler struct {
	Deps
	log *zap.Logger
}

func NewHandler(d Deps, log *zap.Logger) *Handler {
	return &Handler{Deps: d, log: log}
}

// Register mounts all routes.
func (h *Handler) Register(r *gin.Engine) {
	if h.Metrics != nil {
		r.Use(h.observe)
	}
	r.GET("/healthz", h.handleHealth)
	if h.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/v1")

	// ── Reads ──────────────────────────────────────────────────────────────
	v1.GET("/currencies", h.handleCurrencies)
	v1.GET("/convert", h.handleConvert)
	v1.GET("/pool/quote", h.handlePoolQuote)
	v1.GET("/payments/quote", h.handlePaymentQuote)
	v1.GET("/payments/receipts/:nonce", h.handleReceipt)
	v1.POST("/payments/verify", h.handleVerify)

	// ── Signed writes ──────────────────────────────────────────────────────
	v1.POST("/payments/settle", auth.Middleware(h.Redis, ActionSettle), h.handleSettle)
	v1.POST("/sponsor/authorize", auth.Middleware(h.Redis, ActionSponsor), h.handleSponsor)

	admin := v1.Group("/admin")
	admin.POST("/rates", auth.Middleware(h.Redis, ActionUpdateRates), h.handleUpdateRates)
	admin.POST("/currencies/status", auth.Middleware(h.Redis, ActionCurrencyStatus), h.handleCurrencyStatus)
	admin.POST("/pause", auth.Middleware(h.Redis, ActionPause), h.handlePause)
}

func (h *Handler) observe(c *gin.Context) {
	start := time.Now()
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	h.Metrics.ObserveRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
}

func (h *Handler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "chain_id": h.State.ChainID().String()})
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// statusFor maps a hard failure to an HTTP status. Anything not listed is a
// rejected call.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrPaused):
		return http.StatusServiceUnavailable
	case errors.Is(err, ledger.ErrPersist):
		return http.StatusInternalServerError
	case errors.Is(err, payment.ErrNonceUsed):
		return http.StatusConflict
	case errors.Is(err, sponsor.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, audit.ErrReceiptNotFound):
		return http.StatusNotFound
	default:
		return http.StatusUnprocessableEntity
	}
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.log.Error("request failed", zap.String("route", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", name, s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount reads a non-negative base-unit integer.
func parseAmount(name, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", name, s)
	}
	return v, nil
}
