// Package metrics exposes Prometheus counters over committed ledger events
// and HTTP traffic.
package metrics

import (
	"context"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ArtaPay/artapay-sc/internal/ledger"
	"github.com/ArtaPay/artapay-sc/internal/oracle"
	"github.com/ArtaPay/artapay-sc/internal/paymaster"
	"github.com/ArtaPay/artapay-sc/internal/payment"
	"github.com/ArtaPay/artapay-sc/internal/pool"
	"github.com/ArtaPay/artapay-sc/internal/token"
)

type Metrics struct {
	EventsTotal        *prometheus.CounterVec
	SettlementsTotal   *prometheus.CounterVec
	SettledAmountTotal *prometheus.CounterVec
	PlatformFeeTotal   *prometheus.CounterVec
	SwapsTotal         *prometheus.CounterVec
	SponsorshipsTotal  *prometheus.CounterVec
	RateUpdatesTotal   *prometheus.CounterVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	tokens *token.Registry
}

// New registers every collector on reg. tokens resolves currency labels to
// symbols; unknown currencies are labelled by address.
func New(reg prometheus.Registerer, tokens *token.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_events_total",
				Help: "Committed ledger events by name",
			},
			[]string{"event"},
		),
		SettlementsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settlements_total",
				Help: "Settled payment requests",
			},
			[]string{"requested_currency", "pay_currency"},
		),
		SettledAmountTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "settled_amount_total",
				Help: "Requested amount paid out to recipients, in whole currency units",
			},
			[]string{"requested_currency"},
		),
		PlatformFeeTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "platform_fee_total",
				Help: "Platform fees collected, in whole currency units",
			},
			[]string{"currency"},
		),
		SwapsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pool_swaps_total",
				Help: "Exchange pool swaps",
			},
			[]string{"token_in", "token_out"},
		),
		SponsorshipsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sponsorships_total",
				Help: "Sponsored operations by kind",
			},
			[]string{"kind", "currency"},
		),
		RateUpdatesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "oracle_rate_updates_total",
				Help: "Oracle rate updates",
			},
			[]string{"currency"},
		),
		HTTPRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "HTTP requests by route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms .. 2s
			},
			[]string{"method", "route"},
		),
		tokens: tokens,
	}
}

// Observe is a ledger.Subscriber.
func (m *Metrics) Observe(_ context.Context, logs []ledger.Log) {
	for _, l := range logs {
		m.EventsTotal.WithLabelValues(l.Event.EventName()).Inc()
		switch ev := l.Event.(type) {
		case payment.SettlementCompleted:
			cur := m.label(ev.RequestedCurrency)
			m.SettlementsTotal.WithLabelValues(cur, m.label(ev.PayCurrency)).Inc()
			m.SettledAmountTotal.WithLabelValues(cur).Add(m.units(ev.RequestedCurrency, ev.RequestedAmount))
			m.PlatformFeeTotal.WithLabelValues(cur).Add(m.units(ev.RequestedCurrency, ev.PlatformFee))
		case pool.Swapped:
			m.SwapsTotal.WithLabelValues(m.label(ev.TokenIn), m.label(ev.TokenOut)).Inc()
		case paymaster.SponsorshipGranted:
			m.SponsorshipsTotal.WithLabelValues(string(ev.Kind), m.label(ev.Currency)).Inc()
		case oracle.RateUpdated:
			m.RateUpdatesTotal.WithLabelValues(m.label(ev.Currency)).Inc()
		}
	}
}

// ObserveRequest records one served HTTP request.
func (m *Metrics) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) label(addr common.Address) string {
	if m.tokens != nil {
		if t, err := m.tokens.Lookup(addr); err == nil {
			return t.Symbol()
		}
	}
	return addr.Hex()
}

// units converts a raw token amount to whole units for counter values.
func (m *Metrics) units(addr common.Address, amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	dec := uint8(0)
	if m.tokens != nil {
		if d, err := m.tokens.Decimals(addr); err == nil {
			dec = d
		}
	}
	f := new(big.Float).SetInt(amount)
	f.Quo(f, new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(dec)), nil)))
	v, _ := f.Float64()
	return v
}
