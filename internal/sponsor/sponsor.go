// Package sponsor is the off-chain authorized signer that issues gas
// sponsorship payloads for the paymaster.
package sponsor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ArtaPay/artapay-sc/internal/auth"
	"github.com/ArtaPay/artapay-sc/internal/paymaster"
)

// QuotaKeyFmt is the per-payer hourly issuance counter: payer, unix hour.
const QuotaKeyFmt = "sponsor:quota:%s:%d"

const (
	DefaultVerificationGasLimit = 150_000
	DefaultPostOpGasLimit       = 60_000
)

var (
	ErrQuotaExceeded = errors.New("sponsor: hourly quota exceeded")
	ErrZeroPayer     = errors.New("sponsor: zero payer")
)

// Request asks for a sponsorship of one operation.
type Request struct {
	Payer        common.Address
	Currency     common.Address
	IsActivation bool
	Permit       *paymaster.Permit
}

// Grant is a signed sponsorship ready to be placed in a user operation.
type Grant struct {
	PaymasterAndData []byte
	ValidAfter       uint64
	ValidUntil       uint64
}

// Signer issues sponsorship payloads with an authorized key.
type Signer struct {
	key       *ecdsa.PrivateKey
	paymaster common.Address
	validity  time.Duration
	quota     int64
	rdb       *redis.Client
	now       func() time.Time
	log       *zap.Logger
}

type Option func(*Signer)

// WithClock overrides the wall clock used for validity windows and quotas.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

func NewSigner(key *ecdsa.PrivateKey, paymasterAddr common.Address, validity time.Duration, quotaPerHour int64, rdb *redis.Client, log *zap.Logger, opts ...Option) *Signer {
	s := &Signer{
		key:       key,
		paymaster: paymasterAddr,
		validity:  validity,
		quota:     quotaPerHour,
		rdb:       rdb,
		now:       time.Now,
		log:       log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Address is the signer the paymaster must have registered.
func (s *Signer) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Authorize consumes one unit of the payer's hourly quota and returns the
// signed paymasterAndData.
func (s *Signer) Authorize(ctx context.Context, req Request) (*Grant, error) {
	if req.Payer == (common.Address{}) {
		return nil, ErrZeroPayer
	}
	now := s.now()
	if err := s.consumeQuota(ctx, req.Payer, now); err != nil {
		return nil, err
	}

	a := &paymaster.Authorization{
		Currency:     req.Currency,
		Payer:        req.Payer,
		ValidAfter:   uint64(now.Unix()),
		ValidUntil:   uint64(now.Add(s.validity).Unix()),
		IsActivation: req.IsActivation,
		Permit:       req.Permit,
	}
	digest, err := a.Digest()
	if err != nil {
		return nil, fmt.Errorf("sponsorship digest: %w", err)
	}
	if a.Signature, err = auth.Sign(digest[:], s.key); err != nil {
		return nil, fmt.Errorf("sign sponsorship: %w", err)
	}
	pnd, err := paymaster.EncodePaymasterAndData(paymaster.Header{
		Paymaster:            s.paymaster,
		VerificationGasLimit: DefaultVerificationGasLimit,
		PostOpGasLimit:       DefaultPostOpGasLimit,
	}, a)
	if err != nil {
		return nil, err
	}

	s.log.Info("sponsorship issued",
		zap.String("payer", req.Payer.Hex()),
		zap.String("currency", req.Currency.Hex()),
		zap.Bool("activation", req.IsActivation),
		zap.Uint64("valid_until", a.ValidUntil),
	)
	return &Grant{PaymasterAndData: pnd, ValidAfter: a.ValidAfter, ValidUntil: a.ValidUntil}, nil
}

// consumeQuota increments the payer's counter for the current hour. INCR and
// EXPIRE NX run in one transaction, so every counter carries an expiry.
func (s *Signer) consumeQuota(ctx context.Context, payer common.Address, now time.Time) error {
	if s.quota <= 0 {
		return nil
	}
	hour := now.Unix() / 3600
	key := fmt.Sprintf(QuotaKeyFmt, strings.ToLower(payer.Hex()), hour)
	var incr *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.ExpireNX(ctx, key, time.Hour)
		return nil
	})
	if err != nil {
		return fmt.Errorf("consume quota: %w", err)
	}
	n := incr.Val()
	if n > s.quota {
		return fmt.Errorf("%w: %d of %d", ErrQuotaExceeded, n, s.quota)
	}
	return nil
}
