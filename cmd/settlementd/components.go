package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ArtaPay/artapay-sc/internal/config"
	"github.com/ArtaPay/artapay-sc/internal/ledger"
	"github.com/ArtaPay/artapay-sc/internal/oracle"
	"github.com/ArtaPay/artapay-sc/internal/paymaster"
	"github.com/ArtaPay/artapay-sc/internal/payment"
	"github.com/ArtaPay/artapay-sc/internal/pool"
	"github.com/ArtaPay/artapay-sc/internal/token"
)

// components is the settlement core as the daemon runs it.
type components struct {
	state      *ledger.State
	tokens     *token.Registry
	oracle     *oracle.Oracle
	pool       *pool.Pool
	paymaster  *paymaster.Engine
	settlement *payment.Settlement
}

// buildComponents constructs every component over a Redis-backed ledger and
// loads whatever state was persisted before.
func buildComponents(ctx context.Context, cfg *config.Config, rdb *redis.Client, log *zap.Logger) (*components, error) {
	backend := ledger.NewRedisBackend(rdb)
	st := ledger.NewState(big.NewInt(cfg.Chain.ChainID),
		ledger.WithBackend(backend),
		ledger.WithLogger(log),
	)
	owner := common.HexToAddress(cfg.Chain.Owner)

	reg := token.NewRegistry()
	for _, cur := range cfg.Oracle.Currencies {
		tc := token.Config{
			Address:  common.HexToAddress(cur.Address),
			Name:     cur.Name,
			Symbol:   cur.Symbol,
			Decimals: cur.Decimals,
		}
		if cur.MaxMintPerCall != "" {
			limit, ok := new(big.Int).SetString(cur.MaxMintPerCall, 10)
			if !ok {
				return nil, fmt.Errorf("currency %s: invalid max_mint_per_call %q", cur.Symbol, cur.MaxMintPerCall)
			}
			tc.MaxMintPerCall = limit
		}
		if err := reg.Add(token.NewStablecoin(st, tc)); err != nil {
			return nil, fmt.Errorf("currency %s: %w", cur.Symbol, err)
		}
	}

	o := oracle.New(st, common.HexToAddress(cfg.Chain.OracleAddress), owner, reg)
	p := pool.New(st, common.HexToAddress(cfg.Chain.PoolAddress), owner, o, reg)
	pm := paymaster.New(st, common.HexToAddress(cfg.Chain.PaymasterAddress), owner, o, reg, log)
	s := payment.New(st, common.HexToAddress(cfg.Chain.SettlementAddress), owner,
		common.HexToAddress(cfg.Chain.FeeRecipient), o, p, reg, log)

	persisted, err := backend.ScanTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	if err := st.Load(ctx); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	log.Info("ledger loaded", zap.Int("tables", len(persisted)))
	return &components{state: st, tokens: reg, oracle: o, pool: p, paymaster: pm, settlement: s}, nil
}

// bootstrap seeds a fresh ledger from config and makes sure the sponsor key
// is an authorized paymaster signer. A ledger that already has currencies
// is left as persisted apart from the signer check.
func (c *components) bootstrap(ctx context.Context, cfg *config.Config, sponsorAddr common.Address, log *zap.Logger) error {
	owner := common.HexToAddress(cfg.Chain.Owner)
	fresh := len(c.oracle.Currencies()) == 0

	return c.state.Execute(ctx, func(tx *ledger.Tx) error {
		if fresh {
			if err := c.seed(tx, cfg, owner); err != nil {
				return err
			}
			log.Info("ledger seeded", zap.Int("currencies", len(cfg.Oracle.Currencies)))
		}
		if !c.paymaster.IsSigner(sponsorAddr) {
			if err := c.paymaster.SetSigner(tx, owner, sponsorAddr, true); err != nil {
				return fmt.Errorf("authorize sponsor signer: %w", err)
			}
		}
		return nil
	})
}

func (c *components) seed(tx *ledger.Tx, cfg *config.Config, owner common.Address) error {
	if err := c.oracle.SetRateBounds(tx, owner, cfg.Oracle.MinRate, cfg.Oracle.MaxRate); err != nil {
		return fmt.Errorf("rate bounds: %w", err)
	}
	if err := c.oracle.SetMaxChangeBps(tx, owner, cfg.Oracle.MaxChangeBps); err != nil {
		return fmt.Errorf("max change: %w", err)
	}

	regs := make([]oracle.Registration, 0, len(cfg.Oracle.Currencies))
	for _, cur := range cfg.Oracle.Currencies {
		regs = append(regs, oracle.Registration{
			Currency: common.HexToAddress(cur.Address),
			Symbol:   cur.Symbol,
			Region:   cur.Region,
			Rate:     cur.Rate,
		})
	}
	if err := c.oracle.RegisterBatch(tx, owner, regs); err != nil {
		return fmt.Errorf("register currencies: %w", err)
	}
	if cfg.Oracle.NativeRate != 0 {
		if err := c.oracle.UpdateNativeRate(tx, owner, cfg.Oracle.NativeRate); err != nil {
			return fmt.Errorf("native rate: %w", err)
		}
	}

	for _, r := range regs {
		if err := c.paymaster.SetSupportedToken(tx, owner, r.Currency, true); err != nil {
			return fmt.Errorf("support %s: %w", r.Symbol, err)
		}
	}
	for _, s := range cfg.Paymaster.Signers {
		if err := c.paymaster.SetSigner(tx, owner, common.HexToAddress(s), true); err != nil {
			return fmt.Errorf("signer %s: %w", s, err)
		}
	}
	if err := c.paymaster.SetMarkup(tx, owner, cfg.Paymaster.MarkupBps); err != nil {
		return fmt.Errorf("markup: %w", err)
	}
	return nil
}

func parseSigningKey(raw string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid SPONSOR_SIGNING_KEY: %w", err)
	}
	return key, nil
}

// logEvents logs every committed event.
func logEvents(log *zap.Logger) ledger.Subscriber {
	return func(_ context.Context, logs []ledger.Log) {
		for _, l := range logs {
			log.Info("ledger event",
				zap.String("event", l.Event.EventName()),
				zap.String("contract", l.Contract.Hex()),
			)
		}
	}
}
