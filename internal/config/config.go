package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Chain     ChainConfig
	Oracle    OracleConfig
	Paymaster PaymasterConfig
	Sponsor   SponsorConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int `mapstructure:"port"`
	GRPCPort int `mapstructure:"grpc_port"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type ChainConfig struct {
	ChainID           int64  `mapstructure:"chain_id"`
	Owner             string `mapstructure:"owner"`
	OracleAddress     string `mapstructure:"oracle_address"`
	PoolAddress       string `mapstructure:"pool_address"`
	PaymasterAddress  string `mapstructure:"paymaster_address"`
	SettlementAddress string `mapstructure:"settlement_address"`
	FeeRecipient      string `mapstructure:"fee_recipient"`
}

type OracleConfig struct {
	NativeRate   uint64           `mapstructure:"native_rate"`
	MaxChangeBps uint64           `mapstructure:"max_change_bps"`
	MinRate      uint64           `mapstructure:"min_rate"`
	MaxRate      uint64           `mapstructure:"max_rate"`
	Currencies   []CurrencyConfig `mapstructure:"currencies"`
}

// CurrencyConfig seeds one stablecoin and its oracle registration on a
// fresh ledger.
type CurrencyConfig struct {
	Symbol         string `mapstructure:"symbol"`
	Name           string `mapstructure:"name"`
	Address        string `mapstructure:"address"`
	Decimals       uint8  `mapstructure:"decimals"`
	Region         string `mapstructure:"region"`
	Rate           uint64 `mapstructure:"rate"`
	MaxMintPerCall string `mapstructure:"max_mint_per_call"`
}

type PaymasterConfig struct {
	MarkupBps uint64   `mapstructure:"markup_bps"`
	Signers   []string `mapstructure:"signers"`
}

type SponsorConfig struct {
	SigningKey   string `mapstructure:"signing_key"`
	ValiditySec  int64  `mapstructure:"validity_sec"`
	QuotaPerHour int64  `mapstructure:"quota_per_hour"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("chain.chain_id", 84532)
	v.SetDefault("chain.oracle_address", "0x00000000000000000000000000000000000a7001")
	v.SetDefault("chain.pool_address", "0x00000000000000000000000000000000000a7002")
	v.SetDefault("chain.paymaster_address", "0x00000000000000000000000000000000000a7003")
	v.SetDefault("chain.settlement_address", "0x00000000000000000000000000000000000a7004")
	v.SetDefault("oracle.max_change_bps", 5000)
	v.SetDefault("oracle.min_rate", 10_000)
	v.SetDefault("oracle.max_rate", 10_000_000_000_000_000)
	v.SetDefault("paymaster.markup_bps", 500)
	v.SetDefault("sponsor.validity_sec", 600)
	v.SetDefault("sponsor.quota_per_hour", 20)
	v.SetDefault("log.level", "info")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":              "PORT",
		"server.grpc_port":         "GRPC_PORT",
		"redis.addr":               "REDIS_ADDR",
		"redis.password":           "REDIS_PASSWORD",
		"chain.chain_id":           "CHAIN_ID",
		"chain.owner":              "OWNER_ADDRESS",
		"chain.fee_recipient":      "FEE_RECIPIENT",
		"oracle.native_rate":       "NATIVE_RATE",
		"paymaster.markup_bps":     "MARKUP_BPS",
		"sponsor.signing_key":      "SPONSOR_SIGNING_KEY",
		"sponsor.validity_sec":     "SPONSOR_VALIDITY_SEC",
		"sponsor.quota_per_hour":   "SPONSOR_QUOTA_PER_HOUR",
		"log.level":                "LOG_LEVEL",
		"log.file":                 "LOG_FILE",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Chain.Owner, "OWNER_ADDRESS"},
		{c.Chain.FeeRecipient, "FEE_RECIPIENT"},
		{c.Sponsor.SigningKey, "SPONSOR_SIGNING_KEY"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	if c.Chain.ChainID == 0 {
		return fmt.Errorf("required config missing: CHAIN_ID")
	}
	for _, a := range []struct{ val, name string }{
		{c.Chain.Owner, "chain.owner"},
		{c.Chain.FeeRecipient, "chain.fee_recipient"},
		{c.Chain.OracleAddress, "chain.oracle_address"},
		{c.Chain.PoolAddress, "chain.pool_address"},
		{c.Chain.PaymasterAddress, "chain.paymaster_address"},
		{c.Chain.SettlementAddress, "chain.settlement_address"},
	} {
		if !common.IsHexAddress(a.val) {
			return fmt.Errorf("invalid address for %s: %q", a.name, a.val)
		}
	}
	for i, cur := range c.Oracle.Currencies {
		if cur.Symbol == "" || !common.IsHexAddress(cur.Address) {
			return fmt.Errorf("oracle.currencies[%d]: symbol and address required", i)
		}
		if cur.Decimals > 18 {
			return fmt.Errorf("oracle.currencies[%d]: decimals %d > 18", i, cur.Decimals)
		}
	}
	for i, s := range c.Paymaster.Signers {
		if !common.IsHexAddress(s) {
			return fmt.Errorf("paymaster.signers[%d]: invalid address %q", i, s)
		}
	}
	return nil
}
