package config

import (
	"strings"
	"testing"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("OWNER_ADDRESS", "0x00000000000000000000000000000000000000aa")
	t.Setenv("FEE_RECIPIENT", "0x00000000000000000000000000000000000000dd")
	t.Setenv("SPONSOR_SIGNING_KEY", "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.GRPCPort != 9090 {
		t.Errorf("ports: got %d/%d", cfg.Server.Port, cfg.Server.GRPCPort)
	}
	if cfg.Chain.ChainID != 84532 {
		t.Errorf("chain id: got %d want 84532", cfg.Chain.ChainID)
	}
	if cfg.Paymaster.MarkupBps != 500 || cfg.Sponsor.ValiditySec != 600 {
		t.Errorf("paymaster/sponsor defaults: got %+v %+v", cfg.Paymaster, cfg.Sponsor)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9999")
	t.Setenv("CHAIN_ID", "4202")
	t.Setenv("SPONSOR_QUOTA_PER_HOUR", "0")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 || cfg.Chain.ChainID != 4202 {
		t.Errorf("got port %d chain %d", cfg.Server.Port, cfg.Chain.ChainID)
	}
	if cfg.Sponsor.QuotaPerHour != 0 || cfg.Log.Level != "debug" {
		t.Errorf("got quota %d level %q", cfg.Sponsor.QuotaPerHour, cfg.Log.Level)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing owner", map[string]string{"OWNER_ADDRESS": ""}, "OWNER_ADDRESS"},
		{"missing sponsor key", map[string]string{"SPONSOR_SIGNING_KEY": ""}, "SPONSOR_SIGNING_KEY"},
		{"bad fee recipient", map[string]string{"FEE_RECIPIENT": "treasury"}, "chain.fee_recipient"},
		{"zero chain id", map[string]string{"CHAIN_ID": "0"}, "CHAIN_ID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("got %v want error mentioning %s", err, tc.wantErr)
			}
		})
	}
}

func TestValidate_Currencies(t *testing.T) {
	base := func() *Config {
		return &Config{Chain: ChainConfig{
			ChainID:           1,
			Owner:             "0x00000000000000000000000000000000000000aa",
			FeeRecipient:      "0x00000000000000000000000000000000000000dd",
			OracleAddress:     "0x00000000000000000000000000000000000a7001",
			PoolAddress:       "0x00000000000000000000000000000000000a7002",
			PaymasterAddress:  "0x00000000000000000000000000000000000a7003",
			SettlementAddress: "0x00000000000000000000000000000000000a7004",
		}, Sponsor: SponsorConfig{SigningKey: "k"}}
	}

	cfg := base()
	cfg.Oracle.Currencies = []CurrencyConfig{{Symbol: "USDC", Address: "0x00000000000000000000000000000000000c0001", Decimals: 6}}
	if err := cfg.validate(); err != nil {
		t.Fatalf("valid config: %v", err)
	}

	cfg.Oracle.Currencies[0].Decimals = 19
	if err := cfg.validate(); err == nil {
		t.Error("expected error for 19 decimals")
	}

	cfg = base()
	cfg.Oracle.Currencies = []CurrencyConfig{{Address: "0x00000000000000000000000000000000000c0001"}}
	if err := cfg.validate(); err == nil {
		t.Error("expected error for missing symbol")
	}

	cfg = base()
	cfg.Paymaster.Signers = []string{"nobody"}
	if err := cfg.validate(); err == nil {
		t.Error("expected error for bad signer")
	}
}
