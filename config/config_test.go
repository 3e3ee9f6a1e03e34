package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"exchangefunds/native/fees"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage != StorageMemory {
		t.Fatalf("expected memory storage, got %q", cfg.Storage)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Fees.ProtocolFeeBps != cfg.Fees.ProtocolFeeBps || reloaded.Vault != cfg.Vault {
		t.Fatalf("config changed across reload: %+v vs %+v", reloaded, cfg)
	}
}

func TestLoadParsesFeePolicy(t *testing.T) {
	path := writeConfig(t, `DataDir = "./data"
Storage = "LevelDB"
Vault = "0x00000000000000000000000000000000000000aa"
Treasury = "0x00000000000000000000000000000000000000bb"

[Fees]
ProtocolFeeBps = 250
FlatFee = "1000"
FeeToken = "0x00000000000000000000000000000000000000cc"
MaxRoyaltyBps = 500
MaxTotalFeeBps = 2000
BuyerEscalationDepositBps = 300

[[Fees.Tiers]]
Token = "0x00000000000000000000000000000000000000dd"
PriceLimits = ["100", "1000"]
FeeBps = [50, 25]

[Log]
Level = "debug"
File = "funds.log"
MaxSizeMB = 10

[Telemetry]
Endpoint = "collector:4318"
Traces = true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage != StorageLevelDB {
		t.Fatalf("expected leveldb, got %q", cfg.Storage)
	}
	if cfg.Log.Level != "debug" || cfg.Log.File != "funds.log" || cfg.Log.MaxSizeMB != 10 {
		t.Fatalf("unexpected log section: %+v", cfg.Log)
	}
	if !cfg.Telemetry.Traces || cfg.Telemetry.Endpoint != "collector:4318" {
		t.Fatalf("unexpected telemetry section: %+v", cfg.Telemetry)
	}
	policy, err := cfg.Policy()
	if err != nil {
		t.Fatalf("policy: %v", err)
	}
	if policy.ProtocolFeeBps != 250 || policy.MaxRoyaltyBps != 500 || policy.MaxTotalFeeBps != 2000 || policy.BuyerEscalationDepositBps != 300 {
		t.Fatalf("unexpected policy: %+v", policy)
	}
	if policy.FlatFee == nil || policy.FlatFee.Int64() != 1000 {
		t.Fatalf("unexpected flat fee: %v", policy.FlatFee)
	}
	if policy.FeeToken != common.HexToAddress("0xcc") {
		t.Fatalf("unexpected fee token: %s", policy.FeeToken.Hex())
	}
	if len(policy.Tiers) != 1 || len(policy.Tiers[0].PriceLimits) != 2 || policy.Tiers[0].PriceLimits[1].Int64() != 1000 {
		t.Fatalf("unexpected tiers: %+v", policy.Tiers)
	}
	treasury, err := cfg.TreasuryAddress()
	if err != nil || treasury != common.HexToAddress("0xbb") {
		t.Fatalf("unexpected treasury %s: %v", treasury.Hex(), err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown storage":   func(c *Config) { c.Storage = "bolt" },
		"leveldb no dir":    func(c *Config) { c.Storage = StorageLevelDB; c.DataDir = "" },
		"missing vault":     func(c *Config) { c.Vault = "" },
		"bad treasury":      func(c *Config) { c.Treasury = "not-an-address" },
		"negative flat fee": func(c *Config) { c.Fees.FlatFee = "-1" },
		"bad tier limit":    func(c *Config) { c.Fees.Tiers = []Tier{{PriceLimits: []string{"x"}, FeeBps: []uint16{1}}} },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestPolicyRejectsUnorderedTiers(t *testing.T) {
	cfg := Default()
	cfg.Fees.Tiers = []Tier{{PriceLimits: []string{"1000", "100"}, FeeBps: []uint16{50, 25}}}
	if _, err := cfg.Policy(); !errors.Is(err, fees.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
	cfg.Fees.Tiers = nil
	cfg.Fees.ProtocolFeeBps = 10_001
	if _, err := cfg.Policy(); !errors.Is(err, fees.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy, got %v", err)
	}
}
