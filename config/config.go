package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	StorageMemory  = "memory"
	StorageLevelDB = "leveldb"
)

type Config struct {
	DataDir     string    `toml:"DataDir"`
	Storage     string    `toml:"Storage"`
	Environment string    `toml:"Environment"`
	Vault       string    `toml:"Vault"`
	Treasury    string    `toml:"Treasury"`
	Fees        Fees      `toml:"Fees"`
	Log         Log       `toml:"Log"`
	Metrics     Metrics   `toml:"Metrics"`
	Telemetry   Telemetry `toml:"Telemetry"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		DataDir:     "./funds-data",
		Storage:     StorageMemory,
		Environment: "local",
		Vault:       "0x00000000000000000000000000000000000000ff",
		Treasury:    "0x0000000000000000000000000000000000007e57",
		Fees: Fees{
			ProtocolFeeBps:            100,
			MaxRoyaltyBps:             1_000,
			MaxTotalFeeBps:            10_000,
			BuyerEscalationDepositBps: 100,
		},
		Log:     Log{Level: "info"},
		Metrics: Metrics{Address: ":9464"},
	}
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := persist(path, cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.Storage = strings.ToLower(strings.TrimSpace(cfg.Storage))
	if cfg.Storage == "" {
		cfg.Storage = StorageMemory
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
