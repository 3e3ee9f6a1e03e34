package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"

	"exchangefunds/config"
	"exchangefunds/core"
	"exchangefunds/core/state"
	"exchangefunds/native/mutualizer"
	"exchangefunds/observability/logging"
	"exchangefunds/observability/metrics"
	telemetry "exchangefunds/observability/otel"
	"exchangefunds/storage"
	"exchangefunds/storage/trie"
)

var rootKey = []byte("fundsctl/root")

func openStore(cfg *config.Config) (storage.Database, error) {
	if cfg.Storage == config.StorageLevelDB {
		return storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	}
	return storage.NewMemDB(), nil
}

func runSimulate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet(simulateCommand, flag.ContinueOnError)
	configPath := fs.String("config", defaultConfig, "Path to the funds config file")
	scenarioPath := fs.String("scenario", "", "Path to the YAML scenario")
	resume := fs.Bool("resume", false, "Continue from the state root stored by a previous run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *scenarioPath == "" {
		return fmt.Errorf("-scenario is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	sc, err := LoadScenario(*scenarioPath)
	if err != nil {
		return err
	}
	logger := logging.Setup("fundsctl", cfg.Environment, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "fundsctl",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		if err := shutdown(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer db.Close()
	var root []byte
	if *resume {
		if root, err = db.Get(rootKey); err != nil {
			return fmt.Errorf("no stored state root to resume from: %w", err)
		}
	}
	tr, err := trie.NewTrie(db, root)
	if err != nil {
		return err
	}
	manager := state.NewManager(tr)

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}
	vault, err := cfg.VaultAddress()
	if err != nil {
		return err
	}
	treasury, err := cfg.TreasuryAddress()
	if err != nil {
		return err
	}
	var m *metrics.FundsMetrics
	if cfg.Metrics.Enabled {
		m = metrics.Funds()
	}
	protocol, err := core.New(manager, core.Options{
		Policy:   policy,
		Vault:    vault,
		Treasury: treasury,
		Logger:   logger,
		Metrics:  m,
	})
	if err != nil {
		return err
	}

	r := newRunner(protocol, func(addr common.Address) *mutualizer.Pool {
		return mutualizer.NewPool(manager, addr)
	}, out)
	if err := r.run(ctx, sc); err != nil {
		return err
	}
	hash, err := protocol.Persist()
	if err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	if err := db.Put(rootKey, hash.Bytes()); err != nil {
		return err
	}
	fmt.Fprintf(out, "state root %s\n", hash.Hex())
	return nil
}
