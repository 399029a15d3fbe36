package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/sensorboot/sensorboot/pkg/config"
	"github.com/sensorboot/sensorboot/pkg/policy"
	"github.com/sensorboot/sensorboot/pkg/stores"
	"github.com/sensorboot/sensorboot/pkg/telemetry"
)

// loadConfig applies the persistent --config and --verbose flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, error) {
	return telemetry.NewLogger(telemetry.LoggingConfig{
		Level:      cfg.Telemetry.LogLevel,
		Format:     cfg.Telemetry.LogFormat,
		Output:     "stderr",
		TimeFormat: "rfc3339",
	})
}

// newGate builds the manifest policy gate, or nil when policy checking is
// disabled.
func newGate(cfg *config.Config, logger zerolog.Logger) (*policy.Gate, error) {
	if !cfg.Policy.Enabled {
		return nil, nil
	}

	engine, err := policy.NewEngine(cfg.Policy.DeniedPackages, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build policy engine: %w", err)
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := engine.LoadPolicyFiles(cfg.Policy.Paths); err != nil {
			return nil, fmt.Errorf("failed to load policy files: %w", err)
		}
	}

	mode := policy.Mode(cfg.Policy.Mode)
	if mode == "" {
		mode = policy.ModeAdvisory
	}
	return policy.NewGate(engine, mode, logger), nil
}

// openRecorder opens the run-history store, or returns nils when recording
// is disabled. The caller must invoke the returned close function.
func openRecorder(ctx context.Context, cfg *config.Config) (*stores.Recorder, func(), error) {
	if !cfg.Store.Enabled {
		return nil, func() {}, nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return stores.NewRecorder(store), func() { _ = store.Close() }, nil
}
