package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sensorboot/sensorboot/pkg/bootstrap"
	"github.com/sensorboot/sensorboot/pkg/config"
	"github.com/sensorboot/sensorboot/pkg/installer"
	"github.com/sensorboot/sensorboot/pkg/launcher"
	"github.com/sensorboot/sensorboot/pkg/pyenv"
	"github.com/sensorboot/sensorboot/pkg/telemetry"
)

func newDevCommand() *cobra.Command {
	var (
		manifestPath string
		watchDirs    []string
	)

	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Run the bootstrap sequence with live reload",
		Long: `Run the bootstrap sequence in supervised mode for development. The
server runs as a child process and sensorboot stays resident, watching
the source tree and the dependency manifest:

  - a source change restarts the server
  - a manifest change reinstalls dependencies, then restarts

When metrics are enabled the Prometheus endpoint is served for the
lifetime of the session.`,
		Example: `  # Supervised run with live reload
  sensorboot dev

  # Watch additional source directories
  sensorboot dev --watch app --watch lib`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if manifestPath != "" {
				cfg.Manifest = manifestPath
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			return runDev(cmd.Context(), cfg, logger, watchDirs)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "dependency manifest path (overrides config)")
	cmd.Flags().StringSliceVarP(&watchDirs, "watch", "w", nil, "additional directories to watch for changes")

	return cmd
}

func runDev(ctx context.Context, cfg *config.Config, logger zerolog.Logger, watchDirs []string) error {
	gate, err := newGate(cfg, logger)
	if err != nil {
		return err
	}

	recorder, closeStore, err := openRecorder(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Metrics.Enabled {
		metrics, err = telemetry.NewMetrics(telemetry.MetricsConfig{
			Enabled:       true,
			ListenAddress: cfg.Telemetry.Metrics.ListenAddress,
			Path:          "/metrics",
			Namespace:     "sensorboot",
		})
		if err != nil {
			return fmt.Errorf("failed to initialize metrics: %w", err)
		}
		if err := metrics.StartServer(); err != nil {
			return fmt.Errorf("failed to start metrics endpoint: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metrics.StopServer(stopCtx)
		}()
	}

	env := pyenv.New(cfg.Environment.Dir, cfg.Environment.Interpreter)

	seqCfg := bootstrap.SequenceConfig{
		Env:          env,
		ManifestPath: cfg.Manifest,
		Entry:        cfg.Server.Entry,
		Endpoint:     cfg.Server.Endpoint(),
		Mode:         bootstrap.LaunchModeSupervise,
		Logger:       logger,
	}
	if gate != nil {
		seqCfg.Gate = gate
	}

	opts := bootstrap.Options{
		Mode:         bootstrap.LaunchModeSupervise,
		ManifestPath: cfg.Manifest,
		Metrics:      metrics,
		Logger:       logger,
	}
	if recorder != nil {
		opts.Recorder = recorder
	}

	orch := bootstrap.New(bootstrap.NewSequence(seqCfg), opts)

	rt := &bootstrap.Runtime{
		Env:     env,
		Console: os.Stdout,
	}

	if _, err := orch.Execute(ctx, rt); err != nil {
		return err
	}
	metrics.SetServerUp(true)
	defer metrics.SetServerUp(false)

	dirs := append([]string{filepath.Dir(cfg.Server.Entry)}, watchDirs...)
	watcher, err := launcher.NewWatcher(dirs, cfg.Manifest, []string{cfg.Environment.Dir}, logger)
	if err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	go watcher.Run(ctx)

	logger.Info().Strs("dirs", dirs).Str("manifest", cfg.Manifest).Msg("Watching for changes")

	return superviseLoop(ctx, cfg, logger, rt, watcher, metrics)
}

// superviseLoop owns the server child process after the initial bootstrap:
// it restarts on source changes, reinstalls then restarts on manifest
// changes, and exits when the server dies on its own or the context is
// cancelled.
func superviseLoop(ctx context.Context, cfg *config.Config, logger zerolog.Logger, rt *bootstrap.Runtime, watcher *launcher.Watcher, metrics *telemetry.Metrics) error {
	grace := cfg.Server.StopGrace
	if grace <= 0 {
		grace = 5 * time.Second
	}

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Shutting down server")
			if err := rt.Process.Stop(grace); err != nil {
				logger.Warn().Err(err).Msg("Server did not stop cleanly")
			}
			return nil

		case <-rt.Process.Done():
			err := rt.Process.Wait()
			metrics.SetServerUp(false)
			if err != nil {
				return fmt.Errorf("server exited: %w", err)
			}
			logger.Info().Msg("Server exited")
			return nil

		case change := <-watcher.Changes():
			logger.Info().
				Str("kind", string(change.Kind)).
				Str("path", change.Path).
				Msg("Change detected, restarting server")

			if err := rt.Process.Stop(grace); err != nil {
				logger.Warn().Err(err).Msg("Server did not stop cleanly")
			}
			metrics.SetServerUp(false)

			if change.Kind == launcher.ChangeManifest {
				fmt.Println("Installing dependencies...")
				inst := installer.New(rt.Env, rt.Environ, logger)
				if _, err := inst.Install(ctx, cfg.Manifest); err != nil {
					return err
				}
			}

			fmt.Printf("Starting server at %s\n", cfg.Server.Endpoint())
			proc, err := launcher.New(cfg.Server.Entry, rt.Env, rt.Environ, logger).Start(ctx)
			if err != nil {
				return err
			}
			rt.Process = proc
			metrics.RecordServerRestart(string(change.Kind))
			metrics.SetServerUp(true)
		}
	}
}
