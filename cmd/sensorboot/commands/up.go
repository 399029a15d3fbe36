package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/sensorboot/sensorboot/pkg/bootstrap"
	"github.com/sensorboot/sensorboot/pkg/config"
	"github.com/sensorboot/sensorboot/pkg/pyenv"
	"github.com/sensorboot/sensorboot/pkg/telemetry"
	sshtransport "github.com/sensorboot/sensorboot/pkg/transports/ssh"
)

func newUpCommand() *cobra.Command {
	var (
		manifestPath string
		target       string
		keyPath      string
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Run the bootstrap sequence and launch the server",
		Long: `Run the four-step bootstrap sequence: ensure the runtime environment,
activate it, install the dependency manifest, and launch the monitoring
server. On success the sensorboot process is replaced by the server.

With --target the same sequence runs on a remote gateway over SSH: the
manifest and entry point are uploaded, dependencies are installed in the
remote environment, and the server is started detached.`,
		Example: `  # Bootstrap and launch locally
  sensorboot up

  # Use a different dependency manifest
  sensorboot up --manifest requirements-prod.txt

  # Bootstrap a remote gateway
  sensorboot up --target pi@gateway-01.local`,
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

			if target != "" {
				return runRemote(cmd.Context(), cfg, logger, target, keyPath)
			}
			return runLocal(cmd.Context(), cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "dependency manifest path (overrides config)")
	cmd.Flags().StringVarP(&target, "target", "t", "", "remote gateway as user@host[:port]")
	cmd.Flags().StringVarP(&keyPath, "key", "k", "", "SSH private key for --target")

	return cmd
}

func runLocal(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	gate, err := newGate(cfg, logger)
	if err != nil {
		return err
	}

	recorder, closeStore, err := openRecorder(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var tracer *telemetry.Tracer
	if cfg.Telemetry.Tracing.Enabled {
		tracer, err = telemetry.NewTracer(telemetry.TracingConfig{
			Enabled:      true,
			Exporter:     cfg.Telemetry.Tracing.Exporter,
			Endpoint:     cfg.Telemetry.Tracing.Endpoint,
			SamplingRate: cfg.Telemetry.Tracing.SamplingRate,
			Insecure:     cfg.Telemetry.Tracing.Insecure,
		}, "sensorboot", "", "")
		if err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tracer.Shutdown(shutdownCtx)
		}()
	}

	seqCfg := bootstrap.SequenceConfig{
		Env:          pyenv.New(cfg.Environment.Dir, cfg.Environment.Interpreter),
		ManifestPath: cfg.Manifest,
		Entry:        cfg.Server.Entry,
		Endpoint:     cfg.Server.Endpoint(),
		Mode:         bootstrap.LaunchModeExec,
		Logger:       logger,
	}
	if gate != nil {
		seqCfg.Gate = gate
	}

	opts := bootstrap.Options{
		Mode:         bootstrap.LaunchModeExec,
		ManifestPath: cfg.Manifest,
		Tracer:       tracer,
		Logger:       logger,
	}
	if recorder != nil {
		opts.Recorder = recorder
	}

	orch := bootstrap.New(bootstrap.NewSequence(seqCfg), opts)

	rt := &bootstrap.Runtime{
		Env:     seqCfg.Env,
		Console: os.Stdout,
	}

	// In exec mode a successful Execute never returns: the process image
	// is replaced by the server.
	if _, err := orch.Execute(ctx, rt); err != nil {
		return err
	}
	return nil
}

func runRemote(ctx context.Context, cfg *config.Config, logger zerolog.Logger, target, keyPath string) error {
	sshCfg, err := sshtransport.ParseTarget(target)
	if err != nil {
		return err
	}
	if keyPath != "" {
		sshCfg.PrivateKeyPath = keyPath
	}

	client, err := sshtransport.NewClient(sshCfg)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	boot := sshtransport.NewBootstrapper(client, sshtransport.RemoteOptions{
		EnvDir:       cfg.Environment.Dir,
		Interpreter:  cfg.Environment.Interpreter,
		ManifestPath: cfg.Manifest,
		EntryPath:    cfg.Server.Entry,
		Endpoint:     cfg.Server.Endpoint(),
	}, os.Stdout, logger)

	result, err := boot.Run(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Remote server running on %s (pid %d, log %s)\n", sshCfg.Host, result.ServerPID, result.LogPath)
	return nil
}
