package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/sensorboot/sensorboot/pkg/installer"
	"github.com/sensorboot/sensorboot/pkg/launcher"
	"github.com/sensorboot/sensorboot/pkg/manifest"
	"github.com/sensorboot/sensorboot/pkg/pyenv"
)

// Step names, used in run records and error reports.
const (
	StepEnsureEnvironment   = "ensure_environment"
	StepActivateEnvironment = "activate_environment"
	StepInstallDependencies = "install_dependencies"
	StepLaunchServer        = "launch_server"
)

// printf writes an operator-facing informational line.
func (rt *Runtime) printf(format string, args ...interface{}) {
	w := rt.Console
	if w == nil {
		w = os.Stdout
	}
	fmt.Fprintf(w, format, args...)
}

// ensureEnvironmentStep creates the runtime environment if absent.
type ensureEnvironmentStep struct {
	logger zerolog.Logger
}

func (s *ensureEnvironmentStep) Name() string  { return StepEnsureEnvironment }
func (s *ensureEnvironmentStep) Target() State { return StateEnvReady }

func (s *ensureEnvironmentStep) Run(ctx context.Context, rt *Runtime) error {
	if !rt.Env.IsValid() && !rt.Env.Exists() {
		rt.printf("Creating virtual environment...\n")
	}

	created, err := rt.Env.Ensure(ctx)
	if err != nil {
		return NewEnvCreateError("failed to create runtime environment", err).
			WithStep(s.Name())
	}
	rt.EnvCreated = created

	s.logger.Info().
		Str("root", rt.Env.Root).
		Bool("created", created).
		Msg("Runtime environment ready")
	return nil
}

// activateEnvironmentStep rebinds the execution context's command resolution
// paths to the environment's own copies for the remainder of the sequence.
type activateEnvironmentStep struct {
	base   []string
	logger zerolog.Logger
}

func (s *activateEnvironmentStep) Name() string  { return StepActivateEnvironment }
func (s *activateEnvironmentStep) Target() State { return StateEnvActive }

func (s *activateEnvironmentStep) Run(_ context.Context, rt *Runtime) error {
	base := s.base
	if base == nil {
		base = os.Environ()
	}
	rt.Environ = rt.Env.Activate(base)

	s.logger.Debug().
		Str("root", rt.Env.Root).
		Msg("Runtime environment activated")
	return nil
}

// installDependenciesStep parses the manifest, applies the policy gate, and
// installs every requirement into the active environment.
type installDependenciesStep struct {
	manifestPath string
	gate         Gate
	logger       zerolog.Logger
}

func (s *installDependenciesStep) Name() string  { return StepInstallDependencies }
func (s *installDependenciesStep) Target() State { return StateDepsInstalled }

func (s *installDependenciesStep) Run(ctx context.Context, rt *Runtime) error {
	m, err := manifest.ParseFile(s.manifestPath)
	if err != nil {
		return NewDepInstallError("failed to read dependency manifest", err).
			WithStep(s.Name())
	}
	rt.Manifest = m

	if s.gate != nil {
		if err := s.gate.Check(ctx, m); err != nil {
			return NewDepInstallError("manifest rejected by policy", err).
				WithStep(s.Name())
		}
	}

	rt.printf("Installing dependencies...\n")

	inst := installer.New(rt.Env, rt.Environ, s.logger)
	result, err := inst.Install(ctx, s.manifestPath)
	if result != nil {
		rt.Install = result
	}
	if err != nil {
		bootErr := NewDepInstallError("dependency installation failed", err).
			WithStep(s.Name())
		if result != nil {
			bootErr = bootErr.WithOutput(result.Stderr)
		}
		return bootErr
	}

	s.logger.Info().
		Int("requirements", len(m.Requirements)).
		Int("installed", result.Installed).
		Bool("already_satisfied", result.AlreadySatisfied).
		Msg("Dependencies installed")
	return nil
}

// launchServerStep starts the server bound to the configured endpoint. In
// exec mode a successful launch never returns.
type launchServerStep struct {
	entry    string
	endpoint string
	mode     LaunchMode
	logger   zerolog.Logger
}

func (s *launchServerStep) Name() string  { return StepLaunchServer }
func (s *launchServerStep) Target() State { return StateRunning }

func (s *launchServerStep) Run(ctx context.Context, rt *Runtime) error {
	rt.printf("Starting server at %s\n", s.endpoint)

	l := launcher.New(s.entry, rt.Env, rt.Environ, s.logger)

	switch s.mode {
	case LaunchModeSupervise:
		proc, err := l.Start(ctx)
		if err != nil {
			return NewLaunchError("failed to start server process", err).
				WithStep(s.Name())
		}
		rt.Process = proc
		return nil

	case LaunchModeExec, "":
		if err := l.Exec(); err != nil {
			return NewLaunchError("failed to exec server process", err).
				WithStep(s.Name())
		}
		return nil

	default:
		return NewLaunchError(fmt.Sprintf("unknown launch mode %q", s.mode), nil).
			WithStep(s.Name())
	}
}

// SequenceConfig holds everything needed to build the fixed step sequence.
type SequenceConfig struct {
	// Env is the runtime environment to provision.
	Env *pyenv.Env

	// ManifestPath is the dependency manifest file.
	ManifestPath string

	// Entry is the server entry-point file.
	Entry string

	// Endpoint is the operator-facing server URL.
	Endpoint string

	// Mode selects exec or supervised launch.
	Mode LaunchMode

	// Gate is the optional manifest policy gate.
	Gate Gate

	// BaseEnviron overrides os.Environ() as the activation base. Tests use
	// this; production leaves it nil.
	BaseEnviron []string

	// Logger is the parent logger for all steps.
	Logger zerolog.Logger
}

// NewSequence builds the four bootstrap steps in their fixed order. There is
// no other ordering: ensure, activate, install, launch.
func NewSequence(cfg SequenceConfig) []Step {
	return []Step{
		&ensureEnvironmentStep{logger: cfg.Logger},
		&activateEnvironmentStep{base: cfg.BaseEnviron, logger: cfg.Logger},
		&installDependenciesStep{
			manifestPath: cfg.ManifestPath,
			gate:         cfg.Gate,
			logger:       cfg.Logger,
		},
		&launchServerStep{
			entry:    cfg.Entry,
			endpoint: cfg.Endpoint,
			mode:     cfg.Mode,
			logger:   cfg.Logger,
		},
	}
}
