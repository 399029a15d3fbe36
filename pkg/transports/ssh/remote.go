package ssh

import (
	"context"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sensorboot/sensorboot/pkg/bootstrap"
)

// RemoteOptions describes where the bootstrap sequence runs on the
// remote gateway and which local files it needs.
type RemoteOptions struct {
	// WorkDir is the remote working directory. Uploaded files and the
	// server log land here.
	WorkDir string

	// EnvDir is the remote virtual environment root, relative to
	// WorkDir unless absolute.
	EnvDir string

	// Interpreter is the base Python interpreter on the remote host.
	Interpreter string

	// ManifestPath is the local dependency manifest to upload.
	ManifestPath string

	// EntryPath is the local server entry point to upload.
	EntryPath string

	// Endpoint is the address printed when the server starts.
	Endpoint string
}

// Bootstrapper runs the four-step bootstrap sequence on a remote
// gateway over an established SSH connection.
type Bootstrapper struct {
	client  *Client
	opts    RemoteOptions
	console io.Writer
	logger  zerolog.Logger
}

// NewBootstrapper creates a remote bootstrapper. Console output mirrors
// the local sequence so the operator sees the same three lines.
func NewBootstrapper(client *Client, opts RemoteOptions, console io.Writer, logger zerolog.Logger) *Bootstrapper {
	if opts.WorkDir == "" {
		opts.WorkDir = "sensorboot"
	}
	if opts.EnvDir == "" {
		opts.EnvDir = "venv"
	}
	if opts.Interpreter == "" {
		opts.Interpreter = "python3"
	}
	return &Bootstrapper{
		client:  client,
		opts:    opts,
		console: console,
		logger:  logger,
	}
}

// RemoteResult reports what the remote sequence did.
type RemoteResult struct {
	EnvCreated bool
	ServerPID  int
	LogPath    string
}

// Run executes the bootstrap sequence on the remote host: ensure the
// virtual environment, upload the manifest and entry point, install
// dependencies, and launch the server detached. The first failing step
// halts the sequence.
func (b *Bootstrapper) Run(ctx context.Context) (*RemoteResult, error) {
	result := &RemoteResult{}

	created, err := b.ensureEnvironment(ctx)
	if err != nil {
		return result, err
	}
	result.EnvCreated = created

	if err := b.uploadFiles(ctx); err != nil {
		return result, err
	}

	if err := b.installDependencies(ctx); err != nil {
		return result, err
	}

	pid, logPath, err := b.launchServer(ctx)
	if err != nil {
		return result, err
	}
	result.ServerPID = pid
	result.LogPath = logPath

	return result, nil
}

func (b *Bootstrapper) envDir() string {
	if path.IsAbs(b.opts.EnvDir) {
		return b.opts.EnvDir
	}
	return path.Join(b.opts.WorkDir, b.opts.EnvDir)
}

func (b *Bootstrapper) envPython() string {
	return path.Join(b.envDir(), "bin", "python")
}

func (b *Bootstrapper) remoteManifest() string {
	return path.Join(b.opts.WorkDir, path.Base(b.opts.ManifestPath))
}

func (b *Bootstrapper) remoteEntry() string {
	return path.Join(b.opts.WorkDir, path.Base(b.opts.EntryPath))
}

func (b *Bootstrapper) printf(format string, args ...interface{}) {
	if b.console != nil {
		fmt.Fprintf(b.console, format+"\n", args...)
	}
}

func (b *Bootstrapper) ensureEnvironment(ctx context.Context) (bool, error) {
	envDir := b.envDir()

	check, err := b.client.Run(ctx, fmt.Sprintf("test -x %s", shellQuote(b.envPython())))
	if err != nil {
		return false, bootstrap.NewEnvCreateError("failed to inspect remote environment", err).
			WithStep(bootstrap.StepEnsureEnvironment)
	}
	if check.ExitCode == 0 {
		b.logger.Debug().Str("env", envDir).Msg("remote environment already valid")
		return false, nil
	}

	exists, err := b.client.Run(ctx, fmt.Sprintf("test -e %s", shellQuote(envDir)))
	if err != nil {
		return false, bootstrap.NewEnvCreateError("failed to inspect remote environment", err).
			WithStep(bootstrap.StepEnsureEnvironment)
	}
	if exists.ExitCode == 0 {
		return false, bootstrap.NewEnvCreateError(
			fmt.Sprintf("remote path %s exists but is not a virtual environment", envDir), nil).
			WithStep(bootstrap.StepEnsureEnvironment)
	}

	b.printf("Creating virtual environment...")
	b.logger.Info().Str("env", envDir).Str("host", b.client.config.Host).Msg("creating remote virtual environment")

	cmd := fmt.Sprintf("mkdir -p %s && %s -m venv %s",
		shellQuote(b.opts.WorkDir), shellQuote(b.opts.Interpreter), shellQuote(envDir))
	res, err := b.client.Run(ctx, cmd)
	if err != nil {
		return false, bootstrap.NewEnvCreateError("remote environment creation failed", err).
			WithStep(bootstrap.StepEnsureEnvironment)
	}
	if res.ExitCode != 0 {
		return false, bootstrap.NewEnvCreateError(
			fmt.Sprintf("remote environment creation exited with status %d", res.ExitCode), nil).
			WithStep(bootstrap.StepEnsureEnvironment).
			WithOutput(res.Stderr)
	}

	return true, nil
}

func (b *Bootstrapper) uploadFiles(ctx context.Context) error {
	if err := b.client.Upload(ctx, b.opts.ManifestPath, b.remoteManifest()); err != nil {
		return bootstrap.NewDepInstallError("failed to upload dependency manifest", err).
			WithStep(bootstrap.StepInstallDependencies)
	}
	if b.opts.EntryPath != "" {
		if err := b.client.Upload(ctx, b.opts.EntryPath, b.remoteEntry()); err != nil {
			return bootstrap.NewLaunchError("failed to upload server entry point", err).
				WithStep(bootstrap.StepLaunchServer)
		}
	}
	return nil
}

func (b *Bootstrapper) installDependencies(ctx context.Context) error {
	b.printf("Installing dependencies...")
	b.logger.Info().Str("manifest", b.remoteManifest()).Msg("installing dependencies on remote host")

	cmd := fmt.Sprintf("%s -m pip install --requirement %s",
		shellQuote(b.envPython()), shellQuote(b.remoteManifest()))
	res, err := b.client.Run(ctx, cmd)
	if err != nil {
		return bootstrap.NewDepInstallError("remote dependency installation failed", err).
			WithStep(bootstrap.StepInstallDependencies)
	}
	if res.ExitCode != 0 {
		return bootstrap.NewDepInstallError(
			fmt.Sprintf("pip exited with status %d", res.ExitCode), nil).
			WithStep(bootstrap.StepInstallDependencies).
			WithOutput(res.Stderr)
	}
	return nil
}

func (b *Bootstrapper) launchServer(ctx context.Context) (int, string, error) {
	endpoint := b.opts.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:8000"
	}
	b.printf("Starting server at %s", endpoint)

	logPath := path.Join(b.opts.WorkDir, "server.log")
	envDir := b.envDir()

	// Detach the server from the SSH session so it survives disconnect.
	cmd := fmt.Sprintf("cd %s && VIRTUAL_ENV=%s PATH=%s:\"$PATH\" nohup %s %s >> %s 2>&1 & echo $!",
		shellQuote(b.opts.WorkDir),
		shellQuote(envDir),
		shellQuote(path.Join(envDir, "bin")),
		shellQuote(b.envPython()),
		shellQuote(b.remoteEntry()),
		shellQuote(logPath))

	res, err := b.client.Run(ctx, cmd)
	if err != nil {
		return 0, "", bootstrap.NewLaunchError("remote server launch failed", err).
			WithStep(bootstrap.StepLaunchServer)
	}
	if res.ExitCode != 0 {
		return 0, "", bootstrap.NewLaunchError(
			fmt.Sprintf("remote server launch exited with status %d", res.ExitCode), nil).
			WithStep(bootstrap.StepLaunchServer).
			WithOutput(res.Stderr)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return 0, "", bootstrap.NewLaunchError("remote launch did not report a server PID", err).
			WithStep(bootstrap.StepLaunchServer).
			WithOutput(res.Stdout)
	}

	b.logger.Info().Int("pid", pid).Str("log", logPath).Msg("remote server started")
	return pid, logPath, nil
}

// shellQuote wraps s in single quotes for POSIX shells, escaping any
// embedded single quotes.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
