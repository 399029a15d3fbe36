// Package installer installs the dependency manifest into the active
// runtime environment by driving the environment's own pip. Idempotence is
// delegated to pip: re-running with an already-satisfied manifest performs
// no destructive change.
package installer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/sensorboot/sensorboot/pkg/pyenv"
)

// Result captures the outcome of a pip invocation.
type Result struct {
	// Stdout is pip's captured standard output.
	Stdout string

	// Stderr is pip's captured standard error.
	Stderr string

	// Duration is the wall-clock install time.
	Duration time.Duration

	// Installed counts "Successfully installed" packages, 0 on a fully
	// satisfied manifest.
	Installed int

	// AlreadySatisfied is true when pip reported every requirement as
	// already satisfied and installed nothing new.
	AlreadySatisfied bool
}

// Installer runs pip inside an activated runtime environment.
type Installer struct {
	env     *pyenv.Env
	environ []string
	logger  zerolog.Logger
}

// New returns an Installer bound to the given environment. environ must be
// the activated process environment from Env.Activate.
func New(env *pyenv.Env, environ []string, logger zerolog.Logger) *Installer {
	return &Installer{
		env:     env,
		environ: environ,
		logger:  logger.With().Str("component", "installer").Logger(),
	}
}

// Install installs every requirement from the manifest file into the
// environment, in manifest order, via "pip install -r". Any package that
// fails to resolve or install is fatal; partially installed state is left
// as-is with no rollback, and pip's diagnostic output is surfaced verbatim
// in the returned error.
func (i *Installer) Install(ctx context.Context, manifestPath string) (*Result, error) {
	if manifestPath == "" {
		return nil, fmt.Errorf("manifest path is required")
	}

	cmd := newPipCommand(ctx, i.env, "install", "--requirement", manifestPath)
	cmd.Env = i.environ

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	i.logger.Debug().
		Str("manifest", manifestPath).
		Str("python", i.env.Python()).
		Msg("Invoking pip")

	start := time.Now()
	err := cmd.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		return result, fmt.Errorf("pip install failed: %w\n%s", err, diagnosticTail(result))
	}

	result.Installed = countInstalled(result.Stdout)
	result.AlreadySatisfied = result.Installed == 0 &&
		strings.Contains(result.Stdout, "Requirement already satisfied")

	i.logger.Debug().
		Int("installed", result.Installed).
		Bool("already_satisfied", result.AlreadySatisfied).
		Dur("duration", result.Duration).
		Msg("pip install completed")

	return result, nil
}

// newPipCommand builds a pip invocation through the environment's own
// interpreter ("python -m pip"), so it works even when the environment was
// created without a pip shim on PATH.
func newPipCommand(ctx context.Context, env *pyenv.Env, args ...string) *exec.Cmd {
	full := append([]string{"-m", "pip"}, args...)
	return exec.CommandContext(ctx, env.Python(), full...)
}

// countInstalled parses pip's "Successfully installed a-1.0 b-2.0" summary.
func countInstalled(stdout string) int {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "Successfully installed "); ok {
			return len(strings.Fields(rest))
		}
	}
	return 0
}

// diagnosticTail returns the tool output to surface to the operator,
// preferring stderr where pip writes resolution failures.
func diagnosticTail(r *Result) string {
	out := strings.TrimSpace(r.Stderr)
	if out == "" {
		out = strings.TrimSpace(r.Stdout)
	}
	return out
}
