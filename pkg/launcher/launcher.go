// Package launcher starts the monitoring server process as the terminal
// bootstrap action. The default mode replaces the orchestrator's own process
// image with the server, so control never returns; the supervised mode used
// for development keeps the orchestrator resident and restarts the server
// when its sources change.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sensorboot/sensorboot/pkg/pyenv"
)

// Launcher starts the server entry point inside an activated environment.
type Launcher struct {
	// Entry is the server entry-point file, e.g. "run.py".
	Entry string

	// Env is the runtime environment whose interpreter runs the entry point.
	Env *pyenv.Env

	// Environ is the activated process environment.
	Environ []string

	logger zerolog.Logger
}

// New returns a Launcher for the given entry point.
func New(entry string, env *pyenv.Env, environ []string, logger zerolog.Logger) *Launcher {
	return &Launcher{
		Entry:   entry,
		Env:     env,
		Environ: environ,
		logger:  logger.With().Str("component", "launcher").Logger(),
	}
}

// Exec replaces the current process image with the server. On success it
// never returns: the invoking shell owns the server from here on and the
// orchestrator's execution ends only when the server exits. An error return
// means the exec itself failed.
func (l *Launcher) Exec() error {
	python, err := filepath.Abs(l.Env.Python())
	if err != nil {
		return fmt.Errorf("failed to resolve interpreter path: %w", err)
	}
	if _, err := os.Stat(python); err != nil {
		return fmt.Errorf("environment interpreter not found: %w", err)
	}

	argv := []string{python, l.Entry}
	l.logger.Debug().Strs("argv", argv).Msg("Replacing process image")

	if err := syscall.Exec(python, argv, l.Environ); err != nil {
		return fmt.Errorf("failed to exec %s %s: %w", python, l.Entry, err)
	}
	return nil
}

// Process is a supervised server child process.
type Process struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

// Start launches the server as a child process with stdout/stderr passed
// through to the operator's console.
func (l *Launcher) Start(ctx context.Context) (*Process, error) {
	cmd := exec.CommandContext(ctx, l.Env.Python(), l.Entry)
	cmd.Env = l.Environ
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start server process: %w", err)
	}

	p := &Process{
		cmd:  cmd,
		done: make(chan struct{}),
	}

	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	l.logger.Info().
		Int("pid", cmd.Process.Pid).
		Str("entry", l.Entry).
		Msg("Server process started")

	return p, nil
}

// PID returns the child process ID.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed once the child has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the child exits and returns its exit error, if any.
func (p *Process) Wait() error {
	<-p.done
	return p.waitErr
}

// Stop terminates the child's process group: SIGTERM first, SIGKILL after
// the grace period.
func (p *Process) Stop(grace time.Duration) error {
	select {
	case <-p.done:
		return p.waitErr
	default:
	}

	// Negative pid signals the whole process group.
	_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGTERM)

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	_ = syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL)
	<-p.done
	return nil
}
