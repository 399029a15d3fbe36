package bootstrap

import (
	"context"
	"io"
	"time"

	"github.com/sensorboot/sensorboot/pkg/installer"
	"github.com/sensorboot/sensorboot/pkg/launcher"
	"github.com/sensorboot/sensorboot/pkg/manifest"
	"github.com/sensorboot/sensorboot/pkg/pyenv"
)

// LaunchMode selects how the terminal step hands control to the server.
type LaunchMode string

const (
	// LaunchModeExec replaces the orchestrator's process image with the
	// server. On success the orchestrator never returns.
	LaunchModeExec LaunchMode = "exec"

	// LaunchModeSupervise starts the server as a child process and keeps
	// the orchestrator resident. Used by dev mode.
	LaunchModeSupervise LaunchMode = "supervise"
)

// Step is a single operation in the bootstrap sequence. Steps run in fixed
// order; each blocks until it completes or fails.
type Step interface {
	// Name identifies the step in logs, records, and errors.
	Name() string

	// Target is the state reached when the step succeeds.
	Target() State

	// Run executes the step against the shared runtime.
	Run(ctx context.Context, rt *Runtime) error
}

// Runtime carries the state shared across steps within one bootstrap run.
// It is populated progressively: activation fills Environ, installation
// fills Manifest and Install, a supervised launch fills Process.
type Runtime struct {
	// Env is the runtime environment being provisioned.
	Env *pyenv.Env

	// EnvCreated records whether step 1 created the environment or found
	// a valid one already present.
	EnvCreated bool

	// Environ is the activated process environment, set by step 2.
	Environ []string

	// Manifest is the parsed dependency manifest, set by step 3.
	Manifest *manifest.Manifest

	// Install is the installer outcome, set by step 3.
	Install *installer.Result

	// Process is the supervised server child, set by step 4 in supervise
	// mode only.
	Process *launcher.Process

	// Console receives the operator-facing informational lines. Defaults
	// to os.Stdout when nil.
	Console io.Writer
}

// StepResult records the outcome of one step for the run history.
type StepResult struct {
	// Name is the step name.
	Name string `json:"name"`

	// Status is the step's final status.
	Status StepStatus `json:"status"`

	// StartedAt is when the step began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the step finished, nil while running.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the step's wall-clock time.
	Duration time.Duration `json:"duration"`

	// Error is the failure message, empty on success.
	Error string `json:"error,omitempty"`

	// Output is a tail of the underlying tool's output, if captured.
	Output string `json:"output,omitempty"`
}

// Run is the record of one bootstrap invocation.
type Run struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// Mode is the launch mode of the terminal step.
	Mode LaunchMode `json:"mode"`

	// State is the furthest state reached.
	State State `json:"state"`

	// Steps are the per-step results in execution order.
	Steps []StepResult `json:"steps"`

	// ManifestPath is the dependency manifest consumed by the run.
	ManifestPath string `json:"manifest_path"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run reached a terminal state. In exec mode
	// it is set just before the process image is replaced.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Error is the first step failure, empty on success.
	Error string `json:"error,omitempty"`
}

// Recorder persists run bookkeeping. Implementations must tolerate being
// called mid-sequence with a partially completed run.
type Recorder interface {
	// SaveRun inserts or updates the run record.
	SaveRun(ctx context.Context, run *Run) error

	// AppendEvent appends one timeline event for the run.
	AppendEvent(ctx context.Context, runID, level, message string) error
}

// Gate inspects the parsed manifest before installation and returns an
// error to abort the sequence. Used for policy enforcement.
type Gate interface {
	Check(ctx context.Context, m *manifest.Manifest) error
}
