// Package bootstrap implements the orchestrator that brings the local
// execution context from "unconfigured" to "server running": ensure the
// runtime environment, activate it, install the dependency manifest, launch
// the server. The sequence is strictly linear and fail-fast, with no retry,
// no rollback, and no partial-recovery path.
package bootstrap

import (
	"errors"
	"fmt"
	"strings"
)

// FailureClass classifies which bootstrap step failed. There is no retry
// logic behind the classification: every class is fatal and halts the
// sequence. The class exists for reporting, metrics, and exit codes.
type FailureClass string

const (
	// FailureEnvCreate indicates the runtime environment could not be
	// created or is not a valid environment root.
	FailureEnvCreate FailureClass = "env_create"

	// FailureDepInstall indicates a manifest package failed to resolve or
	// install. Partially installed state is left as-is.
	FailureDepInstall FailureClass = "dep_install"

	// FailureLaunch indicates the server process could not be started.
	FailureLaunch FailureClass = "launch"
)

// BootError is a classified, fatal bootstrap failure. The underlying tool's
// diagnostic output is carried verbatim so the operator sees exactly what
// the failing tool reported.
type BootError struct {
	// Class identifies the failing step category.
	Class FailureClass `json:"class"`

	// Step is the name of the step that failed.
	Step string `json:"step,omitempty"`

	// Message is the human-readable failure summary.
	Message string `json:"message"`

	// Output is the failing tool's captured output, if any.
	Output string `json:"output,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *BootError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Class)
	if e.Step != "" {
		fmt.Fprintf(&b, " %s:", e.Step)
	}
	fmt.Fprintf(&b, " %s", e.Message)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *BootError) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two BootErrors match when
// their classes match.
func (e *BootError) Is(target error) bool {
	t, ok := target.(*BootError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithStep attaches the failing step name.
func (e *BootError) WithStep(step string) *BootError {
	e.Step = step
	return e
}

// WithOutput attaches the failing tool's verbatim output.
func (e *BootError) WithOutput(output string) *BootError {
	e.Output = strings.TrimSpace(output)
	return e
}

// NewEnvCreateError creates an environment creation failure.
func NewEnvCreateError(message string, err error) *BootError {
	return &BootError{Class: FailureEnvCreate, Message: message, Err: err}
}

// NewDepInstallError creates a dependency installation failure.
func NewDepInstallError(message string, err error) *BootError {
	return &BootError{Class: FailureDepInstall, Message: message, Err: err}
}

// NewLaunchError creates a server launch failure.
func NewLaunchError(message string, err error) *BootError {
	return &BootError{Class: FailureLaunch, Message: message, Err: err}
}

// ClassOf returns the failure class of err, or "" when err is not a
// classified bootstrap error.
func ClassOf(err error) FailureClass {
	var e *BootError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsEnvCreate reports whether err is an environment creation failure.
func IsEnvCreate(err error) bool {
	return ClassOf(err) == FailureEnvCreate
}

// IsDepInstall reports whether err is a dependency installation failure.
func IsDepInstall(err error) bool {
	return ClassOf(err) == FailureDepInstall
}

// IsLaunch reports whether err is a server launch failure.
func IsLaunch(err error) bool {
	return ClassOf(err) == FailureLaunch
}
