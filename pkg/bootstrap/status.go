package bootstrap

import (
	"encoding/json"
	"fmt"
)

// State represents the orchestrator's position in the bootstrap sequence.
// The state machine is strictly linear with no cycles:
//
//	uninitialized -> env_ready -> env_active -> deps_installed -> running
//
// Any step failure transitions to the terminal "failed" state with no
// further step attempted.
type State string

const (
	// StateUninitialized is the starting state before any step has run.
	StateUninitialized State = "uninitialized"

	// StateEnvReady indicates the runtime environment exists and is a
	// valid environment root.
	StateEnvReady State = "env_ready"

	// StateEnvActive indicates command resolution and library search paths
	// are rebound to the environment's own copies.
	StateEnvActive State = "env_active"

	// StateDepsInstalled indicates the dependency manifest is satisfied.
	StateDepsInstalled State = "deps_installed"

	// StateRunning indicates the server process has been launched.
	StateRunning State = "running"

	// StateFailed is the terminal failure state.
	StateFailed State = "failed"
)

// order maps each state to its position in the linear sequence. Failed sits
// outside the sequence.
var order = map[State]int{
	StateUninitialized: 0,
	StateEnvReady:      1,
	StateEnvActive:     2,
	StateDepsInstalled: 3,
	StateRunning:       4,
}

// IsTerminal returns true when no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateRunning || s == StateFailed
}

// Validate checks that the state is one of the defined values.
func (s State) Validate() error {
	switch s {
	case StateUninitialized, StateEnvReady, StateEnvActive,
		StateDepsInstalled, StateRunning, StateFailed:
		return nil
	default:
		return fmt.Errorf("invalid bootstrap state: %s", s)
	}
}

// CanTransition reports whether moving from s to next is a legal step:
// either the single forward arrow in the sequence, or any non-terminal
// state dropping to failed.
func (s State) CanTransition(next State) bool {
	if next == StateFailed {
		return !s.IsTerminal()
	}
	from, ok := order[s]
	if !ok {
		return false
	}
	to, ok := order[next]
	if !ok {
		return false
	}
	return to == from+1
}

// MarshalJSON implements custom JSON marshaling for type-safe serialization.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements JSON unmarshaling with validation.
func (s *State) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = State(str)
	return s.Validate()
}

// StepStatus represents the status of a single bootstrap step.
type StepStatus string

const (
	// StepStatusPending indicates the step has not started.
	StepStatusPending StepStatus = "pending"

	// StepStatusRunning indicates the step is executing.
	StepStatusRunning StepStatus = "running"

	// StepStatusSucceeded indicates the step completed successfully.
	StepStatusSucceeded StepStatus = "succeeded"

	// StepStatusFailed indicates the step failed, halting the sequence.
	StepStatusFailed StepStatus = "failed"

	// StepStatusSkipped indicates the step never ran because an earlier
	// step failed.
	StepStatusSkipped StepStatus = "skipped"
)

// IsTerminal returns true if the step status is final.
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusSucceeded || s == StepStatusFailed || s == StepStatusSkipped
}

// Validate checks that the step status is one of the defined values.
func (s StepStatus) Validate() error {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusSucceeded,
		StepStatusFailed, StepStatusSkipped:
		return nil
	default:
		return fmt.Errorf("invalid step status: %s", s)
	}
}
