package bootstrap

import (
	"encoding/json"
	"testing"
)

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from    State
		to      State
		allowed bool
	}{
		{StateUninitialized, StateEnvReady, true},
		{StateEnvReady, StateEnvActive, true},
		{StateEnvActive, StateDepsInstalled, true},
		{StateDepsInstalled, StateRunning, true},

		// No skipping forward.
		{StateUninitialized, StateEnvActive, false},
		{StateEnvReady, StateRunning, false},

		// No going backward.
		{StateEnvActive, StateEnvReady, false},
		{StateRunning, StateUninitialized, false},

		// Any non-terminal state can fail.
		{StateUninitialized, StateFailed, true},
		{StateEnvActive, StateFailed, true},
		{StateDepsInstalled, StateFailed, true},

		// Terminal states go nowhere.
		{StateRunning, StateFailed, false},
		{StateFailed, StateFailed, false},
		{StateFailed, StateEnvReady, false},
	}

	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.allowed {
			t.Errorf("%s -> %s: expected %v, got %v", c.from, c.to, c.allowed, got)
		}
	}
}

func TestStateIsTerminal(t *testing.T) {
	for _, s := range []State{StateUninitialized, StateEnvReady, StateEnvActive, StateDepsInstalled} {
		if s.IsTerminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
	for _, s := range []State{StateRunning, StateFailed} {
		if !s.IsTerminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
}

func TestStateValidate(t *testing.T) {
	if err := StateEnvReady.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := State("bogus").Validate(); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestStateJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(StateDepsInstalled)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if s != StateDepsInstalled {
		t.Errorf("expected %s, got %s", StateDepsInstalled, s)
	}

	if err := json.Unmarshal([]byte(`"bogus"`), &s); err == nil {
		t.Error("expected unmarshal to reject unknown state")
	}
}

func TestStepStatusValidate(t *testing.T) {
	for _, s := range []StepStatus{StepStatusPending, StepStatusRunning, StepStatusSucceeded, StepStatusFailed, StepStatusSkipped} {
		if err := s.Validate(); err != nil {
			t.Errorf("unexpected error for %s: %v", s, err)
		}
	}
	if err := StepStatus("bogus").Validate(); err == nil {
		t.Error("expected error for unknown step status")
	}
}
