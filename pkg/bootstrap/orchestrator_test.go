package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// mockStep is a scripted step for orchestrator tests.
type mockStep struct {
	name   string
	target State
	err    error

	mu    sync.Mutex
	calls int
}

func (s *mockStep) Name() string  { return s.name }
func (s *mockStep) Target() State { return s.target }

func (s *mockStep) Run(_ context.Context, _ *Runtime) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.err
}

func (s *mockStep) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// mockRecorder captures every persisted run snapshot and event.
type mockRecorder struct {
	mu     sync.Mutex
	runs   []Run
	events []string
	err    error
}

func (r *mockRecorder) SaveRun(_ context.Context, run *Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	snapshot := *run
	snapshot.Steps = append([]StepResult(nil), run.Steps...)
	r.runs = append(r.runs, snapshot)
	return nil
}

func (r *mockRecorder) AppendEvent(_ context.Context, _, _, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, message)
	return nil
}

func (r *mockRecorder) savedRuns() []Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Run(nil), r.runs...)
}

func testSteps(failAt int, failErr error) []*mockStep {
	steps := []*mockStep{
		{name: StepEnsureEnvironment, target: StateEnvReady},
		{name: StepActivateEnvironment, target: StateEnvActive},
		{name: StepInstallDependencies, target: StateDepsInstalled},
		{name: StepLaunchServer, target: StateRunning},
	}
	if failAt >= 0 {
		steps[failAt].err = failErr
	}
	return steps
}

func asSteps(mocks []*mockStep) []Step {
	steps := make([]Step, len(mocks))
	for i, m := range mocks {
		steps[i] = m
	}
	return steps
}

func TestExecuteAllStepsSucceed(t *testing.T) {
	mocks := testSteps(-1, nil)
	recorder := &mockRecorder{}

	orch := New(asSteps(mocks), Options{
		Mode:     LaunchModeSupervise,
		Recorder: recorder,
		Logger:   zerolog.Nop(),
	})

	run, err := orch.Execute(context.Background(), &Runtime{})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	if run.State != StateRunning {
		t.Errorf("expected state %s, got %s", StateRunning, run.State)
	}
	if run.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}
	if run.Error != "" {
		t.Errorf("expected no error, got %q", run.Error)
	}

	if len(run.Steps) != 4 {
		t.Fatalf("expected 4 step results, got %d", len(run.Steps))
	}
	for i, sr := range run.Steps {
		if sr.Status != StepStatusSucceeded {
			t.Errorf("step %d: expected succeeded, got %s", i, sr.Status)
		}
	}

	for i, m := range mocks {
		if m.callCount() != 1 {
			t.Errorf("step %d: expected 1 call, got %d", i, m.callCount())
		}
	}

	if len(recorder.savedRuns()) == 0 {
		t.Error("expected run snapshots to be persisted")
	}
}

func TestExecuteHaltsOnFirstStepFailure(t *testing.T) {
	bootErr := NewEnvCreateError("failed to create runtime environment", errors.New("permission denied"))
	mocks := testSteps(0, bootErr)

	orch := New(asSteps(mocks), Options{
		Mode:   LaunchModeSupervise,
		Logger: zerolog.Nop(),
	})

	run, err := orch.Execute(context.Background(), &Runtime{})
	if err == nil {
		t.Fatal("expected execute to fail")
	}
	if !IsEnvCreate(err) {
		t.Errorf("expected env_create failure, got %v", err)
	}

	if run.State != StateFailed {
		t.Errorf("expected state %s, got %s", StateFailed, run.State)
	}

	// Later steps must never run.
	for i := 1; i < len(mocks); i++ {
		if mocks[i].callCount() != 0 {
			t.Errorf("step %d ran after an earlier failure", i)
		}
	}

	if len(run.Steps) != 4 {
		t.Fatalf("expected 4 step results, got %d", len(run.Steps))
	}
	if run.Steps[0].Status != StepStatusFailed {
		t.Errorf("expected first step failed, got %s", run.Steps[0].Status)
	}
	for i := 1; i < 4; i++ {
		if run.Steps[i].Status != StepStatusSkipped {
			t.Errorf("step %d: expected skipped, got %s", i, run.Steps[i].Status)
		}
	}
}

func TestExecuteInstallFailureSkipsLaunch(t *testing.T) {
	bootErr := NewDepInstallError("dependency installation failed", errors.New("no matching distribution")).
		WithOutput("ERROR: No matching distribution found for no-such-package==9.9.9")
	mocks := testSteps(2, bootErr)

	orch := New(asSteps(mocks), Options{
		Mode:   LaunchModeSupervise,
		Logger: zerolog.Nop(),
	})

	run, err := orch.Execute(context.Background(), &Runtime{})
	if err == nil {
		t.Fatal("expected execute to fail")
	}
	if !IsDepInstall(err) {
		t.Errorf("expected dep_install failure, got %v", err)
	}

	// The server must never launch after an unresolvable package.
	if mocks[3].callCount() != 0 {
		t.Error("launch step ran after install failure")
	}

	// The first two steps completed before the failure.
	if run.Steps[0].Status != StepStatusSucceeded || run.Steps[1].Status != StepStatusSucceeded {
		t.Error("expected earlier steps to remain succeeded")
	}
	if run.Steps[2].Output == "" {
		t.Error("expected tool output on the failed step result")
	}
	if run.Steps[3].Status != StepStatusSkipped {
		t.Errorf("expected launch skipped, got %s", run.Steps[3].Status)
	}
}

func TestExecuteExecModeFinalizesBeforeLaunch(t *testing.T) {
	mocks := testSteps(-1, nil)
	recorder := &mockRecorder{}

	orch := New(asSteps(mocks), Options{
		Mode:     LaunchModeExec,
		Recorder: recorder,
		Logger:   zerolog.Nop(),
	})

	if _, err := orch.Execute(context.Background(), &Runtime{}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}

	// An exec launch cannot write anything after the image is replaced, so
	// a finalized snapshot must exist with the terminal state and a
	// completed launch step.
	var finalized bool
	for _, run := range recorder.savedRuns() {
		if run.State == StateRunning && run.CompletedAt != nil &&
			len(run.Steps) == 4 && run.Steps[3].Status == StepStatusSucceeded {
			finalized = true
			break
		}
	}
	if !finalized {
		t.Error("expected a finalized snapshot ahead of the exec launch")
	}
}

func TestExecuteCancelledContext(t *testing.T) {
	mocks := testSteps(-1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := New(asSteps(mocks), Options{
		Mode:   LaunchModeSupervise,
		Logger: zerolog.Nop(),
	})

	run, err := orch.Execute(ctx, &Runtime{})
	if err == nil {
		t.Fatal("expected execute to fail on cancelled context")
	}
	if run.State != StateFailed {
		t.Errorf("expected state %s, got %s", StateFailed, run.State)
	}
	for i, m := range mocks {
		if m.callCount() != 0 {
			t.Errorf("step %d ran despite cancelled context", i)
		}
	}
	if len(run.Steps) != 4 {
		t.Fatalf("expected 4 skipped step results, got %d", len(run.Steps))
	}
	for i, sr := range run.Steps {
		if sr.Status != StepStatusSkipped {
			t.Errorf("step %d: expected skipped, got %s", i, sr.Status)
		}
	}
}

func TestExecuteRecorderFailureDoesNotAbort(t *testing.T) {
	mocks := testSteps(-1, nil)
	recorder := &mockRecorder{err: errors.New("database is locked")}

	orch := New(asSteps(mocks), Options{
		Mode:     LaunchModeSupervise,
		Recorder: recorder,
		Logger:   zerolog.Nop(),
	})

	run, err := orch.Execute(context.Background(), &Runtime{})
	if err != nil {
		t.Fatalf("expected bookkeeping failure to be tolerated, got %v", err)
	}
	if run.State != StateRunning {
		t.Errorf("expected state %s, got %s", StateRunning, run.State)
	}
}
