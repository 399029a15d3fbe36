package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/sensorboot/sensorboot/pkg/telemetry"
)

// Orchestrator executes the bootstrap sequence: each step blocks until it
// completes or fails, and the first failure halts everything. There is no
// parallelism and no retry.
type Orchestrator struct {
	steps        []Step
	mode         LaunchMode
	manifestPath string
	recorder     Recorder
	metrics      *telemetry.Metrics
	tracer       *telemetry.Tracer
	logger       zerolog.Logger
}

// Options configures an Orchestrator. Recorder, Metrics, and Tracer are
// optional; a nil value disables that concern.
type Options struct {
	Mode         LaunchMode
	ManifestPath string
	Recorder     Recorder
	Metrics      *telemetry.Metrics
	Tracer       *telemetry.Tracer
	Logger       zerolog.Logger
}

// New creates an Orchestrator over the given step sequence.
func New(steps []Step, opts Options) *Orchestrator {
	mode := opts.Mode
	if mode == "" {
		mode = LaunchModeExec
	}
	return &Orchestrator{
		steps:        steps,
		mode:         mode,
		manifestPath: opts.ManifestPath,
		recorder:     opts.Recorder,
		metrics:      opts.Metrics,
		tracer:       opts.Tracer,
		logger:       opts.Logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Execute runs the sequence against rt. It returns the run record and the
// first step failure, if any. In exec mode a fully successful Execute never
// returns: the process image is replaced by the server during the final
// step.
func (o *Orchestrator) Execute(ctx context.Context, rt *Runtime) (*Run, error) {
	run := &Run{
		ID:           uuid.New().String(),
		Mode:         o.mode,
		State:        StateUninitialized,
		Steps:        make([]StepResult, 0, len(o.steps)),
		ManifestPath: o.manifestPath,
		StartedAt:    time.Now(),
	}

	logger := o.logger.With().Str("run_id", run.ID).Logger()
	logger.Info().Str("mode", string(o.mode)).Msg("Bootstrap run started")

	o.saveRun(ctx, run)
	o.appendEvent(ctx, run.ID, "info", "Bootstrap run started")
	if o.metrics != nil {
		o.metrics.RecordRunStarted(string(o.mode))
	}

	runCtx := ctx
	var rspan trace.Span
	if o.tracer != nil {
		runCtx, rspan = o.tracer.StartRunSpan(ctx, run.ID)
		defer func() {
			if run.Error != "" {
				telemetry.RecordError(rspan, errors.New(run.Error))
			} else {
				telemetry.RecordSuccess(rspan)
			}
			rspan.End()
		}()
	}

	for _, step := range o.steps {
		if err := runCtx.Err(); err != nil {
			return o.fail(runCtx, run, len(run.Steps)-1, fmt.Errorf("bootstrap interrupted: %w", err))
		}

		idx := len(run.Steps)
		run.Steps = append(run.Steps, StepResult{
			Name:      step.Name(),
			Status:    StepStatusRunning,
			StartedAt: time.Now(),
		})

		logger.Info().Str("step", step.Name()).Msg("Step started")
		o.appendEvent(runCtx, run.ID, "info", "Step started: "+step.Name())

		// The exec launch replaces the process image, so nothing can be
		// written after it succeeds. Finalize the record first and correct
		// it below if the exec itself fails.
		finalStep := step.Target() == StateRunning
		if finalStep && o.mode == LaunchModeExec {
			o.finalize(runCtx, run, idx)
		}

		stepCtx := runCtx
		var sspan trace.Span
		if o.tracer != nil {
			stepCtx, sspan = o.tracer.StartStepSpan(runCtx, run.ID, step.Name())
		}

		err := step.Run(stepCtx, rt)

		o.completeStep(run, idx, err)
		if o.metrics != nil {
			o.metrics.RecordStepExecution(step.Name(), string(run.Steps[idx].Status), run.Steps[idx].Duration)
		}
		if sspan != nil {
			if err != nil {
				telemetry.RecordError(sspan, err)
			} else {
				telemetry.RecordSuccess(sspan)
			}
			sspan.End()
		}

		if err != nil {
			return o.fail(runCtx, run, idx, err)
		}

		run.State = step.Target()
		o.saveRun(runCtx, run)
		logger.Info().
			Str("step", step.Name()).
			Str("state", string(run.State)).
			Dur("duration", run.Steps[idx].Duration).
			Msg("Step completed")
	}

	// Only the supervised mode reaches this point with a live run.
	now := time.Now()
	run.CompletedAt = &now
	o.saveRun(ctx, run)
	o.appendEvent(ctx, run.ID, "info", "Bootstrap run completed")
	if o.metrics != nil {
		o.metrics.RecordRunCompleted("succeeded", now.Sub(run.StartedAt))
	}
	logger.Info().Str("state", string(run.State)).Msg("Bootstrap run completed")

	return run, nil
}

// completeStep fills in the terminal fields of the step result at idx.
func (o *Orchestrator) completeStep(run *Run, idx int, err error) {
	sr := &run.Steps[idx]
	now := time.Now()
	sr.CompletedAt = &now
	sr.Duration = now.Sub(sr.StartedAt)

	if err == nil {
		sr.Status = StepStatusSucceeded
		return
	}

	sr.Status = StepStatusFailed
	sr.Error = err.Error()
	var be *BootError
	if errors.As(err, &be) {
		sr.Output = be.Output
	}
}

// finalize writes the optimistic terminal record ahead of an exec launch.
func (o *Orchestrator) finalize(ctx context.Context, run *Run, idx int) {
	snapshot := *run
	snapshot.Steps = make([]StepResult, len(run.Steps))
	copy(snapshot.Steps, run.Steps)

	now := time.Now()
	sr := &snapshot.Steps[idx]
	sr.Status = StepStatusSucceeded
	sr.CompletedAt = &now
	snapshot.State = StateRunning
	snapshot.CompletedAt = &now

	o.saveRun(ctx, &snapshot)
	o.appendEvent(ctx, run.ID, "info", "Handing control to server process")
	if o.metrics != nil {
		o.metrics.RecordRunCompleted("succeeded", now.Sub(run.StartedAt))
	}
}

// fail marks the run as terminally failed and returns the step error.
func (o *Orchestrator) fail(ctx context.Context, run *Run, idx int, err error) (*Run, error) {
	run.State = StateFailed
	run.Error = err.Error()
	now := time.Now()
	run.CompletedAt = &now

	// Steps after the failing one never execute; record them as skipped.
	for i := idx + 1; i < len(o.steps); i++ {
		run.Steps = append(run.Steps, StepResult{
			Name:      o.steps[i].Name(),
			Status:    StepStatusSkipped,
			StartedAt: now,
		})
	}

	o.saveRun(ctx, run)
	o.appendEvent(ctx, run.ID, "error", "Bootstrap run failed: "+err.Error())
	if o.metrics != nil {
		o.metrics.RecordRunCompleted("failed", now.Sub(run.StartedAt))
		if class := ClassOf(err); class != "" {
			o.metrics.RecordFailure(string(class))
		}
	}

	o.logger.Error().
		Err(err).
		Str("run_id", run.ID).
		Str("class", string(ClassOf(err))).
		Msg("Bootstrap run failed")

	return run, err
}

// saveRun persists the run, logging instead of failing: bookkeeping must
// never abort the bootstrap sequence itself.
func (o *Orchestrator) saveRun(ctx context.Context, run *Run) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.SaveRun(ctx, run); err != nil {
		o.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to persist run record")
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, runID, level, message string) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.AppendEvent(ctx, runID, level, message); err != nil {
		o.logger.Warn().Err(err).Str("run_id", runID).Msg("Failed to persist run event")
	}
}
