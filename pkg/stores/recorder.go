package stores

import (
	"context"

	"github.com/sensorboot/sensorboot/pkg/bootstrap"
)

// Recorder adapts an SQLiteStore to the orchestrator's Recorder interface.
type Recorder struct {
	store *SQLiteStore
}

// NewRecorder wraps the store for use by the orchestrator.
func NewRecorder(store *SQLiteStore) *Recorder {
	return &Recorder{store: store}
}

// SaveRun persists the run and its step results.
func (r *Recorder) SaveRun(ctx context.Context, run *bootstrap.Run) error {
	record := &RunRecord{
		ID:           run.ID,
		Mode:         string(run.Mode),
		State:        string(run.State),
		ManifestPath: run.ManifestPath,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}
	if run.Error != "" {
		errMsg := run.Error
		record.Error = &errMsg
	}

	if err := r.store.UpsertRun(ctx, record); err != nil {
		return err
	}

	for i := range run.Steps {
		sr := &run.Steps[i]
		step := &StepRecord{
			RunID:       run.ID,
			Position:    i,
			Name:        sr.Name,
			Status:      string(sr.Status),
			StartedAt:   sr.StartedAt,
			CompletedAt: sr.CompletedAt,
			DurationMS:  sr.Duration.Milliseconds(),
		}
		if sr.Error != "" {
			errMsg := sr.Error
			step.Error = &errMsg
		}
		if sr.Output != "" {
			output := sr.Output
			step.Output = &output
		}
		if err := r.store.UpsertStep(ctx, step); err != nil {
			return err
		}
	}

	return nil
}

// AppendEvent appends a timeline event for the run.
func (r *Recorder) AppendEvent(ctx context.Context, runID, level, message string) error {
	return r.store.AppendEvent(ctx, runID, level, message)
}
