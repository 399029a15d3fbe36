package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sensorboot/sensorboot/pkg/manifest"
)

// Mode is the enforcement mode for the manifest gate.
type Mode string

const (
	// ModeAdvisory logs violations and lets installation proceed.
	ModeAdvisory Mode = "advisory"

	// ModeEnforcing aborts the bootstrap on error-severity violations,
	// before any install side effect.
	ModeEnforcing Mode = "enforcing"
)

// Gate applies policy evaluation as a pre-install check. It satisfies the
// orchestrator's Gate interface.
type Gate struct {
	engine *Engine
	mode   Mode
	logger zerolog.Logger
}

// NewGate creates a manifest gate over the given engine.
func NewGate(engine *Engine, mode Mode, logger zerolog.Logger) *Gate {
	if mode == "" {
		mode = ModeAdvisory
	}
	return &Gate{
		engine: engine,
		mode:   mode,
		logger: logger.With().Str("component", "policy-gate").Logger(),
	}
}

// Check evaluates the manifest and returns an error when enforcement
// requires the bootstrap to halt.
func (g *Gate) Check(ctx context.Context, m *manifest.Manifest) error {
	result, err := g.engine.Evaluate(ctx, m)
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	for i := range result.Violations {
		v := &result.Violations[i]
		event := g.logger.Warn()
		if v.Severity == SeverityError {
			event = g.logger.Error()
		}
		event.
			Str("policy", v.Policy).
			Str("requirement", v.Requirement).
			Str("severity", string(v.Severity)).
			Msg(v.Message)
	}

	if result.Allowed || g.mode != ModeEnforcing {
		return nil
	}

	var msgs []string
	for i := range result.Violations {
		if result.Violations[i].Severity == SeverityError {
			msgs = append(msgs, result.Violations[i].Message)
		}
	}
	return fmt.Errorf("manifest violates policy: %s", strings.Join(msgs, "; "))
}
