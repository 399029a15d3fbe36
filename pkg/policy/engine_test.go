package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sensorboot/sensorboot/pkg/manifest"
)

func parseManifest(t *testing.T, content string) *manifest.Manifest {
	t.Helper()

	m, err := manifest.Parse(strings.NewReader(content))
	if err != nil {
		t.Fatalf("failed to parse manifest: %v", err)
	}
	return m
}

func newTestEngine(t *testing.T, denied []string) *Engine {
	t.Helper()

	engine, err := NewEngine(denied, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return engine
}

func TestEvaluateCleanManifest(t *testing.T) {
	engine := newTestEngine(t, nil)
	m := parseManifest(t, "fastapi==0.104.1\nuvicorn==0.24.0\n")

	result, err := engine.Evaluate(context.Background(), m)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if !result.Allowed {
		t.Error("expected clean manifest to be allowed")
	}
	if len(result.Violations) != 0 {
		t.Errorf("unexpected violations: %+v", result.Violations)
	}
}

func TestEvaluateUnpinnedIsWarning(t *testing.T) {
	engine := newTestEngine(t, nil)
	m := parseManifest(t, "fastapi==0.104.1\nnumpy\n")

	result, err := engine.Evaluate(context.Background(), m)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	// Warnings never block the manifest.
	if !result.Allowed {
		t.Error("expected warning-only manifest to be allowed")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(result.Violations))
	}

	v := result.Violations[0]
	if v.Severity != SeverityWarning {
		t.Errorf("expected warning severity, got %s", v.Severity)
	}
	if v.Requirement != "numpy" {
		t.Errorf("expected numpy flagged, got %q", v.Requirement)
	}
}

func TestEvaluateDeniedPackage(t *testing.T) {
	engine := newTestEngine(t, []string{"LeftPad"})
	m := parseManifest(t, "fastapi==0.104.1\nleftpad==1.0.0\n")

	result, err := engine.Evaluate(context.Background(), m)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if result.Allowed {
		t.Error("expected denied package to block the manifest")
	}

	var found bool
	for _, v := range result.Violations {
		if v.Requirement == "leftpad" && v.Severity == SeverityError {
			found = true
		}
	}
	if !found {
		t.Errorf("expected error violation for leftpad, got %+v", result.Violations)
	}
}

func TestEvaluateWildcardPin(t *testing.T) {
	engine := newTestEngine(t, nil)
	m := parseManifest(t, "fastapi==0.104.*\n")

	result, err := engine.Evaluate(context.Background(), m)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}

	if result.Allowed {
		t.Error("expected wildcard pin to block the manifest")
	}
}

func TestLoadPolicyFiles(t *testing.T) {
	engine := newTestEngine(t, nil)

	path := filepath.Join(t.TempDir(), "no_fastapi.rego")
	policy := `package sensorboot.policies.custom

import rego.v1

deny contains violation if {
	input.requirement.name == "fastapi"
	violation := {
		"message": "fastapi is not allowed here",
		"severity": "error",
		"requirement": input.requirement.name,
	}
}
`
	if err := os.WriteFile(path, []byte(policy), 0644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	if err := engine.LoadPolicyFiles([]string{path}); err != nil {
		t.Fatalf("failed to load policy file: %v", err)
	}

	m := parseManifest(t, "fastapi==0.104.1\n")
	result, err := engine.Evaluate(context.Background(), m)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected custom policy to block fastapi")
	}
}

func TestLoadPolicyFilesRejectsBadRego(t *testing.T) {
	engine := newTestEngine(t, nil)

	path := filepath.Join(t.TempDir(), "broken.rego")
	if err := os.WriteFile(path, []byte("this is not rego"), 0644); err != nil {
		t.Fatalf("failed to write policy file: %v", err)
	}

	if err := engine.LoadPolicyFiles([]string{path}); err == nil {
		t.Fatal("expected error for invalid Rego")
	}
}

func TestGateAdvisoryAllowsViolations(t *testing.T) {
	engine := newTestEngine(t, []string{"leftpad"})
	gate := NewGate(engine, ModeAdvisory, zerolog.Nop())

	m := parseManifest(t, "leftpad==1.0.0\n")
	if err := gate.Check(context.Background(), m); err != nil {
		t.Errorf("advisory mode must not block, got %v", err)
	}
}

func TestGateEnforcingBlocksErrorViolations(t *testing.T) {
	engine := newTestEngine(t, []string{"leftpad"})
	gate := NewGate(engine, ModeEnforcing, zerolog.Nop())

	m := parseManifest(t, "leftpad==1.0.0\n")
	err := gate.Check(context.Background(), m)
	if err == nil {
		t.Fatal("enforcing mode must block error violations")
	}
	if !strings.Contains(err.Error(), "denylist") && !strings.Contains(err.Error(), "leftpad") {
		t.Errorf("expected violation detail in error, got %v", err)
	}
}

func TestGateEnforcingAllowsWarnings(t *testing.T) {
	engine := newTestEngine(t, nil)
	gate := NewGate(engine, ModeEnforcing, zerolog.Nop())

	// Unpinned requirement is only a warning.
	m := parseManifest(t, "numpy\n")
	if err := gate.Check(context.Background(), m); err != nil {
		t.Errorf("warnings must not block even when enforcing, got %v", err)
	}
}
