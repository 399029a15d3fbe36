package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/sensorboot/sensorboot/pkg/manifest"
)

// Engine compiles and evaluates manifest policies.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	denied   []string
	logger   zerolog.Logger
}

// compiledPolicy is a policy with its parsed module.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
// deniedPackages feeds the denylist policy.
func NewEngine(deniedPackages []string, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		denied:   deniedPackages,
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	for _, p := range GetBuiltinPolicies() {
		policy := p
		if err := e.add(&policy); err != nil {
			return nil, fmt.Errorf("failed to load built-in policy %s: %w", p.Name, err)
		}
	}

	return e, nil
}

// add parses and stores a policy module.
func (e *Engine) add(p *Policy) error {
	module, err := ast.ParseModuleWithOpts(p.Name, p.Rego, ast.ParserOptions{})
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	e.mu.Lock()
	e.policies[p.Name] = &compiledPolicy{
		policy:   p,
		module:   module,
		compiled: time.Now(),
	}
	e.mu.Unlock()

	return nil
}

// LoadPolicyFiles loads additional .rego policy files. Each file becomes
// one policy named after its base name, with error severity.
func (e *Engine) LoadPolicyFiles(paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}

		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		p := &Policy{
			Name:     name,
			Rego:     string(data),
			Severity: SeverityError,
			Enabled:  true,
		}
		if err := e.add(p); err != nil {
			return fmt.Errorf("failed to compile policy file %s: %w", path, err)
		}

		e.logger.Debug().Str("policy", name).Str("path", path).Msg("Policy file loaded")
	}

	return nil
}

// Evaluate evaluates every enabled policy against every manifest
// requirement. Evaluation errors in individual policies become warnings
// rather than failing the whole evaluation.
func (e *Engine) Evaluate(ctx context.Context, m *manifest.Manifest) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	pctx := &Context{
		DeniedPackages: e.denied,
		ManifestPath:   m.Path,
		Timestamp:      time.Now(),
	}

	var allViolations []Violation
	var warnings []string

	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		for i := range m.Requirements {
			input := &Input{
				Requirement: newRequirementInput(&m.Requirements[i]),
				Context:     pctx,
			}

			violations, err := e.evaluatePolicy(ctx, cp, input)
			if err != nil {
				e.logger.Error().Err(err).
					Str("policy", cp.policy.Name).
					Str("requirement", m.Requirements[i].Name).
					Msg("Policy evaluation failed")
				warnings = append(warnings, fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
				continue
			}

			allViolations = append(allViolations, violations...)
		}
	}

	allowed := true
	for i := range allViolations {
		if allViolations[i].Severity == SeverityError {
			allowed = false
			break
		}
	}

	return &Result{
		Allowed:     allowed,
		Violations:  allViolations,
		Warnings:    warnings,
		EvaluatedAt: time.Now(),
	}, nil
}

// evaluatePolicy evaluates a single policy against one input document.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]Violation, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, e.createViolation(cp.policy, d))
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "sensorboot.policies"
}

// createViolation converts a Rego deny result into a Violation.
func (e *Engine) createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	m, ok := result.(map[string]interface{})
	if !ok {
		violation.Message = fmt.Sprintf("%v", result)
		return violation
	}

	if msg, ok := m["message"].(string); ok {
		violation.Message = msg
	}
	if req, ok := m["requirement"].(string); ok {
		violation.Requirement = req
	}
	if sev, ok := m["severity"].(string); ok {
		violation.Severity = Severity(sev)
	}

	return violation
}
