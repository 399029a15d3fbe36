// Package policy evaluates Rego policies against the dependency manifest
// before installation. Built-in policies cover version pinning and package
// denylisting; operators can load additional .rego files. In advisory mode
// violations are logged and the bootstrap proceeds; in enforcing mode an
// error-severity violation aborts the sequence before any install side
// effect.
package policy

import (
	"time"

	"github.com/sensorboot/sensorboot/pkg/manifest"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block installation in
	// enforcing mode.
	SeverityError Severity = "error"
)

// Policy is a named Rego policy.
type Policy struct {
	// Name is the unique policy name.
	Name string `json:"name"`

	// Description is a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`
}

// Violation is a single policy violation against one requirement.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Requirement is the offending package name.
	Requirement string `json:"requirement,omitempty"`

	// Message describes the violation.
	Message string `json:"message"`

	// Severity is the violation severity.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating all policies against a manifest.
type Result struct {
	// Allowed is false when any error-severity violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists all violations found.
	Violations []Violation `json:"violations"`

	// Warnings lists evaluation problems that did not block evaluation.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Input is the document handed to Rego evaluation, one requirement at a
// time.
type Input struct {
	// Requirement is the requirement under evaluation.
	Requirement *RequirementInput `json:"requirement"`

	// Context carries evaluation-wide data.
	Context *Context `json:"context"`
}

// RequirementInput is the Rego-facing view of a manifest requirement.
type RequirementInput struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint"`
	Pinned     bool   `json:"pinned"`
	Raw        string `json:"raw"`
	Line       int    `json:"line"`
}

// Context carries evaluation-wide data into Rego.
type Context struct {
	// DeniedPackages is the operator-configured package denylist.
	DeniedPackages []string `json:"denied_packages"`

	// ManifestPath is the manifest file under evaluation.
	ManifestPath string `json:"manifest_path"`

	// Timestamp is when the evaluation started.
	Timestamp time.Time `json:"timestamp"`
}

// newRequirementInput converts a manifest requirement for Rego.
func newRequirementInput(r *manifest.Requirement) *RequirementInput {
	return &RequirementInput{
		Name:       r.Name,
		Constraint: r.Constraint,
		Pinned:     r.Pinned(),
		Raw:        r.Raw,
		Line:       r.Line,
	}
}
