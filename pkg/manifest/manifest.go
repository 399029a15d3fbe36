// Package manifest parses the dependency manifest consumed during bootstrap.
// The manifest is a plain-text file with one package specifier per line
// (requirements.txt format): a package name, optional extras, and an optional
// version constraint. Comments and blank lines are ignored. The manifest is a
// read-only input; nothing in this package mutates it.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// Requirement is a single (package name, version constraint) pair from the
// manifest. Order is preserved from the source file.
type Requirement struct {
	// Name is the normalized package name.
	Name string `json:"name"`

	// Extras lists optional feature groups, e.g. uvicorn[standard].
	Extras []string `json:"extras,omitempty"`

	// Constraint is the raw version constraint, e.g. "==0.104.1" or
	// ">=2.0,<3.0". Empty when the requirement is unconstrained.
	Constraint string `json:"constraint,omitempty"`

	// Marker is the environment marker following ";", if any.
	Marker string `json:"marker,omitempty"`

	// Raw is the original specifier line, whitespace-trimmed.
	Raw string `json:"raw"`

	// Line is the 1-indexed line number in the manifest file.
	Line int `json:"line"`
}

// Pinned reports whether the requirement pins an exact version.
func (r Requirement) Pinned() bool {
	return strings.HasPrefix(r.Constraint, "==") &&
		!strings.ContainsAny(r.Constraint, "*") &&
		!strings.Contains(r.Constraint, ",")
}

// String returns the requirement as a pip-compatible specifier.
func (r Requirement) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if len(r.Extras) > 0 {
		b.WriteString("[" + strings.Join(r.Extras, ",") + "]")
	}
	b.WriteString(r.Constraint)
	if r.Marker != "" {
		b.WriteString("; " + r.Marker)
	}
	return b.String()
}

// Manifest is the parsed dependency manifest.
type Manifest struct {
	// Path is the manifest file path, empty when parsed from a reader.
	Path string `json:"path,omitempty"`

	// Requirements are the parsed specifiers in file order.
	Requirements []Requirement `json:"requirements"`
}

// Names returns the package names in manifest order.
func (m *Manifest) Names() []string {
	names := make([]string, len(m.Requirements))
	for i, r := range m.Requirements {
		names[i] = r.Name
	}
	return names
}

// ParseError reports a malformed specifier with its location.
type ParseError struct {
	Path string
	Line int
	Spec string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s:%d: invalid requirement %q: %v", e.Path, e.Line, e.Spec, e.Err)
	}
	return fmt.Sprintf("line %d: invalid requirement %q: %v", e.Line, e.Spec, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// namePattern follows the PEP 503 normalized-name grammar, case-insensitive.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9._-]*[A-Za-z0-9])?`)

// constraint operators in longest-match-first order.
var constraintOps = []string{"===", "==", "~=", "!=", ">=", "<=", ">", "<"}

// ParseFile reads and parses the manifest at path.
func ParseFile(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	m.Path = path
	return m, nil
}

// Parse parses a manifest from r. Lines starting with "#" and blank lines
// are skipped; inline comments after whitespace are stripped. Option lines
// starting with "-" (e.g. "--index-url") are not specifiers and are rejected:
// the bootstrap contract is one package specifier per line.
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	scanner := bufio.NewScanner(r)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Inline comment: " # ..." after the specifier.
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}

		if strings.HasPrefix(line, "-") {
			return nil, &ParseError{
				Line: lineNo,
				Spec: line,
				Err:  fmt.Errorf("option lines are not supported in the dependency manifest"),
			}
		}

		req, err := parseRequirement(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Spec: line, Err: err}
		}
		req.Line = lineNo
		m.Requirements = append(m.Requirements, req)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return m, nil
}

// parseRequirement splits a single specifier into name, extras, constraint
// and environment marker.
func parseRequirement(spec string) (Requirement, error) {
	req := Requirement{Raw: spec}

	rest := spec
	if idx := strings.Index(rest, ";"); idx >= 0 {
		req.Marker = strings.TrimSpace(rest[idx+1:])
		rest = strings.TrimSpace(rest[:idx])
	}

	name := namePattern.FindString(rest)
	if name == "" {
		return req, fmt.Errorf("missing package name")
	}
	req.Name = name
	rest = rest[len(name):]

	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return req, fmt.Errorf("unterminated extras list")
		}
		for _, extra := range strings.Split(rest[1:end], ",") {
			extra = strings.TrimSpace(extra)
			if extra != "" {
				req.Extras = append(req.Extras, extra)
			}
		}
		rest = rest[end+1:]
	}

	rest = strings.TrimSpace(rest)
	if rest == "" {
		return req, nil
	}

	hasOp := false
	for _, op := range constraintOps {
		if strings.HasPrefix(rest, op) {
			hasOp = true
			break
		}
	}
	if !hasOp {
		return req, fmt.Errorf("unexpected trailing text %q", rest)
	}

	req.Constraint = strings.ReplaceAll(rest, " ", "")
	return req, nil
}
