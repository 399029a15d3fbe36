// Package pyenv manages the isolated runtime environment used by the
// bootstrap sequence: a Python virtual environment rooted at a fixed
// directory, holding a private copy of the interpreter and installed
// dependencies independent of the ambient system installation.
package pyenv

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Env represents the runtime environment rooted at a directory.
type Env struct {
	// Root is the environment directory, e.g. "venv".
	Root string

	// Interpreter is the base interpreter used to create the environment,
	// e.g. "python3". The environment's own interpreter is used afterwards.
	Interpreter string
}

// New returns an Env for the given root directory and base interpreter.
func New(root, interpreter string) *Env {
	if interpreter == "" {
		interpreter = "python3"
	}
	return &Env{Root: root, Interpreter: interpreter}
}

// binDir returns the directory holding the environment's executables.
func (e *Env) binDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(e.Root, "Scripts")
	}
	return filepath.Join(e.Root, "bin")
}

// Python returns the path to the environment's own interpreter.
func (e *Env) Python() string {
	name := "python"
	if runtime.GOOS == "windows" {
		name = "python.exe"
	}
	return filepath.Join(e.binDir(), name)
}

// Exists reports whether the root directory exists, valid or not.
func (e *Env) Exists() bool {
	info, err := os.Stat(e.Root)
	return err == nil && info.IsDir()
}

// IsValid reports whether the root is a usable environment: the directory
// exists and contains its own interpreter. A half-created directory without
// an interpreter is not considered usable.
func (e *Env) IsValid() bool {
	info, err := os.Stat(e.Python())
	return err == nil && info.Mode().IsRegular()
}

// Ensure guarantees that Root is a valid environment root on return.
// When the directory is absent it is created with "<interpreter> -m venv".
// When a valid environment is already present this is a no-op. A directory
// that exists but is not a valid environment root is an error: no partial
// environment is considered usable, and Ensure never deletes operator data
// to recover.
func (e *Env) Ensure(ctx context.Context) (created bool, err error) {
	if e.IsValid() {
		return false, nil
	}

	if e.Exists() {
		return false, fmt.Errorf("directory %s exists but is not a valid environment root (missing %s)",
			e.Root, e.Python())
	}

	cmd := exec.CommandContext(ctx, e.Interpreter, "-m", "venv", e.Root)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("%s -m venv %s failed: %w\n%s",
			e.Interpreter, e.Root, err, strings.TrimSpace(output.String()))
	}

	if !e.IsValid() {
		return false, fmt.Errorf("environment created at %s but interpreter %s is missing",
			e.Root, e.Python())
	}

	return true, nil
}

// Activate computes the process environment with the runtime environment
// bound into command resolution: the environment's bin directory is
// prepended to PATH, VIRTUAL_ENV points at the root, and PYTHONHOME is
// dropped so the environment's own library paths win. The base slice is
// not modified. All operations after activation resolve dependencies from
// this environment, not from the ambient system.
func (e *Env) Activate(base []string) []string {
	absRoot, err := filepath.Abs(e.Root)
	if err != nil {
		absRoot = e.Root
	}
	absBin, err := filepath.Abs(e.binDir())
	if err != nil {
		absBin = e.binDir()
	}

	out := make([]string, 0, len(base)+2)
	pathSeen := false
	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			out = append(out, kv)
			continue
		}
		switch {
		case strings.EqualFold(key, "PATH"):
			out = append(out, key+"="+absBin+string(os.PathListSeparator)+value)
			pathSeen = true
		case key == "PYTHONHOME" || key == "VIRTUAL_ENV":
			// dropped, re-added below for VIRTUAL_ENV
		default:
			out = append(out, kv)
		}
	}
	if !pathSeen {
		out = append(out, "PATH="+absBin)
	}
	out = append(out, "VIRTUAL_ENV="+absRoot)

	return out
}
