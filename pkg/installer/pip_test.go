package installer

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sensorboot/sensorboot/pkg/pyenv"
)

// scriptedEnv creates an environment whose interpreter is a shell script,
// so pip behavior can be simulated without a real Python installation.
func scriptedEnv(t *testing.T, script string) *pyenv.Env {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("shell script interpreter requires a POSIX shell")
	}

	root := filepath.Join(t.TempDir(), "venv")
	env := pyenv.New(root, "python3")

	if err := os.MkdirAll(filepath.Dir(env.Python()), 0755); err != nil {
		t.Fatalf("failed to create bin dir: %v", err)
	}
	if err := os.WriteFile(env.Python(), []byte("#!/bin/sh\n"+script), 0755); err != nil {
		t.Fatalf("failed to write interpreter script: %v", err)
	}

	return env
}

func TestInstallParsesSummary(t *testing.T) {
	env := scriptedEnv(t, `echo "Collecting fastapi==0.104.1"
echo "Successfully installed fastapi-0.104.1 starlette-0.27.0 uvicorn-0.24.0"
`)

	inst := New(env, os.Environ(), zerolog.Nop())
	result, err := inst.Install(context.Background(), "requirements.txt")
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}

	if result.Installed != 3 {
		t.Errorf("expected 3 installed packages, got %d", result.Installed)
	}
	if result.AlreadySatisfied {
		t.Error("expected AlreadySatisfied=false after fresh install")
	}
}

func TestInstallAlreadySatisfied(t *testing.T) {
	env := scriptedEnv(t, `echo "Requirement already satisfied: fastapi==0.104.1"
echo "Requirement already satisfied: uvicorn>=0.24.0"
`)

	inst := New(env, os.Environ(), zerolog.Nop())
	result, err := inst.Install(context.Background(), "requirements.txt")
	if err != nil {
		t.Fatalf("install failed: %v", err)
	}

	if !result.AlreadySatisfied {
		t.Error("expected AlreadySatisfied=true")
	}
	if result.Installed != 0 {
		t.Errorf("expected 0 installed packages, got %d", result.Installed)
	}
}

func TestInstallFailureSurfacesStderr(t *testing.T) {
	env := scriptedEnv(t, `echo "ERROR: No matching distribution found for no-such-package==9.9.9" >&2
exit 1
`)

	inst := New(env, os.Environ(), zerolog.Nop())
	result, err := inst.Install(context.Background(), "requirements.txt")
	if err == nil {
		t.Fatal("expected install error")
	}

	if !strings.Contains(err.Error(), "No matching distribution found") {
		t.Errorf("expected pip diagnostic in error, got: %v", err)
	}
	if result == nil || !strings.Contains(result.Stderr, "no-such-package") {
		t.Error("expected captured stderr in result")
	}
}

func TestInstallRequiresManifestPath(t *testing.T) {
	env := scriptedEnv(t, "exit 0\n")

	inst := New(env, os.Environ(), zerolog.Nop())
	if _, err := inst.Install(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty manifest path")
	}
}

func TestCountInstalled(t *testing.T) {
	cases := []struct {
		stdout string
		want   int
	}{
		{"Successfully installed fastapi-0.104.1", 1},
		{"Collecting x\nSuccessfully installed a-1.0 b-2.0 c-3.0\n", 3},
		{"Requirement already satisfied: fastapi", 0},
		{"", 0},
	}

	for _, c := range cases {
		if got := countInstalled(c.stdout); got != c.want {
			t.Errorf("countInstalled(%q): expected %d, got %d", c.stdout, c.want, got)
		}
	}
}

func TestDiagnosticTailPrefersStderr(t *testing.T) {
	r := &Result{Stdout: "stdout text", Stderr: "stderr text"}
	if got := diagnosticTail(r); got != "stderr text" {
		t.Errorf("expected stderr preferred, got %q", got)
	}

	r = &Result{Stdout: "stdout text"}
	if got := diagnosticTail(r); got != "stdout text" {
		t.Errorf("expected stdout fallback, got %q", got)
	}
}
