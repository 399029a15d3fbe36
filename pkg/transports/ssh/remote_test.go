package ssh

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestBootstrapperDefaults(t *testing.T) {
	b := NewBootstrapper(nil, RemoteOptions{
		ManifestPath: "requirements.txt",
		EntryPath:    "run.py",
	}, nil, zerolog.Nop())

	if got := b.envDir(); got != "sensorboot/venv" {
		t.Errorf("unexpected env dir: %q", got)
	}
	if got := b.envPython(); got != "sensorboot/venv/bin/python" {
		t.Errorf("unexpected interpreter path: %q", got)
	}
	if got := b.remoteManifest(); got != "sensorboot/requirements.txt" {
		t.Errorf("unexpected remote manifest path: %q", got)
	}
	if got := b.remoteEntry(); got != "sensorboot/run.py" {
		t.Errorf("unexpected remote entry path: %q", got)
	}
}

func TestBootstrapperAbsoluteEnvDir(t *testing.T) {
	b := NewBootstrapper(nil, RemoteOptions{
		WorkDir:      "/opt/sensorboot",
		EnvDir:       "/var/lib/sensorboot/venv",
		ManifestPath: "deploy/requirements.txt",
	}, nil, zerolog.Nop())

	if got := b.envDir(); got != "/var/lib/sensorboot/venv" {
		t.Errorf("expected absolute env dir kept, got %q", got)
	}
	if got := b.remoteManifest(); got != "/opt/sensorboot/requirements.txt" {
		t.Errorf("expected manifest basename under workdir, got %q", got)
	}
}

func TestShellQuote(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"venv", "'venv'"},
		{"path with spaces", "'path with spaces'"},
		{"it's", `'it'\''s'`},
	}

	for _, c := range cases {
		if got := shellQuote(c.in); got != c.want {
			t.Errorf("shellQuote(%q): expected %s, got %s", c.in, c.want, got)
		}
	}
}
