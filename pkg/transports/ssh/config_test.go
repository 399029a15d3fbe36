package ssh

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTestKey(t *testing.T) string {
	t.Helper()

	// Validate only stats the file; content does not matter there.
	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, []byte("fake key material"), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("gateway-01.local", "pi")

	if cfg.Host != "gateway-01.local" || cfg.User != "pi" {
		t.Errorf("unexpected host/user: %s/%s", cfg.Host, cfg.User)
	}
	if cfg.Port != 22 {
		t.Errorf("expected default port 22, got %d", cfg.Port)
	}
	if cfg.AuthMethod != AuthMethodKey {
		t.Errorf("expected key auth by default, got %s", cfg.AuthMethod)
	}
	if !cfg.StrictHostKeyChecking {
		t.Error("expected strict host key checking by default")
	}
}

func TestParseTarget(t *testing.T) {
	cfg, err := ParseTarget("pi@gateway-01.local")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.User != "pi" || cfg.Host != "gateway-01.local" || cfg.Port != 22 {
		t.Errorf("unexpected config: %s@%s:%d", cfg.User, cfg.Host, cfg.Port)
	}

	cfg, err = ParseTarget("op@10.0.0.5:2222")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if cfg.Host != "10.0.0.5" || cfg.Port != 2222 {
		t.Errorf("unexpected host/port: %s:%d", cfg.Host, cfg.Port)
	}
}

func TestParseTargetRejectsMalformed(t *testing.T) {
	cases := []string{
		"gateway-01.local",
		"@gateway",
		"pi@",
		"pi@host:notaport",
	}

	for _, target := range cases {
		if _, err := ParseTarget(target); err == nil {
			t.Errorf("expected error for target %q", target)
		}
	}
}

func TestValidate(t *testing.T) {
	keyPath := writeTestKey(t)

	valid := &Config{
		Host:           "gateway-01.local",
		Port:           22,
		User:           "pi",
		AuthMethod:     AuthMethodKey,
		PrivateKeyPath: keyPath,
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: time.Minute,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"missing user", func(c *Config) { c.User = "" }},
		{"bad auth method", func(c *Config) { c.AuthMethod = "token" }},
		{"missing key file", func(c *Config) { c.PrivateKeyPath = "/nonexistent/key" }},
		{"password auth without password", func(c *Config) { c.AuthMethod = AuthMethodPassword; c.Password = "" }},
		{"zero connect timeout", func(c *Config) { c.ConnectTimeout = 0 }},
		{"zero command timeout", func(c *Config) { c.CommandTimeout = 0 }},
	}

	for _, c := range cases {
		cfg := *valid
		c.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestValidatePasswordAuth(t *testing.T) {
	cfg := &Config{
		Host:           "gateway-01.local",
		Port:           22,
		User:           "pi",
		AuthMethod:     AuthMethodPassword,
		Password:       "hunter2",
		ConnectTimeout: 10 * time.Second,
		CommandTimeout: time.Minute,
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid password config, got %v", err)
	}
}

func TestAddress(t *testing.T) {
	cfg := &Config{Host: "10.0.0.5", Port: 2222}
	if got := cfg.Address(); got != "10.0.0.5:2222" {
		t.Errorf("expected 10.0.0.5:2222, got %q", got)
	}
}
