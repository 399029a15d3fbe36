package telemetry

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
	if cfg.ServiceName != "sensorboot" {
		t.Errorf("unexpected service name: %q", cfg.ServiceName)
	}
}

func TestConfigValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty service name", func(c *Config) { c.ServiceName = "" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "carrier-pigeon" }},
		{"sampling rate too high", func(c *Config) { c.Tracing.SamplingRate = 1.5 }},
		{"sampling rate negative", func(c *Config) { c.Tracing.SamplingRate = -0.1 }},
	}

	for _, c := range cases {
		cfg := DefaultConfig()
		c.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"fatal", zerolog.FatalLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}

	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Errorf("ParseLevel(%q): expected %s, got %s", c.in, c.want, got)
		}
	}
}

func TestNewLoggerConsole(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "console", Output: "stderr"})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	if logger.GetLevel() != zerolog.DebugLevel {
		t.Errorf("expected debug level, got %s", logger.GetLevel())
	}
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create disabled metrics: %v", err)
	}

	// None of these may panic with collectors unset.
	m.RecordRunStarted("exec")
	m.RecordRunCompleted("succeeded", 0)
	m.RecordStepExecution("launch_server", "succeeded", 0)
	m.RecordFailure("dep_install")
	m.RecordServerRestart("source")
	m.SetServerUp(true)

	var nilMetrics *Metrics
	nilMetrics.RecordRunStarted("exec")
	nilMetrics.SetServerUp(false)
}
