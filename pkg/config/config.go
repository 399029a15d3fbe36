// Package config loads and validates the bootstrap configuration. The
// defaults are the operator-facing contract: environment directory "venv",
// manifest "requirements.txt", entry point "run.py", server endpoint
// http://localhost:8000. A config file only overrides them.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultPath is where Load looks when no config path is given.
const DefaultPath = "sensorboot.yaml"

// Config is the root bootstrap configuration.
type Config struct {
	// Environment configures the isolated runtime environment.
	Environment EnvironmentConfig `yaml:"environment"`

	// Manifest is the dependency manifest file path.
	Manifest string `yaml:"manifest" validate:"required"`

	// Server configures the launched server process.
	Server ServerConfig `yaml:"server"`

	// Store configures the run-history database.
	Store StoreConfig `yaml:"store"`

	// Policy configures manifest policy enforcement.
	Policy PolicyConfig `yaml:"policy"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EnvironmentConfig describes the runtime environment conventions.
type EnvironmentConfig struct {
	// Dir is the environment root directory.
	Dir string `yaml:"dir" validate:"required"`

	// Interpreter is the base interpreter used to create the environment.
	Interpreter string `yaml:"interpreter" validate:"required"`
}

// ServerConfig describes the server process launched by the final step.
type ServerConfig struct {
	// Entry is the server entry-point file.
	Entry string `yaml:"entry" validate:"required"`

	// Host is the operator-facing bind host.
	Host string `yaml:"host" validate:"required,hostname|ip"`

	// Port is the operator-facing bind port.
	Port int `yaml:"port" validate:"required,min=1,max=65535"`

	// StopGrace is how long a supervised server gets to exit on SIGTERM
	// before SIGKILL.
	StopGrace time.Duration `yaml:"stop_grace"`
}

// Endpoint returns the operator-facing server URL.
func (s ServerConfig) Endpoint() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// StoreConfig configures the run-history database.
type StoreConfig struct {
	// Enabled controls whether runs are recorded at all.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file path.
	Path string `yaml:"path"`
}

// PolicyConfig configures manifest policy enforcement.
type PolicyConfig struct {
	// Enabled indicates if the policy gate runs before installation.
	Enabled bool `yaml:"enabled"`

	// Mode is the enforcement mode (advisory, enforcing).
	Mode string `yaml:"mode" validate:"omitempty,oneof=advisory enforcing"`

	// Paths lists additional Rego policy files to load next to the
	// built-in policies.
	Paths []string `yaml:"paths"`

	// DeniedPackages lists package names the built-in denylist policy
	// rejects.
	DeniedPackages []string `yaml:"denied_packages"`
}

// TelemetryConfig configures the ambient instrumentation.
type TelemetryConfig struct {
	// LogLevel sets the minimum log level.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`

	// LogFormat selects console or json logs.
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`

	// Metrics configures the Prometheus endpoint (supervised mode only).
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures OpenTelemetry tracing.
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate" validate:"min=0,max=1"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the configuration matching the fixed filesystem and
// endpoint conventions.
func Default() *Config {
	return &Config{
		Environment: EnvironmentConfig{
			Dir:         "venv",
			Interpreter: "python3",
		},
		Manifest: "requirements.txt",
		Server: ServerConfig{
			Entry:     "run.py",
			Host:      "localhost",
			Port:      8000,
			StopGrace: 10 * time.Second,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    "data/sensorboot.db",
		},
		Policy: PolicyConfig{
			Enabled: false,
			Mode:    "advisory",
		},
		Telemetry: TelemetryConfig{
			LogLevel:  "info",
			LogFormat: "console",
			Metrics: MetricsConfig{
				Enabled:       false,
				ListenAddress: ":9090",
			},
			Tracing: TracingConfig{
				Enabled:      false,
				Exporter:     "stdout",
				SamplingRate: 1.0,
				Insecure:     true,
			},
		},
	}
}

// Load reads the config file at path, layered over the defaults, and
// validates the result. A missing file at the default path is not an error:
// the defaults are the contract. A missing file at an explicit path is.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
