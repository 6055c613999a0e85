// Package config provides configuration structures and loading logic for the
// telemetry host.
package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration of the telemetrycore host.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Identity   IdentityConfig   `yaml:"identity"`
	Exposition ExpositionConfig `yaml:"exposition"`
	Spool      SpoolConfig      `yaml:"spool"`
	Logging    LoggingConfig    `yaml:"logging"`
	Tracing    TracingConfig    `yaml:"tracing"`
}

// ServerConfig holds configuration for the HTTP server.
type ServerConfig struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// IdentityConfig identifies the envelope the host emits about itself.
type IdentityConfig struct {
	System   string `yaml:"system"`
	Env      string `yaml:"env"`
	Instance string `yaml:"instance"`
	Version  string `yaml:"version"`
}

// ExpositionConfig controls the rendered payload.
type ExpositionConfig struct {
	// GroupFamilies emits one HELP/TYPE header per family across all envelopes.
	GroupFamilies bool `yaml:"group_families"`
}

// SpoolConfig points at a directory of envelope files written by other
// emitters.
type SpoolConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// TracingConfig holds configuration for OpenTelemetry tracing.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:   ":9464",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Identity: IdentityConfig{
			System:  "TelemetryCore",
			Env:     "DEV",
			Version: "dev",
		},
		Spool: SpoolConfig{
			Watch: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Tracing: TracingConfig{
			ServiceName: "telemetrycore",
		},
	}
}

// Load reads configuration like Read and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Read reads configuration from a file and applies environment variable
// overrides without validating. An empty path yields the defaults plus
// overrides. Callers that layer further overrides on top, such as command
// line flags, validate once they are done.
func Read(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by the operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("TELEMETRYCORE_LISTEN_ADDR"); val != "" {
		cfg.Server.ListenAddr = val
	}

	if val := os.Getenv("TELEMETRYCORE_SYSTEM"); val != "" {
		cfg.Identity.System = val
	}
	if val := os.Getenv("TELEMETRYCORE_ENV"); val != "" {
		cfg.Identity.Env = val
	}
	if val := os.Getenv("TELEMETRYCORE_INSTANCE"); val != "" {
		cfg.Identity.Instance = val
	}

	if val := os.Getenv("TELEMETRYCORE_SPOOL_DIR"); val != "" {
		cfg.Spool.Dir = val
	}
	if val := os.Getenv("TELEMETRYCORE_GROUP_FAMILIES"); val == "true" {
		cfg.Exposition.GroupFamilies = true
	}

	if val := os.Getenv("TELEMETRYCORE_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}

	if val := os.Getenv("TELEMETRYCORE_OTLP_ENDPOINT"); val != "" {
		cfg.Tracing.Endpoint = val
	}
	if val := os.Getenv("TELEMETRYCORE_OTLP_INSECURE"); val == "true" {
		cfg.Tracing.Insecure = true
	}
}

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	var result *multierror.Error

	if err := c.Server.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("server configuration: %w", err))
	}
	if err := c.Identity.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("identity configuration: %w", err))
	}
	if err := c.Logging.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("logging configuration: %w", err))
	}
	if err := c.Tracing.Validate(); err != nil {
		result = multierror.Append(result, fmt.Errorf("tracing configuration: %w", err))
	}

	return result.ErrorOrNil()
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = ":9464"
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen_addr %q: %w", c.ListenAddr, err)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// Validate performs validation of identity configuration
func (c *IdentityConfig) Validate() error {
	if strings.TrimSpace(c.System) == "" {
		return fmt.Errorf("system is required")
	}
	if strings.TrimSpace(c.Env) == "" {
		return fmt.Errorf("env is required")
	}
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate() error {
	if c.Level == "" {
		c.Level = "info"
	}

	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", c.Level)
	}
}

// Validate performs validation of tracing configuration
func (c *TracingConfig) Validate() error {
	if c.Endpoint == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Endpoint); err != nil {
		return fmt.Errorf("invalid endpoint %q (expected host:port): %w", c.Endpoint, err)
	}
	if c.ServiceName == "" {
		c.ServiceName = "telemetrycore"
	}
	return nil
}
