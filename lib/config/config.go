// Copyright 2026 The Stelliberty Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stelliberty/hub/lib/endpoint"
)

// EnvConfig names the configuration file when no --config flag is
// given.
const EnvConfig = "STELLIBERTY_CONFIG"

// Config is the hub configuration.
type Config struct {
	// Core configures the connection to the proxy core.
	Core CoreConfig `yaml:"core"`

	// Service configures the connection to the helper service.
	Service ServiceConfig `yaml:"service"`

	// Logging configures the process logger.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// CoreConfig configures the proxy core's control endpoint.
type CoreConfig struct {
	// Endpoint is the Unix socket path or named pipe of the core.
	Endpoint string `yaml:"endpoint"`

	// PoolSize bounds the idle connections kept for reuse.
	// Default: 100
	PoolSize int `yaml:"pool_size"`

	// IdleTimeout is how long an idle connection stays reusable.
	// Default: 500ms
	IdleTimeout string `yaml:"idle_timeout"`

	// SweepInterval is the period of the idle connection sweep.
	// Default: 30s
	SweepInterval string `yaml:"sweep_interval"`

	// ConnectTimeout bounds one connect to the endpoint.
	// Default: 5s
	ConnectTimeout string `yaml:"connect_timeout"`

	// StopGracePeriod is how long a directly launched core gets to
	// exit after SIGTERM before it is killed.
	// Default: 5s
	StopGracePeriod string `yaml:"stop_grace_period"`
}

// ServiceConfig configures the helper service endpoint.
type ServiceConfig struct {
	// Endpoint is the Unix socket path or named pipe of the helper.
	Endpoint string `yaml:"endpoint"`

	// Timeout bounds each command attempt.
	// Default: 5s
	Timeout string `yaml:"timeout"`

	// MaxRetries is the number of additional attempts after a
	// transport failure or timeout. Negative disables retries.
	// Default: 3
	MaxRetries int `yaml:"max_retries"`

	// RunningCheckTimeout bounds the liveness check.
	// Default: 500ms
	RunningCheckTimeout string `yaml:"running_check_timeout"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is text, json, or auto (text on a terminal, json
	// otherwise).
	// Default: auto
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the TCP address serving /metrics. Empty disables it.
	Listen string `yaml:"listen"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Core: CoreConfig{
			Endpoint:        endpoint.DefaultCorePath(),
			PoolSize:        100,
			IdleTimeout:     "500ms",
			SweepInterval:   "30s",
			ConnectTimeout:  "5s",
			StopGracePeriod: "5s",
		},
		Service: ServiceConfig{
			Endpoint:            endpoint.DefaultServicePath(),
			Timeout:             "5s",
			MaxRetries:          3,
			RunningCheckTimeout: "500ms",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load loads the file named by STELLIBERTY_CONFIG, or returns Default
// when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfig)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads path over Default and expands variables. The result
// is not validated; call Validate.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and expands variables.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.Core.Endpoint = expandVars(c.Core.Endpoint)
	c.Service.Endpoint = expandVars(c.Service.Endpoint)
	c.Metrics.Listen = expandVars(c.Metrics.Listen)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from the environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Core.Endpoint == "" {
		errs = append(errs, errors.New("core.endpoint is required"))
	}
	if c.Core.PoolSize <= 0 {
		errs = append(errs, fmt.Errorf("core.pool_size must be positive, got %d", c.Core.PoolSize))
	}
	if c.Service.Endpoint == "" {
		errs = append(errs, errors.New("service.endpoint is required"))
	}

	durations := []struct {
		field string
		value string
	}{
		{"core.idle_timeout", c.Core.IdleTimeout},
		{"core.sweep_interval", c.Core.SweepInterval},
		{"core.connect_timeout", c.Core.ConnectTimeout},
		{"core.stop_grace_period", c.Core.StopGracePeriod},
		{"service.timeout", c.Service.Timeout},
		{"service.running_check_timeout", c.Service.RunningCheckTimeout},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", d.field, err))
			continue
		}
		if parsed <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", d.field, d.value))
		}
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be one of auto, text, json; got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// SlogLevel parses Level.
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("logging.level: %w", err)
	}
	return level, nil
}

// Duration parses a duration field that Validate has accepted. It
// returns zero for an invalid value, which the consumers of these
// settings treat as "use the default".
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0
	}
	return d
}
