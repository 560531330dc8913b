// Package config loads the YAML-driven configuration for rulesets,
// actions, and the ambient stack (metrics/telemetry/worker pool), adapted
// from the teacher's internal/config.LoadConfig: read file, apply defaults
// for anything left zero-valued, apply environment overrides, then
// validate before the caller starts anything.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Workers   WorkersConfig   `yaml:"workers"`
	Rulesets  []RulesetConfig `yaml:"rulesets"`
	Actions   []ActionConfig  `yaml:"actions"`
}

// AppConfig carries process-wide identity and logging settings.
type AppConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// TelemetryConfig mirrors internal/telemetry.Config's YAML shape (kept as
// its own struct here so internal/config has no import-time dependency on
// internal/telemetry; cmd/rsyslog-core's runMain does the field-by-field
// translation).
type TelemetryConfig struct {
	Enabled      bool              `yaml:"enabled"`
	ServiceName  string            `yaml:"service_name"`
	Endpoint     string            `yaml:"endpoint"`
	Insecure     bool              `yaml:"insecure"`
	SampleRate   float64           `yaml:"sample_rate"`
	BatchTimeout time.Duration     `yaml:"batch_timeout"`
	MaxBatchSize int               `yaml:"max_batch_size"`
	Headers      map[string]string `yaml:"headers"`
}

// WorkersConfig configures the Worker Pool (C8).
type WorkersConfig struct {
	PerAction       int           `yaml:"per_action"`
	BatchSize       int           `yaml:"batch_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// FilterConfig configures one Filter (C4) within a Ruleset.
type FilterConfig struct {
	// Kind selects the Filter body variant: "bitmap", "propcmp", or
	// "expression".
	Kind string `yaml:"kind"`

	// Bitmap maps a facility name (or "*") to a list of severity names (or
	// "*"), used only when Kind == "bitmap".
	Bitmap map[string][]string `yaml:"bitmap,omitempty"`

	// PropCmp configures a single-property comparison, used only when
	// Kind == "propcmp".
	PropCmp *PropCmpConfig `yaml:"propcmp,omitempty"`

	// Expression is a compiled VM program's source text, used only when
	// Kind == "expression".
	Expression string `yaml:"expression,omitempty"`

	Hostname    *ComparatorConfig `yaml:"hostname,omitempty"`
	ProgramName *ComparatorConfig `yaml:"program_name,omitempty"`

	Actions []string `yaml:"actions"`
}

// PropCmpConfig is the YAML shape of a filter.PropCmp.
type PropCmpConfig struct {
	Property string `yaml:"property"`
	Op       string `yaml:"op"`
	Value    string `yaml:"value"`
	Negate   bool   `yaml:"negate"`
}

// ComparatorConfig is the YAML shape of a filter.Comparator pre-filter.
type ComparatorConfig struct {
	Literal string `yaml:"literal"`
	Negate  bool   `yaml:"negate"`
}

// RulesetConfig configures one Ruleset (C5).
type RulesetConfig struct {
	Name    string         `yaml:"name"`
	Filters []FilterConfig `yaml:"filters"`
}

// ActionConfig configures one Action (C6), its Batch Queue (C7), and its
// retry/backoff policy.
type ActionConfig struct {
	Name     string                 `yaml:"name"`
	Module   string                 `yaml:"module"`
	Params   map[string]interface{} `yaml:"params"`
	Template string                 `yaml:"template,omitempty"`

	Queue   QueueConfig   `yaml:"queue"`
	Breaker BreakerConfig `yaml:"breaker"`

	ResumeCheckEvery time.Duration `yaml:"resume_check_every"`
}

// QueueConfig is the YAML shape of a batchqueue.Config plus its optional
// disk-spool directory.
type QueueConfig struct {
	HighWaterMark int           `yaml:"high_water_mark"`
	Linger        time.Duration `yaml:"linger"`
	SpoolDir      string        `yaml:"spool_dir,omitempty"`
}

// BreakerConfig is the YAML shape of a circuit.Config.
type BreakerConfig struct {
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	JitterPercent float64       `yaml:"jitter_percent"`
	MaxAttempts   int           `yaml:"max_attempts"`
}

// Load reads path, applies defaults to anything left zero-valued, applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "rsyslog-core"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = "text"
	}

	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.BatchTimeout == 0 {
		cfg.Telemetry.BatchTimeout = 5 * time.Second
	}
	if cfg.Telemetry.MaxBatchSize == 0 {
		cfg.Telemetry.MaxBatchSize = 512
	}

	if cfg.Workers.PerAction <= 0 {
		cfg.Workers.PerAction = 2
	}
	if cfg.Workers.BatchSize <= 0 {
		cfg.Workers.BatchSize = 64
	}
	if cfg.Workers.ShutdownTimeout == 0 {
		cfg.Workers.ShutdownTimeout = 30 * time.Second
	}

	for i := range cfg.Actions {
		a := &cfg.Actions[i]
		if a.Queue.HighWaterMark <= 0 {
			a.Queue.HighWaterMark = 1000
		}
		if a.Queue.Linger <= 0 {
			a.Queue.Linger = 50 * time.Millisecond
		}
		if a.Breaker.BaseDelay <= 0 {
			if a.Module == "omfwd" {
				a.Breaker.BaseDelay = 2 * time.Second
			} else {
				a.Breaker.BaseDelay = 30 * time.Second
			}
		}
		if a.Breaker.MaxDelay <= 0 {
			a.Breaker.MaxDelay = 20 * time.Minute
		}
		if a.Breaker.JitterPercent <= 0 {
			a.Breaker.JitterPercent = 0.20
		}
		if a.Breaker.MaxAttempts <= 0 {
			a.Breaker.MaxAttempts = 30
		}
		if a.ResumeCheckEvery <= 0 {
			a.ResumeCheckEvery = time.Second
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	cfg.App.LogLevel = getEnvString("RSYSLOG_CORE_LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.LogFormat = getEnvString("RSYSLOG_CORE_LOG_FORMAT", cfg.App.LogFormat)
	cfg.Metrics.Addr = getEnvString("RSYSLOG_CORE_METRICS_ADDR", cfg.Metrics.Addr)
	cfg.Metrics.Enabled = getEnvBool("RSYSLOG_CORE_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Telemetry.Enabled = getEnvBool("RSYSLOG_CORE_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Endpoint = getEnvString("RSYSLOG_CORE_TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
