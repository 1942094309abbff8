// Package config loads and validates the sentinel configuration file.
// Defaults cover every field so the binary runs without a file; a YAML
// file overlays the defaults and is validated as a whole.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sentinelops/sentinel/pkg/resilience"
	"github.com/sentinelops/sentinel/pkg/telemetry"
)

// VaultConfig locates the action vault.
type VaultConfig struct {
	// Dir is the vault root containing the container directories.
	Dir string `yaml:"dir" validate:"required"`

	// WatchEnabled turns on the filesystem watcher so scans start ahead
	// of the next poll tick.
	WatchEnabled bool `yaml:"watch_enabled"`

	// WatchDebounce coalesces bursts of vault changes into one signal.
	WatchDebounce time.Duration `yaml:"watch_debounce"`
}

// ScanConfig drives the lifecycle poll loop.
type ScanConfig struct {
	// PollInterval is the time between scan cycles.
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`

	// ExpiryWindow is how long a pending action without an explicit
	// expiry stays actionable.
	ExpiryWindow time.Duration `yaml:"expiry_window" validate:"gt=0"`
}

// ResilienceConfig tunes retries and circuit breakers for dispatch.
type ResilienceConfig struct {
	// MaxRetries is the total number of attempts per dispatch.
	MaxRetries int `yaml:"max_retries" validate:"min=1"`

	// BackoffBase is the first retry delay.
	BackoffBase time.Duration `yaml:"backoff_base" validate:"gt=0"`

	// BackoffMax caps the exponential delay growth.
	BackoffMax time.Duration `yaml:"backoff_max" validate:"gt=0"`

	// JitterFraction is the random extra delay as a fraction of the
	// computed backoff.
	JitterFraction float64 `yaml:"jitter_fraction" validate:"gte=0,lte=1"`

	// FailureThreshold is the consecutive failure count that opens a
	// circuit.
	FailureThreshold int `yaml:"failure_threshold" validate:"min=1"`

	// RecoveryTimeout is how long an open circuit waits before probing.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" validate:"gt=0"`
}

// QueueConfig locates the durable retry queue.
type QueueConfig struct {
	// Dir is the queue directory. Empty derives <vault>/.queue.
	Dir string `yaml:"dir"`

	// MaxRetries is the per-task attempt cap before dead-lettering.
	MaxRetries int `yaml:"max_retries" validate:"min=1"`
}

// StateConfig locates the SQLite lifecycle state.
type StateConfig struct {
	// Path is the database file. Empty derives <vault>/sentinel.db.
	Path string `yaml:"path"`
}

// AppConfig is the full sentinel configuration.
type AppConfig struct {
	Vault      VaultConfig      `yaml:"vault"`
	Scan       ScanConfig       `yaml:"scan"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Queue      QueueConfig      `yaml:"queue"`
	State      StateConfig      `yaml:"state"`
	Telemetry  telemetry.Config `yaml:"telemetry"`
}

var validate = validator.New()

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	return &AppConfig{
		Vault: VaultConfig{
			Dir:           "./vault",
			WatchEnabled:  true,
			WatchDebounce: 500 * time.Millisecond,
		},
		Scan: ScanConfig{
			PollInterval: 30 * time.Second,
			ExpiryWindow: 24 * time.Hour,
		},
		Resilience: ResilienceConfig{
			MaxRetries:       3,
			BackoffBase:      time.Second,
			BackoffMax:       30 * time.Second,
			JitterFraction:   0.5,
			FailureThreshold: 3,
			RecoveryTimeout:  60 * time.Second,
		},
		Queue: QueueConfig{
			MaxRetries: 3,
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// Load reads the file at path over the defaults and validates the
// result. An empty path yields the validated defaults.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyDerived()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDerived fills paths that default relative to the vault root.
func (c *AppConfig) applyDerived() {
	if c.Queue.Dir == "" && c.Vault.Dir != "" {
		c.Queue.Dir = filepath.Join(c.Vault.Dir, ".queue")
	}
	if c.State.Path == "" && c.Vault.Dir != "" {
		c.State.Path = filepath.Join(c.Vault.Dir, "sentinel.db")
	}
}

// Validate checks the whole configuration.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.State.Path == "" {
		return fmt.Errorf("invalid configuration: state path is empty")
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

// RetryConfig maps the resilience section onto the retry executor.
func (c *AppConfig) RetryConfig() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:     c.Resilience.MaxRetries,
		BackoffBase:    c.Resilience.BackoffBase,
		BackoffMax:     c.Resilience.BackoffMax,
		JitterFraction: c.Resilience.JitterFraction,
	}
}

// CallerConfig maps the resilience section onto the circuit-breaking
// caller.
func (c *AppConfig) CallerConfig() resilience.CallerConfig {
	return resilience.CallerConfig{
		FailureThreshold: c.Resilience.FailureThreshold,
		RecoveryTimeout:  c.Resilience.RecoveryTimeout,
		Retry:            c.RetryConfig(),
	}
}
