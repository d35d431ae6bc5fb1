// Package config loads warden's configuration and session plan files.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/warden/pkg/session"
)

// Duration decodes YAML values like "30s" or "5m" into a time.Duration.
// Bare integers are treated as nanoseconds, matching time.Duration itself.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds the tunable envelope of the session engine. Zero values are
// replaced with defaults by ApplyDefaults.
type Config struct {
	// Policy settings.
	MaxActions     int      `yaml:"max_actions"`
	MaxValueLength int      `yaml:"max_value_length"`
	BlockedDomains []string `yaml:"blocked_domains"`

	// Governor settings.
	ConcurrencyCeiling int      `yaml:"concurrency_ceiling"`
	SessionTimeout     Duration `yaml:"session_timeout"`

	// Engine settings.
	CallTimeout Duration `yaml:"call_timeout"`
	Headless    *bool    `yaml:"headless"`

	// Audit settings.
	SnapshotCap int `yaml:"snapshot_cap"`
	ExtractCap  int `yaml:"extract_cap"`

	// Storage locations.
	DatabasePath string `yaml:"database_path"`
	BlobRoot     string `yaml:"blob_root"`
}

// Default limits applied when the config file leaves a field unset.
const (
	DefaultSessionTimeout = 5 * time.Minute
	DefaultCallTimeout    = 10 * time.Second
	DefaultExtractCap     = 20000
	DefaultSnapshotCap    = 50000
)

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.ConcurrencyCeiling <= 0 {
		c.ConcurrencyCeiling = 2
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = Duration(DefaultSessionTimeout)
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = Duration(DefaultCallTimeout)
	}
	if c.SnapshotCap <= 0 {
		c.SnapshotCap = DefaultSnapshotCap
	}
	if c.ExtractCap <= 0 {
		c.ExtractCap = DefaultExtractCap
	}
	if c.Headless == nil {
		headless := true
		c.Headless = &headless
	}

	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	if c.DatabasePath == "" {
		c.DatabasePath = filepath.Join(home, ".warden", "warden.db")
	}
	if c.BlobRoot == "" {
		c.BlobRoot = filepath.Join(home, ".warden", "blobs")
	}
}

// Load reads the config file at path. A missing file yields the defaults;
// a malformed file is an error.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// LoadPlan reads a session plan file: the tenant/agent identity, target
// URL, purpose, and ordered action list for one session.
func LoadPlan(path string) (session.Config, error) {
	var plan session.Config

	data, err := os.ReadFile(path)
	if err != nil {
		return plan, fmt.Errorf("failed to read plan: %w", err)
	}
	if err := yaml.Unmarshal(data, &plan); err != nil {
		return plan, fmt.Errorf("failed to parse plan: %w", err)
	}
	return plan, nil
}
