// Package config loads the daemon configuration, composed from the
// configuration of every subsystem.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fentz26/guardian/internal/adaptation"
	"github.com/fentz26/guardian/internal/cleanup"
	"github.com/fentz26/guardian/internal/guardian"
	"github.com/fentz26/guardian/internal/health"
	"github.com/fentz26/guardian/internal/integrity"
	"github.com/fentz26/guardian/internal/logging"
)

// AuthConfig configures approver tokens.
type AuthConfig struct {
	// Secret signs approver tokens. Empty disables token checks.
	Secret string `yaml:"secret,omitempty"`
	// TokenTTL is the lifetime of minted tokens.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// RateLimitConfig bounds heartbeat traffic.
type RateLimitConfig struct {
	// HeartbeatRPS is the sustained heartbeat rate across all components.
	HeartbeatRPS float64 `yaml:"heartbeat_rps"`
	// HeartbeatBurst is the bucket size.
	HeartbeatBurst int `yaml:"heartbeat_burst"`
}

// Config holds the full daemon configuration.
type Config struct {
	// Listen is the control plane address.
	Listen string `yaml:"listen"`
	// DataDir holds the database, manifest and backups unless overridden.
	DataDir string `yaml:"data_dir"`
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`

	Log        logging.Config    `yaml:"log"`
	Auth       AuthConfig        `yaml:"auth"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit"`
	Guardian   guardian.Config   `yaml:"guardian"`
	Health     health.Config     `yaml:"health"`
	Integrity  integrity.Config  `yaml:"integrity"`
	Cleanup    cleanup.Config    `yaml:"cleanup"`
	Adaptation adaptation.Config `yaml:"adaptation"`
}

// DefaultConfig returns the defaults of every subsystem, with state kept
// under .guardian in the working directory.
func DefaultConfig() *Config {
	cfg := &Config{
		Listen:     "127.0.0.1:7466",
		Log:        logging.DefaultConfig(),
		Auth:       AuthConfig{TokenTTL: 24 * time.Hour},
		RateLimit:  RateLimitConfig{HeartbeatRPS: 200, HeartbeatBurst: 400},
		Guardian:   guardian.DefaultConfig(),
		Health:     health.DefaultConfig(),
		Integrity:  integrity.DefaultConfig(),
		Cleanup:    cleanup.DefaultConfig(),
		Adaptation: adaptation.DefaultConfig(),
	}
	cfg.SetDataDir(".guardian")
	return cfg
}

// SetDataDir moves the database, manifest and backups under dir.
func (c *Config) SetDataDir(dir string) {
	c.DataDir = dir
	c.DBPath = filepath.Join(dir, "guardian.db")
	c.Guardian.ManifestPath = filepath.Join(dir, "manifest.json")
	c.Adaptation.BackupDir = filepath.Join(dir, "backups")
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Listen == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level))
	}
	if c.Health.HeartbeatTimeout <= 0 || c.Health.CheckInterval <= 0 {
		errs = append(errs, errors.New("health timeouts must be positive"))
	}
	if c.Health.AnomalyThreshold <= 0 {
		errs = append(errs, errors.New("health.anomaly_threshold must be positive"))
	}
	if c.Guardian.AutoIntegrity && c.Guardian.IntegrityInterval <= 0 {
		errs = append(errs, errors.New("guardian.integrity_interval must be positive when auto_integrity is on"))
	}
	if c.Adaptation.BackupDir == "" {
		errs = append(errs, errors.New("adaptation.backup_dir is required"))
	}
	if c.RateLimit.HeartbeatRPS < 0 || c.RateLimit.HeartbeatBurst < 0 {
		errs = append(errs, errors.New("rate_limit values must not be negative"))
	}
	for name, rule := range c.Cleanup.Categories {
		if rule.Pattern == "" {
			errs = append(errs, fmt.Errorf("cleanup.categories.%s.pattern is required", name))
		}
	}
	return errors.Join(errs...)
}

// ApplyEnv overrides file values with GUARDIAN_* environment variables.
// GUARDIAN_DATA_DIR is applied first so the more specific variables win.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := getenv("GUARDIAN_DATA_DIR"); v != "" {
		c.SetDataDir(v)
	}
	if v := getenv("GUARDIAN_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := getenv("GUARDIAN_DB"); v != "" {
		c.DBPath = v
	}
	if v := getenv("GUARDIAN_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv("GUARDIAN_AUTH_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := getenv("GUARDIAN_ROOTS"); v != "" {
		c.Guardian.Roots = filepath.SplitList(v)
	}
	if v := getenv("GUARDIAN_AUTO_CLEANUP"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("GUARDIAN_AUTO_CLEANUP: %w", err)
		}
		c.Guardian.AutoCleanup = b
	}
	return nil
}

// Load reads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// DefaultPath returns ~/.guardian/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".guardian", "config.yaml")
	}
	return filepath.Join(home, ".guardian", "config.yaml")
}

// Save writes cfg to path, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	// The file may carry the auth secret.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
