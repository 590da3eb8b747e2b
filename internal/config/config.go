// Package config loads the sync engine configuration from a YAML file, an
// optional .env file and LEDGERDESK_* environment variables, in that order
// of increasing precedence.
package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kimhsiao/ledgerdesk/backend/internal/errors"
	"github.com/kimhsiao/ledgerdesk/backend/internal/guard"
	"github.com/kimhsiao/ledgerdesk/backend/internal/logging"
	"github.com/kimhsiao/ledgerdesk/backend/internal/sync/conflict"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LEDGERDESK_"

// Config is the full engine configuration.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`
	// Encrypt seals stored queue and cache data with a machine-derived key.
	Encrypt bool `yaml:"encrypt"`

	Remote       RemoteConfig       `yaml:"remote"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Guards       GuardsConfig       `yaml:"guards"`
	Server       ServerConfig       `yaml:"server"`
}

// RemoteConfig points at the REST service records are synced with.
type RemoteConfig struct {
	BaseURL   string        `yaml:"base_url"`
	AuthToken string        `yaml:"auth_token"`
	Timeout   time.Duration `yaml:"timeout"`
}

// SyncConfig controls draining of the pending action queue.
type SyncConfig struct {
	Interval         time.Duration `yaml:"interval"`
	PassTimeout      time.Duration `yaml:"pass_timeout"`
	ConflictStrategy string        `yaml:"conflict_strategy"`
	// FoldPermanentFailures queues writes the server rejected outright.
	FoldPermanentFailures bool `yaml:"fold_permanent_failures"`
}

// ConnectivityConfig controls the health prober. An empty HealthURL means
// <remote.base_url>/health.
type ConnectivityConfig struct {
	HealthURL     string        `yaml:"health_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
	StartOnline   bool          `yaml:"start_online"`
}

// GuardsConfig holds the default guard settings and per integration point
// overrides keyed by resource name.
type GuardsConfig struct {
	Defaults     guard.Config            `yaml:"defaults"`
	Overrides    map[string]guard.Config `yaml:"overrides"`
	NotifyWindow time.Duration           `yaml:"notify_window"`
}

// ServerConfig is the local desktop API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		DataDir:  "./data",
		LogLevel: string(logging.LevelInfo),
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: 30 * time.Second,
		},
		Sync: SyncConfig{
			Interval:         30 * time.Second,
			PassTimeout:      5 * time.Minute,
			ConflictStrategy: string(conflict.ResolutionStrategyLastWriteWins),
		},
		Connectivity: ConnectivityConfig{
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  5 * time.Second,
			StartOnline:   true,
		},
		Guards: GuardsConfig{
			Defaults:     guard.RequestConfig(),
			Overrides:    map[string]guard.Config{},
			NotifyWindow: time.Minute,
		},
		Server: ServerConfig{Addr: "127.0.0.1:8090"},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment apply. A .env file in the working directory
// is read when present; variables already set in the process win.
func Load(path string) (*Config, error) {
	if err := LoadEnvFile(".env"); err != nil {
		return nil, err
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.ErrInvalid, "read config "+path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.ErrInvalid, "parse config "+path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnvFile loads variables from a dotenv file. A missing file is not an
// error.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errors.ErrInvalid, "load env file "+path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v, ok := lookup("DATA_DIR"); ok {
		c.DataDir = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("API_URL"); ok {
		c.Remote.BaseURL = v
	}
	if v, ok := lookup("API_TOKEN"); ok {
		c.Remote.AuthToken = v
	}
	if v, ok := lookup("HEALTH_URL"); ok {
		c.Connectivity.HealthURL = v
	}
	if v, ok := lookup("CONFLICT_STRATEGY"); ok {
		c.Sync.ConflictStrategy = v
	}
	if v, ok := lookup("ADDR"); ok {
		c.Server.Addr = v
	}

	var err error
	if v, ok := lookup("ENCRYPT"); ok {
		if c.Encrypt, err = strconv.ParseBool(v); err != nil {
			return envError("ENCRYPT", err)
		}
	}
	if v, ok := lookup("SYNC_INTERVAL"); ok {
		if c.Sync.Interval, err = time.ParseDuration(v); err != nil {
			return envError("SYNC_INTERVAL", err)
		}
	}
	if v, ok := lookup("PROBE_INTERVAL"); ok {
		if c.Connectivity.ProbeInterval, err = time.ParseDuration(v); err != nil {
			return envError("PROBE_INTERVAL", err)
		}
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
}

func envError(name string, err error) error {
	return errors.Wrap(errors.ErrInvalid, "invalid "+EnvPrefix+name, err)
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New(errors.ErrInvalid, "data_dir is required")
	}
	if err := validateURL("remote.base_url", c.Remote.BaseURL); err != nil {
		return err
	}
	if c.Connectivity.HealthURL != "" {
		if err := validateURL("connectivity.health_url", c.Connectivity.HealthURL); err != nil {
			return err
		}
	}
	if c.Sync.Interval <= 0 {
		return errors.New(errors.ErrInvalid, "sync.interval must be positive")
	}
	if c.Connectivity.ProbeInterval <= 0 {
		return errors.New(errors.ErrInvalid, "connectivity.probe_interval must be positive")
	}
	switch conflict.ResolutionStrategy(c.Sync.ConflictStrategy) {
	case conflict.ResolutionStrategyLastWriteWins, conflict.ResolutionStrategyServerWins, conflict.ResolutionStrategyManual:
	default:
		return errors.New(errors.ErrInvalid, "unknown sync.conflict_strategy "+c.Sync.ConflictStrategy)
	}
	if c.Guards.Defaults.MinInterval < 0 {
		return errors.New(errors.ErrInvalid, "guards.defaults.min_interval must not be negative")
	}
	for name, g := range c.Guards.Overrides {
		if g.MinInterval < 0 {
			return errors.New(errors.ErrInvalid, "guards.overrides."+name+".min_interval must not be negative")
		}
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return errors.New(errors.ErrInvalid, field+" must be an http(s) URL, got "+raw)
	}
	return nil
}

// GuardOverrides returns the per-resource guard settings with unset fields
// taken from the defaults.
func (c *Config) GuardOverrides() map[string]guard.Config {
	d := c.Guards.Defaults
	out := make(map[string]guard.Config, len(c.Guards.Overrides))
	for name, g := range c.Guards.Overrides {
		if g.MinInterval == 0 {
			g.MinInterval = d.MinInterval
		}
		if g.BackoffSeed == 0 {
			g.BackoffSeed = d.BackoffSeed
		}
		if g.BackoffCap == 0 {
			g.BackoffCap = d.BackoffCap
		}
		if g.FailureThreshold == 0 {
			g.FailureThreshold = d.FailureThreshold
		}
		if g.OpenDuration == 0 {
			g.OpenDuration = d.OpenDuration
		}
		out[name] = g
	}
	return out
}

// HealthURL returns the URL the connectivity prober polls.
func (c *Config) HealthURL() string {
	if c.Connectivity.HealthURL != "" {
		return c.Connectivity.HealthURL
	}
	u, err := url.JoinPath(c.Remote.BaseURL, "health")
	if err != nil {
		return c.Remote.BaseURL
	}
	return u
}
