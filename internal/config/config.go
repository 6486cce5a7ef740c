package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	// Driver is "sqlite" or "memory". Memory keeps nothing across restarts
	// and exists for tests and demos.
	Driver string `yaml:"driver" json:"driver"`
	// Path is the SQLite database file (sqlite driver only).
	Path string `yaml:"path" json:"path"`
	// BusyTimeoutMS is the SQLite busy timeout in milliseconds.
	BusyTimeoutMS int `yaml:"busy_timeout_ms" json:"busy_timeout_ms"`
}

// ReminderConfig controls local reminder scheduling.
type ReminderConfig struct {
	// Enabled acts as the notification permission grant; when false,
	// reminder scheduling is skipped entirely.
	Enabled bool `yaml:"enabled" json:"enabled"`
	// DefaultOffsetMinutes is the reminder offset suggested by the event
	// form when none was chosen.
	DefaultOffsetMinutes int `yaml:"default_offset_minutes" json:"default_offset_minutes"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the calendar API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as the engine's display zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// DefaultView is the view mode the calendar opens in:
	// "day", "week", "month" or "agenda".
	DefaultView string `yaml:"default_view" json:"default_view"`

	// AgendaDays is the forward-looking span of the agenda view.
	AgendaDays int `yaml:"agenda_days" json:"agenda_days"`

	// RefreshCron is a cron-style schedule string used for the periodic
	// window refresh (the midnight rollover uses its own fixed schedule).
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel controls log verbosity (trace/debug/info/warn/error).
	LogLevel string `yaml:"log_level" json:"log_level"`

	Store     StoreConfig    `yaml:"store" json:"store"`
	Reminders ReminderConfig `yaml:"reminders" json:"reminders"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "UTC",
		DefaultView: "week",
		AgendaDays:  30,
		RefreshCron: "*/15 * * * *",
		LogLevel:    "info",
		Store: StoreConfig{
			Driver:        "sqlite",
			Path:          "/var/lib/crmcal/crmcal.db",
			BusyTimeoutMS: 5000,
		},
		Reminders: ReminderConfig{
			Enabled:              true,
			DefaultOffsetMinutes: 15,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	switch c.DefaultView {
	case "day", "week", "month", "agenda":
		// ok
	default:
		c.DefaultView = "week"
	}
	if c.AgendaDays <= 0 {
		c.AgendaDays = 30
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	switch c.Store.Driver {
	case "sqlite", "memory":
		// ok
	default:
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "/var/lib/crmcal/crmcal.db"
	}
	if c.Store.BusyTimeoutMS <= 0 {
		c.Store.BusyTimeoutMS = 5000
	}
	if c.Reminders.DefaultOffsetMinutes <= 0 {
		c.Reminders.DefaultOffsetMinutes = 15
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".crmcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	// Set permissions to 0600 on temp file before rename.
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	// Rename over the target path.
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
