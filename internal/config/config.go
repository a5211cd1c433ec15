// Package config loads the worklog configuration from defaults, the
// config file, and WORKLOG_* environment variables, and validates it
// before the binary wires any component. Engine packages keep their own
// plain config structs; this tree maps onto them in the composition
// root.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete worklog configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Lease     LeaseConfig     `mapstructure:"lease"`
	Switch    SwitchConfig    `mapstructure:"switch"`
	Terminate TerminateConfig `mapstructure:"terminate"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// StorageConfig selects and tunes the persistence backend.
type StorageConfig struct {
	// Driver is the backend: "sqlite" (durable, default) or "memory"
	// (ephemeral, everything is lost on exit).
	Driver string `mapstructure:"driver"`
	// Path is the sqlite database file. Empty means the default under
	// the user data directory. Supports ~ for home directory expansion.
	Path string `mapstructure:"path"`
	// PoolSize is the number of pooled sqlite connections (default: 4)
	PoolSize int `mapstructure:"pool_size"`
}

// LeaseConfig tunes session exclusivity.
type LeaseConfig struct {
	// TimeoutMinutes is how long a session stays exclusively active
	// without activity before its lease lapses (default: 30)
	TimeoutMinutes int `mapstructure:"timeout_minutes"`
}

// SwitchConfig tunes the automatic context-switching engine.
type SwitchConfig struct {
	// Policy is what happens with a positive switch decision:
	// "auto", "manual", "prompt", or "disabled" (default: "auto")
	Policy string `mapstructure:"policy"`
	// ConfidenceThreshold is the minimum confidence a switch decision
	// needs to survive evaluation, in [0, 1] (default: 0.7)
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	// MaxSwitchesPerHour bounds delivered switch decisions in the
	// trailing hour (default: 10)
	MaxSwitchesPerHour int `mapstructure:"max_switches_per_hour"`
	// DebounceMs is the quiet period a burst of context signals must
	// observe before evaluation, in milliseconds (default: 2000)
	DebounceMs int `mapstructure:"debounce_ms"`
	// ExcludedPathPrefixes lists path prefixes whose signals are
	// dropped before evaluation
	ExcludedPathPrefixes []string `mapstructure:"excluded_path_prefixes"`
	// MaxPendingPrompts caps held prompt-policy decisions (default: 16)
	MaxPendingPrompts int `mapstructure:"max_pending_prompts"`
}

// TerminateConfig tunes session termination cleanup.
type TerminateConfig struct {
	// CleanupTimeoutSeconds bounds the best-effort cleanup phase of a
	// termination (default: 5)
	CleanupTimeoutSeconds int `mapstructure:"cleanup_timeout_seconds"`
	// MaxBackupsPerSession is how many pre-termination snapshots are
	// kept per session; older ones are pruned (default: 10)
	MaxBackupsPerSession int `mapstructure:"max_backups_per_session"`
}

// WatchConfig tunes the filesystem signal source.
type WatchConfig struct {
	// Enabled turns the watcher on; with no roots it does nothing
	// (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Roots are the directories watched recursively for activity
	Roots []string `mapstructure:"roots"`
	// IgnoreGlobs are base-name patterns whose events are dropped
	// (default: editor and OS noise files)
	IgnoreGlobs []string `mapstructure:"ignore_globs"`
	// DebounceMs is the fs-event coalescing window in milliseconds,
	// below the engine's own debounce (default: 50)
	DebounceMs int `mapstructure:"debounce_ms"`
}

// ServerConfig tunes the MCP server surface.
type ServerConfig struct {
	// HTTPAddr enables the HTTP/SSE transport on the given address
	// (e.g. ":8080"). Empty means stdio only (default: "")
	HTTPAddr string `mapstructure:"http_addr"`
}

// LoggingConfig controls the process log.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error"
	// (default: "info")
	Level string `mapstructure:"level"`
}

// Timeout returns the lease timeout as a time.Duration.
func (c *LeaseConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMinutes) * time.Minute
}

// Debounce returns the engine debounce delay as a time.Duration.
func (c *SwitchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// CleanupTimeout returns the cleanup deadline as a time.Duration.
func (c *TerminateConfig) CleanupTimeout() time.Duration {
	return time.Duration(c.CleanupTimeoutSeconds) * time.Second
}

// Debounce returns the fs coalescing window as a time.Duration.
func (c *WatchConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// ResolvePath returns the database file path, falling back to the
// default under the user data directory and expanding a leading ~.
func (c *StorageConfig) ResolvePath() string {
	path := c.Path
	if path == "" {
		return filepath.Join(DataDir(), "worklog.db")
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = home
		}
	}
	return path
}

// Default returns a Config with the shipped default values.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Driver:   "sqlite",
			Path:     "", // Empty means DataDir()/worklog.db
			PoolSize: 4,
		},
		Lease: LeaseConfig{
			TimeoutMinutes: 30,
		},
		Switch: SwitchConfig{
			Policy:               "auto",
			ConfidenceThreshold:  0.7,
			MaxSwitchesPerHour:   10,
			DebounceMs:           2000,
			ExcludedPathPrefixes: []string{},
			MaxPendingPrompts:    16,
		},
		Terminate: TerminateConfig{
			CleanupTimeoutSeconds: 5,
			MaxBackupsPerSession:  10,
		},
		Watch: WatchConfig{
			Enabled:     true,
			Roots:       []string{},
			IgnoreGlobs: []string{"*.tmp", "*.swp", "*~", ".DS_Store"},
			DebounceMs:  50,
		},
		Server: ServerConfig{
			HTTPAddr: "",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers the default values with viper.
func SetDefaults() {
	defaults := Default()

	// Storage defaults
	viper.SetDefault("storage.driver", defaults.Storage.Driver)
	viper.SetDefault("storage.path", defaults.Storage.Path)
	viper.SetDefault("storage.pool_size", defaults.Storage.PoolSize)

	// Lease defaults
	viper.SetDefault("lease.timeout_minutes", defaults.Lease.TimeoutMinutes)

	// Switch defaults
	viper.SetDefault("switch.policy", defaults.Switch.Policy)
	viper.SetDefault("switch.confidence_threshold", defaults.Switch.ConfidenceThreshold)
	viper.SetDefault("switch.max_switches_per_hour", defaults.Switch.MaxSwitchesPerHour)
	viper.SetDefault("switch.debounce_ms", defaults.Switch.DebounceMs)
	viper.SetDefault("switch.excluded_path_prefixes", defaults.Switch.ExcludedPathPrefixes)
	viper.SetDefault("switch.max_pending_prompts", defaults.Switch.MaxPendingPrompts)

	// Terminate defaults
	viper.SetDefault("terminate.cleanup_timeout_seconds", defaults.Terminate.CleanupTimeoutSeconds)
	viper.SetDefault("terminate.max_backups_per_session", defaults.Terminate.MaxBackupsPerSession)

	// Watch defaults
	viper.SetDefault("watch.enabled", defaults.Watch.Enabled)
	viper.SetDefault("watch.roots", defaults.Watch.Roots)
	viper.SetDefault("watch.ignore_globs", defaults.Watch.IgnoreGlobs)
	viper.SetDefault("watch.debounce_ms", defaults.Watch.DebounceMs)

	// Server defaults
	viper.SetDefault("server.http_addr", defaults.Server.HTTPAddr)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
}

// Load reads the configuration from viper into a Config struct and
// validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "worklog")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".worklog"
	}
	return filepath.Join(home, ".config", "worklog")
}

// ConfigFile returns the path to the config file.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "worklog.yaml")
}

// DataDir returns the path to the user's data directory, where the
// default database lives.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "worklog")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".worklog"
	}
	return filepath.Join(home, ".local", "share", "worklog")
}
