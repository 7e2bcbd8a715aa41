package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration for botmaster.
type Config struct {
	Paths     PathsConfig     `json:"paths"`
	Defaults  SessionDefaults `json:"defaults"`
	Transport TransportConfig `json:"transport"`
	Plugins   PluginsConfig   `json:"plugins"`
	Log       LogConfig       `json:"log"`
}

// PathsConfig locates the files and directories botmaster reads.
// A leading "~/" expands to the home directory.
type PathsConfig struct {
	Credentials   string `json:"credentials" env:"BOTMASTER_CREDENTIALS"`
	Tenants       string `json:"tenants" env:"BOTMASTER_TENANTS"`
	SystemPlugins string `json:"systemPlugins" env:"BOTMASTER_PLUGINS_DIR"`
	UserPlugins   string `json:"userPlugins" env:"BOTMASTER_USER_PLUGINS_DIR"`
	LogFile       string `json:"logFile" env:"BOTMASTER_LOG_FILE"`
}

// SessionDefaults fill in credential entries that omit a setting.
type SessionDefaults struct {
	Prefix              string `json:"prefix" env:"BOTMASTER_DEFAULT_PREFIX"`
	CooldownSeconds     int    `json:"cooldownSeconds" env:"BOTMASTER_DEFAULT_COOLDOWN"`
	CommandSourcePolicy string `json:"commandSourcePolicy" env:"BOTMASTER_DEFAULT_POLICY"`
}

// TransportConfig holds session startup and Discord settings.
type TransportConfig struct {
	Discord          DiscordConfig `json:"discord"`
	StartupAttempts  int           `json:"startupAttempts" env:"BOTMASTER_STARTUP_ATTEMPTS"`
	StartupBackoffMs int           `json:"startupBackoffMs" env:"BOTMASTER_STARTUP_BACKOFF_MS"`
	Concurrency      int           `json:"concurrency" env:"BOTMASTER_STARTUP_CONCURRENCY"`
}

// StartupBackoff returns the first handshake retry delay.
func (t TransportConfig) StartupBackoff() time.Duration {
	return time.Duration(t.StartupBackoffMs) * time.Millisecond
}

// DiscordConfig holds Discord gateway settings.
type DiscordConfig struct {
	Intents    int `json:"intents" env:"BOTMASTER_DISCORD_INTENTS"`
	BufferSize int `json:"bufferSize" env:"BOTMASTER_DISCORD_BUFFER"`
}

// PluginsConfig controls plugin directory watching.
type PluginsConfig struct {
	Watch      bool `json:"watch" env:"BOTMASTER_PLUGINS_WATCH"`
	DebounceMs int  `json:"debounceMs" env:"BOTMASTER_PLUGINS_DEBOUNCE_MS"`
}

// Debounce returns the watcher's coalescing window.
func (p PluginsConfig) Debounce() time.Duration {
	return time.Duration(p.DebounceMs) * time.Millisecond
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `json:"level" env:"BOTMASTER_LOG_LEVEL"`
	Color bool   `json:"color" env:"BOTMASTER_LOG_COLOR"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Credentials:   "~/.botmaster/credentials.json",
			Tenants:       "~/.botmaster/tenants.json",
			SystemPlugins: "~/.botmaster/plugins",
			UserPlugins:   "~/.botmaster/user_plugins",
			LogFile:       "~/.botmaster/botmaster.log",
		},
		Defaults: SessionDefaults{
			Prefix:              "/",
			CooldownSeconds:     0,
			CommandSourcePolicy: "both",
		},
		Transport: TransportConfig{
			Discord: DiscordConfig{
				Intents:    37377,
				BufferSize: 64,
			},
			StartupAttempts:  3,
			StartupBackoffMs: 1000,
			Concurrency:      4,
		},
		Plugins: PluginsConfig{
			Watch:      true,
			DebounceMs: 500,
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// CredentialsPath returns the expanded credentials file path.
func (c *Config) CredentialsPath() string { return expandHome(c.Paths.Credentials) }

// TenantsPath returns the expanded tenant settings file path.
func (c *Config) TenantsPath() string { return expandHome(c.Paths.Tenants) }

// SystemPluginsDir returns the expanded system plugin directory.
func (c *Config) SystemPluginsDir() string { return expandHome(c.Paths.SystemPlugins) }

// UserPluginsDir returns the expanded root of the per-tenant plugin directories.
func (c *Config) UserPluginsDir() string { return expandHome(c.Paths.UserPlugins) }

// LogFilePath returns the expanded log file path used in dashboard mode.
func (c *Config) LogFilePath() string { return expandHome(c.Paths.LogFile) }

// expandHome resolves "~/.botmaster/..." against DataDir and any other
// "~/..." against the home directory.
func expandHome(path string) string {
	if rest, ok := strings.CutPrefix(path, "~/.botmaster/"); ok {
		return filepath.Join(DataDir(), rest)
	}
	if len(path) > 1 && path[:2] == "~/" {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}
