package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

// HomeEnv relocates the data directory.
const HomeEnv = "BOTMASTER_HOME"

// ConfigPath returns the default config file path.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.json")
}

// DataDir returns the botmaster data directory, $BOTMASTER_HOME when set.
func DataDir() string {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return dir
	}
	return filepath.Join(homeDir(), ".botmaster")
}

// Load reads configuration from disk, falling back to defaults.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads configuration from path, applies BOTMASTER_* environment
// overrides and validates the result. A missing file yields the defaults.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, fmt.Errorf("read config: %w", err)
	default:
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
		if unknown := CheckUnknownFields(raw); len(unknown) > 0 {
			slog.Warn("Unknown config fields ignored", "path", path, "fields", strings.Join(unknown, ", "))
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return cfg, fmt.Errorf("apply config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	// Apply defaults for zero values
	d := DefaultConfig()
	if cfg.Paths.Credentials == "" {
		cfg.Paths.Credentials = d.Paths.Credentials
	}
	if cfg.Paths.Tenants == "" {
		cfg.Paths.Tenants = d.Paths.Tenants
	}
	if cfg.Paths.SystemPlugins == "" {
		cfg.Paths.SystemPlugins = d.Paths.SystemPlugins
	}
	if cfg.Paths.UserPlugins == "" {
		cfg.Paths.UserPlugins = d.Paths.UserPlugins
	}
	if cfg.Paths.LogFile == "" {
		cfg.Paths.LogFile = d.Paths.LogFile
	}
	if cfg.Defaults.Prefix == "" {
		cfg.Defaults.Prefix = d.Defaults.Prefix
	}
	if cfg.Defaults.CommandSourcePolicy == "" {
		cfg.Defaults.CommandSourcePolicy = d.Defaults.CommandSourcePolicy
	}
	if cfg.Transport.Discord.Intents == 0 {
		cfg.Transport.Discord.Intents = d.Transport.Discord.Intents
	}
	if cfg.Transport.Discord.BufferSize == 0 {
		cfg.Transport.Discord.BufferSize = d.Transport.Discord.BufferSize
	}
	if cfg.Transport.StartupAttempts == 0 {
		cfg.Transport.StartupAttempts = d.Transport.StartupAttempts
	}
	if cfg.Transport.StartupBackoffMs == 0 {
		cfg.Transport.StartupBackoffMs = d.Transport.StartupBackoffMs
	}
	if cfg.Transport.Concurrency == 0 {
		cfg.Transport.Concurrency = d.Transport.Concurrency
	}
	if cfg.Plugins.DebounceMs == 0 {
		cfg.Plugins.DebounceMs = d.Plugins.DebounceMs
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = d.Log.Level
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes configuration to the default path.
func Save(cfg *Config) error {
	return SaveTo(cfg, ConfigPath())
}

// SaveTo writes configuration to a specific path.
func SaveTo(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(out, '\n'), 0o644)
}

// Upgrade reads the existing config file, deep-merges it on top of
// DefaultConfig (local values win), and saves the result.
// New fields from defaults are added; existing user values are preserved.
func Upgrade() (*Config, error) {
	return UpgradeAt(ConfigPath())
}

// UpgradeAt is Upgrade for the config file at path.
func UpgradeAt(path string) (*Config, error) {
	defaultData, err := json.Marshal(DefaultConfig())
	if err != nil {
		return nil, err
	}
	var defaultMap map[string]any
	if err := json.Unmarshal(defaultData, &defaultMap); err != nil {
		return nil, err
	}

	localData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var localMap map[string]any
	if err := json.Unmarshal(localData, &localMap); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	merged := deepMerge(defaultMap, localMap)

	// Re-serialize through the struct to drop unknown keys
	cfg := DefaultConfig()
	reData, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(reData, cfg); err != nil {
		return nil, fmt.Errorf("apply merged config: %w", err)
	}

	if err := SaveTo(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// deepMerge recursively merges src into dst. Values from src take priority.
// For nested maps, merge recursively. For all other types, src wins.
func deepMerge(dst, src map[string]any) map[string]any {
	result := make(map[string]any, len(dst))
	for k, v := range dst {
		result[k] = v
	}
	for k, srcVal := range src {
		dstVal, exists := result[k]
		if !exists {
			result[k] = srcVal
			continue
		}
		dstMap, dstOK := dstVal.(map[string]any)
		srcMap, srcOK := srcVal.(map[string]any)
		if dstOK && srcOK {
			result[k] = deepMerge(dstMap, srcMap)
		} else {
			result[k] = srcVal
		}
	}
	return result
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp"
	}
	return home
}
