package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/joebot/botmaster/internal/logging"
	"github.com/joebot/botmaster/internal/plugin"
)

// Validate checks the configuration for invalid or missing values.
func (c *Config) Validate() error {
	if errs := c.validate(); len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validate() []string {
	var errs []string

	// paths
	p := c.Paths
	if p.Credentials == "" {
		errs = append(errs, "paths.credentials is required")
	}
	if p.SystemPlugins != "" && p.SystemPlugins == p.UserPlugins {
		errs = append(errs, "paths.systemPlugins and paths.userPlugins must differ")
	}

	// defaults
	d := c.Defaults
	if d.Prefix != strings.TrimSpace(d.Prefix) {
		errs = append(errs, "defaults.prefix must not contain leading or trailing whitespace")
	}
	if d.CooldownSeconds < 0 {
		errs = append(errs, "defaults.cooldownSeconds must be non-negative")
	}
	if _, err := plugin.ParsePolicy(d.CommandSourcePolicy); err != nil {
		errs = append(errs, "defaults.commandSourcePolicy must be one of system, user, both")
	}

	// transport
	t := c.Transport
	if t.StartupAttempts < 0 {
		errs = append(errs, "transport.startupAttempts must be non-negative")
	}
	if t.StartupBackoffMs < 0 {
		errs = append(errs, "transport.startupBackoffMs must be non-negative")
	}
	if t.Concurrency < 0 {
		errs = append(errs, "transport.concurrency must be non-negative")
	}
	if t.Discord.Intents < 0 {
		errs = append(errs, "transport.discord.intents must be non-negative")
	}

	// plugins
	if c.Plugins.DebounceMs < 0 {
		errs = append(errs, "plugins.debounceMs must be non-negative")
	}

	// log
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, "log.level must be one of debug, info, warn, error")
	}

	return errs
}

// CheckUnknownFields walks the raw config map and returns paths of any keys
// that do not correspond to known Config struct fields.
func CheckUnknownFields(raw map[string]any) []string {
	result := checkUnknownFields(raw, reflect.TypeOf(Config{}), "")
	sort.Strings(result)
	return result
}

func checkUnknownFields(data map[string]any, t reflect.Type, prefix string) []string {
	t = derefType(t)

	switch t.Kind() {
	case reflect.Map:
		// Map keys are user-defined; check values only.
		elemType := derefType(t.Elem())
		if elemType.Kind() != reflect.Struct {
			return nil
		}
		var unknown []string
		for key, val := range data {
			if nested, ok := val.(map[string]any); ok {
				unknown = append(unknown, checkUnknownFields(nested, elemType, joinPath(prefix, key))...)
			}
		}
		return unknown

	case reflect.Struct:
		known := jsonFieldMap(t)
		var unknown []string
		for key, val := range data {
			ft, ok := known[key]
			if !ok {
				unknown = append(unknown, joinPath(prefix, key))
				continue
			}
			if nested, ok := val.(map[string]any); ok {
				unknown = append(unknown, checkUnknownFields(nested, ft, joinPath(prefix, key))...)
			}
		}
		return unknown

	default:
		return nil
	}
}

func jsonFieldMap(t reflect.Type) map[string]reflect.Type {
	m := make(map[string]reflect.Type, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "" || tag == "-" {
			continue
		}
		name := strings.Split(tag, ",")[0]
		if name != "" {
			m[name] = f.Type
		}
	}
	return m
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
