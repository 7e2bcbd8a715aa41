package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// DirLoader loads compiled-in builtins plus declarative plugin files.
// System files live in SystemDir, tenant files in TenantDir/<tenantID>.
type DirLoader struct {
	SystemDir string
	TenantDir string
	Builtins  Bundle
	Log       *slog.Logger
}

// fileSpec is the on-disk shape of a declarative plugin.
// A file with eventTypes is an event plugin, otherwise a command.
type fileSpec struct {
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	EventTypes  []string `json:"eventTypes" yaml:"eventTypes"`
	Contains    string   `json:"contains" yaml:"contains"`
	Reply       string   `json:"reply" yaml:"reply"`
}

// replyData is exposed to reply templates.
type replyData struct {
	Args   []string
	Sender string
	Body   string
	Tenant string
	Bot    string
	Prefix string
	Thread string
}

var templateFuncs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
}

// LoadSystem returns the builtins followed by the system directory's files.
func (l *DirLoader) LoadSystem(ctx context.Context) (Bundle, error) {
	b, err := l.loadDir(ctx, l.SystemDir)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{
		Commands: append(append([]*Command{}, l.Builtins.Commands...), b.Commands...),
		Events:   append(append([]*EventPlugin{}, l.Builtins.Events...), b.Events...),
	}, nil
}

// LoadTenant returns the plugin files found in the tenant's directory.
func (l *DirLoader) LoadTenant(ctx context.Context, tenantID string) (Bundle, error) {
	dir, err := TenantDir(l.TenantDir, tenantID)
	if err != nil {
		return Bundle{}, err
	}
	return l.loadDir(ctx, dir)
}

// TenantDir returns the plugin directory of a tenant under root.
func TenantDir(root, tenantID string) (string, error) {
	if tenantID == "" || tenantID == "." || tenantID == ".." || filepath.Base(tenantID) != tenantID {
		return "", fmt.Errorf("invalid tenant id %q", tenantID)
	}
	return filepath.Join(root, tenantID), nil
}

func (l *DirLoader) logger() *slog.Logger {
	if l.Log != nil {
		return l.Log
	}
	return slog.Default()
}

// loadDir parses every plugin file in dir. A missing directory is empty;
// unparsable files are skipped and logged.
func (l *DirLoader) loadDir(ctx context.Context, dir string) (Bundle, error) {
	if dir == "" {
		return Bundle{}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return Bundle{}, nil
		}
		return Bundle{}, fmt.Errorf("read plugin dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b Bundle
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return Bundle{}, err
		}
		if e.IsDir() || !isPluginFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		cmd, ev, err := ParseFile(path)
		if err != nil {
			l.logger().Warn("Skipping plugin file", "path", path, "err", err)
			continue
		}
		if cmd != nil {
			b.Commands = append(b.Commands, cmd)
		}
		if ev != nil {
			b.Events = append(b.Events, ev)
		}
	}
	return b, nil
}

func isPluginFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// ParseFile reads one declarative plugin file. Exactly one of the
// returned plugins is non-nil on success.
func ParseFile(path string) (*Command, *EventPlugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read plugin: %w", err)
	}

	var spec fileSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &spec)
	default:
		err = yaml.Unmarshal(data, &spec)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidPlugin, filepath.Base(path), err)
	}

	if strings.TrimSpace(spec.Reply) == "" {
		return nil, nil, fmt.Errorf("%w: %s has no reply", ErrInvalidPlugin, filepath.Base(path))
	}
	tmpl, err := template.New(filepath.Base(path)).Funcs(templateFuncs).Option("missingkey=zero").Parse(spec.Reply)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reply template: %v", ErrInvalidPlugin, err)
	}

	if len(spec.EventTypes) > 0 {
		name := spec.Name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		}
		ev := &EventPlugin{
			Name:       name,
			EventTypes: spec.EventTypes,
			Handler:    templateHandler(tmpl, spec.Contains),
		}
		if err := ev.validate(); err != nil {
			return nil, nil, err
		}
		return nil, ev, nil
	}

	cmd := &Command{
		Name:        spec.Name,
		Description: spec.Description,
		Handler:     templateHandler(tmpl, ""),
	}
	if err := cmd.validate(); err != nil {
		return nil, nil, err
	}
	return cmd, nil, nil
}

func templateHandler(tmpl *template.Template, contains string) Handler {
	contains = strings.ToLower(contains)
	return func(ctx context.Context, pc *Context) error {
		if contains != "" && !strings.Contains(strings.ToLower(pc.Event.Body), contains) {
			return nil
		}
		var buf bytes.Buffer
		err := tmpl.Execute(&buf, replyData{
			Args:   pc.Args,
			Sender: pc.Event.SenderID,
			Body:   pc.Event.Body,
			Tenant: pc.Session.Tenant,
			Bot:    pc.Session.DisplayName,
			Prefix: pc.Session.Prefix,
			Thread: pc.Event.ThreadID,
		})
		if err != nil {
			return fmt.Errorf("render reply: %w", err)
		}
		out := strings.TrimSpace(buf.String())
		if out == "" {
			return nil
		}
		return pc.Reply(ctx, out)
	}
}
