package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Loader discovers plugins in the system and tenant locations.
type Loader interface {
	LoadSystem(ctx context.Context) (Bundle, error)
	LoadTenant(ctx context.Context, tenantID string) (Bundle, error)
}

// Registry holds system and per-tenant command sets plus the global
// event plugin index. It is safe for concurrent use: loads replace whole
// sets under the write lock, dispatch reads under the read lock.
type Registry struct {
	loader Loader
	log    *slog.Logger

	mu      sync.RWMutex
	system  CommandSet
	tenants map[string]CommandSet
	events  map[string][]*EventPlugin
}

// NewRegistry creates an empty registry backed by loader.
func NewRegistry(loader Loader, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		loader:  loader,
		log:     log,
		system:  CommandSet{},
		tenants: make(map[string]CommandSet),
		events:  make(map[string][]*EventPlugin),
	}
}

// LoadSystemPlugins scans the system location and replaces the system
// command set and the event index. On error the previous sets are kept.
func (r *Registry) LoadSystemPlugins(ctx context.Context) error {
	b, err := r.loader.LoadSystem(ctx)
	if err != nil {
		return fmt.Errorf("load system plugins: %w", err)
	}
	commands := r.buildCommandSet(b.Commands, SourceSystem, "system")
	events := r.buildEventIndex(b.Events)

	r.mu.Lock()
	r.system = commands
	r.events = events
	r.mu.Unlock()

	r.log.Info("System plugins loaded", "commands", len(commands), "eventTypes", len(events))
	return nil
}

// LoadTenantPlugins scans the tenant's location and replaces its command set.
func (r *Registry) LoadTenantPlugins(ctx context.Context, tenantID string) error {
	b, err := r.loader.LoadTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load plugins for tenant %s: %w", tenantID, err)
	}
	if len(b.Events) > 0 {
		r.log.Warn("Tenant event plugins ignored, event plugins are global", "tenant", tenantID, "count", len(b.Events))
	}
	commands := r.buildCommandSet(b.Commands, SourceUser, tenantID)

	r.mu.Lock()
	r.tenants[tenantID] = commands
	r.mu.Unlock()

	r.log.Info("Tenant plugins loaded", "tenant", tenantID, "commands", len(commands))
	return nil
}

// EnsureTenant loads the tenant's plugins unless they are already loaded.
func (r *Registry) EnsureTenant(ctx context.Context, tenantID string) error {
	r.mu.RLock()
	_, ok := r.tenants[tenantID]
	r.mu.RUnlock()
	if ok {
		return nil
	}
	return r.LoadTenantPlugins(ctx, tenantID)
}

// Reload rescans the system location and every tenant seen so far.
// Failures are collected; a failing scope keeps its previous set.
func (r *Registry) Reload(ctx context.Context) error {
	var errs []string
	if err := r.LoadSystemPlugins(ctx); err != nil {
		errs = append(errs, err.Error())
	}
	for _, tenant := range r.Tenants() {
		if err := r.LoadTenantPlugins(ctx, tenant); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("reload plugins:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Resolve builds the command set a session with the given policy sees.
func (r *Registry) Resolve(tenantID string, policy Policy) CommandSet {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch policy {
	case PolicySystem:
		return Merge(r.system, nil)
	case PolicyUser:
		return Merge(nil, r.tenants[tenantID])
	default:
		return Merge(r.system, r.tenants[tenantID])
	}
}

// EventPlugins returns the plugins subscribed to eventType in registration order.
func (r *Registry) EventPlugins(eventType string) []*EventPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	plugins := r.events[eventType]
	out := make([]*EventPlugin, len(plugins))
	copy(out, plugins)
	return out
}

// EventTypes returns the subscribed event types, sorted.
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := lo.Keys(r.events)
	sort.Strings(types)
	return types
}

// Tenants returns the tenants whose plugins have been loaded, sorted.
func (r *Registry) Tenants() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tenants := lo.Keys(r.tenants)
	sort.Strings(tenants)
	return tenants
}

func (r *Registry) buildCommandSet(cmds []*Command, source Source, scope string) CommandSet {
	set := make(CommandSet, len(cmds))
	for _, c := range cmds {
		if err := c.validate(); err != nil {
			r.log.Warn("Skipping command plugin", "scope", scope, "err", err)
			continue
		}
		name := strings.ToLower(c.Name)
		if _, dup := set[name]; dup {
			r.log.Warn("Duplicate command plugin, later one wins", "scope", scope, "command", name)
		}
		tagged := *c
		tagged.Name = name
		tagged.Source = source
		set[name] = &tagged
	}
	return set
}

func (r *Registry) buildEventIndex(plugins []*EventPlugin) map[string][]*EventPlugin {
	index := make(map[string][]*EventPlugin)
	for _, p := range plugins {
		if err := p.validate(); err != nil {
			r.log.Warn("Skipping event plugin", "err", err)
			continue
		}
		for _, t := range lo.Uniq(lo.Compact(p.EventTypes)) {
			index[t] = append(index[t], p)
		}
	}
	return index
}
