// Package plugin defines command and event plugins and the registry that
// merges system-wide and per-tenant command sets.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/joebot/botmaster/internal/bus"
)

// ErrInvalidPlugin marks a plugin that lacks required fields.
var ErrInvalidPlugin = errors.New("invalid plugin")

// Source tags where a command came from.
type Source string

const (
	SourceSystem Source = "system"
	SourceUser   Source = "user"
)

// Policy selects which plugin scopes a session's dispatcher draws from.
type Policy string

const (
	PolicySystem Policy = "system"
	PolicyUser   Policy = "user"
	PolicyBoth   Policy = "both"
)

// Policies lists every valid policy in display order.
var Policies = []Policy{PolicySystem, PolicyUser, PolicyBoth}

// Valid reports whether p is a known policy.
func (p Policy) Valid() bool {
	return lo.Contains(Policies, p)
}

// ParsePolicy parses a policy name. The empty string yields PolicyBoth.
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return PolicyBoth, nil
	}
	p := Policy(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown command source policy %q", s)
	}
	return p, nil
}

// Next cycles to the following policy, used by the dashboard.
func (p Policy) Next() Policy {
	i := lo.IndexOf(Policies, p)
	return Policies[(i+1)%len(Policies)]
}

// SessionInfo is the read-only view of a session handed to plugins.
type SessionInfo struct {
	Tenant          string
	Token           string
	DisplayName     string
	Prefix          string
	CooldownSeconds int
	Policy          Policy
	StartedAt       time.Time
}

// Context is passed to every plugin invocation.
type Context struct {
	Session  SessionInfo
	Event    *bus.Event
	Args     []string
	Commands CommandSet // resolved commands; nil for event plugins
	Sender   bus.Sender
}

// Reply answers in the conversation the event came from.
func (c *Context) Reply(ctx context.Context, text string) error {
	return bus.Deliver(ctx, c.Sender, bus.ReplyTo(c.Event, text))
}

// Handler runs a plugin. A returned error (or panic) counts as a failure.
type Handler func(ctx context.Context, pc *Context) error

// Command is a named command handler. Name is the merge key.
type Command struct {
	Name        string
	Description string
	Source      Source
	Handler     Handler
}

func (c *Command) validate() error {
	if c == nil || strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: command without name", ErrInvalidPlugin)
	}
	if strings.ContainsAny(c.Name, " \t\n") {
		return fmt.Errorf("%w: command name %q contains whitespace", ErrInvalidPlugin, c.Name)
	}
	if c.Handler == nil {
		return fmt.Errorf("%w: command %q has no handler", ErrInvalidPlugin, c.Name)
	}
	return nil
}

// EventPlugin handles every event whose type is in EventTypes.
type EventPlugin struct {
	Name       string
	EventTypes []string
	Handler    Handler
}

func (e *EventPlugin) validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event plugin", ErrInvalidPlugin)
	}
	types := lo.Compact(e.EventTypes)
	if len(types) == 0 {
		return fmt.Errorf("%w: event plugin %q subscribes to no event types", ErrInvalidPlugin, e.Name)
	}
	if e.Handler == nil {
		return fmt.Errorf("%w: event plugin %q has no handler", ErrInvalidPlugin, e.Name)
	}
	return nil
}

// Bundle is what a loader found in one plugin location.
type Bundle struct {
	Commands []*Command
	Events   []*EventPlugin
}

// CommandSet maps lower-cased command name to its command.
type CommandSet map[string]*Command

// Get looks up a command case-insensitively.
func (s CommandSet) Get(name string) (*Command, bool) {
	c, ok := s[strings.ToLower(name)]
	return c, ok
}

// Names returns the command names in sorted order.
func (s CommandSet) Names() []string {
	names := lo.Keys(s)
	sort.Strings(names)
	return names
}

// Merge applies tenant commands on top of system commands.
// A tenant command overrides a system command of the same name.
func Merge(system, tenant CommandSet) CommandSet {
	merged := make(CommandSet, len(system)+len(tenant))
	for name, c := range system {
		merged[name] = c
	}
	for name, c := range tenant {
		merged[name] = c
	}
	return merged
}
