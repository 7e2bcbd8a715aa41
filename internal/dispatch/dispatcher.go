package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joebot/botmaster/internal/bus"
	"github.com/joebot/botmaster/internal/cooldown"
	"github.com/joebot/botmaster/internal/plugin"
	"github.com/joebot/botmaster/internal/tenant"
)

// CommandResolver builds the command set for a tenant and policy.
type CommandResolver interface {
	Resolve(tenantID string, policy plugin.Policy) plugin.CommandSet
}

// Outcome describes what Handle did with an event.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeNotFound
	OutcomeCoolingDown
	OutcomeExecuted
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNotFound:
		return "not_found"
	case OutcomeCoolingDown:
		return "cooling_down"
	case OutcomeExecuted:
		return "executed"
	case OutcomeFailed:
		return "failed"
	default:
		return "ignored"
	}
}

// CooldownMessage is the reply sent while a command is cooling down.
func CooldownMessage(seconds int) string {
	return fmt.Sprintf("⏳ Please wait %d seconds before using this command again.", seconds)
}

// ErrorMessage is the reply sent when a command handler fails.
func ErrorMessage(err error) string {
	return "❌ An error occurred: " + err.Error()
}

// Dispatcher executes prefixed commands found in message events.
type Dispatcher struct {
	commands CommandResolver
	settings tenant.Settings
	now      func() time.Time
	log      *slog.Logger
}

// NewDispatcher creates a dispatcher. settings may be nil.
func NewDispatcher(commands CommandResolver, settings tenant.Settings, log *slog.Logger) *Dispatcher {
	if settings == nil {
		settings = tenant.Static{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{commands: commands, settings: settings, now: time.Now, log: log}
}

// WithClock replaces the time source.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Parse splits text into a lower-cased command name and its arguments.
// ok is false when text does not start with prefix.
func Parse(text, prefix string) (name string, args []string, ok bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return "", nil, false
	}
	fields := strings.Fields(text[len(prefix):])
	if len(fields) == 0 {
		return "", nil, true
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// Handle processes one message event for s.
func (d *Dispatcher) Handle(ctx context.Context, s Session, ev *bus.Event) Outcome {
	info := s.Info()
	name, args, ok := Parse(ev.Body, info.Prefix)
	if !ok {
		return OutcomeIgnored
	}

	d.log.Debug("Command received", "tenant", info.Tenant, "bot", info.DisplayName, "command", name, "sender", ev.SenderID, "body", ev.Body)

	commands := d.commands.Resolve(info.Tenant, info.Policy)
	c, found := commands.Get(name)
	if !found {
		d.reply(ctx, s, ev, d.settings.NotFoundMessage(info.Tenant))
		return OutcomeNotFound
	}

	now := d.now()
	window := time.Duration(info.CooldownSeconds) * time.Second
	if remaining := s.Cooldowns().Remaining(name, window, now); remaining > 0 {
		d.reply(ctx, s, ev, CooldownMessage(cooldown.WaitSeconds(remaining)))
		return OutcomeCoolingDown
	}

	pc := &plugin.Context{Session: info, Event: ev, Args: args, Commands: commands, Sender: s}
	if err := invoke(ctx, c.Handler, pc); err != nil {
		d.log.Error("Command failed", "tenant", info.Tenant, "bot", info.DisplayName, "command", name, "err", err)
		d.reply(ctx, s, ev, ErrorMessage(err))
		return OutcomeFailed
	}

	s.Cooldowns().Mark(name, now)
	d.log.Info("Command executed", "bot", info.DisplayName, "command", name, "source", c.Source)
	return OutcomeExecuted
}

func (d *Dispatcher) reply(ctx context.Context, s Session, ev *bus.Event, text string) {
	if err := bus.Deliver(ctx, s, bus.ReplyTo(ev, text)); err != nil {
		info := s.Info()
		d.log.Warn("Reply not delivered", "tenant", info.Tenant, "bot", info.DisplayName, "thread", ev.ThreadID, "err", err, "reply", text)
	}
}
