package dispatch

import (
	"context"
	"log/slog"

	"github.com/joebot/botmaster/internal/bus"
	"github.com/joebot/botmaster/internal/plugin"
)

// EventSource returns the event plugins subscribed to a type.
type EventSource interface {
	EventPlugins(eventType string) []*plugin.EventPlugin
}

// Router runs event plugins for every inbound event.
type Router struct {
	events EventSource
	log    *slog.Logger
}

// NewRouter creates a router over events.
func NewRouter(events EventSource, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{events: events, log: log}
}

// Dispatch invokes each subscribed plugin in order. A failing plugin is
// logged and the next one still runs. Returns the number of failures.
func (r *Router) Dispatch(ctx context.Context, s Session, ev *bus.Event) int {
	plugins := r.events.EventPlugins(ev.Type)
	if len(plugins) == 0 {
		return 0
	}
	info := s.Info()
	failed := 0
	for _, p := range plugins {
		pc := &plugin.Context{Session: info, Event: ev, Sender: s}
		if err := invoke(ctx, p.Handler, pc); err != nil {
			failed++
			r.log.Error("Event plugin failed",
				"tenant", info.Tenant,
				"bot", info.DisplayName,
				"eventType", ev.Type,
				"plugin", p.Name,
				"err", err,
				"body", ev.Body)
		}
	}
	return failed
}
