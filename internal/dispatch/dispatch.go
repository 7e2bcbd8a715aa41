// Package dispatch turns inbound events into plugin invocations.
//
// Router fans every event out to the event plugins subscribed to its type.
// Dispatcher parses message text against the session prefix, resolves the
// command, enforces the cooldown window and runs the handler. Both contain
// plugin failures: nothing a plugin does can stop the session loop.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/joebot/botmaster/internal/bus"
	"github.com/joebot/botmaster/internal/cooldown"
	"github.com/joebot/botmaster/internal/plugin"
)

// ErrPanic wraps a value recovered from a panicking plugin.
var ErrPanic = errors.New("plugin panicked")

// Session is what dispatching needs from a running session.
type Session interface {
	bus.Sender
	Info() plugin.SessionInfo
	Cooldowns() *cooldown.Tracker
}

// invoke runs h, converting a panic into an error.
func invoke(ctx context.Context, h plugin.Handler, pc *plugin.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return h(ctx, pc)
}
