// Package session runs one listening bot per tenant credential and keeps
// the process-wide table of live sessions.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joebot/botmaster/internal/bus"
	"github.com/joebot/botmaster/internal/cooldown"
	"github.com/joebot/botmaster/internal/dispatch"
	"github.com/joebot/botmaster/internal/plugin"
	"github.com/joebot/botmaster/internal/transport"
)

// State is a session's lifecycle stage.
type State int32

const (
	StateStarting State = iota
	StateListening
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	default:
		return "terminated"
	}
}

// Config holds the settings that may change while a session runs.
type Config struct {
	Prefix          string
	CooldownSeconds int
	Policy          plugin.Policy
}

// Session is one authenticated connection listening for events.
type Session struct {
	ID          string
	Tenant      string
	Token       string
	DisplayName string
	StartedAt   time.Time

	conn      transport.Conn
	router    *dispatch.Router
	commands  *dispatch.Dispatcher
	cooldowns *cooldown.Tracker
	log       *slog.Logger

	mu  sync.RWMutex
	cfg Config

	state   atomic.Int32
	handled atomic.Int64

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// Info returns a snapshot of the session for plugins.
func (s *Session) Info() plugin.SessionInfo {
	cfg := s.Config()
	return plugin.SessionInfo{
		Tenant:          s.Tenant,
		Token:           s.Token,
		DisplayName:     s.DisplayName,
		Prefix:          cfg.Prefix,
		CooldownSeconds: cfg.CooldownSeconds,
		Policy:          cfg.Policy,
		StartedAt:       s.StartedAt,
	}
}

// Config returns the current settings.
func (s *Session) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Cooldowns returns the session's tracker. Only the event loop touches it.
func (s *Session) Cooldowns() *cooldown.Tracker { return s.cooldowns }

// Send delivers a reply through the session's connection.
func (s *Session) Send(ctx context.Context, r *bus.Reply) error {
	return s.conn.Send(ctx, r)
}

// State returns the lifecycle stage.
func (s *Session) State() State { return State(s.state.Load()) }

// Handled returns how many events the session has processed.
func (s *Session) Handled() int64 { return s.handled.Load() }

// Uptime returns how long the session has been running.
func (s *Session) Uptime() time.Duration { return time.Since(s.StartedAt) }

// Done is closed when the event loop has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// run is the event loop. onClosed runs when the transport ends the stream
// on its own, not when the session is stopped.
func (s *Session) run(ctx context.Context, onClosed func(*Session)) {
	defer close(s.done)
	defer s.state.Store(int32(StateTerminated))

	s.log.Info("Session listening")
	events := s.conn.Events()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Session stopped")
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return
				}
				s.log.Warn("Transport closed the event stream")
				if onClosed != nil {
					onClosed(s)
				}
				return
			}
			s.handle(ctx, ev)
		}
	}
}

// handle processes one event to completion before the next is taken.
func (s *Session) handle(ctx context.Context, ev *bus.Event) {
	defer s.handled.Add(1)
	s.router.Dispatch(ctx, s, ev)
	if ev.IsMessage() {
		s.commands.Handle(ctx, s, ev)
	}
}

// Stop cancels the event loop, waits for the in-flight event to finish and
// closes the transport. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		// The loop exits between events; closing the transport first
		// unblocks a handler stuck in Send.
		_ = s.conn.Close()
		<-s.done
	})
}
