package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joebot/botmaster/internal/bus"
)

// Memory is an in-process transport. Connections are keyed by the token in
// authState; events are injected with Push and replies recorded.
type Memory struct {
	mu     sync.Mutex
	conns  map[string]*MemoryConn
	fail   map[string]error
	dials  int
	buffer int
}

// NewMemory creates an in-process dialer.
func NewMemory() *Memory {
	return &Memory{
		conns:  make(map[string]*MemoryConn),
		fail:   make(map[string]error),
		buffer: 16,
	}
}

// Fail makes every dial for token return err until cleared with a nil err.
func (m *Memory) Fail(token string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, token)
		return
	}
	m.fail[token] = err
}

// Dial returns a fresh connection for authState {"token": "..."}.
func (m *Memory) Dial(ctx context.Context, authState json.RawMessage) (Conn, error) {
	token, err := parseTokenAuth(authState)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dials++
	if err := m.fail[token]; err != nil {
		return nil, err
	}
	c := &MemoryConn{
		ID:      uuid.NewString(),
		Token:   token,
		events:  make(chan *bus.Event, m.buffer),
		done:    make(chan struct{}),
		changed: make(chan struct{}),
	}
	m.conns[token] = c
	return c, nil
}

// Conn returns the most recent connection dialed for token.
func (m *Memory) Conn(token string) *MemoryConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conns[token]
}

// Dials returns how many dial attempts were made.
func (m *Memory) Dials() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dials
}

// MemoryConn is one in-process connection.
type MemoryConn struct {
	ID    string
	Token string

	// SendErr, when set, is consulted before recording each reply.
	SendErr func(r *bus.Reply) error

	events    chan *bus.Event
	done      chan struct{}
	closeOnce sync.Once
	pushMu    sync.RWMutex

	mu      sync.Mutex
	sent    []*bus.Reply
	closed  bool
	changed chan struct{}
}

func (c *MemoryConn) Events() <-chan *bus.Event { return c.events }

// Push injects an inbound event, filling in ID and Timestamp when empty.
func (c *MemoryConn) Push(ctx context.Context, ev *bus.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.MessageID == "" {
		ev.MessageID = ev.ID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	c.pushMu.RLock()
	defer c.pushMu.RUnlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send records the reply.
func (c *MemoryConn) Send(_ context.Context, r *bus.Reply) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.SendErr != nil {
		if err := c.SendErr(r); err != nil {
			return err
		}
	}
	cp := *r
	c.sent = append(c.sent, &cp)
	close(c.changed)
	c.changed = make(chan struct{})
	return nil
}

// Sent returns a copy of the replies recorded so far.
func (c *MemoryConn) Sent() []*bus.Reply {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*bus.Reply, len(c.sent))
	copy(out, c.sent)
	return out
}

// WaitSent blocks until at least n replies were recorded or ctx ends.
func (c *MemoryConn) WaitSent(ctx context.Context, n int) ([]*bus.Reply, error) {
	for {
		c.mu.Lock()
		if len(c.sent) >= n {
			out := make([]*bus.Reply, len(c.sent))
			copy(out, c.sent)
			c.mu.Unlock()
			return out, nil
		}
		changed := c.changed
		c.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return c.Sent(), ctx.Err()
		}
	}
}

// Closed reports whether Close was called.
func (c *MemoryConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close ends the connection and closes the event stream.
func (c *MemoryConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		c.pushMu.Lock()
		close(c.events)
		c.pushMu.Unlock()
	})
	return nil
}
