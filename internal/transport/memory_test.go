package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joebot/botmaster/internal/bus"
)

func TestMemory_DialAndExchange(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := NewMemory()

	conn, err := m.Dial(ctx, json.RawMessage(`{"token":"abc"}`))
	req.NoError(err)
	mc := m.Conn("abc")
	req.NotNil(mc)
	req.Equal(1, m.Dials())

	req.NoError(mc.Push(ctx, &bus.Event{Type: bus.TypeMessage, Body: "hi"}))
	ev := <-conn.Events()
	req.Equal("hi", ev.Body)
	req.NotEmpty(ev.ID)
	req.Equal(ev.ID, ev.MessageID)

	req.NoError(conn.Send(ctx, &bus.Reply{ThreadID: "t", Content: "hello"}))
	sent, err := mc.WaitSent(ctx, 1)
	req.NoError(err)
	req.Equal("hello", sent[0].Content)
}

func TestMemory_DialErrors(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Dial(ctx, json.RawMessage(`{}`))
	req.True(errors.Is(err, ErrUnauthorized))

	m.Fail("abc", ErrUnauthorized)
	_, err = m.Dial(ctx, json.RawMessage(`{"token":"abc"}`))
	req.True(errors.Is(err, ErrUnauthorized))

	m.Fail("abc", nil)
	_, err = m.Dial(ctx, json.RawMessage(`{"token":"abc"}`))
	req.NoError(err)
}

func TestMemoryConn_Close(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	conn, err := NewMemory().Dial(ctx, json.RawMessage(`{"token":"abc"}`))
	req.NoError(err)
	mc := conn.(*MemoryConn)

	req.NoError(mc.Close())
	req.NoError(mc.Close())
	req.True(mc.Closed())

	_, ok := <-mc.Events()
	req.False(ok)
	req.ErrorIs(mc.Push(ctx, &bus.Event{}), ErrClosed)
	req.ErrorIs(mc.Send(ctx, &bus.Reply{}), ErrClosed)
}

func TestMemoryConn_WaitSentTimeout(t *testing.T) {
	conn, err := NewMemory().Dial(context.Background(), json.RawMessage(`{"token":"abc"}`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = conn.(*MemoryConn).WaitSent(ctx, 1)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
