package bus

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type flakySender struct {
	fail func(r *Reply) bool
	sent []*Reply
}

func (s *flakySender) Send(_ context.Context, r *Reply) error {
	if s.fail(r) {
		return errors.New("rejected")
	}
	s.sent = append(s.sent, r)
	return nil
}

func TestDeliver_Direct(t *testing.T) {
	s := &flakySender{fail: func(*Reply) bool { return false }}
	require.NoError(t, Deliver(context.Background(), s, &Reply{ThreadID: "t", ReplyTo: "m", Content: "hi"}))
	require.Len(t, s.sent, 1)
	require.Equal(t, "m", s.sent[0].ReplyTo)
}

func TestDeliver_DropsReplyReference(t *testing.T) {
	s := &flakySender{fail: func(r *Reply) bool { return r.ReplyTo != "" }}
	require.NoError(t, Deliver(context.Background(), s, &Reply{ThreadID: "t", ReplyTo: "gone", Content: "hi"}))
	require.Len(t, s.sent, 1)
	require.Equal(t, "hi", s.sent[0].Content)
}

func TestDeliver_TruncatesLongContent(t *testing.T) {
	s := &flakySender{fail: func(r *Reply) bool { return len(r.Content) > 2000 }}
	long := strings.Repeat("x", 3000)
	require.NoError(t, Deliver(context.Background(), s, &Reply{ThreadID: "t", Content: long}))
	require.Len(t, s.sent, 1)
	require.True(t, strings.HasSuffix(s.sent[0].Content, "[message truncated]"))
}

func TestDeliver_AllStrategiesFail(t *testing.T) {
	var attempts []string
	s := SenderFunc(func(_ context.Context, r *Reply) error {
		attempts = append(attempts, r.ReplyTo+":"+r.Content)
		return errors.New("rejected")
	})

	err := Deliver(context.Background(), s, &Reply{ThreadID: "t", ReplyTo: "m", Content: "hi"})

	require.EqualError(t, err, "rejected")
	require.Equal(t, []string{
		"m:hi",
		":hi",
		":Sorry, I couldn't deliver my response. Please try again.",
	}, attempts)
}

func TestEvent_IsMessage(t *testing.T) {
	require.True(t, (&Event{Type: TypeMessage}).IsMessage())
	require.True(t, (&Event{Type: TypeMessageReply}).IsMessage())
	require.False(t, (&Event{Type: TypeMessageReaction}).IsMessage())
}
