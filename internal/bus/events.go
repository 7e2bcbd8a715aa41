package bus

import (
	"context"
	"time"
)

// Event types emitted by transports.
const (
	TypeMessage         = "message"
	TypeMessageReply    = "message_reply"
	TypeMessageReaction = "message_reaction"
	TypeEvent           = "event"
	TypeTyping          = "typ"
)

// Event is an inbound platform event received by a session.
type Event struct {
	ID        string
	Type      string
	ThreadID  string
	MessageID string
	SenderID  string
	Body      string
	Timestamp time.Time
	Metadata  map[string]any
}

// IsMessage reports whether the event carries user text that may contain a command.
func (e *Event) IsMessage() bool {
	return e.Type == TypeMessage || e.Type == TypeMessageReply
}

// Reply is an outbound message addressed to a conversation.
type Reply struct {
	ThreadID string
	ReplyTo  string
	Content  string
}

// ReplyTo builds a reply to the conversation and message an event came from.
func ReplyTo(e *Event, content string) *Reply {
	return &Reply{ThreadID: e.ThreadID, ReplyTo: e.MessageID, Content: content}
}

// Sender delivers replies to the platform.
type Sender interface {
	Send(ctx context.Context, r *Reply) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, r *Reply) error

func (f SenderFunc) Send(ctx context.Context, r *Reply) error { return f(ctx, r) }
