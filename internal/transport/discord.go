package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/joebot/botmaster/internal/bus"
)

// DiscordConfig holds gateway settings shared by every Discord session.
type DiscordConfig struct {
	Intents    int
	BufferSize int
}

// Discord dials one gateway connection per bot token.
type Discord struct {
	config DiscordConfig
}

// NewDiscord creates a Discord dialer.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	return &Discord{config: cfg}
}

// Dial opens a gateway session for authState {"token": "..."}.
func (d *Discord) Dial(ctx context.Context, authState json.RawMessage) (Conn, error) {
	token, err := parseTokenAuth(authState)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.Intent(d.config.Intents)
	// Handlers run on the gateway goroutine so events keep arrival order.
	s.SyncEvents = true

	c := &discordConn{
		s:      s,
		events: make(chan *bus.Event, d.config.BufferSize),
		done:   make(chan struct{}),
	}
	c.removers = []func(){
		s.AddHandler(c.onMessageCreate),
		s.AddHandler(c.onReactionAdd),
		s.AddHandler(c.onMemberAdd),
		s.AddHandler(c.onMemberRemove),
		s.AddHandler(c.onTypingStart),
	}

	if err := s.Open(); err != nil {
		c.Close()
		if strings.Contains(err.Error(), "4004") || strings.Contains(strings.ToLower(err.Error()), "authentication failed") {
			return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("open discord gateway: %w", err)
	}
	slog.Info("Discord gateway connected", "user", c.selfID())
	return c, nil
}

type discordConn struct {
	s        *discordgo.Session
	removers []func()

	events    chan *bus.Event
	done      chan struct{}
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

func (c *discordConn) Events() <-chan *bus.Event { return c.events }

// Send posts a reply, referencing the original message when known.
func (c *discordConn) Send(ctx context.Context, r *bus.Reply) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	var err error
	if r.ReplyTo != "" {
		ref := &discordgo.MessageReference{MessageID: r.ReplyTo, ChannelID: r.ThreadID}
		_, err = c.s.ChannelMessageSendReply(r.ThreadID, r.Content, ref, discordgo.WithContext(ctx))
	} else {
		_, err = c.s.ChannelMessageSend(r.ThreadID, r.Content, discordgo.WithContext(ctx))
	}
	if err != nil {
		return fmt.Errorf("send discord message: %w", err)
	}
	return nil
}

// Close disconnects the gateway and closes the event stream.
func (c *discordConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		for _, remove := range c.removers {
			remove()
		}
		err = c.s.Close()

		c.mu.Lock()
		c.closed = true
		close(c.events)
		c.mu.Unlock()
	})
	return err
}

func (c *discordConn) selfID() string {
	if c.s.State != nil && c.s.State.User != nil {
		return c.s.State.User.ID
	}
	return ""
}

// publish hands an event to the session loop, blocking until it is queued
// or the connection closes.
func (c *discordConn) publish(ev *bus.Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

func (c *discordConn) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.selfID() {
		return
	}
	ev := &bus.Event{
		ID:        m.ID,
		Type:      bus.TypeMessage,
		ThreadID:  m.ChannelID,
		MessageID: m.ID,
		SenderID:  m.Author.ID,
		Body:      m.Content,
		Timestamp: m.Timestamp,
		Metadata:  map[string]any{"guild_id": m.GuildID},
	}
	if m.MessageReference != nil && m.MessageReference.MessageID != "" {
		ev.Type = bus.TypeMessageReply
		ev.Metadata["reply_to"] = m.MessageReference.MessageID
	}
	c.publish(ev)
}

func (c *discordConn) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.MessageReaction == nil || r.UserID == c.selfID() {
		return
	}
	c.publish(&bus.Event{
		Type:      bus.TypeMessageReaction,
		ThreadID:  r.ChannelID,
		MessageID: r.MessageID,
		SenderID:  r.UserID,
		Body:      r.Emoji.Name,
		Timestamp: time.Now(),
		Metadata:  map[string]any{"guild_id": r.GuildID},
	})
}

func (c *discordConn) onMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	c.publishMember(m.Member, "member_join")
}

func (c *discordConn) onMemberRemove(_ *discordgo.Session, m *discordgo.GuildMemberRemove) {
	c.publishMember(m.Member, "member_leave")
}

func (c *discordConn) publishMember(m *discordgo.Member, kind string) {
	if m == nil || m.User == nil {
		return
	}
	c.publish(&bus.Event{
		Type:      bus.TypeEvent,
		SenderID:  m.User.ID,
		Timestamp: time.Now(),
		Metadata:  map[string]any{"guild_id": m.GuildID, "kind": kind},
	})
}

func (c *discordConn) onTypingStart(_ *discordgo.Session, t *discordgo.TypingStart) {
	if t.UserID == c.selfID() {
		return
	}
	c.publish(&bus.Event{
		Type:      bus.TypeTyping,
		ThreadID:  t.ChannelID,
		SenderID:  t.UserID,
		Timestamp: time.Unix(int64(t.Timestamp), 0),
	})
}
