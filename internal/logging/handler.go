// Package logging provides the compact slog handler used on the terminal
// and in the log file.
//
// Session loggers carry tenant, bot and session attrs. The handler folds
// them into one scope tag ahead of the message, so interleaved lines from
// many bots stay readable:
//
//	12:00:01 INF [alice/bot_alice#1a2b3c4d] Command executed command=ping
//
// Event text (body) and reply text (reply) print as indented blocks under
// the line.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// ANSI color codes.
const (
	ansiReset   = "\033[0m"
	ansiRed     = "\033[31m"
	ansiYellow  = "\033[33m"
	ansiMagenta = "\033[35m"
	ansiCyan    = "\033[36m"
	ansiGray    = "\033[90m"

	padding = "  " // left padding to align with TUI header
)

// Attr keys with special rendering.
const (
	KeyTenant  = "tenant"
	KeyBot     = "bot"
	KeySession = "session"
	KeyBody    = "body"
	KeyReply   = "reply"
)

// Options configures a Handler.
type Options struct {
	Level slog.Level
	Color bool
}

// scope is the session identity a record was logged under.
type scope struct {
	tenant, bot, session string
}

func (s scope) empty() bool {
	return s.tenant == "" && s.bot == "" && s.session == ""
}

func (s scope) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	sb.WriteString(s.tenant)
	if s.bot != "" {
		if s.tenant != "" {
			sb.WriteString("/")
		}
		sb.WriteString(s.bot)
	}
	if s.session != "" {
		sb.WriteString("#" + s.session)
	}
	sb.WriteString("]")
	return sb.String()
}

// Handler is a compact, optionally colored slog handler.
type Handler struct {
	w     io.Writer
	mu    *sync.Mutex
	level slog.Level
	color bool

	// Pre-split attrs from WithAttrs.
	scope  scope
	inline string
	blocks []string
}

// NewHandler creates a new log handler.
func NewHandler(w io.Writer, opts *Options) *Handler {
	if opts == nil {
		opts = &Options{}
	}
	return &Handler{
		w:     w,
		mu:    &sync.Mutex{},
		level: opts.Level,
		color: opts.Color,
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

// add sorts one attr into the scope, the inline pairs or the blocks.
func (h *Handler) add(sc *scope, inline *strings.Builder, blocks *[]string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	switch a.Key {
	case KeyTenant:
		sc.tenant = a.Value.String()
	case KeyBot:
		sc.bot = a.Value.String()
	case KeySession:
		sc.session = a.Value.String()
	case KeyBody, KeyReply:
		if text := a.Value.String(); text != "" {
			*blocks = append(*blocks, text)
		}
	default:
		if a.Equal(slog.Attr{}) {
			return
		}
		inline.WriteString(h.fmtAttr(a))
	}
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	sc := h.scope
	var inline strings.Builder
	inline.WriteString(h.inline)
	blocks := append([]string(nil), h.blocks...)
	r.Attrs(func(a slog.Attr) bool {
		h.add(&sc, &inline, &blocks, a)
		return true
	})

	// Short timestamp on the terminal, full date in the log file.
	ts := r.Time.Format("2006-01-02 15:04:05")
	if h.color {
		ts = r.Time.Format("15:04:05")
	}

	var sb strings.Builder
	sb.WriteString(padding)
	if h.color {
		sb.WriteString(ansiGray + ts + ansiReset + " " + colorLevel(r.Level) + " ")
		if !sc.empty() {
			sb.WriteString(ansiMagenta + sc.String() + ansiReset + " ")
		}
	} else {
		sb.WriteString(ts + " " + levelLabel(r.Level) + " ")
		if !sc.empty() {
			sb.WriteString(sc.String() + " ")
		}
	}
	sb.WriteString(r.Message)
	sb.WriteString(inline.String())
	sb.WriteString("\n")

	bar := "|"
	if h.color {
		bar = ansiGray + "│" + ansiReset
	}
	for _, text := range blocks {
		for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
			sb.WriteString(padding + "  " + bar + " " + line + "\n")
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, sb.String())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	var inline strings.Builder
	inline.WriteString(h.inline)
	next.blocks = append([]string(nil), h.blocks...)
	for _, a := range attrs {
		h.add(&next.scope, &inline, &next.blocks, a)
	}
	next.inline = inline.String()
	return &next
}

// WithGroup is a no-op: botmaster logs flat attrs only.
func (h *Handler) WithGroup(string) slog.Handler {
	return h
}

func (h *Handler) fmtAttr(a slog.Attr) string {
	if h.color {
		return fmt.Sprintf(" %s%s%s=%s", ansiGray, a.Key, ansiReset, a.Value.String())
	}
	return fmt.Sprintf(" %s=%s", a.Key, a.Value.String())
}

func levelLabel(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERR"
	case level >= slog.LevelWarn:
		return "WRN"
	case level >= slog.LevelInfo:
		return "INF"
	default:
		return "DBG"
	}
}

func colorLevel(level slog.Level) string {
	label := levelLabel(level)
	switch {
	case level >= slog.LevelError:
		return ansiRed + label + ansiReset
	case level >= slog.LevelWarn:
		return ansiYellow + label + ansiReset
	case level >= slog.LevelInfo:
		return ansiCyan + label + ansiReset
	default:
		return ansiGray + label + ansiReset
	}
}
