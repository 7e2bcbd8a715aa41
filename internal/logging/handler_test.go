package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler_PlainLine(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, &Options{Level: slog.LevelInfo}))

	log.Info("Bootstrap finished", "started", 2, "total", 3)
	log.Debug("hidden")

	out := buf.String()
	require.Contains(t, out, " INF Bootstrap finished started=2 total=3\n")
	require.NotContains(t, out, "hidden")
}

func TestHandler_SessionScopePrefix(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, nil))

	session := log.With("tenant", "alice", "bot", "bot_alice", "token", "0123456789ab").With("session", "1a2b3c4d")
	session.Info("Command executed", "command", "ping")
	log.Warn("Reply not delivered", "bot", "bot_bob", "thread", "t1")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], " INF [alice/bot_alice#1a2b3c4d] Command executed token=0123456789ab command=ping")
	require.NotContains(t, lines[0], "tenant=")
	require.NotContains(t, lines[0], "session=")
	require.Contains(t, lines[1], " WRN [bot_bob] Reply not delivered thread=t1")
}

func TestHandler_BlockAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(NewHandler(&buf, nil))

	log.With("tenant", "alice").Error("Event plugin failed", "plugin", "greet", "body", "line one\nline two", "reply", "")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "ERR [alice] Event plugin failed plugin=greet")
	require.NotContains(t, lines[0], "body=")
	require.NotContains(t, lines[0], "reply=")
	require.Equal(t, "    | line one", lines[1])
	require.Equal(t, "    | line two", lines[2])
}

func TestHandler_WithAttrsDoesNotLeakBetweenLoggers(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewHandler(&buf, nil))
	alice := base.With("tenant", "alice", "body", "first")
	_ = base.With("tenant", "bob", "body", "second")

	alice.Info("one")
	base.Info("two")

	out := buf.String()
	require.Contains(t, out, "INF [alice] one\n    | first\n")
	require.Contains(t, out, "INF two\n")
	require.NotContains(t, out, "bob")
	require.NotContains(t, out, "second")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}
