package session

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joebot/botmaster/internal/bus"
	"github.com/joebot/botmaster/internal/credential"
	"github.com/joebot/botmaster/internal/plugin"
	"github.com/joebot/botmaster/internal/tenant"
	"github.com/joebot/botmaster/internal/transport"
)

type harness struct {
	orch *Orchestrator
	mem  *transport.Memory
}

func newHarness(t *testing.T, system plugin.Bundle, tenantRoot string) *harness {
	t.Helper()
	mem := transport.NewMemory()
	loader := &plugin.DirLoader{TenantDir: tenantRoot, Builtins: system}
	o := New(Options{
		Dialer:          mem,
		Plugins:         plugin.NewRegistry(loader, nil),
		Settings:        tenant.Static{},
		StartupAttempts: 3,
		StartupBackoff:  time.Millisecond,
	})
	require.NoError(t, o.Init(context.Background()))
	t.Cleanup(func() { _ = o.Shutdown(context.Background()) })
	return &harness{orch: o, mem: mem}
}

func auth(token string) json.RawMessage {
	return json.RawMessage(`{"token":"` + token + `"}`)
}

func withTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func pushText(t *testing.T, conn *transport.MemoryConn, body string) {
	t.Helper()
	require.NoError(t, conn.Push(withTimeout(t), &bus.Event{Type: bus.TypeMessage, ThreadID: "chan", Body: body}))
}

func TestStartSession_SameCredentialReplacesPrevious(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, plugin.Builtins(), "")
	ctx := withTimeout(t)

	first, err := h.orch.StartSession(ctx, Spec{Tenant: "alice", AuthState: json.RawMessage(`{"token":"a","region":"eu"}`)})
	req.NoError(err)
	firstConn := h.mem.Conn("a")

	second, err := h.orch.StartSession(ctx, Spec{Tenant: "alice", AuthState: json.RawMessage(`{ "region": "eu",  "token": "a" }`)})
	req.NoError(err)
	secondConn := h.mem.Conn("a")

	req.Equal(first.Token, second.Token)
	req.NotSame(firstConn, secondConn)

	sessions := h.orch.ListSessions("alice")
	req.Len(sessions, 1)
	req.Same(second, sessions[0])
	req.Same(secondConn, sessions[0].conn)

	req.True(firstConn.Closed())
	req.Equal(StateTerminated, first.State())
	req.Equal(StateListening, second.State())
}

func TestStartSession_UnauthorizedIsNotRetriedOrRegistered(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, plugin.Builtins(), "")
	h.mem.Fail("bad", transport.ErrUnauthorized)

	_, err := h.orch.StartSession(withTimeout(t), Spec{Tenant: "alice", AuthState: auth("bad")})

	req.ErrorIs(err, transport.ErrUnauthorized)
	req.Equal(1, h.mem.Dials())
	req.Empty(h.orch.ListAll())
}

func TestStartSession_TransientFailureRetriesBounded(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, plugin.Builtins(), "")
	h.mem.Fail("flaky", errors.New("gateway unavailable"))

	_, err := h.orch.StartSession(withTimeout(t), Spec{Tenant: "alice", AuthState: auth("flaky")})

	req.Error(err)
	req.Equal(3, h.mem.Dials())
	req.Empty(h.orch.ListAll())
}

func TestStartSession_AppliesDefaults(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, plugin.Builtins(), "")

	s, err := h.orch.StartSession(withTimeout(t), Spec{Tenant: "alice", AuthState: auth("a")})
	req.NoError(err)

	info := s.Info()
	req.Equal("/", info.Prefix)
	req.Equal(plugin.PolicyBoth, info.Policy)
	req.Equal("bot_alice", info.DisplayName)
	req.Zero(info.CooldownSeconds)
}

func TestSession_RouterRunsBeforeDispatcherInArrivalOrder(t *testing.T) {
	req := require.New(t)
	var (
		mu  sync.Mutex
		log []string
	)
	record := func(s string) {
		mu.Lock()
		log = append(log, s)
		mu.Unlock()
	}
	system := plugin.Builtins()
	system.Commands = append(system.Commands, &plugin.Command{Name: "record", Handler: func(_ context.Context, pc *plugin.Context) error {
		record("command:" + pc.Args[0])
		return nil
	}})
	system.Events = append(system.Events, &plugin.EventPlugin{Name: "audit", EventTypes: []string{bus.TypeMessage, bus.TypeTyping}, Handler: func(_ context.Context, pc *plugin.Context) error {
		record("router:" + pc.Event.Type + ":" + pc.Event.Body)
		return nil
	}})
	h := newHarness(t, system, "")

	_, err := h.orch.StartSession(withTimeout(t), Spec{Tenant: "alice", AuthState: auth("a")})
	req.NoError(err)
	conn := h.mem.Conn("a")

	pushText(t, conn, "hello")
	req.NoError(conn.Push(withTimeout(t), &bus.Event{Type: bus.TypeTyping, Body: "/record typing"}))
	pushText(t, conn, "/record x")
	pushText(t, conn, "/ping")

	sent, err := conn.WaitSent(withTimeout(t), 1)
	req.NoError(err)
	req.Equal("pong 🏓", sent[0].Content)

	mu.Lock()
	defer mu.Unlock()
	req.Equal([]string{
		"router:message:hello",
		"router:typ:/record typing",
		"router:message:/record x",
		"command:x",
		"router:message:/ping",
	}, log)
}

func TestSession_HandlerFailureKeepsListening(t *testing.T) {
	req := require.New(t)
	system := plugin.Builtins()
	system.Commands = append(system.Commands, &plugin.Command{Name: "fail", Handler: func(context.Context, *plugin.Context) error {
		panic("handler exploded")
	}})
	system.Events = append(system.Events, &plugin.EventPlugin{Name: "broken", EventTypes: []string{bus.TypeMessage}, Handler: func(context.Context, *plugin.Context) error {
		return errors.New("event plugin broken")
	}})
	h := newHarness(t, system, "")

	_, err := h.orch.StartSession(withTimeout(t), Spec{Tenant: "alice", AuthState: auth("a")})
	req.NoError(err)
	conn := h.mem.Conn("a")

	pushText(t, conn, "/fail")
	pushText(t, conn, "/ping")

	sent, err := conn.WaitSent(withTimeout(t), 2)
	req.NoError(err)
	req.Contains(sent[0].Content, "❌ An error occurred:")
	req.Contains(sent[0].Content, "handler exploded")
	req.Equal("pong 🏓", sent[1].Content)
}

func TestSession_TenantPluginsFollowPolicy(t *testing.T) {
	req := require.New(t)
	root := t.TempDir()
	dir := filepath.Join(root, "alice")
	req.NoError(os.MkdirAll(dir, 0o755))
	req.NoError(os.WriteFile(filepath.Join(dir, "ping.json"), []byte(`{"name":"ping","reply":"alice pong"}`), 0o644))
	h := newHarness(t, plugin.Builtins(), root)

	s, err := h.orch.StartSession(withTimeout(t), Spec{Tenant: "alice", AuthState: auth("a")})
	req.NoError(err)
	conn := h.mem.Conn("a")

	pushText(t, conn, "/ping")
	sent, err := conn.WaitSent(withTimeout(t), 1)
	req.NoError(err)
	req.Equal("alice pong", sent[0].Content)

	system := plugin.PolicySystem
	_, err = h.orch.UpdateSessionConfig("alice", s.Token, Patch{Policy: &system})
	req.NoError(err)

	pushText(t, conn, "/ping")
	sent, err = conn.WaitSent(withTimeout(t), 2)
	req.NoError(err)
	req.Equal("pong 🏓", sent[1].Content)

	user := plugin.PolicyUser
	_, err = h.orch.UpdateSessionConfig("alice", s.Token, Patch{Policy: &user})
	req.NoError(err)

	pushText(t, conn, "/uptime")
	sent, err = conn.WaitSent(withTimeout(t), 3)
	req.NoError(err)
	req.Equal(tenant.DefaultNotFoundMessage, sent[2].Content)
}

func TestUpdateSessionConfig(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, plugin.Builtins(), "")

	s, err := h.orch.StartSession(withTimeout(t), Spec{Tenant: "alice", AuthState: auth("a")})
	req.NoError(err)
	conn := h.mem.Conn("a")

	prefix := "!"
	cd := 30
	cfg, err := h.orch.UpdateSessionConfig("alice", s.Token, Patch{Prefix: &prefix, CooldownSeconds: &cd})
	req.NoError(err)
	req.Equal(Config{Prefix: "!", CooldownSeconds: 30, Policy: plugin.PolicyBoth}, cfg)

	pushText(t, conn, "/ping")
	pushText(t, conn, "!ping")
	pushText(t, conn, "!ping")

	sent, err := conn.WaitSent(withTimeout(t), 2)
	req.NoError(err)
	req.Equal("pong 🏓", sent[0].Content)
	req.Contains(sent[1].Content, "Please wait 30 seconds")

	empty := ""
	_, err = h.orch.UpdateSessionConfig("alice", s.Token, Patch{Prefix: &empty})
	req.Error(err)
	negative := -1
	_, err = h.orch.UpdateSessionConfig("alice", s.Token, Patch{CooldownSeconds: &negative})
	req.Error(err)
	bogus := plugin.Policy("everything")
	_, err = h.orch.UpdateSessionConfig("alice", s.Token, Patch{Policy: &bogus})
	req.Error(err)
	req.Equal(cfg, s.Config())

	_, err = h.orch.UpdateSessionConfig("bob", s.Token, Patch{Prefix: &prefix})
	req.ErrorIs(err, ErrSessionNotFound)
}

func TestStopSession(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, plugin.Builtins(), "")

	s, err := h.orch.StartSession(withTimeout(t), Spec{Tenant: "alice", AuthState: auth("a")})
	req.NoError(err)

	req.NoError(h.orch.RemoveSession("alice", s.Token))
	req.True(h.mem.Conn("a").Closed())
	req.Equal(StateTerminated, s.State())
	req.Empty(h.orch.ListSessions("alice"))
	req.ErrorIs(h.orch.StopSession("alice", s.Token), ErrSessionNotFound)
}

func TestTransportCloseUnregistersSession(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, plugin.Builtins(), "")

	s, err := h.orch.StartSession(withTimeout(t), Spec{Tenant: "alice", AuthState: auth("a")})
	req.NoError(err)

	req.NoError(h.mem.Conn("a").Close())

	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("session loop did not exit")
	}
	req.Equal(StateTerminated, s.State())
	req.Empty(h.orch.ListAll())
}

func TestBootstrap_FailuresDoNotStopOthers(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, plugin.Builtins(), "")
	h.mem.Fail("rejected", transport.ErrUnauthorized)

	cd := 5
	entries := []credential.Entry{
		{TenantID: "alice", AuthState: auth("a"), Prefix: "!", CooldownSeconds: &cd, CommandSourcePolicy: "system", DisplayName: "Alice"},
		{TenantID: "bob", AuthState: auth("rejected"), Prefix: "/", CommandSourcePolicy: "both"},
		{TenantID: "carol", AuthState: auth("c"), Prefix: "/", CommandSourcePolicy: "user"},
	}

	started := h.orch.Bootstrap(withTimeout(t), entries)

	req.Equal(2, started)
	all := h.orch.ListAll()
	req.Len(all, 2)
	req.Equal("alice", all[0].Tenant)
	req.Equal("Alice", all[0].DisplayName)
	req.Equal(Config{Prefix: "!", CooldownSeconds: 5, Policy: plugin.PolicySystem}, all[0].Config())
	req.Equal("carol", all[1].Tenant)
	req.Equal(plugin.PolicyUser, all[1].Config().Policy)
}

func TestShutdown(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, plugin.Builtins(), "")

	a, err := h.orch.StartSession(withTimeout(t), Spec{Tenant: "alice", AuthState: auth("a")})
	req.NoError(err)
	b, err := h.orch.StartSession(withTimeout(t), Spec{Tenant: "bob", AuthState: auth("b")})
	req.NoError(err)

	req.NoError(h.orch.Shutdown(withTimeout(t)))

	req.Equal(StateTerminated, a.State())
	req.Equal(StateTerminated, b.State())
	req.True(h.mem.Conn("a").Closed())
	req.True(h.mem.Conn("b").Closed())
	req.Empty(h.orch.ListAll())

	_, err = h.orch.StartSession(withTimeout(t), Spec{Tenant: "alice", AuthState: auth("a")})
	req.ErrorIs(err, ErrNotRunning)
}

func TestStartSession_BeforeInit(t *testing.T) {
	o := New(Options{Dialer: transport.NewMemory(), Plugins: plugin.NewRegistry(&plugin.DirLoader{}, nil)})
	_, err := o.StartSession(context.Background(), Spec{Tenant: "alice", AuthState: auth("a")})
	require.ErrorIs(t, err, ErrNotRunning)
}

// hookDialer runs before on every dial, then dials through the wrapped dialer.
type hookDialer struct {
	transport.Dialer
	before func()
}

func (d *hookDialer) Dial(ctx context.Context, authState json.RawMessage) (transport.Conn, error) {
	d.before()
	return d.Dialer.Dial(ctx, authState)
}

func TestStartSession_ShutdownDuringHandshakeDiscardsSession(t *testing.T) {
	req := require.New(t)
	mem := transport.NewMemory()
	dialer := &hookDialer{Dialer: mem}
	o := New(Options{Dialer: dialer, Plugins: plugin.NewRegistry(&plugin.DirLoader{Builtins: plugin.Builtins()}, nil)})
	req.NoError(o.Init(context.Background()))
	dialer.before = func() { req.NoError(o.Shutdown(context.Background())) }

	s, err := o.StartSession(withTimeout(t), Spec{Tenant: "alice", AuthState: auth("a")})

	req.ErrorIs(err, ErrNotRunning)
	req.Nil(s)
	req.True(mem.Conn("a").Closed())
	req.Empty(o.ListAll())
}

func TestStartSession_ConcurrentSameCredentialKeepsOne(t *testing.T) {
	req := require.New(t)
	h := newHarness(t, plugin.Builtins(), "")
	ctx := withTimeout(t)

	const n = 50
	results := make([]*Session, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := h.orch.StartSession(ctx, Spec{Tenant: "alice", AuthState: auth("a")})
			if err == nil {
				results[i] = s
			}
		}()
	}
	wg.Wait()

	for _, s := range results {
		req.NotNil(s)
	}
	req.Equal(n, h.mem.Dials())
	req.Len(h.orch.ListAll(), 1)
	live, ok := h.orch.Session("alice", results[0].Token)
	req.True(ok)
	req.Equal(StateListening, live.State())

	for _, s := range results {
		if s != live {
			req.Equal(StateTerminated, s.State())
		}
	}

	conn, ok := live.conn.(*transport.MemoryConn)
	req.True(ok)
	req.False(conn.Closed())
	pushText(t, conn, "/ping")
	sent, err := conn.WaitSent(ctx, 1)
	req.NoError(err)
	req.Equal("pong 🏓", sent[0].Content)
}
