package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubLoader struct {
	system  Bundle
	tenants map[string]Bundle
	err     error
}

func (l *stubLoader) LoadSystem(context.Context) (Bundle, error) {
	return l.system, l.err
}

func (l *stubLoader) LoadTenant(_ context.Context, tenantID string) (Bundle, error) {
	return l.tenants[tenantID], l.err
}

func noop(context.Context, *Context) error { return nil }

func cmd(name, desc string) *Command {
	return &Command{Name: name, Description: desc, Handler: noop}
}

func newTestRegistry(t *testing.T, loader *stubLoader) *Registry {
	t.Helper()
	r := NewRegistry(loader, nil)
	require.NoError(t, r.LoadSystemPlugins(context.Background()))
	for tenant := range loader.tenants {
		require.NoError(t, r.LoadTenantPlugins(context.Background(), tenant))
	}
	return r
}

func TestRegistry_Resolve_BothTenantOverridesSystem(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t, &stubLoader{
		system: Bundle{Commands: []*Command{cmd("ping", "system ping"), cmd("help", "system help")}},
		tenants: map[string]Bundle{
			"alice": {Commands: []*Command{cmd("PING", "alice ping"), cmd("joke", "alice joke")}},
		},
	})

	set := r.Resolve("alice", PolicyBoth)

	req.Len(set, 3)
	req.Equal("alice ping", set["ping"].Description)
	req.Equal(SourceUser, set["ping"].Source)
	req.Equal(SourceSystem, set["help"].Source)
	req.Equal(SourceUser, set["joke"].Source)
}

func TestRegistry_Resolve_PolicyIsolation(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t, &stubLoader{
		system:  Bundle{Commands: []*Command{cmd("ping", "")}},
		tenants: map[string]Bundle{"alice": {Commands: []*Command{cmd("joke", "")}}},
	})

	system := r.Resolve("alice", PolicySystem)
	req.Equal([]string{"ping"}, system.Names())

	user := r.Resolve("alice", PolicyUser)
	req.Equal([]string{"joke"}, user.Names())

	req.Empty(r.Resolve("bob", PolicyUser))
	req.Equal([]string{"ping"}, r.Resolve("bob", PolicyBoth).Names())
}

func TestRegistry_Resolve_ReturnsCopy(t *testing.T) {
	r := newTestRegistry(t, &stubLoader{system: Bundle{Commands: []*Command{cmd("ping", "")}}})

	set := r.Resolve("alice", PolicySystem)
	delete(set, "ping")

	require.Len(t, r.Resolve("alice", PolicySystem), 1)
}

func TestRegistry_SkipsInvalidPlugins(t *testing.T) {
	req := require.New(t)
	r := newTestRegistry(t, &stubLoader{
		system: Bundle{
			Commands: []*Command{cmd("", ""), {Name: "nohandler"}, cmd("ok", "")},
			Events: []*EventPlugin{
				{Name: "empty", Handler: noop},
				{Name: "good", EventTypes: []string{"message"}, Handler: noop},
			},
		},
	})

	req.Equal([]string{"ok"}, r.Resolve("", PolicySystem).Names())
	req.Len(r.EventPlugins("message"), 1)
	req.Equal([]string{"message"}, r.EventTypes())
}

func TestRegistry_EventPluginsKeepRegistrationOrder(t *testing.T) {
	req := require.New(t)
	first := &EventPlugin{Name: "first", EventTypes: []string{"message", "event"}, Handler: noop}
	second := &EventPlugin{Name: "second", EventTypes: []string{"message"}, Handler: noop}
	r := newTestRegistry(t, &stubLoader{system: Bundle{Events: []*EventPlugin{first, second}}})

	got := r.EventPlugins("message")
	req.Len(got, 2)
	req.Equal("first", got[0].Name)
	req.Equal("second", got[1].Name)
	req.Len(r.EventPlugins("event"), 1)
	req.Empty(r.EventPlugins("typ"))
}

func TestRegistry_FailedLoadKeepsPreviousSet(t *testing.T) {
	req := require.New(t)
	loader := &stubLoader{system: Bundle{Commands: []*Command{cmd("ping", "")}}}
	r := newTestRegistry(t, loader)

	loader.err = errors.New("disk gone")
	req.Error(r.Reload(context.Background()))
	req.Len(r.Resolve("", PolicySystem), 1)
}

func TestRegistry_EnsureTenantLoadsOnce(t *testing.T) {
	req := require.New(t)
	loader := &stubLoader{tenants: map[string]Bundle{"alice": {Commands: []*Command{cmd("joke", "")}}}}
	r := NewRegistry(loader, nil)

	req.NoError(r.EnsureTenant(context.Background(), "alice"))
	loader.tenants["alice"] = Bundle{}
	req.NoError(r.EnsureTenant(context.Background(), "alice"))

	req.Len(r.Resolve("alice", PolicyUser), 1)
	req.Equal([]string{"alice"}, r.Tenants())
}

func TestMerge(t *testing.T) {
	req := require.New(t)
	sys := CommandSet{"a": {Name: "a", Source: SourceSystem}, "b": {Name: "b", Source: SourceSystem}}
	ten := CommandSet{"b": {Name: "b", Source: SourceUser}, "c": {Name: "c", Source: SourceUser}}

	merged := Merge(sys, ten)

	req.Len(merged, 3)
	req.Equal(SourceSystem, merged["a"].Source)
	req.Equal(SourceUser, merged["b"].Source)
	req.Equal(SourceUser, merged["c"].Source)
	req.Len(sys, 2)
}

func TestParsePolicy(t *testing.T) {
	req := require.New(t)

	p, err := ParsePolicy("")
	req.NoError(err)
	req.Equal(PolicyBoth, p)

	p, err = ParsePolicy(" User ")
	req.NoError(err)
	req.Equal(PolicyUser, p)

	_, err = ParsePolicy("everyone")
	req.Error(err)

	req.Equal(PolicyUser, PolicySystem.Next())
	req.Equal(PolicySystem, PolicyBoth.Next())
}
