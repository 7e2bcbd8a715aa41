package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/joebot/botmaster/internal/config"
	"github.com/joebot/botmaster/internal/credential"
	"github.com/joebot/botmaster/internal/plugin"
	"github.com/joebot/botmaster/internal/session"
	"github.com/joebot/botmaster/internal/tenant"
	"github.com/joebot/botmaster/internal/transport"
)

// Runtime is the wired engine shared by the run, try and plugins commands.
type Runtime struct {
	Config   *config.Config
	Plugins  *plugin.Registry
	Settings *tenant.FileStore
	Orch     *session.Orchestrator
}

// NewRuntime wires the plugin registry, tenant settings and orchestrator
// over dialer. Tenant settings that fail to load are logged and ignored.
func NewRuntime(cfg *config.Config, dialer transport.Dialer, log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	loader := &plugin.DirLoader{
		SystemDir: cfg.SystemPluginsDir(),
		TenantDir: cfg.UserPluginsDir(),
		Builtins:  plugin.Builtins(),
		Log:       log,
	}
	plugins := plugin.NewRegistry(loader, log)

	settings := tenant.NewFileStore(cfg.TenantsPath())
	if err := settings.Load(); err != nil {
		log.Warn("Tenant settings not loaded", "path", cfg.TenantsPath(), "err", err)
	}

	orch := session.New(session.Options{
		Dialer:          dialer,
		Plugins:         plugins,
		Settings:        settings,
		Logger:          log,
		StartupAttempts: cfg.Transport.StartupAttempts,
		StartupBackoff:  cfg.Transport.StartupBackoff(),
		Concurrency:     cfg.Transport.Concurrency,
	})
	return &Runtime{Config: cfg, Plugins: plugins, Settings: settings, Orch: orch}
}

// ErrNoSessions means no stored credential produced a running session.
var ErrNoSessions = errors.New("no bot session could be started")

// Bootstrap starts a session for every entry. It fails with ErrNoSessions
// when none came up, so the process never idles with zero bots.
func (rt *Runtime) Bootstrap(ctx context.Context, entries []credential.Entry) (int, error) {
	started := rt.Orch.Bootstrap(ctx, entries)
	if started == 0 {
		return 0, fmt.Errorf("%w: all %d credential(s) failed", ErrNoSessions, len(entries))
	}
	return started, nil
}
