package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joebot/botmaster/internal/cooldown"
	"github.com/joebot/botmaster/internal/credential"
	"github.com/joebot/botmaster/internal/dispatch"
	"github.com/joebot/botmaster/internal/plugin"
	"github.com/joebot/botmaster/internal/tenant"
	"github.com/joebot/botmaster/internal/transport"
)

var (
	// ErrSessionNotFound is returned for an unknown (tenant, token) pair.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotRunning is returned before Init or after Shutdown.
	ErrNotRunning = errors.New("orchestrator not running")
)

// Spec describes a session to start.
type Spec struct {
	Tenant      string
	AuthState   json.RawMessage
	DisplayName string
	Config      Config
}

// SpecFromEntry converts a credential entry with defaults applied.
func SpecFromEntry(e credential.Entry) (Spec, error) {
	policy, err := plugin.ParsePolicy(e.CommandSourcePolicy)
	if err != nil {
		return Spec{}, err
	}
	return Spec{
		Tenant:      e.TenantID,
		AuthState:   e.AuthState,
		DisplayName: e.DisplayName,
		Config: Config{
			Prefix:          e.Prefix,
			CooldownSeconds: e.Cooldown(),
			Policy:          policy,
		},
	}, nil
}

// Patch is a partial configuration update. Nil fields are left unchanged.
type Patch struct {
	Prefix          *string
	CooldownSeconds *int
	Policy          *plugin.Policy
}

func (p Patch) apply(cfg Config) (Config, error) {
	if p.Prefix != nil {
		prefix := *p.Prefix
		if prefix == "" || strings.TrimSpace(prefix) != prefix {
			return cfg, fmt.Errorf("invalid prefix %q", prefix)
		}
		cfg.Prefix = prefix
	}
	if p.CooldownSeconds != nil {
		if *p.CooldownSeconds < 0 {
			return cfg, fmt.Errorf("cooldown must not be negative, got %d", *p.CooldownSeconds)
		}
		cfg.CooldownSeconds = *p.CooldownSeconds
	}
	if p.Policy != nil {
		if !p.Policy.Valid() {
			return cfg, fmt.Errorf("unknown command source policy %q", *p.Policy)
		}
		cfg.Policy = *p.Policy
	}
	return cfg, nil
}

// Options configure an Orchestrator.
type Options struct {
	Dialer   transport.Dialer
	Plugins  *plugin.Registry
	Settings tenant.Settings
	Logger   *slog.Logger

	// StartupAttempts bounds handshake attempts per session (default 3).
	StartupAttempts int
	// StartupBackoff is the first retry delay (default 1s).
	StartupBackoff time.Duration
	// Concurrency bounds parallel startups in Bootstrap (default 4).
	Concurrency int

	// Clock overrides the dispatcher's time source.
	Clock func() time.Time
}

// Orchestrator owns the session and plugin registries and the lifecycle of
// every session.
type Orchestrator struct {
	opts       Options
	sessions   *Registry
	plugins    *plugin.Registry
	router     *dispatch.Router
	dispatcher *dispatch.Dispatcher
	log        *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New creates an orchestrator. Call Init before starting sessions.
func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.StartupAttempts <= 0 {
		opts.StartupAttempts = 3
	}
	if opts.StartupBackoff <= 0 {
		opts.StartupBackoff = time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	d := dispatch.NewDispatcher(opts.Plugins, opts.Settings, opts.Logger)
	if opts.Clock != nil {
		d.WithClock(opts.Clock)
	}
	return &Orchestrator{
		opts:       opts,
		sessions:   NewRegistry(),
		plugins:    opts.Plugins,
		router:     dispatch.NewRouter(opts.Plugins, opts.Logger),
		dispatcher: d,
		log:        opts.Logger,
	}
}

// Init loads the system plugins and prepares the orchestrator to run
// sessions until Shutdown. ctx bounds the lifetime of every session.
func (o *Orchestrator) Init(ctx context.Context) error {
	if err := o.plugins.LoadSystemPlugins(ctx); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.running = true
	return nil
}

// Plugins returns the plugin registry.
func (o *Orchestrator) Plugins() *plugin.Registry { return o.plugins }

func (o *Orchestrator) baseContext() (context.Context, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return nil, ErrNotRunning
	}
	return o.ctx, nil
}

// StartSession performs the transport handshake for spec and, on success,
// registers and starts the session. A session already registered for the
// same tenant and token is stopped and replaced.
func (o *Orchestrator) StartSession(ctx context.Context, spec Spec) (*Session, error) {
	base, err := o.baseContext()
	if err != nil {
		return nil, err
	}
	token, err := credential.Token(spec.AuthState)
	if err != nil {
		return nil, fmt.Errorf("start session for %s: %w", spec.Tenant, err)
	}
	cfg := spec.Config
	if cfg.Prefix == "" {
		cfg.Prefix = "/"
	}
	if !cfg.Policy.Valid() {
		cfg.Policy = plugin.PolicyBoth
	}
	name := spec.DisplayName
	if name == "" {
		name = "bot_" + spec.Tenant
	}

	log := o.log.With("tenant", spec.Tenant, "bot", name, "token", credential.ShortToken(token))
	if err := o.plugins.EnsureTenant(ctx, spec.Tenant); err != nil {
		log.Warn("Tenant plugins not loaded", "err", err)
	}

	log.Info("Starting session")
	conn, err := o.dial(ctx, spec.AuthState, log)
	if err != nil {
		log.Error("Session startup failed", "err", err)
		return nil, fmt.Errorf("start session for %s: %w", spec.Tenant, err)
	}

	id := uuid.NewString()
	sctx, cancel := context.WithCancel(base)
	s := &Session{
		ID:          id,
		Tenant:      spec.Tenant,
		Token:       token,
		DisplayName: name,
		StartedAt:   time.Now(),
		conn:        conn,
		router:      o.router,
		commands:    o.dispatcher,
		cooldowns:   cooldown.New(),
		log:         log.With("session", id[:8]),
		cfg:         cfg,
		cancel:      cancel,
		done:        make(chan struct{}),
	}
	s.state.Store(int32(StateListening))

	replaced, err := o.register(sctx, s)
	if err != nil {
		cancel()
		_ = conn.Close()
		s.state.Store(int32(StateTerminated))
		log.Warn("Session discarded, orchestrator shut down during handshake")
		return nil, err
	}
	if replaced != nil {
		log.Info("Replacing running session", "previous", replaced.ID)
		replaced.Stop()
	}
	return s, nil
}

// register stores s and starts its loop. Holding o.mu orders it against
// Shutdown: either s is visible to Shutdown's sweep or it is rejected.
func (o *Orchestrator) register(ctx context.Context, s *Session) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return nil, ErrNotRunning
	}
	replaced := o.sessions.Put(s)
	go s.run(ctx, o.onTransportClosed)
	return replaced, nil
}

func (o *Orchestrator) dial(ctx context.Context, authState json.RawMessage, log *slog.Logger) (transport.Conn, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.opts.StartupBackoff
	b.MaxInterval = 30 * o.opts.StartupBackoff

	return backoff.Retry(ctx, func() (transport.Conn, error) {
		conn, err := o.opts.Dialer.Dial(ctx, authState)
		if errors.Is(err, transport.ErrUnauthorized) {
			return nil, backoff.Permanent(err)
		}
		return conn, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(o.opts.StartupAttempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("Handshake failed, retrying", "err", err, "wait", wait)
		}),
	)
}

func (o *Orchestrator) onTransportClosed(s *Session) {
	if _, ok := o.sessions.Delete(s.Tenant, s.Token, s); ok {
		s.log.Info("Session unregistered")
	}
	_ = s.conn.Close()
}

// StopSession stops and unregisters a session.
func (o *Orchestrator) StopSession(tenantID, token string) error {
	s, ok := o.sessions.Delete(tenantID, token, nil)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrSessionNotFound, tenantID, credential.ShortToken(token))
	}
	s.Stop()
	return nil
}

// RemoveSession is StopSession under the presentation surface's name.
func (o *Orchestrator) RemoveSession(tenantID, token string) error {
	return o.StopSession(tenantID, token)
}

// Shutdown stops every session and waits for their loops to exit, or for
// ctx to end.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	cancel := o.cancel
	o.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg sync.WaitGroup
		for _, s := range o.sessions.All() {
			o.sessions.Delete(s.Tenant, s.Token, s)
			wg.Add(1)
			go func(s *Session) {
				defer wg.Done()
				s.Stop()
			}(s)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		o.log.Info("All sessions stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// ListSessions returns the tenant's sessions.
func (o *Orchestrator) ListSessions(tenantID string) []*Session {
	return o.sessions.Tenant(tenantID)
}

// ListAll returns every session.
func (o *Orchestrator) ListAll() []*Session {
	return o.sessions.All()
}

// Session looks up one session.
func (o *Orchestrator) Session(tenantID, token string) (*Session, bool) {
	return o.sessions.Get(tenantID, token)
}

// UpdateSessionConfig applies patch to a running session. The change is
// seen by the next event the session handles.
func (o *Orchestrator) UpdateSessionConfig(tenantID, token string, patch Patch) (Config, error) {
	s, ok := o.sessions.Get(tenantID, token)
	if !ok {
		return Config{}, fmt.Errorf("%w: %s/%s", ErrSessionNotFound, tenantID, credential.ShortToken(token))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := patch.apply(s.cfg)
	if err != nil {
		return s.cfg, err
	}
	s.cfg = cfg
	s.log.Info("Session config updated", "prefix", cfg.Prefix, "cooldown", cfg.CooldownSeconds, "policy", cfg.Policy)
	return cfg, nil
}

// ReloadPlugins rescans every plugin location.
func (o *Orchestrator) ReloadPlugins(ctx context.Context) error {
	return o.plugins.Reload(ctx)
}

// Bootstrap starts a session for every entry, at most Concurrency at a
// time. A failed entry is logged and does not stop the others. It returns
// the number of sessions started.
func (o *Orchestrator) Bootstrap(ctx context.Context, entries []credential.Entry) int {
	var (
		mu      sync.Mutex
		started int
	)
	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for _, e := range entries {
		g.Go(func() error {
			spec, err := SpecFromEntry(e)
			if err != nil {
				o.log.Error("Skipping credential", "tenant", e.TenantID, "err", err)
				return nil
			}
			if _, err := o.StartSession(ctx, spec); err != nil {
				return nil
			}
			mu.Lock()
			started++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	o.log.Info("Bootstrap finished", "started", started, "total", len(entries))
	return started
}
