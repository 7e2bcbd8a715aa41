package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joebot/botmaster/internal/cli"
	"github.com/joebot/botmaster/internal/config"
	"github.com/joebot/botmaster/internal/credential"
	"github.com/joebot/botmaster/internal/logging"
	"github.com/joebot/botmaster/internal/plugin"
	"github.com/joebot/botmaster/internal/transport"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	switch os.Args[1] {
	case "run":
		cmdRun(hasFlag("--dashboard", "-d"))
	case "plugins":
		cmdPlugins()
	case "status":
		cmdStatus()
	case "init", "onboard":
		cli.RunOnboard()
	case "try":
		cmdTry()
	case "version", "--version", "-v":
		fmt.Println(cli.TitleStyle.Render(
			fmt.Sprintf("  %s botmaster v%s", cli.Logo, cli.Version),
		))
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	dim := cli.DimStyle.Render
	fmt.Println()
	fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("  %s botmaster", cli.Logo)) + dim(" · multi-tenant bot sessions"))
	fmt.Println()
	fmt.Println("  " + cli.BoldStyle.Render("Usage"))
	fmt.Println()
	fmt.Printf("    botmaster %-22s %s\n", "run", dim("Start every stored bot"))
	fmt.Printf("    botmaster %-22s %s\n", "run --dashboard", dim("Start with the live session dashboard"))
	fmt.Printf("    botmaster %-22s %s\n", "plugins [tenant]", dim("List loaded plugins"))
	fmt.Printf("    botmaster %-22s %s\n", "try <tenant> \"…\"", dim("Dispatch one message offline"))
	fmt.Printf("    botmaster %-22s %s\n", "status", dim("Show configuration"))
	fmt.Printf("    botmaster %-22s %s\n", "init", dim("Initialize setup"))
	fmt.Printf("    botmaster %-22s %s\n", "version", dim("Show version"))
	fmt.Println()
}

// --- run command ---

func cmdRun(dashboard bool) {
	cfg := mustLoadConfig()
	log := setupLogging(cfg, dashboard)

	entries, err := credential.Load(cfg.CredentialsPath(), cli.CredentialDefaults(cfg))
	if err != nil {
		exitCredentials(cfg, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dialer := transport.NewDiscord(transport.DiscordConfig{
		Intents:    cfg.Transport.Discord.Intents,
		BufferSize: cfg.Transport.Discord.BufferSize,
	})
	rt := cli.NewRuntime(cfg, dialer, log)
	if err := rt.Orch.Init(ctx); err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrStyle.Render("  Error: "+err.Error()))
		os.Exit(1)
	}

	if !dashboard {
		fmt.Println()
		fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("  %s botmaster", cli.Logo)))
		fmt.Println()
	}

	started, err := rt.Bootstrap(ctx, entries)
	if err != nil {
		_ = rt.Orch.Shutdown(context.Background())
		fmt.Println(cli.ErrStyle.Render("  Error: " + err.Error()))
		fmt.Println(cli.DimStyle.Render("  Check the tokens in " + cfg.CredentialsPath() + " and the log, then run again"))
		fmt.Println()
		os.Exit(1)
	}
	if !dashboard {
		for _, s := range rt.Orch.ListAll() {
			fmt.Printf("  %s %s %s\n", cli.OkStyle.Render("✓"), s.DisplayName, cli.DimStyle.Render("("+s.Tenant+")"))
		}
		if failed := len(entries) - started; failed > 0 {
			fmt.Printf("  %s %d bot(s) failed to start, see log\n", cli.ErrStyle.Render("✗"), failed)
		}
		fmt.Println()
	}

	if cfg.Plugins.Watch {
		go func() {
			reload := func(ctx context.Context) error {
				if err := rt.Settings.Load(); err != nil {
					log.Warn("Tenant settings not reloaded", "err", err)
				}
				return rt.Orch.ReloadPlugins(ctx)
			}
			err := plugin.Watch(ctx, cfg.SystemPluginsDir(), cfg.UserPluginsDir(), cfg.Plugins.Debounce(), reload, log)
			if err != nil {
				log.Error("Plugin watcher stopped", "err", err)
			}
		}()
	}

	if dashboard {
		if err := cli.RunDashboard(ctx, rt.Orch); err != nil {
			log.Error("Dashboard error", "err", err)
		}
		cancel()
	} else {
		fmt.Println(cli.DimStyle.Render("  Press Ctrl+C to stop"))
		<-ctx.Done()
		fmt.Println("\n  Shutting down...")
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := rt.Orch.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown incomplete", "err", err)
	}
}

// --- plugins command ---

func cmdPlugins() {
	cfg := mustLoadConfig()
	setupLogging(cfg, false)
	tenantID := ""
	if len(os.Args) > 2 {
		tenantID = os.Args[2]
	}
	rt := cli.NewRuntime(cfg, transport.NewMemory(), nil)
	if err := cli.RunPlugins(context.Background(), rt, os.Stdout, tenantID); err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrStyle.Render("  Error: "+err.Error()))
		os.Exit(1)
	}
}

// --- try command ---

func cmdTry() {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Usage: botmaster try <tenant> \"<message>\"")
		os.Exit(1)
	}
	cfg := mustLoadConfig()
	log := setupLogging(cfg, true)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mem := transport.NewMemory()
	rt := cli.NewRuntime(cfg, mem, log)
	text := strings.Join(os.Args[3:], " ")
	if err := cli.RunTry(ctx, rt, mem, os.Args[2], text); err != nil {
		os.Exit(1)
	}
}

// --- status command ---

func cmdStatus() {
	cfg := mustLoadConfig()
	cli.RunStatus(cfg)
}

// --- helpers ---

func hasFlag(names ...string) bool {
	for _, arg := range os.Args[2:] {
		for _, n := range names {
			if arg == n {
				return true
			}
		}
	}
	return false
}

// setupLogging writes to stderr, or to the log file when a TUI owns the
// terminal.
func setupLogging(cfg *config.Config, toFile bool) *slog.Logger {
	level, _ := logging.ParseLevel(cfg.Log.Level)
	if !toFile {
		return logging.Setup(os.Stderr, level, cfg.Log.Color)
	}

	var w io.Writer = io.Discard
	path := cfg.LogFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
		if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			w = f
		}
	}
	return logging.Setup(w, level, false)
}

func mustLoadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, cli.ErrStyle.Render("  "+err.Error()))
		os.Exit(1)
	}
	return cfg
}

func exitCredentials(cfg *config.Config, err error) {
	fmt.Println()
	fmt.Println(cli.ErrStyle.Render("  Error: " + err.Error()))
	switch {
	case errors.Is(err, credential.ErrCredentialsMissing):
		fmt.Println(cli.DimStyle.Render("  An empty credentials file was created at " + cfg.CredentialsPath()))
		fmt.Println(cli.DimStyle.Render(`  Add at least one bot: [{"tenantId": "me", "authState": {"token": "<discord bot token>"}}]`))
	case errors.Is(err, credential.ErrNoCredentials):
		fmt.Println(cli.DimStyle.Render("  Add at least one bot to " + cfg.CredentialsPath()))
	default:
		fmt.Println(cli.DimStyle.Render("  Fix " + cfg.CredentialsPath() + " and run again"))
	}
	fmt.Println()
	os.Exit(1)
}
