package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads plugins whenever a file changes under the system directory
// or any tenant directory. Bursts of events are coalesced by debounce.
// Blocks until ctx is cancelled.
func Watch(ctx context.Context, systemDir, tenantRoot string, debounce time.Duration, reload func(context.Context) error, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create plugin watcher: %w", err)
	}
	defer w.Close()

	for _, dir := range []string{systemDir, tenantRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create plugin dir: %w", err)
		}
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	entries, _ := os.ReadDir(tenantRoot)
	for _, e := range entries {
		if e.IsDir() {
			if err := w.Add(filepath.Join(tenantRoot, e.Name())); err != nil {
				log.Warn("Cannot watch tenant plugin dir", "tenant", e.Name(), "err", err)
			}
		}
	}

	log.Info("Watching plugin directories", "system", systemDir, "tenants", tenantRoot)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == filepath.Clean(tenantRoot) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := w.Add(ev.Name); err != nil {
						log.Warn("Cannot watch tenant plugin dir", "path", ev.Name, "err", err)
					}
				}
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("Plugin watcher error", "err", err)

		case <-fire:
			fire = nil
			if err := reload(ctx); err != nil {
				log.Error("Plugin reload failed", "err", err)
			} else {
				log.Info("Plugins reloaded after file change")
			}
		}
	}
}
