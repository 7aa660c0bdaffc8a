package manifest

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"pkt.systems/pslog"

	"pkt.systems/oscquery/internal/svcfields"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 200 * time.Millisecond

// Watch reloads the manifest at path whenever it changes and passes every
// manifest that parses to fn. Parse failures are logged and the previous
// manifest stays in effect. The containing directory is watched so atomic
// rename-on-save is observed. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, debounce time.Duration, logger pslog.Logger, fn func(*Manifest)) error {
	logger = svcfields.WithSubsystem(logger, svcfields.Subsystem(svcfields.SysManifest, "watch"))
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("manifest: resolve %s: %w", path, err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("manifest: create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("manifest: watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("manifest.watch.start", "path", abs)

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			logger.Info("manifest.watch.stop", "path", abs)
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			pending = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("manifest.watch.error", "error", err)
		case <-pending:
			pending = nil
			m, err := Load(abs)
			if err != nil {
				logger.Warn("manifest.reload.failed", "path", abs, "error", err)
				continue
			}
			logger.Info("manifest.reload", "path", abs, "methods", len(m.Methods))
			fn(m)
		}
	}
}
