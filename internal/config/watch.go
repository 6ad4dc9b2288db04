package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// Watch reloads the config whenever the file changes and invokes
// onChange with the fresh value. It blocks until ctx is cancelled.
// Reload failures are logged and the previous config stays in effect.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops
	// a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return err
	}

	target := filepath.Clean(path)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		case <-timerC:
			timer = nil
			timerC = nil
			cfg, err := Load(path)
			if err != nil {
				logger.Warn("config reload failed", "path", path, "error", err)
				continue
			}
			logger.Info("config reloaded", "path", path)
			onChange(cfg)
		}
	}
}
