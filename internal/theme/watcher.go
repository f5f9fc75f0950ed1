package theme

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	dark "github.com/thiagokokada/dark-mode-go"

	"github.com/airlock-term/airlock/internal/platform"
)

const reloadDebounce = 100 * time.Millisecond

// Watch reloads user themes whenever the themes file changes and calls
// onChange after each reload. It blocks until ctx is done.
// The parent directory is watched so editors that replace the file by
// rename are picked up.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	if s.path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		themeLog.Warn("themes_watch_add_failed", slog.String("dir", dir), slog.String("error", err.Error()))
		return err
	}

	if reason := platform.FsnotifyWarning(dir); reason != "" {
		themeLog.Warn("themes_watch_unreliable", slog.String("dir", dir), slog.String("reason", reason))
	}

	target := filepath.Clean(s.path)
	var (
		debounceTimer *time.Timer
		timerMu       sync.Mutex
	)
	defer func() {
		timerMu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		timerMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}

			timerMu.Lock()
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				if err := s.Reload(); err != nil {
					themeLog.Warn("user_themes_reload_failed", slog.String("error", err.Error()))
					return
				}
				themeLog.Debug("user_themes_reloaded")
				if onChange != nil {
					onChange()
				}
			})
			timerMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			themeLog.Warn("themes_watch_error", slog.String("error", err.Error()))
		}
	}
}

// WatchSystem calls onChange whenever the OS switches between light and
// dark mode. It blocks until ctx is done.
func (s *Store) WatchSystem(ctx context.Context, onChange func(isDark bool)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, errs, err := dark.WatchDarkMode(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case isDark, ok := <-events:
			if !ok {
				return nil
			}
			if onChange != nil {
				onChange(isDark)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				themeLog.Warn("dark_mode_watch_error", slog.String("error", err.Error()))
			}
		}
	}
}
