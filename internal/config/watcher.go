package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/boardlink/pkg/log"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 100 * time.Millisecond

// ReloadFunc receives the configuration after a successful reload.
type ReloadFunc func(cfg Config)

// Watcher reloads the config file when it changes and hands the
// hot-reloadable settings to a callback. Other changes need a restart and
// are only logged.
type Watcher struct {
	path     string
	base     Config
	changed  map[string]bool
	onReload ReloadFunc
	logger   log.Logger
	debounce time.Duration

	mu      sync.Mutex
	current Config
	timer   *time.Timer
}

// NewWatcher watches path. base is the configuration before the file and
// environment were applied (defaults plus flags) and current is the
// configuration in effect.
func NewWatcher(path string, base, current Config, changed map[string]bool, onReload ReloadFunc, logger log.Logger) *Watcher {
	return &Watcher{
		path:     path,
		base:     base,
		changed:  changed,
		onReload: onReload,
		logger:   log.OrNoop(logger),
		debounce: DefaultDebounce,
		current:  current,
	}
}

// Current returns the configuration in effect.
func (w *Watcher) Current() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches the file's directory until ctx is done. Editors replace
// files by rename, so the directory is watched rather than the file.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir, name := filepath.Split(w.path)
	if dir == "" {
		dir = "."
	}
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("watching config file", log.String("path", w.path))

	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.schedule()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", log.Err(err))
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.Reload(); err != nil {
			w.logger.Warn("config reload failed, keeping previous settings", log.Err(err))
		}
	})
}

// Reload rereads the file and applies the reloadable settings.
func (w *Watcher) Reload() error {
	next := w.base
	fc, err := LoadFileConfig(w.path)
	if err != nil {
		return fmt.Errorf("load %s: %w", w.path, err)
	}
	if err := ApplyFileConfig(&next, fc, w.changed); err != nil {
		return err
	}
	if err := ApplyEnvConfig(&next, w.changed); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	w.mu.Lock()
	merged := Reloadable(w.current, next)
	if merged != next {
		w.logger.Warn("config changes outside log level and stream intervals need a restart")
	}
	changed := merged != w.current
	w.current = merged
	w.mu.Unlock()

	if !changed {
		return nil
	}
	w.logger.Info("config reloaded",
		log.String("log_level", merged.LogLevel),
		log.Duration("camera_interval", merged.CameraInterval),
		log.Duration("audio_interval", merged.AudioInterval),
	)
	if w.onReload != nil {
		w.onReload(merged)
	}
	return nil
}

// Reloadable returns cur with the hot-reloadable fields of next.
func Reloadable(cur, next Config) Config {
	cur.LogLevel = next.LogLevel
	cur.CameraInterval = next.CameraInterval
	cur.AudioInterval = next.AudioInterval
	return cur
}
