package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/mockscanner/internal/detector"
	"github.com/banshee-data/mockscanner/internal/monitoring"
)

// DefaultDebounce is how long the file must stay quiet before a reload.
const DefaultDebounce = 250 * time.Millisecond

// ChangeFunc receives the detector settings that changed in a reload and the
// full new settings.
type ChangeFunc func(changes []detector.Setting, cfg *Settings)

// Watcher reloads a settings file when it changes on disk. It watches the
// parent directory so editors that replace the file are handled.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange ChangeFunc

	mu      sync.Mutex
	current *Settings
}

// NewWatcher creates a watcher for path whose last known contents are
// current.
func NewWatcher(path string, current *Settings, onChange ChangeFunc) *Watcher {
	if current == nil {
		current = &Settings{}
	}
	return &Watcher{
		path:     filepath.Clean(path),
		debounce: DefaultDebounce,
		onChange: onChange,
		current:  current,
	}
}

// SetDebounce overrides DefaultDebounce. Call before Run.
func (w *Watcher) SetDebounce(d time.Duration) { w.debounce = d }

// Current returns the last successfully loaded settings.
func (w *Watcher) Current() *Settings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run watches until ctx is cancelled. Reload failures are logged and the
// previous settings kept.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}
	monitoring.Logf("watching %s for settings changes", w.path)

	tick := w.debounce / 2
	if tick <= 0 {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var pending time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.Now()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			monitoring.Logf("settings watcher error: %v", err)
		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < w.debounce {
				continue
			}
			pending = time.Time{}
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		monitoring.Logf("settings reload failed, keeping previous settings: %v", err)
		return
	}
	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	changes := cfg.Changes(old)
	monitoring.Debugf("settings reloaded: %d detector changes", len(changes))
	if w.onChange != nil {
		w.onChange(changes, cfg)
	}
}
