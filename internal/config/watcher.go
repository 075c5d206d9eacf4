package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often [Watcher.Run] polls the file.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives the diff between the previous and the newly loaded
// configuration, and the new configuration itself.
type ChangeFunc func(d ConfigDiff, next *Config)

// Watcher polls a config file for edits. An edit is reported only when the
// file's content changed and the new content loads and validates; otherwise
// the last good config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	seen    fileState
}

// fileState identifies a version of the file: mtime gates the cheaper check,
// the content hash decides.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values are ignored.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the logger. Default: slog.Default.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads path once and returns a watcher holding it as the current
// config. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.With("component", "config", "path", path)

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.seen = cfg, st
	return w, nil
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done. Load failures are logged and retried on the
// next tick. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := w.Check(); err != nil {
				w.log.Warn("config reload failed; keeping previous config", "err", err)
			}
		}
	}
}

// Check polls the file once. It reports whether a new config was adopted;
// in that case onChange has already run. A file that fails to load leaves
// the current config in place and returns the error.
func (w *Watcher) Check() (bool, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.seen.mtime)
	w.mu.Unlock()
	if unchanged {
		return false, nil
	}

	cfg, st, err := w.read()
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if st.sum == w.seen.sum {
		// Touched, not edited.
		w.seen.mtime = st.mtime
		w.mu.Unlock()
		return false, nil
	}
	prev := w.current
	w.current, w.seen = cfg, st
	w.mu.Unlock()

	d := Diff(prev, cfg)
	w.log.Info("configuration reloaded",
		"log_level_changed", d.LogLevelChanged,
		"device_changed", d.DeviceChanged,
		"restart_required", d.RestartRequired,
	)
	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(d, cfg)
	}
	return true, nil
}

func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{mtime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
