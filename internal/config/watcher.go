package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPollInterval is how often a [Watcher] looks at the file.
const DefaultPollInterval = 5 * time.Second

// Watcher keeps the config file on disk and the running service in step.
// It reloads the file when its content changes, re-applies the API key
// environment overrides, and hands the old and new config to a callback.
// A file that no longer validates is logged and skipped; the last good
// config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	getenv   func(string) string
	onChange func(old, new *Config)

	current atomic.Pointer[Config]

	// mu serialises Reload and guards the fingerprint of the last load.
	mu      sync.Mutex
	modTime time.Time
	digest  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultPollInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithEnv replaces the environment lookup used for API key overrides.
// Default: [os.Getenv].
func WithEnv(getenv func(string) string) WatcherOption {
	return func(w *Watcher) { w.getenv = getenv }
}

// NewWatcher loads path and returns a Watcher holding it as the current
// config. Polling starts with [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultPollInterval,
		getenv:   os.Getenv,
		onChange: onChange,
	}
	for _, o := range opts {
		o(w)
	}
	if _, err := w.Reload(); err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	return w, nil
}

// Current returns the last config that loaded and validated.
func (w *Watcher) Current() *Config { return w.current.Load() }

// Run polls the file until ctx is done. Failed reloads are logged and
// retried on the next tick. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := w.Reload(); err != nil {
				slog.Warn("config: reload skipped", "path", w.path, "err", err)
			}
		}
	}
}

// Reload reads the file now. It reports whether the config changed; the
// callback has run by the time it returns. A file whose modification time
// and content are unchanged is not parsed again.
func (w *Watcher) Reload() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return false, err
	}
	if prev := w.current.Load(); prev != nil && info.ModTime().Equal(w.modTime) {
		return false, nil
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(data)
	if prev := w.current.Load(); prev != nil && digest == w.digest {
		w.modTime = info.ModTime()
		return false, nil
	}

	next, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return false, err
	}
	ApplyEnv(next, w.getenv)

	prev := w.current.Swap(next)
	w.modTime, w.digest = info.ModTime(), digest
	if prev == nil {
		return false, nil
	}

	slog.Info("config: reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev, next)
	}
	return true, nil
}
