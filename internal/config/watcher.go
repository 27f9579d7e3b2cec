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

// DefaultWatchInterval is the polling interval used by [Watcher.Run].
const DefaultWatchInterval = 5 * time.Second

// Watcher tracks a config file on disk. Each reload is validated and
// compared with the current config via [Diff]; onChange only fires when the
// diff is non-empty, so comment or formatting edits are silent. An invalid
// edit keeps the last valid config and is reported by [Watcher.Err] until the
// file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(ConfigDiff, *Config)

	reloadMu sync.Mutex // serialises reloads

	mu      sync.Mutex
	current *Config
	modTime time.Time
	sum     [sha256.Size]byte
	lastErr error
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and returns a watcher holding it. Polling starts with
// [Watcher.Run].
func NewWatcher(path string, onChange func(ConfigDiff, *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	info, data, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.modTime, w.sum = cfg, info.ModTime(), sha256.Sum256(data)
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Err returns the error of the last reload attempt, or nil when the file on
// disk is the config in use.
func (w *Watcher) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Run polls the file until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_, _ = w.reload(false)
		}
	}
}

// Reload re-reads the file regardless of its modification time, as for a
// SIGHUP, and returns the applied diff.
func (w *Watcher) Reload() (ConfigDiff, error) {
	return w.reload(true)
}

func (w *Watcher) reload(force bool) (ConfigDiff, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return ConfigDiff{}, w.fail(err, time.Time{})
	}

	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.modTime)
	w.mu.Unlock()
	if unchanged && !force {
		return ConfigDiff{}, nil
	}

	info, data, err := w.read()
	if err != nil {
		return ConfigDiff{}, w.fail(err, time.Time{})
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	if sum == w.sum {
		// Touched or reverted to the config in use.
		w.modTime, w.lastErr = info.ModTime(), nil
		w.mu.Unlock()
		return ConfigDiff{}, nil
	}
	w.mu.Unlock()

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return ConfigDiff{}, w.fail(err, info.ModTime())
	}

	w.mu.Lock()
	d := Diff(w.current, cfg)
	w.current, w.modTime, w.sum, w.lastErr = cfg, info.ModTime(), sum, nil
	w.mu.Unlock()

	if !d.Changed() {
		slog.Debug("config reloaded without effective changes", "path", w.path)
		return d, nil
	}
	slog.Info("config reloaded", "path", w.path,
		"log_level_changed", d.LogLevelChanged, "restart_required", d.RestartRequired)
	if w.onChange != nil {
		w.onChange(d, cfg)
	}
	return d, nil
}

// fail records err. A non-zero modTime marks that file version as seen so
// polling does not report it again.
func (w *Watcher) fail(err error, modTime time.Time) error {
	err = fmt.Errorf("config: reload %s: %w", w.path, err)
	w.mu.Lock()
	w.lastErr = err
	if !modTime.IsZero() {
		w.modTime = modTime
	}
	w.mu.Unlock()
	slog.Warn("config reload rejected; keeping previous config", "err", err)
	return err
}

func (w *Watcher) read() (os.FileInfo, []byte, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, nil, err
	}
	return info, data, nil
}
