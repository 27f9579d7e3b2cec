package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/hrvoice/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
providers:
  stt:
    name: mock
  llm:
    name: mock
  tts:
    name: mock
  moderation:
    name: mock
voice:
  rate_limit:
    limit: 10
`

const watcherUpdatedYAML = `
server:
  log_level: debug
providers:
  stt:
    name: mock
  llm:
    name: mock
  tts:
    name: mock
  moderation:
    name: mock
voice:
  rate_limit:
    limit: 20
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

// watcherCommentOnlyYAML differs from watcherValidYAML in text only.
const watcherCommentOnlyYAML = `
# rate limit raised during open enrolment
server:
  log_level: info
providers:
  stt:
    name: mock
  llm:
    name: mock
  tts:
    name: mock
  moderation:
    name: mock
voice:
  rate_limit:
    limit: 10   # per user per minute
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// changeRecorder collects onChange calls.
type changeRecorder struct {
	mu    sync.Mutex
	diffs []config.ConfigDiff
	cfgs  []*config.Config
	fired chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{fired: make(chan struct{}, 8)}
}

func (r *changeRecorder) onChange(d config.ConfigDiff, cfg *config.Config) {
	r.mu.Lock()
	r.diffs = append(r.diffs, d)
	r.cfgs = append(r.cfgs, cfg)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *changeRecorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.diffs)
}

func newTestWatcher(t *testing.T, content string) (*config.Watcher, string, *changeRecorder) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	rec := newChangeRecorder()
	w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, path, rec
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _, _ := newTestWatcher(t, watcherValidYAML)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Voice.RateLimit.Limit != 10 {
		t.Errorf("initial config: log_level=%q limit=%d", cfg.Server.LogLevel, cfg.Voice.RateLimit.Limit)
	}
	if err := w.Err(); err != nil {
		t.Errorf("Err() after clean load = %v", err)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherInvalidYAML)
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_ReloadReportsDiff(t *testing.T) {
	t.Parallel()
	w, path, rec := newTestWatcher(t, watcherValidYAML)

	writeFile(t, path, watcherUpdatedYAML)
	d, err := w.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("log level change not reported: %+v", d)
	}
	if !slices.Contains(d.RestartRequired, "voice.rate_limit") {
		t.Errorf("RestartRequired = %v, want voice.rate_limit", d.RestartRequired)
	}
	if rec.calls() != 1 {
		t.Fatalf("onChange calls = %d, want 1", rec.calls())
	}
	if rec.cfgs[0].Voice.RateLimit.Limit != 20 {
		t.Errorf("callback config limit = %d, want 20", rec.cfgs[0].Voice.RateLimit.Limit)
	}
	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current() log_level = %q, want debug", got)
	}
}

func TestWatcher_CommentOnlyEditIsSilent(t *testing.T) {
	t.Parallel()
	w, path, rec := newTestWatcher(t, watcherValidYAML)

	writeFile(t, path, watcherCommentOnlyYAML)
	d, err := w.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if d.Changed() {
		t.Errorf("comment-only edit produced diff %+v", d)
	}
	if rec.calls() != 0 {
		t.Errorf("onChange fired %d times for a comment-only edit", rec.calls())
	}
}

func TestWatcher_InvalidEditKeepsConfigUntilFixed(t *testing.T) {
	t.Parallel()
	w, path, rec := newTestWatcher(t, watcherValidYAML)

	writeFile(t, path, watcherInvalidYAML)
	if _, err := w.Reload(); err == nil {
		t.Fatal("Reload of invalid file should fail")
	}
	if err := w.Err(); err == nil {
		t.Error("Err() should report the rejected edit")
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() should keep the valid config, got log_level=%q", got)
	}
	if rec.calls() != 0 {
		t.Errorf("onChange fired for invalid config")
	}

	// Reverting to the config in use clears the error without a callback.
	writeFile(t, path, watcherValidYAML)
	if _, err := w.Reload(); err != nil {
		t.Fatalf("Reload after revert: %v", err)
	}
	if err := w.Err(); err != nil {
		t.Errorf("Err() after revert = %v", err)
	}
	if rec.calls() != 0 {
		t.Errorf("revert should not fire onChange")
	}
}

func TestWatcher_MissingFileReported(t *testing.T) {
	t.Parallel()
	w, path, _ := newTestWatcher(t, watcherValidYAML)

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	_, err := w.Reload()
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Reload error = %v, want ErrNotExist", err)
	}
	if w.Current() == nil {
		t.Error("Current() should survive a deleted file")
	}
}

func TestWatcher_RunPollsUntilCancelled(t *testing.T) {
	t.Parallel()
	w, path, rec := newTestWatcher(t, watcherValidYAML)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Push the mtime forward so coarse filesystem clocks still see a change.
	writeFile(t, path, watcherUpdatedYAML)
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not pick up the change")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v after cancel", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	w, path, rec := newTestWatcher(t, watcherValidYAML)

	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("touch: %v", err)
	}
	d, err := w.Reload()
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if d.Changed() || rec.calls() != 0 {
		t.Errorf("touch-only reload: diff=%+v calls=%d", d, rec.calls())
	}
}
