package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/wakecmd/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
wake_word:
  token: ai
`

const watcherUpdatedYAML = `
server:
  log_level: debug
wake_word:
  token: jarvis
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// startWatcher creates a watcher on a fresh file and runs it until the test
// ends.
func startWatcher(t *testing.T, content string, onChange func(old, new *config.Config), opts ...config.WatcherOption) (*config.Watcher, string) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, content)

	opts = append([]config.WatcherOption{config.WithInterval(20 * time.Millisecond)}, opts...)
	w, err := config.NewWatcher(cfgPath, onChange, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, cfgPath
}

// counter records callback invocations.
type counter struct {
	mu       sync.Mutex
	calls    int
	old, new *config.Config
	fired    chan struct{}
}

func newCounter() *counter { return &counter{fired: make(chan struct{}, 8)} }

func (c *counter) onChange(old, new *config.Config) {
	c.mu.Lock()
	c.calls++
	c.old, c.new = old, new
	c.mu.Unlock()
	c.fired <- struct{}{}
}

func (c *counter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := startWatcher(t, watcherValidYAML, nil)
	cfg := w.Current()
	if cfg.Server.LogLevel != config.LogInfo || cfg.WakeWord.Token != "ai" {
		t.Errorf("initial config = %+v", cfg.Server)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()
	c := newCounter()
	w, path := startWatcher(t, watcherValidYAML, c.onChange)

	time.Sleep(50 * time.Millisecond)
	writeFile(t, path, watcherUpdatedYAML)

	select {
	case <-c.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.old.WakeWord.Token != "ai" || c.new.WakeWord.Token != "jarvis" {
		t.Errorf("wake word old=%q new=%q", c.old.WakeWord.Token, c.new.WakeWord.Token)
	}
	d := config.Diff(c.old, c.new)
	if !d.LogLevelChanged || !d.WakeWordChanged || len(d.RestartRequired) != 0 {
		t.Errorf("diff = %+v", d)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level = %q, want debug", w.Current().Server.LogLevel)
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()
	c := newCounter()
	w, path := startWatcher(t, watcherValidYAML, c.onChange)

	time.Sleep(50 * time.Millisecond)
	writeFile(t, path, watcherInvalidYAML)
	time.Sleep(200 * time.Millisecond)

	if n := c.count(); n != 0 {
		t.Errorf("callback called %d times for an invalid config", n)
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() log_level = %q, want the previous info", w.Current().Server.LogLevel)
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	c := newCounter()
	_, path := startWatcher(t, watcherValidYAML, c.onChange)

	time.Sleep(50 * time.Millisecond)
	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if n := c.count(); n != 0 {
		t.Errorf("callback fired %d times for a touch", n)
	}
}

func TestWatcher_OverridesSurviveReload(t *testing.T) {
	t.Parallel()
	c := newCounter()
	w, path := startWatcher(t, watcherValidYAML, c.onChange,
		config.WithOverrides(func(cfg *config.Config) { cfg.WakeWord.Token = "computer" }))

	if got := w.Current().WakeWord.Token; got != "computer" {
		t.Fatalf("initial token = %q, want override", got)
	}

	time.Sleep(50 * time.Millisecond)
	writeFile(t, path, watcherUpdatedYAML)
	select {
	case <-c.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}
	if got := w.Current().WakeWord.Token; got != "computer" {
		t.Errorf("token after reload = %q, want override kept", got)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}
}

func TestWatcher_StopEndsRun(t *testing.T) {
	t.Parallel()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, cfgPath, watcherValidYAML)
	w, err := config.NewWatcher(cfgPath, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	w.Stop()
	w.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
