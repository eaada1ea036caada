package config_test

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hamchoi/talkmate/internal/config"
)

const watcherYAML = `
server:
  log_level: info
providers:
  script:
    name: gemini
  tts:
    name: gemini
  stt:
    name: deepgram
`

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, watcherYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log level = %q; want info", got)
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, watcherYAML)

	var calls atomic.Int32
	w, err := config.NewWatcher(path, func(old, cur *config.Config) {
		if old.Server.LogLevel != config.LogInfo || cur.Server.LogLevel != config.LogDebug {
			t.Errorf("onChange(%q -> %q); want info -> debug", old.Server.LogLevel, cur.Server.LogLevel)
		}
		calls.Add(1)
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	// Backdate the mtime so the rewrite below always looks newer.
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	changed := `
server:
  log_level: debug
providers:
  script:
    name: gemini
  tts:
    name: gemini
  stt:
    name: deepgram
`
	writeConfigFile(t, path, changed)

	deadline := time.After(3 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("onChange not called within deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current log level = %q; want debug", got)
	}
}

func TestWatcher_KeepsOldConfigOnInvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, watcherYAML)

	w, err := config.NewWatcher(path, func(_, _ *config.Config) {
		t.Error("onChange must not fire for an invalid config")
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)

	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	writeConfigFile(t, path, "{{ not yaml")

	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current log level = %q; want the previous valid config", got)
	}
}

func TestWatcher_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "nope.yaml"), nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
