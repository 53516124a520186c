package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, yaml string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcherInitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, validYAML)

	w, err := NewWatcher(path, nil, WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Wake.Phrase; got != "hey marvin" {
		t.Fatalf("wake phrase = %q", got)
	}
}

func TestWatcherInitialLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "discord: {}\n")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("NewWatcher must fail on an invalid initial config")
	}
}

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, validYAML)

	var (
		mu      sync.Mutex
		changed []string
	)
	w, err := NewWatcher(path, func(old, new *Config) {
		mu.Lock()
		changed = append(changed, new.Wake.Phrase)
		mu.Unlock()
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	updated := strings.Replace(validYAML, "hey marvin", "hey jeeves", 1)
	writeConfigFile(t, path, updated)
	// Ensure the mtime moves even on filesystems with coarse resolution.
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(changed)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changed) == 0 {
		t.Fatal("onChange never fired")
	}
	if changed[0] != "hey jeeves" {
		t.Fatalf("onChange saw wake phrase %q", changed[0])
	}
	if got := w.Current().Wake.Phrase; got != "hey jeeves" {
		t.Fatalf("Current() wake phrase = %q", got)
	}
}

func TestWatcherKeepsOldConfigOnInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, validYAML)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfigFile(t, path, "not: [valid\n")
	future := time.Now().Add(time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := w.Current().Wake.Phrase; got != "hey marvin" {
		t.Fatalf("invalid edit replaced the config, wake phrase = %q", got)
	}
}

func TestDiff(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFromReader(strings.NewReader(validYAML))
		if err != nil {
			t.Fatalf("LoadFromReader: %v", err)
		}
		return cfg
	}

	t.Run("no changes", func(t *testing.T) {
		if d := Diff(base(), base()); d.Any() {
			t.Fatalf("identical configs produced diff %+v", d)
		}
	})

	t.Run("hot-reloadable fields", func(t *testing.T) {
		old, new := base(), base()
		new.Server.LogLevel = LogDebug
		new.Wake.Phrase = "hey jeeves"
		new.TTS.Override = OverrideFallback
		new.Queue.DefaultMode = QueueModeQueue

		d := Diff(old, new)
		if !d.LogLevelChanged || d.NewLogLevel != LogDebug {
			t.Error("log level change not detected")
		}
		if !d.WakePhraseChanged || d.NewWakePhrase != "hey jeeves" {
			t.Error("wake phrase change not detected")
		}
		if !d.TTSOverrideChanged || d.NewTTSOverride != OverrideFallback {
			t.Error("tts override change not detected")
		}
		if !d.QueueModeChanged || d.NewQueueMode != QueueModeQueue {
			t.Error("queue mode change not detected")
		}
	})

	t.Run("restart-only fields ignored", func(t *testing.T) {
		old, new := base(), base()
		new.Discord.Token = "other-token"
		new.Gateway.URL = "ws://elsewhere:18789"
		if d := Diff(old, new); d.Any() {
			t.Fatalf("restart-only change produced diff %+v", d)
		}
	})
}
