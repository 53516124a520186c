package app

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/matudnorthrup/openclaw-voice-sub001/internal/config"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/queue"
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/resilience"
	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/tts"
	ttsmock "github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/tts/mock"
)

func TestDefaultRegistryCreatesAllBackends(t *testing.T) {
	r := DefaultRegistry()

	if _, err := r.CreateSTT(config.ProviderEntry{Name: "whisper", BaseURL: "http://localhost:8080"}); err != nil {
		t.Fatalf("create whisper: %v", err)
	}

	ttsEntries := []config.ProviderEntry{
		{Name: "openai", APIKey: "sk-test", Model: "gpt-4o-mini-tts", Voice: "alloy"},
		{Name: "coqui", BaseURL: "http://localhost:5002", Voice: "p225", Options: map[string]any{"language": "en"}},
		{Name: "elevenlabs", APIKey: "el-test", Voice: "rachel"},
	}
	for _, e := range ttsEntries {
		if _, err := r.CreateTTS(e); err != nil {
			t.Fatalf("create %s: %v", e.Name, err)
		}
	}

	if _, err := r.CreateTTS(config.ProviderEntry{Name: "nonexistent"}); !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Fatalf("unknown backend error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestInitQueueAppliesDefaultModeOnFreshStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	a := &App{cfg: &config.Config{}}
	a.cfg.Queue.Path = path
	a.cfg.Queue.DefaultMode = config.QueueModeQueue

	if err := a.initQueue(); err != nil {
		t.Fatalf("initQueue: %v", err)
	}
	if got := a.store.Mode(); got != queue.ModeQueue {
		t.Fatalf("mode = %q, want queue", got)
	}
}

func TestInitQueueKeepsPersistedMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	existing, err := queue.Open(path)
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	if err := existing.SetMode(queue.ModeWait); err != nil {
		t.Fatalf("seed mode: %v", err)
	}

	a := &App{cfg: &config.Config{}}
	a.cfg.Queue.Path = path
	a.cfg.Queue.DefaultMode = config.QueueModeQueue

	if err := a.initQueue(); err != nil {
		t.Fatalf("initQueue: %v", err)
	}
	if got := a.store.Mode(); got != queue.ModeWait {
		t.Fatalf("mode = %q, config default overrode persisted state", got)
	}
}

func TestApplyReloadUpdatesSubsystems(t *testing.T) {
	lv := new(slog.LevelVar)
	primary := &ttsmock.Provider{Audio: []byte("a")}
	fallback := &ttsmock.Provider{Audio: []byte("b")}

	path := filepath.Join(t.TempDir(), "queue.json")
	store, err := queue.Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	old := &config.Config{}
	old.Server.LogLevel = config.LogInfo
	old.Wake.Phrase = "hey marvin"
	old.TTS.Primary.Name = "openai"
	old.TTS.Fallback.Name = "coqui"
	old.Queue.DefaultMode = config.QueueModeWait

	a := &App{
		cfg:      old,
		logLevel: lv,
		store:    store,
		ttsRouter: resilience.NewRouter("openai", primary,
			resilience.WithFallback("coqui", fallback)),
	}

	updated := *old
	updated.Server.LogLevel = config.LogDebug
	updated.TTS.Override = config.OverrideFallback
	updated.Queue.DefaultMode = config.QueueModeQueue

	a.ApplyReload(old, &updated)

	if lv.Level() != slog.LevelDebug {
		t.Fatalf("log level = %v, want debug", lv.Level())
	}
	if got := store.Mode(); got != queue.ModeQueue {
		t.Fatalf("queue mode = %q, want queue", got)
	}
	rc, err := a.ttsRouter.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	rc.Close()
	if fallback.CallCount() != 1 || primary.CallCount() != 0 {
		t.Fatalf("override not applied: primary=%d fallback=%d", primary.CallCount(), fallback.CallCount())
	}
}

func TestApplyReloadIgnoresUnchangedConfig(t *testing.T) {
	lv := new(slog.LevelVar)
	lv.Set(slog.LevelWarn)

	cfg := &config.Config{}
	cfg.Server.LogLevel = config.LogWarn
	a := &App{cfg: cfg, logLevel: lv}

	same := *cfg
	a.ApplyReload(cfg, &same)

	if lv.Level() != slog.LevelWarn {
		t.Fatalf("log level changed on a no-op reload")
	}
}

func TestMultiRecorderJoinsErrors(t *testing.T) {
	var calls int
	ok := recorderFunc(func(context.Context, string, string, string) error {
		calls++
		return nil
	})
	boom := errors.New("mirror down")
	failing := recorderFunc(func(context.Context, string, string, string) error {
		calls++
		return boom
	})

	m := multiRecorder{ok, failing, ok}
	err := m.Record(context.Background(), "session-1", "user", "hello")
	if calls != 3 {
		t.Fatalf("calls = %d, want every recorder invoked", calls)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want joined mirror error", err)
	}
}

func TestSlogLevelMapping(t *testing.T) {
	cases := map[config.LogLevel]slog.Level{
		config.LogDebug: slog.LevelDebug,
		config.LogInfo:  slog.LevelInfo,
		config.LogWarn:  slog.LevelWarn,
		config.LogError: slog.LevelError,
		"":              slog.LevelInfo,
	}
	for in, want := range cases {
		if got := slogLevel(in); got != want {
			t.Fatalf("slogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOverrideBackendResolution(t *testing.T) {
	cfg := &config.Config{}
	cfg.TTS.Primary.Name = "openai"
	cfg.TTS.Fallback.Name = "coqui"
	a := &App{cfg: cfg}

	if got := a.overrideBackend(config.OverridePrimary); got != tts.Backend("openai") {
		t.Fatalf("primary override = %q", got)
	}
	if got := a.overrideBackend(config.OverrideFallback); got != tts.Backend("coqui") {
		t.Fatalf("fallback override = %q", got)
	}
	if got := a.overrideBackend(config.OverrideNone); got != "" {
		t.Fatalf("no override = %q, want empty", got)
	}
}

// recorderFunc adapts a function to the pipeline Recorder contract.
type recorderFunc func(ctx context.Context, sessionKey, role, content string) error

func (f recorderFunc) Record(ctx context.Context, sessionKey, role, content string) error {
	return f(ctx, sessionKey, role, content)
}
