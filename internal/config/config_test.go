package config

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/tts"
)

type ttsStub struct{ voice string }

func (s ttsStub) Synthesize(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader("")), nil
}

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: info
discord:
  token: "bot-token"
  guild_id: "guild-1"
  voice_channel_id: "voice-1"
  text_channel_id: "text-1"
gateway:
  url: "ws://localhost:18789"
  token: "gw-token"
  session_key: "agent:main:voice"
stt:
  name: whisper
  base_url: "http://localhost:8080"
  model: "ggml-base.en"
tts:
  primary:
    name: openai
    api_key: "sk-test"
    voice: "alloy"
  fallback:
    name: coqui
    base_url: "http://localhost:5002"
wake:
  phrase: "hey marvin"
queue:
  path: "/var/lib/voice/queue.json"
  default_mode: wait
history:
  postgres_dsn: "postgres://voice@localhost/voice"
`

func TestLoadFromReaderValid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log level = %q", cfg.Server.LogLevel)
	}
	if cfg.Discord.VoiceChannelID != "voice-1" {
		t.Errorf("voice channel = %q", cfg.Discord.VoiceChannelID)
	}
	if cfg.Gateway.SessionKey != "agent:main:voice" {
		t.Errorf("session key = %q", cfg.Gateway.SessionKey)
	}
	if cfg.TTS.Primary.Name != "openai" || cfg.TTS.Fallback.Name != "coqui" {
		t.Errorf("tts providers = %q/%q", cfg.TTS.Primary.Name, cfg.TTS.Fallback.Name)
	}
	if cfg.Wake.Phrase != "hey marvin" {
		t.Errorf("wake phrase = %q", cfg.Wake.Phrase)
	}
	if cfg.Queue.DefaultMode != QueueModeWait {
		t.Errorf("queue mode = %q", cfg.Queue.DefaultMode)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	yaml := validYAML + "\nunknown_section:\n  foo: bar\n"
	if _, err := LoadFromReader(strings.NewReader(yaml)); err == nil {
		t.Fatal("unknown top-level field must be rejected")
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{LogLevel: "verbose"},
		TTS:    TTSConfig{Override: "loudest"},
		Queue:  QueueConfig{DefaultMode: "stack"},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Validate must fail for an empty config")
	}

	for _, want := range []string{
		"server.log_level",
		"discord.token is required",
		"discord.guild_id is required",
		"discord.voice_channel_id is required",
		"gateway.url is required",
		"gateway.session_key is required",
		"wake.phrase is required",
		"tts.primary.name is required",
		"tts.override",
		"queue.default_mode",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error does not mention %q:\n%v", want, err)
		}
	}
}

func TestValidateWhisperNeedsBaseURL(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.STT.BaseURL = ""

	err = Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "stt.base_url") {
		t.Fatalf("err = %v, want stt.base_url requirement", err)
	}
}

func TestValidateOverrideFallbackNeedsFallback(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	cfg.TTS.Override = OverrideFallback
	cfg.TTS.Fallback = ProviderEntry{}

	err = Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "tts.fallback is not configured") {
		t.Fatalf("err = %v, want fallback requirement", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir() + "/nope.yaml")
	if err == nil {
		t.Fatal("Load must fail for a missing file")
	}
}

func TestRouteOverrideIsValid(t *testing.T) {
	for _, o := range []RouteOverride{OverrideNone, OverridePrimary, OverrideFallback} {
		if !o.IsValid() {
			t.Errorf("%q should be valid", o)
		}
	}
	if RouteOverride("both").IsValid() {
		t.Error("unknown override accepted")
	}
}

func TestRegistryCreate(t *testing.T) {
	r := NewRegistry()
	r.RegisterTTS("stub", func(e ProviderEntry) (tts.Provider, error) {
		return ttsStub{voice: e.Voice}, nil
	})

	t.Run("registered", func(t *testing.T) {
		p, err := r.CreateTTS(ProviderEntry{Name: "stub", Voice: "alloy"})
		if err != nil {
			t.Fatalf("CreateTTS: %v", err)
		}
		if p.(ttsStub).voice != "alloy" {
			t.Fatal("entry not passed through to the factory")
		}
	})

	t.Run("unregistered", func(t *testing.T) {
		if _, err := r.CreateSTT(ProviderEntry{Name: "nope"}); !errors.Is(err, ErrProviderNotRegistered) {
			t.Fatalf("err = %v, want ErrProviderNotRegistered", err)
		}
	})
}
