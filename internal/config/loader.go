package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"whisper"},
	"tts": {"openai", "coqui", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Discord.Token == "" {
		errs = append(errs, errors.New("discord.token is required"))
	}
	if cfg.Discord.GuildID == "" {
		errs = append(errs, errors.New("discord.guild_id is required"))
	}
	if cfg.Discord.VoiceChannelID == "" {
		errs = append(errs, errors.New("discord.voice_channel_id is required"))
	}

	if cfg.Gateway.URL == "" {
		errs = append(errs, errors.New("gateway.url is required"))
	}
	if cfg.Gateway.SessionKey == "" {
		errs = append(errs, errors.New("gateway.session_key is required"))
	}

	if cfg.Wake.Phrase == "" {
		errs = append(errs, errors.New("wake.phrase is required"))
	}

	validateProviderName("stt", cfg.STT.Name)
	if cfg.STT.Name == "whisper" && cfg.STT.BaseURL == "" {
		errs = append(errs, errors.New("stt.base_url is required for the whisper provider"))
	}

	validateProviderName("tts", cfg.TTS.Primary.Name)
	validateProviderName("tts", cfg.TTS.Fallback.Name)
	if cfg.TTS.Primary.Name == "" {
		errs = append(errs, errors.New("tts.primary.name is required"))
	}
	if !cfg.TTS.Override.IsValid() {
		errs = append(errs, fmt.Errorf("tts.override %q is invalid; valid values: primary, fallback", cfg.TTS.Override))
	}
	if cfg.TTS.Override == OverrideFallback && cfg.TTS.Fallback.Name == "" {
		errs = append(errs, errors.New("tts.override is \"fallback\" but tts.fallback is not configured"))
	}
	if cfg.TTS.Fallback.Name == "" {
		slog.Warn("tts.fallback is not configured; a primary synthesis outage will leave the assistant mute")
	}

	if cfg.Queue.DefaultMode != "" && !cfg.Queue.DefaultMode.IsValid() {
		errs = append(errs, fmt.Errorf("queue.default_mode %q is invalid; valid values: wait, queue", cfg.Queue.DefaultMode))
	}

	if cfg.History.PostgresDSN == "" {
		slog.Warn("history.postgres_dsn is empty; transcripts will not survive restarts")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
