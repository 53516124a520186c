package app

import (
	"github.com/matudnorthrup/openclaw-voice-sub001/internal/config"
	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/stt"
	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/stt/whisper"
	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/tts"
	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/tts/coqui"
	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/tts/elevenlabs"
	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/tts/openai"
)

// captureSampleRate matches the PCM rate the Discord capture layer delivers.
const captureSampleRate = 16000

// DefaultRegistry returns a provider registry with every built-in backend
// registered.
func DefaultRegistry() *config.Registry {
	r := config.NewRegistry()

	r.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		opts := []whisper.Option{
			whisper.WithSampleRate(captureSampleRate),
		}
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(e.BaseURL, opts...)
	})

	r.RegisterTTS("openai", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []openai.Option
		if e.Model != "" {
			opts = append(opts, openai.WithModel(e.Model))
		}
		if e.Voice != "" {
			opts = append(opts, openai.WithVoice(e.Voice))
		}
		if e.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(e.BaseURL))
		}
		return openai.New(e.APIKey, opts...)
	})

	r.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if e.Voice != "" {
			opts = append(opts, coqui.WithSpeaker(e.Voice))
		}
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		return coqui.New(e.BaseURL, opts...)
	})

	r.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if e.Voice != "" {
			opts = append(opts, elevenlabs.WithVoice(e.Voice))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})

	return r
}

// optString extracts a string value from a provider Options map. Returns ""
// if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
