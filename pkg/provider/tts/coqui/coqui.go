// Package coqui provides a local Coqui TTS-backed TTS provider targeting the
// standard Coqui server REST API (GET /api/tts with URL query parameters).
// It implements the tts.Provider interface.
package coqui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/provider/tts"
)

const (
	ttsEndpoint     = "/api/tts"
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent to the server (e.g., "en", "de").
func WithLanguage(lang string) Option {
	return func(p *Provider) {
		p.language = lang
	}
}

// WithSpeaker sets the speaker id for multi-speaker models.
func WithSpeaker(speaker string) Option {
	return func(p *Provider) {
		p.speaker = speaker
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Provider backed by a self-hosted Coqui TTS server.
type Provider struct {
	baseURL    string
	language   string
	speaker    string
	httpClient *http.Client
}

// New creates a Coqui Provider targeting baseURL (e.g., "http://localhost:5002").
func New(baseURL string, opts ...Option) (*Provider, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("coqui: baseURL must not be empty")
	}
	p := &Provider{
		baseURL:    baseURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize performs one batch synthesis call against /api/tts and returns
// the WAV response body as the audio stream.
func (p *Provider) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	q := url.Values{}
	q.Set("text", text)
	q.Set("language_id", p.language)
	if p.speaker != "" {
		q.Set("speaker_id", p.speaker)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.baseURL+ttsEndpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("coqui: build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: synthesize: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("coqui: synthesize: unexpected status %d: %s", resp.StatusCode, detail)
	}
	if resp.Body == nil {
		return nil, errors.New("coqui: synthesize: empty response body")
	}
	return resp.Body, nil
}
