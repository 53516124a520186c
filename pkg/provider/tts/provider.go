// Package tts defines the Provider interface for text-to-speech backends.
//
// Every backend honours the same contract: text in, playable audio byte
// stream out. A non-success response or a missing body is a failure; a
// provider never returns an empty stream as a silent substitute for an error.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"io"
)

// Backend names the fixed set of speech-synthesis providers.
type Backend string

const (
	BackendElevenLabs Backend = "elevenlabs"
	BackendOpenAI     Backend = "openai"
	BackendCoqui      Backend = "coqui"
)

// IsValid reports whether b is a recognised backend name.
func (b Backend) IsValid() bool {
	switch b {
	case BackendElevenLabs, BackendOpenAI, BackendCoqui:
		return true
	}
	return false
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text into an audio byte stream. The caller owns the
	// returned reader and must close it. Returns an error on any non-success
	// response; the stream is never nil on a nil error.
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}
