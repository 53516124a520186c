// Package stt defines the Provider interface for speech-to-text backends.
//
// An STT provider turns one recorded utterance into text in a single batch
// call. The orchestration layer hands it complete utterances (the voice
// capture layer segments speech before transcription), so no streaming
// session abstraction is needed here.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Provider is the abstraction over any batch speech-to-text backend.
type Provider interface {
	// Transcribe converts one utterance of raw 16-bit signed little-endian
	// PCM audio into text. An empty string with a nil error means the backend
	// heard only silence or noise.
	Transcribe(ctx context.Context, pcm []byte) (string, error)
}
