// Package audio defines the playback controller contract consumed by the
// interaction pipeline, plus the small PCM utilities (tone synthesis, channel
// and sample-rate conversion) the platform adapters share.
//
// A Player speaks three kinds of audio: synthesized speech streams, short
// notification cues (earcons), and a looping "waiting" indicator tone played
// while a request is in flight. The pipeline distinguishes the waiting tone
// from real playback: an utterance arriving during the waiting tone does not
// interrupt it, while an utterance during speech playback does.
//
// Platform-specific implementations live in subpackages (audio/discord); a
// recording test double lives in audio/mock.
package audio

import (
	"context"
	"io"
)

// Cue identifies a short non-speech notification sound.
type Cue int

const (
	// CueAcknowledge confirms a request was understood and accepted.
	CueAcknowledge Cue = iota
	// CueError signals that something went wrong.
	CueError
	// CueCancel confirms a cancellation.
	CueCancel
	// CueNotify announces that a queued response became ready.
	CueNotify
	// CueMissedWake nudges the user after a near-miss wake attempt.
	CueMissedWake
)

// String returns the cue name for logs.
func (c Cue) String() string {
	switch c {
	case CueAcknowledge:
		return "acknowledge"
	case CueError:
		return "error"
	case CueCancel:
		return "cancel"
	case CueNotify:
		return "notify"
	case CueMissedWake:
		return "missed-wake"
	default:
		return "unknown"
	}
}

// Player is the playback controller contract. Implementations must be safe
// for concurrent use: the pipeline may call Stop from one goroutine while a
// PlayStream call is blocked in another.
type Player interface {
	// PlayStream plays a speech audio stream to completion. The stream
	// carries 16-bit signed little-endian mono PCM at the sample rate the
	// player was configured with; a leading RIFF/WAVE header, if present, is
	// skipped. PlayStream blocks until the stream ends, Stop is called, or
	// ctx is cancelled.
	PlayStream(ctx context.Context, stream io.Reader) error

	// PlayCue plays one short notification cue to completion.
	PlayCue(ctx context.Context, cue Cue) error

	// StartWaiting begins the looping waiting indicator tone. It keeps
	// looping until StopWaiting or Stop is called. Calling StartWaiting while
	// already waiting is a no-op.
	StartWaiting()

	// StopWaiting stops the waiting indicator tone if it is playing.
	StopWaiting()

	// Stop immediately stops whatever is playing, waiting tone included, and
	// discards any buffered audio.
	Stop()

	// IsPlaying reports whether any audio (speech, cue or waiting tone) is
	// currently being played.
	IsPlaying() bool

	// IsWaiting reports whether the looping waiting tone specifically is
	// playing.
	IsWaiting() bool
}
