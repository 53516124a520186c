// Package mock provides a recording test double for the audio.Player
// interface. It captures played streams and cues and exposes the playing and
// waiting flags for direct manipulation in tests.
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Player = (*Player)(nil)

// Player is a mock implementation of audio.Player.
type Player struct {
	mu sync.Mutex

	// Streams records the full contents of every stream passed to PlayStream.
	Streams [][]byte

	// Cues records every cue passed to PlayCue, in order.
	Cues []audio.Cue

	// StreamErr, if non-nil, is returned from PlayStream.
	StreamErr error

	// Stops counts Stop invocations.
	Stops int

	playing bool
	waiting bool
}

// PlayStream drains and records the stream.
func (p *Player) PlayStream(_ context.Context, stream io.Reader) error {
	data, err := io.ReadAll(stream)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.Streams = append(p.Streams, data)
	err = p.StreamErr
	p.mu.Unlock()
	return err
}

// PlayCue records the cue.
func (p *Player) PlayCue(_ context.Context, cue audio.Cue) error {
	p.mu.Lock()
	p.Cues = append(p.Cues, cue)
	p.mu.Unlock()
	return nil
}

// StartWaiting sets the waiting and playing flags.
func (p *Player) StartWaiting() {
	p.mu.Lock()
	p.waiting = true
	p.playing = true
	p.mu.Unlock()
}

// StopWaiting clears the waiting and playing flags.
func (p *Player) StopWaiting() {
	p.mu.Lock()
	p.waiting = false
	p.playing = false
	p.mu.Unlock()
}

// Stop records the call and clears both flags.
func (p *Player) Stop() {
	p.mu.Lock()
	p.Stops++
	p.playing = false
	p.waiting = false
	p.mu.Unlock()
}

// IsPlaying reports the playing flag.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// IsWaiting reports the waiting flag.
func (p *Player) IsWaiting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}

// SetPlaying sets the playing flag directly, for tests that simulate audio
// in progress.
func (p *Player) SetPlaying(playing bool) {
	p.mu.Lock()
	p.playing = playing
	p.mu.Unlock()
}

// SetWaiting sets both flags to simulate the waiting tone in progress.
func (p *Player) SetWaiting(waiting bool) {
	p.mu.Lock()
	p.waiting = waiting
	p.playing = waiting
	p.mu.Unlock()
}

// CueCount returns how many cues of the given kind were played.
func (p *Player) CueCount(cue audio.Cue) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n int
	for _, c := range p.Cues {
		if c == cue {
			n++
		}
	}
	return n
}
