// Package discord implements the audio.Player contract on top of a
// discordgo voice connection, encoding PCM to Opus with gopus, and exposes
// the Opus decoder the voice-capture side uses for incoming packets.
package discord

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Player = (*Player)(nil)

// Option is a functional option for configuring a Player.
type Option func(*Player)

// WithInputSampleRate sets the sample rate of the mono PCM streams handed to
// PlayStream. Defaults to 24000, matching common speech-synthesis PCM output.
func WithInputSampleRate(rate int) Option {
	return func(p *Player) {
		if rate > 0 {
			p.inputRate = rate
		}
	}
}

// Player plays speech streams, cues and the waiting tone into one Discord
// voice connection. At most one playback runs at a time; starting a new one
// while another runs returns an error, matching the pipeline's one-utterance
// discipline. The waiting tone runs on its own goroutine and is the only
// playback the pipeline treats as interruptible-by-nobody.
type Player struct {
	vc        *discordgo.VoiceConnection
	inputRate int

	mu       sync.Mutex
	playing  bool
	stopCh   chan struct{}
	waitStop chan struct{}
}

// NewPlayer wraps an already-joined voice connection.
func NewPlayer(vc *discordgo.VoiceConnection, opts ...Option) *Player {
	p := &Player{
		vc:        vc,
		inputRate: 24000,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ErrBusy is returned when a playback is requested while another is running.
var ErrBusy = errors.New("discord: player busy")

// PlayStream plays a mono PCM speech stream. A leading RIFF/WAVE header is
// detected and skipped so WAV-shaped synthesis output plays as-is.
func (p *Player) PlayStream(ctx context.Context, stream io.Reader) error {
	stop, err := p.begin(false)
	if err != nil {
		return err
	}
	defer p.end()

	br := bufio.NewReader(stream)
	if err := skipWAVHeader(br); err != nil {
		return err
	}

	enc, err := newEncoder()
	if err != nil {
		return err
	}
	p.setSpeaking(true)
	defer p.setSpeaking(false)

	chunk := make([]byte, p.inputRate/10*2) // 100 ms of input audio
	var pending []byte
	for {
		n, readErr := io.ReadFull(br, chunk)
		if n > 0 {
			pcm := audio.ResampleMono16(chunk[:n], p.inputRate, SampleRate)
			pending = append(pending, audio.MonoToStereo(pcm)...)
			if err := p.sendFrames(ctx, stop, enc, &pending, false); err != nil {
				return err
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) || errors.Is(readErr, io.ErrUnexpectedEOF) {
				return p.sendFrames(ctx, stop, enc, &pending, true)
			}
			return fmt.Errorf("discord: read stream: %w", readErr)
		}
	}
}

// PlayCue plays one notification cue.
func (p *Player) PlayCue(ctx context.Context, cue audio.Cue) error {
	stop, err := p.begin(false)
	if err != nil {
		return err
	}
	defer p.end()

	enc, err := newEncoder()
	if err != nil {
		return err
	}
	p.setSpeaking(true)
	defer p.setSpeaking(false)

	pending := audio.MonoToStereo(audio.CuePCM(cue))
	return p.sendFrames(ctx, stop, enc, &pending, true)
}

// StartWaiting begins the looping waiting tone on a background goroutine.
func (p *Player) StartWaiting() {
	stop, err := p.begin(true)
	if err != nil {
		return
	}

	go func() {
		defer p.end()

		enc, err := newEncoder()
		if err != nil {
			slog.Error("discord: waiting tone encoder", "error", err)
			return
		}
		p.setSpeaking(true)
		defer p.setSpeaking(false)

		loop := audio.MonoToStereo(audio.WaitingLoopPCM())
		for {
			select {
			case <-stop:
				return
			default:
			}
			pending := append([]byte(nil), loop...)
			if err := p.sendFrames(context.Background(), stop, enc, &pending, true); err != nil {
				return
			}
		}
	}()
}

// StopWaiting stops the waiting tone if it is running.
func (p *Player) StopWaiting() {
	p.mu.Lock()
	if p.waitStop != nil {
		close(p.waitStop)
		if p.stopCh == p.waitStop {
			p.stopCh = nil
		}
		p.waitStop = nil
	}
	p.mu.Unlock()
}

// Stop interrupts whatever is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	p.waitStop = nil
	p.mu.Unlock()
}

// IsPlaying reports whether any playback is in progress.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// IsWaiting reports whether the waiting tone is playing.
func (p *Player) IsWaiting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitStop != nil
}

// begin claims the playback slot and returns the stop channel for this
// playback.
func (p *Player) begin(waiting bool) (chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return nil, ErrBusy
	}
	stop := make(chan struct{})
	p.playing = true
	p.stopCh = stop
	if waiting {
		p.waitStop = stop
	}
	return stop, nil
}

func (p *Player) end() {
	p.mu.Lock()
	p.playing = false
	p.stopCh = nil
	p.waitStop = nil
	p.mu.Unlock()
}

// sendFrames encodes and transmits complete Opus frames from pending. When
// flush is true the trailing partial frame is zero-padded and sent too.
func (p *Player) sendFrames(ctx context.Context, stop <-chan struct{}, enc *encoder, pending *[]byte, flush bool) error {
	buf := *pending
	defer func() { *pending = buf }()

	if flush && len(buf)%frameBytes != 0 {
		buf = append(buf, make([]byte, frameBytes-len(buf)%frameBytes)...)
	}
	for len(buf) >= frameBytes {
		opus, err := enc.encode(buf[:frameBytes])
		buf = buf[frameBytes:]
		if err != nil {
			slog.Warn("discord: opus encode error", "error", err)
			continue
		}
		select {
		case p.vc.OpusSend <- opus:
		case <-stop:
			buf = nil
			return nil
		case <-ctx.Done():
			buf = nil
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return errors.New("discord: voice send stalled")
		}
	}
	return nil
}

func (p *Player) setSpeaking(b bool) {
	if err := p.vc.Speaking(b); err != nil {
		slog.Warn("discord: speaking notification error", "speaking", b, "error", err)
	}
}

// skipWAVHeader consumes a standard 44-byte RIFF header when present so raw
// PCM and WAV streams both play correctly.
func skipWAVHeader(br *bufio.Reader) error {
	head, err := br.Peek(4)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("discord: peek stream: %w", err)
	}
	if string(head) != "RIFF" {
		return nil
	}
	if _, err := br.Discard(44); err != nil {
		return fmt.Errorf("discord: skip wav header: %w", err)
	}
	return nil
}
