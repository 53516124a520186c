package discord

import (
	"context"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/matudnorthrup/openclaw-voice-sub001/pkg/audio"
	discordaudio "github.com/matudnorthrup/openclaw-voice-sub001/pkg/audio/discord"
)

// UtteranceHandler receives one segmented utterance of 16 kHz mono PCM.
// Implementations decide their own concurrency discipline; the capture loop
// invokes the handler on a fresh goroutine and never blocks on it.
type UtteranceHandler func(ctx context.Context, speakerID string, pcm []byte, duration time.Duration)

// captureSampleRate is the PCM rate delivered to the handler, matching what
// speech recognition models expect.
const captureSampleRate = 16000

// capture reads Opus packets from a voice connection, demuxes them by SSRC,
// and segments each participant's audio into utterances.
type capture struct {
	handler UtteranceHandler

	mu         sync.Mutex
	decoders   map[uint32]*discordaudio.Decoder
	segmenters map[uint32]*segmenter
	ssrcUsers  map[uint32]string
}

func newCapture(handler UtteranceHandler) *capture {
	return &capture{
		handler:    handler,
		decoders:   make(map[uint32]*discordaudio.Decoder),
		segmenters: make(map[uint32]*segmenter),
		ssrcUsers:  make(map[uint32]string),
	}
}

// MapSpeaker records the SSRC to user mapping announced by Discord speaking
// updates.
func (c *capture) MapSpeaker(ssrc uint32, userID string) {
	c.mu.Lock()
	c.ssrcUsers[ssrc] = userID
	c.mu.Unlock()
}

// run consumes packets until the channel closes or done is signalled.
// Discord clients only transmit while speaking, so end-of-utterance is
// detected by transmission gaps as well as by in-band silence.
func (c *capture) run(ctx context.Context, recv <-chan *discordgo.Packet, done <-chan struct{}) {
	flush := time.NewTicker(100 * time.Millisecond)
	defer flush.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-flush.C:
			c.flushStale(ctx)
		case pkt, ok := <-recv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}
			c.handlePacket(ctx, pkt)
		}
	}
}

func (c *capture) handlePacket(ctx context.Context, pkt *discordgo.Packet) {
	c.mu.Lock()
	dec, ok := c.decoders[pkt.SSRC]
	if !ok {
		var err error
		dec, err = discordaudio.NewDecoder()
		if err != nil {
			c.mu.Unlock()
			slog.Error("discord: create opus decoder", "ssrc", pkt.SSRC, "error", err)
			return
		}
		c.decoders[pkt.SSRC] = dec
	}
	seg, ok := c.segmenters[pkt.SSRC]
	if !ok {
		seg = newSegmenter()
		c.segmenters[pkt.SSRC] = seg
	}
	c.mu.Unlock()

	stereo, err := dec.Decode(pkt.Opus)
	if err != nil {
		slog.Warn("discord: opus decode", "ssrc", pkt.SSRC, "error", err)
		return
	}
	mono := audio.ResampleMono16(audio.StereoToMono(stereo), discordaudio.SampleRate, captureSampleRate)

	if utterance, ok := seg.push(mono, time.Now()); ok {
		c.emit(ctx, pkt.SSRC, utterance)
	}
}

// flushStale finalizes utterances whose speaker stopped transmitting.
func (c *capture) flushStale(ctx context.Context) {
	now := time.Now()

	c.mu.Lock()
	type pending struct {
		ssrc uint32
		pcm  []byte
	}
	var flushed []pending
	for ssrc, seg := range c.segmenters {
		if utterance, ok := seg.flush(now); ok {
			flushed = append(flushed, pending{ssrc, utterance})
		}
	}
	c.mu.Unlock()

	for _, p := range flushed {
		c.emit(ctx, p.ssrc, p.pcm)
	}
}

func (c *capture) emit(ctx context.Context, ssrc uint32, pcm []byte) {
	c.mu.Lock()
	speakerID, ok := c.ssrcUsers[ssrc]
	c.mu.Unlock()
	if !ok {
		speakerID = strconv.FormatUint(uint64(ssrc), 10)
	}

	duration := time.Duration(len(pcm)/2) * time.Second / captureSampleRate
	slog.Debug("discord: utterance captured", "speaker", speakerID, "duration", duration)
	go c.handler(ctx, speakerID, pcm, duration)
}

// Segmentation policy.
const (
	// speechRMSThreshold is the minimum frame RMS (int16 scale) that counts
	// as speech.
	speechRMSThreshold = 400.0
	// silenceHold ends an utterance after this much in-band silence.
	silenceHold = 700 * time.Millisecond
	// gapHold ends an utterance when the client stops transmitting for this
	// long.
	gapHold = 500 * time.Millisecond
	// minUtterance discards blips shorter than this.
	minUtterance = 300 * time.Millisecond
	// maxUtterance force-finalizes a monologue.
	maxUtterance = 15 * time.Second

	prerollFrames = 5 // 100 ms of audio kept before speech onset
)

// segmenter accumulates one participant's mono PCM and cuts it into
// utterances at silence boundaries.
type segmenter struct {
	buf       []byte
	preroll   [][]byte
	inSpeech  bool
	silentFor time.Duration
	lastFrame time.Time
}

func newSegmenter() *segmenter {
	return &segmenter{}
}

// push appends one frame and returns a finished utterance when a boundary is
// reached.
func (s *segmenter) push(frame []byte, now time.Time) ([]byte, bool) {
	s.lastFrame = now
	frameDur := time.Duration(len(frame)/2) * time.Second / captureSampleRate
	loud := rms(frame) >= speechRMSThreshold

	if !s.inSpeech {
		if !loud {
			s.preroll = append(s.preroll, frame)
			if len(s.preroll) > prerollFrames {
				s.preroll = s.preroll[1:]
			}
			return nil, false
		}
		s.inSpeech = true
		for _, f := range s.preroll {
			s.buf = append(s.buf, f...)
		}
		s.preroll = nil
	}

	s.buf = append(s.buf, frame...)
	if loud {
		s.silentFor = 0
	} else {
		s.silentFor += frameDur
		if s.silentFor >= silenceHold {
			return s.finalize()
		}
	}

	if s.bufDuration() >= maxUtterance {
		return s.finalize()
	}
	return nil, false
}

// flush finalizes the current utterance when the transmission gap exceeds
// gapHold.
func (s *segmenter) flush(now time.Time) ([]byte, bool) {
	if !s.inSpeech || s.lastFrame.IsZero() || now.Sub(s.lastFrame) < gapHold {
		return nil, false
	}
	return s.finalize()
}

func (s *segmenter) finalize() ([]byte, bool) {
	utterance := s.buf
	speech := s.bufDuration() - s.silentFor
	s.buf = nil
	s.inSpeech = false
	s.silentFor = 0

	if speech < minUtterance {
		return nil, false
	}
	return utterance, true
}

func (s *segmenter) bufDuration() time.Duration {
	return time.Duration(len(s.buf)/2) * time.Second / captureSampleRate
}

// rms computes the root mean square of 16-bit little-endian mono PCM.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8))
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}
