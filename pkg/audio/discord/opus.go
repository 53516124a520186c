package discord

import (
	"fmt"

	"layeh.com/gopus"
)

// Discord voice uses 48 kHz stereo Opus at 20 ms frame size.
const (
	// SampleRate is the PCM sample rate of Discord voice audio.
	SampleRate = 48000
	// Channels is the channel count of Discord voice audio.
	Channels = 2
	// FrameSize is the number of samples per channel in one 20 ms frame.
	FrameSize = SampleRate * 20 / 1000 // 960

	// frameBytes is the PCM byte size of one full stereo frame.
	frameBytes = FrameSize * Channels * 2
)

// Decoder wraps a gopus Opus decoder for a single participant stream. Each
// participant needs its own Decoder to keep decoder state consistent across
// consecutive packets.
type Decoder struct {
	dec *gopus.Decoder
}

// NewDecoder creates a decoder configured for Discord voice audio.
func NewDecoder() (*Decoder, error) {
	dec, err := gopus.NewDecoder(SampleRate, Channels)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus decoder: %w", err)
	}
	return &Decoder{dec: dec}, nil
}

// Decode decodes one Opus packet into interleaved 16-bit little-endian
// stereo PCM.
func (d *Decoder) Decode(opus []byte) ([]byte, error) {
	pcm, err := d.dec.Decode(opus, FrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("discord: opus decode: %w", err)
	}
	return int16sToBytes(pcm), nil
}

// encoder wraps a gopus Opus encoder for the playback stream.
type encoder struct {
	enc *gopus.Encoder
}

func newEncoder() (*encoder, error) {
	enc, err := gopus.NewEncoder(SampleRate, Channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("discord: create opus encoder: %w", err)
	}
	return &encoder{enc: enc}, nil
}

// encode encodes exactly one frame of interleaved stereo PCM bytes into an
// Opus packet.
func (e *encoder) encode(pcmBytes []byte) ([]byte, error) {
	pcm := bytesToInt16s(pcmBytes)
	opus, err := e.enc.Encode(pcm, FrameSize, len(pcmBytes))
	if err != nil {
		return nil, fmt.Errorf("discord: opus encode: %w", err)
	}
	return opus, nil
}

func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return pcm
}
