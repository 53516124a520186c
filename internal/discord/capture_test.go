package discord

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
)

const testFrameBytes = captureSampleRate / 50 * 2 // 20 ms of 16 kHz mono

func loudFrame() []byte {
	frame := make([]byte, testFrameBytes)
	for i := 0; i < len(frame); i += 2 {
		// Alternating full-scale square wave, RMS 8000.
		var s int16 = 8000
		if i%4 == 2 {
			s = -8000
		}
		frame[i] = byte(s)
		frame[i+1] = byte(uint16(s) >> 8)
	}
	return frame
}

func quietFrame() []byte {
	return make([]byte, testFrameBytes)
}

func feed(s *segmenter, frame []byte, n int, now *time.Time) ([]byte, bool) {
	for i := 0; i < n; i++ {
		*now = now.Add(20 * time.Millisecond)
		if utterance, ok := s.push(frame, *now); ok {
			return utterance, true
		}
	}
	return nil, false
}

func TestSegmenterCutsOnSilence(t *testing.T) {
	s := newSegmenter()
	now := time.Now()

	if _, ok := feed(s, quietFrame(), 3, &now); ok {
		t.Fatal("silence alone produced an utterance")
	}
	if _, ok := feed(s, loudFrame(), 25, &now); ok {
		t.Fatal("utterance finalized while still speaking")
	}

	utterance, ok := feed(s, quietFrame(), 40, &now)
	if !ok {
		t.Fatal("utterance never finalized after silence")
	}

	// Preroll, speech and the silence tail are all included.
	wantFrames := 3 + 25 + 35 // silenceHold is 700 ms = 35 frames
	if got := len(utterance) / testFrameBytes; got != wantFrames {
		t.Fatalf("utterance is %d frames, want %d", got, wantFrames)
	}
}

func TestSegmenterDiscardsBlips(t *testing.T) {
	s := newSegmenter()
	now := time.Now()

	feed(s, loudFrame(), 5, &now) // 100 ms, below the minimum
	if _, ok := feed(s, quietFrame(), 40, &now); ok {
		t.Fatal("sub-minimum blip emitted as an utterance")
	}

	// The segmenter must be reusable afterwards.
	feed(s, loudFrame(), 25, &now)
	if _, ok := feed(s, quietFrame(), 40, &now); !ok {
		t.Fatal("segmenter did not recover after a discarded blip")
	}
}

func TestSegmenterFlushesOnTransmissionGap(t *testing.T) {
	s := newSegmenter()
	now := time.Now()

	feed(s, loudFrame(), 25, &now)

	if _, ok := s.flush(now.Add(200 * time.Millisecond)); ok {
		t.Fatal("flushed before the gap hold elapsed")
	}
	utterance, ok := s.flush(now.Add(600 * time.Millisecond))
	if !ok {
		t.Fatal("transmission gap did not finalize the utterance")
	}
	if got := len(utterance) / testFrameBytes; got != 25 {
		t.Fatalf("utterance is %d frames, want 25", got)
	}

	if _, ok := s.flush(now.Add(time.Hour)); ok {
		t.Fatal("empty segmenter flushed an utterance")
	}
}

func TestSegmenterForceCutsLongMonologue(t *testing.T) {
	s := newSegmenter()
	now := time.Now()

	// 15 s at 20 ms per frame.
	utterance, ok := feed(s, loudFrame(), 15*50+10, &now)
	if !ok {
		t.Fatal("long monologue never force-finalized")
	}
	if got := time.Duration(len(utterance)/2) * time.Second / captureSampleRate; got < maxUtterance {
		t.Fatalf("force cut at %v, want at least %v", got, maxUtterance)
	}
}

func TestRMS(t *testing.T) {
	if got := rms(quietFrame()); got != 0 {
		t.Fatalf("rms of silence = %f", got)
	}
	if got := rms(loudFrame()); got < 7999 || got > 8001 {
		t.Fatalf("rms of square wave = %f, want 8000", got)
	}
	if got := rms(nil); got != 0 {
		t.Fatalf("rms of empty input = %f", got)
	}
}

func TestCaptureEmitUsesSpeakerMapping(t *testing.T) {
	type captured struct {
		speaker  string
		duration time.Duration
	}
	got := make(chan captured, 1)

	c := newCapture(func(_ context.Context, speakerID string, pcm []byte, duration time.Duration) {
		got <- captured{speakerID, duration}
	})
	c.MapSpeaker(42, "user-1")

	pcm := make([]byte, captureSampleRate) // half a second
	c.emit(context.Background(), 42, pcm)

	select {
	case u := <-got:
		if u.speaker != "user-1" {
			t.Fatalf("speaker = %q, want mapped user id", u.speaker)
		}
		if u.duration != 500*time.Millisecond {
			t.Fatalf("duration = %v", u.duration)
		}
	case <-time.After(time.Second):
		t.Fatal("handler never invoked")
	}

	// Unknown SSRCs fall back to the numeric id.
	c.emit(context.Background(), 7, pcm)
	if u := <-got; u.speaker != "7" {
		t.Fatalf("speaker = %q, want ssrc fallback", u.speaker)
	}
}

func TestMirrorFormatsTurns(t *testing.T) {
	var sent []string
	m := NewMirror(senderFunc(func(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
		if channelID != "text-1" {
			t.Fatalf("channel = %q", channelID)
		}
		sent = append(sent, content)
		return &discordgo.Message{}, nil
	}), "text-1")

	ctx := context.Background()
	if err := m.Record(ctx, "session-1", "user", "how many calories in an avocado"); err != nil {
		t.Fatalf("record user: %v", err)
	}
	if err := m.Record(ctx, "session-1", "assistant", "About 240 calories."); err != nil {
		t.Fatalf("record assistant: %v", err)
	}

	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(sent))
	}
	if sent[0] != "🎤 how many calories in an avocado" {
		t.Fatalf("user turn = %q", sent[0])
	}
	if sent[1] != "🔊 About 240 calories." {
		t.Fatalf("assistant turn = %q", sent[1])
	}
}

// senderFunc adapts a function to the messageSender interface.
type senderFunc func(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)

func (f senderFunc) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return f(channelID, content, options...)
}
