package audio

import (
	"bytes"
	"testing"
)

func samplesToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

func bytesToSamples(b []byte) []int16 {
	s := make([]int16, len(b)/2)
	for i := range s {
		s[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return s
}

func TestMonoToStereo(t *testing.T) {
	in := samplesToBytes([]int16{100, -200, 32767})
	want := samplesToBytes([]int16{100, 100, -200, -200, 32767, 32767})
	if got := MonoToStereo(in); !bytes.Equal(got, want) {
		t.Fatalf("MonoToStereo = %v, want %v", bytesToSamples(got), bytesToSamples(want))
	}
}

func TestStereoToMono(t *testing.T) {
	in := samplesToBytes([]int16{100, 200, -400, -200, 1000, -1000})
	want := []int16{150, -300, 0}
	got := bytesToSamples(StereoToMono(in))
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestResampleMono16SameRate(t *testing.T) {
	in := samplesToBytes([]int16{1, 2, 3})
	if got := ResampleMono16(in, 16000, 16000); !bytes.Equal(got, in) {
		t.Fatal("same-rate resample must return input unchanged")
	}
}

func TestResampleMono16Downsample(t *testing.T) {
	in := samplesToBytes(make([]int16, 480)) // 10 ms at 48 kHz
	got := ResampleMono16(in, 48000, 16000)
	if len(got) != 160*2 { // 10 ms at 16 kHz
		t.Fatalf("resampled length = %d bytes, want %d", len(got), 160*2)
	}
}

func TestResampleMono16Upsample(t *testing.T) {
	in := samplesToBytes([]int16{0, 1000})
	got := bytesToSamples(ResampleMono16(in, 8000, 16000))
	if len(got) != 4 {
		t.Fatalf("got %d samples, want 4", len(got))
	}
	// Linear interpolation between 0 and 1000 puts the second sample halfway.
	if got[1] != 500 {
		t.Fatalf("interpolated sample = %d, want 500", got[1])
	}
}

func TestResampleMono16InvalidRates(t *testing.T) {
	in := samplesToBytes([]int16{1, 2})
	if got := ResampleMono16(in, 0, 16000); !bytes.Equal(got, in) {
		t.Fatal("invalid source rate must return input unchanged")
	}
}
