package audio

import "math"

// ToneSampleRate is the sample rate of all generated cue and waiting-tone
// PCM. Platform adapters resample as needed.
const ToneSampleRate = 48000

// fadeMs is the linear fade-in/out applied to every tone segment to avoid
// clicks at segment boundaries.
const fadeMs = 5

// CuePCM returns the 16-bit signed little-endian mono PCM for one cue at
// [ToneSampleRate].
func CuePCM(c Cue) []byte {
	switch c {
	case CueAcknowledge:
		return concat(
			sine(660, 90, 0.35),
			silence(30),
			sine(880, 110, 0.35),
		)
	case CueError:
		return concat(
			sine(220, 180, 0.40),
			silence(40),
			sine(196, 220, 0.40),
		)
	case CueCancel:
		return concat(
			sine(784, 90, 0.35),
			silence(20),
			sine(523, 140, 0.35),
		)
	case CueNotify:
		return concat(
			sine(988, 80, 0.30),
			silence(30),
			sine(1319, 160, 0.30),
		)
	case CueMissedWake:
		return concat(
			sine(440, 60, 0.25),
			silence(50),
			sine(440, 60, 0.25),
		)
	default:
		return silence(50)
	}
}

// WaitingLoopPCM returns one iteration of the looping waiting indicator: a
// soft pulse followed by a longer pause. Players repeat it until stopped.
func WaitingLoopPCM() []byte {
	return concat(
		sine(523, 120, 0.18),
		silence(880),
	)
}

// sine renders a sine tone of the given frequency (Hz), duration (ms) and
// amplitude (0..1) with short linear fades.
func sine(freq float64, durationMs int, amplitude float64) []byte {
	n := ToneSampleRate * durationMs / 1000
	fade := ToneSampleRate * fadeMs / 1000
	if fade*2 > n {
		fade = n / 2
	}
	pcm := make([]byte, n*2)
	for i := range n {
		v := amplitude * math.Sin(2*math.Pi*freq*float64(i)/ToneSampleRate)
		switch {
		case i < fade:
			v *= float64(i) / float64(fade)
		case i >= n-fade:
			v *= float64(n-1-i) / float64(fade)
		}
		s := int16(v * 32767)
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return pcm
}

// silence renders durationMs of silence.
func silence(durationMs int) []byte {
	return make([]byte, ToneSampleRate*durationMs/1000*2)
}

func concat(segments ...[]byte) []byte {
	var total int
	for _, s := range segments {
		total += len(s)
	}
	out := make([]byte, 0, total)
	for _, s := range segments {
		out = append(out, s...)
	}
	return out
}
