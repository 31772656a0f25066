// Package wave defines the canonical waveform representation used across the
// Auricle pipeline, along with the decode and normalization primitives that
// produce it.
//
// A [Waveform] holds decoded PCM audio as per-channel float64 sample slices.
// Whatever container or codec the capture stage produced, the transcoder
// reduces it to a Waveform in the configured canonical format (sample rate and
// channel count) before fingerprinting — that invariant is the contract the
// fingerprint engine and the matching backend depend on.
//
// This package lives under pkg/ because capture adapters and fingerprint
// engines outside this repository are expected to consume these types.
package wave

import (
	"math"
	"time"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable description, e.g. "44100Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = itoa(f.Channels) + "ch"
	}
	return itoa(f.SampleRate) + "Hz " + ch
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Waveform is decoded PCM audio: one float64 slice per channel, samples
// normalized to the [-1, 1] range. Waveforms are value types — never mutated
// after the transcoder hands one downstream.
type Waveform struct {
	SampleRate int
	Channels   int

	// Samples holds one slice per channel; all slices have equal length.
	Samples [][]float64
}

// Len returns the number of samples per channel.
func (w Waveform) Len() int {
	if len(w.Samples) == 0 {
		return 0
	}
	return len(w.Samples[0])
}

// Duration returns the playback duration of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(w.Len()) / float64(w.SampleRate) * float64(time.Second))
}

// Seconds returns the playback duration in seconds.
func (w Waveform) Seconds() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(w.Len()) / float64(w.SampleRate)
}

// Mono returns a single-channel view of the waveform. Mono input is returned
// as-is; multi-channel input is averaged sample-by-sample into a new slice.
func (w Waveform) Mono() []float64 {
	if len(w.Samples) == 0 {
		return nil
	}
	if len(w.Samples) == 1 {
		return w.Samples[0]
	}
	n := w.Len()
	out := make([]float64, n)
	for _, ch := range w.Samples {
		for i, s := range ch {
			out[i] += s
		}
	}
	inv := 1.0 / float64(len(w.Samples))
	for i := range out {
		out[i] *= inv
	}
	return out
}

// Convert normalizes w to the target format: resample first (cheaper before a
// potential channel duplication), then remix channels. If w already matches
// target, it is returned unchanged.
func Convert(w Waveform, target Format) Waveform {
	if w.SampleRate != target.SampleRate {
		w = Resample(w, target.SampleRate)
	}
	if w.Channels != target.Channels {
		w = Remix(w, target.Channels)
	}
	return w
}

// Remix converts between mono and stereo. Mono → stereo duplicates the single
// channel; stereo (or more) → mono averages. Other channel counts collapse to
// mono first and duplicate from there.
func Remix(w Waveform, channels int) Waveform {
	if w.Channels == channels {
		return w
	}
	mono := w.Mono()
	out := Waveform{SampleRate: w.SampleRate, Channels: channels}
	out.Samples = make([][]float64, channels)
	out.Samples[0] = mono
	for i := 1; i < channels; i++ {
		dup := make([]float64, len(mono))
		copy(dup, mono)
		out.Samples[i] = dup
	}
	return out
}

// Normalize scales all channels by a common gain so the peak absolute
// amplitude is 1.0. Silent input is returned unchanged. A new Waveform is
// returned; the input is not modified.
func Normalize(w Waveform) Waveform {
	var peak float64
	for _, ch := range w.Samples {
		for _, s := range ch {
			if a := math.Abs(s); a > peak {
				peak = a
			}
		}
	}
	if peak == 0 {
		return w
	}
	gain := 1.0 / peak
	out := Waveform{SampleRate: w.SampleRate, Channels: w.Channels}
	out.Samples = make([][]float64, len(w.Samples))
	for c, ch := range w.Samples {
		scaled := make([]float64, len(ch))
		for i, s := range ch {
			scaled[i] = s * gain
		}
		out.Samples[c] = scaled
	}
	return out
}

// FromPCM16 builds a Waveform from interleaved little-endian 16-bit PCM.
// Trailing bytes that do not form a complete frame are ignored.
func FromPCM16(pcm []byte, format Format) Waveform {
	channels := format.Channels
	if channels < 1 {
		channels = 1
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes

	out := Waveform{SampleRate: format.SampleRate, Channels: channels}
	out.Samples = make([][]float64, channels)
	for c := range out.Samples {
		out.Samples[c] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		base := i * frameBytes
		for c := 0; c < channels; c++ {
			off := base + c*2
			s := int16(pcm[off]) | int16(pcm[off+1])<<8
			out.Samples[c][i] = float64(s) / 32768.0
		}
	}
	return out
}

// ToPCM16 renders the waveform as interleaved little-endian 16-bit PCM,
// clamping samples outside [-1, 1].
func ToPCM16(w Waveform) []byte {
	frames := w.Len()
	out := make([]byte, frames*w.Channels*2)
	for i := 0; i < frames; i++ {
		for c := 0; c < w.Channels; c++ {
			v := int(math.Round(w.Samples[c][i] * 32767.0))
			if v > math.MaxInt16 {
				v = math.MaxInt16
			} else if v < math.MinInt16 {
				v = math.MinInt16
			}
			off := (i*w.Channels + c) * 2
			out[off] = byte(v)
			out[off+1] = byte(v >> 8)
		}
	}
	return out
}
