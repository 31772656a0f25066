package wave

import (
	"math"
	"testing"
	"time"
)

func sine(freq float64, rate, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / float64(rate))
	}
	return out
}

func TestWaveform_Duration(t *testing.T) {
	w := Waveform{SampleRate: 44100, Channels: 1, Samples: [][]float64{make([]float64, 44100)}}
	if got := w.Duration(); got != time.Second {
		t.Errorf("Duration() = %v, want 1s", got)
	}
	if got := w.Seconds(); got != 1.0 {
		t.Errorf("Seconds() = %v, want 1.0", got)
	}
}

func TestMono_AveragesChannels(t *testing.T) {
	w := Waveform{
		SampleRate: 8000,
		Channels:   2,
		Samples: [][]float64{
			{1, 0, -1},
			{0, 0, -1},
		},
	}
	mono := w.Mono()
	want := []float64{0.5, 0, -1}
	for i := range want {
		if math.Abs(mono[i]-want[i]) > 1e-12 {
			t.Errorf("mono[%d] = %v, want %v", i, mono[i], want[i])
		}
	}
}

func TestRemix_MonoToStereo(t *testing.T) {
	w := Waveform{SampleRate: 8000, Channels: 1, Samples: [][]float64{{0.25, -0.5}}}
	st := Remix(w, 2)
	if st.Channels != 2 || len(st.Samples) != 2 {
		t.Fatalf("Channels = %d, want 2", st.Channels)
	}
	for c := 0; c < 2; c++ {
		if st.Samples[c][0] != 0.25 || st.Samples[c][1] != -0.5 {
			t.Errorf("channel %d = %v, want duplicate of mono", c, st.Samples[c])
		}
	}
}

func TestNormalize_ScalesPeakToOne(t *testing.T) {
	w := Waveform{SampleRate: 8000, Channels: 1, Samples: [][]float64{{0.1, -0.5, 0.25}}}
	n := Normalize(w)
	if got := n.Samples[0][1]; math.Abs(got-(-1.0)) > 1e-12 {
		t.Errorf("peak after normalize = %v, want -1.0", got)
	}
	// Input untouched.
	if w.Samples[0][1] != -0.5 {
		t.Errorf("input mutated: %v", w.Samples[0][1])
	}
}

func TestNormalize_SilentInput(t *testing.T) {
	w := Waveform{SampleRate: 8000, Channels: 1, Samples: [][]float64{{0, 0, 0}}}
	n := Normalize(w)
	for _, s := range n.Samples[0] {
		if s != 0 {
			t.Fatalf("silence changed by normalize: %v", s)
		}
	}
}

func TestResample_HalvesLength(t *testing.T) {
	w := Waveform{SampleRate: 44100, Channels: 1, Samples: [][]float64{sine(440, 44100, 44100)}}
	r := Resample(w, 22050)
	if r.SampleRate != 22050 {
		t.Errorf("SampleRate = %d, want 22050", r.SampleRate)
	}
	if got, want := r.Len(), 22050; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
}

func TestResample_SameRateNoop(t *testing.T) {
	w := Waveform{SampleRate: 8000, Channels: 1, Samples: [][]float64{{1, 2, 3}}}
	r := Resample(w, 8000)
	if &r.Samples[0][0] != &w.Samples[0][0] {
		t.Error("same-rate resample should return input unchanged")
	}
}

func TestConvert_AlwaysCanonicalFormat(t *testing.T) {
	target := Format{SampleRate: 44100, Channels: 1}
	inputs := []Waveform{
		{SampleRate: 48000, Channels: 2, Samples: [][]float64{sine(440, 48000, 4800), sine(440, 48000, 4800)}},
		{SampleRate: 22050, Channels: 1, Samples: [][]float64{sine(440, 22050, 2205)}},
		{SampleRate: 44100, Channels: 1, Samples: [][]float64{sine(440, 44100, 4410)}},
	}
	for i, in := range inputs {
		got := Convert(in, target)
		if got.SampleRate != target.SampleRate || got.Channels != target.Channels {
			t.Errorf("input %d: converted to %dHz/%dch, want %dHz/%dch",
				i, got.SampleRate, got.Channels, target.SampleRate, target.Channels)
		}
	}
}

func TestPCM16_RoundTrip(t *testing.T) {
	w := Waveform{SampleRate: 8000, Channels: 2, Samples: [][]float64{
		{0.5, -0.5, 0},
		{-0.25, 0.25, 1},
	}}
	pcm := ToPCM16(w)
	if len(pcm) != 3*2*2 {
		t.Fatalf("pcm length = %d, want 12", len(pcm))
	}
	back := FromPCM16(pcm, Format{SampleRate: 8000, Channels: 2})
	for c := range w.Samples {
		for i := range w.Samples[c] {
			if math.Abs(back.Samples[c][i]-w.Samples[c][i]) > 1.0/32768 {
				t.Errorf("sample [%d][%d] = %v, want ≈%v", c, i, back.Samples[c][i], w.Samples[c][i])
			}
		}
	}
}

func TestToPCM16_ClampsOutOfRange(t *testing.T) {
	w := Waveform{SampleRate: 8000, Channels: 1, Samples: [][]float64{{1.5, -1.5}}}
	pcm := ToPCM16(w)
	hi := int16(pcm[0]) | int16(pcm[1])<<8
	lo := int16(pcm[2]) | int16(pcm[3])<<8
	if hi != math.MaxInt16 {
		t.Errorf("over-range sample = %d, want %d", hi, math.MaxInt16)
	}
	if lo != math.MinInt16 {
		t.Errorf("under-range sample = %d, want %d", lo, math.MinInt16)
	}
}
