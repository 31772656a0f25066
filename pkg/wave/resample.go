package wave

import "math"

// firTaps is the length of the windowed-sinc low-pass filter applied before
// downsampling. Odd so the filter has a symmetric centre tap.
const firTaps = 101

// Resample converts w to the given sample rate using linear interpolation.
// When downsampling, a low-pass FIR filter at slightly below the new Nyquist
// frequency is applied first to suppress aliasing. If the rate already
// matches, w is returned unchanged.
func Resample(w Waveform, rate int) Waveform {
	if rate <= 0 || w.SampleRate == rate || w.Len() == 0 {
		return w
	}

	src := w.Samples
	if rate < w.SampleRate {
		cutoff := 0.45 * float64(rate)
		filtered := make([][]float64, len(src))
		for c, ch := range src {
			filtered[c] = lowPass(ch, float64(w.SampleRate), cutoff)
		}
		src = filtered
	}

	ratio := float64(rate) / float64(w.SampleRate)
	n := int(float64(w.Len()) * ratio)
	out := Waveform{SampleRate: rate, Channels: w.Channels}
	out.Samples = make([][]float64, len(src))
	for c, ch := range src {
		resampled := make([]float64, n)
		for i := 0; i < n; i++ {
			pos := float64(i) / ratio
			j := int(pos)
			if j+1 < len(ch) {
				frac := pos - float64(j)
				resampled[i] = ch[j]*(1-frac) + ch[j+1]*frac
			} else if j < len(ch) {
				resampled[i] = ch[j]
			}
		}
		out.Samples[c] = resampled
	}
	return out
}

// lowPass applies a Hann-windowed sinc FIR filter with cutoff frequency fc
// (Hz) to x sampled at fs (Hz).
func lowPass(x []float64, fs, fc float64) []float64 {
	h := make([]float64, firTaps)
	m := (firTaps - 1) / 2

	for i := 0; i < firTaps; i++ {
		if i == m {
			h[i] = 2 * fc / fs
		} else {
			t := float64(i - m)
			h[i] = math.Sin(2*math.Pi*fc*t/fs) / (math.Pi * t)
		}
		// Hann window.
		h[i] *= 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(firTaps-1)))
	}

	y := make([]float64, len(x))
	for i := range x {
		for j := 0; j < firTaps; j++ {
			if i-j >= 0 {
				y[i] += x[i-j] * h[j]
			}
		}
	}
	return y
}
