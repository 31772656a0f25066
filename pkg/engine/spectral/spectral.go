// Package spectral implements the built-in fingerprint [engine.Engine].
//
// The algorithm is the classic constellation approach: the waveform is
// reduced to a low-rate mono signal, a Hamming-windowed STFT produces a
// magnitude spectrogram, the strongest bin per logarithmic frequency band is
// kept as a peak, and anchor/target peak pairs are packed into 32-bit
// addresses paired with the anchor's time offset.
package spectral

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"sync"
	"sync/atomic"

	"github.com/mjibson/go-dsp/fft"

	"github.com/auricle/auricle/pkg/engine"
	"github.com/auricle/auricle/pkg/wave"
)

// Analysis tunables.
const (
	// internalRate is the sample rate the engine analyses at. Musical
	// content of interest sits below ~5 kHz, so 11025 Hz keeps the FFT
	// cheap without losing matchable detail.
	internalRate = 11025

	windowSize = 1024
	hopSize    = 256

	// fanOut is how many succeeding peaks each anchor is paired with.
	fanOut = 6

	// Address bit layout: anchor freq | target freq | delta ms.
	maxFreqBits  = 9
	maxDeltaBits = 14

	minDeltaMs = 10
	maxDeltaMs = 15000
)

// freqBands are the (lo, hi] FFT bin ranges peaks are extracted from, one
// peak per band per frame. Logarithmic spacing weights the low end where
// musical energy concentrates.
var freqBands = [...][2]int{
	{0, 10}, {10, 20}, {20, 40}, {40, 80}, {80, 160}, {160, windowSize / 2},
}

// Engine is the built-in spectral fingerprint engine. Create with [New],
// call [Engine.Load] once, then [Engine.Generate] per waveform. Safe for
// concurrent use after Load.
type Engine struct {
	loadOnce sync.Once
	ready    atomic.Bool
	window   []float64
}

// New creates an unloaded spectral engine.
func New() *Engine {
	return &Engine{}
}

// Load implements [engine.Engine]. It precomputes the analysis window and
// marks the engine ready. Idempotent.
func (e *Engine) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.loadOnce.Do(func() {
		e.window = hamming(windowSize)
		e.ready.Store(true)
	})
	return nil
}

// Ready implements [engine.Engine].
func (e *Engine) Ready() bool { return e.ready.Load() }

// Generate implements [engine.Engine].
func (e *Engine) Generate(samples []float64, sampleRate, channels int) engine.Result {
	if !e.ready.Load() {
		return engine.Result{Code: engine.CodeInvalidInput, Detail: "engine not loaded"}
	}
	if sampleRate <= 0 {
		return engine.Result{Code: engine.CodeInvalidInput, Detail: fmt.Sprintf("invalid sample rate %d", sampleRate)}
	}
	if channels < 1 || channels > 2 {
		return engine.Result{Code: engine.CodeInvalidInput, Detail: fmt.Sprintf("channels must be 1 or 2, got %d", channels)}
	}
	if len(samples) == 0 {
		return engine.Result{Code: engine.CodeInvalidInput, Detail: "empty sample array"}
	}

	mono := samples
	if channels == 2 {
		mono = deinterleaveToMono(samples)
	}

	if sampleRate != internalRate {
		w := wave.Resample(
			wave.Waveform{SampleRate: sampleRate, Channels: 1, Samples: [][]float64{mono}},
			internalRate,
		)
		mono = w.Samples[0]
	}

	if len(mono) < windowSize {
		return engine.Result{Code: engine.CodeSpectrogramFailed, Detail: "input shorter than analysis window"}
	}

	spec := e.stft(mono)
	peaks := extractPeaks(spec)
	if len(peaks) == 0 {
		return engine.Result{Code: engine.CodePeakExtraction, Detail: "no peaks found (audio may be silent)"}
	}

	hashes := makeHashes(peaks)
	if len(hashes) == 0 {
		return engine.Result{Code: engine.CodeHashGeneration, Detail: "no fingerprint hashes generated"}
	}

	return engine.Result{Code: engine.CodeOK, Data: hashes}
}

// stft computes a time-major magnitude spectrogram (positive bins only).
func (e *Engine) stft(samples []float64) [][]float64 {
	frame := make([]float64, windowSize)
	var spec [][]float64
	for start := 0; start+windowSize <= len(samples); start += hopSize {
		for i := 0; i < windowSize; i++ {
			frame[i] = samples[start+i] * e.window[i]
		}
		bins := fft.FFTReal(frame)
		mag := make([]float64, windowSize/2)
		for i := range mag {
			mag[i] = cmplx.Abs(bins[i])
		}
		spec = append(spec, mag)
	}
	return spec
}

// peak is one spectral maximum: the frame time in seconds and the FFT bin.
type peak struct {
	timeSec float64
	bin     int
}

// extractPeaks keeps, per frame, the strongest bin of each frequency band —
// but only bands whose maximum rises above the mean of the frame's band
// maxima, which discards broadband noise frames.
func extractPeaks(spec [][]float64) []peak {
	var peaks []peak
	for f, mag := range spec {
		type candidate struct {
			bin int
			val float64
		}
		cands := make([]candidate, 0, len(freqBands))
		var sum float64
		for _, band := range freqBands {
			maxBin, maxVal := band[0], 0.0
			for b := band[0]; b < band[1] && b < len(mag); b++ {
				if mag[b] > maxVal {
					maxVal = mag[b]
					maxBin = b
				}
			}
			cands = append(cands, candidate{bin: maxBin, val: maxVal})
			sum += maxVal
		}
		mean := sum / float64(len(cands))
		t := float64(f*hopSize) / float64(internalRate)
		for _, c := range cands {
			if c.val > mean {
				peaks = append(peaks, peak{timeSec: t, bin: c.bin})
			}
		}
	}
	return peaks
}

// makeHashes pairs each anchor peak with its next fanOut neighbours and packs
// each pair into an address. Pairs whose time delta falls outside the
// representable range are dropped.
func makeHashes(peaks []peak) []engine.Hash {
	hashes := make([]engine.Hash, 0, len(peaks)*fanOut)
	for i, anchor := range peaks {
		for j := i + 1; j <= i+fanOut && j < len(peaks); j++ {
			addr, ok := packAddress(anchor, peaks[j])
			if !ok {
				continue
			}
			hashes = append(hashes, engine.Hash{
				Address:      addr,
				AnchorTimeMs: uint32(math.Round(anchor.timeSec * 1000)),
			})
		}
	}
	return hashes
}

// packAddress packs anchor bin, target bin, and delta-time into a 32-bit key:
// [ anchorBin (9) | targetBin (9) | deltaMs (14) ].
func packAddress(anchor, target peak) (uint32, bool) {
	deltaMs := uint32(math.Round((target.timeSec - anchor.timeSec) * 1000))
	if deltaMs < minDeltaMs || deltaMs > maxDeltaMs {
		return 0, false
	}

	freqMask := uint32(1<<maxFreqBits - 1)
	deltaMask := uint32(1<<maxDeltaBits - 1)
	a, t := uint32(anchor.bin), uint32(target.bin)
	if a > freqMask || t > freqMask || deltaMs > deltaMask {
		return 0, false
	}

	return a<<(maxFreqBits+maxDeltaBits) | t<<maxDeltaBits | deltaMs, true
}

// hamming returns a Hamming window of length n.
func hamming(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// deinterleaveToMono averages interleaved stereo sample pairs.
func deinterleaveToMono(samples []float64) []float64 {
	n := len(samples) / 2
	mono := make([]float64, n)
	for i := 0; i < n; i++ {
		mono[i] = (samples[i*2] + samples[i*2+1]) / 2
	}
	return mono
}
