// Package fingerprint adapts the fingerprint engine's result envelope to the
// pipeline's value types and error contract.
//
// The engine reports failure through an integer code (zero means success);
// the adapter surfaces non-zero codes as [*Error] and guarantees that a
// failed invocation never produces a submittable fingerprint. Invoking the
// adapter before the engine has loaded is a programming error, reported as
// [ErrEngineNotReady] — distinct from an algorithmic failure so callers can
// tell a sequencing bug from bad audio.
package fingerprint

import (
	"context"
	"errors"
	"fmt"

	"github.com/auricle/auricle/pkg/engine"
	"github.com/auricle/auricle/pkg/wave"
)

// ErrEngineNotReady reports a Fingerprint call before [Adapter.Load]
// completed. This is a caller bug, not an engine failure.
var ErrEngineNotReady = errors.New("fingerprint: engine not ready")

// Fingerprint maps a packed feature address to its anchor time offset in
// milliseconds. Value type; never mutated after creation.
type Fingerprint map[uint32]uint32

// Error is an engine-reported fingerprinting failure (non-zero result code).
type Error struct {
	Code   int
	Detail string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("fingerprint: engine error code %d: %s", e.Code, e.Detail)
}

// Message returns the user-facing message for this failure.
func (e *Error) Message() string {
	return "Could not fingerprint the recording. Please try again."
}

// Adapter wraps an [engine.Engine] behind the pipeline's contract.
type Adapter struct {
	eng engine.Engine
}

// New creates an Adapter around eng.
func New(eng engine.Engine) *Adapter {
	return &Adapter{eng: eng}
}

// Load performs the engine's one-time initialisation. Idempotent; callers
// typically run it once at startup and poll [Adapter.Ready].
func (a *Adapter) Load(ctx context.Context) error {
	return a.eng.Load(ctx)
}

// Ready reports whether the engine can accept Fingerprint calls.
func (a *Adapter) Ready() bool {
	return a.eng.Ready()
}

// Fingerprint runs the engine over the canonical waveform and reshapes the
// result into a [Fingerprint]. A non-zero engine code aborts with [*Error];
// the caller must not submit anything for this session.
func (a *Adapter) Fingerprint(w wave.Waveform) (Fingerprint, error) {
	if !a.eng.Ready() {
		return nil, ErrEngineNotReady
	}

	res := a.eng.Generate(interleave(w), w.SampleRate, w.Channels)
	if !res.OK() {
		return nil, &Error{Code: res.Code, Detail: res.Detail}
	}

	fp := make(Fingerprint, len(res.Data))
	for _, h := range res.Data {
		fp[h.Address] = h.AnchorTimeMs
	}
	return fp, nil
}

// interleave flattens the waveform's per-channel slices into the ordered
// sample sequence the engine contract expects: mono as-is, stereo as
// alternating L/R samples.
func interleave(w wave.Waveform) []float64 {
	if len(w.Samples) == 0 {
		return nil
	}
	if len(w.Samples) == 1 {
		return w.Samples[0]
	}
	n := w.Len()
	out := make([]float64, 0, n*len(w.Samples))
	for i := 0; i < n; i++ {
		for _, ch := range w.Samples {
			out = append(out, ch[i])
		}
	}
	return out
}
