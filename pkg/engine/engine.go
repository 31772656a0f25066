// Package engine defines the fingerprint engine contract used by the Auricle
// pipeline.
//
// An [Engine] turns a canonical waveform into a set of hash/anchor-time pairs
// suitable for similarity matching. Engines load once per process
// ([Engine.Load]) and report readiness ([Engine.Ready]); generation results
// are returned in a [Result] envelope with an explicit error code rather than
// a Go error, matching the convention of externally loaded engine modules
// where code 0 means success.
//
// The built-in implementation lives in engine/spectral. The interface is
// narrow so that an externally loaded engine (or a remote one) can be dropped
// in without touching the pipeline.
package engine

import "context"

// Result codes. Zero is success by convention; any non-zero code aborts
// submission of the invocation's output.
const (
	CodeOK = iota
	CodeInvalidInput
	CodeSpectrogramFailed
	CodePeakExtraction
	CodeHashGeneration
)

// Hash is a single fingerprint feature: a packed address identifying an
// anchor/target peak pair, and the anchor's offset into the waveform.
type Hash struct {
	Address      uint32
	AnchorTimeMs uint32
}

// Result is the envelope returned by [Engine.Generate]. Code 0 means success
// and Data holds the feature list; a non-zero Code carries a diagnostic in
// Detail and Data must be ignored.
type Result struct {
	Code   int
	Detail string
	Data   []Hash
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool { return r.Code == CodeOK }

// Engine computes acoustic fingerprints from canonical waveforms.
//
// Load must complete before the first Generate call; invoking Generate on an
// engine that is not Ready is a caller bug, which the fingerprint adapter
// reports separately from engine-level failures.
type Engine interface {
	// Load performs one-time initialisation. It is idempotent: later calls
	// return nil immediately once the engine is ready.
	Load(ctx context.Context) error

	// Ready reports whether Load has completed successfully.
	Ready() bool

	// Generate fingerprints the given samples. samples is an ordered
	// sequence of [-1, 1] amplitudes — interleaved when channels is 2.
	Generate(samples []float64, sampleRate, channels int) Result
}
