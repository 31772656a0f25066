// Package transcode reduces a finalized recording blob to the canonical
// waveform the fingerprint engine and backend expect.
//
// Whatever container the capture stage produced (the recorder emits WAV;
// file-identify mode accepts WAV or MP3), the output is always a decoded
// float waveform at the configured canonical sample rate and channel count.
// This step is mandatory normalization, not optional cleanup: a capture
// backend is free to hand over any supported format, and everything
// downstream depends on the canonical invariant.
//
// Transcoding failures are terminal for a session — the device was released
// when recording stopped, so the audio cannot be re-captured.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/auricle/auricle/pkg/wave"
)

// ErrorKind classifies transcoding failures.
type ErrorKind int

const (
	// KindUnsupportedInput means the blob is not a recognised container.
	KindUnsupportedInput ErrorKind = iota

	// KindDecodeFailure means the container was recognised but could not be
	// decoded.
	KindDecodeFailure
)

// String returns the short identifier of the kind.
func (k ErrorKind) String() string {
	if k == KindUnsupportedInput {
		return "unsupported-input"
	}
	return "decode-failure"
}

// Error is the error type returned by [Transcoder.Transcode].
type Error struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("transcode: %s: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Message returns the user-facing message for this failure.
func (e *Error) Message() string {
	if e.Kind == KindUnsupportedInput {
		return "The recording is in a format that cannot be processed."
	}
	return "The recording could not be decoded. Please try again."
}

// Transcoder converts recording blobs into canonical waveforms.
type Transcoder struct {
	target wave.Format
}

// New creates a Transcoder producing waveforms in the given canonical format.
func New(target wave.Format) *Transcoder {
	return &Transcoder{target: target}
}

// Target returns the canonical output format.
func (t *Transcoder) Target() wave.Format { return t.target }

// Transcode decodes blob, resamples and remixes it to the canonical format,
// and peak-normalizes the amplitudes. The returned waveform always has the
// canonical sample rate and channel count regardless of the input format.
func (t *Transcoder) Transcode(ctx context.Context, blob []byte) (wave.Waveform, error) {
	if err := ctx.Err(); err != nil {
		return wave.Waveform{}, err
	}

	start := time.Now()
	container := wave.Sniff(blob)

	decoded, err := wave.Decode(blob)
	if err != nil {
		if errors.Is(err, wave.ErrUnsupportedContainer) {
			return wave.Waveform{}, &Error{Kind: KindUnsupportedInput, Err: err}
		}
		return wave.Waveform{}, &Error{Kind: KindDecodeFailure, Err: err}
	}
	if decoded.Len() == 0 {
		return wave.Waveform{}, &Error{Kind: KindDecodeFailure, Err: errors.New("decoded audio is empty")}
	}

	out := wave.Normalize(wave.Convert(decoded, t.target))

	slog.Debug("transcoded recording",
		"container", container.String(),
		"source", wave.Format{SampleRate: decoded.SampleRate, Channels: decoded.Channels}.String(),
		"canonical", t.target.String(),
		"duration", out.Duration(),
		"took", time.Since(start),
	)
	return out, nil
}
