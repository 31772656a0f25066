// Package capture defines the interfaces and types for microphone acquisition
// within Auricle.
//
// The two primary abstractions are:
//
//   - [Device] — acquires the microphone under a set of [Constraints] and
//     returns a [Stream].
//   - [Stream] — an open capture stream delivering PCM chunks, with an
//     observable end-of-device signal and idempotent release.
//
// Implementations are provided by adapter subpackages (capture/portaudio for
// live hardware, capture/mock for tests). The interfaces are intentionally
// narrow so the recorder and session machine stay decoupled from the audio
// backend.
//
// This package lives under pkg/ because external capture adapters are
// expected to implement [Device] and [Stream].
package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/auricle/auricle/pkg/wave"
)

// Constraints fixes the audio parameters requested from the device.
type Constraints struct {
	// SampleRate in Hz. Adapters may deliver a different hardware rate; the
	// actual rate is reported by [Stream.Format] and the transcoder
	// normalizes downstream.
	SampleRate int

	// Channels is 1 for mono or 2 for stereo capture.
	Channels int

	// SampleSize is the requested bit depth where the backend supports
	// choosing one.
	SampleSize int

	// Processing enables automatic gain control, echo cancellation, and
	// noise suppression. Fingerprinting wants this off (raw signal);
	// voice-upload variants want it on.
	Processing bool
}

// Chunk is a single block of captured audio: interleaved little-endian
// 16-bit PCM in the stream's format.
type Chunk struct {
	PCM []byte

	// Timestamp marks when this chunk was captured, relative to stream start.
	Timestamp time.Duration
}

// Stream is an open microphone capture session.
//
// Chunks are delivered until the stream is closed or the device disappears.
// Close releases the device and is safe to call any number of times — the
// recorder relies on that to guarantee exactly-once release semantics across
// overlapping stop triggers.
type Stream interface {
	// Format reports the actual sample rate and channel count the device
	// delivers.
	Format() wave.Format

	// Chunks returns the channel of captured PCM chunks. The channel is
	// closed when the stream ends for any reason.
	Chunks() <-chan Chunk

	// OnEnded registers fn to be called once if the device disappears out
	// from under the stream (hardware unplug, backend failure). fn is not
	// called on an ordinary Close.
	OnEnded(fn func())

	// Close stops capture and releases the device. Idempotent.
	Close() error
}

// Device acquires the microphone. At most one acquisition may be in flight
// per process; callers (the session state machine) enforce the single active
// session invariant, and adapters may additionally reject overlapping
// acquisitions with [KindUnavailable].
type Device interface {
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// ErrorKind classifies device acquisition failures. Permission denial and
// device absence are distinct conditions with distinct user-facing messages —
// they must never be collapsed into one.
type ErrorKind int

const (
	// KindPermissionDenied means the user or OS refused microphone access.
	KindPermissionDenied ErrorKind = iota

	// KindNotFound means no capture device exists.
	KindNotFound

	// KindUnavailable means a device exists but could not be opened
	// (busy, backend failure, overlapping acquisition).
	KindUnavailable
)

// String returns the short identifier of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission-denied"
	case KindNotFound:
		return "not-found"
	case KindUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Message returns the user-facing message for this failure kind. The start
// action remains re-triggerable after any of these.
func (k ErrorKind) Message() string {
	switch k {
	case KindPermissionDenied:
		return "Microphone access denied. Please allow microphone access and try again."
	case KindNotFound:
		return "No microphone found. Please connect a microphone and try again."
	default:
		return "Could not open the microphone. Please check that no other application is using it."
	}
}

// DeviceError is the error type returned by [Device.Acquire].
type DeviceError struct {
	Kind ErrorKind
	Err  error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("capture: %s", e.Kind)
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error { return e.Err }

// Message returns the user-facing message for this failure.
func (e *DeviceError) Message() string { return e.Kind.Message() }
