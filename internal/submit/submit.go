// Package submit delivers a finished session's fingerprint (or its raw
// recording) to the matching backend and returns the server-ranked matches.
//
// Two transports implement the [Channel] contract: [Duplex] keeps a
// long-lived websocket open and exchanges event frames, [OneShot] uploads
// the recording in a single multipart POST. Both enforce at-most-one
// submission per session: a repeat submit for the same session ID fails
// with [ErrAlreadySubmitted] no matter how the first attempt ended.
package submit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/auricle/auricle/internal/fingerprint"
	"github.com/auricle/auricle/pkg/wave"
)

// ErrAlreadySubmitted reports a second Submit for a session ID the channel
// has seen before.
var ErrAlreadySubmitted = errors.New("submit: session already submitted")

// ErrSubmissionInFlight reports a Submit while an earlier one is still
// awaiting its reply. The duplex protocol has no correlation IDs, so only
// one submission may be pending at a time.
var ErrSubmissionInFlight = errors.New("submit: another submission is in flight")

// Match is one server-ranked identification result. Immutable.
type Match struct {
	SongID      uint32
	Title       string
	Artist      string
	YouTubeID   string
	TimestampMs uint32
	Score       float64
}

// Recording is the finalized capture blob with enough framing metadata for
// the backend to decode it without sniffing.
type Recording struct {
	WAV        []byte
	Format     wave.Format
	SampleSize int
	Duration   time.Duration
}

// Submission is everything a channel may send for one session. Fingerprint
// is required; Recording is optional telemetry that only some transports
// forward.
type Submission struct {
	SessionID   string
	Fingerprint fingerprint.Fingerprint
	Recording   *Recording
}

// Channel submits sessions to the backend.
type Channel interface {
	// Submit sends the submission and blocks until the backend's ranked
	// matches arrive, the reply window elapses, or ctx is done. An empty
	// match slice means the backend found nothing.
	Submit(ctx context.Context, sub *Submission) ([]Match, error)

	// Close releases the transport. Idempotent.
	Close() error
}

// ErrorKind classifies submission failures.
type ErrorKind int

const (
	// KindNetwork means the backend could not be reached or the connection
	// dropped mid-exchange.
	KindNetwork ErrorKind = iota

	// KindServer means the backend answered with a failure.
	KindServer

	// KindTimeout means the reply window elapsed without an answer.
	KindTimeout
)

// String returns the short identifier of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error is the error type returned by channel submits.
type Error struct {
	Kind   ErrorKind
	Detail string
	Err    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submit: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("submit: %s: %s", e.Kind, e.Detail)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// Message returns the user-facing message for this failure.
func (e *Error) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	switch e.Kind {
	case KindNetwork:
		return "Could not connect to the server. Please check your connection and try again."
	case KindTimeout:
		return "The server did not answer in time. Please try again."
	default:
		return "The server could not process the recording. Please try again."
	}
}

// DownloadStatus is a server-pushed progress notice about its song library
// (downloads triggered on the backend, not by this client).
type DownloadStatus struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ledger tracks which session IDs have already been submitted.
type ledger struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// claim marks id as submitted. Returns false if it was already claimed.
func (l *ledger) claim(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string]struct{})
	}
	if _, ok := l.seen[id]; ok {
		return false
	}
	l.seen[id] = struct{}{}
	return true
}
