// Package mock provides in-memory mock implementations of the
// [capture.Device] and [capture.Stream] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record method calls so that
// tests can assert on call counts, and expose exported fields the test sets
// to control return values.
//
// Typical usage:
//
//	stream := mock.NewStream(wave.Format{SampleRate: 44100, Channels: 1})
//	dev := &mock.Device{AcquireResult: stream}
//	stream.Push(pcmChunk)
//	stream.EmitEnded() // simulate device unplug
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/auricle/auricle/pkg/capture"
	"github.com/auricle/auricle/pkg/wave"
)

// Device is a mock implementation of [capture.Device].
// Set AcquireResult or AcquireError before use; inspect AcquireCalls after.
type Device struct {
	mu sync.Mutex

	// AcquireResult is the stream returned by Acquire when AcquireError is nil.
	AcquireResult *Stream

	// AcquireError, when non-nil, is returned by Acquire instead of a stream.
	AcquireError error

	// AcquireCalls records the constraints of every Acquire invocation.
	AcquireCalls []capture.Constraints
}

// Acquire implements [capture.Device].
func (d *Device) Acquire(_ context.Context, c capture.Constraints) (capture.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.AcquireCalls = append(d.AcquireCalls, c)
	if d.AcquireError != nil {
		return nil, d.AcquireError
	}
	return d.AcquireResult, nil
}

// CallCount returns how many times Acquire was invoked.
func (d *Device) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.AcquireCalls)
}

// Stream is a mock implementation of [capture.Stream]. Tests feed it chunks
// with [Stream.Push] and simulate hardware disconnection with
// [Stream.EmitEnded].
type Stream struct {
	format wave.Format
	chunks chan capture.Chunk

	mu         sync.Mutex
	onEnded    func()
	closed     bool
	closeCount int
}

// NewStream creates a mock stream with the given format and a buffered chunk
// channel.
func NewStream(format wave.Format) *Stream {
	return &Stream{
		format: format,
		chunks: make(chan capture.Chunk, 64),
	}
}

// Format implements [capture.Stream].
func (s *Stream) Format() wave.Format { return s.format }

// Chunks implements [capture.Stream].
func (s *Stream) Chunks() <-chan capture.Chunk { return s.chunks }

// OnEnded implements [capture.Stream].
func (s *Stream) OnEnded(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

// Close implements [capture.Stream]. The chunk channel is closed on the first
// call; later calls are no-ops.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	if !s.closed {
		s.closed = true
		close(s.chunks)
	}
	return nil
}

// CloseCount returns how many times Close was called. Tests use this to
// verify exactly-once release semantics (any count ≥ 1 releases the device;
// the recorder must not fail when stop triggers overlap).
func (s *Stream) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Closed reports whether the stream has been released.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Push delivers a PCM chunk to the stream's consumer. Pushing to a closed
// stream is a silent no-op, matching hardware that stops delivering after
// release.
func (s *Stream) Push(pcm []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	ch := s.chunks
	s.mu.Unlock()
	ch <- capture.Chunk{PCM: pcm, Timestamp: time.Duration(0)}
}

// EmitEnded simulates the device disappearing: the registered OnEnded
// callback fires and the chunk channel closes.
func (s *Stream) EmitEnded() {
	s.mu.Lock()
	fn := s.onEnded
	closed := s.closed
	if !closed {
		s.closed = true
		close(s.chunks)
	}
	s.mu.Unlock()
	if fn != nil && !closed {
		fn()
	}
}
