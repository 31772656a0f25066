// Package recorder implements the bounded recording session around a capture
// stream.
//
// A [Recorder] walks a fixed state machine:
//
//	idle → armed → recording → stopping → stopped
//
// Recording is bounded by a hard wall-clock limit. Four triggers can end it —
// the timer, a manual stop, the device disappearing, or a fatal upstream
// error — and whichever fires first wins: the timer is cancelled, the capture
// stream is closed and the device released, and the accumulated chunks are
// finalized into a single immutable WAV blob. A second stop request against a
// recorder that is already stopping or stopped is a no-op, never an error.
//
// Device release is tied to entering the stopped state, so it happens even if
// downstream transcoding later fails.
package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/auricle/auricle/pkg/capture"
	"github.com/auricle/auricle/pkg/wave"
)

// State is the recorder lifecycle state.
type State int

const (
	StateIdle State = iota
	StateArmed
	StateRecording
	StateStopping
	StateStopped
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateArmed:
		return "armed"
	case StateRecording:
		return "recording"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Trigger identifies what ended a recording.
type Trigger int

const (
	// TriggerNone means the recording has not ended yet.
	TriggerNone Trigger = iota

	// TriggerTimer is the hard duration limit expiring.
	TriggerTimer

	// TriggerManual is an explicit user stop.
	TriggerManual

	// TriggerDeviceEnded is the capture device disappearing mid-recording.
	TriggerDeviceEnded

	// TriggerError is a fatal upstream failure.
	TriggerError
)

// String returns the human-readable name of the trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerTimer:
		return "timer"
	case TriggerManual:
		return "manual"
	case TriggerDeviceEnded:
		return "device-ended"
	case TriggerError:
		return "error"
	default:
		return "none"
	}
}

// Buffer is a finalized recording: a complete WAV blob plus the capture
// format it was recorded in. Immutable once produced.
type Buffer struct {
	WAV      []byte
	Format   wave.Format
	Duration time.Duration
}

// Recorder is a single-use bounded recording session. Create with [New],
// attach a stream with [Recorder.Arm], begin with [Recorder.Start], and
// collect the result with [Recorder.Wait]. All methods are safe for
// concurrent use; [Recorder.Stop] in particular may race the internal timer
// and the device-ended callback freely.
type Recorder struct {
	maxDuration time.Duration

	mu      sync.Mutex
	state   State
	stream  capture.Stream
	timer   *time.Timer
	chunks  [][]byte
	trigger Trigger
	buf     Buffer

	done chan struct{}
}

// New creates an idle recorder with the given hard recording limit.
func New(maxDuration time.Duration) *Recorder {
	return &Recorder{
		maxDuration: maxDuration,
		done:        make(chan struct{}),
	}
}

// Arm attaches the capture stream and registers the device-ended trigger.
// Valid only from the idle state.
func (r *Recorder) Arm(stream capture.Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return fmt.Errorf("recorder: arm from state %s", r.state)
	}
	r.state = StateArmed
	r.stream = stream
	stream.OnEnded(func() { r.Stop(TriggerDeviceEnded) })
	return nil
}

// Start begins recording: chunks accumulate and the duration timer is
// scheduled. Valid only from the armed state.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateArmed {
		return fmt.Errorf("recorder: start from state %s", r.state)
	}
	r.state = StateRecording
	r.timer = time.AfterFunc(r.maxDuration, func() { r.Stop(TriggerTimer) })
	go r.collect(r.stream)

	slog.Debug("recording started",
		"format", r.stream.Format().String(),
		"max_duration", r.maxDuration,
	)
	return nil
}

// Stop requests the transition into stopping with the given trigger. The
// first caller wins: the timer is cancelled and the stream closed, which
// releases the device and lets the collector finalize. Any later call —
// regardless of trigger — is a no-op.
func (r *Recorder) Stop(trigger Trigger) {
	r.mu.Lock()
	if r.state != StateArmed && r.state != StateRecording {
		r.mu.Unlock()
		return
	}
	wasArmed := r.state == StateArmed
	r.state = StateStopping
	r.trigger = trigger
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	stream := r.stream
	r.mu.Unlock()

	slog.Debug("recording stopping", "trigger", trigger.String())

	// Closing the stream ends the chunk channel; the collector drains what
	// remains and finalizes. If recording never started there is no
	// collector, so finalize here.
	_ = stream.Close()
	if wasArmed {
		r.finalize(stream.Format())
	}
}

// Wait blocks until the recorder reaches stopped (or ctx is cancelled) and
// returns the finalized buffer and the trigger that ended the recording.
func (r *Recorder) Wait(ctx context.Context) (Buffer, Trigger, error) {
	select {
	case <-ctx.Done():
		return Buffer{}, TriggerNone, ctx.Err()
	case <-r.done:
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf, r.trigger, nil
}

// State returns the current lifecycle state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Trigger returns what ended the recording, or [TriggerNone] while it is
// still running.
func (r *Recorder) Trigger() Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trigger
}

// collect drains the stream's chunk channel until it closes, then finalizes.
// Runs on its own goroutine for the lifetime of the recording.
func (r *Recorder) collect(stream capture.Stream) {
	for chunk := range stream.Chunks() {
		r.mu.Lock()
		// Chunks still buffered at stop time were captured before the
		// trigger fired; drain them into the buffer.
		if r.state == StateRecording || r.state == StateStopping {
			r.chunks = append(r.chunks, chunk.PCM)
		}
		r.mu.Unlock()
	}

	// The channel can close without a Stop call (device ended before the
	// OnEnded callback registered a trigger). Make sure a trigger is set.
	r.mu.Lock()
	if r.state == StateRecording {
		r.state = StateStopping
		r.trigger = TriggerDeviceEnded
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
		}
	}
	r.mu.Unlock()
	_ = stream.Close()

	r.finalize(stream.Format())
}

// finalize concatenates the accumulated chunks into one immutable WAV blob
// and enters the stopped state. Reachable exactly once.
func (r *Recorder) finalize(format wave.Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateStopped {
		return
	}
	r.state = StateStopped

	var total int
	for _, c := range r.chunks {
		total += len(c)
	}
	pcm := make([]byte, 0, total)
	for _, c := range r.chunks {
		pcm = append(pcm, c...)
	}
	r.chunks = nil

	channels := format.Channels
	if channels < 1 {
		channels = 1
	}
	var duration time.Duration
	if format.SampleRate > 0 {
		frames := len(pcm) / (channels * 2)
		duration = time.Duration(float64(frames) / float64(format.SampleRate) * float64(time.Second))
	}

	r.buf = Buffer{
		WAV:      wave.EncodeWAVFromPCM16(pcm, format),
		Format:   format,
		Duration: duration,
	}
	close(r.done)

	slog.Debug("recording finalized",
		"trigger", r.trigger.String(),
		"bytes", len(r.buf.WAV),
		"duration", duration,
	)
}
