// Package session orchestrates one identification attempt end to end:
// acquire the microphone, record for a bounded duration, transcode,
// fingerprint, submit, and report the outcome. Only one session can be live
// at a time and every exit path releases the device exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/auricle/auricle/internal/fingerprint"
	"github.com/auricle/auricle/internal/observe"
	"github.com/auricle/auricle/internal/recorder"
	"github.com/auricle/auricle/internal/submit"
	"github.com/auricle/auricle/internal/transcode"
	"github.com/auricle/auricle/pkg/capture"
	"github.com/google/uuid"
)

// Status is the user-visible lifecycle state of the machine.
type Status int

const (
	StatusIdle Status = iota
	StatusRequestingDevice
	StatusRecording
	StatusTranscoding
	StatusSubmitting
	StatusSuccess
	StatusError
)

// String returns the short identifier of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRequestingDevice:
		return "requesting-device"
	case StatusRecording:
		return "recording"
	case StatusTranscoding:
		return "transcoding"
	case StatusSubmitting:
		return "submitting"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ErrSessionActive reports a Start while a session is already live.
var ErrSessionActive = errors.New("session: a session is already active")

// ErrNotTerminal reports a Reset outside the success or error state.
var ErrNotTerminal = errors.New("session: reset requires a finished session")

// defaultReadyTimeout bounds how long the pipeline waits for the
// fingerprint engine's one-time load before giving up.
const defaultReadyTimeout = 15 * time.Second

// Variant selects between the two canonical deployments of the one
// machine: the duplex client records 20s of raw audio and sends the
// fingerprint (plus the recording as telemetry when configured), the
// one-shot client records 10s of processed audio and uploads the recording
// for server-side fingerprinting.
type Variant struct {
	// RecordDuration is the wall-clock recording limit.
	RecordDuration time.Duration

	// Constraints are handed to the capture device on acquire.
	Constraints capture.Constraints

	// Fingerprint runs the fingerprint stage client-side. When false the
	// recording alone is submitted.
	Fingerprint bool

	// AttachRecording includes the finalized WAV blob in the submission.
	AttachRecording bool
}

// Notifier receives user-facing session events. Implementations must not
// block; the cmd layer wires a terminal renderer.
type Notifier interface {
	// Matches reports a non-empty ranked result list.
	Matches(matches []submit.Match)

	// NoMatch reports a completed submission the backend could not match.
	NoMatch()

	// SessionFailed reports a terminal failure with its user-facing message.
	SessionFailed(message string)
}

// nopNotifier is used when no Notifier is configured.
type nopNotifier struct{}

func (nopNotifier) Matches([]submit.Match) {}
func (nopNotifier) NoMatch()               {}
func (nopNotifier) SessionFailed(string)   {}

// Info holds metadata about the current or most recent session.
type Info struct {
	SessionID string
	StartedAt time.Time
	Deadline  time.Time
	Trigger   recorder.Trigger
}

// Config holds all dependencies for a [Machine].
type Config struct {
	Variant       Variant
	Device        capture.Device
	Transcoder    *transcode.Transcoder
	Fingerprinter *fingerprint.Adapter
	Channel       submit.Channel
	Notifier      Notifier

	// Metrics receives per-stage latencies and session outcomes. Optional.
	Metrics *observe.Metrics

	// ReadyTimeout bounds the wait for engine readiness before the
	// fingerprint stage. Zero means the default.
	ReadyTimeout time.Duration
}

// Machine is the session state machine. All exported methods are safe for
// concurrent use.
type Machine struct {
	variant       Variant
	device        capture.Device
	transcoder    *transcode.Transcoder
	fingerprinter *fingerprint.Adapter
	channel       submit.Channel
	notifier      Notifier
	metrics       *observe.Metrics
	readyTimeout  time.Duration

	mu      sync.Mutex
	status  Status
	info    Info
	lastErr string
	cur     *liveSession
}

// liveSession is the per-attempt state owned exclusively by the machine.
type liveSession struct {
	id     string
	stream capture.Stream
	rec    *recorder.Recorder

	// sendOnComplete decides whether the finished recording is still
	// submitted. A manual "stop without send" clears it; timer expiry and
	// plain manual stop keep it.
	sendMu         sync.Mutex
	sendOnComplete bool

	cleanup sync.Once
}

// send reports the current send-on-complete decision.
func (ls *liveSession) send() bool {
	ls.sendMu.Lock()
	defer ls.sendMu.Unlock()
	return ls.sendOnComplete
}

// clearSend marks the recording as discard-on-complete.
func (ls *liveSession) clearSend() {
	ls.sendMu.Lock()
	ls.sendOnComplete = false
	ls.sendMu.Unlock()
}

// release stops the recorder and closes the stream. Safe to call any
// number of times; only the first call does work.
func (ls *liveSession) release() {
	ls.cleanup.Do(func() {
		ls.rec.Stop(recorder.TriggerError)
		if err := ls.stream.Close(); err != nil {
			slog.Warn("session: stream close error", "session_id", ls.id, "err", err)
		}
	})
}

// New creates a Machine with the given dependencies.
func New(cfg Config) *Machine {
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = defaultReadyTimeout
	}
	return &Machine{
		variant:       cfg.Variant,
		device:        cfg.Device,
		transcoder:    cfg.Transcoder,
		fingerprinter: cfg.Fingerprinter,
		channel:       cfg.Channel,
		notifier:      notifier,
		metrics:       cfg.Metrics,
		readyTimeout:  readyTimeout,
	}
}

// Start begins a new session: acquires the device, arms the recorder, and
// starts recording. Rejected while another session is live. A device
// failure ends in the error state with a kind-specific message and the
// machine stays restartable.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.status {
	case StatusIdle, StatusSuccess, StatusError:
	default:
		m.mu.Unlock()
		return fmt.Errorf("%w (status=%s)", ErrSessionActive, m.status)
	}

	id := uuid.NewString()
	m.status = StatusRequestingDevice
	m.info = Info{SessionID: id, StartedAt: time.Now()}
	m.lastErr = ""
	m.mu.Unlock()

	acquireStart := time.Now()
	stream, err := m.device.Acquire(ctx, m.variant.Constraints)
	if err != nil {
		m.fail(id, "acquire", fmt.Errorf("session: acquire device: %w", err))
		return err
	}
	if m.metrics != nil {
		m.metrics.AcquireDuration.Record(ctx, time.Since(acquireStart).Seconds())
	}

	rec := recorder.New(m.variant.RecordDuration)
	sess := &liveSession{id: id, stream: stream, rec: rec, sendOnComplete: true}

	if err := rec.Arm(stream); err != nil {
		sess.release()
		m.fail(id, "record", fmt.Errorf("session: arm recorder: %w", err))
		return err
	}
	if err := rec.Start(); err != nil {
		sess.release()
		m.fail(id, "record", fmt.Errorf("session: start recorder: %w", err))
		return err
	}

	m.mu.Lock()
	m.status = StatusRecording
	m.cur = sess
	m.info.Deadline = m.info.StartedAt.Add(m.variant.RecordDuration)
	m.mu.Unlock()

	slog.Info("session started",
		"session_id", id,
		"record_duration", m.variant.RecordDuration,
		"format", stream.Format(),
	)

	go m.finish(sess)
	return nil
}

// Stop ends the recording early and lets the pipeline run on whatever was
// captured. No-op unless a recording is in progress.
func (m *Machine) Stop() {
	if sess := m.current(); sess != nil {
		sess.rec.Stop(recorder.TriggerManual)
	}
}

// Discard ends the recording early and throws the capture away: the
// pipeline is skipped and the machine returns to idle.
func (m *Machine) Discard() {
	if sess := m.current(); sess != nil {
		sess.clearSend()
		sess.rec.Stop(recorder.TriggerManual)
	}
}

// Reset returns a finished machine to idle so a new session can start.
func (m *Machine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusSuccess && m.status != StatusError {
		return fmt.Errorf("%w (status=%s)", ErrNotTerminal, m.status)
	}
	m.status = StatusIdle
	m.lastErr = ""
	return nil
}

// Status returns the current lifecycle state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Info returns metadata about the current or most recent session.
func (m *Machine) Info() Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.info
}

// LastError returns the user-facing message of the most recent failure, or
// an empty string.
func (m *Machine) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Machine) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Machine) current() *liveSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur
}

// finish waits for the recorder to stop, then drives the pipeline to a
// terminal state. The device is released before any downstream stage runs,
// so a transcode or submit failure never leaks the microphone.
func (m *Machine) finish(sess *liveSession) {
	ctx := context.Background()
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
		defer m.metrics.ActiveSessions.Add(ctx, -1)
	}

	buf, trigger, err := sess.rec.Wait(ctx)
	sess.release()

	m.mu.Lock()
	m.info.Trigger = trigger
	m.cur = nil
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordDuration.Record(ctx, buf.Duration.Seconds())
	}

	if err != nil {
		m.fail(sess.id, "record", fmt.Errorf("session: recording: %w", err))
		return
	}
	if trigger == recorder.TriggerError {
		m.fail(sess.id, "record", errors.New("session: recording aborted"))
		return
	}
	if !sess.send() {
		slog.Info("session discarded", "session_id", sess.id, "trigger", trigger)
		if m.metrics != nil {
			m.metrics.RecordSession(ctx, "discarded", trigger.String())
		}
		m.setStatus(StatusIdle)
		return
	}

	m.setStatus(StatusTranscoding)
	transcodeStart := time.Now()
	waveform, err := m.transcoder.Transcode(ctx, buf.WAV)
	if err != nil {
		m.fail(sess.id, "transcode", err)
		return
	}
	if m.metrics != nil {
		m.metrics.TranscodeDuration.Record(ctx, time.Since(transcodeStart).Seconds())
	}

	sub := &submit.Submission{SessionID: sess.id}
	if m.variant.Fingerprint {
		if err := m.awaitEngine(); err != nil {
			m.fail(sess.id, "fingerprint", err)
			return
		}
		fingerprintStart := time.Now()
		fp, err := m.fingerprinter.Fingerprint(waveform)
		if err != nil {
			m.fail(sess.id, "fingerprint", err)
			return
		}
		if m.metrics != nil {
			m.metrics.FingerprintDuration.Record(ctx, time.Since(fingerprintStart).Seconds())
		}
		sub.Fingerprint = fp
	}
	if m.variant.AttachRecording {
		sub.Recording = &submit.Recording{
			WAV:        buf.WAV,
			Format:     buf.Format,
			SampleSize: 16,
			Duration:   buf.Duration,
		}
	}

	m.setStatus(StatusSubmitting)
	submitStart := time.Now()
	matches, err := m.channel.Submit(ctx, sub)
	if err != nil {
		m.fail(sess.id, "submit", err)
		return
	}
	if m.metrics != nil {
		m.metrics.SubmitDuration.Record(ctx, time.Since(submitStart).Seconds())
		status := "no-match"
		if len(matches) > 0 {
			status = "ok"
		}
		m.metrics.RecordSubmission(ctx, status)
		m.metrics.RecordSession(ctx, "success", trigger.String())
	}

	m.setStatus(StatusSuccess)
	slog.Info("session complete",
		"session_id", sess.id,
		"trigger", trigger,
		"matches", len(matches),
	)
	if len(matches) > 0 {
		m.notifier.Matches(matches)
	} else {
		m.notifier.NoMatch()
	}
}

// awaitEngine polls the fingerprint engine's one-time load until it is
// ready or the bounded wait elapses.
func (m *Machine) awaitEngine() error {
	if m.fingerprinter.Ready() {
		return nil
	}
	slog.Debug("waiting for fingerprint engine to load")
	deadline := time.Now().Add(m.readyTimeout)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if m.fingerprinter.Ready() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("session: fingerprint engine not ready after %s", m.readyTimeout)
		}
	}
	return nil
}

// fail moves the machine to the error state and notifies with the
// user-facing message for err.
func (m *Machine) fail(sessionID, stage string, err error) {
	msg := userMessage(err)
	m.mu.Lock()
	m.status = StatusError
	m.lastErr = msg
	m.cur = nil
	trigger := m.info.Trigger
	m.mu.Unlock()

	if m.metrics != nil {
		ctx := context.Background()
		m.metrics.RecordPipelineError(ctx, stage)
		m.metrics.RecordSession(ctx, "error", trigger.String())
	}

	slog.Error("session failed", "session_id", sessionID, "stage", stage, "err", err)
	m.notifier.SessionFailed(msg)
}

// userMessage extracts the user-facing message carried by the pipeline's
// typed errors, falling back to a generic one.
func userMessage(err error) string {
	var m interface{ Message() string }
	if errors.As(err, &m) {
		return m.Message()
	}
	return "Something went wrong. Please try again."
}
