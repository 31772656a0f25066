// Package portaudio provides a [capture.Device] backed by the PortAudio
// library, for capturing live microphone audio on desktop platforms.
//
// PortAudio delivers the raw signal; the Processing constraint (gain/echo/
// noise shaping) has no effect here and is logged once when requested.
package portaudio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/auricle/auricle/pkg/capture"
	"github.com/auricle/auricle/pkg/wave"
)

// framesPerBuffer is the PortAudio read granularity. 4096 frames at 44.1 kHz
// is ~93 ms per chunk.
const framesPerBuffer = 4096

// Device acquires the default system microphone through PortAudio.
// Only one stream may be open at a time; overlapping Acquire calls fail with
// [capture.KindUnavailable].
type Device struct {
	mu     sync.Mutex
	active bool
}

// New creates a PortAudio-backed capture device.
func New() *Device {
	return &Device{}
}

// Acquire implements [capture.Device]. It initialises PortAudio, opens the
// default input device with the requested constraints, and starts a reader
// goroutine delivering PCM chunks until the stream is closed.
func (d *Device) Acquire(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
	d.mu.Lock()
	if d.active {
		d.mu.Unlock()
		return nil, &capture.DeviceError{Kind: capture.KindUnavailable, Err: fmt.Errorf("another capture stream is already open")}
	}
	d.active = true
	d.mu.Unlock()

	release := func() {
		d.mu.Lock()
		d.active = false
		d.mu.Unlock()
	}

	if err := ctx.Err(); err != nil {
		release()
		return nil, err
	}

	if c.Processing {
		slog.Debug("portaudio capture is always raw; processing constraint ignored")
	}

	if err := portaudio.Initialize(); err != nil {
		release()
		return nil, classify(err)
	}

	dev, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		release()
		return nil, &capture.DeviceError{Kind: capture.KindNotFound, Err: err}
	}

	rate := float64(c.SampleRate)
	if rate <= 0 {
		rate = dev.DefaultSampleRate
	}
	channels := c.Channels
	if channels < 1 {
		channels = 1
	}

	buf := make([]int16, framesPerBuffer*channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      rate,
		FramesPerBuffer: framesPerBuffer,
	}

	pa, err := portaudio.OpenStream(params, buf)
	if err != nil {
		portaudio.Terminate()
		release()
		return nil, classify(err)
	}
	if err := pa.Start(); err != nil {
		pa.Close()
		portaudio.Terminate()
		release()
		return nil, classify(err)
	}

	s := &stream{
		format:  wave.Format{SampleRate: int(rate), Channels: channels},
		pa:      pa,
		buf:     buf,
		chunks:  make(chan capture.Chunk, 16),
		done:    make(chan struct{}),
		release: release,
	}
	go s.readLoop()

	slog.Info("microphone acquired",
		"device", dev.Name,
		"format", s.format.String(),
	)
	return s, nil
}

// classify maps a PortAudio error to a [capture.DeviceError] kind. PortAudio
// reports OS permission refusals as plain errors, so the message text is the
// only signal available.
func classify(err error) *capture.DeviceError {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied"):
		return &capture.DeviceError{Kind: capture.KindPermissionDenied, Err: err}
	case strings.Contains(msg, "no device") || strings.Contains(msg, "device unavailable"):
		return &capture.DeviceError{Kind: capture.KindNotFound, Err: err}
	default:
		return &capture.DeviceError{Kind: capture.KindUnavailable, Err: err}
	}
}

// stream is a live PortAudio capture stream implementing [capture.Stream].
type stream struct {
	format  wave.Format
	pa      *portaudio.Stream
	buf     []int16
	chunks  chan capture.Chunk
	release func()

	mu      sync.Mutex
	onEnded func()

	done      chan struct{}
	closeOnce sync.Once
}

// Format implements [capture.Stream].
func (s *stream) Format() wave.Format { return s.format }

// Chunks implements [capture.Stream].
func (s *stream) Chunks() <-chan capture.Chunk { return s.chunks }

// OnEnded implements [capture.Stream].
func (s *stream) OnEnded(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

// Close implements [capture.Stream]. Stops and releases the PortAudio stream
// exactly once; later calls are no-ops.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.pa.Stop()
		_ = s.pa.Close()
		portaudio.Terminate()
		s.release()
	})
	return nil
}

// readLoop pulls PCM from PortAudio and forwards it as chunks. A read error
// while the stream is still open means the device disappeared: the OnEnded
// callback fires so the recorder can treat it as a stop trigger.
func (s *stream) readLoop() {
	defer close(s.chunks)

	start := time.Now()
	for {
		select {
		case <-s.done:
			return
		default:
		}

		if err := s.pa.Read(); err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			slog.Warn("capture stream ended unexpectedly", "err", err)
			s.mu.Lock()
			fn := s.onEnded
			s.mu.Unlock()
			if fn != nil {
				fn()
			}
			return
		}

		pcm := make([]byte, len(s.buf)*2)
		for i, v := range s.buf {
			pcm[i*2] = byte(v)
			pcm[i*2+1] = byte(v >> 8)
		}

		select {
		case s.chunks <- capture.Chunk{PCM: pcm, Timestamp: time.Since(start)}:
		case <-s.done:
			return
		}
	}
}
