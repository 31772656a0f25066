package recorder

import (
	"context"
	"testing"
	"time"

	"github.com/auricle/auricle/pkg/capture/mock"
	"github.com/auricle/auricle/pkg/wave"
)

var testFormat = wave.Format{SampleRate: 44100, Channels: 1}

func armed(t *testing.T, limit time.Duration) (*Recorder, *mock.Stream) {
	t.Helper()
	stream := mock.NewStream(testFormat)
	r := New(limit)
	if err := r.Arm(stream); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	return r, stream
}

func TestRecorder_TimerStopsRecording(t *testing.T) {
	r, stream := armed(t, 30*time.Millisecond)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream.Push(make([]byte, 1024))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf, trigger, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if trigger != TriggerTimer {
		t.Errorf("trigger = %v, want timer", trigger)
	}
	if !stream.Closed() {
		t.Error("stream not released after timer stop")
	}
	if len(buf.WAV) <= 44 {
		t.Errorf("WAV blob = %d bytes, want header + pushed PCM", len(buf.WAV))
	}
	if r.State() != StateStopped {
		t.Errorf("state = %v, want stopped", r.State())
	}
}

func TestRecorder_ManualStopBeatsTimer(t *testing.T) {
	r, stream := armed(t, time.Hour)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream.Push(make([]byte, 512))
	r.Stop(TriggerManual)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, trigger, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if trigger != TriggerManual {
		t.Errorf("trigger = %v, want manual", trigger)
	}
}

func TestRecorder_DoubleStopIsNoOp(t *testing.T) {
	r, stream := armed(t, time.Hour)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	r.Stop(TriggerManual)
	r.Stop(TriggerTimer)       // late timer fire must not override
	r.Stop(TriggerDeviceEnded) // nor a late device-ended signal

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, trigger, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if trigger != TriggerManual {
		t.Errorf("trigger = %v, want the first stop's trigger (manual)", trigger)
	}
	if !stream.Closed() {
		t.Error("stream not released")
	}
}

func TestRecorder_DeviceEndedTrigger(t *testing.T) {
	r, stream := armed(t, time.Hour)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream.Push(make([]byte, 256))
	stream.EmitEnded()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, trigger, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if trigger != TriggerDeviceEnded {
		t.Errorf("trigger = %v, want device-ended", trigger)
	}
}

func TestRecorder_ChunksAccumulateInOrder(t *testing.T) {
	r, stream := armed(t, time.Hour)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream.Push([]byte{1, 0, 2, 0})
	stream.Push([]byte{3, 0, 4, 0})
	r.Stop(TriggerManual)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf, _, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	pcm := buf.WAV[44:]
	want := []byte{1, 0, 2, 0, 3, 0, 4, 0}
	if len(pcm) != len(want) {
		t.Fatalf("pcm length = %d, want %d", len(pcm), len(want))
	}
	for i := range want {
		if pcm[i] != want[i] {
			t.Fatalf("pcm[%d] = %d, want %d (chunk order broken)", i, pcm[i], want[i])
		}
	}
}

func TestRecorder_StopWhileArmed(t *testing.T) {
	r, stream := armed(t, time.Hour)
	r.Stop(TriggerError)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf, trigger, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if trigger != TriggerError {
		t.Errorf("trigger = %v, want error", trigger)
	}
	if !stream.Closed() {
		t.Error("stream not released")
	}
	if len(buf.WAV) != 44 {
		t.Errorf("WAV blob = %d bytes, want bare header for empty recording", len(buf.WAV))
	}
}

func TestRecorder_InvalidTransitions(t *testing.T) {
	r := New(time.Second)
	if err := r.Start(); err == nil {
		t.Error("Start from idle should fail")
	}

	stream := mock.NewStream(testFormat)
	if err := r.Arm(stream); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if err := r.Arm(stream); err == nil {
		t.Error("second Arm should fail")
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := r.Start(); err == nil {
		t.Error("second Start should fail")
	}
	r.Stop(TriggerManual)
}

func TestRecorder_BufferDuration(t *testing.T) {
	r, stream := armed(t, time.Hour)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Half a second of mono 16-bit audio at 44100 Hz.
	stream.Push(make([]byte, 44100))
	r.Stop(TriggerManual)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	buf, _, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got, want := buf.Duration, 500*time.Millisecond; got != want {
		t.Errorf("Duration = %v, want %v", got, want)
	}
}

func TestRecorder_WaitHonoursContext(t *testing.T) {
	r, _ := armed(t, time.Hour)
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := r.Wait(ctx); err == nil {
		t.Fatal("Wait should fail when ctx expires before stop")
	}
	r.Stop(TriggerManual)
}
