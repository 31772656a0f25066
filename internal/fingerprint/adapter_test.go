package fingerprint

import (
	"context"
	"errors"
	"testing"

	"github.com/auricle/auricle/pkg/engine"
	"github.com/auricle/auricle/pkg/wave"
)

// fakeEngine is a scriptable engine.Engine for adapter tests.
type fakeEngine struct {
	ready  bool
	result engine.Result

	generateCalls int
	lastSamples   []float64
	lastRate      int
	lastChannels  int
}

func (f *fakeEngine) Load(context.Context) error { f.ready = true; return nil }
func (f *fakeEngine) Ready() bool                { return f.ready }
func (f *fakeEngine) Generate(samples []float64, rate, channels int) engine.Result {
	f.generateCalls++
	f.lastSamples = samples
	f.lastRate = rate
	f.lastChannels = channels
	return f.result
}

func monoWaveform(samples ...float64) wave.Waveform {
	return wave.Waveform{SampleRate: 44100, Channels: 1, Samples: [][]float64{samples}}
}

func TestAdapter_NotReadyIsDistinctError(t *testing.T) {
	fake := &fakeEngine{ready: false}
	a := New(fake)

	_, err := a.Fingerprint(monoWaveform(0.1, 0.2))
	if !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("err = %v, want ErrEngineNotReady", err)
	}
	var ferr *Error
	if errors.As(err, &ferr) {
		t.Fatal("not-ready must not be reported as an engine *Error")
	}
	if fake.generateCalls != 0 {
		t.Errorf("engine invoked %d times while not ready", fake.generateCalls)
	}
}

func TestAdapter_EngineErrorCodeSurfaced(t *testing.T) {
	fake := &fakeEngine{
		ready:  true,
		result: engine.Result{Code: 7, Detail: "peak extraction failed"},
	}
	a := New(fake)

	fp, err := a.Fingerprint(monoWaveform(0.1, 0.2))
	if fp != nil {
		t.Fatal("failed invocation must not yield a fingerprint")
	}
	var ferr *Error
	if !errors.As(err, &ferr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if ferr.Code != 7 {
		t.Errorf("Code = %d, want 7", ferr.Code)
	}
}

func TestAdapter_ReshapesHashes(t *testing.T) {
	fake := &fakeEngine{
		ready: true,
		result: engine.Result{Code: engine.CodeOK, Data: []engine.Hash{
			{Address: 100, AnchorTimeMs: 10},
			{Address: 200, AnchorTimeMs: 20},
			{Address: 100, AnchorTimeMs: 30}, // duplicate address: latest wins
		}},
	}
	a := New(fake)

	fp, err := a.Fingerprint(monoWaveform(0.1, 0.2, 0.3))
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if len(fp) != 2 {
		t.Fatalf("len(fp) = %d, want 2", len(fp))
	}
	if fp[100] != 30 {
		t.Errorf("fp[100] = %d, want 30", fp[100])
	}
	if fp[200] != 20 {
		t.Errorf("fp[200] = %d, want 20", fp[200])
	}
}

func TestAdapter_InterleavesStereo(t *testing.T) {
	fake := &fakeEngine{ready: true, result: engine.Result{Code: engine.CodeOK}}
	a := New(fake)

	w := wave.Waveform{
		SampleRate: 44100,
		Channels:   2,
		Samples: [][]float64{
			{1, 3},
			{2, 4},
		},
	}
	if _, err := a.Fingerprint(w); err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	want := []float64{1, 2, 3, 4}
	if len(fake.lastSamples) != len(want) {
		t.Fatalf("samples length = %d, want %d", len(fake.lastSamples), len(want))
	}
	for i := range want {
		if fake.lastSamples[i] != want[i] {
			t.Errorf("sample %d = %v, want %v (interleaving broken)", i, fake.lastSamples[i], want[i])
		}
	}
	if fake.lastChannels != 2 || fake.lastRate != 44100 {
		t.Errorf("engine called with %d/%d, want 44100/2", fake.lastRate, fake.lastChannels)
	}
}
