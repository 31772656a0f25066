package wave

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

func TestSniff(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want Container
	}{
		{"wav", append([]byte("RIFF\x00\x00\x00\x00WAVE"), make([]byte, 8)...), ContainerWAV},
		{"mp3 id3", []byte("ID3\x04\x00\x00\x00\x00\x00\x00"), ContainerMP3},
		{"mp3 frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, ContainerMP3},
		{"garbage", []byte("not audio at all"), ContainerUnknown},
		{"empty", nil, ContainerUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sniff(tt.data); got != tt.want {
				t.Errorf("Sniff() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecode_UnsupportedContainer(t *testing.T) {
	_, err := Decode([]byte("OggS\x00 definitely not supported"))
	if !errors.Is(err, ErrUnsupportedContainer) {
		t.Fatalf("err = %v, want ErrUnsupportedContainer", err)
	}
}

func TestEncodeWAV_DecodeWAV_RoundTrip(t *testing.T) {
	in := Waveform{
		SampleRate: 44100,
		Channels:   1,
		Samples:    [][]float64{sine(440, 44100, 4410)},
	}
	blob := EncodeWAV(in)

	if got := Sniff(blob); got != ContainerWAV {
		t.Fatalf("Sniff(encoded) = %v, want wav", got)
	}

	out, err := DecodeWAV(blob)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if out.SampleRate != in.SampleRate {
		t.Errorf("SampleRate = %d, want %d", out.SampleRate, in.SampleRate)
	}
	if out.Channels != in.Channels {
		t.Errorf("Channels = %d, want %d", out.Channels, in.Channels)
	}
	if out.Len() != in.Len() {
		t.Fatalf("Len = %d, want %d", out.Len(), in.Len())
	}
	for i := 0; i < in.Len(); i += 100 {
		if math.Abs(out.Samples[0][i]-in.Samples[0][i]) > 1.0/16384 {
			t.Fatalf("sample %d = %v, want ≈%v", i, out.Samples[0][i], in.Samples[0][i])
		}
	}
}

func TestEncodeWAVFromPCM16_Header(t *testing.T) {
	pcm := make([]byte, 8) // 4 mono samples
	blob := EncodeWAVFromPCM16(pcm, Format{SampleRate: 11025, Channels: 1})
	if len(blob) != 44+len(pcm) {
		t.Fatalf("blob length = %d, want %d", len(blob), 44+len(pcm))
	}
	w, err := DecodeWAV(blob)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if w.SampleRate != 11025 || w.Channels != 1 || w.Len() != 4 {
		t.Errorf("decoded %dHz/%dch/%d samples, want 11025/1/4", w.SampleRate, w.Channels, w.Len())
	}
}

// TestDecodeWAV_ReferenceEncoder decodes a file written by the go-audio
// encoder, so the decoder is checked against an independent writer rather
// than only our own EncodeWAV output.
func TestDecodeWAV_ReferenceEncoder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ref.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	enc := wav.NewEncoder(f, 8000, 16, 2, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: 8000},
		SourceBitDepth: 16,
		// Two frames: L/R, L/R.
		Data: []int{16384, -16384, 0, 32000},
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("encoder write: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("encoder close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	blob, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	w, err := DecodeWAV(blob)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if w.SampleRate != 8000 || w.Channels != 2 || w.Len() != 2 {
		t.Fatalf("decoded %dHz/%dch/%d frames, want 8000/2/2", w.SampleRate, w.Channels, w.Len())
	}
	if math.Abs(w.Samples[0][0]-0.5) > 1e-3 {
		t.Errorf("left[0] = %v, want ≈0.5", w.Samples[0][0])
	}
	if math.Abs(w.Samples[1][0]+0.5) > 1e-3 {
		t.Errorf("right[0] = %v, want ≈-0.5", w.Samples[1][0])
	}
}

func TestDecodeWAV_Truncated(t *testing.T) {
	if _, err := DecodeWAV([]byte("RIFF")); err == nil {
		t.Fatal("expected error for truncated wav")
	}
}
