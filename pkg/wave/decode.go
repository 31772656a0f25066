package wave

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/go-audio/wav"
	"github.com/tosone/minimp3"
)

// ErrUnsupportedContainer is returned by [Decode] when the input bytes are not
// a recognised audio container.
var ErrUnsupportedContainer = errors.New("wave: unsupported audio container")

// Container identifies the audio container of a byte blob.
type Container int

const (
	ContainerUnknown Container = iota
	ContainerWAV
	ContainerMP3
)

// String returns the container's file-extension-style name.
func (c Container) String() string {
	switch c {
	case ContainerWAV:
		return "wav"
	case ContainerMP3:
		return "mp3"
	default:
		return "unknown"
	}
}

// Sniff inspects the leading bytes of data and reports the container type.
func Sniff(data []byte) Container {
	if len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE" {
		return ContainerWAV
	}
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return ContainerMP3
	}
	// Raw MPEG frame sync: 11 set bits.
	if len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0 {
		return ContainerMP3
	}
	return ContainerUnknown
}

// Decode sniffs the container of data and decodes it into a [Waveform] in the
// source format (no resampling or remixing is performed). Unrecognised input
// returns [ErrUnsupportedContainer].
func Decode(data []byte) (Waveform, error) {
	switch Sniff(data) {
	case ContainerWAV:
		return DecodeWAV(data)
	case ContainerMP3:
		return DecodeMP3(data)
	default:
		return Waveform{}, ErrUnsupportedContainer
	}
}

// DecodeWAV decodes a RIFF/WAVE blob into a Waveform, scaling integer PCM of
// any bit depth to [-1, 1] floats.
func DecodeWAV(data []byte) (Waveform, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return Waveform{}, fmt.Errorf("wave: decode wav: not a valid RIFF/WAVE file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("wave: decode wav: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return Waveform{}, fmt.Errorf("wave: decode wav: missing format chunk")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	out := Waveform{SampleRate: buf.Format.SampleRate, Channels: channels}
	out.Samples = make([][]float64, channels)
	for c := range out.Samples {
		out.Samples[c] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			out.Samples[c][i] = float64(buf.Data[i*channels+c]) / scale
		}
	}
	return out, nil
}

// DecodeMP3 decodes an MPEG audio blob into a Waveform.
func DecodeMP3(data []byte) (Waveform, error) {
	dec, pcm, err := minimp3.DecodeFull(data)
	if err != nil {
		return Waveform{}, fmt.Errorf("wave: decode mp3: %w", err)
	}
	if dec.Channels <= 0 || dec.SampleRate <= 0 || len(pcm) == 0 {
		return Waveform{}, fmt.Errorf("wave: decode mp3: no audio frames")
	}
	return FromPCM16(pcm, Format{SampleRate: dec.SampleRate, Channels: dec.Channels}), nil
}

// EncodeWAV renders the waveform as a complete 16-bit PCM RIFF/WAVE blob.
func EncodeWAV(w Waveform) []byte {
	pcm := ToPCM16(w)
	return EncodeWAVFromPCM16(pcm, Format{SampleRate: w.SampleRate, Channels: w.Channels})
}

// EncodeWAVFromPCM16 wraps interleaved little-endian 16-bit PCM in a
// RIFF/WAVE header without touching the sample data.
func EncodeWAVFromPCM16(pcm []byte, format Format) []byte {
	const bitsPerSample = 16
	channels := format.Channels
	if channels < 1 {
		channels = 1
	}
	blockAlign := channels * bitsPerSample / 8
	byteRate := format.SampleRate * blockAlign

	var b bytes.Buffer
	b.Grow(44 + len(pcm))
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+len(pcm)))
	b.WriteString("WAVE")

	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&b, binary.LittleEndian, uint16(channels))
	binary.Write(&b, binary.LittleEndian, uint32(format.SampleRate))
	binary.Write(&b, binary.LittleEndian, uint32(byteRate))
	binary.Write(&b, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&b, binary.LittleEndian, uint16(bitsPerSample))

	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(len(pcm)))
	b.Write(pcm)
	return b.Bytes()
}
