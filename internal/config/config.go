// Package config provides the configuration schema and loader for the
// Auricle client.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Protocol selects how completed recordings reach the matching backend.
type Protocol string

const (
	// ProtocolDuplex submits fingerprints over a persistent bidirectional
	// websocket connection and receives match events asynchronously.
	ProtocolDuplex Protocol = "duplex"

	// ProtocolOneShot uploads the finalized recording in a single multipart
	// HTTP request and reads matches from the synchronous response.
	ProtocolOneShot Protocol = "oneshot"
)

// IsValid reports whether p is a recognised protocol.
func (p Protocol) IsValid() bool {
	return p == ProtocolDuplex || p == ProtocolOneShot
}

// Config is the root configuration structure for Auricle.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Capture CaptureConfig `yaml:"capture"`
	Record  RecordConfig  `yaml:"record"`
	Submit  SubmitConfig  `yaml:"submit"`
}

// ServerConfig holds logging and local HTTP settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile, when set, mirrors logs to a size-rotated file in addition
	// to stderr.
	LogFile string `yaml:"log_file"`

	// ListenAddr is the TCP address for the local health and metrics
	// endpoints (e.g. ":9090"). Empty disables the local HTTP server.
	ListenAddr string `yaml:"listen_addr"`
}

// CaptureConfig fixes the microphone constraints.
type CaptureConfig struct {
	// Stereo records two channels instead of one.
	Stereo bool `yaml:"stereo"`

	// SampleRate in Hz requested from the device. Zero uses the device
	// default; the transcoder normalizes to the canonical rate regardless.
	SampleRate int `yaml:"sample_rate"`

	// Processing enables gain/echo/noise processing on capture. When nil,
	// the protocol decides: raw for duplex (fingerprinting accuracy),
	// processed for one-shot voice uploads.
	Processing *bool `yaml:"processing"`
}

// RecordConfig bounds the recording session.
type RecordConfig struct {
	// Duration is the hard recording time limit. Zero selects the protocol
	// default: 20s for duplex, 10s for one-shot.
	Duration time.Duration `yaml:"duration"`
}

// SubmitConfig selects and tunes the submission protocol.
type SubmitConfig struct {
	// Protocol is "duplex" or "oneshot".
	Protocol Protocol `yaml:"protocol"`

	// DuplexURL is the websocket endpoint for the duplex protocol
	// (e.g. "ws://localhost:5000/ws").
	DuplexURL string `yaml:"duplex_url"`

	// UploadURL is the HTTP base URL for the one-shot protocol
	// (e.g. "http://localhost:8080"). The upload path is fixed.
	UploadURL string `yaml:"upload_url"`

	// ReplyTimeout bounds how long a duplex submission waits for a matches
	// reply before resolving to an error. Defaults to 15s.
	ReplyTimeout time.Duration `yaml:"reply_timeout"`

	// UploadRecording also sends the raw recording as best-effort telemetry
	// on the duplex channel.
	UploadRecording bool `yaml:"upload_recording"`

	// TotalSongsInterval is how often the duplex side channel polls the
	// backend's indexed-song counter. Defaults to 8s.
	TotalSongsInterval time.Duration `yaml:"total_songs_interval"`
}

// Defaults used when optional fields are left zero.
const (
	DefaultDuplexRecordDuration  = 20 * time.Second
	DefaultOneShotRecordDuration = 10 * time.Second
	DefaultReplyTimeout          = 15 * time.Second
	DefaultTotalSongsInterval    = 8 * time.Second
)

// RecordDuration returns the configured recording limit, falling back to the
// protocol default.
func (c *Config) RecordDuration() time.Duration {
	if c.Record.Duration > 0 {
		return c.Record.Duration
	}
	if c.Submit.Protocol == ProtocolOneShot {
		return DefaultOneShotRecordDuration
	}
	return DefaultDuplexRecordDuration
}

// ReplyTimeout returns the configured duplex reply window, falling back to
// the default.
func (c *Config) ReplyTimeout() time.Duration {
	if c.Submit.ReplyTimeout > 0 {
		return c.Submit.ReplyTimeout
	}
	return DefaultReplyTimeout
}

// TotalSongsInterval returns the configured counter poll period, falling back
// to the default.
func (c *Config) TotalSongsInterval() time.Duration {
	if c.Submit.TotalSongsInterval > 0 {
		return c.Submit.TotalSongsInterval
	}
	return DefaultTotalSongsInterval
}

// CaptureProcessing resolves the processing flag: explicit configuration
// wins, otherwise raw capture for duplex and processed for one-shot.
func (c *Config) CaptureProcessing() bool {
	if c.Capture.Processing != nil {
		return *c.Capture.Processing
	}
	return c.Submit.Protocol == ProtocolOneShot
}

// Channels returns the configured capture channel count.
func (c *Config) Channels() int {
	if c.Capture.Stereo {
		return 2
	}
	return 1
}
