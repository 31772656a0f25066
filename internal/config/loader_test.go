package config

import (
	"strings"
	"testing"
	"time"
)

const validDuplexYAML = `
server:
  log_level: info
capture:
  stereo: false
record:
  duration: 20s
submit:
  protocol: duplex
  duplex_url: ws://localhost:5000/ws
  upload_recording: true
`

const validOneShotYAML = `
submit:
  protocol: oneshot
  upload_url: http://localhost:8080
`

func TestLoadFromReader_ValidDuplex(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validDuplexYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Submit.Protocol != ProtocolDuplex {
		t.Errorf("Protocol = %q, want duplex", cfg.Submit.Protocol)
	}
	if got := cfg.RecordDuration(); got != 20*time.Second {
		t.Errorf("RecordDuration() = %v, want 20s", got)
	}
	if cfg.CaptureProcessing() {
		t.Error("duplex default should capture raw (processing off)")
	}
	if got := cfg.ReplyTimeout(); got != DefaultReplyTimeout {
		t.Errorf("ReplyTimeout() = %v, want default %v", got, DefaultReplyTimeout)
	}
	if got := cfg.TotalSongsInterval(); got != DefaultTotalSongsInterval {
		t.Errorf("TotalSongsInterval() = %v, want default %v", got, DefaultTotalSongsInterval)
	}
}

func TestLoadFromReader_OneShotDefaults(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validOneShotYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if got := cfg.RecordDuration(); got != 10*time.Second {
		t.Errorf("RecordDuration() = %v, want 10s one-shot default", got)
	}
	if !cfg.CaptureProcessing() {
		t.Error("one-shot default should capture processed")
	}
	if got := cfg.Channels(); got != 1 {
		t.Errorf("Channels() = %d, want 1", got)
	}
}

func TestLoadFromReader_ExplicitProcessingWins(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(`
capture:
  processing: true
submit:
  protocol: duplex
  duplex_url: ws://localhost:5000/ws
`))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if !cfg.CaptureProcessing() {
		t.Error("explicit processing: true should override the duplex raw default")
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	_, err := LoadFromReader(strings.NewReader(`
submit:
  protocol: duplex
  duplex_url: ws://x
  not_a_field: 1
`))
	if err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing protocol",
			yaml: `server: {log_level: info}`,
			want: "submit.protocol is required",
		},
		{
			name: "bad protocol",
			yaml: `submit: {protocol: carrier-pigeon}`,
			want: "is invalid",
		},
		{
			name: "duplex without url",
			yaml: `submit: {protocol: duplex}`,
			want: "submit.duplex_url is required",
		},
		{
			name: "oneshot without url",
			yaml: `submit: {protocol: oneshot}`,
			want: "submit.upload_url is required",
		},
		{
			name: "duration too short",
			yaml: "record: {duration: 200ms}\nsubmit: {protocol: duplex, duplex_url: ws://x}",
			want: "too short",
		},
		{
			name: "duration too long",
			yaml: "record: {duration: 5m}\nsubmit: {protocol: duplex, duplex_url: ws://x}",
			want: "too long",
		},
		{
			name: "bad log level",
			yaml: "server: {log_level: loud}\nsubmit: {protocol: duplex, duplex_url: ws://x}",
			want: "server.log_level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err, tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/auricle.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
