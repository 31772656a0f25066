package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Submit.Protocol == "" {
		errs = append(errs, errors.New("submit.protocol is required; valid values: duplex, oneshot"))
	} else if !cfg.Submit.Protocol.IsValid() {
		errs = append(errs, fmt.Errorf("submit.protocol %q is invalid; valid values: duplex, oneshot", cfg.Submit.Protocol))
	}

	switch cfg.Submit.Protocol {
	case ProtocolDuplex:
		if cfg.Submit.DuplexURL == "" {
			errs = append(errs, errors.New("submit.duplex_url is required when submit.protocol is duplex"))
		}
		if cfg.Submit.UploadURL != "" {
			slog.Warn("submit.upload_url is set but ignored for the duplex protocol")
		}
	case ProtocolOneShot:
		if cfg.Submit.UploadURL == "" {
			errs = append(errs, errors.New("submit.upload_url is required when submit.protocol is oneshot"))
		}
		if cfg.Submit.UploadRecording {
			slog.Warn("submit.upload_recording only applies to the duplex protocol; the one-shot protocol always uploads the recording")
		}
	}

	if d := cfg.Record.Duration; d != 0 {
		if d < time.Second {
			errs = append(errs, fmt.Errorf("record.duration %v is too short; minimum 1s", d))
		}
		if d > time.Minute {
			errs = append(errs, fmt.Errorf("record.duration %v is too long; maximum 60s", d))
		}
	}

	if cfg.Submit.ReplyTimeout < 0 {
		errs = append(errs, fmt.Errorf("submit.reply_timeout %v must not be negative", cfg.Submit.ReplyTimeout))
	}
	if cfg.Submit.TotalSongsInterval < 0 {
		errs = append(errs, fmt.Errorf("submit.total_songs_interval %v must not be negative", cfg.Submit.TotalSongsInterval))
	}

	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}

	return errors.Join(errs...)
}
