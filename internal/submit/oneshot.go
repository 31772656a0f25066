package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const uploadPath = "/api/upload-audio"

// oneshotMatch mirrors the backend's match serialization in the upload
// response.
type oneshotMatch struct {
	SongID     uint32  `json:"songId"`
	SongTitle  string  `json:"songTitle"`
	SongArtist string  `json:"songArtist"`
	YouTubeID  string  `json:"youtubeId"`
	Timestamp  uint32  `json:"timestamp"`
	Score      float64 `json:"score"`
}

// uploadResponse is the JSON body of a successful upload.
type uploadResponse struct {
	Success        bool           `json:"success"`
	Filename       string         `json:"filename"`
	Message        string         `json:"message"`
	Matches        []oneshotMatch `json:"matches"`
	MatchCount     int            `json:"matchCount"`
	SearchDuration string         `json:"searchDuration"`
	FindError      string         `json:"findError"`
}

// OneShotOption configures a [OneShot].
type OneShotOption func(*OneShot)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) OneShotOption {
	return func(o *OneShot) {
		o.client = client
	}
}

// OneShot submits a session as a single multipart upload of the recording.
// The backend fingerprints server-side, so the submission's fingerprint is
// not sent; the recording is mandatory.
type OneShot struct {
	base   string
	client *http.Client
	ledger ledger
}

// NewOneShot creates a one-shot channel for the given http:// or https://
// base URL.
func NewOneShot(base string, opts ...OneShotOption) *OneShot {
	o := &OneShot{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Submit uploads the recording and decodes the ranked matches from the
// response. A non-2xx answer surfaces the backend's own words; a transport
// failure is reported as a network error.
func (o *OneShot) Submit(ctx context.Context, sub *Submission) ([]Match, error) {
	if !o.ledger.claim(sub.SessionID) {
		return nil, ErrAlreadySubmitted
	}
	if sub.Recording == nil {
		return nil, errors.New("submit: one-shot submission requires the recording")
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	filename := fmt.Sprintf("recording_%s.wav", uuid.NewString())
	part, err := writer.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("submit: build form: %w", err)
	}
	if _, err := part.Write(sub.Recording.WAV); err != nil {
		return nil, fmt.Errorf("submit: build form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("submit: build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.base+uploadPath, body)
	if err != nil {
		return nil, fmt.Errorf("submit: build request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := fmt.Sprintf("Upload failed: %d %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		return nil, &Error{Kind: KindServer, Detail: detail}
	}

	var decoded uploadResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, &Error{Kind: KindServer, Err: fmt.Errorf("decode response: %w", err)}
	}
	if decoded.FindError != "" {
		// The backend saved the audio but its match search failed; it
		// reports that as a successful upload with zero matches.
		slog.Warn("backend match search failed", "error", decoded.FindError)
	}

	matches := make([]Match, 0, len(decoded.Matches))
	for _, m := range decoded.Matches {
		matches = append(matches, Match{
			SongID:      m.SongID,
			Title:       m.SongTitle,
			Artist:      m.SongArtist,
			YouTubeID:   m.YouTubeID,
			TimestampMs: m.Timestamp,
			Score:       m.Score,
		})
	}
	slog.Debug("upload complete",
		"session", sub.SessionID,
		"filename", filename,
		"matches", len(matches),
		"search_duration", decoded.SearchDuration,
	)
	return matches, nil
}

// Close releases idle connections. Idempotent.
func (o *OneShot) Close() error {
	o.client.CloseIdleConnections()
	return nil
}
