package submit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	// Event names on the duplex wire. Outbound: newFingerprint carries the
	// hash map, newRecording the optional raw audio, totalSongs an empty
	// payload asking for the library size. Inbound: matches answers a
	// submission, downloadStatus and totalSongs are server pushes.
	eventNewFingerprint = "newFingerprint"
	eventNewRecording   = "newRecording"
	eventTotalSongs     = "totalSongs"
	eventMatches        = "matches"
	eventDownloadStatus = "downloadStatus"

	defaultReplyTimeout = 15 * time.Second

	reconnectInitial = time.Second
	reconnectMax     = 30 * time.Second
)

// envelope is one duplex wire frame, sent as a JSON text message.
type envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// duplexMatch mirrors the backend's match serialization on the duplex wire.
type duplexMatch struct {
	SongID     uint32  `json:"SongID"`
	SongTitle  string  `json:"SongTitle"`
	SongArtist string  `json:"SongArtist"`
	YouTubeID  string  `json:"YouTubeID"`
	Timestamp  uint32  `json:"Timestamp"`
	Score      float64 `json:"Score"`
}

// DuplexOption configures a [Duplex].
type DuplexOption func(*Duplex)

// WithReplyTimeout bounds how long a submission waits for the matches
// reply. Default: 15s.
func WithReplyTimeout(d time.Duration) DuplexOption {
	return func(dx *Duplex) {
		if d > 0 {
			dx.replyTimeout = d
		}
	}
}

// WithTotalSongsPoll makes the channel ask for the library size every
// interval and deliver each answer to fn. Disabled when interval is zero.
func WithTotalSongsPoll(interval time.Duration, fn func(int64)) DuplexOption {
	return func(dx *Duplex) {
		dx.pollInterval = interval
		dx.onTotal = fn
	}
}

// WithDownloadStatusHandler delivers server download notices to fn.
func WithDownloadStatusHandler(fn func(DownloadStatus)) DuplexOption {
	return func(dx *Duplex) {
		dx.onStatus = fn
	}
}

// Duplex is the websocket submission channel. It owns its connection
// explicitly: Connect dials, a background goroutine reads frames and
// redials with exponential backoff after a drop, Close tears everything
// down. Submissions are single-in-flight because the wire protocol has no
// correlation IDs; a reply is matched to the one pending submission by
// recency, and a submission that outlives its reply window fails with a
// timeout instead of hanging.
type Duplex struct {
	url          string
	replyTimeout time.Duration
	pollInterval time.Duration
	onStatus     func(DownloadStatus)
	onTotal      func(int64)

	ledger ledger

	// gen counts connection changes. A matches reply is only honored when
	// it arrives on the same connection its submission was sent on; a reply
	// surfacing after a drop and redial belongs to nobody.
	mu      sync.Mutex
	conn    *websocket.Conn
	gen     uint64
	pending *pendingReply

	// ctx is cancelled by Close so blocked reads and in-flight redials
	// unwind instead of keeping the run goroutine alive.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

// pendingReply is the single in-flight submission slot, tagged with the
// generation of the connection the frames went out on.
type pendingReply struct {
	ch  chan []Match
	gen uint64
}

// NewDuplex creates an unconnected duplex channel for the given ws:// or
// wss:// URL.
func NewDuplex(url string, opts ...DuplexOption) *Duplex {
	d := &Duplex{
		url:          url,
		replyTimeout: defaultReplyTimeout,
		done:         make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	for _, o := range opts {
		o(d)
	}
	return d
}

// Connect dials the backend and starts the read and poll loops. The first
// dial failing is returned to the caller; later drops are handled by the
// background reconnect loop.
func (d *Duplex) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, d.url, nil)
	if err != nil {
		return fmt.Errorf("submit: dial %s: %w", d.url, err)
	}
	d.setConn(conn)
	slog.Info("duplex channel connected", "url", d.url)

	d.wg.Add(1)
	go d.run()

	if d.onTotal != nil && d.pollInterval > 0 {
		d.requestTotalSongs()
		d.wg.Add(1)
		go d.pollLoop()
	}
	return nil
}

// Connected reports whether a live connection is currently held.
func (d *Duplex) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn != nil
}

// Submit sends the fingerprint (and the recording, when present) and waits
// for the matches reply. A connection drop while waiting is not retried:
// the reply window elapses into a timeout error and the session ends in
// its error state.
func (d *Duplex) Submit(ctx context.Context, sub *Submission) ([]Match, error) {
	reply := make(chan []Match, 1)
	d.mu.Lock()
	if d.pending != nil {
		d.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	// Claim the session only once the slot is ours, so a rejected
	// concurrent Submit does not burn the session ID.
	if !d.ledger.claim(sub.SessionID) {
		d.mu.Unlock()
		return nil, ErrAlreadySubmitted
	}
	conn := d.conn
	d.pending = &pendingReply{ch: reply, gen: d.gen}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.pending = nil
		d.mu.Unlock()
	}()

	if conn == nil {
		return nil, &Error{Kind: KindNetwork, Err: errors.New("not connected")}
	}

	if err := d.writeFrame(ctx, conn, eventNewFingerprint, fingerprintPayload(sub)); err != nil {
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	if sub.Recording != nil {
		if err := d.writeFrame(ctx, conn, eventNewRecording, recordingPayload(sub.Recording)); err != nil {
			return nil, &Error{Kind: KindNetwork, Err: err}
		}
	}
	slog.Debug("submitted fingerprint",
		"session", sub.SessionID,
		"hashes", len(sub.Fingerprint),
		"with_recording", sub.Recording != nil,
	)

	timer := time.NewTimer(d.replyTimeout)
	defer timer.Stop()
	select {
	case matches := <-reply:
		return matches, nil
	case <-timer.C:
		return nil, &Error{Kind: KindTimeout, Err: fmt.Errorf("no reply within %s", d.replyTimeout)}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.done:
		return nil, &Error{Kind: KindNetwork, Err: errors.New("channel closed")}
	}
}

// Close terminates the channel cleanly. Idempotent.
func (d *Duplex) Close() error {
	d.once.Do(func() {
		close(d.done)
		d.cancel()
		d.mu.Lock()
		conn := d.conn
		d.conn = nil
		d.mu.Unlock()
		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "channel closed")
		}
		d.wg.Wait()
	})
	return nil
}

// run reads frames until the connection drops, then redials with
// exponential backoff. An in-flight submission is never resolved here; it
// times out on its own so the caller sees a bounded wait either way.
func (d *Duplex) run() {
	defer d.wg.Done()

	backoff := reconnectInitial
	for {
		conn := d.currentConn()
		if conn == nil {
			select {
			case <-d.done:
				return
			case <-time.After(backoff):
			}
			dialCtx, cancel := context.WithTimeout(d.ctx, 10*time.Second)
			redial, _, err := websocket.Dial(dialCtx, d.url, nil)
			cancel()
			if err != nil {
				select {
				case <-d.done:
					return
				default:
				}
				slog.Warn("duplex reconnect failed",
					"url", d.url,
					"retry_in", backoff,
					"error", err)
				backoff = min(backoff*2, reconnectMax)
				continue
			}
			backoff = reconnectInitial
			d.setConn(redial)
			// Close may have raced the dial and found no connection to tear
			// down; the fresh one is ours to close then.
			select {
			case <-d.done:
				redial.Close(websocket.StatusNormalClosure, "channel closed")
				return
			default:
			}
			slog.Info("duplex channel reconnected", "url", d.url)
			conn = redial
		}

		err := d.readLoop(conn)
		select {
		case <-d.done:
			return
		default:
		}
		slog.Warn("duplex connection lost", "error", err)
		d.setConn(nil)
	}
}

// readLoop dispatches inbound frames until the connection fails or the
// channel is closed.
func (d *Duplex) readLoop(conn *websocket.Conn) error {
	for {
		_, msg, err := conn.Read(d.ctx)
		if err != nil {
			return err
		}
		d.dispatch(msg)
	}
}

// dispatch routes one inbound frame. Malformed payloads are a protocol
// error: logged, and for a matches frame resolved as no-match so the
// pending submission does not sit out its full timeout on garbage.
func (d *Duplex) dispatch(msg []byte) {
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		slog.Warn("malformed duplex frame", "error", err)
		return
	}

	switch env.Event {
	case eventMatches:
		var wire []duplexMatch
		if len(env.Payload) > 0 && string(env.Payload) != "null" {
			if err := json.Unmarshal(env.Payload, &wire); err != nil {
				slog.Warn("malformed matches payload, treating as no match", "error", err)
				wire = nil
			}
		}
		matches := make([]Match, 0, len(wire))
		for _, m := range wire {
			matches = append(matches, Match{
				SongID:      m.SongID,
				Title:       m.SongTitle,
				Artist:      m.SongArtist,
				YouTubeID:   m.YouTubeID,
				TimestampMs: m.Timestamp,
				Score:       m.Score,
			})
		}
		d.deliver(matches)

	case eventDownloadStatus:
		var status DownloadStatus
		if err := json.Unmarshal(env.Payload, &status); err != nil {
			slog.Warn("malformed downloadStatus payload", "error", err)
			return
		}
		switch status.Type {
		case "info", "success", "error":
			if d.onStatus != nil {
				d.onStatus(status)
			}
		default:
			slog.Debug("ignoring downloadStatus with unknown type", "type", status.Type)
		}

	case eventTotalSongs:
		var count int64
		if err := json.Unmarshal(env.Payload, &count); err != nil {
			slog.Warn("malformed totalSongs payload", "error", err)
			return
		}
		if d.onTotal != nil {
			d.onTotal(count)
		}

	default:
		slog.Debug("ignoring unknown duplex event", "event", env.Event)
	}
}

// deliver hands a matches reply to the pending submission, if any. A reply
// arriving on a different connection than the one the submission went out
// on is dropped; that submission runs out its reply window instead.
func (d *Duplex) deliver(matches []Match) {
	d.mu.Lock()
	pending := d.pending
	gen := d.gen
	d.mu.Unlock()
	if pending == nil {
		slog.Debug("unsolicited matches frame dropped", "count", len(matches))
		return
	}
	if pending.gen != gen {
		slog.Debug("matches frame from a different connection dropped", "count", len(matches))
		return
	}
	select {
	case pending.ch <- matches:
	default:
	}
}

// pollLoop periodically asks the backend for its library size.
func (d *Duplex) pollLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.requestTotalSongs()
		}
	}
}

// requestTotalSongs sends a totalSongs frame with an empty payload.
func (d *Duplex) requestTotalSongs() {
	conn := d.currentConn()
	if conn == nil {
		return
	}
	if err := d.writeFrame(context.Background(), conn, eventTotalSongs, json.RawMessage(`""`)); err != nil {
		slog.Debug("totalSongs poll failed", "error", err)
	}
}

// writeFrame marshals and sends one text frame.
func (d *Duplex) writeFrame(ctx context.Context, conn *websocket.Conn, event string, payload json.RawMessage) error {
	frame, err := json.Marshal(envelope{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", event, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("write %s frame: %w", event, err)
	}
	return nil
}

func (d *Duplex) currentConn() *websocket.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn
}

func (d *Duplex) setConn(conn *websocket.Conn) {
	d.mu.Lock()
	d.conn = conn
	d.gen++
	d.mu.Unlock()
}

// fingerprintPayload builds the newFingerprint payload: the address to
// anchor-time map under a "fingerprint" key.
func fingerprintPayload(sub *Submission) json.RawMessage {
	body := struct {
		Fingerprint map[uint32]uint32 `json:"fingerprint"`
	}{Fingerprint: sub.Fingerprint}
	raw, _ := json.Marshal(body)
	return raw
}

// recordingPayload builds the newRecording payload with the base64 WAV
// blob and its framing metadata.
func recordingPayload(rec *Recording) json.RawMessage {
	body := struct {
		Audio      string  `json:"audio"`
		Channels   int     `json:"channels"`
		SampleRate int     `json:"sampleRate"`
		SampleSize int     `json:"sampleSize"`
		Duration   float64 `json:"duration"`
	}{
		Audio:      base64.StdEncoding.EncodeToString(rec.WAV),
		Channels:   rec.Format.Channels,
		SampleRate: rec.Format.SampleRate,
		SampleSize: rec.SampleSize,
		Duration:   rec.Duration.Seconds(),
	}
	raw, _ := json.Marshal(body)
	return raw
}
