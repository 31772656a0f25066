// Command auricle is the song identification client: it records a bounded
// snippet from the microphone, fingerprints it, and asks the matching backend
// what is playing.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/auricle/auricle/internal/config"
	"github.com/auricle/auricle/internal/fingerprint"
	"github.com/auricle/auricle/internal/health"
	"github.com/auricle/auricle/internal/observe"
	"github.com/auricle/auricle/internal/session"
	"github.com/auricle/auricle/internal/submit"
	"github.com/auricle/auricle/internal/transcode"
	"github.com/auricle/auricle/pkg/capture"
	paCapture "github.com/auricle/auricle/pkg/capture/portaudio"
	"github.com/auricle/auricle/pkg/engine/spectral"
	"github.com/auricle/auricle/pkg/wave"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	filePath := flag.String("file", "", "identify an existing WAV or MP3 file instead of recording")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "auricle: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "auricle: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server)
	slog.SetDefault(logger)

	slog.Info("auricle starting",
		"config", *configPath,
		"protocol", cfg.Submit.Protocol,
		"record_duration", cfg.RecordDuration(),
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "auricle"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Fingerprint engine ────────────────────────────────────────────────────
	adapter := fingerprint.New(spectral.New())
	go func() {
		if err := adapter.Load(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("fingerprint engine load failed", "err", err)
		}
	}()

	transcoder := transcode.New(wave.Format{SampleRate: 44100, Channels: 1})

	// ── Submission channel ────────────────────────────────────────────────────
	channel, connected, err := buildChannel(ctx, cfg)
	if err != nil {
		slog.Error("failed to open submission channel", "err", err)
		return 1
	}
	defer func() {
		if err := channel.Close(); err != nil {
			slog.Warn("channel close error", "err", err)
		}
	}()

	variant := buildVariant(cfg)

	// ── File identify mode ────────────────────────────────────────────────────
	if *filePath != "" {
		return identifyFile(ctx, *filePath, transcoder, adapter, channel, variant)
	}

	machine := session.New(session.Config{
		Variant:       variant,
		Device:        paCapture.New(),
		Transcoder:    transcoder,
		Fingerprinter: adapter,
		Channel:       channel,
		Notifier:      terminalNotifier{},
		Metrics:       metrics,
	})

	printStartupSummary(cfg)

	// ── Run ───────────────────────────────────────────────────────────────────
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Server.ListenAddr != "" {
		g.Go(func() error {
			return serveHTTP(gctx, cfg.Server.ListenAddr, adapter, connected)
		})
	}
	g.Go(func() error {
		// A clean "quit" must also bring the HTTP endpoint down.
		defer cancelRun()
		return commandLoop(gctx, machine)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutting down")
	machine.Discard()
	slog.Info("goodbye")
	return 0
}

// ── Wiring ────────────────────────────────────────────────────────────────────

// buildChannel constructs the configured submission channel and a readiness
// probe for it. The duplex channel dials eagerly so a bad endpoint fails at
// startup instead of at the first submission.
func buildChannel(ctx context.Context, cfg *config.Config) (submit.Channel, func() bool, error) {
	if cfg.Submit.Protocol == config.ProtocolOneShot {
		ch := submit.NewOneShot(cfg.Submit.UploadURL)
		return ch, func() bool { return true }, nil
	}

	d := submit.NewDuplex(cfg.Submit.DuplexURL,
		submit.WithReplyTimeout(cfg.ReplyTimeout()),
		submit.WithTotalSongsPoll(cfg.TotalSongsInterval(), func(n int64) {
			fmt.Printf("Backend index: %s songs\n", humanize.Comma(n))
		}),
		submit.WithDownloadStatusHandler(func(st submit.DownloadStatus) {
			fmt.Printf("[backend %s] %s\n", st.Type, st.Message)
		}),
	)
	if err := d.Connect(ctx); err != nil {
		return nil, nil, err
	}
	return d, d.Connected, nil
}

// buildVariant derives the session variant from the configured protocol:
// duplex fingerprints client-side over a raw capture, one-shot uploads a
// processed recording for server-side fingerprinting.
func buildVariant(cfg *config.Config) session.Variant {
	v := session.Variant{
		RecordDuration: cfg.RecordDuration(),
		Constraints: capture.Constraints{
			SampleRate: cfg.Capture.SampleRate,
			Channels:   cfg.Channels(),
			SampleSize: 16,
			Processing: cfg.CaptureProcessing(),
		},
	}
	if cfg.Submit.Protocol == config.ProtocolOneShot {
		v.AttachRecording = true
	} else {
		v.Fingerprint = true
		v.AttachRecording = cfg.Submit.UploadRecording
	}
	return v
}

// serveHTTP runs the local health and metrics endpoint until ctx is done.
func serveHTTP(ctx context.Context, addr string, adapter *fingerprint.Adapter, connected func() bool) error {
	mux := http.NewServeMux()
	health.New(
		health.EngineReady(adapter.Ready),
		health.ChannelConnected(connected),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("health and metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ── Interactive loop ──────────────────────────────────────────────────────────

// commandLoop reads commands from stdin and drives the session machine.
// EOF on stdin ends the loop.
func commandLoop(ctx context.Context, machine *session.Machine) error {
	fmt.Println("Commands: start, stop, discard, reset, status, quit")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			select {
			case lines <- strings.TrimSpace(sc.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch line {
			case "":
			case "start":
				if err := machine.Start(ctx); err != nil {
					if errors.Is(err, session.ErrSessionActive) {
						fmt.Println("A session is already running.")
					} else {
						fmt.Println(machine.LastError())
					}
					continue
				}
				info := machine.Info()
				fmt.Printf("Listening… (up to %s, \"stop\" to finish early)\n",
					time.Until(info.Deadline).Round(time.Second))
			case "stop":
				machine.Stop()
			case "discard":
				machine.Discard()
				fmt.Println("Recording discarded.")
			case "reset":
				if err := machine.Reset(); err != nil {
					fmt.Println("Nothing to reset.")
				}
			case "status":
				fmt.Printf("Status: %s\n", machine.Status())
			case "quit", "exit":
				return nil
			default:
				fmt.Printf("Unknown command %q.\n", line)
			}
		}
	}
}

// terminalNotifier renders session outcomes on stdout.
type terminalNotifier struct{}

func (terminalNotifier) Matches(matches []submit.Match) {
	printMatches(matches)
}

func (terminalNotifier) NoMatch() {
	fmt.Println("No match found.")
}

func (terminalNotifier) SessionFailed(message string) {
	fmt.Println(message)
}

// printMatches renders a ranked result list.
func printMatches(matches []submit.Match) {
	fmt.Printf("Found %d match(es):\n", len(matches))
	for i, m := range matches {
		offset := time.Duration(m.TimestampMs) * time.Millisecond
		fmt.Printf("%2d. %s — %s  (score %.0f, at %s)\n",
			i+1, m.Title, m.Artist, m.Score, offset.Round(time.Second))
		if m.YouTubeID != "" {
			fmt.Printf("    https://www.youtube.com/watch?v=%s\n", m.YouTubeID)
		}
	}
}

// ── File identify mode ────────────────────────────────────────────────────────

// identifyFile runs the pipeline over an existing audio file: decode and
// normalize, fingerprint if the variant does so client-side, submit, print.
func identifyFile(ctx context.Context, path string, transcoder *transcode.Transcoder, adapter *fingerprint.Adapter, channel submit.Channel, variant session.Variant) int {
	blob, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auricle: %v\n", err)
		return 1
	}

	waveform, err := transcoder.Transcode(ctx, blob)
	if err != nil {
		slog.Error("transcode failed", "file", path, "err", err)
		fmt.Fprintf(os.Stderr, "auricle: %s could not be decoded\n", path)
		return 1
	}

	sub := &submit.Submission{SessionID: uuid.NewString()}
	if variant.Fingerprint {
		if err := awaitEngine(ctx, adapter, 15*time.Second); err != nil {
			slog.Error("fingerprint engine not ready", "err", err)
			return 1
		}
		fp, err := adapter.Fingerprint(waveform)
		if err != nil {
			slog.Error("fingerprint failed", "file", path, "err", err)
			return 1
		}
		sub.Fingerprint = fp
	}
	if variant.AttachRecording {
		sub.Recording = &submit.Recording{
			WAV:        wave.EncodeWAV(waveform),
			Format:     transcoder.Target(),
			SampleSize: 16,
			Duration:   waveform.Duration(),
		}
	}

	fmt.Printf("Identifying %s (%s of audio)…\n", path, waveform.Duration().Round(time.Second))
	matches, err := channel.Submit(ctx, sub)
	if err != nil {
		slog.Error("submit failed", "file", path, "err", err)
		var m interface{ Message() string }
		if errors.As(err, &m) {
			fmt.Fprintln(os.Stderr, m.Message())
		}
		return 1
	}
	if len(matches) == 0 {
		fmt.Println("No match found.")
		return 0
	}
	printMatches(matches)
	return 0
}

// awaitEngine waits for the fingerprint engine's one-time load.
func awaitEngine(ctx context.Context, adapter *fingerprint.Adapter, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for !adapter.Ready() {
		if time.Now().After(deadline) {
			return fmt.Errorf("engine not ready after %s", timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Auricle — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Protocol", string(cfg.Submit.Protocol))
	if cfg.Submit.Protocol == config.ProtocolOneShot {
		printField("Upload URL", cfg.Submit.UploadURL)
	} else {
		printField("Duplex URL", cfg.Submit.DuplexURL)
	}
	printField("Record limit", cfg.RecordDuration().String())
	capt := "mono"
	if cfg.Capture.Stereo {
		capt = "stereo"
	}
	if cfg.CaptureProcessing() {
		capt += ", processed"
	} else {
		capt += ", raw"
	}
	printField("Capture", capt)
	if cfg.Server.ListenAddr != "" {
		printField("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(name, value string) {
	fmt.Printf("║  %-15s : %-19s ║\n", name, truncateField(value, 19))
}

// truncateField shortens s to at most max runes, marking the cut with an
// ellipsis. Slicing runes rather than bytes keeps multibyte characters at
// the boundary intact.
func truncateField(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}

// ── Logger ────────────────────────────────────────────────────────────────────

func newLogger(cfg config.ServerConfig) *slog.Logger {
	var lvl slog.Level
	switch cfg.LogLevel {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: lvl}))
}
