// Package observe provides application-wide observability primitives for
// Auricle: OpenTelemetry metrics with a Prometheus exporter bridge.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Auricle metrics.
const meterName = "github.com/auricle/auricle"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// AcquireDuration tracks device acquisition latency, including the
	// permission prompt where the backend has one.
	AcquireDuration metric.Float64Histogram

	// RecordDuration tracks how long a recording ran before its stop
	// trigger fired.
	RecordDuration metric.Float64Histogram

	// TranscodeDuration tracks decode plus canonical-format conversion
	// latency.
	TranscodeDuration metric.Float64Histogram

	// FingerprintDuration tracks fingerprint engine latency.
	FingerprintDuration metric.Float64Histogram

	// SubmitDuration tracks submission round-trip latency.
	SubmitDuration metric.Float64Histogram

	// --- Counters ---

	// Sessions counts finished sessions. Use with attributes:
	//   attribute.String("outcome", ...), attribute.String("trigger", ...)
	Sessions metric.Int64Counter

	// Submissions counts backend submissions. Use with attributes:
	//   attribute.String("status", ...)
	Submissions metric.Int64Counter

	// PipelineErrors counts stage failures. Use with attribute:
	//   attribute.String("stage", ...)
	PipelineErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live sessions (0 or 1 under the
	// single-session invariant; anything else indicates a lifecycle bug).
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) covering
// everything from sub-second transcodes to a full 20s recording window.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.AcquireDuration, err = m.Float64Histogram("auricle.capture.acquire.duration",
		metric.WithDescription("Latency of microphone acquisition."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RecordDuration, err = m.Float64Histogram("auricle.record.duration",
		metric.WithDescription("Recording length at the time its stop trigger fired."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscodeDuration, err = m.Float64Histogram("auricle.transcode.duration",
		metric.WithDescription("Latency of decode and canonical-format conversion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FingerprintDuration, err = m.Float64Histogram("auricle.fingerprint.duration",
		metric.WithDescription("Latency of fingerprint generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SubmitDuration, err = m.Float64Histogram("auricle.submit.duration",
		metric.WithDescription("Round-trip latency of backend submission."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Sessions, err = m.Int64Counter("auricle.sessions",
		metric.WithDescription("Total finished sessions by outcome and stop trigger."),
	); err != nil {
		return nil, err
	}
	if met.Submissions, err = m.Int64Counter("auricle.submissions",
		metric.WithDescription("Total backend submissions by status."),
	); err != nil {
		return nil, err
	}
	if met.PipelineErrors, err = m.Int64Counter("auricle.pipeline.errors",
		metric.WithDescription("Total pipeline stage failures by stage."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("auricle.active_sessions",
		metric.WithDescription("Number of live capture sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordSession records a finished session with its outcome ("success",
// "error", "discarded") and the trigger that stopped the recording.
func (m *Metrics) RecordSession(ctx context.Context, outcome, trigger string) {
	m.Sessions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("trigger", trigger),
		),
	)
}

// RecordSubmission records one backend submission by status ("ok",
// "no-match", "network", "server", "timeout").
func (m *Metrics) RecordSubmission(ctx context.Context, status string) {
	m.Submissions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordPipelineError records a stage failure ("acquire", "record",
// "transcode", "fingerprint", "submit").
func (m *Metrics) RecordPipelineError(ctx context.Context, stage string) {
	m.PipelineErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}
