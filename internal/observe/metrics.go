// Package observe provides application-wide observability primitives for
// Voxhoard: OpenTelemetry metrics, tracing helpers, structured logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Voxhoard metrics.
const meterName = "github.com/voxhoard/voxhoard"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// ReconstructionDuration tracks timeline reconstruction latency
	// (store query plus assembly).
	ReconstructionDuration metric.Float64Histogram

	// GraphBuildDuration tracks processing-graph construction latency.
	GraphBuildDuration metric.Float64Histogram

	// EngineStartDuration tracks time from advance to the engine's started
	// signal.
	EngineStartDuration metric.Float64Histogram

	// JoinDuration tracks voice channel join handshake latency.
	JoinDuration metric.Float64Histogram

	// RemoteResolveDuration tracks remote metadata extraction latency.
	RemoteResolveDuration metric.Float64Histogram

	// --- Counters ---

	// PlaybackRequests counts accepted play requests. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	PlaybackRequests metric.Int64Counter

	// ClipsIngested counts clips appended to the archive.
	ClipsIngested metric.Int64Counter

	// PhrasesDetected counts phrases flushed into the phrase index.
	PhrasesDetected metric.Int64Counter

	// --- Error counters ---

	// EngineFailures counts engine-reported playback errors. Use with
	// attribute: attribute.String("kind", ...)
	EngineFailures metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the playback queue length.
	QueueDepth metric.Int64UpDownCounter

	// ActivePlayback tracks whether an invocation currently occupies the
	// playback slot (0 or 1).
	ActivePlayback metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for playback-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ReconstructionDuration, err = m.Float64Histogram("voxhoard.reconstruction.duration",
		metric.WithDescription("Latency of timeline reconstruction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GraphBuildDuration, err = m.Float64Histogram("voxhoard.graph_build.duration",
		metric.WithDescription("Latency of processing graph construction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EngineStartDuration, err = m.Float64Histogram("voxhoard.engine_start.duration",
		metric.WithDescription("Time from advance to the engine's started signal."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JoinDuration, err = m.Float64Histogram("voxhoard.join.duration",
		metric.WithDescription("Latency of the voice channel join handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RemoteResolveDuration, err = m.Float64Histogram("voxhoard.remote_resolve.duration",
		metric.WithDescription("Latency of remote metadata extraction."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.PlaybackRequests, err = m.Int64Counter("voxhoard.playback.requests",
		metric.WithDescription("Total accepted play requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ClipsIngested, err = m.Int64Counter("voxhoard.clips.ingested",
		metric.WithDescription("Total clips appended to the archive."),
	); err != nil {
		return nil, err
	}
	if met.PhrasesDetected, err = m.Int64Counter("voxhoard.phrases.detected",
		metric.WithDescription("Total phrases flushed into the phrase index."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.EngineFailures, err = m.Int64Counter("voxhoard.engine.failures",
		metric.WithDescription("Total engine-reported playback errors by request kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.QueueDepth, err = m.Int64UpDownCounter("voxhoard.queue.depth",
		metric.WithDescription("Current playback queue length."),
	); err != nil {
		return nil, err
	}
	if met.ActivePlayback, err = m.Int64UpDownCounter("voxhoard.active_playback",
		metric.WithDescription("Whether an invocation occupies the playback slot."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voxhoard.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordPlaybackRequest records one accepted play request with the standard
// attribute set.
func (m *Metrics) RecordPlaybackRequest(ctx context.Context, kind, status string) {
	m.PlaybackRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordReconstruction records one timeline reconstruction by mode
// ("sequence" or "phrase").
func (m *Metrics) RecordReconstruction(ctx context.Context, mode string, d time.Duration) {
	m.ReconstructionDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}

// RecordEngineFailure records one engine-reported playback error.
func (m *Metrics) RecordEngineFailure(ctx context.Context, kind string) {
	m.EngineFailures.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
