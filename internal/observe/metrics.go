// Package observe provides application-wide observability primitives for
// wakecmd: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [NewTelemetry]
// bridges them into a Prometheus registry that the admin server scrapes on
// /metrics. A package-level default
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

// meterName is the instrumentation scope name used for all wakecmd metrics.
const meterName = "github.com/MrWong99/wakecmd"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use. The underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks speech-to-text transcription latency. Use with
	// attribute.String("status", "ok"|"error").
	STTDuration metric.Float64Histogram

	// SegmentDuration tracks the audio length of emitted segments.
	SegmentDuration metric.Float64Histogram

	// HandlerDuration tracks event handler run time. Use with
	// attribute.String("event_type", ...).
	HandlerDuration metric.Float64Histogram

	// --- Counters ---

	// ChunksProcessed counts audio chunks consumed by the pipeline loop.
	ChunksProcessed metric.Int64Counter

	// ChunksDropped counts chunks discarded by the capture queue. Use with
	// attribute.String("policy", ...).
	ChunksDropped metric.Int64Counter

	// Segments counts segmenter outcomes. Use with attributes:
	//   attribute.String("outcome", "emitted"|"discarded"), attribute.String("reason", ...)
	Segments metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// EventsPublished counts events accepted by the bus. Use with
	// attribute.String("event_type", ...).
	EventsPublished metric.Int64Counter

	// EventsDropped counts handler deliveries that never ran. Use with
	// attributes attribute.String("event_type", ...), attribute.String("reason", ...).
	EventsDropped metric.Int64Counter

	// CommandsDetected counts wake word matches. Use with
	// attribute.Bool("phonetic", ...).
	CommandsDetected metric.Int64Counter

	// SinkWrites counts sink deliveries. Use with attributes:
	//   attribute.String("sink", ...), attribute.String("status", ...)
	SinkWrites metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// HandlerFailures counts event handlers that returned an error or
	// panicked. Use with attributes:
	//   attribute.String("event_type", ...), attribute.String("reason", "error"|"panic")
	HandlerFailures metric.Int64Counter

	// --- Gauges ---

	// ActivePipelines tracks the number of running pipelines.
	ActivePipelines metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks admin server request time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.String("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for transcription and handler latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// segmentBuckets defines histogram bucket boundaries (in seconds) for
// utterance lengths.
var segmentBuckets = []float64{
	0.3, 0.5, 1, 2, 3, 5, 7.5, 10, 15,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("wakecmd.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentDuration, err = m.Float64Histogram("wakecmd.segment.duration",
		metric.WithDescription("Audio length of emitted speech segments."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HandlerDuration, err = m.Float64Histogram("wakecmd.handler.duration",
		metric.WithDescription("Run time of event bus handlers."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ChunksProcessed, err = m.Int64Counter("wakecmd.audio.chunks",
		metric.WithDescription("Total audio chunks consumed by the pipeline."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("wakecmd.audio.chunks_dropped",
		metric.WithDescription("Total audio chunks dropped by the capture queue by overflow policy."),
	); err != nil {
		return nil, err
	}
	if met.Segments, err = m.Int64Counter("wakecmd.segments",
		metric.WithDescription("Total segmenter outcomes by outcome and reason."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("wakecmd.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.EventsPublished, err = m.Int64Counter("wakecmd.events.published",
		metric.WithDescription("Total events published by event type."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("wakecmd.events.dropped",
		metric.WithDescription("Total handler deliveries dropped by event type and reason."),
	); err != nil {
		return nil, err
	}
	if met.CommandsDetected, err = m.Int64Counter("wakecmd.commands.detected",
		metric.WithDescription("Total wake word commands detected."),
	); err != nil {
		return nil, err
	}
	if met.SinkWrites, err = m.Int64Counter("wakecmd.sink.writes",
		metric.WithDescription("Total sink deliveries by sink and status."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("wakecmd.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.HandlerFailures, err = m.Int64Counter("wakecmd.handler.failures",
		metric.WithDescription("Total event handler failures by event type and reason."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActivePipelines, err = m.Int64UpDownCounter("wakecmd.active_pipelines",
		metric.WithDescription("Number of running pipelines."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("wakecmd.http.request.duration",
		metric.WithDescription("Admin HTTP request latency by method, route and status."),
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

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSegment records a segmenter outcome. reason is empty for emitted
// segments.
func (m *Metrics) RecordSegment(ctx context.Context, outcome, reason string) {
	m.Segments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("outcome", outcome),
			attribute.String("reason", reason),
		),
	)
}

// RecordChunkDropped records a chunk discarded by the capture queue.
func (m *Metrics) RecordChunkDropped(ctx context.Context, policy string) {
	m.ChunksDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("policy", policy)))
}

// RecordEventPublished records an event accepted by the bus.
func (m *Metrics) RecordEventPublished(ctx context.Context, eventType string) {
	m.EventsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordEventDropped records a handler delivery that never ran.
func (m *Metrics) RecordEventDropped(ctx context.Context, eventType, reason string) {
	m.EventsDropped.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event_type", eventType),
			attribute.String("reason", reason),
		),
	)
}

// RecordHandlerFailure records an event handler that returned an error or
// panicked.
func (m *Metrics) RecordHandlerFailure(ctx context.Context, eventType, reason string) {
	m.HandlerFailures.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("event_type", eventType),
			attribute.String("reason", reason),
		),
	)
}

// RecordCommand records a detected wake word command.
func (m *Metrics) RecordCommand(ctx context.Context, phonetic bool) {
	m.CommandsDetected.Add(ctx, 1, metric.WithAttributes(attribute.Bool("phonetic", phonetic)))
}

// RecordSinkWrite records a sink delivery.
func (m *Metrics) RecordSinkWrite(ctx context.Context, sink, status string) {
	m.SinkWrites.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("sink", sink),
			attribute.String("status", status),
		),
	)
}
