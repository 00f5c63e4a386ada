// Package observe provides application-wide observability primitives for the
// voice assistant server: OpenTelemetry metrics, tracing helpers, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrBloodrune/RealtimeSTT"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// TranscriptionDuration tracks speech-to-text transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// GenerationDuration tracks LLM response generation latency.
	GenerationDuration metric.Float64Histogram

	// SynthesisDuration tracks text-to-speech synthesis latency.
	SynthesisDuration metric.Float64Histogram

	// ResponseDuration tracks the span from a final user transcript to the
	// assistant's speech task being enqueued.
	ResponseDuration metric.Float64Histogram

	// --- Counters ---

	// FinalTranscripts counts accepted final transcripts. Use with attribute:
	//   attribute.String("mode", ...)
	FinalTranscripts metric.Int64Counter

	// DuplicateTranscripts counts final transcripts suppressed as duplicates
	// of the immediately preceding one.
	DuplicateTranscripts metric.Int64Counter

	// SpeechTasks counts speech tasks enqueued for playback. Use with attribute:
	//   attribute.String("source", ...)
	SpeechTasks metric.Int64Counter

	// Interruptions counts playback interruptions. Use with attribute:
	//   attribute.String("reason", ...)
	Interruptions metric.Int64Counter

	// DroppedEvents counts events dropped because a consumer fell behind.
	// Use with attribute: attribute.String("channel", ...)
	DroppedEvents metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.TranscriptionDuration, err = m.Float64Histogram("realtimestt.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.GenerationDuration, err = m.Float64Histogram("realtimestt.llm.duration",
		metric.WithDescription("Latency of LLM response generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SynthesisDuration, err = m.Float64Histogram("realtimestt.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ResponseDuration, err = m.Float64Histogram("realtimestt.response.duration",
		metric.WithDescription("Latency from final user transcript to enqueued assistant speech."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FinalTranscripts, err = m.Int64Counter("realtimestt.transcripts.final",
		metric.WithDescription("Total accepted final transcripts by mode."),
	); err != nil {
		return nil, err
	}
	if met.DuplicateTranscripts, err = m.Int64Counter("realtimestt.transcripts.duplicate",
		metric.WithDescription("Total final transcripts suppressed as consecutive duplicates."),
	); err != nil {
		return nil, err
	}
	if met.SpeechTasks, err = m.Int64Counter("realtimestt.speech.tasks",
		metric.WithDescription("Total speech tasks enqueued for playback by source."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("realtimestt.speech.interruptions",
		metric.WithDescription("Total playback interruptions by reason."),
	); err != nil {
		return nil, err
	}
	if met.DroppedEvents, err = m.Int64Counter("realtimestt.events.dropped",
		metric.WithDescription("Total events dropped because a consumer fell behind."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("realtimestt.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("realtimestt.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("realtimestt.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("realtimestt.http.request.duration",
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

// RecordProviderRequest records a provider request counter increment with the
// standard attribute set.
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

// RecordFinalTranscript records an accepted final transcript for the given
// session mode.
func (m *Metrics) RecordFinalTranscript(ctx context.Context, mode string) {
	m.FinalTranscripts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("mode", mode)),
	)
}

// RecordDuplicateTranscript records a suppressed duplicate final transcript.
func (m *Metrics) RecordDuplicateTranscript(ctx context.Context) {
	m.DuplicateTranscripts.Add(ctx, 1)
}

// RecordSpeechTask records an enqueued speech task by source ("assistant" for
// generated replies, "control" for client speak commands).
func (m *Metrics) RecordSpeechTask(ctx context.Context, source string) {
	m.SpeechTasks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("source", source)),
	)
}

// RecordInterruption records a playback interruption by reason.
func (m *Metrics) RecordInterruption(ctx context.Context, reason string) {
	m.Interruptions.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordDroppedEvent records an event dropped on the named channel.
func (m *Metrics) RecordDroppedEvent(ctx context.Context, channel string) {
	m.DroppedEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("channel", channel)),
	)
}
