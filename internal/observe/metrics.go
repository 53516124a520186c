// Package observe provides OpenTelemetry metrics for the voice pipeline,
// bridged to Prometheus for scraping via the standard /metrics endpoint.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for all pipeline metrics.
const meterName = "github.com/matudnorthrup/openclaw-voice-sub001"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// DispatchDuration tracks gateway dispatch latency, from inject to the
	// reply arriving.
	DispatchDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// --- Counters ---

	// Utterances counts handled utterances. Use with attribute:
	//   attribute.String("outcome", ...): dispatched|queued|dropped|discarded|choice|cancelled
	Utterances metric.Int64Counter

	// DispatchFailures counts failed gateway dispatches.
	DispatchFailures metric.Int64Counter

	// GatewayReconnects counts gateway reconnect attempts.
	GatewayReconnects metric.Int64Counter

	// TTSFailovers counts synthesis calls served by a non-primary backend.
	TTSFailovers metric.Int64Counter

	// --- Gauges ---

	// QueueDepth tracks the number of items currently pending or ready in
	// the work queue.
	QueueDepth metric.Int64UpDownCounter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) tuned for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.STTDuration, err = m.Float64Histogram("openclawvoice.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.DispatchDuration, err = m.Float64Histogram("openclawvoice.dispatch.duration",
		metric.WithDescription("Latency of gateway dispatch from inject to reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("openclawvoice.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Utterances, err = m.Int64Counter("openclawvoice.utterances",
		metric.WithDescription("Total handled utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.DispatchFailures, err = m.Int64Counter("openclawvoice.dispatch.failures",
		metric.WithDescription("Total failed gateway dispatches."),
	); err != nil {
		return nil, err
	}
	if met.GatewayReconnects, err = m.Int64Counter("openclawvoice.gateway.reconnects",
		metric.WithDescription("Total gateway reconnect attempts."),
	); err != nil {
		return nil, err
	}
	if met.TTSFailovers, err = m.Int64Counter("openclawvoice.tts.failovers",
		metric.WithDescription("Total synthesis calls served by a non-primary backend."),
	); err != nil {
		return nil, err
	}

	if met.QueueDepth, err = m.Int64UpDownCounter("openclawvoice.queue.depth",
		metric.WithDescription("Items currently pending or ready in the work queue."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("openclawvoice.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer.
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

// RecordUtterance records one handled utterance with its outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
}

// RecordDispatchFailure records one failed gateway dispatch.
func (m *Metrics) RecordDispatchFailure(ctx context.Context) {
	m.DispatchFailures.Add(ctx, 1)
}

// RecordTTSFailover records a synthesis call served by a non-primary backend.
func (m *Metrics) RecordTTSFailover(ctx context.Context, backend string) {
	m.TTSFailovers.Add(ctx, 1,
		metric.WithAttributes(attribute.String("backend", backend)),
	)
}
