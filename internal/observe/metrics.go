// Package observe provides application-wide observability primitives for
// nbdlive: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Setup] bridges
// them into a Prometheus registry served on /metrics. A package-level default
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

// meterName is the instrumentation scope name used for all nbdlive metrics.
const meterName = "github.com/netbdpro/nbdlive"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// HandshakeDuration tracks the time from Connect to setupComplete.
	HandshakeDuration metric.Float64Histogram

	// ChatDuration tracks text chat generation latency. Use with attribute:
	//   attribute.String("mode", ...)
	ChatDuration metric.Float64Histogram

	// --- Counters ---

	// SessionsStarted counts Start attempts. Use with attribute:
	//   attribute.String("status", "ok"|"failed")
	SessionsStarted metric.Int64Counter

	// SessionEnds counts session teardowns. Use with attribute:
	//   attribute.String("reason", "stop"|"remote_close"|"remote_error"|"shutdown")
	SessionEnds metric.Int64Counter

	// ChunksSent counts microphone chunks handed to the remote session.
	ChunksSent metric.Int64Counter

	// ChunksDropped counts microphone chunks whose send failed.
	ChunksDropped metric.Int64Counter

	// ChunksScheduled counts model audio chunks scheduled for playback.
	ChunksScheduled metric.Int64Counter

	// DecodeErrors counts model audio chunks that could not be decoded.
	DecodeErrors metric.Int64Counter

	// Interruptions counts barge-in events.
	Interruptions metric.Int64Counter

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control API latency. Attributes:
	//   attribute.String("route", "POST /v1/voice/start"|...|"unmatched"),
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) suited to
// handshake and generation latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.HandshakeDuration, err = m.Float64Histogram("nbdlive.live.handshake.duration",
		metric.WithDescription("Latency from dial to setupComplete."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ChatDuration, err = m.Float64Histogram("nbdlive.chat.duration",
		metric.WithDescription("Latency of text chat generation by mode."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.SessionsStarted, "nbdlive.voice.sessions_started", "Voice session start attempts by status."},
		{&met.SessionEnds, "nbdlive.voice.session_ends", "Voice session teardowns by reason."},
		{&met.ChunksSent, "nbdlive.uplink.chunks_sent", "Microphone chunks sent to the remote session."},
		{&met.ChunksDropped, "nbdlive.uplink.chunks_dropped", "Microphone chunks dropped after a send failure."},
		{&met.ChunksScheduled, "nbdlive.playback.chunks_scheduled", "Model audio chunks scheduled for playback."},
		{&met.DecodeErrors, "nbdlive.playback.decode_errors", "Model audio chunks that failed to decode."},
		{&met.Interruptions, "nbdlive.playback.interruptions", "Barge-in interruptions."},
		{&met.ProviderRequests, "nbdlive.provider.requests", "Total provider API requests by provider, kind, and status."},
		{&met.ProviderErrors, "nbdlive.provider.errors", "Total provider errors by provider and kind."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("nbdlive.voice.active_sessions",
		metric.WithDescription("Number of open voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("nbdlive.http.request.duration",
		metric.WithDescription("Control API latency by route pattern and status."),
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSessionStart records a Start attempt and, on success, increments
// the active session gauge.
func (m *Metrics) RecordSessionStart(ctx context.Context, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.SessionsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if ok {
		m.ActiveSessions.Add(ctx, 1)
	}
}

// RecordSessionEnd records a teardown of an open session.
func (m *Metrics) RecordSessionEnd(ctx context.Context, reason string) {
	m.SessionEnds.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.ActiveSessions.Add(ctx, -1)
}
