// Package observe provides application-wide observability primitives for
// uplink: OpenTelemetry metrics, distributed tracing, and HTTP middleware
// that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all uplink metrics.
const meterName = "github.com/MrWong99/uplink"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// ConnectDuration tracks how long the live session handshake takes.
	ConnectDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool execution latency. Use with
	// attribute.String("tool", ...).
	ToolExecutionDuration metric.Float64Histogram

	// --- Counters ---

	// SessionEvents counts inbound session events by attribute "kind".
	SessionEvents metric.Int64Counter

	// ToolCalls counts tool invocations by "tool" and "status".
	ToolCalls metric.Int64Counter

	// OutboundChunks counts media chunks sent upstream by "kind" and "status".
	OutboundChunks metric.Int64Counter

	// OutboundDropped counts chunks discarded by the pre-connect queue.
	OutboundDropped metric.Int64Counter

	// DecodeFailures counts inbound audio chunks that could not be decoded.
	DecodeFailures metric.Int64Counter

	// PlaybackInterrupts counts playback cut-offs by "reason".
	PlaybackInterrupts metric.Int64Counter

	// StopFailures counts playback units whose stop call failed during an
	// interrupt.
	StopFailures metric.Int64Counter

	// StatusTransitions counts lifecycle changes by "from" and "to".
	StatusTransitions metric.Int64Counter

	// ProviderErrors counts provider errors by "provider" and "kind".
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of open live sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by "method"
	// and "path".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) suited to
// realtime voice round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectDuration, err = m.Float64Histogram("uplink.session.connect.duration",
		metric.WithDescription("Latency of the live session handshake."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("uplink.tool_execution.duration",
		metric.WithDescription("Latency of tool execution."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.SessionEvents, err = m.Int64Counter("uplink.session.events",
		metric.WithDescription("Inbound live session events by kind."),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("uplink.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.OutboundChunks, err = m.Int64Counter("uplink.outbound.chunks",
		metric.WithDescription("Media chunks sent upstream by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.OutboundDropped, err = m.Int64Counter("uplink.outbound.dropped",
		metric.WithDescription("Media chunks dropped by the pre-connect queue."),
	); err != nil {
		return nil, err
	}
	if met.DecodeFailures, err = m.Int64Counter("uplink.playback.decode_failures",
		metric.WithDescription("Inbound audio chunks that could not be decoded."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackInterrupts, err = m.Int64Counter("uplink.playback.interrupts",
		metric.WithDescription("Playback interruptions by reason."),
	); err != nil {
		return nil, err
	}
	if met.StopFailures, err = m.Int64Counter("uplink.playback.stop_failures",
		metric.WithDescription("Playback units that failed to stop during an interrupt."),
	); err != nil {
		return nil, err
	}
	if met.StatusTransitions, err = m.Int64Counter("uplink.status.transitions",
		metric.WithDescription("Lifecycle status changes."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("uplink.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("uplink.active_sessions",
		metric.WithDescription("Number of open live sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("uplink.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordToolCall records one tool invocation and its latency.
func (m *Metrics) RecordToolCall(ctx context.Context, tool string, d time.Duration, err error) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", statusLabel(err)),
	))
	m.ToolExecutionDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordSessionEvent counts one inbound event.
func (m *Metrics) RecordSessionEvent(ctx context.Context, kind string) {
	m.SessionEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordOutbound counts one upstream media send attempt.
func (m *Metrics) RecordOutbound(ctx context.Context, kind string, err error) {
	m.OutboundChunks.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", statusLabel(err)),
	))
}

// RecordDropped counts one chunk lost to queue overflow.
func (m *Metrics) RecordDropped(ctx context.Context, kind string) {
	m.OutboundDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordDecodeFailure counts one undecodable inbound audio chunk.
func (m *Metrics) RecordDecodeFailure(ctx context.Context) {
	m.DecodeFailures.Add(ctx, 1)
}

// RecordInterrupt counts one playback interrupt and its stop failures.
// Interrupts that found nothing playing are not counted.
func (m *Metrics) RecordInterrupt(ctx context.Context, reason string, stopped, failed int) {
	if stopped == 0 && failed == 0 {
		return
	}
	m.PlaybackInterrupts.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	if failed > 0 {
		m.StopFailures.Add(ctx, int64(failed))
	}
}

// RecordTransition counts one lifecycle change.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StatusTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

// RecordProviderError counts one provider failure.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}

// RecordConnect records a handshake latency.
func (m *Metrics) RecordConnect(ctx context.Context, d time.Duration, err error) {
	m.ConnectDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("status", statusLabel(err))))
}
