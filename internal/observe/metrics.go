// Package observe provides lifelogger's observability primitives:
// OpenTelemetry metrics, tracing, and the HTTP middleware that ties them to
// request logs.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// for Prometheus scraping via [Init]. A package-level [Metrics]
// instance ([DefaultMetrics]) is provided for components that are not handed
// one explicitly; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all lifelogger metrics.
const meterName = "github.com/MrWong99/lifelogger"

// Metrics holds every instrument the application records. All fields are safe
// for concurrent use.
type Metrics struct {
	// --- Capture ---

	// CaptureSessions counts session ends. Attribute "outcome":
	// negotiation_failed, open_failed, start_failed, stream_error, stalled,
	// renegotiate, publish_failed, shutdown.
	CaptureSessions metric.Int64Counter

	// CaptureBlocks counts blocks delivered by the device callback.
	CaptureBlocks metric.Int64Counter

	// ActiveStreams is 1 while a capture stream is running.
	ActiveStreams metric.Int64UpDownCounter

	// --- Fan-out and buffer ---

	// HubDroppedBlocks counts blocks discarded because a subscriber fell
	// behind. Attribute "subscriber".
	HubDroppedBlocks metric.Int64Counter

	// BufferSampleRate is the ring buffer's current rate in Hz.
	BufferSampleRate metric.Int64Gauge

	// BufferCapacity is the ring buffer's current capacity in samples.
	BufferCapacity metric.Int64Gauge

	// --- Codecs ---

	// CodecEncodeDuration tracks encode latency. Attribute "codec".
	CodecEncodeDuration metric.Float64Histogram

	// CodecErrors counts encode/decode failures. Attributes "codec", "op".
	CodecErrors metric.Int64Counter

	// --- Archive ---

	// ArchiveSegments counts archive attempts. Attributes "sink", "status".
	ArchiveSegments metric.Int64Counter

	// ArchiveBytes counts bytes written to sinks. Attribute "sink".
	ArchiveBytes metric.Int64Counter

	// BreakerState is 0 closed, 1 open, 2 half-open. Attribute "name".
	BreakerState metric.Int64Gauge

	// --- Serving ---

	// LiveListeners is the number of connected /live websockets.
	LiveListeners metric.Int64UpDownCounter

	// HTTPRequestDuration tracks request processing time. Attributes
	// "method", "path", "status".
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, spanning a 20 ms WAV
// encode up to a multi-minute FLAC subprocess.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 120,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CaptureSessions, err = m.Int64Counter("lifelogger.capture.sessions",
		metric.WithDescription("Capture session ends by outcome."),
	); err != nil {
		return nil, err
	}
	if met.CaptureBlocks, err = m.Int64Counter("lifelogger.capture.blocks",
		metric.WithDescription("Audio blocks delivered by the capture device."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("lifelogger.capture.active_streams",
		metric.WithDescription("Number of running capture streams."),
	); err != nil {
		return nil, err
	}

	if met.HubDroppedBlocks, err = m.Int64Counter("lifelogger.hub.dropped_blocks",
		metric.WithDescription("Blocks dropped because a subscriber fell behind."),
	); err != nil {
		return nil, err
	}
	if met.BufferSampleRate, err = m.Int64Gauge("lifelogger.buffer.sample_rate",
		metric.WithDescription("Current sample rate of the ring buffer."),
		metric.WithUnit("Hz"),
	); err != nil {
		return nil, err
	}
	if met.BufferCapacity, err = m.Int64Gauge("lifelogger.buffer.capacity",
		metric.WithDescription("Current capacity of the ring buffer in samples."),
	); err != nil {
		return nil, err
	}

	if met.CodecEncodeDuration, err = m.Float64Histogram("lifelogger.codec.encode.duration",
		metric.WithDescription("Latency of encoding buffered audio by codec."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CodecErrors, err = m.Int64Counter("lifelogger.codec.errors",
		metric.WithDescription("Codec failures by codec and operation."),
	); err != nil {
		return nil, err
	}

	if met.ArchiveSegments, err = m.Int64Counter("lifelogger.archive.segments",
		metric.WithDescription("Archive attempts by sink and status."),
	); err != nil {
		return nil, err
	}
	if met.ArchiveBytes, err = m.Int64Counter("lifelogger.archive.bytes",
		metric.WithDescription("Encoded bytes written by sink."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.BreakerState, err = m.Int64Gauge("lifelogger.breaker.state",
		metric.WithDescription("Circuit breaker state: 0 closed, 1 open, 2 half-open."),
	); err != nil {
		return nil, err
	}

	if met.LiveListeners, err = m.Int64UpDownCounter("lifelogger.live.listeners",
		metric.WithDescription("Connected live-stream websockets."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("lifelogger.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
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

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Panics if instrument creation fails, which
// does not happen with the global provider.
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

// OrDefault returns m, or [DefaultMetrics] when m is nil.
func OrDefault(m *Metrics) *Metrics {
	if m == nil {
		return DefaultMetrics()
	}
	return m
}

// Attr is a shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordCaptureSession counts one finished capture session.
func (m *Metrics) RecordCaptureSession(ctx context.Context, outcome string) {
	m.CaptureSessions.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordBuffer publishes the buffer's rate and capacity gauges.
func (m *Metrics) RecordBuffer(ctx context.Context, sampleRate uint32, capacity int) {
	m.BufferSampleRate.Record(ctx, int64(sampleRate))
	m.BufferCapacity.Record(ctx, int64(capacity))
}

// RecordEncode records one encode with its latency, counting failures.
func (m *Metrics) RecordEncode(ctx context.Context, codec string, d time.Duration, err error) {
	attrs := metric.WithAttributes(Attr("codec", codec))
	m.CodecEncodeDuration.Record(ctx, d.Seconds(), attrs)
	if err != nil {
		m.CodecErrors.Add(ctx, 1, metric.WithAttributes(Attr("codec", codec), Attr("op", "encode")))
	}
}

// RecordArchive counts one sink save and the bytes written on success.
func (m *Metrics) RecordArchive(ctx context.Context, sink string, n int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ArchiveSegments.Add(ctx, 1, metric.WithAttributes(Attr("sink", sink), Attr("status", status)))
	if err == nil {
		m.ArchiveBytes.Add(ctx, int64(n), metric.WithAttributes(Attr("sink", sink)))
	}
}

// RecordBreakerState publishes a circuit breaker's state.
func (m *Metrics) RecordBreakerState(ctx context.Context, name string, state int) {
	m.BreakerState.Record(ctx, int64(state), metric.WithAttributes(Attr("name", name)))
}
