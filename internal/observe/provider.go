package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// ProviderConfig configures [Init].
type ProviderConfig struct {
	// ServiceName is reported in telemetry. Default: "lifelogger".
	ServiceName string

	// ServiceVersion is reported in telemetry.
	ServiceVersion string

	// TraceExporter receives finished spans. When nil, spans are sampled
	// and carried in request logs but not exported.
	TraceExporter sdktrace.SpanExporter
}

// Telemetry owns the OTel providers installed by [Init] and the Prometheus
// registry they report into.
type Telemetry struct {
	// Metrics is bound to this Telemetry's meter provider. Pass it to
	// components instead of relying on [DefaultMetrics].
	Metrics *Metrics

	registry *prometheus.Registry
	mp       *sdkmetric.MeterProvider
	tp       *sdktrace.TracerProvider
}

// Init builds the meter and tracer providers, installs them as the OTel
// globals, and registers Go runtime and process collectors next to the
// lifelogger instruments in a dedicated Prometheus registry.
func Init(ctx context.Context, cfg ProviderConfig) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lifelogger"
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}

	t := &Telemetry{registry: reg}
	t.mp = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))
	if t.Metrics, err = NewMetrics(t.mp); err != nil {
		_ = t.mp.Shutdown(ctx)
		return nil, fmt.Errorf("observe: instruments: %w", err)
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	t.tp = sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(t.mp)
	otel.SetTracerProvider(t.tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	return t, nil
}

// Handler serves this Telemetry's registry in the Prometheus exposition
// format.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry})
}

// Shutdown flushes pending spans and metrics and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.tp.Shutdown(ctx), t.mp.Shutdown(ctx))
}

// MetricsHandler serves the default Prometheus gatherer. It is the fallback
// for servers built without a [Telemetry].
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
