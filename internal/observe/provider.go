package observe

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Resource attribute keys describing how a cuemix process mixes audio.
const (
	AttrOutputBackend   = attribute.Key("cuemix.output.backend")
	AttrTickRate        = attribute.Key("cuemix.engine.tick_rate")
	AttrSettingsBackend = attribute.Key("cuemix.settings.backend")
)

// ProviderConfig describes the process whose engine metrics and control API
// spans are exported.
type ProviderConfig struct {
	// ServiceName defaults to "cuemix".
	ServiceName string

	ServiceVersion string

	// OutputBackend is the audio sink in use ("beep", "oto", "headless").
	OutputBackend string

	// TickRate is the scheduler tick rate in Hz. Zero omits the attribute.
	TickRate int

	// SettingsBackend is where group levels are persisted.
	SettingsBackend string

	// Registerer receives the Prometheus collectors backing /metrics. Nil
	// means [prometheus.DefaultRegisterer].
	Registerer prometheus.Registerer

	// TraceExporter receives control API spans. Nil records spans without
	// exporting them; they still feed correlation IDs and log fields.
	TraceExporter sdktrace.SpanExporter
}

// Resource builds the OTel resource for cfg. Empty backends and a zero tick
// rate are left out.
func Resource(cfg ProviderConfig) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "cuemix"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.OutputBackend != "" {
		attrs = append(attrs, AttrOutputBackend.String(cfg.OutputBackend))
	}
	if cfg.TickRate > 0 {
		attrs = append(attrs, AttrTickRate.Int(cfg.TickRate))
	}
	if cfg.SettingsBackend != "" {
		attrs = append(attrs, AttrSettingsBackend.String(cfg.SettingsBackend))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

// InitProvider installs global meter and tracer providers for the engine.
// Instruments created by [NewMetrics] are scraped through a Prometheus
// exporter registered on cfg.Registerer.
//
// The returned function flushes and stops both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := Resource(cfg)
	if err != nil {
		return nil, err
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	promExp, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		// Spans first so a final batch is not lost behind a slow reader.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
