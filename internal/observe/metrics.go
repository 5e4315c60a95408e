// Package observe provides application-wide observability primitives for
// cuemix: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all cuemix metrics.
const meterName = "github.com/MrWong99/cuemix"

// Play outcomes recorded by [Metrics.RecordPlay].
const (
	OutcomeStarted = "started"
	OutcomeWaiting = "waiting"
	OutcomeDropped = "dropped"
	OutcomeUnknown = "unknown"
	OutcomeFailed  = "failed"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Counters ---

	// PlayRequests counts Play calls. Use with attributes:
	//   attribute.String("clip", ...), attribute.String("outcome", ...)
	PlayRequests metric.Int64Counter

	// InstancesFinished counts play instances reaching the end of their life.
	// Use with attributes:
	//   attribute.String("clip", ...), attribute.String("reason", ...)
	InstancesFinished metric.Int64Counter

	// LoopCycles counts restarts of looping instances. Use with attribute:
	//   attribute.String("clip", ...)
	LoopCycles metric.Int64Counter

	// GroupVolumeChanges counts user volume changes. Use with attribute:
	//   attribute.String("group", ...)
	GroupVolumeChanges metric.Int64Counter

	// Panics counts collaborator panics recovered by the engine. Use with
	// attribute:
	//   attribute.String("op", ...)
	Panics metric.Int64Counter

	// --- Gauges ---

	// ActiveVoices is the number of voices currently leased by the engine.
	ActiveVoices metric.Int64Gauge

	// PoolSize is the number of voices ever created.
	PoolSize metric.Int64Gauge

	// --- Latency histograms ---

	// AssetLoadDuration tracks asset decode latency. Use with attribute:
	//   attribute.String("status", ...)
	AssetLoadDuration metric.Float64Histogram

	// TickDuration tracks the wall time spent inside one engine tick.
	TickDuration metric.Float64Histogram

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for asset
// decodes and HTTP requests.
var latencyBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5,
}

// tickBuckets covers sub-frame tick costs (in seconds).
var tickBuckets = []float64{
	0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.0167,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.PlayRequests, err = m.Int64Counter("cuemix.play.requests",
		metric.WithDescription("Total play requests by clip and outcome."),
	); err != nil {
		return nil, err
	}
	if met.InstancesFinished, err = m.Int64Counter("cuemix.instances.finished",
		metric.WithDescription("Total finished play instances by clip and reason."),
	); err != nil {
		return nil, err
	}
	if met.LoopCycles, err = m.Int64Counter("cuemix.loop.cycles",
		metric.WithDescription("Total loop restarts by clip."),
	); err != nil {
		return nil, err
	}
	if met.GroupVolumeChanges, err = m.Int64Counter("cuemix.group.volume_changes",
		metric.WithDescription("Total mixer group volume changes by group."),
	); err != nil {
		return nil, err
	}
	if met.Panics, err = m.Int64Counter("cuemix.engine.panics",
		metric.WithDescription("Total recovered panics by engine operation."),
	); err != nil {
		return nil, err
	}

	// Gauges.
	if met.ActiveVoices, err = m.Int64Gauge("cuemix.voices.active",
		metric.WithDescription("Number of voices currently leased."),
	); err != nil {
		return nil, err
	}
	if met.PoolSize, err = m.Int64Gauge("cuemix.voices.pool_size",
		metric.WithDescription("Number of voices created by the pool."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.AssetLoadDuration, err = m.Float64Histogram("cuemix.asset.load.duration",
		metric.WithDescription("Latency of asset decoding."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TickDuration, err = m.Float64Histogram("cuemix.tick.duration",
		metric.WithDescription("Wall time spent in one scheduler tick."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(tickBuckets...),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("cuemix.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
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

// RecordPlay records a play request with its outcome.
func (m *Metrics) RecordPlay(ctx context.Context, clip, outcome string) {
	m.PlayRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("clip", clip),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordFinish records the end of a play instance.
func (m *Metrics) RecordFinish(ctx context.Context, clip, reason string) {
	m.InstancesFinished.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("clip", clip),
			attribute.String("reason", reason),
		),
	)
}

// RecordLoop records one loop restart.
func (m *Metrics) RecordLoop(ctx context.Context, clip string) {
	m.LoopCycles.Add(ctx, 1, metric.WithAttributes(attribute.String("clip", clip)))
}

// RecordAssetLoad records one decode attempt.
func (m *Metrics) RecordAssetLoad(ctx context.Context, took time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.AssetLoadDuration.Record(ctx, took.Seconds(),
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordVoices records the voice gauges.
func (m *Metrics) RecordVoices(ctx context.Context, active, poolSize int) {
	m.ActiveVoices.Record(ctx, int64(active))
	m.PoolSize.Record(ctx, int64(poolSize))
}
