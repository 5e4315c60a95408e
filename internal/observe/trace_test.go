package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newTestTracerProvider returns a TracerProvider with an in-memory exporter
// for inspecting recorded spans.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func TestCorrelationID_EmptyByDefault(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationID(ctx); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestCorrelationID_ReturnsTraceID(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	tracer := tp.Tracer("test")

	ctx, span := tracer.Start(context.Background(), "test-span")
	defer span.End()

	cid := CorrelationID(ctx)
	if len(cid) != 32 {
		t.Errorf("correlation ID length = %d, want 32", len(cid))
	}

	// Verify it's valid hex.
	for _, c := range cid {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			t.Errorf("correlation ID contains non-hex character %q", c)
			break
		}
	}
}

func TestStartSpan_CreatesSpan(t *testing.T) {
	tp, exp := newTestTracerProvider(t)

	// Temporarily override the global provider.
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	ctx, span := StartSpan(context.Background(), "test-op")
	cid := CorrelationID(ctx)
	if cid == "" {
		t.Error("StartSpan did not create a span with a trace ID")
	}

	span.End()
	spans := exp.GetSpans()
	if len(spans) == 0 {
		t.Fatal("no spans recorded")
	}
	if spans[0].Name != "test-op" {
		t.Errorf("span name = %q, want %q", spans[0].Name, "test-op")
	}
}

func TestCorrelationID_Unique(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	tracer := tp.Tracer("test")

	ids := make(map[string]struct{}, 100)
	for range 100 {
		ctx, span := tracer.Start(context.Background(), "unique-test")
		cid := CorrelationID(ctx)
		span.End()
		if _, dup := ids[cid]; dup {
			t.Fatalf("duplicate correlation ID: %s", cid)
		}
		ids[cid] = struct{}{}
	}
}

func TestLoggerFrom(t *testing.T) {
	tp, _ := newTestTracerProvider(t)
	traced, span := tp.Tracer("test").Start(context.Background(), "log-test")
	defer span.End()

	tests := []struct {
		name    string
		ctx     context.Context
		wantIDs bool
	}{
		{"with span", traced, true},
		{"without span", context.Background(), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			base := slog.New(slog.NewTextHandler(&buf, nil))
			LoggerFrom(tc.ctx, base).Info("clip started")

			logged := buf.String()
			for _, key := range []string{"trace_id=", "span_id="} {
				if got := strings.Contains(logged, key); got != tc.wantIDs {
					t.Errorf("contains %s = %v, want %v: %s", key, got, tc.wantIDs, logged)
				}
			}
		})
	}
}

func TestAnnotate(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	ctx, span := tp.Tracer("test").Start(context.Background(), "POST /v1/play")
	AnnotatePlay(ctx, "Rain", 2500*time.Millisecond)
	AnnotateVolume(ctx, "Ambience", 0.25)
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(spans))
	}
	got := make(map[attribute.Key]attribute.Value)
	for _, kv := range spans[0].Attributes {
		got[kv.Key] = kv.Value
	}
	if got[AttrClip].AsString() != "Rain" {
		t.Errorf("%s = %v", AttrClip, got[AttrClip].Emit())
	}
	if got[AttrPlayMillis].AsInt64() != 2500 {
		t.Errorf("%s = %v", AttrPlayMillis, got[AttrPlayMillis].Emit())
	}
	if got[AttrGroup].AsString() != "Ambience" || got[AttrLevel].AsFloat64() != 0.25 {
		t.Errorf("group attributes = %v, %v", got[AttrGroup].Emit(), got[AttrLevel].Emit())
	}
}

func TestAnnotate_NoSpan(t *testing.T) {
	// Without a recording span both calls are no-ops.
	AnnotatePlay(context.Background(), "Rain", time.Second)
	AnnotateVolume(context.Background(), "Master", 1)
	if trace.SpanFromContext(context.Background()).IsRecording() {
		t.Error("background context has a recording span")
	}
}

func TestResource(t *testing.T) {
	tests := []struct {
		name string
		cfg  ProviderConfig
		want map[attribute.Key]string
		omit []attribute.Key
	}{
		{
			name: "full",
			cfg:  ProviderConfig{ServiceName: "stage-left", OutputBackend: "oto", TickRate: 120, SettingsBackend: "postgres"},
			want: map[attribute.Key]string{
				"service.name":      "stage-left",
				AttrOutputBackend:   "oto",
				AttrTickRate:        "120",
				AttrSettingsBackend: "postgres",
			},
		},
		{
			name: "defaults",
			cfg:  ProviderConfig{},
			want: map[attribute.Key]string{"service.name": "cuemix"},
			omit: []attribute.Key{AttrOutputBackend, AttrTickRate, AttrSettingsBackend},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Resource(tc.cfg)
			if err != nil {
				t.Fatal(err)
			}
			set := res.Set()
			for k, want := range tc.want {
				v, ok := set.Value(k)
				if !ok || v.Emit() != want {
					t.Errorf("%s = %q (present %v), want %q", k, v.Emit(), ok, want)
				}
			}
			for _, k := range tc.omit {
				if set.HasValue(k) {
					t.Errorf("%s present, want omitted", k)
				}
			}
		})
	}
}
