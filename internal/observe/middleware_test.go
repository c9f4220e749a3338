package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func middlewareSetup(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Trace", TraceID(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	return Middleware(m)(mux), reader, exp
}

func TestMiddleware_TraceIDHeaderMatchesHandlerContext(t *testing.T) {
	h, _, _ := middlewareSetup(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

	got := rec.Header().Get(TraceIDHeader)
	if len(got) != 32 {
		t.Fatalf("%s = %q, want a 32 char trace id", TraceIDHeader, got)
	}
	if seen := rec.Header().Get("X-Seen-Trace"); seen != got {
		t.Errorf("handler saw trace %q, header has %q", seen, got)
	}
}

func TestMiddleware_JoinsIncomingTrace(t *testing.T) {
	h, _, _ := middlewareSetup(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(TraceIDHeader); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("%s = %q, want the incoming trace id", TraceIDHeader, got)
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	h, _, exp := middlewareSetup(t)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/nope/123", nil))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("recorded %d spans, want 2", len(spans))
	}
	if spans[0].Name != "admin GET /readyz" {
		t.Errorf("span[0] name = %q, want %q", spans[0].Name, "admin GET /readyz")
	}
	if spans[0].Status.Code != codes.Error {
		t.Errorf("span[0] status = %v, want Error for a 503", spans[0].Status.Code)
	}
	if spans[1].Name != "admin unmatched" {
		t.Errorf("span[1] name = %q, want %q", spans[1].Name, "admin unmatched")
	}
}

func TestMiddleware_RecordsDurationByRoute(t *testing.T) {
	h, reader, _ := middlewareSetup(t)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "wakecmd.http.request.duration")
	if met == nil {
		t.Fatal("wakecmd.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want Histogram[float64]", met.Data)
	}

	counts := make(map[string]uint64)
	for _, dp := range hist.DataPoints {
		route, _ := dp.Attributes.Value("route")
		status, _ := dp.Attributes.Value("status")
		counts[route.AsString()+" "+status.AsString()] += dp.Count
	}
	if counts["GET /healthz 200"] != 2 {
		t.Errorf("healthz 200 count = %d, want 2 (all: %v)", counts["GET /healthz 200"], counts)
	}
	if counts["GET /readyz 503"] != 1 {
		t.Errorf("readyz 503 count = %d, want 1 (all: %v)", counts["GET /readyz 503"], counts)
	}
}

func TestMiddleware_LogsFailuresAboveDebug(t *testing.T) {
	h, _, _ := middlewareSetup(t)
	buf := captureLogs(t)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/healthz", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))

	var lines []string
	for l := range strings.SplitSeq(strings.TrimSpace(buf.String()), "\n") {
		lines = append(lines, l)
	}
	if len(lines) != 2 {
		t.Fatalf("logged %d lines, want 2:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[0], "level=DEBUG") || !strings.Contains(lines[0], "status=200") {
		t.Errorf("healthz line = %q, want debug with status 200", lines[0])
	}
	if !strings.Contains(lines[1], "level=WARN") || !strings.Contains(lines[1], "status=503") {
		t.Errorf("readyz line = %q, want warn with status 503", lines[1])
	}
}
