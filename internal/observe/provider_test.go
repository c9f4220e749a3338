package observe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestTelemetry(t *testing.T, cfg TelemetryConfig) *Telemetry {
	t.Helper()
	tel, err := NewTelemetry(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewTelemetry: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

// gathered reports whether the registry holds a family whose name, with dots
// read as underscores, starts with prefix.
func gathered(t *testing.T, tel *Telemetry, prefix string) bool {
	t.Helper()
	families, err := tel.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		if strings.HasPrefix(strings.ReplaceAll(mf.GetName(), ".", "_"), prefix) {
			return true
		}
	}
	return false
}

func TestNewTelemetry_MetricsReachOwnRegistry(t *testing.T) {
	t.Parallel()
	tel := newTestTelemetry(t, TelemetryConfig{ServiceVersion: "test"})

	tel.Metrics.RecordCommand(context.Background(), false)

	if !gathered(t, tel, "wakecmd_commands_detected") {
		t.Error("command counter missing from the telemetry registry")
	}
	if !gathered(t, tel, "go_goroutines") {
		t.Error("Go runtime collector missing from the telemetry registry")
	}
}

func TestNewTelemetry_InstancesAreIndependent(t *testing.T) {
	t.Parallel()
	a := newTestTelemetry(t, TelemetryConfig{})
	b := newTestTelemetry(t, TelemetryConfig{})

	a.Metrics.RecordCommand(context.Background(), true)

	if !gathered(t, a, "wakecmd_commands_detected") {
		t.Error("first registry lacks its own command counter")
	}
	if gathered(t, b, "wakecmd_commands_detected") {
		t.Error("second registry sees the first instance's command counter")
	}
}

func TestTelemetry_MetricsHandler(t *testing.T) {
	t.Parallel()
	tel := newTestTelemetry(t, TelemetryConfig{})
	tel.Metrics.RecordSegment(context.Background(), "emitted", "silence")

	rec := httptest.NewRecorder()
	tel.MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"go_goroutines", "wakecmd", "segments"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("scrape body lacks %q", want)
		}
	}
}

func TestNewTelemetry_TraceSampleRatio(t *testing.T) {
	t.Parallel()
	tests := []struct {
		ratio   float64
		wantErr bool
	}{
		{0, false},
		{0.25, false},
		{1, false},
		{-0.1, true},
		{1.5, true},
	}
	for _, tt := range tests {
		tel, err := NewTelemetry(context.Background(), TelemetryConfig{TraceSampleRatio: tt.ratio})
		if (err != nil) != tt.wantErr {
			t.Errorf("ratio %v: err = %v, wantErr %v", tt.ratio, err, tt.wantErr)
		}
		if tel != nil {
			_ = tel.Shutdown(context.Background())
		}
	}
}
