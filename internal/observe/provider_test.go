package observe

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

// Not parallel: Setup installs the otel globals.
func TestSetup_ServesRuntimeAndServiceMetrics(t *testing.T) {
	prevMeters, prevTracers := otel.GetMeterProvider(), otel.GetTracerProvider()
	t.Cleanup(func() {
		otel.SetMeterProvider(prevMeters)
		otel.SetTracerProvider(prevTracers)
	})

	ratio := 0.5
	tel, err := Setup(context.Background(), TelemetryConfig{ServiceVersion: "test", SampleRatio: &ratio})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	if otel.GetTracerProvider() != tel.TracerProvider() {
		t.Error("tracer provider not installed globally")
	}

	ctx := context.Background()
	tel.Metrics().RecordSessionStart(ctx, true)
	tel.Metrics().ChatDuration.Record(ctx, 0.2)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{"nbdlive_chat_duration", "nbdlive_voice_sessions_started", "go_goroutines", `service_version="test"`} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}
