package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"ig-autoreply/internal/config"
)

func preserveOTelGlobals(t *testing.T) {
	t.Helper()
	prevTP := otel.GetTracerProvider()
	prevProp := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
	})
}

func TestSetupOTel_DisabledIsNoOp(t *testing.T) {
	preserveOTelGlobals(t)
	before := otel.GetTracerProvider()

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: false}, "dev")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestSetupOTel_InstallsProvider(t *testing.T) {
	preserveOTelGlobals(t)

	shutdown, err := SetupOTel(context.Background(), config.OTELConfig{
		Enabled:     true,
		Insecure:    true,
		Endpoint:    "localhost:4317",
		ServiceName: "ig-autoreply-test",
		SampleRatio: 1.0,
	}, "v0.0.1")
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)
}

func TestSetupOTel_ExporterError(t *testing.T) {
	preserveOTelGlobals(t)
	orig := newOTLPExporterFn
	t.Cleanup(func() { newOTLPExporterFn = orig })
	newOTLPExporterFn = func(context.Context, otlptrace.Client) (*otlptrace.Exporter, error) {
		return nil, errors.New("boom")
	}

	_, err := SetupOTel(context.Background(), config.OTELConfig{Enabled: true, Insecure: true, Endpoint: "x:1"}, "v")
	assert.EqualError(t, err, "boom")
}

func TestObserveReply_DefaultsActionLabel(t *testing.T) {
	before := testutil.ToFloat64(replies.WithLabelValues("failed", "none"))
	ObserveReply("failed", "")
	assert.Equal(t, before+1, testutil.ToFloat64(replies.WithLabelValues("failed", "none")))

	before = testutil.ToFloat64(replies.WithLabelValues("sent", "private_reply"))
	ObserveReply("sent", "private_reply")
	assert.Equal(t, before+1, testutil.ToFloat64(replies.WithLabelValues("sent", "private_reply")))
}

func TestObserveSendAttempt(t *testing.T) {
	before := testutil.ToFloat64(sendAttempts.WithLabelValues("carousel_dm", "error"))
	ObserveSendAttempt("carousel_dm", false)
	assert.Equal(t, before+1, testutil.ToFloat64(sendAttempts.WithLabelValues("carousel_dm", "error")))
}

func TestMetricsMiddleware_UsesMuxPattern(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/automations/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h := Metrics(mux)

	before := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "GET /api/automations/{id}", "404"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/automations/abc", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, before+1, testutil.ToFloat64(httpReqs.WithLabelValues("GET", "GET /api/automations/{id}", "404")))
}
