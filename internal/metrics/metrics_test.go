package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icycon/emailengine/internal/metrics"
)

func TestHandler_ExposesEngineMetrics(t *testing.T) {
	t.Parallel()

	metrics.IncSubmit("created")
	metrics.IncDispatch("sent")
	metrics.ObserveProvider("smtp", "delivered", 120*time.Millisecond)
	metrics.AddSweepProcessed("retry", 3)
	metrics.IncFeedback("bounce")

	r := chi.NewRouter()
	r.Use(metrics.HTTPMiddleware)
	r.Get("/v1/sends/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNotFound) })
	r.Handle("/metrics", metrics.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sends/abc", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `emailengine_sends_submitted_total{result="created"}`)
	assert.Contains(t, body, `emailengine_dispatch_results_total{action="sent"}`)
	assert.Contains(t, body, `emailengine_provider_attempt_duration_seconds_count{outcome="delivered",provider="smtp"}`)
	assert.Contains(t, body, `emailengine_sweep_processed_total{sweep="retry"}`)
	assert.Contains(t, body, `emailengine_http_requests_total{method="GET",route="/v1/sends/{id}",status="404"}`)
}
