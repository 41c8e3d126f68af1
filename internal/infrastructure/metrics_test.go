package infrastructure

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_PassLifecycle(t *testing.T) {
	m := NewMetrics()

	m.PassStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passesInFlight))

	m.PassFinished("completed", 2*time.Second)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.passesInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.passesTotal.WithLabelValues("completed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.passesTotal.WithLabelValues("failed")))
}

func TestMetrics_StageFinished(t *testing.T) {
	m := NewMetrics()

	m.StageFinished("solve", "completed", 150*time.Millisecond)
	m.StageFinished("solve", "completed", 200*time.Millisecond)
	m.StageFinished("equilibrium", "failed", 10*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.stagesTotal.WithLabelValues("solve", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stagesTotal.WithLabelValues("equilibrium", "failed")))
}

func TestMetrics_HTTPRequests(t *testing.T) {
	m := NewMetrics()

	m.RequestStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsInFlight))

	m.RequestFinished(http.MethodGet, "/api/operations/{id}", http.StatusOK, 5*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.httpRequestsInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		m.httpRequestsTotal.WithLabelValues("GET", "/api/operations/{id}", "200")))
}

func TestMetrics_HandlerServesRegistry(t *testing.T) {
	m := NewMetrics()
	m.PassStarted()
	m.PassFinished("completed", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "circflow_passes_total")
	assert.Contains(t, body, "circflow_pass_duration_seconds")
}
