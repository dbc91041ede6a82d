package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.AlertSent("telegram", "new_collection", nil)
	m.Probe("found")
	m.ObserveCycle("main", time.Second)
	m.SetScheduled(3)
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAlertCounters(t *testing.T) {
	m := New()
	m.AlertSent("telegram", "progress_change", nil)
	m.AlertSent("telegram", "progress_change", nil)
	m.AlertSent("yoai", "progress_change", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.alertsTotal.WithLabelValues("telegram", "progress_change", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alertsTotal.WithLabelValues("yoai", "progress_change", "error")))
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New()
	m.SetHighestKnownID(663)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "watch_highest_known_id 663")
}
