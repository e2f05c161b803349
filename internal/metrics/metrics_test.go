package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/facility-scheduler/internal/application"
	"github.com/example/facility-scheduler/internal/metrics"
	"github.com/example/facility-scheduler/internal/scheduler"
)

var _ application.Observer = (*metrics.Metrics)(nil)

func TestMetrics_Observer(t *testing.T) {
	t.Parallel()

	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	m.CalendarProjected(3, 12, 40*time.Millisecond)
	m.ExecutionCreated("materialized")
	m.ExecutionCreated("materialized")
	m.ExecutionCreated("import")
	m.MaterializationRace()
	m.StatusChanged(scheduler.StatusAvailable, scheduler.StatusCompleted)
	m.FrequencyUnparsed()
	m.FrequencyDrift()
	m.AuditEntryDropped()
	m.RequestServed("calendar", http.StatusOK)
	m.RequestServed("calendar", http.StatusUnprocessableEntity)
	m.RequestThrottled()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CalendarProjections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ExecutionsCreated.WithLabelValues("materialized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ExecutionsCreated.WithLabelValues("import")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MaterializationRaces))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StatusTransitions.WithLabelValues("AVAILABLE", "COMPLETED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FrequenciesUnparsed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FrequencyDrifts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AuditDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("calendar", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRateLimit))
}

func TestMetrics_RegistriesAreIndependent(t *testing.T) {
	t.Parallel()

	first := metrics.New()
	second := metrics.New()
	first.MaterializationRace()

	assert.Equal(t, 1.0, testutil.ToFloat64(first.MaterializationRaces))
	assert.Equal(t, 0.0, testutil.ToFloat64(second.MaterializationRaces))
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.ExecutionCreated("materialized")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `scheduler_executions_created_total{source="materialized"} 1`))
	assert.True(t, strings.Contains(string(body), "go_goroutines"))
}
