package observability_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/robertarktes/vehicle-rentals/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsServer_ExposesWorkerCollectors(t *testing.T) {
	observability.InitMetrics()
	observability.InitMetrics()

	observability.ReconcileCycles.WithLabelValues("ok").Inc()
	observability.ReconcileTransitions.WithLabelValues("ACTIVE").Inc()
	observability.OutboxLag.Set(3)

	srv := observability.NewMetricsServer(":0")
	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	for _, name := range []string{
		"rentals_reconcile_cycles_total",
		"rentals_reconcile_transitions_total",
		"rentals_reconcile_cycle_seconds",
		"rentals_outbox_lag_seconds",
		"rentals_rabbit_publish_retries_total",
		"rentals_db_tx_seconds",
	} {
		assert.Contains(t, body, name)
	}

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
