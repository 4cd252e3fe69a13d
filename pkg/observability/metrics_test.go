package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPMetricsMiddlewareUsesRouteTemplate(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/invites/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods(http.MethodGet)

	for _, code := range []string{"AAAA-BBBB-CCCC", "DDDD-EEEE-FFFF"} {
		req := httptest.NewRequest(http.MethodGet, "/invites/"+code, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	// Both requests collapse onto the route template, not the raw paths.
	count := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/invites/{code}", "404"))
	assert.Equal(t, float64(2), count)
}

func TestInviteCounters(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.InvitesIssuedTotal.Inc()
	metrics.InvitesConsumedTotal.Inc()
	metrics.InviteFailuresTotal.WithLabelValues("consume", "expired").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InvitesIssuedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InvitesConsumedTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.InviteFailuresTotal.WithLabelValues("consume", "expired")))
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.InvitesIssuedTotal.Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gatelink_invites_issued_total 1")
}
