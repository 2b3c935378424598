package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestInit_Idempotent(t *testing.T) {
	Init()
	first := proxyRequestsTotal
	Init()
	require.Same(t, first, proxyRequestsTotal)
}

func TestObserveProxyRequest_CountsByOutcome(t *testing.T) {
	Init()

	before := testutil.ToFloat64(proxyRequestsTotal.WithLabelValues("matched", "11235", "200"))
	ObserveProxyRequest(true, 11235, 200, time.Microsecond)
	after := testutil.ToFloat64(proxyRequestsTotal.WithLabelValues("matched", "11235", "200"))
	require.Equal(t, before+1, after)

	before = testutil.ToFloat64(proxyRequestsTotal.WithLabelValues("fallback", "80", "200"))
	ObserveProxyRequest(false, 80, 200, time.Microsecond)
	after = testutil.ToFloat64(proxyRequestsTotal.WithLabelValues("fallback", "80", "200"))
	require.Equal(t, before+1, after)
}

func TestObserveBackendError_Counts(t *testing.T) {
	Init()

	before := testutil.ToFloat64(proxyBackendErrorsTotal.WithLabelValues("9999"))
	ObserveBackendError(9999)
	after := testutil.ToFloat64(proxyBackendErrorsTotal.WithLabelValues("9999"))
	require.Equal(t, before+1, after)
}

func TestUpstreamGauges(t *testing.T) {
	Init()

	SetUpstreamHealthy(true)
	require.Equal(t, 1.0, testutil.ToFloat64(upstreamHealthy))
	SetUpstreamHealthy(false)
	require.Equal(t, 0.0, testutil.ToFloat64(upstreamHealthy))

	SetUpstreamStats(7, 42.5, 11.25)
	require.Equal(t, 7.0, testutil.ToFloat64(upstreamAvailableSlots))
	require.Equal(t, 42.5, testutil.ToFloat64(upstreamMemoryUsage))
	require.Equal(t, 11.25, testutil.ToFloat64(upstreamCPUUsage))
}

func TestHandler_ServesExposition(t *testing.T) {
	Init()
	ObserveProxyRequest(true, 11235, 200, time.Microsecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "crawlfront_proxy_requests_total")
}
