package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-rp/paas/internal/auth"
)

var _ auth.Observer = (*Metrics)(nil)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsHandlerExposesPrometheusMetrics(t *testing.T) {
	metrics := NewMetrics()
	metrics.Jobs().Track("auth:revoke_sessions").End(nil)
	metrics.Jobs().AddRevoked("roles_changed", 2)

	body := scrape(t, metrics)
	assert.Contains(t, body, `paas_jobs_total{job="auth:revoke_sessions",status="success"} 1`)
	assert.Contains(t, body, `paas_revoked_sessions_total{reason="roles_changed"} 2`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx)
	req = req.WithContext(ctx)

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	assert.Contains(t, body, `paas_http_requests_total{code="418",route="/test"} 1`)
	assert.Contains(t, body, `paas_http_request_duration_seconds_bucket{route="/test"`)
}

func TestAuthObserverCounters(t *testing.T) {
	metrics := NewMetrics()
	metrics.ObserveLogin("success")
	metrics.ObserveLogin("success")
	metrics.ObserveLogin("domain_rejected")
	metrics.ObserveTokenCheck("expired")

	body := scrape(t, metrics)
	assert.Contains(t, body, `paas_auth_logins_total{outcome="success"} 2`)
	assert.Contains(t, body, `paas_auth_logins_total{outcome="domain_rejected"} 1`)
	assert.Contains(t, body, `paas_auth_token_checks_total{result="expired"} 1`)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.ObserveLogin("success")
	metrics.ObserveTokenCheck("valid")
	assert.Nil(t, metrics.Jobs())

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, metrics.Middleware(next))

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), "Service Unavailable"))
}
