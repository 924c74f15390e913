package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/candorhq/candor/internal/app"
	"github.com/candorhq/candor/internal/database/testutil"
	"github.com/candorhq/candor/internal/monitoring"
	"github.com/candorhq/candor/internal/monitoring/checks"
)

func newTestRouter(t *testing.T, health *monitoring.HealthManager, mutate func(*app.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	cfg, err := app.LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if _, err := app.ApplyRuntimeDefaults(cfg); err != nil {
		t.Fatalf("runtime defaults: %v", err)
	}
	if mutate != nil {
		mutate(cfg)
	}

	svc, err := app.NewServices(db, cfg, app.Dependencies{})
	if err != nil {
		t.Fatalf("services: %v", err)
	}

	if health == nil {
		health = monitoring.NewHealthManager(checks.Database(db, 0))
	}
	router, err := NewRouter(Dependencies{DB: db, Config: cfg, Services: svc, Health: health})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	return router
}

func TestNewRouterRequiresDependencies(t *testing.T) {
	if _, err := NewRouter(Dependencies{}); err == nil {
		t.Fatalf("expected error without database")
	}
}

func TestRouter_PublicAndProtectedRoutes(t *testing.T) {
	router := newTestRouter(t, nil, nil)

	// Health should be public
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for /health, got %d", w.Code)
	}

	for _, path := range []string{"/api/auth/me", "/api/feedback", "/api/admin/users"} {
		w = httptest.NewRecorder()
		req, _ = http.NewRequest(http.MethodGet, path, nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s without token, got %d", path, w.Code)
		}
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api/unknown", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized && w.Code != http.StatusNotFound {
		t.Fatalf("unexpected status for unknown route: %d", w.Code)
	}
}

func TestRouter_ReadinessReportsFailingChecks(t *testing.T) {
	failing := monitoring.NewCheck("broken", func(context.Context) monitoring.ProbeResult {
		return monitoring.ProbeResult{Component: "broken", Status: monitoring.StatusDown, Details: "boom"}
	})
	router := newTestRouter(t, monitoring.NewHealthManager(failing), nil)

	live := httptest.NewRecorder()
	router.ServeHTTP(live, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	if live.Code != http.StatusOK {
		t.Fatalf("expected liveness 200, got %d", live.Code)
	}

	ready := httptest.NewRecorder()
	router.ServeHTTP(ready, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if ready.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected readiness 503, got %d: %s", ready.Code, ready.Body.String())
	}
	if !strings.Contains(ready.Body.String(), "boom") {
		t.Fatalf("readiness body missing check details: %s", ready.Body.String())
	}
}

func TestRouter_HealthDisabled(t *testing.T) {
	router := newTestRouter(t, nil, func(cfg *app.Config) {
		cfg.Monitoring.Health.Enabled = false
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when health is disabled, got %d", w.Code)
	}
}

func TestRouter_MetricsEndpoint(t *testing.T) {
	router := newTestRouter(t, nil, nil)

	// Trigger a request to generate metrics
	rec := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for /health, got %d", rec.Code)
	}

	metricsRec := httptest.NewRecorder()
	metricsReq, _ := http.NewRequest(http.MethodGet, "/metrics", nil)
	router.ServeHTTP(metricsRec, metricsReq)
	if metricsRec.Code != http.StatusOK {
		t.Fatalf("expected 200 for /metrics, got %d", metricsRec.Code)
	}

	body := metricsRec.Body.String()
	if !strings.Contains(body, `candor_api_latency_seconds_count{method="GET",path="/health",status="200"}`) {
		t.Fatalf("metrics output missing latency series: %s", body)
	}
}

func TestRouter_MetricsDisabled(t *testing.T) {
	router := newTestRouter(t, nil, func(cfg *app.Config) {
		cfg.Monitoring.Prometheus.Enabled = false
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code == http.StatusOK {
		t.Fatalf("expected /metrics to be absent when disabled")
	}
}
