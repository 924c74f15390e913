package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/candorhq/candor/internal/app"
	"github.com/candorhq/candor/internal/monitoring"
)

const defaultMetricsEndpoint = "/metrics"

// registerHealthRoutes exposes liveness and readiness. When health is
// disabled the paths fall through to the JSON 404.
func registerHealthRoutes(r *gin.Engine, cfg *app.Config, manager *monitoring.HealthManager) {
	if manager == nil || !cfg.Monitoring.Health.Enabled {
		return
	}

	live := func(c *gin.Context) { writeHealthReport(c, manager.Liveness()) }
	r.GET("/health", live)
	r.GET("/health/live", live)
	r.GET("/health/ready", func(c *gin.Context) {
		writeHealthReport(c, manager.Readiness(c.Request.Context()))
	})
}

func writeHealthReport(c *gin.Context, report monitoring.HealthReport) {
	status := http.StatusOK
	if !report.Success {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func registerMetricsRoute(r *gin.Engine, cfg *app.Config) {
	if !cfg.Monitoring.Prometheus.Enabled {
		return
	}
	endpoint := strings.TrimSpace(cfg.Monitoring.Prometheus.Endpoint)
	if endpoint == "" {
		endpoint = defaultMetricsEndpoint
	}
	r.GET(endpoint, gin.WrapH(promhttp.Handler()))
}
