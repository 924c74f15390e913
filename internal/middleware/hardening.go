package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/logger"
	"github.com/candorhq/candor/pkg/metrics"
	"github.com/candorhq/candor/pkg/response"
)

// unmatchedRoute labels requests gin could not route, keeping the latency
// series bounded.
const unmatchedRoute = "unmatched"

// The API only ever returns JSON, so nothing may be framed, embedded or cached.
var hardeningHeaders = map[string]string{
	"Content-Security-Policy":   "default-src 'none'; frame-ancestors 'none'",
	"X-Frame-Options":           "DENY",
	"X-Content-Type-Options":    "nosniff",
	"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
	"Referrer-Policy":           "no-referrer",
	"Permissions-Policy":        "geolocation=(), microphone=(), camera=()",
	"Cache-Control":             "no-store",
}

// Hardening sets the response headers shared by every route.
func Hardening() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		for name, value := range hardeningHeaders {
			h.Set(name, value)
		}
		c.Next()
	}
}

// RecoverPanics converts a panic into the standard 500 envelope. Only the
// route template is logged because raw URLs can carry sign-in tokens.
func RecoverPanics() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.WithModule("http").Error("panic recovered",
					zap.String("method", c.Request.Method),
					zap.String("route", routeLabel(c)),
					zap.Any("error", r),
					zap.Stack("stack"),
				)
				response.Abort(c, errors.ErrInternalServer)
			}
		}()
		c.Next()
	}
}

// ObserveLatency records request duration per method, route and status.
func ObserveLatency() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		metrics.APILatency.
			WithLabelValues(c.Request.Method, routeLabel(c), strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

// RouteNotFound answers unknown routes with a JSON 404.
func RouteNotFound(c *gin.Context) {
	response.Error(c, errors.ErrNotFound.WithMessage("Route not found"))
}

func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}
