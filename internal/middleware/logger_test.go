package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/candorhq/candor/pkg/logger"
)

func TestLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.DebugLevel)
	previous := logger.Logger()
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(previous) })

	r := gin.New()
	r.Use(Logger())
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping?token=secret", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "pong", w.Body.String())
	require.Equal(t, "req-1", w.Header().Get(RequestIDHeader))

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "/ping", fields["path"])
	require.Equal(t, "req-1", fields["request_id"])
	require.Equal(t, int64(http.StatusOK), fields["status"])
}

func TestLoggerOmitsCallerOnUnattributedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.DebugLevel)
	previous := logger.Logger()
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(previous) })

	signedIn := func(c *gin.Context) {
		c.Set(CtxUserIDKey, "user-42")
		c.Next()
	}
	r := gin.New()
	r.Use(Logger(), signedIn)
	r.POST("/api/feedback", Unattributed(), func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.GET("/api/auth/me", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/feedback", nil),
		httptest.NewRequest(http.MethodGet, "/api/auth/me", nil),
	} {
		req.RemoteAddr = "203.0.113.9:4711"
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 2)

	submission := entries[0].ContextMap()
	require.Equal(t, "/api/feedback", submission["path"])
	require.NotContains(t, submission, "user_id")
	require.NotContains(t, submission, "client_ip")

	profile := entries[1].ContextMap()
	require.Equal(t, "user-42", profile["user_id"])
	require.Equal(t, "203.0.113.9", profile["client_ip"])
}

func TestLoggerGeneratesRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(Logger())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Len(t, w.Header().Get(RequestIDHeader), 36)
}
