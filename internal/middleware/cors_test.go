package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func corsRouter(origins ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(CORS(origins...))
	r.GET("/api/feedback", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestCORSWildcardWithoutOrigins(t *testing.T) {
	r := corsRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/feedback", nil))
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
	require.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), CSRFHeaderName)
	require.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodPatch)
}

func TestCORSAllowList(t *testing.T) {
	r := corsRouter(" https://feedback.example.com/ ", "")

	cases := []struct {
		origin      string
		allowed     bool
		credentials string
	}{
		{origin: "https://feedback.example.com", allowed: true, credentials: "true"},
		{origin: "https://elsewhere.example.com"},
		{origin: ""},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/api/feedback", nil)
		if tc.origin != "" {
			req.Header.Set("Origin", tc.origin)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		if tc.allowed {
			require.Equal(t, tc.origin, w.Header().Get("Access-Control-Allow-Origin"))
			require.Equal(t, "Origin", w.Header().Get("Vary"))
		} else {
			require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"), tc.origin)
		}
		require.Equal(t, tc.credentials, w.Header().Get("Access-Control-Allow-Credentials"))
	}
}
