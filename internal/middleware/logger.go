package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/candorhq/candor/pkg/logger"
)

// RequestIDHeader correlates a request with its access log line.
const RequestIDHeader = "X-Request-ID"

const ctxUnattributedKey = "log_unattributed"

// Unattributed marks a route whose access log line must not name the caller.
// Feedback and chat submissions use it so the log cannot link a user or an
// address to the feedback row written in the same moment.
func Unattributed() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxUnattributedKey, true)
		c.Next()
	}
}

// Logger writes a concise structured access log for each request. Query
// strings are left out because sign-in links carry tokens there.
func Logger() gin.HandlerFunc {
	log := logger.WithModule("http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)

		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
		}
		if !c.GetBool(ctxUnattributedKey) {
			fields = append(fields, zap.String("client_ip", c.ClientIP()))
			if userID := c.GetString(CtxUserIDKey); userID != "" {
				fields = append(fields, zap.String("user_id", userID))
			}
		}

		switch {
		case status >= 500:
			log.Error("request", fields...)
		case status >= 400:
			log.Warn("request", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}
