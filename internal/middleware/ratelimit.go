package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/logger"
	"github.com/candorhq/candor/pkg/response"
)

// RateLimitOptions configures RateLimit.
type RateLimitOptions struct {
	// Name namespaces the counters so several limiters can share a store.
	Name   string
	Limit  int
	Window time.Duration
	// Key derives the bucket for a request. Defaults to client IP and route.
	Key func(c *gin.Context) string
}

// RateLimit rejects requests with 429 once a bucket exceeds Limit within
// Window. Store failures are logged and the request is let through.
func RateLimit(store RateStore, opts RateLimitOptions) gin.HandlerFunc {
	if opts.Key == nil {
		opts.Key = func(c *gin.Context) string {
			return c.ClientIP() + "|" + c.FullPath()
		}
	}
	if opts.Name == "" {
		opts.Name = "global"
	}

	return func(c *gin.Context) {
		if store == nil || opts.Limit <= 0 || opts.Window <= 0 {
			c.Next()
			return
		}

		key := "ratelimit:" + opts.Name + ":" + opts.Key(c)
		count, ttl, err := store.Increment(c.Request.Context(), key, opts.Window)
		if err != nil {
			logger.WithModule("ratelimit").Warn("rate limit store failed", zap.Error(err))
			c.Next()
			return
		}

		remaining := opts.Limit - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(opts.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.Itoa(int(ttl.Seconds())))

		if count > opts.Limit {
			c.Header("Retry-After", strconv.Itoa(int(ttl.Seconds())+1))
			response.Abort(c, errors.ErrRateLimit)
			return
		}

		c.Next()
	}
}
