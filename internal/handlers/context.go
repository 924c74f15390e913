package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/logger"
	"github.com/candorhq/candor/pkg/response"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// fail renders err. Errors that surface as 500 are logged with their cause
// since the client only sees a generic message.
func fail(c *gin.Context, err error) {
	appErr := apperrors.FromError(err)
	if appErr != nil && appErr.StatusCode >= 500 {
		logger.WithModule("http").Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
	}
	response.Error(c, err)
}
