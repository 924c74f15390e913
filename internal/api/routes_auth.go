package api

import (
	"github.com/gin-gonic/gin"

	"github.com/candorhq/candor/internal/handlers"
)

func registerAuthRoutes(engine *gin.Engine, api *gin.RouterGroup, h *handlers.AuthHandler, throttle gin.HandlerFunc) {
	auth := engine.Group("/api/auth")
	{
		auth.POST("/magic-link", throttle, h.RequestMagicLink)
		auth.POST("/verify", throttle, h.Verify)
		auth.GET("/verify", throttle, h.VerifyLink)
		auth.GET("/invite", throttle, h.LookupInvitation)
		auth.POST("/invite/accept", throttle, h.AcceptInvitation)
	}

	api.GET("/auth/me", h.Me)
	api.POST("/auth/logout", h.Logout)
}
