package api

import (
	"github.com/gin-gonic/gin"

	"github.com/candorhq/candor/internal/handlers"
	"github.com/candorhq/candor/internal/middleware"
	"github.com/candorhq/candor/internal/models"
)

func registerFeedbackRoutes(api *gin.RouterGroup, feedback *handlers.FeedbackHandler, chat *handlers.ChatHandler) {
	reviewers := middleware.RequireRole(models.RoleLeadership, models.RoleAdmin)
	unattributed := middleware.Unattributed()

	group := api.Group("/feedback")
	{
		group.POST("", unattributed, feedback.Submit)
		group.GET("", reviewers, feedback.List)
		group.GET("/stats", reviewers, feedback.Stats)
		group.GET("/:id", reviewers, feedback.Get)
	}

	api.POST("/chat", unattributed, chat.Respond)
}
