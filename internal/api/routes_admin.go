package api

import (
	"github.com/gin-gonic/gin"

	"github.com/candorhq/candor/internal/handlers"
)

type adminHandlers struct {
	Teams       *handlers.TeamHandler
	Users       *handlers.UserHandler
	Invitations *handlers.InvitationHandler
	Settings    *handlers.SettingsHandler
	Audit       *handlers.AuditHandler
	Analysis    *handlers.AnalysisHandler
}

// registerAdminRoutes expects admin to already require the Admin role.
func registerAdminRoutes(admin *gin.RouterGroup, h adminHandlers) {
	teams := admin.Group("/teams")
	{
		teams.GET("", h.Teams.List)
		teams.POST("", h.Teams.Create)
		teams.GET("/:id", h.Teams.Get)
		teams.PATCH("/:id", h.Teams.Update)
		teams.DELETE("/:id", h.Teams.Delete)
		teams.GET("/:id/members", h.Teams.ListMembers)
		teams.POST("/:id/members", h.Teams.AddMember)
		teams.DELETE("/:id/members/:userID", h.Teams.RemoveMember)
	}

	users := admin.Group("/users")
	{
		users.GET("", h.Users.List)
		users.GET("/:id", h.Users.Get)
		users.PATCH("/:id", h.Users.Update)
		users.POST("/:id/deactivate", h.Users.Deactivate)
		users.POST("/:id/activate", h.Users.Activate)
	}

	invitations := admin.Group("/invitations")
	{
		invitations.GET("", h.Invitations.List)
		invitations.POST("", h.Invitations.Create)
		invitations.POST("/:id/resend", h.Invitations.Resend)
		invitations.DELETE("/:id", h.Invitations.Delete)
	}

	settings := admin.Group("/settings")
	{
		settings.GET("", h.Settings.List)
		settings.PUT("", h.Settings.Upsert)
		settings.GET("/:key", h.Settings.Get)
		settings.DELETE("/:key", h.Settings.Delete)
	}

	admin.GET("/anonymity", h.Settings.GetAnonymity)
	admin.PUT("/anonymity", h.Settings.UpdateAnonymity)

	admin.GET("/audit", h.Audit.List)

	admin.POST("/feedback/:id/reanalyze", h.Analysis.Reanalyze)
	admin.POST("/analysis/requeue-failed", h.Analysis.RequeueFailed)
	admin.GET("/analysis/queue", h.Analysis.Queue)
}
