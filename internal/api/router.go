package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/app"
	"github.com/candorhq/candor/internal/handlers"
	"github.com/candorhq/candor/internal/middleware"
	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/internal/monitoring"
	"github.com/candorhq/candor/internal/services"
)

const (
	defaultRequestsPerWindow = 120
	defaultRateWindow        = time.Minute

	signInRequestsPerWindow = 10
	signInRateWindow        = 15 * time.Minute
)

// Dependencies carries everything the router needs.
type Dependencies struct {
	DB       *gorm.DB
	Config   *app.Config
	Services *app.Services
	// RateStore backs request throttling. Nil uses an in-process store.
	RateStore middleware.RateStore
	// Health may be nil, in which case health endpoints report disabled.
	Health *monitoring.HealthManager
	// Notifier wakes the analysis workers after a manual requeue. Optional.
	Notifier services.Notifier
}

// NewRouter builds the Gin engine, wires middleware and registers every route.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle must be provided")
	}
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Services == nil {
		return nil, fmt.Errorf("services must be provided")
	}
	cfg := deps.Config
	svc := deps.Services

	rateStore := deps.RateStore
	if rateStore == nil {
		rateStore = middleware.NewMemoryRateStore()
	}

	r := gin.New()

	// Global middleware
	r.Use(middleware.RecoverPanics())
	r.Use(middleware.Logger())
	r.Use(middleware.ObserveLatency())
	r.Use(middleware.Hardening())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins...))
	if cfg.Server.CSRF.Enabled {
		r.Use(middleware.CSRF())
	}
	r.Use(middleware.RateLimit(rateStore, globalRateLimit(cfg.Server.RateLimit)))

	registerHealthRoutes(r, cfg, deps.Health)
	registerMetricsRoute(r, cfg)

	authHandler := handlers.NewAuthHandler(svc.MagicLinks, svc.Sessions, svc.Invitations, handlers.CookieConfig{
		Secure: cfg.Auth.Session.SecureCookie,
	})

	api := r.Group("/api")
	api.Use(middleware.Auth(svc.Sessions, deps.DB))

	registerAuthRoutes(r, api, authHandler, middleware.RateLimit(rateStore, middleware.RateLimitOptions{
		Name:   "sign_in",
		Limit:  signInRequestsPerWindow,
		Window: signInRateWindow,
		Key:    func(c *gin.Context) string { return c.ClientIP() },
	}))
	registerFeedbackRoutes(api, handlers.NewFeedbackHandler(svc.Feedback), handlers.NewChatHandler(svc.Chat))

	admin := api.Group("/admin")
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	registerAdminRoutes(admin, adminHandlers{
		Teams:       handlers.NewTeamHandler(svc.Teams),
		Users:       handlers.NewUserHandler(svc.Users),
		Invitations: handlers.NewInvitationHandler(svc.Invitations),
		Settings:    handlers.NewSettingsHandler(svc.Settings, svc.Anonymity),
		Audit:       handlers.NewAuditHandler(svc.Audit),
		Analysis:    handlers.NewAnalysisHandler(svc.Analysis, deps.Notifier),
	})

	r.NoRoute(middleware.RouteNotFound)

	return r, nil
}

func globalRateLimit(cfg app.RateLimitConfig) middleware.RateLimitOptions {
	limit := cfg.Requests
	if limit <= 0 {
		limit = defaultRequestsPerWindow
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultRateWindow
	}
	return middleware.RateLimitOptions{Name: "global", Limit: limit, Window: window}
}
