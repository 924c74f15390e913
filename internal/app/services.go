package app

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/ai"
	"github.com/candorhq/candor/internal/auth"
	"github.com/candorhq/candor/internal/cache"
	"github.com/candorhq/candor/internal/services"
	"github.com/candorhq/candor/pkg/mail"
)

// Dependencies are the external collaborators injected into the service graph.
type Dependencies struct {
	Mailer   mail.Mailer
	Analyzer ai.Analyzer
	// Cache backs session lookups and magic link throttling. Without it
	// sessions are read from the database and throttling uses the
	// database-backed store.
	Cache cache.Store
}

// Services is the assembled service graph shared by the HTTP layer, the
// background workers and the CLI.
type Services struct {
	JWT         *auth.JWTService
	Sessions    *auth.SessionService
	MagicLinks  *auth.MagicLinkService
	Audit       *services.AuditService
	Teams       *services.TeamService
	Invitations *services.InvitationService
	Settings    *services.SettingsService
	Anonymity   *services.AnonymityService
	Users       *services.UserService
	Feedback    *services.FeedbackService
	Chat        *services.ChatService
	Analysis    *services.AnalysisProcessor
	Cache       cache.Store
}

// NewServices builds every service from cfg and deps.
func NewServices(db *gorm.DB, cfg *Config, deps Dependencies) (*Services, error) {
	if db == nil {
		return nil, errors.New("services: db is required")
	}
	if cfg == nil {
		return nil, errors.New("services: config is required")
	}

	store := deps.Cache
	if store == nil {
		store = cache.NewDatabaseStore(db)
	}
	analyzer := deps.Analyzer
	if analyzer == nil {
		analyzer = ai.NewStaticAnalyzer()
	}

	jwtService, err := auth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("jwt service: %w", err)
	}
	sessions, err := auth.NewSessionService(db, jwtService, cfg.Auth.SessionServiceConfig(deps.Cache))
	if err != nil {
		return nil, fmt.Errorf("session service: %w", err)
	}
	magicLinks, err := auth.NewMagicLinkService(db, sessions, deps.Mailer, cfg.MagicLinkServiceConfig(store))
	if err != nil {
		return nil, fmt.Errorf("magic link service: %w", err)
	}

	audit, err := services.NewAuditService(db)
	if err != nil {
		return nil, err
	}
	teams, err := services.NewTeamService(db, audit)
	if err != nil {
		return nil, err
	}
	invitations, err := services.NewInvitationService(db, audit, deps.Mailer, cfg.InvitationServiceConfig())
	if err != nil {
		return nil, err
	}
	settings, err := services.NewSettingsService(db, audit)
	if err != nil {
		return nil, err
	}
	anonymity, err := services.NewAnonymityService(db, audit)
	if err != nil {
		return nil, err
	}
	users, err := services.NewUserService(db, audit, sessions)
	if err != nil {
		return nil, err
	}

	var ipKey []byte
	if strings.TrimSpace(cfg.Auth.IPHashKey) != "" {
		if ipKey, err = DecodeKey(cfg.Auth.IPHashKey); err != nil {
			return nil, fmt.Errorf("ip hash key: %w", err)
		}
	}
	feedback, err := services.NewFeedbackService(db, nil, services.FeedbackConfig{
		MaxLength:   cfg.Feedback.MaxLength,
		IPHashKey:   ipKey,
		MaxAttempts: cfg.Analysis.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	chat, err := services.NewChatService(db, feedback, analyzer, services.ChatConfig{
		Threshold: cfg.Feedback.ChatThreshold,
	})
	if err != nil {
		return nil, err
	}
	analysis, err := services.NewAnalysisProcessor(db, analyzer, cfg.Analysis.ProcessorConfig())
	if err != nil {
		return nil, err
	}

	return &Services{
		JWT:         jwtService,
		Sessions:    sessions,
		MagicLinks:  magicLinks,
		Audit:       audit,
		Teams:       teams,
		Invitations: invitations,
		Settings:    settings,
		Anonymity:   anonymity,
		Users:       users,
		Feedback:    feedback,
		Chat:        chat,
		Analysis:    analysis,
		Cache:       store,
	}, nil
}
