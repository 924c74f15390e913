package auth

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/candorhq/candor/internal/cache"
	"github.com/candorhq/candor/internal/database"
	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/pkg/crypto"
	apperrors "github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/logger"
	mailer "github.com/candorhq/candor/pkg/mail"
	"github.com/candorhq/candor/pkg/metrics"
	"github.com/candorhq/candor/pkg/validator"
)

const (
	// DefaultMagicLinkTTL bounds how long an emailed sign-in link stays valid.
	DefaultMagicLinkTTL   = 15 * time.Minute
	defaultMagicLinkBytes = 32
	defaultRequestLimit   = 5
	defaultRequestWindow  = 15 * time.Minute
)

var (
	ErrMagicLinkInvalid = apperrors.New("MAGIC_LINK_INVALID", "Sign-in link is invalid", http.StatusBadRequest)
	ErrMagicLinkExpired = apperrors.New("MAGIC_LINK_EXPIRED", "Sign-in link has expired", http.StatusBadRequest)
	ErrMagicLinkUsed    = apperrors.New("MAGIC_LINK_USED", "Sign-in link has already been used", http.StatusBadRequest)
	ErrAccountDisabled  = apperrors.New("ACCOUNT_DISABLED", "Account is disabled", http.StatusForbidden)
	ErrInvalidEmail     = apperrors.New("INVALID_EMAIL", "A valid email address is required", http.StatusBadRequest)
)

// MagicLinkConfig configures link issuance and delivery.
type MagicLinkConfig struct {
	TTL        time.Duration
	TokenBytes int
	// BaseURL is the public origin used to build the link, e.g. https://candor.example.com.
	BaseURL string
	From    string
	// DevMode logs links at debug level when mail delivery is disabled.
	DevMode bool
	Clock   func() time.Time

	// Limiter throttles link requests per email address. Nil disables the limit.
	Limiter       cache.Store
	RequestLimit  int
	RequestWindow time.Duration
}

// SignInResult is returned by a successful Verify.
type SignInResult struct {
	Token   string
	Session *models.Session
	User    *models.User
	// Created is true when the account was created by this sign-in.
	Created bool
	// Invitation is the invitation consumed by this sign-in, if any.
	Invitation *models.Invitation
}

// MagicLinkService issues emailed sign-in links and exchanges them for sessions.
type MagicLinkService struct {
	db       *gorm.DB
	sessions *SessionService
	mailer   mailer.Mailer
	cfg      MagicLinkConfig
	now      func() time.Time
	log      *zap.Logger
}

// NewMagicLinkService wires the service dependencies.
func NewMagicLinkService(db *gorm.DB, sessions *SessionService, m mailer.Mailer, cfg MagicLinkConfig) (*MagicLinkService, error) {
	if db == nil {
		return nil, errors.New("magic link service: db is required")
	}
	if sessions == nil {
		return nil, errors.New("magic link service: session service is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultMagicLinkTTL
	}
	if cfg.TokenBytes <= 0 {
		cfg.TokenBytes = defaultMagicLinkBytes
	}
	if cfg.RequestLimit <= 0 {
		cfg.RequestLimit = defaultRequestLimit
	}
	if cfg.RequestWindow <= 0 {
		cfg.RequestWindow = defaultRequestWindow
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &MagicLinkService{
		db:       db,
		sessions: sessions,
		mailer:   m,
		cfg:      cfg,
		now:      clock,
		log:      logger.WithModule("auth.magic_link"),
	}, nil
}

// NormalizeEmail validates an address and returns its lower-cased form.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	if err := validator.ValidateVar(email, "email,max=254"); err != nil {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Request creates a sign-in link for email and delivers it. The outcome is
// the same whether or not an account exists for the address.
func (s *MagicLinkService) Request(ctx context.Context, email, requestIP string) error {
	email, err := NormalizeEmail(email)
	if err != nil {
		return err
	}

	if s.cfg.Limiter != nil {
		count, _, err := s.cfg.Limiter.IncrementWithTTL(ctx, "magic_link:email:"+crypto.HashToken(email), s.cfg.RequestWindow)
		if err != nil {
			s.log.Warn("magic link rate limiter unavailable", zap.Error(err))
		} else if count > int64(s.cfg.RequestLimit) {
			metrics.AuthAttempts.WithLabelValues("throttled").Inc()
			return apperrors.ErrRateLimit
		}
	}

	token, err := crypto.GenerateToken(s.cfg.TokenBytes)
	if err != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("generate magic link token: %w", err))
	}

	link := &models.MagicLink{
		Email:       email,
		TokenHash:   crypto.HashToken(token),
		ExpiresAt:   s.now().UTC().Add(s.cfg.TTL),
		RequestedIP: strings.TrimSpace(requestIP),
	}
	if err := s.db.WithContext(ctx).Create(link).Error; err != nil {
		return apperrors.ErrInternalServer.WithInternal(fmt.Errorf("store magic link: %w", err))
	}

	metrics.AuthAttempts.WithLabelValues("requested").Inc()
	s.deliver(ctx, email, s.VerifyURL(token))
	return nil
}

// VerifyURL builds the link a user follows to sign in.
func (s *MagicLinkService) VerifyURL(token string) string {
	return fmt.Sprintf("%s/auth/verify?token=%s", s.cfg.BaseURL, url.QueryEscape(token))
}

func (s *MagicLinkService) deliver(ctx context.Context, email, link string) {
	if s.mailer == nil {
		s.logUndelivered(email, link, mailer.ErrSMTPDisabled)
		return
	}

	minutes := int(s.cfg.TTL / time.Minute)
	msg := mailer.Message{
		From:    s.cfg.From,
		To:      []string{email},
		Subject: "Your Candor sign-in link",
		Body: fmt.Sprintf("Use the link below to sign in to Candor. It expires in %d minutes and can be used once.\n\n%s\n\nIf you did not request this email you can ignore it.\n",
			minutes, link),
		HTMLBody: fmt.Sprintf(`<p>Use the link below to sign in to Candor. It expires in %d minutes and can be used once.</p><p><a href="%s">Sign in</a></p><p>If you did not request this email you can ignore it.</p>`,
			minutes, html.EscapeString(link)),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logUndelivered(email, link, err)
	}
}

func (s *MagicLinkService) logUndelivered(email, link string, err error) {
	if errors.Is(err, mailer.ErrSMTPDisabled) {
		if s.cfg.DevMode {
			s.log.Debug("mail delivery disabled; sign-in link not sent", logger.Email("email", email), zap.String("link", link))
		} else {
			s.log.Warn("mail delivery disabled; sign-in link not sent", logger.Email("email", email))
		}
		return
	}
	s.log.Error("failed to send sign-in link", logger.Email("email", email), zap.Error(err))
}

// Verify consumes the link identified by token and opens a session. The link
// and any matching invitation are consumed with conditional updates inside one
// transaction so concurrent sign-ins cannot use either twice.
func (s *MagicLinkService) Verify(ctx context.Context, token string, meta SessionMetadata) (*SignInResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, ErrMagicLinkInvalid
	}
	hash := crypto.HashToken(token)
	now := s.now().UTC()

	result := &SignInResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link models.MagicLink
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token_hash = ?", hash).
			Take(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMagicLinkInvalid
		}
		if err != nil {
			return err
		}
		if link.ConsumedAt != nil {
			return ErrMagicLinkUsed
		}
		if !link.ExpiresAt.After(now) {
			return ErrMagicLinkExpired
		}

		res := tx.Model(&models.MagicLink{}).
			Where("id = ? AND consumed_at IS NULL", link.ID).
			Update("consumed_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrMagicLinkUsed
		}

		user, created, invitation, err := s.resolveUser(tx, link.Email, now)
		if err != nil {
			return err
		}
		result.User = user
		result.Created = created
		result.Invitation = invitation
		return nil
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, apperrors.ErrInternalServer.WithInternal(fmt.Errorf("verify magic link: %w", err))
	}

	signed, session, err := s.sessions.CreateSession(ctx, result.User, meta)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("failure").Inc()
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	result.Token = signed
	result.Session = session

	metrics.AuthAttempts.WithLabelValues("success").Inc()
	s.log.Info("user signed in",
		zap.String("user_id", result.User.ID),
		zap.Bool("created", result.Created),
		zap.Bool("invited", result.Invitation != nil))
	return result, nil
}

// resolveUser finds or creates the account for email, applying a pending
// invitation when one exists.
func (s *MagicLinkService) resolveUser(tx *gorm.DB, email string, now time.Time) (*models.User, bool, *models.Invitation, error) {
	invitation, err := consumeInvitation(tx, email, now)
	if err != nil {
		return nil, false, nil, err
	}

	var user models.User
	err = tx.Where("email = ?", email).Take(&user).Error
	created := false
	var touchedTeams []string
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		roleID := models.RoleIDStaff
		user = models.User{
			Email:       email,
			Name:        displayNameFromEmail(email),
			RoleID:      &roleID,
			IsActive:    true,
			LastLoginAt: &now,
		}
		if invitation != nil {
			user.RoleID = &invitation.RoleID
			user.TeamID = invitation.TeamID
		}
		if err := tx.Create(&user).Error; err != nil {
			return nil, false, nil, fmt.Errorf("create user: %w", err)
		}
		created = true
	case err != nil:
		return nil, false, nil, fmt.Errorf("load user: %w", err)
	default:
		if !user.IsActive {
			return nil, false, nil, ErrAccountDisabled
		}
		updates := map[string]any{"last_login_at": now}
		if invitation != nil {
			keepAdmin, err := s.isLastAdmin(tx, &user, invitation.RoleID)
			if err != nil {
				return nil, false, nil, err
			}
			if keepAdmin {
				s.log.Warn("invitation role not applied; user is the last active admin",
					zap.String("user_id", user.ID),
					zap.String("invited_role", invitation.RoleID))
			} else {
				updates["role_id"] = invitation.RoleID
			}
			if invitation.TeamID != nil {
				updates["team_id"] = *invitation.TeamID
				if user.TeamID != nil {
					touchedTeams = append(touchedTeams, *user.TeamID)
				}
			}
		}
		if err := tx.Model(&user).Updates(updates).Error; err != nil {
			return nil, false, nil, fmt.Errorf("update user: %w", err)
		}
	}

	if invitation != nil && invitation.TeamID != nil {
		touchedTeams = append(touchedTeams, *invitation.TeamID)
		if err := database.RecountTeams(tx, touchedTeams...); err != nil {
			return nil, false, nil, err
		}
	}

	if err := tx.Preload("Role").Preload("Team").Take(&user, "id = ?", user.ID).Error; err != nil {
		return nil, false, nil, fmt.Errorf("reload user: %w", err)
	}
	return &user, created, invitation, nil
}

// isLastAdmin reports whether moving user to roleID would leave no active
// Admin.
func (s *MagicLinkService) isLastAdmin(tx *gorm.DB, user *models.User, roleID string) (bool, error) {
	if user.RoleID == nil || *user.RoleID != models.RoleIDAdmin || roleID == models.RoleIDAdmin {
		return false, nil
	}
	others, err := database.CountOtherActiveAdmins(tx, user.ID)
	if err != nil {
		return false, err
	}
	return others == 0, nil
}

// consumeInvitation marks the newest usable invitation for email as used.
// The conditional update guarantees a used invitation is never applied twice.
func consumeInvitation(tx *gorm.DB, email string, now time.Time) (*models.Invitation, error) {
	var candidates []models.Invitation
	if err := tx.Where("email = ? AND used = ? AND expires_at > ?", email, false, now).
		Order("created_at DESC").
		Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("load invitations: %w", err)
	}

	for i := range candidates {
		inv := candidates[i]
		res := tx.Model(&models.Invitation{}).
			Where("id = ? AND used = ?", inv.ID, false).
			Updates(map[string]any{"used": true, "used_at": now})
		if res.Error != nil {
			return nil, fmt.Errorf("consume invitation: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			inv.Used = true
			inv.UsedAt = &now
			return &inv, nil
		}
	}
	return nil, nil
}

func displayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	for i, part := range parts {
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		parts[i] = string(runes)
	}
	return strings.Join(parts, " ")
}

// CleanupExpired removes links that are expired or were consumed more than a
// TTL ago.
func (s *MagicLinkService) CleanupExpired(ctx context.Context) (int64, error) {
	now := s.now().UTC()
	res := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Or("consumed_at IS NOT NULL AND consumed_at < ?", now.Add(-s.cfg.TTL)).
		Delete(&models.MagicLink{})
	if res.Error != nil {
		return 0, fmt.Errorf("magic link service: cleanup: %w", res.Error)
	}
	return res.RowsAffected, nil
}
