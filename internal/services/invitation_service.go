package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/auth"
	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/pkg/crypto"
	apperrors "github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/logger"
	"github.com/candorhq/candor/pkg/mail"
)

const (
	// DefaultInvitationTTL is how long an invitation stays redeemable.
	DefaultInvitationTTL     = 7 * 24 * time.Hour
	defaultInviteTokenBytes  = 32
	maxInvitationExpiryHours = 24 * 90
)

var (
	// ErrInvitationNotFound indicates no invitation matches the identifier or token.
	ErrInvitationNotFound = apperrors.New("INVITATION_NOT_FOUND", "Invitation not found", http.StatusNotFound)
	// ErrInvitationExists is returned when the email already has a pending invitation.
	ErrInvitationExists = apperrors.New("INVITATION_EXISTS", "A pending invitation already exists for this email", http.StatusConflict)
	// ErrInvitationUsed blocks changes to invitations that were already consumed.
	ErrInvitationUsed = apperrors.New("INVITATION_USED", "Invitation has already been used", http.StatusBadRequest)
	// ErrInvitationExpired is returned when looking up an expired invitation token.
	ErrInvitationExpired = apperrors.New("INVITATION_EXPIRED", "Invitation has expired", http.StatusBadRequest)
)

// InvitationConfig customises invitation issuance.
type InvitationConfig struct {
	TTL        time.Duration
	TokenBytes int
	BaseURL    string
	From       string
	Clock      func() time.Time
}

// CreateInvitationInput describes a new invitation.
type CreateInvitationInput struct {
	Email     string
	Role      string
	TeamID    *string
	InvitedBy string
	// ExpiresInHours overrides the configured TTL when positive.
	ExpiresInHours int
}

// InvitationView is an invitation with its derived status.
type InvitationView struct {
	models.Invitation
	Status string `json:"status"`
}

// IssuedInvitation is returned when an invitation token is minted. Token is
// only ever available here; storage keeps its hash.
type IssuedInvitation struct {
	Invitation *models.Invitation
	Token      string
	Link       string
}

// InvitationService manages invitations that pre-assign a role and team to an
// email address ahead of its first sign-in.
type InvitationService struct {
	db           *gorm.DB
	auditService *AuditService
	mailer       mail.Mailer
	cfg          InvitationConfig
	now          func() time.Time
	log          *zap.Logger
}

// NewInvitationService constructs an InvitationService.
func NewInvitationService(db *gorm.DB, auditService *AuditService, mailer mail.Mailer, cfg InvitationConfig) (*InvitationService, error) {
	if db == nil {
		return nil, errors.New("invitation service: db is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultInvitationTTL
	}
	if cfg.TokenBytes <= 0 {
		cfg.TokenBytes = defaultInviteTokenBytes
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &InvitationService{
		db:           db,
		auditService: auditService,
		mailer:       mailer,
		cfg:          cfg,
		now:          clock,
		log:          logger.WithModule("invitations"),
	}, nil
}

// Create issues an invitation and emails the invitee. At most one pending
// invitation may exist per email.
func (s *InvitationService) Create(ctx context.Context, input CreateInvitationInput) (*IssuedInvitation, error) {
	ctx = ensureContext(ctx)

	email, err := auth.NormalizeEmail(input.Email)
	if err != nil {
		return nil, err
	}
	roleID, ok := auth.RoleID(input.Role)
	if !ok {
		return nil, ErrInvalidRole
	}
	if input.ExpiresInHours < 0 || input.ExpiresInHours > maxInvitationExpiryHours {
		return nil, apperrors.NewBadRequest(fmt.Sprintf("expires_in_hours must be between 1 and %d", maxInvitationExpiryHours))
	}

	ttl := s.cfg.TTL
	if input.ExpiresInHours > 0 {
		ttl = time.Duration(input.ExpiresInHours) * time.Hour
	}

	token, err := crypto.GenerateToken(s.cfg.TokenBytes)
	if err != nil {
		return nil, fmt.Errorf("invitation service: generate token: %w", err)
	}

	now := s.now().UTC()
	invitation := &models.Invitation{
		Email:     email,
		TokenHash: crypto.HashToken(token),
		RoleID:    roleID,
		TeamID:    trimmedPtr(input.TeamID),
		InvitedBy: strings.TrimSpace(input.InvitedBy),
		ExpiresAt: now.Add(ttl),
		SingleUse: true,
	}
	if invitation.InvitedBy == "" {
		if actor, ok := ActorFromContext(ctx); ok {
			invitation.InvitedBy = actor.UserID
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if invitation.TeamID != nil {
			var count int64
			if err := tx.Model(&models.Team{}).Where("id = ?", *invitation.TeamID).Count(&count).Error; err != nil {
				return fmt.Errorf("invitation service: check team: %w", err)
			}
			if count == 0 {
				return ErrTeamNotFound
			}
		}

		if roleID != models.RoleIDAdmin {
			var existing models.User
			err := tx.Where("email = ? AND role_id = ? AND is_active = ?", email, models.RoleIDAdmin, true).Take(&existing).Error
			switch {
			case err == nil:
				if err := ensureAnotherAdmin(tx, existing.ID); err != nil {
					return err
				}
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return fmt.Errorf("invitation service: check admin: %w", err)
			}
		}

		var pending int64
		if err := tx.Model(&models.Invitation{}).
			Where("email = ? AND used = ? AND expires_at > ?", email, false, now).
			Count(&pending).Error; err != nil {
			return fmt.Errorf("invitation service: check pending: %w", err)
		}
		if pending > 0 {
			return ErrInvitationExists
		}

		if err := tx.Create(invitation).Error; err != nil {
			return fmt.Errorf("invitation service: create invitation: %w", err)
		}
		return tx.Preload("Role").Preload("Team").First(invitation, "id = ?", invitation.ID).Error
	})
	if err != nil {
		return nil, err
	}

	issued := &IssuedInvitation{Invitation: invitation, Token: token, Link: s.InviteURL(token)}
	s.deliver(ctx, invitation, issued.Link)

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "invitation.create",
		Resource: invitation.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{
			"email": email,
			"role":  invitation.RoleID,
		},
	})

	return issued, nil
}

// List returns invitations, optionally filtered by status
// (pending, used or expired), newest first.
func (s *InvitationService) List(ctx context.Context, status string) ([]InvitationView, error) {
	ctx = ensureContext(ctx)

	now := s.now().UTC()
	query := s.db.WithContext(ctx).Model(&models.Invitation{}).Preload("Role").Preload("Team")

	switch strings.ToLower(strings.TrimSpace(status)) {
	case "":
	case models.InvitationPending:
		query = query.Where("used = ? AND expires_at > ?", false, now)
	case models.InvitationUsed:
		query = query.Where("used = ?", true)
	case models.InvitationExpired:
		query = query.Where("used = ? AND expires_at <= ?", false, now)
	default:
		return nil, apperrors.NewBadRequest("status must be one of pending, used or expired")
	}

	var invitations []models.Invitation
	if err := query.Order("created_at DESC").Find(&invitations).Error; err != nil {
		return nil, fmt.Errorf("invitation service: list invitations: %w", err)
	}

	views := make([]InvitationView, 0, len(invitations))
	for _, inv := range invitations {
		views = append(views, InvitationView{Invitation: inv, Status: inv.Status(now)})
	}
	return views, nil
}

// Lookup resolves a raw invitation token to its pending invitation.
func (s *InvitationService) Lookup(ctx context.Context, token string) (*models.Invitation, error) {
	ctx = ensureContext(ctx)

	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvitationNotFound
	}

	var invitation models.Invitation
	err := s.db.WithContext(ctx).
		Preload("Role").
		Preload("Team").
		First(&invitation, "token_hash = ?", crypto.HashToken(token)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invitation service: lookup: %w", err)
	}

	switch invitation.Status(s.now().UTC()) {
	case models.InvitationUsed:
		return nil, ErrInvitationUsed
	case models.InvitationExpired:
		return nil, ErrInvitationExpired
	}
	return &invitation, nil
}

// Delete removes an unused invitation.
func (s *InvitationService) Delete(ctx context.Context, id string) error {
	ctx = ensureContext(ctx)

	invitation, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if invitation.Used {
		return ErrInvitationUsed
	}

	res := s.db.WithContext(ctx).Where("id = ? AND used = ?", invitation.ID, false).Delete(&models.Invitation{})
	if res.Error != nil {
		return fmt.Errorf("invitation service: delete invitation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvitationUsed
	}

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "invitation.delete",
		Resource: invitation.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"email": invitation.Email},
	})
	return nil
}

// Resend rotates the token of an unused invitation, extends its expiry and
// emails the invitee again.
func (s *InvitationService) Resend(ctx context.Context, id string) (*IssuedInvitation, error) {
	ctx = ensureContext(ctx)

	invitation, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if invitation.Used {
		return nil, ErrInvitationUsed
	}

	token, err := crypto.GenerateToken(s.cfg.TokenBytes)
	if err != nil {
		return nil, fmt.Errorf("invitation service: generate token: %w", err)
	}
	expiresAt := s.now().UTC().Add(s.cfg.TTL)

	res := s.db.WithContext(ctx).
		Model(&models.Invitation{}).
		Where("id = ? AND used = ?", invitation.ID, false).
		Updates(map[string]any{
			"token_hash": crypto.HashToken(token),
			"expires_at": expiresAt,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("invitation service: rotate token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrInvitationUsed
	}

	invitation, err = s.load(ctx, invitation.ID)
	if err != nil {
		return nil, err
	}

	issued := &IssuedInvitation{Invitation: invitation, Token: token, Link: s.InviteURL(token)}
	s.deliver(ctx, invitation, issued.Link)

	recordAudit(s.auditService, ctx, AuditEntry{
		Action:   "invitation.resend",
		Resource: invitation.ID,
		Result:   AuditResultSuccess,
		Metadata: map[string]any{"email": invitation.Email},
	})
	return issued, nil
}

// CleanupExpired removes unused invitations that expired more than olderThan ago.
func (s *InvitationService) CleanupExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	ctx = ensureContext(ctx)

	cutoff := s.now().UTC().Add(-olderThan)
	res := s.db.WithContext(ctx).
		Where("used = ? AND expires_at < ?", false, cutoff).
		Delete(&models.Invitation{})
	if res.Error != nil {
		return 0, fmt.Errorf("invitation service: cleanup: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// InviteURL builds the link embedded in invitation emails.
func (s *InvitationService) InviteURL(token string) string {
	return fmt.Sprintf("%s/auth/invite?token=%s", s.cfg.BaseURL, url.QueryEscape(token))
}

func (s *InvitationService) load(ctx context.Context, id string) (*models.Invitation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrInvitationNotFound
	}

	var invitation models.Invitation
	err := s.db.WithContext(ctx).Preload("Role").Preload("Team").First(&invitation, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvitationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("invitation service: load invitation: %w", err)
	}
	return &invitation, nil
}

func (s *InvitationService) deliver(ctx context.Context, invitation *models.Invitation, link string) {
	if s.mailer == nil {
		s.log.Warn("mail delivery disabled; invitation not sent", logger.Email("email", invitation.Email))
		return
	}

	role := invitation.RoleID
	if invitation.Role != nil {
		role = invitation.Role.Name
	}
	expires := invitation.ExpiresAt.Format("2 Jan 2006 15:04 MST")

	msg := mail.Message{
		From:    s.cfg.From,
		To:      []string{invitation.Email},
		Subject: "You have been invited to Candor",
		Body: fmt.Sprintf("You have been invited to Candor as %s.\n\nFollow the link below and sign in with this email address to accept. The invitation expires on %s.\n\n%s\n",
			role, expires, link),
		HTMLBody: fmt.Sprintf(`<p>You have been invited to Candor as %s.</p><p>Follow the link below and sign in with this email address to accept. The invitation expires on %s.</p><p><a href="%s">Accept invitation</a></p>`,
			html.EscapeString(role), html.EscapeString(expires), html.EscapeString(link)),
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		if errors.Is(err, mail.ErrSMTPDisabled) {
			s.log.Warn("mail delivery disabled; invitation not sent", logger.Email("email", invitation.Email))
			return
		}
		s.log.Error("failed to send invitation", logger.Email("email", invitation.Email), zap.Error(err))
	}
}
