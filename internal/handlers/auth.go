package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	iauth "github.com/candorhq/candor/internal/auth"
	"github.com/candorhq/candor/internal/middleware"
	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/internal/services"
	apperrors "github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/logger"
	"github.com/candorhq/candor/pkg/response"
)

// CookieConfig controls the session cookie written after sign-in.
type CookieConfig struct {
	// Secure forces the Secure attribute; otherwise it follows the request scheme.
	Secure bool
	MaxAge time.Duration
}

// AuthHandler manages magic-link sign-in, invitations and the current session.
type AuthHandler struct {
	links       *iauth.MagicLinkService
	sessions    *iauth.SessionService
	invitations *services.InvitationService
	cookie      CookieConfig
}

func NewAuthHandler(links *iauth.MagicLinkService, sessions *iauth.SessionService, invitations *services.InvitationService, cookie CookieConfig) *AuthHandler {
	if cookie.MaxAge <= 0 && sessions != nil {
		cookie.MaxAge = sessions.TTL()
	}
	return &AuthHandler{links: links, sessions: sessions, invitations: invitations, cookie: cookie}
}

type magicLinkRequest struct {
	Email string `json:"email" validate:"required,email,max=320"`
}

type verifyRequest struct {
	Token string `json:"token" validate:"required,notblank"`
}

type signInResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
	Created   bool         `json:"created"`
}

type invitationPreview struct {
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Team      string    `json:"team,omitempty"`
	ExpiresAt time.Time `json:"expires_at"`
}

// POST /api/auth/magic-link
func (h *AuthHandler) RequestMagicLink(c *gin.Context) {
	var req magicLinkRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.links.Request(requestContext(c), req.Email, c.ClientIP()); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, gin.H{"message": "If the address can sign in, a link is on its way."})
}

// POST /api/auth/verify
func (h *AuthHandler) Verify(c *gin.Context) {
	var req verifyRequest
	if !bindAndValidate(c, &req) {
		return
	}
	h.signIn(c, req.Token)
}

// GET /api/auth/verify?token=
func (h *AuthHandler) VerifyLink(c *gin.Context) {
	h.signIn(c, c.Query("token"))
}

func (h *AuthHandler) signIn(c *gin.Context, token string) {
	result, err := h.links.Verify(requestContext(c), token, iauth.SessionMetadata{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		fail(c, err)
		return
	}

	h.setSessionCookie(c, result.Token, int(h.cookie.MaxAge.Seconds()))
	response.Success(c, http.StatusOK, signInResponse{
		Token:     result.Token,
		ExpiresAt: result.Session.ExpiresAt,
		User:      result.User,
		Created:   result.Created,
	})
}

// GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		fail(c, apperrors.ErrUnauthorized)
		return
	}
	response.Success(c, http.StatusOK, user)
}

// POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	if sessionID := c.GetString(middleware.CtxSessionIDKey); sessionID != "" {
		if err := h.sessions.RevokeSession(requestContext(c), sessionID); err != nil {
			logger.WithModule("auth").Warn("failed to revoke session on logout", zap.Error(err))
		}
	}
	h.setSessionCookie(c, "", -1)
	response.Success(c, http.StatusOK, gin.H{"logged_out": true})
}

// GET /api/auth/invite?token=
func (h *AuthHandler) LookupInvitation(c *gin.Context) {
	invitation, err := h.invitations.Lookup(requestContext(c), c.Query("token"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, previewInvitation(invitation))
}

// POST /api/auth/invite/accept
//
// Accepting an invitation sends a sign-in link to the invited address; the
// invitation itself is consumed when that link is verified.
func (h *AuthHandler) AcceptInvitation(c *gin.Context) {
	var req verifyRequest
	if !bindAndValidate(c, &req) {
		return
	}

	ctx := requestContext(c)
	invitation, err := h.invitations.Lookup(ctx, req.Token)
	if err != nil {
		fail(c, err)
		return
	}
	if err := h.links.Request(ctx, invitation.Email, c.ClientIP()); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusAccepted, previewInvitation(invitation))
}

func (h *AuthHandler) setSessionCookie(c *gin.Context, value string, maxAge int) {
	secure := h.cookie.Secure || middleware.IsSecureRequest(c.Request)
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookieName, value, maxAge, "/", "", secure, true)
}

func previewInvitation(inv *models.Invitation) invitationPreview {
	preview := invitationPreview{
		Email:     inv.Email,
		Role:      inv.RoleID,
		ExpiresAt: inv.ExpiresAt,
	}
	if inv.Role != nil {
		preview.Role = inv.Role.Name
	}
	if inv.Team != nil {
		preview.Team = inv.Team.Name
	}
	return preview
}
