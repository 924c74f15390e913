package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	iauth "github.com/candorhq/candor/internal/auth"
	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/internal/services"
	apperrors "github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/logger"
	"github.com/candorhq/candor/pkg/response"
)

const (
	// SessionCookieName carries the signed session token for browser clients.
	SessionCookieName = "candor_session"

	CtxClaimsKey    = "authClaims"
	CtxUserIDKey    = "userID"
	CtxSessionIDKey = "sessionID"
	CtxUserKey      = "authUser"
)

// SessionValidator checks a session token and returns its claims and row.
type SessionValidator interface {
	ValidateToken(ctx context.Context, token string) (*iauth.Claims, *models.Session, error)
}

// Auth authenticates requests carrying a session token in the session cookie
// or an Authorization bearer header. The user row, with its role and team, is
// reloaded on every request so role changes apply immediately.
func Auth(sessions SessionValidator, db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := requestToken(c)
		if token == "" {
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}

		claims, session, err := sessions.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			if errors.Is(err, iauth.ErrSessionExpired) || errors.Is(err, iauth.ErrSessionRevoked) {
				response.Abort(c, apperrors.ErrSessionExpired)
				return
			}
			if !isSessionError(err) {
				logger.WithModule("auth").Error("session validation failed", zap.Error(err))
				response.Abort(c, apperrors.ErrInternalServer)
				return
			}
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}

		var user models.User
		err = db.WithContext(c.Request.Context()).
			Preload("Role").
			Preload("Team").
			Take(&user, "id = ?", claims.UserID).Error
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				logger.WithModule("auth").Error("load session user", zap.Error(err))
				response.Abort(c, apperrors.ErrInternalServer)
				return
			}
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}
		if !user.IsActive {
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, user.ID)
		c.Set(CtxSessionIDKey, session.ID)
		c.Set(CtxUserKey, &user)

		ctx := services.WithActor(c.Request.Context(), services.Actor{
			UserID:    user.ID,
			Email:     user.Email,
			IPAddress: c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// CurrentUser returns the authenticated user stored by Auth.
func CurrentUser(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(CtxUserKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok && user != nil
}

// SessionToken returns the raw token presented by the client, if any.
func SessionToken(c *gin.Context) string {
	return requestToken(c)
}

func requestToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	if cookie, err := c.Cookie(SessionCookieName); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

func isSessionError(err error) bool {
	return errors.Is(err, iauth.ErrSessionNotFound) ||
		errors.Is(err, iauth.ErrSessionInvalidToken)
}
