package middleware

import (
	"github.com/gin-gonic/gin"

	iauth "github.com/candorhq/candor/internal/auth"
	apperrors "github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/response"
)

// RequireRole admits only authenticated users holding one of the listed
// roles. It must run after Auth.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			response.Abort(c, apperrors.ErrUnauthorized)
			return
		}
		if !iauth.HasRole(user.RoleName(), roles...) {
			response.Abort(c, apperrors.ErrForbidden)
			return
		}
		c.Next()
	}
}
