package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/candorhq/candor/pkg/crypto"
	"github.com/candorhq/candor/pkg/errors"
	"github.com/candorhq/candor/pkg/logger"
	"github.com/candorhq/candor/pkg/response"
)

const (
	// CSRFCookieName carries the double-submit token. Scripts must be able to
	// read it, so it is not HttpOnly.
	CSRFCookieName = "candor_csrf"
	// CSRFHeaderName echoes the token on unsafe requests.
	CSRFHeaderName = "X-CSRF-Token"

	csrfTokenBytes   = 32
	csrfCookieMaxAge = 12 * 60 * 60
)

// CSRF guards cookie-authenticated requests with a double-submit token.
// Safe methods receive the token in a cookie and a response header; POST,
// PUT, PATCH and DELETE must send it back in X-CSRF-Token. Bearer requests
// carry no ambient credentials and skip the check.
func CSRF() gin.HandlerFunc {
	log := logger.WithModule("csrf")

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions || hasBearerToken(c) {
			c.Next()
			return
		}

		token, fresh, err := csrfToken(c)
		if err != nil {
			response.Abort(c, errors.ErrInternalServer.WithInternal(err))
			return
		}

		if !mutates(c.Request.Method) {
			c.Header(CSRFHeaderName, token)
			c.Next()
			return
		}

		if !crypto.ConstantTimeEqual(token, strings.TrimSpace(c.GetHeader(CSRFHeaderName))) {
			log.Warn("csrf token mismatch",
				zap.String("method", c.Request.Method),
				zap.String("route", c.FullPath()),
				zap.Bool("fresh_cookie", fresh),
			)
			response.Abort(c, errors.ErrCSRFInvalid)
			return
		}
		c.Next()
	}
}

func mutates(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// csrfToken returns the browser's token, minting and setting a new cookie
// when none was sent.
func csrfToken(c *gin.Context) (string, bool, error) {
	if existing, err := c.Cookie(CSRFCookieName); err == nil && existing != "" {
		return existing, false, nil
	}

	token, err := crypto.GenerateToken(csrfTokenBytes)
	if err != nil {
		return "", false, err
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   csrfCookieMaxAge,
		Secure:   IsSecureRequest(c.Request),
		SameSite: http.SameSiteStrictMode,
	})
	return token, true, nil
}

func hasBearerToken(c *gin.Context) bool {
	scheme, credentials, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	return ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(credentials) != ""
}

// IsSecureRequest reports whether the request arrived over TLS, directly or
// behind a proxy that sets X-Forwarded-Proto.
func IsSecureRequest(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
