package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	iauth "github.com/candorhq/candor/internal/auth"
	"github.com/candorhq/candor/internal/database/testutil"
	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/internal/services"
)

type authFixture struct {
	db       *gorm.DB
	sessions *iauth.SessionService
	router   *gin.Engine
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())
	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         "middleware-secret",
		Issuer:         "candor-test",
		AccessTokenTTL: time.Hour,
	})
	require.NoError(t, err)
	sessions, err := iauth.NewSessionService(db, jwtSvc, iauth.SessionConfig{})
	require.NoError(t, err)

	r := gin.New()
	secured := r.Group("/secure", Auth(sessions, db))
	secured.GET("", func(c *gin.Context) {
		user, ok := CurrentUser(c)
		require.True(t, ok)
		actor, ok := services.ActorFromContext(c.Request.Context())
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{
			"user_id":    c.GetString(CtxUserIDKey),
			"session_id": c.GetString(CtxSessionIDKey),
			"role":       user.RoleName(),
			"actor":      actor.Email,
		})
	})
	secured.GET("/admin", RequireRole(models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	secured.GET("/review", RequireRole(models.RoleLeadership, models.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	return &authFixture{db: db, sessions: sessions, router: r}
}

func (f *authFixture) user(t *testing.T, email, roleID string) (*models.User, string) {
	t.Helper()

	user := &models.User{Email: email, RoleID: &roleID, IsActive: true}
	require.NoError(t, f.db.Create(user).Error)
	token, _, err := f.sessions.CreateSession(context.Background(), user, iauth.SessionMetadata{})
	require.NoError(t, err)
	return user, token
}

func (f *authFixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestAuthMiddlewareRequiresSession(t *testing.T) {
	f := newAuthFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/secure", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = f.do(req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
}

func TestAuthMiddlewareAcceptsBearerAndCookie(t *testing.T) {
	f := newAuthFixture(t)
	user, token := f.user(t, "lead@example.com", models.RoleIDLeadership)

	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, user.ID, payload["user_id"])
	require.NotEmpty(t, payload["session_id"])
	require.Equal(t, models.RoleLeadership, payload["role"])
	require.Equal(t, "lead@example.com", payload["actor"])

	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	w = f.do(req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddlewareRejectsRevokedAndInactive(t *testing.T) {
	f := newAuthFixture(t)
	user, token := f.user(t, "staff@example.com", models.RoleIDStaff)

	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", false).Error)
	req := httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	require.Equal(t, http.StatusUnauthorized, f.do(req).Code)

	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", user.ID).Update("is_active", true).Error)
	require.NoError(t, f.sessions.RevokeUserSessions(context.Background(), user.ID))
	req = httptest.NewRequest(http.MethodGet, "/secure", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := f.do(req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "SESSION_EXPIRED")
}

func TestRequireRole(t *testing.T) {
	f := newAuthFixture(t)
	_, staffToken := f.user(t, "staff@example.com", models.RoleIDStaff)
	_, leadToken := f.user(t, "lead@example.com", models.RoleIDLeadership)
	admin, adminToken := f.user(t, "admin@example.com", models.RoleIDAdmin)

	cases := []struct {
		name   string
		token  string
		path   string
		status int
	}{
		{"staff denied admin", staffToken, "/secure/admin", http.StatusForbidden},
		{"staff denied review", staffToken, "/secure/review", http.StatusForbidden},
		{"leadership review", leadToken, "/secure/review", http.StatusNoContent},
		{"leadership denied admin", leadToken, "/secure/admin", http.StatusForbidden},
		{"admin admin", adminToken, "/secure/admin", http.StatusNoContent},
		{"admin review", adminToken, "/secure/review", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			req.Header.Set("Authorization", "Bearer "+tc.token)
			require.Equal(t, tc.status, f.do(req).Code)
		})
	}

	// role changes apply to existing sessions
	require.NoError(t, f.db.Model(&models.User{}).Where("id = ?", admin.ID).Update("role_id", models.RoleIDStaff).Error)
	req := httptest.NewRequest(http.MethodGet, "/secure/admin", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	require.Equal(t, http.StatusForbidden, f.do(req).Code)
}

func TestRequireRoleWithoutAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/admin", RequireRole(models.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
