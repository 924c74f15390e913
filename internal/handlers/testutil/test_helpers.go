package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/ai"
	"github.com/candorhq/candor/internal/api"
	"github.com/candorhq/candor/internal/app"
	iauth "github.com/candorhq/candor/internal/auth"
	sharedtestutil "github.com/candorhq/candor/internal/database/testutil"
	"github.com/candorhq/candor/internal/middleware"
	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/internal/monitoring"
	"github.com/candorhq/candor/internal/monitoring/checks"
	"github.com/candorhq/candor/internal/services"
	"github.com/candorhq/candor/pkg/mail"
	"github.com/candorhq/candor/pkg/response"
)

var linkTokenPattern = regexp.MustCompile(`token=([A-Za-z0-9_\-%]+)`)

// Env encapsulates a fully-wired API instance backed by an in-memory database for handler tests.
type Env struct {
	T          *testing.T
	DB         *gorm.DB
	Router     *gin.Engine
	Config     *app.Config
	Services   *app.Services
	Mailer     *mail.Recorder
	csrfToken  string
	csrfCookie *http.Cookie
}

// NewEnv provisions a fresh handler test environment with migrations and seed data applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithSeedData())

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	_, err = app.ApplyRuntimeDefaults(cfg)
	require.NoError(t, err)

	cfg.Server.BaseURL = "http://candor.test"
	cfg.Server.CSRF.Enabled = true
	cfg.Auth.Session.SecureCookie = false
	cfg.Monitoring.Health.Enabled = true

	recorder := &mail.Recorder{}
	svc, err := app.NewServices(db, cfg, app.Dependencies{
		Mailer:   recorder,
		Analyzer: ai.NewStaticAnalyzer(),
	})
	require.NoError(t, err)

	router, err := api.NewRouter(api.Dependencies{
		DB:        db,
		Config:    cfg,
		Services:  svc,
		RateStore: middleware.NewMemoryRateStore(),
		Health:    monitoring.NewHealthManager(checks.Database(db, 0)),
	})
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		Config:   cfg,
		Services: svc,
		Mailer:   recorder,
	}
}

// CreateUser inserts an active user with the given role and optional team.
// An empty email generates a unique address.
func (e *Env) CreateUser(email, roleID string, teamID *string) *models.User {
	e.T.Helper()

	if email == "" {
		email = "user-" + uuid.NewString() + "@example.com"
	}
	role := roleID
	user := &models.User{
		Email:    email,
		Name:     email,
		RoleID:   &role,
		TeamID:   teamID,
		IsActive: true,
	}
	require.NoError(e.T, e.DB.Create(user).Error)
	require.NoError(e.T, e.DB.Preload("Role").Preload("Team").First(user, "id = ?", user.ID).Error)
	return user
}

// CreateTeam inserts a team with the given name.
func (e *Env) CreateTeam(name string) *models.Team {
	e.T.Helper()

	team, err := e.Services.Teams.Create(context.Background(), services.CreateTeamInput{Name: name})
	require.NoError(e.T, err)
	return team
}

// TokenFor opens a session for user without going through the sign-in flow.
func (e *Env) TokenFor(user *models.User) string {
	e.T.Helper()

	token, _, err := e.Services.Sessions.CreateSession(context.Background(), user, iauth.SessionMetadata{
		IPAddress: "192.0.2.10",
		UserAgent: "handler-tests",
	})
	require.NoError(e.T, err)
	return token
}

// SignInResult mirrors the verify response payload.
type SignInResult struct {
	Token   string      `json:"token"`
	User    UserPayload `json:"user"`
	Created bool        `json:"created"`
}

// UserPayload captures the subset of user fields returned from auth endpoints.
type UserPayload struct {
	ID       string  `json:"id"`
	Email    string  `json:"email"`
	IsActive bool    `json:"is_active"`
	RoleID   *string `json:"role_id"`
	TeamID   *string `json:"team_id"`
}

// RequestMagicLink asks for a sign-in link and returns the token from the delivered email.
func (e *Env) RequestMagicLink(email string) string {
	e.T.Helper()

	w := e.Request(http.MethodPost, "/api/auth/magic-link", map[string]string{"email": email}, "")
	require.Equal(e.T, http.StatusAccepted, w.Code, w.Body.String())

	msg, ok := e.Mailer.Last(email)
	require.True(e.T, ok, "no email delivered to %s", email)
	return LinkToken(e.T, msg.Body)
}

// SignIn runs the full magic-link flow and returns the verify response.
func (e *Env) SignIn(email string) SignInResult {
	e.T.Helper()

	token := e.RequestMagicLink(email)
	w := e.Request(http.MethodPost, "/api/auth/verify", map[string]string{"token": token}, "")
	require.Equal(e.T, http.StatusOK, w.Code, w.Body.String())

	resp := DecodeResponse(e.T, w)
	require.True(e.T, resp.Success, w.Body.String())

	var result SignInResult
	DecodeInto(e.T, resp.Data, &result)
	require.NotEmpty(e.T, result.Token)
	return result
}

// LinkToken extracts the token query parameter from an emailed link.
func LinkToken(t *testing.T, body string) string {
	t.Helper()

	match := linkTokenPattern.FindStringSubmatch(body)
	require.Len(t, match, 2, "no link token in %q", body)
	token, err := url.QueryUnescape(match[1])
	require.NoError(t, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.request(method, path, body, token, false)
}

// RequestWithoutCSRF sends a cookie-less request that skips the CSRF handshake.
func (e *Env) RequestWithoutCSRF(method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.request(method, path, body, "", true)
}

func (e *Env) request(method, path string, body any, token string, skipCSRF bool) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if !skipCSRF && token == "" && requiresCSRFAttestation(method) {
		e.ensureCSRFToken()
		if e.csrfCookie != nil {
			req.AddCookie(e.csrfCookie)
		}
		if e.csrfToken != "" {
			req.Header.Set(middleware.CSRFHeaderName, e.csrfToken)
		}
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)

	e.captureCSRF(w.Result())
	return w
}

func (e *Env) ensureCSRFToken() {
	if e.csrfToken != "" && e.csrfCookie != nil {
		return
	}
	resp := e.request(http.MethodGet, "/health", nil, "", true)
	require.Equal(e.T, http.StatusOK, resp.Code, resp.Body.String())
}

func (e *Env) captureCSRF(resp *http.Response) {
	if resp == nil {
		return
	}
	defer resp.Body.Close()

	if token := resp.Header.Get(middleware.CSRFHeaderName); token != "" {
		e.csrfToken = token
	}
	for _, c := range resp.Cookies() {
		if c.Name == middleware.CSRFCookieName {
			// Clone to avoid unintended mutations between tests
			e.csrfCookie = &http.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Path:     c.Path,
				MaxAge:   c.MaxAge,
				Secure:   c.Secure,
				HttpOnly: c.HttpOnly,
				SameSite: c.SameSite,
			}
			break
		}
	}
}

func requiresCSRFAttestation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	default:
		return false
	}
}
