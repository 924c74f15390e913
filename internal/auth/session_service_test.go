package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/cache"
	"github.com/candorhq/candor/internal/database/testutil"
	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/pkg/crypto"
)

func TestCreateSessionIssuesToken(t *testing.T) {
	db, svc, clock := setupSessionService(t, nil)
	user := createTestUser(t, db, "create@example.com", models.RoleIDLeadership)

	token, session, err := svc.CreateSession(context.Background(), user, SessionMetadata{
		IPAddress: "10.0.0.1 ",
		UserAgent: "unit-test",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, user.ID, session.UserID)
	require.Equal(t, "10.0.0.1", session.IPAddress)

	claims, err := svc.jwt.ValidateAccessToken(token)
	require.NoError(t, err)
	require.Equal(t, user.ID, claims.UserID)
	require.Equal(t, models.RoleLeadership, claims.Role)
	require.Equal(t, crypto.HashToken(claims.SessionID), session.TokenHash, "only the hash of the session id is stored")

	var reloaded models.Session
	require.NoError(t, db.Take(&reloaded, "id = ?", session.ID).Error)
	require.True(t, reloaded.ExpiresAt.After(clock.Now()))
	require.True(t, reloaded.LastSeenAt.Equal(clock.Now()))
}

func TestValidateTokenSlidesLastSeen(t *testing.T) {
	db, svc, clock := setupSessionService(t, nil)
	user := createTestUser(t, db, "slide@example.com", models.RoleIDStaff)
	ctx := context.Background()

	token, session, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	_, validated, err := svc.ValidateToken(ctx, token)
	require.NoError(t, err)
	require.Equal(t, session.ID, validated.ID)

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	require.True(t, stored.LastSeenAt.Equal(clock.Now()))

	// Another 20 minutes is within the idle timeout measured from the last touch.
	clock.Advance(20 * time.Minute)
	_, _, err = svc.ValidateToken(ctx, token)
	require.NoError(t, err)
}

func TestValidateTokenThrottlesTouches(t *testing.T) {
	db, svc, clock := setupSessionService(t, nil)
	user := createTestUser(t, db, "throttle@example.com", models.RoleIDStaff)
	ctx := context.Background()

	token, session, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)
	created := clock.Now()

	clock.Advance(10 * time.Second)
	_, _, err = svc.ValidateToken(ctx, token)
	require.NoError(t, err)

	var stored models.Session
	require.NoError(t, db.Take(&stored, "id = ?", session.ID).Error)
	require.True(t, stored.LastSeenAt.Equal(created))
}

func TestValidateTokenIdleTimeout(t *testing.T) {
	db, svc, clock := setupSessionService(t, nil)
	user := createTestUser(t, db, "idle@example.com", models.RoleIDStaff)
	ctx := context.Background()

	token, _, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	_, _, err = svc.ValidateToken(ctx, token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	_, svc, _ := setupSessionService(t, nil)

	_, _, err := svc.ValidateToken(context.Background(), "")
	require.ErrorIs(t, err, ErrSessionInvalidToken)

	_, _, err = svc.ValidateToken(context.Background(), "not-a-jwt")
	require.ErrorIs(t, err, ErrSessionInvalidToken)

	forged, err := svc.jwt.GenerateAccessToken(AccessTokenInput{UserID: "u", SessionID: "unknown"})
	require.NoError(t, err)
	_, _, err = svc.ValidateToken(context.Background(), forged)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevokeSessionPreventsValidation(t *testing.T) {
	for _, withCache := range []bool{false, true} {
		t.Run(map[bool]string{false: "database", true: "cached"}[withCache], func(t *testing.T) {
			db, svc, _ := setupSessionService(t, func(db *gorm.DB) SessionCache {
				if !withCache {
					return nil
				}
				return NewSessionCache(cache.NewDatabaseStore(db))
			})
			user := createTestUser(t, db, "revoke@example.com", models.RoleIDStaff)
			ctx := context.Background()

			token, session, err := svc.CreateSession(ctx, user, SessionMetadata{})
			require.NoError(t, err)

			_, _, err = svc.ValidateToken(ctx, token)
			require.NoError(t, err)

			require.NoError(t, svc.RevokeSession(ctx, session.ID))
			require.ErrorIs(t, svc.RevokeSession(ctx, session.ID), ErrSessionNotFound)

			_, _, err = svc.ValidateToken(ctx, token)
			require.ErrorIs(t, err, ErrSessionRevoked)
		})
	}
}

func TestRevokeUserSessions(t *testing.T) {
	db, svc, _ := setupSessionService(t, nil)
	user := createTestUser(t, db, "all@example.com", models.RoleIDStaff)
	ctx := context.Background()

	first, _, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)
	second, _, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeUserSessions(ctx, user.ID))

	for _, token := range []string{first, second} {
		_, _, err := svc.ValidateToken(ctx, token)
		require.ErrorIs(t, err, ErrSessionRevoked)
	}
}

func TestCleanupExpiredSessions(t *testing.T) {
	db, svc, clock := setupSessionService(t, nil)
	user := createTestUser(t, db, "cleanup@example.com", models.RoleIDStaff)
	ctx := context.Background()

	_, stale, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)
	_, revoked, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)
	require.NoError(t, svc.RevokeSession(ctx, revoked.ID))

	clock.Advance(45 * time.Minute)
	_, fresh, err := svc.CreateSession(ctx, user, SessionMetadata{})
	require.NoError(t, err)

	removed, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, removed)

	var ids []string
	require.NoError(t, db.Model(&models.Session{}).Pluck("id", &ids).Error)
	require.Equal(t, []string{fresh.ID}, ids)
	require.NotContains(t, ids, stale.ID)
}

func setupSessionService(t *testing.T, cacheFn func(*gorm.DB) SessionCache) (*gorm.DB, *SessionService, *testClock) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithSeedData())

	clock := &testClock{current: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}

	jwtService, err := NewJWTService(JWTConfig{
		Secret: "session-secret",
		Issuer: "candor",
		Clock:  clock.Now,
	})
	require.NoError(t, err)

	cfg := SessionConfig{
		TTL:         2 * time.Hour,
		IdleTimeout: 30 * time.Minute,
		TokenBytes:  24,
		Clock:       clock.Now,
	}
	if cacheFn != nil {
		cfg.Cache = cacheFn(db)
	}

	sessionService, err := NewSessionService(db, jwtService, cfg)
	require.NoError(t, err)

	return db, sessionService, clock
}

func createTestUser(t *testing.T, db *gorm.DB, email, roleID string) *models.User {
	t.Helper()

	user := &models.User{
		Email:    email,
		Name:     "Test User",
		RoleID:   &roleID,
		IsActive: true,
	}
	require.NoError(t, db.Create(user).Error)
	require.NoError(t, db.Preload("Role").Take(user, "id = ?", user.ID).Error)
	return user
}

type testClock struct {
	current time.Time
}

func (c *testClock) Now() time.Time {
	return c.current
}

func (c *testClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
