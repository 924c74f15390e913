package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/candorhq/candor/internal/models"
	"github.com/candorhq/candor/pkg/crypto"
	"github.com/candorhq/candor/pkg/metrics"
)

const (
	// DefaultSessionTTL is the absolute session lifetime.
	DefaultSessionTTL = 12 * time.Hour
	// DefaultIdleTimeout ends sessions that have not been used for this long.
	DefaultIdleTimeout = 30 * time.Minute
	// DefaultTouchInterval throttles LastSeenAt writes.
	DefaultTouchInterval = time.Minute
)

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	TTL           time.Duration
	IdleTimeout   time.Duration
	TouchInterval time.Duration
	TokenBytes    int
	Clock         func() time.Time
	Cache         SessionCache
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

var (
	// ErrSessionNotFound indicates that no session matches the provided token or identifier.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session that has been revoked by the user or administrators.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that a session reached its absolute expiry or idle timeout.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied token is malformed.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

var errSessionCacheMiss = errors.New("session cache miss")

// SessionCache represents a cache backend for session rows keyed by token hash.
type SessionCache interface {
	Get(ctx context.Context, tokenHash string) (*models.Session, error)
	Set(ctx context.Context, session *models.Session, ttl time.Duration) error
	Delete(ctx context.Context, tokenHash string) error
}

// SessionService issues, validates and revokes sessions. The browser holds a
// signed JWT whose sid claim is an opaque secret; only its hash is stored.
type SessionService struct {
	db       *gorm.DB
	jwt      *JWTService
	ttl      time.Duration
	idle     time.Duration
	touch    time.Duration
	tokenLen int
	now      func() time.Time
	cache    SessionCache
}

// NewSessionService constructs a session manager backed by the provided database and JWT service.
func NewSessionService(db *gorm.DB, jwtService *JWTService, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}
	if jwtService == nil {
		return nil, errors.New("session service: jwt service is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	idle := cfg.IdleTimeout
	if idle < 0 {
		idle = 0
	} else if idle == 0 {
		idle = DefaultIdleTimeout
	}
	touch := cfg.TouchInterval
	if touch <= 0 {
		touch = DefaultTouchInterval
	}
	length := cfg.TokenBytes
	if length <= 0 {
		length = 32
	}
	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &SessionService{
		db:       db,
		jwt:      jwtService,
		ttl:      ttl,
		idle:     idle,
		touch:    touch,
		tokenLen: length,
		now:      clock,
		cache:    cfg.Cache,
	}, nil
}

// TTL returns the absolute session lifetime, used for cookie expiry.
func (s *SessionService) TTL() time.Duration {
	return s.ttl
}

// IdleTimeout returns the configured idle timeout.
func (s *SessionService) IdleTimeout() time.Duration {
	return s.idle
}

// CreateSession persists a session for the user and returns the signed token.
func (s *SessionService) CreateSession(ctx context.Context, user *models.User, meta SessionMetadata) (string, *models.Session, error) {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return "", nil, errors.New("session service: user id is required")
	}

	secret, err := crypto.GenerateToken(s.tokenLen)
	if err != nil {
		return "", nil, fmt.Errorf("session service: generate session id: %w", err)
	}

	now := s.now().UTC()
	session := &models.Session{
		UserID:     user.ID,
		TokenHash:  crypto.HashToken(secret),
		IPAddress:  strings.TrimSpace(meta.IPAddress),
		UserAgent:  strings.TrimSpace(meta.UserAgent),
		ExpiresAt:  now.Add(s.ttl),
		LastSeenAt: now,
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return "", nil, fmt.Errorf("session service: create session: %w", err)
	}

	metrics.ActiveSessions.Inc()

	token, err := s.jwt.GenerateAccessToken(AccessTokenInput{
		UserID:    user.ID,
		SessionID: secret,
		Role:      user.RoleName(),
		TTL:       s.ttl,
	})
	if err != nil {
		return "", nil, fmt.Errorf("session service: generate access token: %w", err)
	}

	s.cacheSet(ctx, session)

	return token, session, nil
}

// ValidateToken checks the signed token and the session row it refers to.
// A valid session has its LastSeenAt advanced, at most once per touch interval.
func (s *SessionService) ValidateToken(ctx context.Context, token string) (*Claims, *models.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil, ErrSessionInvalidToken
	}

	claims, err := s.jwt.ValidateAccessToken(token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSessionInvalidToken, err)
	}
	if claims.SessionID == "" {
		return nil, nil, ErrSessionInvalidToken
	}

	hash := crypto.HashToken(claims.SessionID)
	session, err := s.lookup(ctx, hash)
	if err != nil {
		return nil, nil, err
	}
	if session.UserID != claims.UserID {
		return nil, nil, ErrSessionInvalidToken
	}

	now := s.now().UTC()
	switch {
	case session.RevokedAt != nil:
		return nil, nil, ErrSessionRevoked
	case !session.Active(now, s.idle):
		return nil, nil, ErrSessionExpired
	}

	if now.Sub(session.LastSeenAt) >= s.touch {
		if err := s.db.WithContext(ctx).
			Model(&models.Session{}).
			Where("id = ?", session.ID).
			Update("last_seen_at", now).Error; err != nil {
			return nil, nil, fmt.Errorf("session service: touch session: %w", err)
		}
		session.LastSeenAt = now
		s.cacheSet(ctx, session)
	}

	return claims, session, nil
}

// RevokeSession marks a session as revoked.
func (s *SessionService) RevokeSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrSessionInvalidToken
	}

	var hashes []string
	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("id = ?", sessionID).
		Pluck("token_hash", &hashes).Error; err != nil {
		return fmt.Errorf("session service: load session: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND revoked_at IS NULL", sessionID).
		Update("revoked_at", s.now().UTC())
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrSessionNotFound
	}

	s.cacheDelete(ctx, hashes...)
	metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	return nil
}

// RevokeUserSessions revokes every active session belonging to a user.
func (s *SessionService) RevokeUserSessions(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrSessionInvalidToken
	}

	var hashes []string
	if err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Pluck("token_hash", &hashes).Error; err != nil {
		return fmt.Errorf("session service: load sessions: %w", err)
	}

	result := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("user_id = ? AND revoked_at IS NULL", userID).
		Update("revoked_at", s.now().UTC())
	if result.Error != nil {
		return fmt.Errorf("session service: revoke user sessions: %w", result.Error)
	}

	s.cacheDelete(ctx, hashes...)
	if result.RowsAffected > 0 {
		metrics.ActiveSessions.Sub(float64(result.RowsAffected))
	}
	return nil
}

// CleanupExpired deletes sessions that are expired, idle past the timeout or revoked.
func (s *SessionService) CleanupExpired(ctx context.Context) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	now := s.now().UTC()
	stale := s.db.WithContext(ctx).Model(&models.Session{}).
		Where("expires_at < ?", now).
		Or("revoked_at IS NOT NULL")
	if s.idle > 0 {
		stale = stale.Or("last_seen_at < ?", now.Add(-s.idle))
	}

	var rows []models.Session
	if err := stale.Select("id", "token_hash", "revoked_at").Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("session service: find expired sessions: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(rows))
	hashes := make([]string, 0, len(rows))
	var wasActive int64
	for _, row := range rows {
		ids = append(ids, row.ID)
		hashes = append(hashes, row.TokenHash)
		if row.RevokedAt == nil {
			wasActive++
		}
	}

	result := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	s.cacheDelete(ctx, hashes...)
	if wasActive > 0 {
		metrics.ActiveSessions.Sub(float64(wasActive))
	}

	return result.RowsAffected, nil
}

func (s *SessionService) lookup(ctx context.Context, hash string) (*models.Session, error) {
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, hash); err == nil && cached != nil {
			return cached, nil
		}
	}

	var session models.Session
	err := s.db.WithContext(ctx).Where("token_hash = ?", hash).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session service: find session: %w", err)
	}

	s.cacheSet(ctx, &session)
	return &session, nil
}

// Cache failures are non-fatal; the database stays authoritative.
func (s *SessionService) cacheSet(ctx context.Context, session *models.Session) {
	if s.cache == nil || session == nil {
		return
	}
	ttl := s.touch
	if remaining := session.ExpiresAt.Sub(s.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return
	}
	_ = s.cache.Set(ctx, session, ttl)
}

func (s *SessionService) cacheDelete(ctx context.Context, hashes ...string) {
	if s.cache == nil {
		return
	}
	for _, hash := range hashes {
		if strings.TrimSpace(hash) == "" {
			continue
		}
		_ = s.cache.Delete(ctx, hash)
	}
}
