package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/candorhq/candor/internal/cache"
	"github.com/candorhq/candor/internal/models"
)

const (
	sessionKeyPrefix   = "session:"
	minSessionEntryTTL = time.Second
)

// sessionSnapshot is the cached subset of a session row. Client metadata stays
// in the database so the cache never holds IP addresses.
type sessionSnapshot struct {
	ID         string     `json:"id"`
	UserID     string     `json:"uid"`
	TokenHash  string     `json:"th"`
	CreatedAt  time.Time  `json:"ca"`
	ExpiresAt  time.Time  `json:"ea"`
	LastSeenAt time.Time  `json:"ls"`
	RevokedAt  *time.Time `json:"ra,omitempty"`
}

func snapshotOf(s *models.Session) sessionSnapshot {
	return sessionSnapshot{
		ID:         s.ID,
		UserID:     s.UserID,
		TokenHash:  s.TokenHash,
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		LastSeenAt: s.LastSeenAt,
		RevokedAt:  s.RevokedAt,
	}
}

func (s sessionSnapshot) session() *models.Session {
	session := &models.Session{
		UserID:     s.UserID,
		TokenHash:  s.TokenHash,
		ExpiresAt:  s.ExpiresAt,
		LastSeenAt: s.LastSeenAt,
		RevokedAt:  s.RevokedAt,
	}
	session.ID = s.ID
	session.CreatedAt = s.CreatedAt
	return session
}

// storeSessionCache keeps session snapshots in a cache.Store keyed by token
// hash.
type storeSessionCache struct {
	store cache.Store
}

// NewSessionCache adapts a cache.Store to SessionCache. A nil store disables
// caching and yields a nil SessionCache.
func NewSessionCache(store cache.Store) SessionCache {
	if store == nil {
		return nil
	}
	return &storeSessionCache{store: store}
}

func sessionKey(tokenHash string) (string, bool) {
	tokenHash = strings.TrimSpace(tokenHash)
	return sessionKeyPrefix + tokenHash, tokenHash != ""
}

func (c *storeSessionCache) Get(ctx context.Context, tokenHash string) (*models.Session, error) {
	key, ok := sessionKey(tokenHash)
	if !ok {
		return nil, errSessionCacheMiss
	}

	data, found, err := c.store.Get(ctx, key)
	switch {
	case err != nil:
		return nil, err
	case !found:
		return nil, errSessionCacheMiss
	}

	var snap sessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("session cache: decode: %w", err)
	}
	return snap.session(), nil
}

func (c *storeSessionCache) Set(ctx context.Context, session *models.Session, ttl time.Duration) error {
	if session == nil {
		return errors.New("session cache: session is nil")
	}
	key, ok := sessionKey(session.TokenHash)
	if !ok {
		return errors.New("session cache: token hash missing")
	}

	payload, err := json.Marshal(snapshotOf(session))
	if err != nil {
		return fmt.Errorf("session cache: encode: %w", err)
	}
	return c.store.Set(ctx, key, payload, max(ttl, minSessionEntryTTL))
}

func (c *storeSessionCache) Delete(ctx context.Context, tokenHash string) error {
	key, ok := sessionKey(tokenHash)
	if !ok {
		return nil
	}
	return c.store.Delete(ctx, key)
}
