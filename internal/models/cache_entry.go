package models

import "time"

// CacheEntry backs cache.DatabaseStore when no Redis is configured.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;column:cache_key;size:256"`
	Value     []byte
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Expired reports whether the entry has passed its expiry. Entries without
// an expiry never expire.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !e.ExpiresAt.After(now)
}
