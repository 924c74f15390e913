package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/candorhq/candor/internal/models"
)

// DatabaseStore keeps entries in the cache_entries table. Expired rows read as
// misses and are removed by PurgeExpired.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabaseStore returns nil for a nil handle so callers can treat the
// store as optional.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db, now: time.Now}
}

func (s *DatabaseStore) ready(ctx context.Context) (*gorm.DB, time.Time, error) {
	if s == nil || s.db == nil {
		return nil, time.Time{}, ErrUnavailable
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return s.db.WithContext(ctx), s.now().UTC(), nil
}

// IncrementWithTTL bumps a fixed-window counter. The window starts with the
// first increment and a lapsed window restarts the count at one.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	db, now, err := s.ready(ctx)
	if err != nil {
		return 0, 0, err
	}
	if window <= 0 {
		window = defaultCounterWindow
	}

	var entry models.CacheEntry
	err = db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&entry, "cache_key = ?", key).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			entry = models.CacheEntry{Key: key, Value: counterValue(1), ExpiresAt: now.Add(window)}
			return tx.Create(&entry).Error
		case err != nil:
			return err
		}

		count := int64(1)
		if !entry.Expired(now) && !entry.ExpiresAt.IsZero() {
			current, _ := strconv.ParseInt(string(entry.Value), 10, 64)
			count = current + 1
		} else {
			entry.ExpiresAt = now.Add(window)
		}
		entry.Value = counterValue(count)
		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, 0, err
	}

	count, _ := strconv.ParseInt(string(entry.Value), 10, 64)
	return count, entry.ExpiresAt.Sub(now), nil
}

func counterValue(n int64) []byte {
	return []byte(strconv.FormatInt(n, 10))
}

// Set upserts the entry.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	db, now, err := s.ready(ctx)
	if err != nil {
		return err
	}

	entry := models.CacheEntry{Key: key, Value: value}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&entry).Error
}

// Get returns the live value for key.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	db, now, err := s.ready(ctx)
	if err != nil {
		return nil, false, err
	}

	var entry models.CacheEntry
	if err := db.Take(&entry, "cache_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if entry.Expired(now) {
		return nil, false, nil
	}
	return entry.Value, true, nil
}

// Delete removes keys; unknown keys are ignored.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	db, _, err := s.ready(ctx)
	if err != nil || len(keys) == 0 {
		return err
	}
	return db.Where("cache_key IN ?", keys).Delete(&models.CacheEntry{}).Error
}

// PurgeExpired deletes entries that expired at or before now. Entries stored
// without a TTL are kept.
func (s *DatabaseStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	db, _, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}
	res := db.Where("expires_at > ? AND expires_at <= ?", time.Time{}, now).Delete(&models.CacheEntry{})
	return res.RowsAffected, res.Error
}
