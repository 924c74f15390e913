package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/candorhq/candor/internal/database/testutil"
	"github.com/candorhq/candor/internal/models"
)

func TestDatabaseStoreSetGetDelete(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "session:abc", []byte("payload"), time.Minute))
	value, ok, err := store.Get(ctx, "session:abc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("payload"), value)

	require.NoError(t, store.Set(ctx, "session:abc", []byte("replaced"), time.Minute))
	value, _, err = store.Get(ctx, "session:abc")
	require.NoError(t, err)
	require.Equal(t, []byte("replaced"), value)

	require.NoError(t, store.Delete(ctx, "session:abc"))
	_, ok, err = store.Get(ctx, "session:abc")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStoreExpiredEntriesAreMisses(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	require.NoError(t, db.Create(&models.CacheEntry{
		Key:       "stale",
		Value:     []byte("x"),
		ExpiresAt: time.Now().UTC().Add(-time.Minute),
	}).Error)

	_, ok, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDatabaseStoreIncrementWithTTL(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	count, ttl, err := store.IncrementWithTTL(ctx, "rl:ip", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 1)

	count, ttl, err = store.IncrementWithTTL(ctx, "rl:ip", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.LessOrEqual(t, ttl, time.Minute)

	// An expired window restarts the count.
	require.NoError(t, db.Model(&models.CacheEntry{}).
		Where("cache_key = ?", "rl:ip").
		Update("expires_at", time.Now().UTC().Add(-time.Second)).Error)

	count, _, err = store.IncrementWithTTL(ctx, "rl:ip", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
}

func TestDatabaseStoreCounterWindowFollowsClock(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	current := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return current }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		count, _, err := store.IncrementWithTTL(ctx, "magic:a@example.com", 15*time.Minute)
		require.NoError(t, err)
		require.EqualValues(t, i, count)
	}

	current = current.Add(10 * time.Minute)
	count, ttl, err := store.IncrementWithTTL(ctx, "magic:a@example.com", 15*time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 4, count)
	require.Equal(t, 5*time.Minute, ttl)

	current = current.Add(5 * time.Minute)
	count, ttl, err = store.IncrementWithTTL(ctx, "magic:a@example.com", 15*time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)
	require.Equal(t, 15*time.Minute, ttl)
}

func TestDatabaseStorePurgeExpired(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := NewDatabaseStore(db)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "keep", []byte("1"), time.Hour))
	require.NoError(t, store.Set(ctx, "forever", []byte("1"), 0))
	require.NoError(t, db.Create(&models.CacheEntry{
		Key:       "old",
		Value:     []byte("1"),
		ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}).Error)

	removed, err := store.PurgeExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	var count int64
	require.NoError(t, db.Model(&models.CacheEntry{}).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestNilDatabaseStore(t *testing.T) {
	require.Nil(t, NewDatabaseStore(nil))

	var store *DatabaseStore
	_, _, err := store.Get(context.Background(), "x")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestNewRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{Address: "  "})
	require.Error(t, err)
}
