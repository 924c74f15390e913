// Package cache holds the short-lived shared state behind sessions, sign-in
// throttles and magic-link limits. Redis serves multi-node deployments; the
// database store covers a single node.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable is returned by a store that was never initialised.
var ErrUnavailable = errors.New("cache: store not initialised")

// Store is the key/value contract shared by both backends. A non-positive
// TTL on Set keeps the entry until it is deleted.
type Store interface {
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}

const defaultCounterWindow = time.Minute

var (
	_ Store = (*DatabaseStore)(nil)
	_ Store = (*RedisStore)(nil)
)
