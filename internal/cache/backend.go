package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Backend.Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Backend is a key-value store with expiry. Values are opaque bytes; counters
// created by Increment are stored as base-10 integers so Get can read them back.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Increment adds one to key and returns the new value. The TTL is applied
	// only when the increment created the key.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error
}
