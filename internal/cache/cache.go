package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/vanshika/paystream/internal/logging"
)

// ErrDisabled is reported by Ping when no backend is configured.
var ErrDisabled = errors.New("cache disabled")

// Cache is a cache-aside front for a Backend. A nil backend, or one that fails,
// never fails the caller: reads fall through to the compute function and writes
// are skipped.
type Cache struct {
	backend Backend
	logger  *slog.Logger
}

// New wraps backend, which may be nil.
func New(backend Backend, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Cache{backend: backend, logger: logger}
}

// Enabled reports whether a backend is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.backend != nil
}

// Ping checks the backend.
func (c *Cache) Ping(ctx context.Context) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	return c.backend.Ping(ctx)
}

// Increment bumps a counter. ok is false when the cache is disabled or failed.
func (c *Cache) Increment(ctx context.Context, key string, ttl time.Duration) (n int64, ok bool) {
	if !c.Enabled() {
		return 0, false
	}
	n, err := c.backend.Increment(ctx, key, ttl)
	if err != nil {
		c.logger.WarnContext(ctx, "cache increment failed", "key", key, "error", err)
		return 0, false
	}
	return n, true
}

// Delete removes keys, logging and swallowing backend errors.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	if err := c.backend.Delete(ctx, keys...); err != nil {
		c.logger.WarnContext(ctx, "cache delete failed", "keys", keys, "error", err)
	}
}

// Close releases the backend.
func (c *Cache) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.backend.Close()
}

// GetOrCompute returns the cached value for key or, on a miss, computes it,
// stores it for ttl and returns it. Backend failures degrade to calling compute
// directly. Errors from compute are returned unchanged and nothing is stored.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if !c.Enabled() {
		return compute(ctx)
	}

	raw, err := c.backend.Get(ctx, key)
	switch {
	case err == nil:
		var cached T
		if decodeErr := json.Unmarshal(raw, &cached); decodeErr == nil {
			return cached, nil
		}
		c.logger.DebugContext(ctx, "cache entry undecodable, recomputing", "key", key)
	case errors.Is(err, ErrCacheMiss):
	default:
		c.logger.WarnContext(ctx, "cache unavailable, computing directly", "key", key, "error", err)
		return compute(ctx)
	}

	value, err := compute(ctx)
	if err != nil {
		return value, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		c.logger.WarnContext(ctx, "cache encode failed", "key", key, "error", err)
		return value, nil
	}
	if err := c.backend.SetWithTTL(ctx, key, encoded, ttl); err != nil {
		c.logger.WarnContext(ctx, "cache store failed", "key", key, "error", err)
	}
	return value, nil
}
