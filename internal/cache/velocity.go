package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/vanshika/paystream/internal/domain"
)

// VelocityReseedTTL bounds how long a counter reconstructed from the store is trusted.
const VelocityReseedTTL = 60 * time.Second

// Counter is the store aggregate velocity falls back to.
type Counter interface {
	CountTransactions(ctx context.Context, filter domain.TransactionFilter) (int64, error)
}

// Velocity tracks per-user request counts in a trailing window.
type Velocity struct {
	cache *Cache
	store Counter
	nowFn func() time.Time
}

// NewVelocity builds a Velocity tracker. cache may wrap a nil backend.
func NewVelocity(cache *Cache, store Counter) *Velocity {
	return &Velocity{cache: cache, store: store, nowFn: time.Now}
}

// WithClock overrides the time provider.
func (v *Velocity) WithClock(nowFn func() time.Time) *Velocity {
	if nowFn != nil {
		v.nowFn = nowFn
	}
	return v
}

// VelocityKey names the counter for userID and window.
func VelocityKey(userID string, window time.Duration) string {
	return fmt.Sprintf("velocity:%s:%d", userID, int(window.Minutes()))
}

// Observe returns the user's request count in the window including the current
// request, then records the current request in the counter. Counts are
// eventually consistent: concurrent observers may see the same value.
func (v *Velocity) Observe(ctx context.Context, userID string, window time.Duration) (domain.VelocityCounter, error) {
	key := VelocityKey(userID, window)
	now := v.nowFn()

	count, err := GetOrCompute(ctx, v.cache, key, VelocityReseedTTL, func(ctx context.Context) (int64, error) {
		return v.store.CountTransactions(ctx, domain.TransactionFilter{UserID: userID, Since: now.Add(-window)})
	})
	if err != nil {
		return domain.VelocityCounter{}, fmt.Errorf("velocity count %s: %w", userID, err)
	}

	v.cache.Increment(ctx, key, window)

	return domain.VelocityCounter{
		UserID:        userID,
		WindowMinutes: int(window.Minutes()),
		Count:         count + 1,
		ExpiresAt:     now.Add(VelocityReseedTTL),
	}, nil
}
