package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/vanshika/paystream/internal/domain"
)

const (
	summaryKey = "stats:transactions"
	volumeKey  = "stats:volume:per:minute"

	summaryTTL  = 30 * time.Second
	volumeTTL   = 60 * time.Second
	merchantTTL = 30 * time.Second

	volumeWindow = time.Hour
)

// StatsSource is the store side of the dashboard aggregates.
type StatsSource interface {
	Summary(ctx context.Context, now time.Time) (domain.Summary, error)
	VolumePerMinute(ctx context.Context, since time.Time) ([]domain.VolumeBucket, error)
	MerchantStats(ctx context.Context, merchant string, since time.Time) (domain.MerchantStats, error)
}

// Stats caches aggregates that are expensive to compute on every request.
type Stats struct {
	cache  *Cache
	source StatsSource
	nowFn  func() time.Time
}

// NewStats builds a Stats cache over source.
func NewStats(cache *Cache, source StatsSource) *Stats {
	return &Stats{cache: cache, source: source, nowFn: time.Now}
}

// WithClock overrides the time provider.
func (s *Stats) WithClock(nowFn func() time.Time) *Stats {
	if nowFn != nil {
		s.nowFn = nowFn
	}
	return s
}

// Summary returns the dashboard totals, cached for 30 seconds.
func (s *Stats) Summary(ctx context.Context) (domain.Summary, error) {
	return GetOrCompute(ctx, s.cache, summaryKey, summaryTTL, func(ctx context.Context) (domain.Summary, error) {
		return s.source.Summary(ctx, s.nowFn())
	})
}

// VolumePerMinute returns per-minute buckets for the last hour, newest first.
func (s *Stats) VolumePerMinute(ctx context.Context) ([]domain.VolumeBucket, error) {
	return GetOrCompute(ctx, s.cache, volumeKey, volumeTTL, func(ctx context.Context) ([]domain.VolumeBucket, error) {
		return s.source.VolumePerMinute(ctx, s.nowFn().Add(-volumeWindow))
	})
}

// MerchantStats returns the merchant's outcome counts over the trailing window.
func (s *Stats) MerchantStats(ctx context.Context, merchant string, window time.Duration) (domain.MerchantStats, error) {
	return GetOrCompute(ctx, s.cache, merchantKey(merchant, window), merchantTTL, func(ctx context.Context) (domain.MerchantStats, error) {
		return s.source.MerchantStats(ctx, merchant, s.nowFn().Add(-window))
	})
}

// Invalidate drops the dashboard aggregates after a new transaction is recorded.
// Merchant entries expire on their own.
func (s *Stats) Invalidate(ctx context.Context) {
	s.cache.Delete(ctx, summaryKey, volumeKey)
}

func merchantKey(merchant string, window time.Duration) string {
	return fmt.Sprintf("stats:merchant:%s:%d", merchant, int(window.Minutes()))
}
