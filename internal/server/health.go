package server

import (
	"context"
	"errors"

	"github.com/vanshika/paystream/internal/cache"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
}

// Pinger is anything with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreHealthService verifies store connectivity as part of health checks.
type StoreHealthService struct {
	Store Pinger
}

// Probe implements the HealthService interface.
func (s StoreHealthService) Probe(ctx context.Context) error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Ping(ctx)
}

// CacheHealthService reports cache reachability. A disabled cache is healthy
// because requests degrade to the store.
type CacheHealthService struct {
	Cache *cache.Cache
}

// Probe implements the HealthService interface.
func (s CacheHealthService) Probe(ctx context.Context) error {
	if err := s.Cache.Ping(ctx); err != nil && !errors.Is(err, cache.ErrDisabled) {
		return err
	}
	return nil
}

// Status returns "ok", "disabled" or the probe error text.
func (s CacheHealthService) Status(ctx context.Context) string {
	err := s.Cache.Ping(ctx)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, cache.ErrDisabled):
		return "disabled"
	default:
		return err.Error()
	}
}
