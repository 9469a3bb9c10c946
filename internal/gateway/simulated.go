package gateway

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/domain"
)

// SimulatedConfig tunes the in-process mock backend.
type SimulatedConfig struct {
	ApprovalRate float64
	MinDelay     time.Duration
	MaxDelay     time.Duration
	Seed         int64
	// Forced, when set, overrides the random outcome.
	Forced domain.SettlementOutcome
}

// DefaultSimulatedConfig approves 90% of payments after 50-150ms.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		ApprovalRate: 0.90,
		MinDelay:     50 * time.Millisecond,
		MaxDelay:     150 * time.Millisecond,
		Seed:         time.Now().UnixNano(),
	}
}

// Simulated is a mock backend that approves with a configurable probability.
type Simulated struct {
	cfg SimulatedConfig

	mu      sync.Mutex
	rng     *rand.Rand
	settled int64
}

// NewSimulated returns a mock gateway.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return &Simulated{cfg: cfg, rng: rand.New(rand.NewSource(cfg.Seed))}
}

func (s *Simulated) Name() string { return "mock" }

func (s *Simulated) Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementResult, error) {
	delay, roll := s.draw()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return domain.SettlementResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	outcome := domain.OutcomeDeclined
	if roll < s.cfg.ApprovalRate {
		outcome = domain.OutcomeApproved
	}
	if s.cfg.Forced != "" {
		outcome = s.cfg.Forced
	}

	result := domain.SettlementResult{
		GatewayName:       s.Name(),
		ExternalPaymentID: "mock_" + uuid.NewString(),
		Outcome:           outcome,
		RawResponse: map[string]any{
			"mock":             true,
			"processingTimeMs": delay.Milliseconds(),
			"idempotencyKey":   req.IdempotencyKey,
		},
	}
	if outcome == domain.OutcomeDeclined {
		result.DeclineReason = domain.DeclineMockDeclined
	}
	return result, nil
}

// Refund always succeeds for the mock backend.
func (s *Simulated) Refund(_ context.Context, paymentID string, _ decimal.Decimal) (string, error) {
	return "mock_refund_" + paymentID, nil
}

// Settled reports how many settlements have been attempted.
func (s *Simulated) Settled() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settled
}

func (s *Simulated) draw() (time.Duration, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settled++
	delay := s.cfg.MinDelay
	if spread := s.cfg.MaxDelay - s.cfg.MinDelay; spread > 0 {
		delay += time.Duration(s.rng.Int63n(int64(spread)))
	}
	return delay, s.rng.Float64()
}
