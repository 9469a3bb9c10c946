package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/vanshika/paystream/internal/domain"
)

type timeoutGateway struct {
	next    Gateway
	timeout time.Duration
}

// WithTimeout bounds every Settle call. A backend that ignores cancellation is
// abandoned once the deadline passes and ErrTimeout is returned.
func WithTimeout(next Gateway, timeout time.Duration) Gateway {
	return &timeoutGateway{next: next, timeout: timeout}
}

func (g *timeoutGateway) Name() string { return g.next.Name() }

func (g *timeoutGateway) Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type outcome struct {
		res domain.SettlementResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := g.next.Settle(ctx, req)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return domain.SettlementResult{}, fmt.Errorf("%s: %w after %s", g.Name(), ErrTimeout, g.timeout)
		}
		return out.res, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.SettlementResult{}, fmt.Errorf("%s: %w after %s", g.Name(), ErrTimeout, g.timeout)
		}
		return domain.SettlementResult{}, ctx.Err()
	}
}

func (g *timeoutGateway) Refund(ctx context.Context, paymentID string, amount decimal.Decimal) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	return refund(ctx, g.next, paymentID, amount)
}

func (g *timeoutGateway) Unwrap() Gateway { return g.next }

type rateLimitedGateway struct {
	next    Gateway
	limiter *rate.Limiter
}

// WithRateLimit caps outbound settlement calls at perSecond with a matching burst.
func WithRateLimit(next Gateway, perSecond float64) Gateway {
	burst := int(perSecond)
	if burst < 1 {
		burst = 1
	}
	return &rateLimitedGateway{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (g *rateLimitedGateway) Name() string { return g.next.Name() }

func (g *rateLimitedGateway) Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("%s: rate limit: %w", g.Name(), err)
	}
	return g.next.Settle(ctx, req)
}

func (g *rateLimitedGateway) Refund(ctx context.Context, paymentID string, amount decimal.Decimal) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s: rate limit: %w", g.Name(), err)
	}
	return refund(ctx, g.next, paymentID, amount)
}

func (g *rateLimitedGateway) Unwrap() Gateway { return g.next }

func refund(ctx context.Context, gw Gateway, paymentID string, amount decimal.Decimal) (string, error) {
	r, ok := gw.(Refunder)
	if !ok {
		return "", fmt.Errorf("%s: %w", gw.Name(), ErrRefundNotSupported)
	}
	return r.Refund(ctx, paymentID, amount)
}
