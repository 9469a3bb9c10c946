package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/config"
	"github.com/vanshika/paystream/internal/domain"
)

// DefaultTimeout bounds a single settlement call.
const DefaultTimeout = 10 * time.Second

var (
	// ErrNotConfigured is returned by New when the selected provider lacks credentials.
	ErrNotConfigured = errors.New("gateway not configured")
	// ErrRefundNotSupported is returned by Refund on backends that cannot refund.
	ErrRefundNotSupported = errors.New("refund not supported")
	// ErrTimeout wraps settlement calls that exceeded their deadline.
	ErrTimeout = errors.New("gateway timeout")
)

// Gateway settles a payment with one backend. A returned error means the outcome
// is unknown (network failure, timeout, malformed response); business declines
// are reported through the result.
type Gateway interface {
	Name() string
	Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementResult, error)
}

// Refunder is implemented by gateways that can reverse a settled payment.
type Refunder interface {
	Refund(ctx context.Context, paymentID string, amount decimal.Decimal) (refundID string, err error)
}

// New builds the gateway selected by cfg.Provider, wrapped with rate limiting
// (when configured) and a timeout.
func New(cfg config.GatewayConfig, logger *slog.Logger) (Gateway, error) {
	var gw Gateway
	switch strings.ToLower(cfg.Provider) {
	case "", "mock":
		simCfg := DefaultSimulatedConfig()
		simCfg.ApprovalRate = cfg.ApprovalRate
		gw = NewSimulated(simCfg)
	case "stripe":
		if cfg.StripeKey == "" {
			return nil, fmt.Errorf("stripe: %w: STRIPE_SECRET_KEY is not set", ErrNotConfigured)
		}
		gw = NewStripe(StripeConfig{SecretKey: cfg.StripeKey, PaymentMethod: cfg.StripeMethod})
	case "square":
		if cfg.SquareToken == "" || cfg.SquareLocation == "" {
			return nil, fmt.Errorf("square: %w: SQUARE_ACCESS_TOKEN and SQUARE_LOCATION_ID are required", ErrNotConfigured)
		}
		gw = NewSquare(SquareConfig{
			AccessToken: cfg.SquareToken,
			LocationID:  cfg.SquareLocation,
			BaseURL:     cfg.SquareBaseURL,
		})
	case "paypal":
		if cfg.PayPalClientID == "" || cfg.PayPalSecret == "" {
			return nil, fmt.Errorf("paypal: %w: PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET are required", ErrNotConfigured)
		}
		gw = NewPayPal(PayPalConfig{
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalSecret,
			BaseURL:      cfg.PayPalBaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown payment gateway %q", cfg.Provider)
	}

	if cfg.RatePerSecond > 0 {
		gw = WithRateLimit(gw, cfg.RatePerSecond)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	gw = WithTimeout(gw, timeout)

	if logger != nil {
		logger.Info("payment gateway configured", "gateway", gw.Name(), "timeout", timeout, "ratePerSecond", cfg.RatePerSecond)
	}
	return gw, nil
}
