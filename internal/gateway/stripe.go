package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/vanshika/paystream/internal/domain"
)

// StripeConfig configures the Stripe backend.
type StripeConfig struct {
	SecretKey string
	// PaymentMethod is attached to every intent, e.g. pm_card_visa in test mode.
	PaymentMethod string
	// BackendURL overrides the API endpoint.
	BackendURL string
}

// Stripe settles payments by creating and confirming PaymentIntents.
type Stripe struct {
	api    *client.API
	method string
}

// NewStripe builds a Stripe gateway.
func NewStripe(cfg StripeConfig) *Stripe {
	var backends *stripe.Backends
	if cfg.BackendURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.BackendURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	method := cfg.PaymentMethod
	if method == "" {
		method = "pm_card_visa"
	}
	return &Stripe{api: api, method: method}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(domain.ToCents(req.Amount)),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Confirm:       stripe.Bool(true),
		PaymentMethod: stripe.String(s.method),
		Description:   stripe.String("Payment to " + req.Merchant),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled:        stripe.Bool(true),
			AllowRedirects: stripe.String("never"),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	params.AddMetadata("requestId", req.IdempotencyKey)
	params.AddMetadata("userId", req.UserID)
	params.AddMetadata("merchant", req.Merchant)

	intent, err := s.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			return domain.SettlementResult{
				GatewayName:   s.Name(),
				Outcome:       domain.OutcomeDeclined,
				DeclineReason: domain.DeclineCardDeclined,
				RawResponse: map[string]any{
					"code":        string(stripeErr.Code),
					"declineCode": string(stripeErr.DeclineCode),
					"message":     stripeErr.Msg,
				},
			}, nil
		}
		return domain.SettlementResult{}, fmt.Errorf("stripe create payment intent: %w", err)
	}

	return domain.SettlementResult{
		GatewayName:       s.Name(),
		ExternalPaymentID: intent.ID,
		Outcome:           stripeOutcome(intent.Status),
		DeclineReason:     stripeDeclineReason(intent.Status),
		RawResponse:       map[string]any{"status": string(intent.Status)},
	}, nil
}

// Refund returns the payment to the customer.
func (s *Stripe) Refund(ctx context.Context, paymentID string, amount decimal.Decimal) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentID),
		Amount:        stripe.Int64(domain.ToCents(amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey("refund-" + paymentID)

	refund, err := s.api.Refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe refund %s: %w", paymentID, err)
	}
	return refund.ID, nil
}

func stripeOutcome(status stripe.PaymentIntentStatus) domain.SettlementOutcome {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return domain.OutcomeApproved
	case stripe.PaymentIntentStatusCanceled, stripe.PaymentIntentStatusRequiresPaymentMethod:
		return domain.OutcomeDeclined
	default:
		return domain.OutcomePending
	}
}

func stripeDeclineReason(status stripe.PaymentIntentStatus) domain.DeclineReason {
	if stripeOutcome(status) == domain.OutcomeDeclined {
		return domain.DeclineGatewayDeclined
	}
	return ""
}
