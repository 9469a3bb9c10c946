package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the terminal state of a processed transaction.
type Status string

const (
	StatusApproved Status = "APPROVED"
	StatusDeclined Status = "DECLINED"
	StatusError    Status = "ERROR"
)

// DeclineReason explains why a transaction did not reach APPROVED.
type DeclineReason string

const (
	DeclineFraudDetected     DeclineReason = "FRAUD_DETECTED"
	DeclineInsufficientFunds DeclineReason = "INSUFFICIENT_FUNDS"
	DeclineGatewayDeclined   DeclineReason = "GATEWAY_DECLINED"
	DeclineGatewayError      DeclineReason = "GATEWAY_ERROR"
	DeclineMockDeclined      DeclineReason = "MOCK_DECLINED"
	DeclineCardDeclined      DeclineReason = "CARD_DECLINED"
	DeclinePaymentPending    DeclineReason = "PAYMENT_PENDING"
	DeclineProcessingError   DeclineReason = "PROCESSING_ERROR"
)

// DefaultCurrency is applied to requests that do not carry one.
const DefaultCurrency = "USD"

// TransactionRequest is an immutable payment request emitted by a producer.
type TransactionRequest struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Merchant    string          `json:"merchant"`
	Currency    string          `json:"currency"`
	RequestedAt time.Time       `json:"requestedAt"`
}

// Validate checks the request shape. A zero ceiling disables the upper bound.
func (r TransactionRequest) Validate(ceiling decimal.Decimal) error {
	switch {
	case strings.TrimSpace(r.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidRequest)
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("%w: userId is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Merchant) == "":
		return fmt.Errorf("%w: merchant is required", ErrInvalidRequest)
	case !r.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	case ceiling.IsPositive() && r.Amount.GreaterThan(ceiling):
		return fmt.Errorf("%w: amount %s exceeds ceiling %s", ErrInvalidRequest, r.Amount.StringFixed(2), ceiling.StringFixed(2))
	}
	return nil
}

// CurrencyOrDefault returns the request currency, falling back to DefaultCurrency.
func (r TransactionRequest) CurrencyOrDefault() string {
	if c := strings.TrimSpace(r.Currency); c != "" {
		return strings.ToUpper(c)
	}
	return DefaultCurrency
}

// Transaction is the persisted, append-only outcome of processing a request.
type Transaction struct {
	ID                  string          `json:"id"`
	RequestID           string          `json:"requestId"`
	UserID              string          `json:"userId"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Merchant            string          `json:"merchant"`
	Status              Status          `json:"status"`
	DeclineReason       DeclineReason   `json:"declineReason,omitempty"`
	RiskScore           float64         `json:"riskScore"`
	Flags               []string        `json:"flags"`
	Gateway             string          `json:"gateway,omitempty"`
	ExternalPaymentID   string          `json:"externalPaymentId,omitempty"`
	ProcessingLatencyMs int64           `json:"processingLatencyMs"`
	CreatedAt           time.Time       `json:"createdAt"`
	Metadata            map[string]any  `json:"metadata,omitempty"`
}

// TransactionFilter narrows transaction aggregates. Zero values are ignored.
type TransactionFilter struct {
	UserID   string
	Merchant string
	Status   Status
	Since    time.Time
}

// Matches reports whether tx satisfies the filter.
func (f TransactionFilter) Matches(tx Transaction) bool {
	if f.UserID != "" && tx.UserID != f.UserID {
		return false
	}
	if f.Merchant != "" && tx.Merchant != f.Merchant {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if !f.Since.IsZero() && tx.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
