package domain

import "github.com/shopspring/decimal"

// SettlementOutcome is the uniform result reported by any payment backend.
type SettlementOutcome string

const (
	OutcomeApproved SettlementOutcome = "APPROVED"
	OutcomeDeclined SettlementOutcome = "DECLINED"
	OutcomePending  SettlementOutcome = "PENDING"
)

// SettlementRequest is what the processor hands to a gateway.
// IdempotencyKey is the originating request id.
type SettlementRequest struct {
	IdempotencyKey string
	UserID         string
	Amount         decimal.Decimal
	Currency       string
	Merchant       string
}

// SettlementResult is the gateway-neutral response shape.
type SettlementResult struct {
	GatewayName       string            `json:"gatewayName"`
	ExternalPaymentID string            `json:"externalPaymentId"`
	Outcome           SettlementOutcome `json:"outcome"`
	DeclineReason     DeclineReason     `json:"declineReason,omitempty"`
	RawResponse       map[string]any    `json:"rawResponse,omitempty"`
}
