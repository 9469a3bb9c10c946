package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/domain"
)

const (
	squareDefaultBaseURL = "https://connect.squareup.com"
	squareAPIVersion     = "2023-10-18"
)

// SquareConfig configures the Square backend.
type SquareConfig struct {
	AccessToken string
	LocationID  string
	BaseURL     string
	HTTPClient  *http.Client
}

// Square settles payments through the Square Payments REST API.
type Square struct {
	cfg    SquareConfig
	client *http.Client
}

// NewSquare builds a Square gateway.
func NewSquare(cfg SquareConfig) *Square {
	if cfg.BaseURL == "" {
		cfg.BaseURL = squareDefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Square{cfg: cfg, client: httpClient}
}

func (s *Square) Name() string { return "square" }

type squareMoney struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type squarePaymentRequest struct {
	SourceID       string             `json:"source_id"`
	IdempotencyKey string             `json:"idempotency_key"`
	AmountMoney    squareMoney        `json:"amount_money"`
	LocationID     string             `json:"location_id"`
	ReferenceID    string             `json:"reference_id,omitempty"`
	Note           string             `json:"note,omitempty"`
	CashDetails    *squareCashDetails `json:"cash_details,omitempty"`
}

type squareCashDetails struct {
	BuyerSuppliedMoney squareMoney `json:"buyer_supplied_money"`
}

type squareError struct {
	Category string `json:"category"`
	Code     string `json:"code"`
	Detail   string `json:"detail"`
}

type squarePaymentResponse struct {
	Payment *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"payment"`
	Errors []squareError `json:"errors"`
}

func (s *Square) Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementResult, error) {
	money := squareMoney{Amount: domain.ToCents(req.Amount), Currency: strings.ToUpper(req.Currency)}
	body := squarePaymentRequest{
		SourceID:       "CASH",
		IdempotencyKey: req.IdempotencyKey,
		AmountMoney:    money,
		LocationID:     s.cfg.LocationID,
		ReferenceID:    truncate(req.IdempotencyKey, 40),
		Note:           "Payment to " + req.Merchant,
		CashDetails:    &squareCashDetails{BuyerSuppliedMoney: money},
	}

	status, raw, err := s.post(ctx, "/v2/payments", body)
	if err != nil {
		return domain.SettlementResult{}, err
	}

	var parsed squarePaymentResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("square: malformed response (status %d): %w", status, err)
	}

	switch {
	case status >= 500:
		return domain.SettlementResult{}, fmt.Errorf("square: server error %d: %s", status, firstDetail(parsed.Errors))
	case status >= 400:
		if len(parsed.Errors) == 0 {
			return domain.SettlementResult{}, fmt.Errorf("square: request rejected with status %d", status)
		}
		return domain.SettlementResult{
			GatewayName:   s.Name(),
			Outcome:       domain.OutcomeDeclined,
			DeclineReason: domain.DeclineReason(parsed.Errors[0].Code),
			RawResponse:   map[string]any{"errors": parsed.Errors, "httpStatus": status},
		}, nil
	case parsed.Payment == nil || parsed.Payment.ID == "":
		return domain.SettlementResult{}, fmt.Errorf("square: response without payment (status %d)", status)
	}

	result := domain.SettlementResult{
		GatewayName:       s.Name(),
		ExternalPaymentID: parsed.Payment.ID,
		Outcome:           squareOutcome(parsed.Payment.Status),
		RawResponse:       map[string]any{"status": parsed.Payment.Status},
	}
	if result.Outcome == domain.OutcomeDeclined {
		result.DeclineReason = domain.DeclineGatewayDeclined
	}
	return result, nil
}

// Refund issues a refund for a completed payment.
func (s *Square) Refund(ctx context.Context, paymentID string, amount decimal.Decimal) (string, error) {
	body := map[string]any{
		"idempotency_key": uuid.NewString(),
		"payment_id":      paymentID,
		"amount_money":    squareMoney{Amount: domain.ToCents(amount), Currency: domain.DefaultCurrency},
	}
	status, raw, err := s.post(ctx, "/v2/refunds", body)
	if err != nil {
		return "", err
	}
	var parsed struct {
		Refund *struct {
			ID string `json:"id"`
		} `json:"refund"`
		Errors []squareError `json:"errors"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("square: malformed refund response (status %d): %w", status, err)
	}
	if status >= 400 || parsed.Refund == nil {
		return "", fmt.Errorf("square: refund %s failed with status %d: %s", paymentID, status, firstDetail(parsed.Errors))
	}
	return parsed.Refund.ID, nil
}

func (s *Square) post(ctx context.Context, path string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("square: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("square: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Square-Version", squareAPIVersion)

	started := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("square: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("square: read response after %s: %w", time.Since(started), err)
	}
	return resp.StatusCode, raw, nil
}

func squareOutcome(status string) domain.SettlementOutcome {
	switch strings.ToUpper(status) {
	case "COMPLETED":
		return domain.OutcomeApproved
	case "FAILED", "CANCELED":
		return domain.OutcomeDeclined
	default:
		return domain.OutcomePending
	}
}

func firstDetail(errs []squareError) string {
	if len(errs) == 0 {
		return "no error detail"
	}
	if errs[0].Detail != "" {
		return errs[0].Detail
	}
	return errs[0].Code
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
