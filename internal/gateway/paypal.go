package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/domain"
)

const paypalSandboxURL = "https://api.sandbox.paypal.com"

// PayPalConfig configures the PayPal backend.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	HTTPClient   *http.Client
}

// PayPal settles payments through the PayPal v1 payments REST API using a
// client-credentials token.
type PayPal struct {
	cfg    PayPalConfig
	client *http.Client
	nowFn  func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewPayPal builds a PayPal gateway. An empty base URL targets the sandbox.
func NewPayPal(cfg PayPalConfig) *PayPal {
	if cfg.BaseURL == "" {
		cfg.BaseURL = paypalSandboxURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &PayPal{cfg: cfg, client: httpClient, nowFn: time.Now}
}

func (p *PayPal) Name() string { return "paypal" }

type paypalAmount struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type paypalPaymentRequest struct {
	Intent string `json:"intent"`
	Payer  struct {
		PaymentMethod string `json:"payment_method"`
	} `json:"payer"`
	Transactions []paypalTransaction `json:"transactions"`
}

type paypalTransaction struct {
	Amount      paypalAmount `json:"amount"`
	Description string       `json:"description"`
	InvoiceID   string       `json:"invoice_number,omitempty"`
}

type paypalPaymentResponse struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (p *PayPal) Settle(ctx context.Context, req domain.SettlementRequest) (domain.SettlementResult, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return domain.SettlementResult{}, err
	}

	body := paypalPaymentRequest{Intent: "sale"}
	body.Payer.PaymentMethod = "paypal"
	body.Transactions = []paypalTransaction{{
		Amount:      paypalAmount{Total: req.Amount.StringFixed(2), Currency: strings.ToUpper(req.Currency)},
		Description: "Payment to " + req.Merchant,
		InvoiceID:   req.IdempotencyKey,
	}}
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("paypal: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/payments/payment", bytes.NewReader(payload))
	if err != nil {
		return domain.SettlementResult{}, fmt.Errorf("paypal: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("PayPal-Request-Id", req.IdempotencyKey)

	status, raw, err := p.do(httpReq)
	if err != nil {
		return domain.SettlementResult{}, err
	}

	var parsed paypalPaymentResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.SettlementResult{}, fmt.Errorf("paypal: malformed response (status %d): %w", status, err)
	}

	switch {
	case status == http.StatusUnauthorized:
		p.resetToken()
		return domain.SettlementResult{}, fmt.Errorf("paypal: token rejected: %s", parsed.Message)
	case status >= 500:
		return domain.SettlementResult{}, fmt.Errorf("paypal: server error %d: %s", status, parsed.Message)
	case status >= 400:
		reason := domain.DeclineGatewayDeclined
		if parsed.Name != "" {
			reason = domain.DeclineReason(parsed.Name)
		}
		return domain.SettlementResult{
			GatewayName:   p.Name(),
			Outcome:       domain.OutcomeDeclined,
			DeclineReason: reason,
			RawResponse:   map[string]any{"name": parsed.Name, "message": parsed.Message, "httpStatus": status},
		}, nil
	case parsed.ID == "":
		return domain.SettlementResult{}, fmt.Errorf("paypal: response without payment id (status %d)", status)
	}

	outcome := domain.OutcomePending
	if strings.EqualFold(parsed.State, "approved") {
		outcome = domain.OutcomeApproved
	}
	return domain.SettlementResult{
		GatewayName:       p.Name(),
		ExternalPaymentID: parsed.ID,
		Outcome:           outcome,
		RawResponse:       map[string]any{"state": parsed.State},
	}, nil
}

// Refund is not offered for PayPal.
func (p *PayPal) Refund(context.Context, string, decimal.Decimal) (string, error) {
	return "", fmt.Errorf("paypal: %w", ErrRefundNotSupported)
}

// accessToken returns a cached client-credentials token, fetching a new one a
// minute before the old one expires.
func (p *PayPal) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && p.nowFn().Before(p.expires) {
		return p.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("paypal: build token request: %w", err)
	}
	req.SetBasicAuth(p.cfg.ClientID, p.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	status, raw, err := p.do(req)
	if err != nil {
		return "", err
	}
	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("paypal: malformed token response (status %d): %w", status, err)
	}
	if status >= 400 || parsed.AccessToken == "" {
		return "", fmt.Errorf("paypal: token request failed with status %d", status)
	}

	p.token = parsed.AccessToken
	p.expires = p.nowFn().Add(time.Duration(parsed.ExpiresIn)*time.Second - time.Minute)
	return p.token, nil
}

func (p *PayPal) resetToken() {
	p.mu.Lock()
	p.token = ""
	p.mu.Unlock()
}

func (p *PayPal) do(req *http.Request) (int, []byte, error) {
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("paypal: %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("paypal: read response: %w", err)
	}
	return resp.StatusCode, raw, nil
}
