package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/broadcast"
	"github.com/vanshika/paystream/internal/channel"
	"github.com/vanshika/paystream/internal/domain"
	"github.com/vanshika/paystream/internal/generator"
	"github.com/vanshika/paystream/internal/service"
)

// PaymentAPI is the service surface the handlers expose.
type PaymentAPI interface {
	Enqueue(ctx context.Context, req domain.TransactionRequest) (domain.TransactionRequest, error)
	GenerateOnce(ctx context.Context) domain.Transaction
	RecentTransactions(ctx context.Context, limit int) ([]domain.Transaction, error)
	DashboardStats(ctx context.Context) (service.Dashboard, error)
	StartProducing(ctx context.Context, interval time.Duration) error
	StopProducing() bool
	Producer() service.ProducerStatus
	Subscribe() *broadcast.Subscription
	Unsubscribe(sub *broadcast.Subscription)
}

// HandlerConfig tunes the API handlers.
type HandlerConfig struct {
	// ProducerContext outlives individual requests and bounds the producer.
	ProducerContext  context.Context
	ProducerInterval time.Duration
	AllowedOrigins   []string
	PingInterval     time.Duration
}

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger   *slog.Logger
	service  PaymentAPI
	cfg      HandlerConfig
	upgrader websocket.Upgrader
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, svc PaymentAPI, cfg HandlerConfig) *APIHandlers {
	if cfg.ProducerContext == nil {
		cfg.ProducerContext = context.Background()
	}
	if cfg.ProducerInterval <= 0 {
		cfg.ProducerInterval = 2 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	origins := normalizeOrigins(cfg.AllowedOrigins)
	return &APIHandlers{
		logger:  logger,
		service: svc,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(origins) == 0 || originAllowed(origins, origin)
			},
		},
	}
}

type enqueueRequest struct {
	ID       string          `json:"id"`
	UserID   string          `json:"userId"`
	Amount   decimal.Decimal `json:"amount"`
	Merchant string          `json:"merchant"`
	Currency string          `json:"currency"`
}

type transactionsResponse struct {
	Transactions []domain.Transaction `json:"transactions"`
	Count        int                  `json:"count"`
}

type startProducerRequest struct {
	IntervalMs int64 `json:"intervalMs"`
}

func (h *APIHandlers) enqueueTransaction(w http.ResponseWriter, r *http.Request) {
	var payload enqueueRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	req, err := h.service.Enqueue(r.Context(), domain.TransactionRequest{
		ID:       payload.ID,
		UserID:   payload.UserID,
		Amount:   payload.Amount,
		Merchant: payload.Merchant,
		Currency: payload.Currency,
	})
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, channel.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "pipeline is shutting down")
		return
	case err != nil:
		h.logger.Error("failed to enqueue transaction", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to enqueue transaction")
		return
	}

	respondJSON(w, http.StatusAccepted, req)
}

func (h *APIHandlers) generateTransaction(w http.ResponseWriter, r *http.Request) {
	tx := h.service.GenerateOnce(r.Context())
	respondJSON(w, http.StatusCreated, tx)
}

func (h *APIHandlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	if limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be positive")
		return
	}

	txs, err := h.service.RecentTransactions(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list transactions")
		return
	}
	if txs == nil {
		txs = []domain.Transaction{}
	}
	respondJSON(w, http.StatusOK, transactionsResponse{Transactions: txs, Count: len(txs)})
}

func (h *APIHandlers) dashboardStats(w http.ResponseWriter, r *http.Request) {
	dash, err := h.service.DashboardStats(r.Context())
	if err != nil {
		h.logger.Error("failed to compute dashboard stats", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	respondJSON(w, http.StatusOK, dash)
}

func (h *APIHandlers) producerStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, h.service.Producer())
}

func (h *APIHandlers) startProducer(w http.ResponseWriter, r *http.Request) {
	interval := h.cfg.ProducerInterval
	var payload startProducerRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}
	if payload.IntervalMs < 0 {
		writeError(w, http.StatusBadRequest, "intervalMs must be positive")
		return
	}
	if payload.IntervalMs > 0 {
		interval = time.Duration(payload.IntervalMs) * time.Millisecond
	}

	if err := h.service.StartProducing(h.cfg.ProducerContext, interval); err != nil {
		if errors.Is(err, generator.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "producer is already running")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.service.Producer())
}

func (h *APIHandlers) stopProducer(w http.ResponseWriter, _ *http.Request) {
	stopped := h.service.StopProducing()
	respondJSON(w, http.StatusOK, map[string]any{
		"stopped":  stopped,
		"producer": h.service.Producer(),
	})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	if v, err := strconv.Atoi(value); err == nil {
		return v
	}
	return fallback
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}
