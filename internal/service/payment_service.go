package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/broadcast"
	"github.com/vanshika/paystream/internal/channel"
	"github.com/vanshika/paystream/internal/domain"
	"github.com/vanshika/paystream/internal/generator"
	"github.com/vanshika/paystream/internal/logging"
	"github.com/vanshika/paystream/internal/processor"
)

// TransactionProcessor is the pipeline the consumer loop feeds.
type TransactionProcessor interface {
	Process(ctx context.Context, req domain.TransactionRequest) domain.Transaction
	Stats() domain.ProcessorStats
	SetRunning(running bool)
}

// TransactionLister reads the persisted log.
type TransactionLister interface {
	ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error)
}

// DashboardSource provides cached dashboard aggregates.
type DashboardSource interface {
	Summary(ctx context.Context) (domain.Summary, error)
	VolumePerMinute(ctx context.Context) ([]domain.VolumeBucket, error)
}

// Dependencies wires a PaymentService.
type Dependencies struct {
	Channel   channel.Channel
	Processor TransactionProcessor
	Generator *generator.Generator
	Hub       *broadcast.Hub
	Store     TransactionLister
	Stats     DashboardSource
	Logger    *slog.Logger
	Ceiling   decimal.Decimal
}

// Dashboard is the aggregate view served to operators.
type Dashboard struct {
	Summary         domain.Summary        `json:"summary"`
	VolumePerMinute []domain.VolumeBucket `json:"volumePerMinute"`
	Processor       domain.ProcessorStats `json:"processor"`
	Producer        ProducerStatus        `json:"producer"`
	Subscribers     int                   `json:"subscribers"`
}

// ProducerStatus describes the periodic request producer.
type ProducerStatus struct {
	Running    bool          `json:"running"`
	Interval   time.Duration `json:"interval"`
	IntervalMs int64         `json:"intervalMs"`
}

// PaymentService exposes the pipeline's operations to transports.
type PaymentService struct {
	channel   channel.Channel
	processor TransactionProcessor
	generator *generator.Generator
	scheduler *generator.Scheduler
	hub       *broadcast.Hub
	store     TransactionLister
	stats     DashboardSource
	logger    *slog.Logger
	ceiling   decimal.Decimal
	nowFn     func() time.Time
}

// New validates deps and builds the service.
func New(deps Dependencies) (*PaymentService, error) {
	switch {
	case deps.Channel == nil:
		return nil, errors.New("service: channel is required")
	case deps.Processor == nil:
		return nil, errors.New("service: processor is required")
	case deps.Generator == nil:
		return nil, errors.New("service: generator is required")
	case deps.Hub == nil:
		return nil, errors.New("service: broadcast hub is required")
	case deps.Store == nil:
		return nil, errors.New("service: store is required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	return &PaymentService{
		channel:   deps.Channel,
		processor: deps.Processor,
		generator: deps.Generator,
		scheduler: generator.NewScheduler(deps.Logger),
		hub:       deps.Hub,
		store:     deps.Store,
		stats:     deps.Stats,
		logger:    deps.Logger,
		ceiling:   deps.Ceiling,
		nowFn:     time.Now,
	}, nil
}

// Enqueue normalises and validates req, then publishes it to the channel.
// Missing id, currency and timestamp are filled in.
func (s *PaymentService) Enqueue(ctx context.Context, req domain.TransactionRequest) (domain.TransactionRequest, error) {
	if strings.TrimSpace(req.ID) == "" {
		req.ID = "txn_" + uuid.NewString()
	}
	req.Currency = req.CurrencyOrDefault()
	if req.RequestedAt.IsZero() {
		req.RequestedAt = s.nowFn().UTC()
	}
	if err := req.Validate(s.ceiling); err != nil {
		return domain.TransactionRequest{}, err
	}
	if err := s.channel.Publish(ctx, req); err != nil {
		return domain.TransactionRequest{}, fmt.Errorf("enqueue %s: %w", req.ID, err)
	}
	s.logger.DebugContext(ctx, "transaction enqueued", "requestId", req.ID, "userId", req.UserID, "amount", req.Amount.StringFixed(2), "merchant", req.Merchant)
	return req, nil
}

// GenerateOnce synthesises one request and processes it synchronously.
func (s *PaymentService) GenerateOnce(ctx context.Context) domain.Transaction {
	return s.processor.Process(ctx, s.generator.Next())
}

// Subscribe registers a live listener for processed transactions.
func (s *PaymentService) Subscribe() *broadcast.Subscription {
	return s.hub.Subscribe()
}

// Unsubscribe removes a listener.
func (s *PaymentService) Unsubscribe(sub *broadcast.Subscription) {
	s.hub.Unsubscribe(sub)
}

// GetStats reports processor throughput.
func (s *PaymentService) GetStats() domain.ProcessorStats {
	return s.processor.Stats()
}

// StartProducing enqueues a generated request every interval until
// StopProducing or ctx cancellation.
func (s *PaymentService) StartProducing(ctx context.Context, interval time.Duration) error {
	return s.scheduler.Start(ctx, interval, func(ctx context.Context) error {
		_, err := s.Enqueue(ctx, s.generator.Next())
		return err
	})
}

// StopProducing halts the producer. It reports whether one was running.
func (s *PaymentService) StopProducing() bool {
	return s.scheduler.Stop()
}

// Producer reports the producer state.
func (s *PaymentService) Producer() ProducerStatus {
	interval := s.scheduler.Interval()
	return ProducerStatus{
		Running:    s.scheduler.IsRunning(),
		Interval:   interval,
		IntervalMs: interval.Milliseconds(),
	}
}

// RecentTransactions returns the newest persisted transactions first.
func (s *PaymentService) RecentTransactions(ctx context.Context, limit int) ([]domain.Transaction, error) {
	txs, err := s.store.ListTransactions(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// DashboardStats combines cached aggregates with live pipeline state.
func (s *PaymentService) DashboardStats(ctx context.Context) (Dashboard, error) {
	dash := Dashboard{
		Processor:       s.processor.Stats(),
		Producer:        s.Producer(),
		Subscribers:     s.hub.Subscribers(),
		VolumePerMinute: []domain.VolumeBucket{},
	}
	if s.stats == nil {
		return dash, nil
	}

	summary, err := s.stats.Summary(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard summary: %w", err)
	}
	volume, err := s.stats.VolumePerMinute(ctx)
	if err != nil {
		return Dashboard{}, fmt.Errorf("dashboard volume: %w", err)
	}
	dash.Summary = summary
	if volume != nil {
		dash.VolumePerMinute = volume
	}
	return dash, nil
}

// Run consumes the channel until ctx is cancelled. Every delivery is
// acknowledged once processed since Process always yields a record.
func (s *PaymentService) Run(ctx context.Context) error {
	s.processor.SetRunning(true)
	defer s.processor.SetRunning(false)
	s.logger.Info("transaction consumer started")

	err := s.channel.Consume(ctx, func(ctx context.Context, req domain.TransactionRequest) error {
		s.processor.Process(ctx, req)
		return nil
	})
	s.logger.Info("transaction consumer stopped", "error", err)
	return err
}

// Shutdown stops the producer and closes the channel and hub.
func (s *PaymentService) Shutdown() error {
	s.scheduler.Stop()
	err := s.channel.Close()
	s.hub.Close()
	return err
}

var _ TransactionProcessor = (*processor.Processor)(nil)
