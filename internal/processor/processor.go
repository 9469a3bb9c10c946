package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/domain"
	"github.com/vanshika/paystream/internal/gateway"
	"github.com/vanshika/paystream/internal/logging"
	"github.com/vanshika/paystream/internal/store"
)

// RiskAnalyzer scores a request. An error makes the processor fall back to
// domain.FallbackAssessment.
type RiskAnalyzer interface {
	Analyze(ctx context.Context, req domain.TransactionRequest) (domain.RiskAssessment, error)
}

// Publisher receives every persisted transaction. Publish must not block.
type Publisher interface {
	Publish(tx domain.Transaction)
}

// StatsInvalidator drops cached aggregates after a new transaction lands.
type StatsInvalidator interface {
	Invalidate(ctx context.Context)
}

// Dependencies are the collaborators a Processor is built from. Store, Risk and
// Gateway are required.
type Dependencies struct {
	Store     store.Store
	Risk      RiskAnalyzer
	Gateway   gateway.Gateway
	Publisher Publisher
	Stats     StatsInvalidator
	Sink      logging.Sink
	Logger    *slog.Logger
	// Ceiling rejects larger amounts when positive.
	Ceiling decimal.Decimal
}

// Processor turns requests into persisted transactions. Process never fails:
// every outcome, including internal errors, resolves to a record.
type Processor struct {
	store     store.Store
	risk      RiskAnalyzer
	gateway   gateway.Gateway
	publisher Publisher
	stats     StatsInvalidator
	sink      logging.Sink
	logger    *slog.Logger
	ceiling   decimal.Decimal
	nowFn     func() time.Time

	mu       sync.Mutex
	inflight map[string]*call

	processed atomic.Int64
	running   atomic.Bool
	startedAt time.Time
}

type call struct {
	done chan struct{}
	tx   domain.Transaction
}

// New validates deps and returns a Processor.
func New(deps Dependencies) (*Processor, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("processor: store is required")
	case deps.Risk == nil:
		return nil, errors.New("processor: risk analyzer is required")
	case deps.Gateway == nil:
		return nil, errors.New("processor: gateway is required")
	}
	if deps.Sink == nil {
		deps.Sink = logging.Discard
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	return &Processor{
		store:     deps.Store,
		risk:      deps.Risk,
		gateway:   deps.Gateway,
		publisher: deps.Publisher,
		stats:     deps.Stats,
		sink:      deps.Sink,
		logger:    deps.Logger,
		ceiling:   deps.Ceiling,
		nowFn:     time.Now,
		inflight:  make(map[string]*call),
		startedAt: time.Now(),
	}, nil
}

// WithClock overrides the time provider and restarts the uptime clock.
func (p *Processor) WithClock(nowFn func() time.Time) *Processor {
	if nowFn != nil {
		p.nowFn = nowFn
		p.startedAt = nowFn()
	}
	return p
}

// Process runs the full pipeline for req and returns the resulting record.
// Redelivery of a request id already in flight or already persisted returns
// the existing record without repeating side effects.
func (p *Processor) Process(ctx context.Context, req domain.TransactionRequest) domain.Transaction {
	if req.ID == "" {
		return p.process(ctx, req)
	}

	p.mu.Lock()
	if c, ok := p.inflight[req.ID]; ok {
		p.mu.Unlock()
		// The claimant persists regardless of its caller, so waiting always
		// ends with a stored record.
		<-c.done
		return c.tx
	}
	c := &call{done: make(chan struct{})}
	p.inflight[req.ID] = c
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		delete(p.inflight, req.ID)
		p.mu.Unlock()
		close(c.done)
	}()

	existing, found, err := p.store.FindByRequestID(ctx, req.ID)
	if err != nil {
		p.sink.RecordError(ctx, err, "requestId", req.ID, "step", "duplicate_check")
	} else if found {
		p.logger.InfoContext(ctx, "duplicate delivery ignored", "requestId", req.ID, "transactionId", existing.ID)
		c.tx = existing
		return existing
	}

	c.tx = p.process(ctx, req)
	return c.tx
}

func (p *Processor) process(ctx context.Context, req domain.TransactionRequest) domain.Transaction {
	start := p.nowFn()

	tx, err := p.decide(ctx, req)
	if err != nil {
		p.sink.RecordError(ctx, err, "requestId", req.ID, "step", "process_transaction")
		tx = p.errorRecord(req, tx, err)
	}

	now := p.nowFn()
	tx.ProcessingLatencyMs = now.Sub(start).Milliseconds()
	tx.CreatedAt = now

	return p.persist(ctx, req, tx)
}

// decide runs risk, balance and settlement. A non-nil error means processing
// itself broke and the record must become ERROR.
func (p *Processor) decide(ctx context.Context, req domain.TransactionRequest) (tx domain.Transaction, err error) {
	tx = newRecord(req)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing panic: %v", r)
		}
	}()

	if err := req.Validate(p.ceiling); err != nil {
		return tx, err
	}

	assessment, err := p.risk.Analyze(ctx, req)
	if err != nil {
		p.sink.RecordError(ctx, err, "requestId", req.ID, "step", "fraud_detection")
		assessment = domain.FallbackAssessment()
	}
	tx.RiskScore = assessment.RiskScore
	tx.Flags = append([]string{}, assessment.Flags...)

	if assessment.IsFraudulent {
		decline(&tx, domain.DeclineFraudDetected)
		tx.Metadata["fraudReasons"] = assessment.Reasons
		tx.Metadata["flags"] = assessment.Flags
		p.sink.RecordSecurityEvent(ctx, "transaction declined due to fraud",
			"requestId", req.ID,
			"userId", req.UserID,
			"riskScore", assessment.RiskScore,
			"reasons", assessment.Reasons,
		)
		return tx, nil
	}

	account, err := p.store.GetAccount(ctx, req.UserID)
	if err != nil {
		if !errors.Is(err, domain.ErrAccountNotFound) {
			p.sink.RecordError(ctx, err, "requestId", req.ID, "step", "balance_check")
		}
		decline(&tx, domain.DeclineInsufficientFunds)
		return tx, nil
	}
	if !account.Covers(req.Amount) {
		decline(&tx, domain.DeclineInsufficientFunds)
		return tx, nil
	}

	p.settle(ctx, req, &tx)
	return tx, nil
}

func (p *Processor) settle(ctx context.Context, req domain.TransactionRequest, tx *domain.Transaction) {
	result, err := p.gateway.Settle(ctx, domain.SettlementRequest{
		IdempotencyKey: req.ID,
		UserID:         req.UserID,
		Amount:         req.Amount,
		Currency:       req.CurrencyOrDefault(),
		Merchant:       req.Merchant,
	})
	if err != nil {
		tx.Gateway = p.gateway.Name()
		decline(tx, domain.DeclineGatewayError)
		tx.Metadata["gatewayError"] = err.Error()
		p.sink.RecordError(ctx, err, "requestId", req.ID, "step", "payment_gateway")
		return
	}

	tx.Gateway = result.GatewayName
	tx.ExternalPaymentID = result.ExternalPaymentID

	switch result.Outcome {
	case domain.OutcomeApproved:
		if _, err := p.store.DebitAccount(ctx, req.UserID, req.Amount); err != nil {
			p.compensate(ctx, tx)
			if errors.Is(err, domain.ErrInsufficientFunds) {
				decline(tx, domain.DeclineInsufficientFunds)
				return
			}
			tx.Status = domain.StatusError
			tx.DeclineReason = domain.DeclineProcessingError
			tx.Metadata["error"] = err.Error()
			p.sink.RecordError(ctx, err, "requestId", req.ID, "step", "debit")
			return
		}
		tx.Status = domain.StatusApproved
		tx.DeclineReason = ""
	case domain.OutcomePending:
		decline(tx, domain.DeclinePaymentPending)
	default:
		reason := result.DeclineReason
		if reason == "" {
			reason = domain.DeclineGatewayDeclined
		}
		decline(tx, reason)
		if result.RawResponse != nil {
			tx.Metadata["gatewayResponse"] = result.RawResponse
		}
	}
}

// compensate refunds a settled payment whose debit could not be applied.
func (p *Processor) compensate(ctx context.Context, tx *domain.Transaction) {
	refunder, ok := p.gateway.(gateway.Refunder)
	if !ok || tx.ExternalPaymentID == "" {
		tx.Metadata["refund"] = "unsupported"
		return
	}
	refundID, err := refunder.Refund(ctx, tx.ExternalPaymentID, tx.Amount)
	switch {
	case errors.Is(err, gateway.ErrRefundNotSupported):
		tx.Metadata["refund"] = "unsupported"
	case err != nil:
		tx.Metadata["refundError"] = err.Error()
		p.sink.RecordError(ctx, err, "requestId", tx.RequestID, "paymentId", tx.ExternalPaymentID, "step", "refund")
	default:
		tx.Metadata["refundId"] = refundID
	}
}

// reverse undoes the debit and settlement of an APPROVED record that could not
// be kept.
func (p *Processor) reverse(ctx context.Context, tx *domain.Transaction) {
	p.creditBack(ctx, tx)
	p.compensate(ctx, tx)
}

// creditBack returns the debit of tx to the account and leaves the provider
// payment untouched.
func (p *Processor) creditBack(ctx context.Context, tx *domain.Transaction) {
	if _, err := p.store.CreditAccount(ctx, tx.UserID, tx.Amount); err != nil {
		p.sink.RecordError(ctx, err, "requestId", tx.RequestID, "step", "reverse_debit")
	}
	tx.Metadata["reversed"] = true
}

func (p *Processor) persist(ctx context.Context, req domain.TransactionRequest, tx domain.Transaction) domain.Transaction {
	// The request is consumed even if the caller goes away now.
	ctx = context.WithoutCancel(ctx)

	err := p.store.AppendTransaction(ctx, tx)
	if err == nil {
		p.completed(ctx, tx)
		return tx
	}

	if errors.Is(err, domain.ErrDuplicateRequest) {
		existing, found, ferr := p.store.FindByRequestID(ctx, tx.RequestID)
		if tx.Status == domain.StatusApproved {
			// Settlement is keyed by request id, so the stored record normally
			// points at the same provider payment and only the debit is ours.
			if found && existing.ExternalPaymentID != tx.ExternalPaymentID {
				p.reverse(ctx, &tx)
			} else {
				p.creditBack(ctx, &tx)
			}
		}
		if ferr == nil && found {
			p.logger.InfoContext(ctx, "request already recorded elsewhere", "requestId", tx.RequestID)
			return existing
		}
		p.sink.RecordError(ctx, errors.Join(err, ferr), "requestId", tx.RequestID, "step", "persist")
		return tx
	}

	p.sink.RecordError(ctx, err, "requestId", tx.RequestID, "step", "persist")
	if tx.Status == domain.StatusApproved {
		p.reverse(ctx, &tx)
	}
	synthetic := p.errorRecord(req, tx, err)
	if err := p.store.AppendTransaction(ctx, synthetic); err != nil {
		p.sink.RecordError(ctx, err, "requestId", tx.RequestID, "step", "persist_error_record")
		return synthetic
	}
	p.completed(ctx, synthetic)
	return synthetic
}

func (p *Processor) completed(ctx context.Context, tx domain.Transaction) {
	p.processed.Add(1)
	p.logger.InfoContext(ctx, "transaction processed",
		"transactionId", tx.ID,
		"requestId", tx.RequestID,
		"userId", tx.UserID,
		"amount", tx.Amount.StringFixed(2),
		"status", tx.Status,
		"declineReason", tx.DeclineReason,
		"riskScore", tx.RiskScore,
		"latencyMs", tx.ProcessingLatencyMs,
	)
	if p.publisher != nil {
		p.publisher.Publish(tx)
	}
	if p.stats != nil {
		p.stats.Invalidate(ctx)
	}
}

func (p *Processor) errorRecord(req domain.TransactionRequest, partial domain.Transaction, cause error) domain.Transaction {
	tx := newRecord(req)
	tx.ID = partial.ID
	tx.RequestID = partial.RequestID
	tx.RiskScore = partial.RiskScore
	tx.Flags = partial.Flags
	tx.Gateway = partial.Gateway
	tx.ExternalPaymentID = partial.ExternalPaymentID
	tx.ProcessingLatencyMs = partial.ProcessingLatencyMs
	tx.CreatedAt = partial.CreatedAt
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = p.nowFn()
	}
	for k, v := range partial.Metadata {
		tx.Metadata[k] = v
	}
	tx.Status = domain.StatusError
	tx.DeclineReason = domain.DeclineProcessingError
	tx.Metadata["error"] = cause.Error()
	return tx
}

func newRecord(req domain.TransactionRequest) domain.Transaction {
	requestID := req.ID
	if requestID == "" {
		requestID = "invalid_" + uuid.NewString()
	}
	return domain.Transaction{
		ID:        uuid.NewString(),
		RequestID: requestID,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Currency:  req.CurrencyOrDefault(),
		Merchant:  req.Merchant,
		Flags:     []string{},
		Metadata:  map[string]any{},
	}
}

func decline(tx *domain.Transaction, reason domain.DeclineReason) {
	tx.Status = domain.StatusDeclined
	tx.DeclineReason = reason
}

// SetRunning marks whether a consumer is currently feeding the processor.
func (p *Processor) SetRunning(running bool) {
	if running && !p.running.Load() {
		p.mu.Lock()
		p.startedAt = p.nowFn()
		p.mu.Unlock()
	}
	p.running.Store(running)
}

// Stats reports throughput since the processor (or its consumer) started.
func (p *Processor) Stats() domain.ProcessorStats {
	p.mu.Lock()
	startedAt := p.startedAt
	p.mu.Unlock()

	processed := p.processed.Load()
	uptime := p.nowFn().Sub(startedAt)
	var throughput float64
	if secs := uptime.Seconds(); secs > 0 {
		throughput = float64(processed) / secs
	}
	return domain.ProcessorStats{
		ProcessedCount:      processed,
		Uptime:              uptime,
		ThroughputPerSecond: throughput,
		IsRunning:           p.running.Load(),
	}
}
