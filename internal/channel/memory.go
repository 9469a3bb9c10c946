package channel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vanshika/paystream/internal/domain"
	"github.com/vanshika/paystream/internal/logging"
)

// Memory is an in-process Channel backed by a buffered Go channel.
type Memory struct {
	queue  chan domain.TransactionRequest
	done   chan struct{}
	once   sync.Once
	policy RetryPolicy
	logger *slog.Logger
	sink   logging.Sink
}

// NewMemory creates a channel holding up to buffer undelivered requests.
func NewMemory(buffer int, policy RetryPolicy, logger *slog.Logger, sink logging.Sink) *Memory {
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = logging.Nop()
	}
	if sink == nil {
		sink = logging.Discard
	}
	return &Memory{
		queue:  make(chan domain.TransactionRequest, buffer),
		done:   make(chan struct{}),
		policy: policy,
		logger: logger,
		sink:   sink,
	}
}

// Publish enqueues req, blocking while the buffer is full.
func (m *Memory) Publish(ctx context.Context, req domain.TransactionRequest) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}
	select {
	case m.queue <- req:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Memory) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.done:
			return nil
		case req := <-m.queue:
			if err := handle(ctx, m.policy, m.logger, handler, req); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.sink.RecordError(ctx, err, "requestId", req.ID, "channel", "memory")
			}
		}
	}
}

// Pending returns the number of queued, undelivered requests.
func (m *Memory) Pending() int {
	return len(m.queue)
}

func (m *Memory) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}
