package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vanshika/paystream/internal/domain"
)

// ErrClosed is returned when publishing to a closed channel.
var ErrClosed = errors.New("channel closed")

// Handler processes one delivered request. Returning nil acknowledges it.
type Handler func(ctx context.Context, req domain.TransactionRequest) error

// Channel carries transaction requests from producers to one consumer group with
// at-least-once delivery.
type Channel interface {
	Publish(ctx context.Context, req domain.TransactionRequest) error
	// Consume delivers requests to handler until ctx is cancelled or the channel
	// is closed. Concurrent Consume calls share the stream.
	Consume(ctx context.Context, handler Handler) error
	Close() error
}

// RetryPolicy bounds redelivery of a request whose handler failed.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy tries three times with linear backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: 100 * time.Millisecond}
}

// handle runs handler with redelivery. It returns the last handler error once
// attempts are exhausted, or ctx.Err() when cancelled while backing off.
func handle(ctx context.Context, policy RetryPolicy, logger *slog.Logger, handler Handler, req domain.TransactionRequest) error {
	attempts := policy.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = handler(ctx, req); err == nil {
			return nil
		}
		logger.WarnContext(ctx, "handler failed, redelivering", "requestId", req.ID, "attempt", attempt, "error", err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(policy.Backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("request %s not handled after %d attempts: %w", req.ID, attempts, err)
}

// Encode serialises a request for the wire.
func Encode(req domain.TransactionRequest) ([]byte, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", req.ID, err)
	}
	return b, nil
}

// Decode parses a request produced by Encode.
func Decode(data []byte) (domain.TransactionRequest, error) {
	var req domain.TransactionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.TransactionRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}
