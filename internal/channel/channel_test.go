package channel

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/paystream/internal/domain"
	"github.com/vanshika/paystream/internal/logging"
)

func request(id string) domain.TransactionRequest {
	return domain.TransactionRequest{
		ID:          id,
		UserID:      "USR-1",
		Amount:      decimal.RequireFromString("50.00"),
		Merchant:    "Amazon",
		Currency:    "USD",
		RequestedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}
}

func TestCodecRoundTripKeepsAmountPrecision(t *testing.T) {
	in := request("req-1")
	b, err := Encode(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"amount":"50"`)

	out, err := Decode(b)
	require.NoError(t, err)
	assert.True(t, in.Amount.Equal(out.Amount))
	assert.Equal(t, in.ID, out.ID)
	assert.True(t, in.RequestedAt.Equal(out.RequestedAt))

	_, err = Decode([]byte("{not json"))
	assert.Error(t, err)
}

func TestMemory_DeliversInOrder(t *testing.T) {
	ch := NewMemory(8, fastPolicy(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, ch.Publish(ctx, request(id)))
	}
	assert.Equal(t, 3, ch.Pending())

	var (
		mu  sync.Mutex
		got []string
	)
	done := make(chan struct{})
	go func() {
		_ = ch.Consume(ctx, func(_ context.Context, req domain.TransactionRequest) error {
			mu.Lock()
			got = append(got, req.ID)
			n := len(got)
			mu.Unlock()
			if n == 3 {
				close(done)
			}
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("requests were not delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestMemory_RedeliversUntilHandlerSucceeds(t *testing.T) {
	ch := NewMemory(1, fastPolicy(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ch.Publish(ctx, request("retry")))

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		_ = ch.Consume(ctx, func(context.Context, domain.TransactionRequest) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			close(done)
			return nil
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("request was not redelivered")
	}
	assert.EqualValues(t, 3, calls.Load())
}

func TestHandle_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int
	err := handle(context.Background(), fastPolicy(), logging.Nop(), func(context.Context, domain.TransactionRequest) error {
		calls++
		return errors.New("boom")
	}, request("poison"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "poison")
	assert.Equal(t, 3, calls)
}

func TestHandle_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, Backoff: time.Hour}
	err := handle(ctx, policy, logging.Nop(), func(context.Context, domain.TransactionRequest) error {
		cancel()
		return errors.New("boom")
	}, request("cancel"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_PublishAfterClose(t *testing.T) {
	ch := NewMemory(1, fastPolicy(), nil, nil)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	assert.ErrorIs(t, ch.Publish(context.Background(), request("late")), ErrClosed)
	assert.NoError(t, ch.Consume(context.Background(), func(context.Context, domain.TransactionRequest) error { return nil }))
}

func TestMemory_PublishHonoursContextWhenFull(t *testing.T) {
	ch := NewMemory(1, fastPolicy(), nil, nil)
	require.NoError(t, ch.Publish(context.Background(), request("first")))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ch.Publish(ctx, request("second")), context.DeadlineExceeded)
}

func TestEncodeMessage_KeyedByRequestID(t *testing.T) {
	req := request("req-42")
	msg, err := encodeMessage(req)
	require.NoError(t, err)

	assert.Equal(t, []byte("req-42"), msg.Key)
	assert.True(t, msg.Time.Equal(req.RequestedAt))
	decoded, err := Decode(msg.Value)
	require.NoError(t, err)
	assert.Equal(t, "USR-1", decoded.UserID)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "content-type", msg.Headers[0].Key)
}

func TestNewKafka_Validates(t *testing.T) {
	_, err := NewKafka(KafkaConfig{Topic: "t", GroupID: "g"}, fastPolicy(), nil, nil)
	assert.Error(t, err)
	_, err = NewKafka(KafkaConfig{Brokers: []string{"localhost:9092"}}, fastPolicy(), nil, nil)
	assert.Error(t, err)
}
