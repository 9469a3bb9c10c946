package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/paystream/internal/broadcast"
	"github.com/vanshika/paystream/internal/cache"
	"github.com/vanshika/paystream/internal/channel"
	"github.com/vanshika/paystream/internal/domain"
	"github.com/vanshika/paystream/internal/gateway"
	"github.com/vanshika/paystream/internal/generator"
	"github.com/vanshika/paystream/internal/processor"
	"github.com/vanshika/paystream/internal/risk"
	"github.com/vanshika/paystream/internal/store"
)

type fixture struct {
	svc   *PaymentService
	store *store.Memory
	ch    *channel.Memory
	hub   *broadcast.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory()
	require.NoError(t, store.Seed(ctx, mem, 5, decimal.NewFromInt(1_000_000), time.Now()))

	c := cache.New(cache.NewMemory(), nil)
	stats := cache.NewStats(c, mem)
	cfg := risk.DefaultConfig()
	cfg.Location = time.UTC
	noon := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := risk.NewEngine(cfg, cache.NewVelocity(c, mem), stats, mem, nil).WithClock(func() time.Time { return noon })

	hub := broadcast.NewHub(64, nil)
	proc, err := processor.New(processor.Dependencies{
		Store:     mem,
		Risk:      engine,
		Gateway:   gateway.NewSimulated(gateway.SimulatedConfig{Forced: domain.OutcomeApproved, Seed: 1}),
		Publisher: hub,
		Stats:     stats,
		Ceiling:   decimal.NewFromInt(10000),
	})
	require.NoError(t, err)

	ch := channel.NewMemory(64, channel.DefaultRetryPolicy(), nil, nil)
	svc, err := New(Dependencies{
		Channel:   ch,
		Processor: proc,
		Generator: generator.New(generator.Config{Seed: 11}),
		Hub:       hub,
		Store:     mem,
		Stats:     stats,
		Ceiling:   decimal.NewFromInt(10000),
	})
	require.NoError(t, err)
	return &fixture{svc: svc, store: mem, ch: ch, hub: hub}
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Dependencies{})
	assert.Error(t, err)
}

func TestEnqueueFillsDefaultsAndValidates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.svc.Enqueue(ctx, domain.TransactionRequest{
		UserID:   "USR-1",
		Amount:   decimal.RequireFromString("25.50"),
		Merchant: "Uber",
		Currency: "eur",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "EUR", req.Currency)
	assert.False(t, req.RequestedAt.IsZero())
	assert.Equal(t, 1, f.ch.Pending())

	_, err = f.svc.Enqueue(ctx, domain.TransactionRequest{UserID: "USR-1", Merchant: "Uber"})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	_, err = f.svc.Enqueue(ctx, domain.TransactionRequest{UserID: "USR-1", Merchant: "Uber", Amount: decimal.NewFromInt(20000)})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.Equal(t, 1, f.ch.Pending())
}

func TestEnqueueAfterShutdown(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Shutdown())

	_, err := f.svc.Enqueue(context.Background(), domain.TransactionRequest{UserID: "USR-1", Merchant: "Uber", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, channel.ErrClosed)
}

func TestGenerateOnceProcessesSynchronously(t *testing.T) {
	f := newFixture(t)
	sub := f.svc.Subscribe()
	defer f.svc.Unsubscribe(sub)

	tx := f.svc.GenerateOnce(context.Background())
	assert.Equal(t, domain.StatusApproved, tx.Status)

	select {
	case got := <-sub.C():
		assert.Equal(t, tx.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("generated transaction was not broadcast")
	}
	assert.EqualValues(t, 1, f.svc.GetStats().ProcessedCount)
}

func TestRunConsumesEnqueuedRequests(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, f.svc.Run(ctx))
	}()

	for i := 0; i < 5; i++ {
		_, err := f.svc.Enqueue(ctx, domain.TransactionRequest{UserID: "USR-2", Merchant: "Target", Amount: decimal.NewFromInt(10)})
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return f.svc.GetStats().ProcessedCount == 5 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.svc.GetStats().IsRunning)

	txs, err := f.svc.RecentTransactions(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, txs, 5)

	cancel()
	wg.Wait()
	assert.False(t, f.svc.GetStats().IsRunning)
}

func TestProducerStartStop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.StartProducing(ctx, 5*time.Millisecond))
	assert.True(t, f.svc.Producer().Running)
	assert.EqualValues(t, 5, f.svc.Producer().IntervalMs)
	assert.Error(t, f.svc.StartProducing(ctx, time.Millisecond))

	require.Eventually(t, func() bool { return f.ch.Pending() >= 2 }, time.Second, time.Millisecond)

	assert.True(t, f.svc.StopProducing())
	pending := f.ch.Pending()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, pending, f.ch.Pending())
	assert.False(t, f.svc.Producer().Running)
	assert.False(t, f.svc.StopProducing())
}

func TestDashboardStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.GenerateOnce(ctx)
	f.svc.GenerateOnce(ctx)
	sub := f.svc.Subscribe()
	defer f.svc.Unsubscribe(sub)

	dash, err := f.svc.DashboardStats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, dash.Summary.TotalTransactions)
	assert.EqualValues(t, 2, dash.Summary.ApprovedTransactions)
	assert.NotEmpty(t, dash.VolumePerMinute)
	assert.EqualValues(t, 2, dash.Processor.ProcessedCount)
	assert.Equal(t, 1, dash.Subscribers)
	assert.False(t, dash.Producer.Running)
}

type failingStats struct{}

func (failingStats) Summary(context.Context) (domain.Summary, error) {
	return domain.Summary{}, errors.New("store down")
}

func (failingStats) VolumePerMinute(context.Context) ([]domain.VolumeBucket, error) {
	return nil, nil
}

func TestDashboardStatsPropagatesStoreErrors(t *testing.T) {
	f := newFixture(t)
	f.svc.stats = failingStats{}

	_, err := f.svc.DashboardStats(context.Background())
	assert.ErrorContains(t, err, "store down")

	f.svc.stats = nil
	dash, err := f.svc.DashboardStats(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, dash.VolumePerMinute)
}
