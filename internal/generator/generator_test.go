package generator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateIsDeterministicForSeed(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return fixed }

	a, err := New(Config{Seed: 42}).WithClock(clock).Generate(context.Background(), 20)
	require.NoError(t, err)
	b, err := New(Config{Seed: 42}).WithClock(clock).Generate(context.Background(), 20)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestGenerateShapesRequests(t *testing.T) {
	g := New(Config{Seed: 7})
	ds, err := g.Generate(context.Background(), 2000)
	require.NoError(t, err)
	require.Len(t, ds.Requests, 2000)

	merchants := make(map[string]bool, len(DefaultMerchants))
	for _, m := range DefaultMerchants {
		merchants[m] = true
	}
	users := map[string]bool{"USR-1": true, "USR-2": true, "USR-3": true, "USR-4": true, "USR-5": true}

	ids := make(map[string]bool)
	var small, medium, large int
	for _, req := range ds.Requests {
		require.NoError(t, req.Validate(decimal.NewFromInt(10000)))
		assert.True(t, merchants[req.Merchant], req.Merchant)
		assert.True(t, users[req.UserID], req.UserID)
		assert.Equal(t, "USD", req.Currency)
		assert.False(t, ids[req.ID], "duplicate id %s", req.ID)
		ids[req.ID] = true
		assert.Equal(t, req.Amount.String(), req.Amount.Round(2).String())

		switch {
		case req.Amount.LessThanOrEqual(decimal.NewFromInt(100)):
			small++
		case req.Amount.LessThanOrEqual(decimal.NewFromInt(500)):
			medium++
		default:
			large++
			assert.True(t, req.Amount.LessThanOrEqual(decimal.NewFromInt(1000)))
		}
	}

	assert.InDelta(t, 0.70, float64(small)/2000, 0.05)
	assert.InDelta(t, 0.25, float64(medium)/2000, 0.05)
	assert.InDelta(t, 0.05, float64(large)/2000, 0.03)
}

func TestGenerateRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Config{Seed: 1}).Generate(ctx, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDatasetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ds, err := New(Config{Seed: 3}).Generate(context.Background(), 5)
	require.NoError(t, err)

	require.NoError(t, WriteDataset(ds, dir))

	fromDir, err := ReadDataset(dir)
	require.NoError(t, err)
	require.Len(t, fromDir.Requests, 5)
	for i := range ds.Requests {
		assert.Equal(t, ds.Requests[i].ID, fromDir.Requests[i].ID)
		assert.True(t, ds.Requests[i].Amount.Equal(fromDir.Requests[i].Amount))
	}

	_, err = ReadDataset(dir + "/missing.json")
	assert.Error(t, err)
}

func TestSchedulerEmitsUntilStopped(t *testing.T) {
	s := NewScheduler(nil)
	var emitted atomic.Int32
	require.NoError(t, s.Start(context.Background(), 5*time.Millisecond, func(context.Context) error {
		emitted.Add(1)
		return nil
	}))
	assert.True(t, s.IsRunning())
	assert.Equal(t, 5*time.Millisecond, s.Interval())
	assert.ErrorIs(t, s.Start(context.Background(), time.Millisecond, nil), ErrAlreadyRunning)

	require.Eventually(t, func() bool { return emitted.Load() >= 3 }, time.Second, time.Millisecond)

	assert.True(t, s.Stop())
	after := emitted.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, emitted.Load())
	assert.False(t, s.IsRunning())
	assert.False(t, s.Stop())
}

func TestSchedulerStopLetsInFlightEmissionFinish(t *testing.T) {
	s := NewScheduler(nil)
	started := make(chan struct{})
	var finished atomic.Bool
	var sawCancel atomic.Bool

	require.NoError(t, s.Start(context.Background(), time.Millisecond, func(ctx context.Context) error {
		if finished.Load() {
			return nil
		}
		select {
		case started <- struct{}{}:
		default:
			return nil
		}
		time.Sleep(30 * time.Millisecond)
		sawCancel.Store(ctx.Err() != nil)
		finished.Store(true)
		return nil
	}))

	<-started
	s.Stop()
	assert.True(t, finished.Load())
	assert.False(t, sawCancel.Load())
}

func TestSchedulerRejectsBadInterval(t *testing.T) {
	assert.Error(t, NewScheduler(nil).Start(context.Background(), 0, nil))
}

func TestSchedulerReleasesRunAfterParentCancel(t *testing.T) {
	s := NewScheduler(nil)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx, time.Millisecond, func(context.Context) error { return nil }))
	require.True(t, s.IsRunning())

	cancel()
	require.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, time.Millisecond)
	assert.Zero(t, s.Interval())
	assert.False(t, s.Stop())

	require.NoError(t, s.Start(context.Background(), time.Millisecond, func(context.Context) error { return nil }))
	assert.True(t, s.Stop())
}
