package risk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/paystream/internal/domain"
)

type stubVelocity struct {
	count int64
	err   error
}

func (s stubVelocity) Observe(_ context.Context, userID string, window time.Duration) (domain.VelocityCounter, error) {
	if s.err != nil {
		return domain.VelocityCounter{}, s.err
	}
	return domain.VelocityCounter{UserID: userID, WindowMinutes: int(window.Minutes()), Count: s.count}, nil
}

type stubMerchants struct {
	stats domain.MerchantStats
	err   error
}

func (s stubMerchants) MerchantStats(context.Context, string, time.Duration) (domain.MerchantStats, error) {
	return s.stats, s.err
}

type stubCounter struct {
	declined int64
	err      error
}

func (s stubCounter) CountTransactions(_ context.Context, filter domain.TransactionFilter) (int64, error) {
	if filter.Status != domain.StatusDeclined {
		return 0, errors.New("unexpected filter")
	}
	return s.declined, s.err
}

type panicCounter struct{}

func (panicCounter) CountTransactions(context.Context, domain.TransactionFilter) (int64, error) {
	panic("nil pointer somewhere")
}

type recordingSink struct {
	mu       sync.Mutex
	errors   []error
	security []string
}

func (r *recordingSink) RecordError(_ context.Context, err error, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
}

func (r *recordingSink) RecordSecurityEvent(_ context.Context, event string, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.security = append(r.security, event)
}

var noon = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testConfig() Config {
	return Config{Threshold: DefaultThreshold, VelocityWindow: time.Hour, Location: time.UTC}
}

func request(amount string) domain.TransactionRequest {
	return domain.TransactionRequest{
		ID:          "REQ-1",
		UserID:      "USR-1",
		Amount:      decimal.RequireFromString(amount),
		Merchant:    "Amazon",
		Currency:    "USD",
		RequestedAt: noon,
	}
}

func newEngine(cfg Config, v VelocityObserver, m MerchantHistory, c TransactionCounter, sink *recordingSink) *Engine {
	return NewEngine(cfg, v, m, c, sink).WithClock(func() time.Time { return noon })
}

func TestAnalyze_LowRisk(t *testing.T) {
	e := newEngine(testConfig(), stubVelocity{count: 1}, stubMerchants{}, stubCounter{}, &recordingSink{})

	a, err := e.Analyze(context.Background(), request("42.00"))
	require.NoError(t, err)
	assert.Zero(t, a.RiskScore)
	assert.False(t, a.IsFraudulent)
	assert.Empty(t, a.Flags)
	assert.Empty(t, a.Reasons)
}

// Velocity 55 and a round 6000 both land in their top tier.
func TestAnalyze_VelocityAndAmountTopTier(t *testing.T) {
	e := newEngine(testConfig(), stubVelocity{count: 55}, stubMerchants{}, stubCounter{}, &recordingSink{})

	a, err := e.Analyze(context.Background(), request("6000"))
	require.NoError(t, err)

	assert.InDelta(t, (0.4+0.2+0.05)/6, a.RiskScore, 1e-12)
	assert.False(t, a.IsFraudulent)
	assert.Equal(t, []string{domain.FlagVelocity, domain.FlagAmount}, a.Flags)
	assert.Equal(t, "Very high velocity: 55 transactions in 60 minutes", a.Reasons[0])
	assert.Equal(t, "Very high transaction amount: $6000", a.Reasons[1])
}

func TestAnalyze_AllSignalsHigh(t *testing.T) {
	sink := &recordingSink{}
	night := time.Date(2024, 3, 1, 3, 30, 0, 0, time.UTC)
	e := newEngine(testConfig(),
		stubVelocity{count: 60},
		stubMerchants{stats: domain.MerchantStats{Total: 20, Declined: 15}},
		stubCounter{declined: 4},
		sink,
	)

	req := request("7000")
	req.RequestedAt = night
	a, err := e.Analyze(context.Background(), req)
	require.NoError(t, err)

	want := (0.4 + 0.25 + 0.3 + 0.15 + 0.25) / 6
	assert.InDelta(t, want, a.RiskScore, 1e-12)
	assert.Equal(t, []string{
		domain.FlagVelocity, domain.FlagAmount, domain.FlagMerchant, domain.FlagTimePattern, domain.FlagBehavior,
	}, a.Flags)
	assert.Len(t, a.Reasons, 5)
	assert.Contains(t, a.Reasons[2], "75.0%")
	assert.Equal(t, "Unusual transaction time: 3:00", a.Reasons[3])
	assert.Empty(t, sink.security, "score is below the security event level")
}

func TestAnalyze_ThresholdIsInclusive(t *testing.T) {
	// Runtime float arithmetic, matching how the engine accumulates.
	velocity, amount := 0.4, 0.2
	cfg := testConfig()
	cfg.Threshold = (velocity + amount) / 6

	e := newEngine(cfg, stubVelocity{count: 51}, stubMerchants{}, stubCounter{}, &recordingSink{})
	a, err := e.Analyze(context.Background(), request("5000.01"))
	require.NoError(t, err)
	assert.Equal(t, cfg.Threshold, a.RiskScore)
	assert.True(t, a.IsFraudulent)

	cfg.Threshold = 0.11
	e = newEngine(cfg, stubVelocity{count: 51}, stubMerchants{}, stubCounter{}, &recordingSink{})
	a, err = e.Analyze(context.Background(), request("5000.01"))
	require.NoError(t, err)
	assert.False(t, a.IsFraudulent)
}

func TestAnalyze_FailingChecksContributeNothing(t *testing.T) {
	sink := &recordingSink{}
	boom := errors.New("store unavailable")
	e := newEngine(testConfig(),
		stubVelocity{err: boom},
		stubMerchants{err: boom},
		stubCounter{err: boom},
		sink,
	)

	a, err := e.Analyze(context.Background(), request("6000"))
	require.NoError(t, err)
	assert.InDelta(t, 0.25/6, a.RiskScore, 1e-12)
	assert.Equal(t, []string{domain.FlagAmount}, a.Flags)
	assert.Len(t, sink.errors, 3)
}

func TestAnalyze_RecoversPanic(t *testing.T) {
	e := newEngine(testConfig(), stubVelocity{count: 1}, stubMerchants{}, panicCounter{}, &recordingSink{})

	_, err := e.Analyze(context.Background(), request("10"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
}

func TestAnalyze_CancelledContext(t *testing.T) {
	e := newEngine(testConfig(), stubVelocity{}, stubMerchants{}, stubCounter{}, &recordingSink{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Analyze(ctx, request("10"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCheckAmount(t *testing.T) {
	cases := []struct {
		amount  string
		score   float64
		flagged bool
	}{
		{"100", 0, false},
		{"2000", 0, false},
		{"2000.01", 0.1, false},
		{"2100", 0.15, false},
		{"5000", 0.15, false},
		{"5000.50", 0.2, true},
		{"5100", 0.25, true},
	}
	for _, tc := range cases {
		t.Run(tc.amount, func(t *testing.T) {
			res, err := checkAmount(context.Background(), request(tc.amount))
			require.NoError(t, err)
			assert.InDelta(t, tc.score, res.score, 1e-12)
			assert.Equal(t, tc.flagged, res.flagged)
		})
	}
}

func TestCheckVelocityTiers(t *testing.T) {
	cases := []struct {
		count   int64
		score   float64
		flagged bool
	}{
		{10, 0, false},
		{11, 0.1, false},
		{21, 0.2, true},
		{50, 0.2, true},
		{51, 0.4, true},
	}
	for _, tc := range cases {
		e := newEngine(testConfig(), stubVelocity{count: tc.count}, nil, nil, &recordingSink{})
		res, err := e.checkVelocity(context.Background(), request("1"))
		require.NoError(t, err)
		assert.Equal(t, tc.score, res.score, "count %d", tc.count)
		assert.Equal(t, tc.flagged, res.flagged, "count %d", tc.count)
	}
}

func TestCheckMerchantNeedsHistory(t *testing.T) {
	e := newEngine(testConfig(), nil, stubMerchants{stats: domain.MerchantStats{Total: 10, Declined: 10}}, nil, &recordingSink{})
	res, err := e.checkMerchant(context.Background(), request("1"))
	require.NoError(t, err)
	assert.Zero(t, res.score)

	e = newEngine(testConfig(), nil, stubMerchants{stats: domain.MerchantStats{Total: 100, Declined: 31}}, nil, &recordingSink{})
	res, err = e.checkMerchant(context.Background(), request("1"))
	require.NoError(t, err)
	assert.Equal(t, 0.15, res.score)
	assert.True(t, res.flagged)
}

func TestCheckTimePatternUsesLocation(t *testing.T) {
	cfg := testConfig()
	cfg.Location = time.FixedZone("UTC-9", -9*3600)
	e := newEngine(cfg, nil, nil, nil, &recordingSink{})

	req := request("1")
	req.RequestedAt = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	res, err := e.checkTimePattern(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.flagged, "12:00 UTC is 03:00 at UTC-9")

	req.RequestedAt = time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC)
	res, err = e.checkTimePattern(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.flagged)
}
