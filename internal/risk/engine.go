package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/vanshika/paystream/internal/domain"
	"github.com/vanshika/paystream/internal/logging"
)

// DefaultThreshold is the composite score at or above which a request is fraudulent.
const DefaultThreshold = 0.85

// securityEventScore is the score above which an assessment is reported to the sink.
const securityEventScore = 0.5

// Config tunes the engine.
type Config struct {
	Threshold      float64
	VelocityWindow time.Duration
	Location       *time.Location
}

// DefaultConfig mirrors the service defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:      DefaultThreshold,
		VelocityWindow: time.Hour,
		Location:       time.Local,
	}
}

// VelocityObserver counts a user's requests in a trailing window, including the current one.
type VelocityObserver interface {
	Observe(ctx context.Context, userID string, window time.Duration) (domain.VelocityCounter, error)
}

// MerchantHistory reports a merchant's recent outcomes.
type MerchantHistory interface {
	MerchantStats(ctx context.Context, merchant string, window time.Duration) (domain.MerchantStats, error)
}

// TransactionCounter is the store aggregate used for user behaviour.
type TransactionCounter interface {
	CountTransactions(ctx context.Context, filter domain.TransactionFilter) (int64, error)
}

// Engine scores requests with six independent checks and averages them.
type Engine struct {
	cfg       Config
	velocity  VelocityObserver
	merchants MerchantHistory
	history   TransactionCounter
	sink      logging.Sink
	nowFn     func() time.Time
}

// NewEngine wires an Engine. A nil sink discards events.
func NewEngine(cfg Config, velocity VelocityObserver, merchants MerchantHistory, history TransactionCounter, sink logging.Sink) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.VelocityWindow <= 0 {
		cfg.VelocityWindow = time.Hour
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if sink == nil {
		sink = logging.Discard
	}
	return &Engine{
		cfg:       cfg,
		velocity:  velocity,
		merchants: merchants,
		history:   history,
		sink:      sink,
		nowFn:     time.Now,
	}
}

// WithClock overrides the time provider.
func (e *Engine) WithClock(nowFn func() time.Time) *Engine {
	if nowFn != nil {
		e.nowFn = nowFn
	}
	return e
}

// Threshold returns the configured fraud threshold.
func (e *Engine) Threshold() float64 {
	return e.cfg.Threshold
}

// Analyze returns the composite assessment for req. A failing check contributes
// zero and raises no flag. An error is returned only when the engine itself
// cannot run, including a recovered panic; callers substitute
// domain.FallbackAssessment.
func (e *Engine) Analyze(ctx context.Context, req domain.TransactionRequest) (assessment domain.RiskAssessment, err error) {
	defer func() {
		if r := recover(); r != nil {
			assessment = domain.RiskAssessment{}
			err = fmt.Errorf("risk engine panic: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("risk engine: %w", err)
	}

	checks := e.checks()
	assessment = domain.RiskAssessment{Flags: []string{}, Reasons: []string{}}
	var total float64
	for _, c := range checks {
		res, checkErr := c.run(ctx, req)
		if checkErr != nil {
			e.sink.RecordError(ctx, checkErr, "check", c.name, "requestId", req.ID, "userId", req.UserID)
			continue
		}
		total += res.score
		if res.flagged {
			assessment.Flags = append(assessment.Flags, c.flag)
			assessment.Reasons = append(assessment.Reasons, res.reason)
		}
	}

	assessment.RiskScore = clamp(total / float64(len(checks)))
	assessment.IsFraudulent = assessment.RiskScore >= e.cfg.Threshold

	if assessment.RiskScore > securityEventScore {
		e.sink.RecordSecurityEvent(ctx, "high-risk transaction detected",
			"requestId", req.ID,
			"userId", req.UserID,
			"riskScore", assessment.RiskScore,
			"flags", assessment.Flags,
		)
	}
	return assessment, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
