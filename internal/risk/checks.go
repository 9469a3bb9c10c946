package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/domain"
)

type checkResult struct {
	score   float64
	flagged bool
	reason  string
}

type check struct {
	name string
	flag string
	run  func(ctx context.Context, req domain.TransactionRequest) (checkResult, error)
}

const (
	merchantWindow     = 24 * time.Hour
	merchantMinHistory = 10
	behaviorWindow     = time.Hour
)

var (
	veryHighAmount = decimal.NewFromInt(5000)
	highAmount     = decimal.NewFromInt(2000)
	roundAmount    = decimal.NewFromInt(100)
)

func (e *Engine) checks() []check {
	return []check{
		{name: "velocity", flag: domain.FlagVelocity, run: e.checkVelocity},
		{name: "amount", flag: domain.FlagAmount, run: checkAmount},
		{name: "merchant", flag: domain.FlagMerchant, run: e.checkMerchant},
		{name: "time", flag: domain.FlagTimePattern, run: e.checkTimePattern},
		{name: "behavior", flag: domain.FlagBehavior, run: e.checkBehavior},
		{name: "geographic", flag: domain.FlagGeographic, run: checkGeographic},
	}
}

func (e *Engine) checkVelocity(ctx context.Context, req domain.TransactionRequest) (checkResult, error) {
	if e.velocity == nil {
		return checkResult{}, nil
	}
	counter, err := e.velocity.Observe(ctx, req.UserID, e.cfg.VelocityWindow)
	if err != nil {
		return checkResult{}, err
	}
	minutes := int(e.cfg.VelocityWindow.Minutes())
	switch n := counter.Count; {
	case n > 50:
		return checkResult{score: 0.4, flagged: true, reason: fmt.Sprintf("Very high velocity: %d transactions in %d minutes", n, minutes)}, nil
	case n > 20:
		return checkResult{score: 0.2, flagged: true, reason: fmt.Sprintf("High velocity: %d transactions in %d minutes", n, minutes)}, nil
	case n > 10:
		return checkResult{score: 0.1, reason: fmt.Sprintf("Elevated velocity: %d transactions in %d minutes", n, minutes)}, nil
	}
	return checkResult{}, nil
}

// checkAmount keeps the round-number bonus able to raise the flag on its own
// above 5000, even though that tier is already flagged by amount alone.
func checkAmount(_ context.Context, req domain.TransactionRequest) (checkResult, error) {
	var res checkResult
	amount := req.Amount
	switch {
	case amount.GreaterThan(veryHighAmount):
		res = checkResult{score: 0.2, flagged: true, reason: fmt.Sprintf("Very high transaction amount: $%s", amount.String())}
	case amount.GreaterThan(highAmount):
		res = checkResult{score: 0.1, reason: fmt.Sprintf("High transaction amount: $%s", amount.String())}
	}

	if amount.GreaterThan(highAmount) && amount.Mod(roundAmount).IsZero() {
		res.score += 0.05
		if !res.flagged && amount.GreaterThan(veryHighAmount) {
			res.flagged = true
			res.reason = fmt.Sprintf("Unusual round number amount: $%s", amount.String())
		}
	}
	return res, nil
}

func (e *Engine) checkMerchant(ctx context.Context, req domain.TransactionRequest) (checkResult, error) {
	if e.merchants == nil {
		return checkResult{}, nil
	}
	stats, err := e.merchants.MerchantStats(ctx, req.Merchant, merchantWindow)
	if err != nil {
		return checkResult{}, err
	}
	if stats.Total <= merchantMinHistory {
		return checkResult{}, nil
	}
	rate := stats.DeclineRate()
	switch {
	case rate > 0.5:
		return checkResult{score: 0.3, flagged: true, reason: fmt.Sprintf("High decline rate for merchant: %.1f%%", rate*100)}, nil
	case rate > 0.3:
		return checkResult{score: 0.15, flagged: true, reason: fmt.Sprintf("Elevated decline rate for merchant: %.1f%%", rate*100)}, nil
	}
	return checkResult{}, nil
}

func (e *Engine) checkTimePattern(_ context.Context, req domain.TransactionRequest) (checkResult, error) {
	at := req.RequestedAt
	if at.IsZero() {
		at = e.nowFn()
	}
	hour := at.In(e.cfg.Location).Hour()
	if hour >= 2 && hour < 5 {
		return checkResult{score: 0.15, flagged: true, reason: fmt.Sprintf("Unusual transaction time: %d:00", hour)}, nil
	}
	return checkResult{}, nil
}

func (e *Engine) checkBehavior(ctx context.Context, req domain.TransactionRequest) (checkResult, error) {
	if e.history == nil {
		return checkResult{}, nil
	}
	declined, err := e.history.CountTransactions(ctx, domain.TransactionFilter{
		UserID: req.UserID,
		Status: domain.StatusDeclined,
		Since:  e.nowFn().Add(-behaviorWindow),
	})
	if err != nil {
		return checkResult{}, err
	}
	switch {
	case declined > 3:
		return checkResult{score: 0.25, flagged: true, reason: fmt.Sprintf("User has %d declined transactions in the last hour", declined)}, nil
	case declined > 1:
		return checkResult{score: 0.1, reason: fmt.Sprintf("User has %d declined transactions in the last hour", declined)}, nil
	}
	return checkResult{}, nil
}

// checkGeographic has no location signal to work with and always contributes zero.
func checkGeographic(context.Context, domain.TransactionRequest) (checkResult, error) {
	return checkResult{}, nil
}
