package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/domain"
)

// Memory is a process-local Store. A single mutex guards accounts and the log,
// which makes DebitAccount trivially atomic.
type Memory struct {
	mu           sync.RWMutex
	accounts     map[string]domain.Account
	transactions []domain.Transaction
	byRequest    map[string]int
	nowFn        func() time.Time
	failAppends  int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		accounts:  make(map[string]domain.Account),
		byRequest: make(map[string]int),
		nowFn:     time.Now,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (m *Memory) WithClock(nowFn func() time.Time) *Memory {
	if nowFn != nil {
		m.nowFn = nowFn
	}
	return m
}

// FailNextAppends makes the next n AppendTransaction calls fail.
func (m *Memory) FailNextAppends(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAppends = n
}

// GetAccount returns a copy of the account or ErrAccountNotFound.
func (m *Memory) GetAccount(_ context.Context, userID string) (domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return domain.Account{}, fmt.Errorf("get account %s: %w", userID, domain.ErrAccountNotFound)
	}
	return acc, nil
}

// UpsertAccount creates or replaces an account.
func (m *Memory) UpsertAccount(_ context.Context, account domain.Account) error {
	if account.UserID == "" {
		return fmt.Errorf("upsert account: user id is required")
	}
	if account.Balance.IsNegative() {
		return fmt.Errorf("upsert account %s: balance must not be negative", account.UserID)
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = m.nowFn().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.UserID] = account
	return nil
}

// DebitAccount subtracts amount when the balance covers it, otherwise it
// returns a *domain.ConflictError and leaves the balance unchanged.
func (m *Memory) DebitAccount(_ context.Context, userID string, amount decimal.Decimal) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return domain.Account{}, fmt.Errorf("debit account %s: %w", userID, domain.ErrAccountNotFound)
	}
	if !acc.Covers(amount) {
		return domain.Account{}, &domain.ConflictError{UserID: userID, Requested: amount, Available: acc.Balance}
	}
	acc.Balance = acc.Balance.Sub(amount)
	acc.UpdatedAt = m.nowFn().UTC()
	m.accounts[userID] = acc
	return acc, nil
}

// CreditAccount adds amount to an existing account.
func (m *Memory) CreditAccount(_ context.Context, userID string, amount decimal.Decimal) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[userID]
	if !ok {
		return domain.Account{}, fmt.Errorf("credit account %s: %w", userID, domain.ErrAccountNotFound)
	}
	acc.Balance = acc.Balance.Add(amount)
	acc.UpdatedAt = m.nowFn().UTC()
	m.accounts[userID] = acc
	return acc, nil
}

// AppendTransaction stores tx. A second record for the same request id is
// rejected with ErrDuplicateRequest.
func (m *Memory) AppendTransaction(_ context.Context, tx domain.Transaction) error {
	if tx.ID == "" || tx.RequestID == "" {
		return fmt.Errorf("append transaction: id and request id are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppends > 0 {
		m.failAppends--
		return fmt.Errorf("append transaction %s: store unavailable", tx.ID)
	}
	if _, exists := m.byRequest[tx.RequestID]; exists {
		return fmt.Errorf("append transaction %s: %w", tx.RequestID, domain.ErrDuplicateRequest)
	}
	tx.Flags = append([]string(nil), tx.Flags...)
	m.byRequest[tx.RequestID] = len(m.transactions)
	m.transactions = append(m.transactions, tx)
	return nil
}

// FindByRequestID looks up the record produced for a request.
func (m *Memory) FindByRequestID(_ context.Context, requestID string) (domain.Transaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, ok := m.byRequest[requestID]
	if !ok {
		return domain.Transaction{}, false, nil
	}
	return m.transactions[idx], true, nil
}

// ListTransactions returns the newest records first.
func (m *Memory) ListTransactions(_ context.Context, limit int) ([]domain.Transaction, error) {
	limit = normalizeLimit(limit)
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Transaction, 0, limit)
	for i := len(m.transactions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.transactions[i])
	}
	return out, nil
}

// CountTransactions counts records matching filter.
func (m *Memory) CountTransactions(_ context.Context, filter domain.TransactionFilter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, tx := range m.transactions {
		if filter.Matches(tx) {
			n++
		}
	}
	return n, nil
}

// MerchantStats tallies the merchant's outcomes since the given time.
func (m *Memory) MerchantStats(_ context.Context, merchant string, since time.Time) (domain.MerchantStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := domain.MerchantStats{Merchant: merchant}
	filter := domain.TransactionFilter{Merchant: merchant, Since: since}
	for _, tx := range m.transactions {
		if !filter.Matches(tx) {
			continue
		}
		stats.Total++
		if tx.Status == domain.StatusDeclined {
			stats.Declined++
		}
	}
	return stats, nil
}

// Summary aggregates every stored record. LastMinute counts records created in
// the minute before now.
func (m *Memory) Summary(_ context.Context, now time.Time) (domain.Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s domain.Summary
	approvedSum := decimal.Zero
	lastMinute := now.Add(-time.Minute)
	for _, tx := range m.transactions {
		s.TotalTransactions++
		switch tx.Status {
		case domain.StatusApproved:
			s.ApprovedTransactions++
			approvedSum = approvedSum.Add(tx.Amount)
		case domain.StatusDeclined:
			s.DeclinedTransactions++
		case domain.StatusError:
			s.ErrorTransactions++
		}
		if tx.CreatedAt.After(lastMinute) {
			s.LastMinute++
		}
	}
	s.TotalVolume = approvedSum
	if s.ApprovedTransactions > 0 {
		s.AvgApprovedAmount = approvedSum.Div(decimal.NewFromInt(s.ApprovedTransactions)).Round(2)
	}
	return s, nil
}

// VolumePerMinute buckets records created since the given time by minute.
func (m *Memory) VolumePerMinute(_ context.Context, since time.Time) ([]domain.VolumeBucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	buckets := make(map[time.Time]*domain.VolumeBucket)
	for _, tx := range m.transactions {
		if tx.CreatedAt.Before(since) {
			continue
		}
		minute := tx.CreatedAt.UTC().Truncate(time.Minute)
		b, ok := buckets[minute]
		if !ok {
			b = &domain.VolumeBucket{Minute: minute, Volume: decimal.Zero}
			buckets[minute] = b
		}
		b.TransactionCount++
		b.Volume = b.Volume.Add(tx.Amount)
	}
	out := make([]domain.VolumeBucket, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Minute.After(out[j].Minute) })
	if len(out) > 60 {
		out = out[:60]
	}
	return out, nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close(context.Context) error { return nil }
