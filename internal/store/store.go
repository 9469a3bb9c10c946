package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/paystream/internal/domain"
)

// Store is the source of truth for accounts and the append-only transaction log.
//
// DebitAccount must be atomic with respect to concurrent debits for the same user:
// it subtracts amount only when the stored balance covers it and otherwise returns
// a *domain.ConflictError without changing anything.
type Store interface {
	GetAccount(ctx context.Context, userID string) (domain.Account, error)
	UpsertAccount(ctx context.Context, account domain.Account) error
	DebitAccount(ctx context.Context, userID string, amount decimal.Decimal) (domain.Account, error)
	CreditAccount(ctx context.Context, userID string, amount decimal.Decimal) (domain.Account, error)

	AppendTransaction(ctx context.Context, tx domain.Transaction) error
	FindByRequestID(ctx context.Context, requestID string) (domain.Transaction, bool, error)
	ListTransactions(ctx context.Context, limit int) ([]domain.Transaction, error)

	CountTransactions(ctx context.Context, filter domain.TransactionFilter) (int64, error)
	MerchantStats(ctx context.Context, merchant string, since time.Time) (domain.MerchantStats, error)
	Summary(ctx context.Context, now time.Time) (domain.Summary, error)
	VolumePerMinute(ctx context.Context, since time.Time) ([]domain.VolumeBucket, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

// Seed creates accounts USR-1..USR-n (matching the generator's user pool) with
// the given balance when they do not yet exist.
func Seed(ctx context.Context, s Store, users int, balance decimal.Decimal, now time.Time) error {
	for i := 1; i <= users; i++ {
		userID := SeedUserID(i)
		_, err := s.GetAccount(ctx, userID)
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrAccountNotFound) {
			return fmt.Errorf("seed account %s: %w", userID, err)
		}
		if err := s.UpsertAccount(ctx, domain.Account{UserID: userID, Balance: balance, UpdatedAt: now}); err != nil {
			return err
		}
	}
	return nil
}

// SeedUserID names the i-th seeded user.
func SeedUserID(i int) string {
	return fmt.Sprintf("USR-%d", i)
}
