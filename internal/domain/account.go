package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds a user's spendable balance. The balance is never negative.
type Account struct {
	UserID    string          `json:"userId"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Covers reports whether the balance is at least amount.
func (a Account) Covers(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}

// ToCents converts a monetary amount into integer minor units, rounding half away from zero.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

// FromCents converts integer minor units back to a monetary amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
