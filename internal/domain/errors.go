package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountNotFound is returned when no account exists for a user.
	ErrAccountNotFound = errors.New("account not found")
	// ErrInsufficientFunds marks a debit rejected by the stored balance guard.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrDuplicateRequest is returned when a request id was already persisted.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

// ConflictError is returned by a conditional debit that lost against the stored balance.
type ConflictError struct {
	UserID    string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("debit conflict for user %s: requested %s, available %s",
		e.UserID, e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

// Unwrap lets callers match ErrInsufficientFunds.
func (e *ConflictError) Unwrap() error {
	return ErrInsufficientFunds
}
