package ledger

import "errors"

var (
	// ErrInsufficientFunds is returned when a debit would take a balance
	// below zero. The wallet is left untouched.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount is returned for negative or zero amounts where a
	// positive one is required.
	ErrInvalidAmount = errors.New("invalid amount")
)
