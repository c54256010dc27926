package settlement

import "errors"

var (
	// ErrAlreadySettled is returned when a settlement request targets a
	// trade that has already reached, or is currently being driven to, a
	// terminal state. It is an idempotency signal, not a failure.
	ErrAlreadySettled = errors.New("trade already settled")

	// ErrNotEligible is returned when a trade has not expired yet.
	ErrNotEligible = errors.New("trade not eligible for settlement")

	// ErrInvalidTradeState is returned by admin operations targeting a
	// trade whose state does not permit them.
	ErrInvalidTradeState = errors.New("invalid trade state")

	// ErrInvalidParameters is returned when a trade request fails
	// validation.
	ErrInvalidParameters = errors.New("invalid trade parameters")
)
