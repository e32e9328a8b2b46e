package credit

import "errors"

var (
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrReferenceRequired   = errors.New("reference id is required")

	// ErrReferenceConflict is a spend retried under the same reference with
	// a different amount.
	ErrReferenceConflict = errors.New("reference already used with a different amount")

	ErrUserNotFound = errors.New("user not found")

	// ErrInternal wraps database failures.
	ErrInternal = errors.New("credit store failure")
)
