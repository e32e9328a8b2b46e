package ledger

import "errors"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidGrant = errors.New("invalid grant")

	// ErrPersistence is transient; callers should answer with a retryable status.
	ErrPersistence = errors.New("ledger persistence failure")

	ErrClaimNotFound    = errors.New("pending claim not found")
	ErrClaimUnavailable = errors.New("pending claim already redeemed or expired")
)
