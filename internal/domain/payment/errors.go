package payment

import "errors"

var (
	// ErrUnsupportedEvent is acknowledged to the provider and otherwise ignored.
	ErrUnsupportedEvent = errors.New("unsupported payment event")

	ErrUnmappedPrice     = errors.New("price not mapped to a catalog item")
	ErrPayerMismatch     = errors.New("session belongs to another user")
	ErrSessionIDRequired = errors.New("session id is required")
)
