package membership

import "errors"

var (
	// ErrNoMembership means the user has no active membership.
	ErrNoMembership = errors.New("no active membership")
	ErrInternal     = errors.New("internal error")
)
