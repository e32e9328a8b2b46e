package auth

import "errors"

var (
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrInvalidCode     = errors.New("invalid or expired code")
	ErrTooManyAttempts = errors.New("too many attempts")
	ErrResendCooldown  = errors.New("code was sent recently")
	ErrDeliveryFailed  = errors.New("code delivery failed")
	ErrUserBanned      = errors.New("user is banned")
	ErrCodeNotFound    = errors.New("code not found")
)
