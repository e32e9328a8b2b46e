package auth

import (
	"time"

	"github.com/google/uuid"
)

// SendRequest for POST /auth/otp/send
type SendRequest struct {
	Phone string `json:"phone" validate:"required,max=32"`
}

// VerifyRequest for POST /auth/otp/verify
type VerifyRequest struct {
	Phone string `json:"phone" validate:"required,max=32"`
	Code  string `json:"code" validate:"required,len=6,numeric"`
}

// OTPResponse is the raw body of both OTP endpoints.
type OTPResponse struct {
	Success     bool          `json:"success"`
	Message     string        `json:"message"`
	AccessToken string        `json:"accessToken,omitempty"`
	ExpiresAt   *time.Time    `json:"expiresAt,omitempty"`
	IsNewUser   bool          `json:"isNewUser,omitempty"`
	User        *UserResponse `json:"user,omitempty"`
}

// UserResponse represents user in API response
type UserResponse struct {
	ID            uuid.UUID `json:"id"`
	Phone         string    `json:"phone"`
	Role          string    `json:"role"`
	CreditBalance int       `json:"creditBalance"`
}
