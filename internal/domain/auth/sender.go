package auth

import (
	"context"

	"github.com/yogaspace/yogaspace-api/internal/pkg/logger"
)

// Sender delivers a code to a phone.
type Sender interface {
	Send(ctx context.Context, phone, code string) error
}

// LogSender writes codes to the log. For development only; production wires
// an SMS vendor behind Sender.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, phone, code string) error {
	logger.FromContext(ctx).Info().
		Str("phone", maskPhone(phone)).
		Str("code", code).
		Msg("otp code (log sender)")
	return nil
}
