package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yogaspace/yogaspace-api/internal/domain/user"
	"github.com/yogaspace/yogaspace-api/internal/pkg/jwt"
	"github.com/yogaspace/yogaspace-api/internal/pkg/logger"
	"github.com/yogaspace/yogaspace-api/internal/pkg/password"
)

type OTPConfig struct {
	TTL            time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
}

// OTPService handles phone login with one-time codes.
type OTPService struct {
	store  CodeStore
	sender Sender
	users  user.Repository
	jwt    *jwt.Service
	cfg    OTPConfig
}

// NewOTPService creates auth service
func NewOTPService(store CodeStore, sender Sender, users user.Repository, jwtSvc *jwt.Service, cfg OTPConfig) *OTPService {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if sender == nil {
		sender = LogSender{}
	}
	return &OTPService{store: store, sender: sender, users: users, jwt: jwtSvc, cfg: cfg}
}

// LoginResult is returned after a successful verification.
type LoginResult struct {
	User        *user.User
	AccessToken string
	ExpiresAt   time.Time
	IsNewUser   bool
}

// Send issues a fresh code for phone, replacing any earlier one.
func (s *OTPService) Send(ctx context.Context, phone string) error {
	phone = normalizePhone(phone)
	if phone == "" {
		return ErrInvalidPhone
	}

	ok, err := s.store.AcquireCooldown(ctx, phone, s.cfg.ResendCooldown)
	if err != nil {
		return fmt.Errorf("otp cooldown: %w", err)
	}
	if !ok {
		return ErrResendCooldown
	}

	code, err := generateNumericCode()
	if err != nil {
		return fmt.Errorf("generate code: %w", err)
	}
	hash, err := password.HashCode(code)
	if err != nil {
		return fmt.Errorf("hash code: %w", err)
	}
	if err := s.store.Save(ctx, phone, hash, s.cfg.TTL); err != nil {
		return err
	}

	if err := s.sender.Send(ctx, phone, code); err != nil {
		_ = s.store.Delete(ctx, phone)
		logger.FromContext(ctx).Error().Err(err).Str("phone", maskPhone(phone)).Msg("otp delivery failed")
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	logger.FromContext(ctx).Info().Str("phone", maskPhone(phone)).Msg("otp code sent")
	return nil
}

// Verify checks code for phone and logs the user in, creating the account
// on first login.
func (s *OTPService) Verify(ctx context.Context, phone, code string) (*LoginResult, error) {
	phone = normalizePhone(phone)
	if phone == "" {
		return nil, ErrInvalidPhone
	}

	rec, err := s.store.Get(ctx, phone)
	if errors.Is(err, ErrCodeNotFound) {
		return nil, ErrInvalidCode
	}
	if err != nil {
		return nil, fmt.Errorf("load code: %w", err)
	}
	if rec.Attempts >= s.cfg.MaxAttempts {
		_ = s.store.Delete(ctx, phone)
		return nil, ErrTooManyAttempts
	}

	if !password.VerifyCode(code, rec.Hash) {
		attempts, err := s.store.IncrementAttempts(ctx, phone)
		if errors.Is(err, ErrCodeNotFound) {
			return nil, ErrInvalidCode
		}
		if err != nil {
			return nil, fmt.Errorf("count attempt: %w", err)
		}
		if attempts >= s.cfg.MaxAttempts {
			_ = s.store.Delete(ctx, phone)
			return nil, ErrTooManyAttempts
		}
		return nil, ErrInvalidCode
	}

	// Only the request that removes the code may log in with it.
	consumed, err := s.store.Consume(ctx, phone, rec.Hash)
	if err != nil {
		return nil, fmt.Errorf("consume code: %w", err)
	}
	if !consumed {
		return nil, ErrInvalidCode
	}

	u, isNew, err := s.findOrCreate(ctx, phone)
	if err != nil {
		return nil, err
	}
	if u.IsBanned {
		return nil, ErrUserBanned
	}

	token, expiresAt, err := s.jwt.GenerateAccessToken(u.ID, string(u.Role), u.IsBanned)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}

	logger.FromContext(ctx).Info().
		Str("user_id", u.ID.String()).
		Bool("new_user", isNew).
		Msg("otp login")
	return &LoginResult{User: u, AccessToken: token, ExpiresAt: expiresAt, IsNewUser: isNew}, nil
}

func (s *OTPService) findOrCreate(ctx context.Context, phone string) (*user.User, bool, error) {
	u, err := s.users.GetByPhone(ctx, phone)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, user.ErrUserNotFound) {
		return nil, false, err
	}

	u, err = s.users.CreateWithPhone(ctx, phone)
	if errors.Is(err, user.ErrPhoneExists) {
		// Lost a race with a concurrent first login.
		u, err = s.users.GetByPhone(ctx, phone)
		return u, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}
