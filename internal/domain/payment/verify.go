package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	"github.com/yogaspace/yogaspace-api/internal/pkg/logger"
	"github.com/yogaspace/yogaspace-api/internal/pkg/metrics"
	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
)

// Verification statuses.
const (
	VerifySuccess = "success"
	VerifyPending = "pending"
	VerifyError   = "error"
)

// MembershipInfo describes the membership a session bought.
type MembershipInfo struct {
	TierID string `json:"tierId"`
	Months int    `json:"months"`
}

// VerifyResult is the outcome of a client-side verification.
type VerifyResult struct {
	Status     string
	Verified   bool
	Credits    int
	Membership *MembershipInfo
	Outcome    ledger.Outcome
	ClaimID    string
	Message    string
}

// VerifyService re-confirms a session with the provider when the browser
// returns from checkout. It races the webhook on purpose; the ledger keeps
// the second arrival a no-op.
type VerifyService struct {
	client   provider.Provider
	resolver *Resolver
	ledger   Ledger
	notifier Notifier
}

func NewVerifyService(client provider.Provider, resolver *Resolver, l Ledger, n Notifier) *VerifyService {
	if n == nil {
		n = NoopNotifier{}
	}
	return &VerifyService{client: client, resolver: resolver, ledger: l, notifier: n}
}

// Verify checks sessionID for caller. caller is uuid.Nil for anonymous visits.
func (s *VerifyService) Verify(ctx context.Context, sessionID string, caller uuid.UUID) (*VerifyResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, ErrSessionIDRequired
	}

	l := logger.FromContext(ctx).With().Str("session_id", sessionID).Logger()
	ctx = logger.WithContext(ctx, &l)

	sess, err := s.client.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		metrics.PaymentVerify("provider_error")
		return nil, err
	}

	if !sess.IsPaid() {
		return s.notPaid(ctx, sess), nil
	}

	grant, err := s.resolver.Grant(sess)
	if err != nil {
		metrics.PaymentVerify("unmapped")
		return nil, err
	}
	grant.Source = ledger.SourceVerifier

	result := &VerifyResult{Status: VerifySuccess, Verified: true}
	describe(result, grant)

	if caller == uuid.Nil {
		return s.anonymous(ctx, grant, result)
	}

	if grant.UserID != uuid.Nil && grant.UserID != caller {
		metrics.PaymentVerify("payer_mismatch")
		l.Warn().
			Str("payer_id", grant.UserID.String()).
			Str("caller_id", caller.String()).
			Msg("verification by a different user")
		return nil, ErrPayerMismatch
	}

	grant.UserID = caller
	outcome, err := s.ledger.Apply(ctx, grant)
	if err != nil {
		metrics.PaymentVerify("error")
		return nil, err
	}

	result.Outcome = outcome
	result.Message = "Payment confirmed"
	metrics.PaymentVerify(VerifySuccess)
	return result, nil
}

func (s *VerifyService) notPaid(ctx context.Context, sess *provider.Session) *VerifyResult {
	if sess.Status == provider.SessionExpired {
		metrics.PaymentVerify(VerifyError)
		return &VerifyResult{Status: VerifyError, Message: "Checkout session expired before payment"}
	}

	if err := s.notifier.NotifyPending(ctx, sess.ID); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Msg("publish pending session failed")
	}
	metrics.PaymentVerify(VerifyPending)
	return &VerifyResult{Status: VerifyPending, Message: "Payment is still being processed"}
}

// anonymous never mutates the ledger. A session started by a signed-in
// user is left to the webhook; an unattributed one becomes a claim.
func (s *VerifyService) anonymous(ctx context.Context, grant ledger.Grant, result *VerifyResult) (*VerifyResult, error) {
	if grant.UserID != uuid.Nil {
		result.Message = "Payment confirmed. Sign in to see it on your account"
		metrics.PaymentVerify("anonymous")
		return result, nil
	}

	claim, outcome, err := s.ledger.Defer(ctx, grant, "unauthenticated verification")
	if err != nil {
		metrics.PaymentVerify("error")
		return nil, err
	}

	result.Outcome = outcome
	if claim != nil {
		result.ClaimID = claim.ID
		result.Message = "Payment confirmed. Sign in to claim it"
	} else {
		result.Message = "Payment confirmed"
	}
	metrics.PaymentVerify("deferred")
	return result, nil
}

func describe(r *VerifyResult, g ledger.Grant) {
	switch g.Kind {
	case ledger.KindCredits:
		r.Credits = g.Credits
	case ledger.KindMembership:
		r.Membership = &MembershipInfo{TierID: g.TierID, Months: g.Months}
	}
}

// IsRetryable reports whether the caller should try again later.
func IsRetryable(err error) bool {
	return errors.Is(err, provider.ErrProviderUnavailable) || errors.Is(err, ledger.ErrPersistence)
}
