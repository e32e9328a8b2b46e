package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	"github.com/yogaspace/yogaspace-api/internal/pkg/logger"
	"github.com/yogaspace/yogaspace-api/internal/pkg/metrics"
	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
)

// Acknowledgement statuses returned to the provider with a 200.
const (
	StatusApplied        = "applied"
	StatusAlreadyApplied = "already_applied"
	StatusDeferred       = "deferred"
	StatusIgnored        = "ignored"
)

// Ledger is the part of ledger.Applier the payment flows need.
type Ledger interface {
	Apply(ctx context.Context, g ledger.Grant) (ledger.Outcome, error)
	Cancel(ctx context.Context, c ledger.Cancellation) (ledger.Outcome, error)
	Defer(ctx context.Context, g ledger.Grant, reason string) (*ledger.Claim, ledger.Outcome, error)
	Redeem(ctx context.Context, sessionID string, userID uuid.UUID) (*ledger.Claim, ledger.Outcome, error)
	ExpireClaims(ctx context.Context) (int, error)
}

// WebhookService handles provider callbacks.
type WebhookService struct {
	client    provider.Provider
	resolver  *Resolver
	ledger    Ledger
	archive   Archiver
	publisher StatusPublisher
}

func NewWebhookService(client provider.Provider, resolver *Resolver, l Ledger) *WebhookService {
	return &WebhookService{client: client, resolver: resolver, ledger: l}
}

// WithArchiver stores every verified payload before it is applied.
// Archive failures are logged and never fail the delivery.
func (s *WebhookService) WithArchiver(a Archiver) *WebhookService {
	s.archive = a
	return s
}

// WithPublisher announces settled checkout sessions to waiting pages.
func (s *WebhookService) WithPublisher(p StatusPublisher) *WebhookService {
	s.publisher = p
	return s
}

// Handle verifies and applies one delivery. A nil error means the provider
// may stop retrying; the returned status says what happened.
func (s *WebhookService) Handle(ctx context.Context, payload []byte, signature string) (string, error) {
	evt, err := s.client.ConstructEvent(payload, signature)
	if err != nil {
		metrics.WebhookEvent("unknown", "rejected")
		return "", err
	}

	l := logger.FromContext(ctx).With().Str("event_id", evt.ID).Str("event_type", evt.Type).Logger()
	ctx = logger.WithContext(ctx, &l)

	if s.archive != nil {
		if err := s.archive.Archive(ctx, evt, payload); err != nil {
			l.Warn().Err(err).Msg("webhook archive failed")
		}
	}

	status, err := s.dispatch(ctx, evt)
	if err != nil {
		metrics.WebhookEvent(evt.Type, "error")
		return "", err
	}
	metrics.WebhookEvent(evt.Type, status)
	l.Info().Str("status", status).Msg("webhook processed")
	return status, nil
}

func (s *WebhookService) dispatch(ctx context.Context, evt *provider.Event) (string, error) {
	pe, err := Classify(evt)
	if errors.Is(err, ErrUnsupportedEvent) {
		logger.FromContext(ctx).Debug().Err(err).Msg("webhook event ignored")
		return StatusIgnored, nil
	}
	if err != nil {
		return "", err
	}

	switch e := pe.(type) {
	case CheckoutCompleted:
		return s.checkoutCompleted(ctx, e)
	case SubscriptionCancelled:
		outcome, err := s.ledger.Cancel(ctx, ledger.Cancellation{
			UserID:         e.UserID,
			SubscriptionID: e.SubscriptionID,
			EventID:        e.EventID,
		})
		if err != nil {
			return "", err
		}
		return outcomeStatus(outcome), nil
	case MembershipRenewed:
		grant, err := s.resolver.RenewalGrant(e)
		if err != nil {
			return "", err
		}
		grant.Source = ledger.SourceWebhook
		return applyOrDefer(ctx, s.ledger, grant)
	}
	return "", fmt.Errorf("%w: unhandled %T", ErrUnsupportedEvent, pe)
}

func (s *WebhookService) checkoutCompleted(ctx context.Context, e CheckoutCompleted) (string, error) {
	sess := e.Session
	// Event payloads omit line items; fetch the authoritative record.
	if len(sess.Lines) == 0 {
		fetched, err := s.client.GetCheckoutSession(ctx, sess.ID)
		if err != nil {
			return "", err
		}
		sess = fetched
	}

	if !sess.IsPaid() {
		logger.FromContext(ctx).Info().
			Str("session_id", sess.ID).
			Str("payment_status", string(sess.PaymentStatus)).
			Msg("checkout completed without payment, waiting for async result")
		return StatusIgnored, nil
	}

	grant, err := s.resolver.Grant(sess)
	if err != nil {
		return "", err
	}
	grant.Source = ledger.SourceWebhook
	status, err := applyOrDefer(ctx, s.ledger, grant)
	if err != nil {
		return "", err
	}
	notifySettled(ctx, s.publisher, sess.ID, status)
	return status, nil
}

// applyOrDefer applies to the attributed user; without one, or when the user
// row is gone, the payment is parked as a claim instead of being dropped.
func applyOrDefer(ctx context.Context, l Ledger, grant ledger.Grant) (string, error) {
	if grant.UserID == uuid.Nil {
		return deferGrant(ctx, l, grant, "no payer on session")
	}

	outcome, err := l.Apply(ctx, grant)
	if errors.Is(err, ledger.ErrUserNotFound) {
		return deferGrant(ctx, l, grant, "payer not found")
	}
	if err != nil {
		return "", err
	}
	return outcomeStatus(outcome), nil
}

func deferGrant(ctx context.Context, l Ledger, grant ledger.Grant, reason string) (string, error) {
	grant.UserID = uuid.Nil
	claim, _, err := l.Defer(ctx, grant, reason)
	if err != nil {
		return "", err
	}
	if claim == nil {
		return StatusAlreadyApplied, nil
	}
	return StatusDeferred, nil
}

func outcomeStatus(o ledger.Outcome) string {
	if o == ledger.OutcomeAlreadyApplied {
		return StatusAlreadyApplied
	}
	return StatusApplied
}
