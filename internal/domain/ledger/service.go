package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/yogaspace/yogaspace-api/internal/pkg/logger"
	"github.com/yogaspace/yogaspace-api/internal/pkg/metrics"
)

const defaultClaimTTL = 30 * 24 * time.Hour

// Applier is the single entry point that mutates credits and memberships
// for confirmed payments. Webhook, verifier and reconciler all go through it.
type Applier struct {
	store    Store
	claimTTL time.Duration
	now      func() time.Time
}

func NewApplier(store Store, claimTTL time.Duration) *Applier {
	if claimTTL <= 0 {
		claimTTL = defaultClaimTTL
	}
	return &Applier{
		store:    store,
		claimTTL: claimTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Apply mutates the ledger for g exactly once per PaymentID.
func (a *Applier) Apply(ctx context.Context, g Grant) (Outcome, error) {
	if g.EffectiveAt.IsZero() {
		g.EffectiveAt = a.now()
	}
	if err := g.Validate(); err != nil {
		return "", err
	}
	if g.UserID == uuid.Nil {
		return "", fmt.Errorf("%w: user id is required", ErrInvalidGrant)
	}

	var (
		outcome Outcome
		err     error
	)
	switch g.Kind {
	case KindCredits:
		outcome, err = a.store.ApplyCredits(ctx, g)
	case KindMembership:
		outcome, err = a.store.ApplyMembership(ctx, g)
	}

	l := logger.FromContext(ctx)
	if err != nil {
		metrics.LedgerApply(string(g.Kind), "error", string(g.Source))
		event := l.Error()
		if errors.Is(err, ErrUserNotFound) {
			event = l.Warn()
		}
		event.Err(err).
			Str("payment_id", g.PaymentID).
			Str("user_id", g.UserID.String()).
			Str("kind", string(g.Kind)).
			Str("source", string(g.Source)).
			Msg("ledger apply failed")
		return "", err
	}

	metrics.LedgerApply(string(g.Kind), string(outcome), string(g.Source))
	l.Info().
		Str("payment_id", g.PaymentID).
		Str("user_id", g.UserID.String()).
		Str("kind", string(g.Kind)).
		Int("credits", g.Credits).
		Str("tier", g.TierID).
		Str("source", string(g.Source)).
		Str("outcome", string(outcome)).
		Msg("ledger apply")
	return outcome, nil
}

// Cancel deactivates the active membership; no active membership is a no-op.
func (a *Applier) Cancel(ctx context.Context, c Cancellation) (Outcome, error) {
	if c.SubscriptionID == "" && c.UserID == uuid.Nil {
		return "", fmt.Errorf("%w: cancellation needs a subscription or user", ErrInvalidGrant)
	}

	outcome, err := a.store.CancelMembership(ctx, c)
	if err != nil {
		metrics.LedgerApply("cancellation", "error", string(SourceWebhook))
		return "", err
	}

	metrics.LedgerApply("cancellation", string(outcome), string(SourceWebhook))
	logger.FromContext(ctx).Info().
		Str("event_id", c.EventID).
		Str("subscription_id", c.SubscriptionID).
		Str("user_id", c.UserID.String()).
		Str("outcome", string(outcome)).
		Msg("membership cancellation")
	return outcome, nil
}

// Defer parks a paid grant that has no user yet as a pending claim keyed by
// session. Repeated calls return the existing claim with OutcomeAlreadyApplied;
// a nil claim means the payment was applied already.
func (a *Applier) Defer(ctx context.Context, g Grant, reason string) (*Claim, Outcome, error) {
	if err := g.Validate(); err != nil {
		return nil, "", err
	}

	now := a.now()
	claim := Claim{
		ID:             ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		SessionID:      g.PaymentID,
		Kind:           g.Kind,
		Credits:        g.Credits,
		TierID:         g.TierID,
		Months:         g.Months,
		Renewal:        g.Renewal,
		SubscriptionID: g.SubscriptionID,
		Status:         ClaimPending,
		Reason:         reason,
		CreatedAt:      now,
		ExpiresAt:      now.Add(a.claimTTL),
	}

	stored, outcome, err := a.store.CreateClaim(ctx, claim)
	if err != nil {
		return nil, "", err
	}
	if outcome == OutcomeApplied {
		metrics.PendingClaim("created")
	}

	e := logger.FromContext(ctx).Info().
		Str("session_id", g.PaymentID).
		Str("reason", reason).
		Str("outcome", string(outcome))
	if stored != nil {
		e = e.Str("claim_id", stored.ID)
	}
	e.Msg("pending claim")
	return stored, outcome, nil
}

// Redeem attributes a pending claim to userID and applies it atomically.
// A claim whose payment reached the ledger some other way is unavailable.
func (a *Applier) Redeem(ctx context.Context, sessionID string, userID uuid.UUID) (*Claim, Outcome, error) {
	if userID == uuid.Nil {
		return nil, "", fmt.Errorf("%w: user id is required", ErrInvalidGrant)
	}

	claim, outcome, err := a.store.RedeemClaim(ctx, sessionID, userID, a.now())
	if err != nil {
		return nil, "", err
	}
	if outcome == OutcomeApplied {
		metrics.PendingClaim("redeemed")
	}
	metrics.LedgerApply(string(claim.Kind), string(outcome), string(SourceClaim))

	logger.FromContext(ctx).Info().
		Str("claim_id", claim.ID).
		Str("session_id", sessionID).
		Str("user_id", userID.String()).
		Str("outcome", string(outcome)).
		Msg("pending claim redeemed")
	return claim, outcome, nil
}

// ExpireClaims marks claims past their TTL as expired.
func (a *Applier) ExpireClaims(ctx context.Context) (int, error) {
	n, err := a.store.ExpireClaims(ctx, a.now())
	if err != nil {
		return 0, err
	}
	metrics.PendingClaims("expired", n)
	return n, nil
}

// PaymentState reports whether paymentID was applied or is waiting as a claim.
func (a *Applier) PaymentState(ctx context.Context, paymentID string) (PaymentState, error) {
	return a.store.PaymentState(ctx, paymentID)
}

func (a *Applier) PendingClaims(ctx context.Context, limit int) ([]Claim, error) {
	return a.store.ListPendingClaims(ctx, limit)
}
