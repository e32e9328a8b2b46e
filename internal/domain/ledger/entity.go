package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the type of ledger mutation a payment produces.
type Kind string

const (
	KindCredits    Kind = "credits"
	KindMembership Kind = "membership"
)

// Outcome of an apply. AlreadyApplied is a successful no-op.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
)

// Source names the entry point that triggered an apply.
type Source string

const (
	SourceWebhook    Source = "webhook"
	SourceVerifier   Source = "verifier"
	SourceReconciler Source = "reconciler"
	SourceClaim      Source = "claim"
	SourceManual     Source = "manual"
)

// Grant is one confirmed payment, ready to be applied to a user.
type Grant struct {
	// PaymentID is the provider session or invoice id and the idempotency key.
	PaymentID      string
	UserID         uuid.UUID
	Kind           Kind
	Credits        int
	TierID         string
	Months         int
	Renewal        bool
	SubscriptionID string
	Description    string
	Source         Source
	EffectiveAt    time.Time
}

// Validate checks the grant is complete enough to apply. UserID is not
// checked here; deferred grants have none yet.
func (g Grant) Validate() error {
	if strings.TrimSpace(g.PaymentID) == "" {
		return fmt.Errorf("%w: payment id is required", ErrInvalidGrant)
	}
	switch g.Kind {
	case KindCredits:
		if g.Credits <= 0 {
			return fmt.Errorf("%w: credits must be positive", ErrInvalidGrant)
		}
	case KindMembership:
		if strings.TrimSpace(g.TierID) == "" {
			return fmt.Errorf("%w: tier is required", ErrInvalidGrant)
		}
		if g.Months <= 0 {
			return fmt.Errorf("%w: months must be positive", ErrInvalidGrant)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidGrant, g.Kind)
	}
	return nil
}

// ExpiresAt is the membership expiry for a fresh (non-renewal) grant.
func (g Grant) ExpiresAt() time.Time {
	return g.EffectiveAt.AddDate(0, g.Months, 0)
}

func (g Grant) describe() string {
	if d := strings.TrimSpace(g.Description); d != "" {
		return d
	}
	if g.Kind == KindMembership {
		return fmt.Sprintf("membership %s (%d months)", g.TierID, g.Months)
	}
	return fmt.Sprintf("purchase of %d credits", g.Credits)
}

// Cancellation deactivates a membership. SubscriptionID wins over UserID when set.
type Cancellation struct {
	UserID         uuid.UUID
	SubscriptionID string
	EventID        string
}

// PaymentState is how far a payment has got into the ledger.
type PaymentState string

const (
	PaymentUnseen  PaymentState = ""
	PaymentApplied PaymentState = "applied"
	PaymentParked  PaymentState = "parked"
)

type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimRedeemed ClaimStatus = "redeemed"
	ClaimExpired  ClaimStatus = "expired"
)

// Claim holds a paid session that could not be attributed to a user yet.
// It keeps everything the grant needs, including the subscription a later
// cancellation will name.
type Claim struct {
	ID             string        `db:"id"`
	SessionID      string        `db:"session_id"`
	Kind           Kind          `db:"kind"`
	Credits        int           `db:"credits"`
	TierID         string        `db:"tier"`
	Months         int           `db:"months"`
	Renewal        bool          `db:"renewal"`
	SubscriptionID string        `db:"subscription_id"`
	Status         ClaimStatus   `db:"status"`
	Reason         string        `db:"reason"`
	RedeemedBy     uuid.NullUUID `db:"redeemed_by"`
	CreatedAt      time.Time     `db:"created_at"`
	RedeemedAt     *time.Time    `db:"redeemed_at"`
	ExpiresAt      time.Time     `db:"expires_at"`
}

// Grant rebuilds the grant a claim stands for, attributed to userID.
func (c Claim) Grant(userID uuid.UUID, at time.Time) Grant {
	return Grant{
		PaymentID:      c.SessionID,
		UserID:         userID,
		Kind:           c.Kind,
		Credits:        c.Credits,
		TierID:         c.TierID,
		Months:         c.Months,
		Renewal:        c.Renewal,
		SubscriptionID: c.SubscriptionID,
		Source:         SourceClaim,
		EffectiveAt:    at,
	}
}
