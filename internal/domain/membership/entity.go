package membership

import (
	"time"

	"github.com/google/uuid"
)

// Membership is the user's active or past membership row.
type Membership struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	UserID             uuid.UUID  `db:"user_id" json:"userId"`
	Tier               string     `db:"tier" json:"tier"`
	IsActive           bool       `db:"is_active" json:"isActive"`
	StartDate          time.Time  `db:"start_date" json:"startDate"`
	ExpiryDate         time.Time  `db:"expiry_date" json:"expiryDate"`
	SubscriptionID     *string    `db:"subscription_id" json:"-"`
	RelatedPaymentID   string     `db:"related_payment_id" json:"-"`
	DeactivatedAt      *time.Time `db:"deactivated_at" json:"deactivatedAt,omitempty"`
	DeactivationReason *string    `db:"deactivation_reason" json:"deactivationReason,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updatedAt"`
}

// Recurring reports whether a provider subscription renews this membership.
func (m *Membership) Recurring() bool {
	return m.SubscriptionID != nil && *m.SubscriptionID != ""
}

// DaysLeft rounds up to whole days; 0 once expired.
func (m *Membership) DaysLeft(now time.Time) int {
	left := m.ExpiryDate.Sub(now)
	if left <= 0 {
		return 0
	}
	return int((left + 24*time.Hour - 1) / (24 * time.Hour))
}
