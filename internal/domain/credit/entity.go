package credit

import (
	"time"

	"github.com/google/uuid"
)

// TxType is the kind of ledger row.
type TxType string

const (
	TxTypePurchase TxType = "purchase"
	TxTypeUsage    TxType = "usage"
	TxTypeRefund   TxType = "refund"
)

// Pagination controls simple list pagination.
type Pagination struct {
	Limit  int
	Offset int
}

// Transaction is a credit_transactions row. Amount is signed.
type Transaction struct {
	ID               uuid.UUID `db:"id" json:"id"`
	UserID           uuid.UUID `db:"user_id" json:"userId"`
	Amount           int       `db:"amount" json:"amount"`
	TxType           TxType    `db:"tx_type" json:"type"`
	Description      string    `db:"description" json:"description"`
	RelatedPaymentID *string   `db:"related_payment_id" json:"relatedPaymentId,omitempty"`
	ReferenceID      *string   `db:"reference_id" json:"referenceId,omitempty"`
	OccurredAt       time.Time `db:"occurred_at" json:"occurredAt"`
}

// SpendRequest debits credits for a booking or other usage. ReferenceID is
// the caller's idempotency key.
type SpendRequest struct {
	UserID      uuid.UUID
	Amount      int
	ReferenceID string
	Description string
}

// SpendResult reports the row written, or the earlier row for a replay.
type SpendResult struct {
	Transaction Transaction
	Balance     int
	Replayed    bool
}

// Mismatch is a user whose cached balance disagrees with the ledger sum.
type Mismatch struct {
	UserID        uuid.UUID `db:"user_id" json:"userId"`
	CachedBalance int       `db:"credit_balance" json:"cachedBalance"`
	LedgerSum     int       `db:"ledger_sum" json:"ledgerSum"`
}

func (m Mismatch) Drift() int { return m.CachedBalance - m.LedgerSum }
