package membership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository interface {
	Current(ctx context.Context, userID uuid.UUID) (*Membership, error)
	ExpireLapsed(ctx context.Context, now time.Time, grace time.Duration) (int64, error)
}

type PostgresRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewRepository(db *sqlx.DB, timeout time.Duration) *PostgresRepository {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &PostgresRepository{db: db, timeout: timeout}
}

func (r *PostgresRepository) Current(ctx context.Context, userID uuid.UUID) (*Membership, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var m Membership
	err := r.db.GetContext(ctx2, &m, `
		SELECT id, user_id, tier, is_active, start_date, expiry_date, subscription_id,
		       related_payment_id, deactivated_at, deactivation_reason, created_at, updated_at
		FROM memberships
		WHERE user_id = $1 AND is_active
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoMembership
	}
	if err != nil {
		return nil, fmt.Errorf("%w: current membership: %v", ErrInternal, err)
	}
	return &m, nil
}

// ExpireLapsed deactivates memberships past expiry. Subscription-backed rows
// get grace so a late renewal invoice can still extend them.
func (r *PostgresRepository) ExpireLapsed(ctx context.Context, now time.Time, grace time.Duration) (int64, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE memberships
		SET is_active = false, deactivated_at = $1, deactivation_reason = 'expired', updated_at = now()
		WHERE is_active
		  AND expiry_date + CASE WHEN subscription_id IS NULL THEN interval '0' ELSE make_interval(secs => $2) END < $1
	`, now, grace.Seconds())
	if err != nil {
		return 0, fmt.Errorf("%w: expire memberships: %v", ErrInternal, err)
	}
	return res.RowsAffected()
}
