package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/yogaspace/yogaspace-api/internal/pkg/database"
)

const defaultQueryTimeout = 3 * time.Second

// errDuplicatePayment signals the purchase unique index fired inside a
// transaction; the transaction is aborted and the payment counts as applied.
var errDuplicatePayment = errors.New("duplicate purchase transaction")

// Store persists ledger mutations. Every method is atomic on its own.
type Store interface {
	ApplyCredits(ctx context.Context, g Grant) (Outcome, error)
	ApplyMembership(ctx context.Context, g Grant) (Outcome, error)
	CancelMembership(ctx context.Context, c Cancellation) (Outcome, error)
	// CreateClaim inserts c unless a claim for the session exists or the
	// payment was already applied; the stored claim (if any) is returned.
	CreateClaim(ctx context.Context, c Claim) (*Claim, Outcome, error)
	RedeemClaim(ctx context.Context, sessionID string, userID uuid.UUID, at time.Time) (*Claim, Outcome, error)
	ExpireClaims(ctx context.Context, now time.Time) (int, error)
	ListPendingClaims(ctx context.Context, limit int) ([]Claim, error)
	PaymentState(ctx context.Context, paymentID string) (PaymentState, error)
}

// Repository is the Postgres Store.
type Repository struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewRepository(db *sqlx.DB, timeout time.Duration) *Repository {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Repository{db: db, timeout: timeout}
}

func (r *Repository) ApplyCredits(ctx context.Context, g Grant) (Outcome, error) {
	return r.applyInTx(ctx, g)
}

func (r *Repository) ApplyMembership(ctx context.Context, g Grant) (Outcome, error) {
	return r.applyInTx(ctx, g)
}

func (r *Repository) applyInTx(ctx context.Context, g Grant) (Outcome, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("%w: begin tx: %v", ErrPersistence, err)
	}
	defer tx.Rollback()

	outcome, err := r.applyTx(ctx2, tx, g)
	if errors.Is(err, errDuplicatePayment) {
		return OutcomeAlreadyApplied, nil
	}
	if err != nil || outcome == OutcomeAlreadyApplied {
		return outcome, err
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("%w: commit tx: %v", ErrPersistence, err)
	}
	return OutcomeApplied, nil
}

// applyTx claims the payment id and performs the mutation within tx.
func (r *Repository) applyTx(ctx context.Context, tx *sqlx.Tx, g Grant) (Outcome, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO payment_applications (payment_id, user_id, kind, source)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (payment_id) DO NOTHING
	`, g.PaymentID, g.UserID, string(g.Kind), string(g.Source))
	if err != nil {
		return "", mapError("claim payment", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("%w: rows affected: %v", ErrPersistence, err)
	}
	if rows == 0 {
		return OutcomeAlreadyApplied, nil
	}

	// A payment applied directly closes any claim parked for it.
	if _, err := tx.ExecContext(ctx, `
		UPDATE pending_claims
		SET status = 'redeemed', redeemed_by = $2, redeemed_at = now()
		WHERE session_id = $1 AND status = 'pending'
	`, g.PaymentID, g.UserID); err != nil {
		return "", mapError("close claim", err)
	}

	switch g.Kind {
	case KindCredits:
		err = r.creditTx(ctx, tx, g)
	case KindMembership:
		err = r.membershipTx(ctx, tx, g)
	default:
		err = fmt.Errorf("%w: unknown kind %q", ErrInvalidGrant, g.Kind)
	}
	if err != nil {
		return "", err
	}
	return OutcomeApplied, nil
}

func (r *Repository) creditTx(ctx context.Context, tx *sqlx.Tx, g Grant) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET credit_balance = credit_balance + $2, updated_at = now()
		WHERE id = $1
	`, g.UserID, g.Credits)
	if err != nil {
		return mapError("update user balance", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: rows affected: %v", ErrPersistence, err)
	}
	if rows == 0 {
		return ErrUserNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (user_id, amount, tx_type, description, related_payment_id, occurred_at)
		VALUES ($1, $2, 'purchase', $3, $4, $5)
	`, g.UserID, g.Credits, g.describe(), g.PaymentID, g.EffectiveAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return errDuplicatePayment
		}
		return mapError("insert transaction", err)
	}
	return nil
}

// membershipTx upserts the single active membership row. A renewal extends
// from the later of the current expiry and the effective time.
func (r *Repository) membershipTx(ctx context.Context, tx *sqlx.Tx, g Grant) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO memberships (user_id, tier, is_active, start_date, expiry_date, subscription_id, related_payment_id)
		VALUES ($1, $2, true, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (user_id) WHERE is_active DO UPDATE SET
			tier = EXCLUDED.tier,
			start_date = CASE WHEN $7::boolean THEN memberships.start_date ELSE EXCLUDED.start_date END,
			expiry_date = CASE
				WHEN $7::boolean THEN GREATEST(memberships.expiry_date, EXCLUDED.start_date) + make_interval(months => $8::int)
				ELSE EXCLUDED.expiry_date
			END,
			subscription_id = COALESCE(EXCLUDED.subscription_id, memberships.subscription_id),
			related_payment_id = EXCLUDED.related_payment_id,
			updated_at = now()
	`, g.UserID, g.TierID, g.EffectiveAt, g.ExpiresAt(), g.SubscriptionID, g.PaymentID, g.Renewal, g.Months)
	if err != nil {
		return mapError("upsert membership", err)
	}
	return nil
}

func (r *Repository) CancelMembership(ctx context.Context, c Cancellation) (Outcome, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		res  sql.Result
		rows int64
		err  error
	)
	if c.SubscriptionID != "" {
		res, err = r.db.ExecContext(ctx2, `
			UPDATE memberships
			SET is_active = false, deactivated_at = now(), deactivation_reason = 'cancelled', updated_at = now()
			WHERE subscription_id = $1 AND is_active
		`, c.SubscriptionID)
		if rows, err = affected("cancel membership", res, err); err != nil {
			return "", err
		}
	}
	// Rows written before the subscription id was known only match by user.
	if rows == 0 && c.UserID != uuid.Nil {
		res, err = r.db.ExecContext(ctx2, `
			UPDATE memberships
			SET is_active = false, deactivated_at = now(), deactivation_reason = 'cancelled',
				subscription_id = COALESCE(subscription_id, NULLIF($2, '')), updated_at = now()
			WHERE user_id = $1 AND is_active
				AND (subscription_id IS NULL OR $2 = '' OR subscription_id = $2)
		`, c.UserID, c.SubscriptionID)
		if rows, err = affected("cancel membership", res, err); err != nil {
			return "", err
		}
	}

	if rows == 0 {
		return OutcomeAlreadyApplied, nil
	}
	return OutcomeApplied, nil
}

func affected(op string, res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", ErrPersistence, err)
	}
	return n, nil
}

func (r *Repository) CreateClaim(ctx context.Context, c Claim) (*Claim, Outcome, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		INSERT INTO pending_claims (id, session_id, kind, credits, tier, months, renewal, subscription_id,
			status, reason, created_at, expires_at)
		SELECT $1, $2, $3, $4::int, $5, $6::int, $7::boolean, $8, 'pending', $9, $10::timestamptz, $11::timestamptz
		WHERE NOT EXISTS (SELECT 1 FROM payment_applications WHERE payment_id = $2)
		ON CONFLICT (session_id) DO NOTHING
	`, c.ID, c.SessionID, string(c.Kind), c.Credits, c.TierID, c.Months, c.Renewal, c.SubscriptionID,
		c.Reason, c.CreatedAt, c.ExpiresAt)
	if err != nil {
		return nil, "", mapError("insert claim", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, "", fmt.Errorf("%w: rows affected: %v", ErrPersistence, err)
	}
	if rows == 1 {
		c.Status = ClaimPending
		return &c, OutcomeApplied, nil
	}

	existing, err := r.claimBySession(ctx2, r.db, c.SessionID, false)
	if errors.Is(err, ErrClaimNotFound) {
		// The payment itself was applied before any claim was needed.
		return nil, OutcomeAlreadyApplied, nil
	}
	if err != nil {
		return nil, "", err
	}
	return existing, OutcomeAlreadyApplied, nil
}

func (r *Repository) RedeemClaim(ctx context.Context, sessionID string, userID uuid.UUID, at time.Time) (*Claim, Outcome, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{})
	if err != nil {
		return nil, "", fmt.Errorf("%w: begin tx: %v", ErrPersistence, err)
	}
	defer tx.Rollback()

	claim, err := r.claimBySession(ctx2, tx, sessionID, true)
	if err != nil {
		return nil, "", err
	}

	switch {
	case claim.Status == ClaimRedeemed && claim.RedeemedBy.Valid && claim.RedeemedBy.UUID == userID:
		return claim, OutcomeAlreadyApplied, nil
	case claim.Status != ClaimPending, !at.Before(claim.ExpiresAt):
		return claim, "", ErrClaimUnavailable
	}

	outcome, err := r.applyTx(ctx2, tx, claim.Grant(userID, at))
	if errors.Is(err, errDuplicatePayment) {
		return claim, "", ErrClaimUnavailable
	}
	if err != nil {
		return nil, "", err
	}
	if outcome == OutcomeAlreadyApplied {
		// Someone else already received this payment; close the claim for them.
		if _, err := tx.ExecContext(ctx2, `
			UPDATE pending_claims
			SET status = 'redeemed', redeemed_at = $2,
				redeemed_by = (SELECT user_id FROM payment_applications WHERE payment_id = $3)
			WHERE id = $1
		`, claim.ID, at, claim.SessionID); err != nil {
			return nil, "", mapError("close claim", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, "", fmt.Errorf("%w: commit tx: %v", ErrPersistence, err)
		}
		return claim, "", ErrClaimUnavailable
	}

	if _, err := tx.ExecContext(ctx2, `
		UPDATE pending_claims
		SET status = 'redeemed', redeemed_by = $2, redeemed_at = $3
		WHERE id = $1
	`, claim.ID, userID, at); err != nil {
		return nil, "", mapError("mark claim redeemed", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("%w: commit tx: %v", ErrPersistence, err)
	}

	claim.Status = ClaimRedeemed
	claim.RedeemedBy = uuid.NullUUID{UUID: userID, Valid: true}
	claim.RedeemedAt = &at
	return claim, outcome, nil
}

func (r *Repository) ExpireClaims(ctx context.Context, now time.Time) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx2, `
		UPDATE pending_claims
		SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, mapError("expire claims", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", ErrPersistence, err)
	}
	return int(rows), nil
}

func (r *Repository) ListPendingClaims(ctx context.Context, limit int) ([]Claim, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 50
	}

	claims := make([]Claim, 0)
	err := r.db.SelectContext(ctx2, &claims, `
		SELECT id, session_id, kind, credits, tier, months, renewal, subscription_id, status, reason, redeemed_by, created_at, redeemed_at, expires_at
		FROM pending_claims
		WHERE status = 'pending'
		ORDER BY created_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, mapError("list claims", err)
	}
	return claims, nil
}

func (r *Repository) PaymentState(ctx context.Context, paymentID string) (PaymentState, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var state string
	err := r.db.GetContext(ctx2, &state, `
		SELECT CASE
			WHEN EXISTS (SELECT 1 FROM payment_applications WHERE payment_id = $1) THEN 'applied'
			WHEN EXISTS (SELECT 1 FROM pending_claims WHERE session_id = $1 AND status = 'pending') THEN 'parked'
			ELSE ''
		END
	`, paymentID)
	if err != nil {
		return PaymentUnseen, mapError("payment state", err)
	}
	return PaymentState(state), nil
}

func (r *Repository) claimBySession(ctx context.Context, q sqlx.QueryerContext, sessionID string, forUpdate bool) (*Claim, error) {
	query := `
		SELECT id, session_id, kind, credits, tier, months, renewal, subscription_id, status, reason, redeemed_by, created_at, redeemed_at, expires_at
		FROM pending_claims
		WHERE session_id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var c Claim
	if err := sqlx.GetContext(ctx, q, &c, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrClaimNotFound
		}
		return nil, mapError("get claim", err)
	}
	return &c, nil
}

// mapError turns driver errors into ledger sentinels.
func mapError(op string, err error) error {
	switch {
	case database.IsForeignKeyViolation(err):
		return ErrUserNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s timeout", ErrPersistence, op)
	default:
		return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
	}
}
