package credit

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

type Repository interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (int, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, p Pagination) ([]Transaction, error)
	Spend(ctx context.Context, req SpendRequest) (*SpendResult, error)
	Audit(ctx context.Context) ([]Mismatch, error)
}

// CreditRepository reads the ledger and writes usage rows. Purchases are
// written by the ledger package.
type CreditRepository struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewRepository(db *sqlx.DB, timeout time.Duration) *CreditRepository {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &CreditRepository{db: db, timeout: timeout}
}

func (r *CreditRepository) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var balance int
	err := r.db.GetContext(ctx2, &balance, `SELECT credit_balance FROM users WHERE id = $1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUserNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("%w: get balance: %v", ErrInternal, err)
	}
	return balance, nil
}

func (r *CreditRepository) ListTransactions(ctx context.Context, userID uuid.UUID, p Pagination) ([]Transaction, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	transactions := make([]Transaction, 0)
	err := r.db.SelectContext(ctx2, &transactions, `
		SELECT id, user_id, amount, tx_type, description, related_payment_id, reference_id, occurred_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY occurred_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list transactions: %v", ErrInternal, err)
	}
	return transactions, nil
}

// Spend locks the user row, so concurrent spends for one user serialize and
// a replayed reference is seen before the balance moves.
func (r *CreditRepository) Spend(ctx context.Context, req SpendRequest) (*SpendResult, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx2, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", ErrInternal, err)
	}
	defer tx.Rollback()

	var balance int
	err = tx.GetContext(ctx2, &balance, `SELECT credit_balance FROM users WHERE id = $1 FOR UPDATE`, req.UserID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lock user row: %v", ErrInternal, err)
	}

	existing, err := usageByReference(ctx2, tx, req.UserID, req.ReferenceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if -existing.Amount != req.Amount {
			return nil, ErrReferenceConflict
		}
		return &SpendResult{Transaction: *existing, Balance: balance, Replayed: true}, nil
	}

	if balance < req.Amount {
		return nil, ErrInsufficientCredits
	}

	if err := tx.GetContext(ctx2, &balance, `
		UPDATE users
		SET credit_balance = credit_balance - $2, updated_at = now()
		WHERE id = $1
		RETURNING credit_balance
	`, req.UserID, req.Amount); err != nil {
		if database.IsCheckViolation(err) {
			return nil, ErrInsufficientCredits
		}
		return nil, fmt.Errorf("%w: update user balance: %v", ErrInternal, err)
	}

	var row Transaction
	if err := tx.GetContext(ctx2, &row, `
		INSERT INTO credit_transactions (user_id, amount, tx_type, description, reference_id)
		VALUES ($1, $2, 'usage', $3, $4)
		RETURNING id, user_id, amount, tx_type, description, related_payment_id, reference_id, occurred_at
	`, req.UserID, -req.Amount, req.Description, req.ReferenceID); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrReferenceConflict
		}
		return nil, fmt.Errorf("%w: insert transaction: %v", ErrInternal, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit tx: %v", ErrInternal, err)
	}
	return &SpendResult{Transaction: row, Balance: balance}, nil
}

func usageByReference(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID, referenceID string) (*Transaction, error) {
	var row Transaction
	err := tx.GetContext(ctx, &row, `
		SELECT id, user_id, amount, tx_type, description, related_payment_id, reference_id, occurred_at
		FROM credit_transactions
		WHERE user_id = $1 AND tx_type = 'usage' AND reference_id = $2
	`, userID, referenceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup reference: %v", ErrInternal, err)
	}
	return &row, nil
}

// Audit lists users whose cached balance differs from their transaction sum.
func (r *CreditRepository) Audit(ctx context.Context) ([]Mismatch, error) {
	ctx2, cancel := context.WithTimeout(ctx, 10*r.timeout)
	defer cancel()

	out := make([]Mismatch, 0)
	err := r.db.SelectContext(ctx2, &out, `
		SELECT u.id AS user_id, u.credit_balance, COALESCE(SUM(t.amount), 0) AS ledger_sum
		FROM users u
		LEFT JOIN credit_transactions t ON t.user_id = u.id
		GROUP BY u.id, u.credit_balance
		HAVING u.credit_balance <> COALESCE(SUM(t.amount), 0)
		ORDER BY u.id
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: audit: %v", ErrInternal, err)
	}
	return out, nil
}
