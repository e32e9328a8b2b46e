package user

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

// Repository defines user data access interface
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	CreateWithPhone(ctx context.Context, phone string) (*User, error)
}

const selectUser = `
	SELECT id, phone, email, role, credit_balance, is_banned, created_at, updated_at
	FROM users`

// repository implements Repository
type repository struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRepository creates new user repository
func NewRepository(db *sqlx.DB, timeout time.Duration) Repository {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &repository{db: db, timeout: timeout}
}

// GetByID returns user by ID
func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.get(ctx, selectUser+` WHERE id = $1`, id)
}

// GetByPhone returns user by normalized phone
func (r *repository) GetByPhone(ctx context.Context, phone string) (*User, error) {
	return r.get(ctx, selectUser+` WHERE phone = $1`, phone)
}

// CreateWithPhone registers a student account for phone.
func (r *repository) CreateWithPhone(ctx context.Context, phone string) (*User, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var u User
	err := r.db.GetContext(ctx2, &u, `
		INSERT INTO users (phone, role)
		VALUES ($1, $2)
		RETURNING id, phone, email, role, credit_balance, is_banned, created_at, updated_at
	`, phone, RoleStudent)
	if database.IsUniqueViolation(err) {
		return nil, ErrPhoneExists
	}
	if err != nil {
		return nil, fmt.Errorf("user repository create: %w", err)
	}
	return &u, nil
}

func (r *repository) get(ctx context.Context, query string, arg interface{}) (*User, error) {
	ctx2, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var u User
	if err := r.db.GetContext(ctx2, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user repository get: %w", err)
	}
	return &u, nil
}
