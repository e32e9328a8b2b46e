package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Role represents user role in the system
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// User represents a user account (matches users table)
type User struct {
	ID            uuid.UUID      `db:"id"`
	Phone         sql.NullString `db:"phone"`
	Email         sql.NullString `db:"email"`
	Role          Role           `db:"role"`
	CreditBalance int            `db:"credit_balance"`
	IsBanned      bool           `db:"is_banned"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

// IsAdmin returns true if user is an admin
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// IsActive returns true if user is not banned
func (u *User) IsActive() bool {
	return !u.IsBanned
}
