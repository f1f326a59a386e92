package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/erazemk/podari/internal/model"
)

const userColumns = `id, name, email, password_hash, role, institution, points, created_at, updated_at`

// CreateUser creates a new user with a zero balance. Email is stored lowercased.
// Institution is kept for reviewers only.
func CreateUser(ctx context.Context, db DBTX, name, email, passwordHash, role, institution string) (*model.User, error) {
	if role != model.RoleReviewer {
		institution = ""
	}

	result, err := db.ExecContext(ctx,
		`INSERT INTO users (name, email, password_hash, role, institution) VALUES (?, ?, ?, ?, ?)`,
		name, strings.ToLower(strings.TrimSpace(email)), passwordHash, role, institution,
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("creating user: %w", ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting user id: %w", err)
	}

	return GetUser(ctx, db, id)
}

// GetUser returns a user by ID, or nil if it does not exist.
func GetUser(ctx context.Context, db DBTX, id int64) (*model.User, error) {
	u := &model.User{}
	err := db.GetContext(ctx, u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetUserByEmail returns a user by email (case-insensitive), or nil.
func GetUserByEmail(ctx context.Context, db DBTX, email string) (*model.User, error) {
	u := &model.User{}
	err := db.GetContext(ctx, u,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, strings.TrimSpace(email),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return u, nil
}

// ListUsers returns all users, optionally filtered by role.
func ListUsers(ctx context.Context, db DBTX, role string) ([]model.User, error) {
	users := []model.User{}
	var err error
	if role != "" {
		err = db.SelectContext(ctx, &users,
			`SELECT `+userColumns+` FROM users WHERE role = ? ORDER BY id`, role)
	} else {
		err = db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY id`)
	}
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	return users, nil
}

// ListUserIDsByRole returns the IDs of all users holding one of the roles.
func ListUserIDsByRole(ctx context.Context, db DBTX, roles ...string) ([]int64, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT id FROM users WHERE role IN (?) ORDER BY id`, roles)
	if err != nil {
		return nil, fmt.Errorf("building role query: %w", err)
	}
	var ids []int64
	if err := db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("listing user ids by role: %w", err)
	}
	return ids, nil
}

// CountUsers returns the number of registered users.
func CountUsers(ctx context.Context, db DBTX) (int64, error) {
	var n int64
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM users`); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// UpdateUserRole changes a user's role. Institution is cleared unless the new
// role is reviewer.
func UpdateUserRole(ctx context.Context, db DBTX, id int64, role string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE users
		 SET role = ?,
		     institution = CASE WHEN ? = 'reviewer' THEN institution ELSE '' END,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		role, role, id,
	)
	if err != nil {
		return fmt.Errorf("updating user role: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// UpdateUserPassword updates a user's password hash.
func UpdateUserPassword(ctx context.Context, db DBTX, id int64, passwordHash string) error {
	res, err := db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// CreditPoints adds amount to a user's balance.
func CreditPoints(ctx context.Context, db DBTX, id, amount int64) error {
	res, err := db.ExecContext(ctx,
		`UPDATE users SET points = points + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		amount, id,
	)
	if err != nil {
		return fmt.Errorf("crediting points: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// DebitPoints subtracts amount from a user's balance if the balance covers it.
// The check and the decrement are a single statement.
func DebitPoints(ctx context.Context, db DBTX, id, amount int64) error {
	res, err := db.ExecContext(ctx,
		`UPDATE users SET points = points - ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND points >= ?`,
		amount, id, amount,
	)
	if err != nil {
		return fmt.Errorf("debiting points: %w", err)
	}
	if err := expectOne(res, ErrInsufficientPoints); err != nil {
		if errors.Is(err, ErrInsufficientPoints) {
			if u, gerr := GetUser(ctx, db, id); gerr == nil && u == nil {
				return ErrNotFound
			}
		}
		return err
	}
	return nil
}
