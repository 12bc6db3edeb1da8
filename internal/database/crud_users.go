// RacePulse - Race Event Analytics and Live Timing Ingestion
// Copyright 2026 J. Thom (jthom32)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jthom32/racepulse

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jthom32/racepulse/internal/models"
)

const userColumns = `id, username, password_hash, role, disabled, created_at, updated_at, last_login_at`

// CreateUser inserts a new account. Returns ErrConflict when the username
// is taken.
func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	var count int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = ?`, user.Username).Scan(&count); err != nil {
		return fmt.Errorf("failed to check username: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("username %s already exists: %w", user.Username, ErrConflict)
	}

	query := `INSERT INTO users (` + userColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.ExecContext(ctx, query,
		user.ID, user.Username, user.PasswordHash, user.Role, user.Disabled,
		user.CreatedAt, user.UpdatedAt, user.LastLoginAt)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUser fetches an account by ID.
func (db *DB) GetUser(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	user, err := scanUserRow(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	return user, err
}

// GetUserByUsername fetches an account by username for login.
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	user, err := scanUserRow(db.conn.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	return user, err
}

// ListUsers returns all accounts ordered by username.
func (db *DB) ListUsers(ctx context.Context) ([]models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users ORDER BY username`
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer closeWithLog(rows, "users rows")

	users := make([]models.User, 0)
	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// UpdateUserRole changes an account's role.
func (db *DB) UpdateUserRole(ctx context.Context, id, role string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		role, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	return requireRowAffected(result, "user")
}

// SetUserDisabled enables or disables an account. Disabled users cannot
// log in and their refresh tokens are rejected.
func (db *DB) SetUserDisabled(ctx context.Context, id string, disabled bool) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET disabled = ?, updated_at = ? WHERE id = ?`,
		disabled, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return requireRowAffected(result, "user")
}

// UpdateUserPassword replaces an account's password hash.
func (db *DB) UpdateUserPassword(ctx context.Context, id, passwordHash string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireRowAffected(result, "user")
}

// TouchUserLogin records a successful login timestamp.
func (db *DB) TouchUserLogin(ctx context.Context, id string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE users SET last_login_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

func scanUserRow(row rowScanner) (*models.User, error) {
	var user models.User
	var lastLogin sql.NullTime
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role,
		&user.Disabled, &user.CreatedAt, &user.UpdatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Time
	}
	return &user, nil
}
