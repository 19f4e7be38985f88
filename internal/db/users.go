package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// User is an operator account for the dashboard API.
type User struct {
	ID        string    `json:"id"`
	Handle    string    `json:"handle"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type CreateUserInput struct {
	Handle       string
	PasswordHash string
	Role         string
}

func (db *DB) CreateUser(ctx context.Context, input CreateUserInput) (*User, error) {
	id := NewID()
	role := input.Role
	if role == "" {
		role = "viewer"
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO users (id, handle, password_hash, role)
		VALUES (?, ?, ?, ?)`, id, input.Handle, input.PasswordHash, role)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return &User{ID: id, Handle: input.Handle, Role: role}, nil
}

// GetUserByHandle returns the user and its password hash, or nil when the
// handle is unknown.
func (db *DB) GetUserByHandle(ctx context.Context, handle string) (*User, string, error) {
	u := &User{}
	var passwordHash string
	err := db.QueryRowContext(ctx, `
		SELECT id, handle, password_hash, role, created_at
		FROM users WHERE handle = ?`, handle).
		Scan(&u.ID, &u.Handle, &passwordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", storageErr("reading user", err)
	}
	return u, passwordHash, nil
}
