// Package store persists durable user records in Postgres. Sessions live
// in Redis; this is only the create-or-update target the auth handler calls
// when it sees an identity with no existing session.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrUserNotFound = errors.New("store: user not found")

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// User is the application's durable user shape. ID is the server-side
// uuid primary key; PrivyID is the identity provider's subject.
type User struct {
	ID            string
	PrivyID       string
	Email         string
	WalletAddress string
	Role          string
	CreatedAt     time.Time
}

// UpsertUser creates the user row for a provider subject or refreshes its
// email/wallet columns, returning the stored row either way. The role
// column is never overwritten by provider data; it is managed by admins.
func (s *Store) UpsertUser(ctx context.Context, u User) (*User, error) {
	privyID := strings.TrimSpace(u.PrivyID)
	if privyID == "" {
		return nil, fmt.Errorf("store: upsert user: privy id is required")
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO users (privy_id, email, wallet_address)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (privy_id) DO UPDATE SET
			email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email),
			wallet_address = COALESCE(NULLIF(EXCLUDED.wallet_address, ''), users.wallet_address)
		RETURNING id::text, privy_id, COALESCE(email, ''), COALESCE(wallet_address, ''), COALESCE(role, ''), created_at
	`, privyID, strings.TrimSpace(u.Email), strings.TrimSpace(u.WalletAddress))

	stored, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("store: upsert user privy_id=%s: %w", privyID, err)
	}
	return stored, nil
}

// GetUserByPrivyID fetches the durable row for a provider subject.
func (s *Store) GetUserByPrivyID(ctx context.Context, privyID string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id::text, privy_id, COALESCE(email, ''), COALESCE(wallet_address, ''), COALESCE(role, ''), created_at
		FROM users WHERE privy_id = $1
	`, strings.TrimSpace(privyID))

	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("store: get user privy_id=%s: %w", privyID, err)
	}
	return u, nil
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.PrivyID, &u.Email, &u.WalletAddress, &u.Role, &u.CreatedAt); err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(u.ID); err != nil {
		return nil, fmt.Errorf("unexpected user id %q: %w", u.ID, err)
	}
	return &u, nil
}
