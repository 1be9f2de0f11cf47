// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Account is a registered user
type Account struct {
	ID           uuid.UUID
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
	ConfirmedAt  *time.Time
}

// Session is a login of an account. Tokens are only valid while their session is neither
// expired nor revoked.
type Session struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Valid returns true if the session is usable at the given time
func (s *Session) Valid(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

// Store persists accounts and sessions
type Store interface {
	// CreateAccount stores a new account. Returns ErrAccountExists if the email is taken.
	CreateAccount(ctx context.Context, account *Account) error
	// AccountByEmail returns ErrNoSuchAccount if there is no account for email
	AccountByEmail(ctx context.Context, email string) (*Account, error)
	// AccountByID returns ErrNoSuchAccount if there is no account with id
	AccountByID(ctx context.Context, id uuid.UUID) (*Account, error)
	CreateSession(ctx context.Context, session *Session) error
	// Session returns ErrNoSuchSession if there is no session with id
	Session(ctx context.Context, id uuid.UUID) (*Session, error)
	// RevokeSession marks the session revoked. Returns ErrNoSuchSession if there is no session with id
	RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error
}
