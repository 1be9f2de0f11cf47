// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/relabs-tech/testall/core/csql"
)

// PostgresStore is a Store backed by the tables "account" and "session" in the database schema
type PostgresStore struct {
	db *csql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates the account and session tables if they do not exist yet.
// It panics if the tables cannot be created.
func NewPostgresStore(db *csql.DB) *PostgresStore {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS ` + db.Table("account") + ` (
account_id uuid PRIMARY KEY,
email text NOT NULL UNIQUE,
password_hash bytea NOT NULL,
created_at timestamptz NOT NULL,
confirmed_at timestamptz
);
CREATE TABLE IF NOT EXISTS ` + db.Table("session") + ` (
session_id uuid PRIMARY KEY,
account_id uuid NOT NULL REFERENCES ` + db.Table("account") + `(account_id) ON DELETE CASCADE,
created_at timestamptz NOT NULL,
expires_at timestamptz NOT NULL,
revoked_at timestamptz
);`)
	if err != nil {
		panic(err)
	}
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateAccount(ctx context.Context, account *Account) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO `+p.db.Table("account")+` (account_id,email,password_hash,created_at,confirmed_at) VALUES($1,$2,$3,$4,$5);`,
		account.ID, strings.ToLower(account.Email), account.PasswordHash, account.CreatedAt, account.ConfirmedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("cannot create account: %w", err)
	}
	return nil
}

func (p *PostgresStore) queryAccount(ctx context.Context, where string, arg interface{}) (*Account, error) {
	account := &Account{}
	var confirmedAt sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT account_id,email,password_hash,created_at,confirmed_at FROM `+p.db.Table("account")+` WHERE `+where+`=$1;`, arg).
		Scan(&account.ID, &account.Email, &account.PasswordHash, &account.CreatedAt, &confirmedAt)
	if err == csql.ErrNoRows {
		return nil, ErrNoSuchAccount
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read account: %w", err)
	}
	if confirmedAt.Valid {
		account.ConfirmedAt = &confirmedAt.Time
	}
	return account, nil
}

func (p *PostgresStore) AccountByEmail(ctx context.Context, email string) (*Account, error) {
	return p.queryAccount(ctx, "email", strings.ToLower(email))
}

func (p *PostgresStore) AccountByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	return p.queryAccount(ctx, "account_id", id)
}

func (p *PostgresStore) CreateSession(ctx context.Context, session *Session) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO `+p.db.Table("session")+` (session_id,account_id,created_at,expires_at) VALUES($1,$2,$3,$4);`,
		session.ID, session.AccountID, session.CreatedAt, session.ExpiresAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return ErrNoSuchAccount
	}
	if err != nil {
		return fmt.Errorf("cannot create session: %w", err)
	}
	return nil
}

func (p *PostgresStore) Session(ctx context.Context, id uuid.UUID) (*Session, error) {
	session := &Session{}
	var revokedAt sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT session_id,account_id,created_at,expires_at,revoked_at FROM `+p.db.Table("session")+` WHERE session_id=$1;`, id).
		Scan(&session.ID, &session.AccountID, &session.CreatedAt, &session.ExpiresAt, &revokedAt)
	if err == csql.ErrNoRows {
		return nil, ErrNoSuchSession
	}
	if err != nil {
		return nil, fmt.Errorf("cannot read session: %w", err)
	}
	if revokedAt.Valid {
		session.RevokedAt = &revokedAt.Time
	}
	return session, nil
}

func (p *PostgresStore) RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE `+p.db.Table("session")+` SET revoked_at=COALESCE(revoked_at,$2) WHERE session_id=$1;`, id, at)
	if err != nil {
		return fmt.Errorf("cannot revoke session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNoSuchSession
	}
	return nil
}
