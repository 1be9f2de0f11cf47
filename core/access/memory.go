// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store which keeps everything in memory. It is meant for
// local development and tests.
type MemoryStore struct {
	mutex    sync.RWMutex
	accounts map[uuid.UUID]Account
	byEmail  map[string]uuid.UUID
	sessions map[uuid.UUID]Session
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: map[uuid.UUID]Account{},
		byEmail:  map[string]uuid.UUID{},
		sessions: map[uuid.UUID]Session{},
	}
}

func (m *MemoryStore) CreateAccount(ctx context.Context, account *Account) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	email := strings.ToLower(account.Email)
	if _, ok := m.byEmail[email]; ok {
		return ErrAccountExists
	}
	m.accounts[account.ID] = *account
	m.byEmail[email] = account.ID
	return nil
}

func (m *MemoryStore) AccountByEmail(ctx context.Context, email string) (*Account, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	id, ok := m.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNoSuchAccount
	}
	account := m.accounts[id]
	return &account, nil
}

func (m *MemoryStore) AccountByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	account, ok := m.accounts[id]
	if !ok {
		return nil, ErrNoSuchAccount
	}
	return &account, nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, session *Session) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.accounts[session.AccountID]; !ok {
		return ErrNoSuchAccount
	}
	m.sessions[session.ID] = *session
	return nil
}

func (m *MemoryStore) Session(ctx context.Context, id uuid.UUID) (*Session, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrNoSuchSession
	}
	return &session, nil
}

func (m *MemoryStore) RevokeSession(ctx context.Context, id uuid.UUID, at time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return ErrNoSuchSession
	}
	if session.RevokedAt == nil {
		session.RevokedAt = &at
		m.sessions[id] = session
	}
	return nil
}
