// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthenticator(autoconfirm bool) (*Authenticator, *time.Time) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := NewAuthenticator(&AuthenticatorBuilder{
		Store:       NewMemoryStore(),
		Secret:      "test-secret",
		Expiry:      time.Hour,
		Autoconfirm: autoconfirm,
		Now:         func() time.Time { return now },
	})
	return a, &now
}

func TestAuthenticator_SignUpAndLogin(t *testing.T) {
	a, _ := newTestAuthenticator(true)
	ctx := context.Background()

	account, err := a.SignUp(ctx, " Alice@Example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", account.Email)
	assert.NotNil(t, account.ConfirmedAt)
	assert.NotEqual(t, []byte("secret1"), account.PasswordHash)

	_, err = a.SignUp(ctx, "alice@example.com", "other-secret")
	assert.ErrorIs(t, err, ErrAccountExists)

	_, err = a.SignUp(ctx, "not-an-email", "secret1")
	assert.ErrorIs(t, err, ErrInvalidEmail)
	_, err = a.SignUp(ctx, "bob@example.com", "123")
	assert.ErrorIs(t, err, ErrWeakPassword)

	_, _, err = a.Login(ctx, "alice@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = a.Login(ctx, "nobody@example.com", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	loggedIn, token, err := a.Login(ctx, "ALICE@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, account.ID, loggedIn.ID)
	assert.Equal(t, 3600, token.ExpiresIn)

	auth, err := a.Authenticate(ctx, token.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, account.ID, auth.AccountID)
	assert.Equal(t, "alice@example.com", auth.Email)
	assert.True(t, auth.HasRole(RoleAuthenticated))
}

func TestAuthenticator_Unconfirmed(t *testing.T) {
	a, _ := newTestAuthenticator(false)
	ctx := context.Background()
	account, err := a.SignUp(ctx, "carol@example.com", "secret1")
	require.NoError(t, err)
	assert.Nil(t, account.ConfirmedAt)
	_, _, err = a.Login(ctx, "carol@example.com", "secret1")
	assert.ErrorIs(t, err, ErrEmailNotConfirmed)
}

func TestAuthenticator_LogoutAndExpiry(t *testing.T) {
	a, now := newTestAuthenticator(true)
	ctx := context.Background()
	_, err := a.SignUp(ctx, "dave@example.com", "secret1")
	require.NoError(t, err)

	_, token, err := a.Login(ctx, "dave@example.com", "secret1")
	require.NoError(t, err)
	auth, err := a.Authenticate(ctx, token.AccessToken)
	require.NoError(t, err)

	require.NoError(t, a.Logout(ctx, auth))
	_, err = a.Authenticate(ctx, token.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, token, err = a.Login(ctx, "dave@example.com", "secret1")
	require.NoError(t, err)
	*now = now.Add(2 * time.Hour)
	_, err = a.Authenticate(ctx, token.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = a.Authenticate(ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidToken)

	other := NewAuthenticator(&AuthenticatorBuilder{Store: NewMemoryStore(), Secret: "other"})
	_, err = other.Authenticate(ctx, token.AccessToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJwtMiddleware(t *testing.T) {
	a, _ := newTestAuthenticator(true)
	ctx := context.Background()
	_, err := a.SignUp(ctx, "erin@example.com", "secret1")
	require.NoError(t, err)
	_, token, err := a.Login(ctx, "erin@example.com", "secret1")
	require.NoError(t, err)

	router := mux.NewRouter()
	router.Use(NewJwtMiddleware(&JwtMiddlewareBuilder{Authenticator: a, AnonymousTokens: []string{"anon"}}))
	var seen *Authorization
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		seen = AuthorizationFromContext(r.Context())
	})

	serve := func(bearer string) int {
		seen = nil
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if bearer != "" {
			r.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, r)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve(""))
	assert.Nil(t, seen)
	assert.Equal(t, http.StatusOK, serve("anon"))
	assert.Nil(t, seen)
	assert.Equal(t, http.StatusOK, serve(token.AccessToken))
	require.NotNil(t, seen)
	assert.Equal(t, "erin@example.com", seen.Email)
	assert.Equal(t, http.StatusUnauthorized, serve("invalid"))
}

func TestMemoryStore_Sessions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a, _ := newTestAuthenticator(true)
	account, err := a.SignUp(ctx, "frank@example.com", "secret1")
	require.NoError(t, err)

	session := &Session{AccountID: account.ID}
	assert.ErrorIs(t, s.CreateSession(ctx, session), ErrNoSuchAccount)
	require.NoError(t, s.CreateAccount(ctx, account))
	assert.ErrorIs(t, s.CreateAccount(ctx, account), ErrAccountExists)

	_, err = s.Session(ctx, session.ID)
	assert.ErrorIs(t, err, ErrNoSuchSession)
	assert.ErrorIs(t, s.RevokeSession(ctx, session.ID, time.Now()), ErrNoSuchSession)
}
