// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package access provides accounts, sessions and access tokens.

An Authenticator signs accounts up, logs them in and turns bearer tokens back into an
Authorization. Tokens are HS256 JSON web tokens carrying the account ID as subject, the
email and the ID of the session they belong to. Logging out revokes the session, which
invalidates every token issued for it.

Authorizations are added to a request context with

	ctx = access.ContextWithAuthorization(ctx, auth)

and retrieved with

	auth := access.AuthorizationFromContext(ctx)
*/
package access

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyAuthorization contextKey = "_authorization_"
)

// Errors returned by the Authenticator and the stores
var (
	ErrAccountExists      = errors.New("User already registered")
	ErrNoSuchAccount      = errors.New("no such account")
	ErrInvalidCredentials = errors.New("Invalid login credentials")
	ErrEmailNotConfirmed  = errors.New("Email not confirmed")
	ErrNoSuchSession      = errors.New("no such session")
	ErrInvalidToken       = errors.New("invalid JWT")
	ErrWeakPassword       = errors.New("Password should be at least 6 characters.")
	ErrInvalidEmail       = errors.New("Unable to validate email address: invalid format")
)

// Authorization is a context object which stores the identity of an authenticated account
type Authorization struct {
	AccountID uuid.UUID `json:"account_id"`
	Email     string    `json:"email"`
	SessionID uuid.UUID `json:"session_id"`
	Role      string    `json:"role"`
}

// RoleAuthenticated is the role of every signed in account
const RoleAuthenticated = "authenticated"

// HasRole returns true if the authorization carries the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	return a != nil && a.Role == role
}

// ContextWithAuthorization returns a new context with the given authorization
func ContextWithAuthorization(ctx context.Context, auth *Authorization) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, auth)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	auth, _ := ctx.Value(contextKeyAuthorization).(*Authorization)
	return auth
}
