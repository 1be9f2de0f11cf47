// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/testall/core/logger"
	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the minimum length of an account password
const MinPasswordLength = 6

// AuthenticatorBuilder is a helper builder for NewAuthenticator
type AuthenticatorBuilder struct {
	// Store persists accounts and sessions
	Store Store
	// Secret is the HS256 signing secret
	Secret string
	// Expiry is the validity of an access token, default 1h
	Expiry time.Duration
	// Issuer is put into the iss claim of issued tokens
	Issuer string
	// Autoconfirm confirms accounts at sign up, so that they can login right away
	Autoconfirm bool
	// Now is the clock, defaults to time.Now
	Now func() time.Time
}

// Authenticator signs accounts up, logs them in and validates access tokens
type Authenticator struct {
	store       Store
	secret      []byte
	expiry      time.Duration
	issuer      string
	autoconfirm bool
	now         func() time.Time
}

// Token is an issued access token
type Token struct {
	AccessToken string
	ExpiresIn   int
	ExpiresAt   time.Time
}

// Claims are the claims of an access token
type Claims struct {
	Email     string `json:"email"`
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	jwt.StandardClaims
}

// NewAuthenticator creates an authenticator. It panics without store or secret.
func NewAuthenticator(ab *AuthenticatorBuilder) *Authenticator {
	if ab.Store == nil {
		panic("store missing")
	}
	if len(ab.Secret) == 0 {
		panic("jwt secret missing")
	}
	a := &Authenticator{
		store:       ab.Store,
		secret:      []byte(ab.Secret),
		expiry:      ab.Expiry,
		issuer:      ab.Issuer,
		autoconfirm: ab.Autoconfirm,
		now:         ab.Now,
	}
	if a.expiry <= 0 {
		a.expiry = time.Hour
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Autoconfirm returns true if new accounts can login right away
func (a *Authenticator) Autoconfirm() bool {
	return a.autoconfirm
}

// SignUp creates a new account
func (a *Authenticator) SignUp(ctx context.Context, email, password string) (*Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if address, err := mail.ParseAddress(email); err != nil || address.Address != email {
		return nil, ErrInvalidEmail
	}
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("cannot hash password: %w", err)
	}
	now := a.now().UTC()
	account := &Account{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
	}
	if a.autoconfirm {
		account.ConfirmedAt = &now
	}
	if err = a.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Infoln("created account", account.ID)
	return account, nil
}

// Login checks the password of an account and starts a new session
func (a *Authenticator) Login(ctx context.Context, email, password string) (*Account, *Token, error) {
	account, err := a.store.AccountByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, ErrNoSuchAccount) {
		return nil, nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, nil, err
	}
	if bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)) != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if account.ConfirmedAt == nil {
		return nil, nil, ErrEmailNotConfirmed
	}
	token, err := a.StartSession(ctx, account)
	if err != nil {
		return nil, nil, err
	}
	return account, token, nil
}

// StartSession creates a session for the account and issues an access token for it
func (a *Authenticator) StartSession(ctx context.Context, account *Account) (*Token, error) {
	now := a.now().UTC()
	session := &Session{
		ID:        uuid.New(),
		AccountID: account.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(a.expiry),
	}
	if err := a.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	claims := Claims{
		Email:     account.Email,
		SessionID: session.ID.String(),
		Role:      RoleAuthenticated,
		StandardClaims: jwt.StandardClaims{
			Subject:   account.ID.String(),
			Issuer:    a.issuer,
			IssuedAt:  now.Unix(),
			ExpiresAt: session.ExpiresAt.Unix(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return nil, fmt.Errorf("cannot sign token: %w", err)
	}
	return &Token{
		AccessToken: signed,
		ExpiresIn:   int(a.expiry / time.Second),
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// Authenticate validates an access token and returns its authorization. Tokens of revoked or expired
// sessions are rejected with ErrInvalidToken.
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (*Authorization, error) {
	claims := &Claims{}
	parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}, SkipClaimsValidation: true}
	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	now := a.now()
	if !claims.VerifyExpiresAt(now.Unix(), true) {
		return nil, ErrInvalidToken
	}
	accountID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	sessionID, err := uuid.Parse(claims.SessionID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	session, err := a.store.Session(ctx, sessionID)
	if errors.Is(err, ErrNoSuchSession) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	if session.AccountID != accountID || !session.Valid(now) {
		return nil, ErrInvalidToken
	}
	return &Authorization{
		AccountID: accountID,
		Email:     claims.Email,
		SessionID: sessionID,
		Role:      claims.Role,
	}, nil
}

// Logout revokes the session of the authorization
func (a *Authenticator) Logout(ctx context.Context, auth *Authorization) error {
	if auth == nil {
		return ErrNoSuchSession
	}
	return a.store.RevokeSession(ctx, auth.SessionID, a.now().UTC())
}

// Account returns the account of the authorization
func (a *Authenticator) Account(ctx context.Context, auth *Authorization) (*Account, error) {
	if auth == nil {
		return nil, ErrNoSuchAccount
	}
	return a.store.AccountByID(ctx, auth.AccountID)
}

// JwtMiddlewareBuilder is a helper builder for NewJwtMiddleware
type JwtMiddlewareBuilder struct {
	Authenticator *Authenticator
	// AnonymousTokens are bearer tokens which are accepted without authorization, typically the anon key
	AnonymousTokens []string
	// OnInvalidToken writes the response for a request with an invalid token. Defaults to a plain 401.
	OnInvalidToken func(w http.ResponseWriter, r *http.Request)
}

// NewJwtMiddleware returns a middleware handler to validate JWT bearer tokens.
//
// Requests without a bearer token, or with one of the anonymous tokens, pass through without
// authorization. Requests with a valid token get its Authorization in their context. Requests with
// an invalid token are rejected with http.StatusUnauthorized.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	if jmb.Authenticator == nil {
		panic("authenticator missing")
	}
	anonymous := map[string]bool{}
	for _, t := range jmb.AnonymousTokens {
		anonymous[t] = true
	}
	onInvalid := jmb.OnInvalidToken
	if onInvalid == nil {
		onInvalid = func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
		}
	}

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := BearerToken(r)
			if tokenString == "" || anonymous[tokenString] {
				h.ServeHTTP(w, r)
				return
			}
			rlog := logger.FromContext(r.Context())
			auth, err := jmb.Authenticator.Authenticate(r.Context(), tokenString)
			if errors.Is(err, ErrInvalidToken) {
				rlog.Debugln("rejected invalid token")
				onInvalid(w, r)
				return
			}
			if err != nil {
				rlog.WithError(err).Errorln("Error 4723: cannot authenticate token")
				http.Error(w, "Error 4723", http.StatusInternalServerError)
				return
			}
			ctx := ContextWithAuthorization(r.Context(), auth)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, auth.Email)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken returns the bearer token of the request's Authorization header, or an empty string
func BearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) == 0 || bearer == "null" {
		return ""
	}
	if len(bearer) >= 7 && strings.EqualFold(bearer[:7], "bearer ") {
		return strings.TrimSpace(bearer[7:])
	}
	return bearer
}
