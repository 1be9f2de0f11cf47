// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/testall/core"
	"github.com/relabs-tech/testall/core/access"
	"github.com/relabs-tech/testall/core/logger"
)

type userResponse struct {
	ID          string     `json:"id"`
	Aud         string     `json:"aud"`
	Role        string     `json:"role"`
	Email       string     `json:"email"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

type sessionResponse struct {
	AccessToken string        `json:"access_token"`
	TokenType   string        `json:"token_type"`
	ExpiresIn   int           `json:"expires_in"`
	ExpiresAt   int64         `json:"expires_at"`
	User        *userResponse `json:"user"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func newUserResponse(account *access.Account) *userResponse {
	return &userResponse{
		ID:          account.ID.String(),
		Aud:         access.RoleAuthenticated,
		Role:        access.RoleAuthenticated,
		Email:       account.Email,
		CreatedAt:   account.CreatedAt,
		ConfirmedAt: account.ConfirmedAt,
	}
}

func newSessionResponse(account *access.Account, token *access.Token) *sessionResponse {
	return &sessionResponse{
		AccessToken: token.AccessToken,
		TokenType:   "bearer",
		ExpiresIn:   token.ExpiresIn,
		ExpiresAt:   token.ExpiresAt.Unix(),
		User:        newUserResponse(account),
	}
}

func (b *Backend) handleAuthRoutes(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("auth")
	rlog.Debugln("  handle auth route: /auth/v1/signup POST")
	rlog.Debugln("  handle auth route: /auth/v1/token POST")
	rlog.Debugln("  handle auth route: /auth/v1/user GET")
	rlog.Debugln("  handle auth route: /auth/v1/logout POST")

	router.HandleFunc("/signup", b.signUp).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/token", b.token).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/user", b.user).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/logout", b.logout).Methods(http.MethodOptions, http.MethodPost)
}

func readCredentials(w http.ResponseWriter, r *http.Request) (*credentialsRequest, bool) {
	var credentials credentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&credentials); err != nil {
		writeAuthError(w, http.StatusBadRequest, "bad_json", "Could not parse request body as JSON: "+err.Error())
		return nil, false
	}
	if credentials.Email == "" {
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "missing email or phone")
		return nil, false
	}
	return &credentials, true
}

// writeAccessError maps the errors of the access package to auth API responses
func writeAccessError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrAccountExists):
		writeAuthError(w, http.StatusUnprocessableEntity, "user_already_exists", err.Error())
	case errors.Is(err, access.ErrWeakPassword):
		writeAuthError(w, http.StatusUnprocessableEntity, "weak_password", err.Error())
	case errors.Is(err, access.ErrInvalidEmail):
		writeAuthError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, access.ErrInvalidCredentials):
		writeAuthError(w, http.StatusBadRequest, "invalid_credentials", err.Error())
	case errors.Is(err, access.ErrEmailNotConfirmed):
		writeAuthError(w, http.StatusBadRequest, "email_not_confirmed", err.Error())
	case errors.Is(err, access.ErrNoSuchAccount), errors.Is(err, access.ErrNoSuchSession):
		writeAuthError(w, http.StatusUnauthorized, "session_not_found", "Session not found")
	default:
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 5110: auth request failed")
		writeAuthError(w, http.StatusInternalServerError, "unexpected_failure", "Error 5110")
	}
}

func (b *Backend) signUp(w http.ResponseWriter, r *http.Request) {
	credentials, ok := readCredentials(w, r)
	if !ok {
		return
	}
	if credentials.Password == "" {
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "Signup requires a valid password")
		return
	}
	ctx := r.Context()
	account, err := b.authenticator.SignUp(ctx, credentials.Email, credentials.Password)
	if err != nil {
		writeAccessError(w, r, err)
		return
	}
	b.notify(r, "account", core.OperationCreate, newUserResponse(account))

	if !b.authenticator.Autoconfirm() {
		writeJSON(w, http.StatusOK, newUserResponse(account))
		return
	}
	token, err := b.authenticator.StartSession(ctx, account)
	if err != nil {
		writeAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSessionResponse(account, token))
}

func (b *Backend) token(w http.ResponseWriter, r *http.Request) {
	if grantType := r.URL.Query().Get("grant_type"); grantType != "password" {
		writeAuthError(w, http.StatusBadRequest, "validation_failed", "unsupported_grant_type")
		return
	}
	credentials, ok := readCredentials(w, r)
	if !ok {
		return
	}
	account, token, err := b.authenticator.Login(r.Context(), credentials.Email, credentials.Password)
	if err != nil {
		writeAccessError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Infoln("login of account", account.ID)
	writeJSON(w, http.StatusOK, newSessionResponse(account, token))
}

func (b *Backend) user(w http.ResponseWriter, r *http.Request) {
	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil {
		writeAuthError(w, http.StatusUnauthorized, "no_authorization", "This endpoint requires a Bearer token")
		return
	}
	account, err := b.authenticator.Account(r.Context(), auth)
	if err != nil {
		writeAccessError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newUserResponse(account))
}

func (b *Backend) logout(w http.ResponseWriter, r *http.Request) {
	auth := access.AuthorizationFromContext(r.Context())
	if auth == nil {
		writeAuthError(w, http.StatusUnauthorized, "no_authorization", "This endpoint requires a Bearer token")
		return
	}
	if err := b.authenticator.Logout(r.Context(), auth); err != nil {
		writeAccessError(w, r, err)
		return
	}
	logger.FromContext(r.Context()).Infoln("logout of account", auth.AccountID)
	w.WriteHeader(http.StatusNoContent)
}
