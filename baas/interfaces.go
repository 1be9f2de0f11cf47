// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package baas

import (
	"context"
	"net/http"
	"time"
)

// User is an account of the backend
type User struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Role        string     `json:"role,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
}

// Session is the result of a successful sign up or login. User is always set,
// AccessToken is empty when the backend requires a confirmation before login.
type Session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	ExpiresAt   int64  `json:"expires_at"`
	User        *User  `json:"user"`
}

// FileObject is one entry of a storage listing
type FileObject struct {
	Name      string                 `json:"name"`
	ID        string                 `json:"id"`
	UpdatedAt time.Time              `json:"updated_at"`
	CreatedAt time.Time              `json:"created_at"`
	Metadata  map[string]interface{} `json:"metadata"`
}

// SortBy is the sort order of a storage listing
type SortBy struct {
	Column string `json:"column"`
	Order  string `json:"order"`
}

// ListOptions configure a storage listing. A zero Limit selects DefaultListLimit, an empty
// sort column sorts by name ascending.
type ListOptions struct {
	Limit  int
	Offset int
	SortBy SortBy
}

// DefaultListLimit is the page size used when ListOptions.Limit is zero
const DefaultListLimit = 100

// UploadOptions configure an upload. With Upsert an existing object is overwritten,
// otherwise the upload fails.
type UploadOptions struct {
	Upsert      bool
	ContentType string
}

// UploadResult describes a stored object. Path is relative to the bucket, FullPath includes it.
type UploadResult struct {
	ID       string `json:"id"`
	Path     string `json:"path"`
	FullPath string `json:"fullPath"`
}

// Auth is the authentication capability
type Auth interface {
	// CreateAccount registers a new account. The returned session always carries the user,
	// its access token may be empty.
	CreateAccount(ctx context.Context, email, password string) (*Session, error)
	// Login performs a password login
	Login(ctx context.Context, email, password string) (*Session, error)
	// CurrentUser returns the user of the access token in ctx, or nil without error if nobody is signed in
	CurrentUser(ctx context.Context) (*User, error)
	// Logout ends the session of the access token in ctx
	Logout(ctx context.Context) error
}

// Table is the relational table capability. result must be a pointer to a slice.
type Table interface {
	SelectAll(ctx context.Context, result interface{}) error
	Insert(ctx context.Context, rows interface{}, result interface{}) error
}

// Bucket is the object storage capability for one bucket
type Bucket interface {
	List(ctx context.Context, prefix string, options ListOptions) ([]FileObject, error)
	Upload(ctx context.Context, name string, data []byte, options UploadOptions) (*UploadResult, error)
}

// Client hands out the capabilities of a backend
type Client interface {
	Auth() Auth
	Table(name string) Table
	Storage(bucket string) Bucket
}

// Error is an error reported by the backend. Error() returns the backend's message verbatim.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if text := http.StatusText(e.Status); text != "" {
		return text
	}
	return "unknown backend error"
}

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

const contextKeyAccessToken contextKey = "baas_access_token_context_key"

// ContextWithAccessToken returns a new context carrying the access token. An empty token
// returns ctx unchanged.
func ContextWithAccessToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKeyAccessToken, token)
}

// AccessTokenFromContext returns the access token carried by ctx, or an empty string
func AccessTokenFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	token, _ := ctx.Value(contextKeyAccessToken).(string)
	return token
}
