// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package baas

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/testall/core/client"
	"github.com/relabs-tech/testall/core/logger"
)

// RESTBuilder is a builder helper for REST. Exactly one of URL and Router must be set.
type RESTBuilder struct {
	// URL is the service URL, for example http://localhost:54321
	URL string
	// Router serves the REST surface in-process instead of over HTTP. Mainly for tests.
	Router *mux.Router
	// AnonKey is the public API key of the service
	AnonKey string
}

// REST is the Client of a hosted backend speaking the REST surface
type REST struct {
	client  client.Client
	anonKey string
}

var _ Client = (*REST)(nil)

// NewREST creates a REST client. It panics on an inconsistent builder.
func NewREST(bb *RESTBuilder) *REST {
	if (bb.URL == "") == (bb.Router == nil) {
		panic("exactly one of URL and Router must be set")
	}
	if bb.AnonKey == "" {
		panic("anon key missing")
	}
	var c client.Client
	if bb.Router != nil {
		c = client.NewWithRouter(bb.Router)
	} else {
		if _, err := url.ParseRequestURI(bb.URL); err != nil {
			panic(fmt.Sprintf("invalid backend url '%s': %v", bb.URL, err))
		}
		c = client.NewWithURL(bb.URL)
	}
	return &REST{
		client:  c.WithHeader("apikey", bb.AnonKey),
		anonKey: bb.AnonKey,
	}
}

// Auth returns the authentication capability
func (r *REST) Auth() Auth {
	return &restAuth{rest: r}
}

// Table returns the capability for the named table
func (r *REST) Table(name string) Table {
	return &restTable{rest: r, name: name}
}

// Storage returns the capability for the named bucket
func (r *REST) Storage(bucket string) Bucket {
	return &restBucket{rest: r, bucket: bucket}
}

func (r *REST) with(ctx context.Context) client.Client {
	token := AccessTokenFromContext(ctx)
	if token == "" {
		token = r.anonKey
	}
	return r.client.WithContext(ctx).WithToken(token)
}

// errorBody is the union of the error shapes of the auth, rest and storage APIs
type errorBody struct {
	Msg              string      `json:"msg"`
	Message          string      `json:"message"`
	ErrorDescription string      `json:"error_description"`
	Error            string      `json:"error"`
	ErrorCode        string      `json:"error_code"`
	Code             interface{} `json:"code"`
}

// convertError turns a transport or status error of the rest client into the error returned to callers
func convertError(operation string, err error) error {
	if err == nil {
		return nil
	}
	var statusErr *client.StatusError
	if errors.As(err, &statusErr) {
		return parseError(statusErr.Status, statusErr.Body)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func parseError(status int, body []byte) *Error {
	e := &Error{Status: status}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		e.Message = strings.TrimSpace(string(body))
		return e
	}
	for _, m := range []string{eb.Msg, eb.Message, eb.ErrorDescription, eb.Error} {
		if m != "" {
			e.Message = m
			break
		}
	}
	switch {
	case eb.ErrorCode != "":
		e.Code = eb.ErrorCode
	case eb.Code != nil:
		e.Code = fmt.Sprint(eb.Code)
	case eb.Error != "" && eb.Error != e.Message:
		e.Code = eb.Error
	}
	return e
}

type restAuth struct {
	rest *REST
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *restAuth) CreateAccount(ctx context.Context, email, password string) (*Session, error) {
	var raw []byte
	_, err := a.rest.with(ctx).RawPost("/auth/v1/signup", credentials{Email: email, Password: password}, &raw)
	if err != nil {
		return nil, convertError("sign up", err)
	}
	// depending on confirmation settings the answer is a session or just the user
	session := &Session{}
	if err = json.Unmarshal(raw, session); err != nil {
		return nil, fmt.Errorf("sign up: cannot decode response: %w", err)
	}
	if session.User == nil {
		user := &User{}
		if err = json.Unmarshal(raw, user); err != nil {
			return nil, fmt.Errorf("sign up: cannot decode response: %w", err)
		}
		if user.ID == "" {
			return nil, fmt.Errorf("sign up: response carries neither session nor user")
		}
		session = &Session{User: user}
	}
	logger.FromContext(ctx).Debugln("signed up user", session.User.ID)
	return session, nil
}

func (a *restAuth) Login(ctx context.Context, email, password string) (*Session, error) {
	session := &Session{}
	_, err := a.rest.with(ctx).RawPost("/auth/v1/token?grant_type=password", credentials{Email: email, Password: password}, session)
	if err != nil {
		return nil, convertError("sign in", err)
	}
	if session.AccessToken == "" || session.User == nil {
		return nil, fmt.Errorf("sign in: incomplete session in response")
	}
	return session, nil
}

func (a *restAuth) CurrentUser(ctx context.Context) (*User, error) {
	if AccessTokenFromContext(ctx) == "" {
		return nil, nil
	}
	user := &User{}
	status, err := a.rest.with(ctx).RawGet("/auth/v1/user", user)
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return nil, nil
	}
	if err != nil {
		return nil, convertError("get user", err)
	}
	if user.ID == "" {
		return nil, nil
	}
	return user, nil
}

func (a *restAuth) Logout(ctx context.Context) error {
	if AccessTokenFromContext(ctx) == "" {
		return nil
	}
	_, err := a.rest.with(ctx).RawPost("/auth/v1/logout", nil, nil)
	return convertError("sign out", err)
}

type restTable struct {
	rest *REST
	name string
}

func (t *restTable) path() string {
	return "/rest/v1/" + url.PathEscape(t.name) + "?select=*"
}

func (t *restTable) SelectAll(ctx context.Context, result interface{}) error {
	_, err := t.rest.with(ctx).RawGet(t.path(), result)
	return convertError("select "+t.name, err)
}

func (t *restTable) Insert(ctx context.Context, rows interface{}, result interface{}) error {
	header := map[string]string{"Prefer": "return=representation"}
	_, err := t.rest.with(ctx).RawPostWithHeader(t.path(), header, rows, result)
	return convertError("insert into "+t.name, err)
}

type restBucket struct {
	rest   *REST
	bucket string
}

type listRequest struct {
	Prefix string `json:"prefix"`
	Limit  int    `json:"limit"`
	Offset int    `json:"offset"`
	SortBy SortBy `json:"sortBy"`
}

func (b *restBucket) List(ctx context.Context, prefix string, options ListOptions) ([]FileObject, error) {
	body := listRequest{
		Prefix: prefix,
		Limit:  options.Limit,
		Offset: options.Offset,
		SortBy: options.SortBy,
	}
	if body.Limit <= 0 {
		body.Limit = DefaultListLimit
	}
	if body.SortBy.Column == "" {
		body.SortBy.Column = "name"
	}
	if body.SortBy.Order == "" {
		body.SortBy.Order = "asc"
	}
	files := []FileObject{}
	_, err := b.rest.with(ctx).RawPost("/storage/v1/object/list/"+url.PathEscape(b.bucket), body, &files)
	if err != nil {
		return nil, convertError("list "+b.bucket, err)
	}
	return files, nil
}

func (b *restBucket) Upload(ctx context.Context, name string, data []byte, options UploadOptions) (*UploadResult, error) {
	name = strings.Trim(name, "/")
	if name == "" {
		return nil, &Error{Status: http.StatusBadRequest, Message: "object name missing"}
	}
	contentType := options.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := map[string]string{
		"x-upsert":     strconv.FormatBool(options.Upsert),
		"Content-Type": contentType,
	}
	var response struct {
		Key string `json:"Key"`
		ID  string `json:"Id"`
	}
	path := "/storage/v1/object/" + url.PathEscape(b.bucket) + "/" + escapeObjectName(name)
	_, err := b.rest.with(ctx).RawPostBlob(path, header, data, &response)
	if err != nil {
		return nil, convertError("upload "+name, err)
	}
	fullPath := response.Key
	if fullPath == "" {
		fullPath = b.bucket + "/" + name
	}
	return &UploadResult{
		ID:       response.ID,
		Path:     name,
		FullPath: fullPath,
	}, nil
}

// escapeObjectName escapes each segment of a slash separated object name
func escapeObjectName(name string) string {
	segments := strings.Split(name, "/")
	for i := range segments {
		segments[i] = url.PathEscape(segments[i])
	}
	return strings.Join(segments, "/")
}
