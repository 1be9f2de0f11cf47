// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy access to a REST api, either over HTTP or
in-process.

Instead of marshalling HTTP, a client created with NewWithRouter talks directly
to the mux router. This is the tool of choice for unit tests. A client created with
NewWithURL makes real HTTP requests with a 20 second timeout.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/testall/core/logger"
)

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	ctx        context.Context

	defaultHeaders map[string]string
}

// StatusError is returned by the Raw functions when the response carried an unexpected status code.
// Body holds the raw response body, so callers can decode structured error payloads.
type StatusError struct {
	Status int
	Want   int
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("handler returned wrong status code: got %v want %v. Error: %s",
		e.Status, e.Want, strings.TrimSpace(string(e.Body)))
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router:         router,
		defaultHeaders: map[string]string{},
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:            strings.TrimSuffix(url, "/"),
		httpClient:     &http.Client{Timeout: 20 * time.Second},
		defaultHeaders: map[string]string{},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := make(map[string]string, len(c.defaultHeaders)+1)
	for k, v := range c.defaultHeaders {
		headers[k] = v
	}
	headers[key] = value
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client which sends the token as bearer authorization
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the request context of the client
func (c Client) Context() context.Context {
	if c.ctx == nil {
		return context.Background()
	}
	return c.ctx
}

// Do executes a request and returns status, response header and response body. It does not judge the status code.
func (c Client) Do(method, path string, header map[string]string, body []byte) (int, http.Header, []byte, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return http.StatusBadRequest, nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	for key, value := range c.defaultHeaders {
		r.Header.Set(key, value)
	}
	for key, value := range header {
		r.Header.Set(key, value)
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	if id := logger.RequestIDFromContext(r.Context()); id != "" {
		r.Header.Set(logger.RequestIDHeader, id)
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		res := rec.Result()
		return res.StatusCode, res.Header, rec.Body.Bytes(), nil
	}

	if c.httpClient == nil {
		return http.StatusInternalServerError, nil, nil, fmt.Errorf("client has neither router nor url")
	}
	res, err := c.httpClient.Do(r)
	if err != nil {
		return http.StatusInternalServerError, nil, nil, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, res.Header, nil, fmt.Errorf("%s %s: reading body: %w", method, path, err)
	}
	return res.StatusCode, res.Header, resBody, nil
}

func (c Client) raw(method, path string, header map[string]string, body interface{}, result interface{}, want ...int) (int, error) {
	var j []byte
	if body != nil {
		var ok bool
		j, ok = body.([]byte)
		if !ok {
			var err error
			j, err = json.Marshal(body)
			if err != nil {
				return http.StatusBadRequest, fmt.Errorf("%s to %s: %w", method, path, err)
			}
			h := map[string]string{"Content-Type": "application/json"}
			for k, v := range header {
				h[k] = v
			}
			header = h
		}
	}

	status, _, resBody, err := c.Do(method, path, header, j)
	if err != nil {
		return status, err
	}
	if status == http.StatusNoContent {
		return status, nil
	}
	accepted := false
	for _, w := range want {
		if status == w {
			accepted = true
			break
		}
	}
	if !accepted {
		return status, &StatusError{Status: status, Want: want[0], Body: resBody}
	}

	if len(resBody) > 0 && result != nil {
		if raw, ok := result.(*[]byte); ok {
			*raw = resBody
		} else {
			err = json.Unmarshal(resBody, result)
		}
	}
	return status, err
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	return c.raw(http.MethodGet, path, nil, nil, result, http.StatusOK)
}

// RawPostWithHeader posts a resource to path. Expects http.StatusCreated or http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPostWithHeader(path string, headers map[string]string, body interface{}, result interface{}) (int, error) {
	return c.raw(http.MethodPost, path, headers, body, result, http.StatusCreated, http.StatusOK)
}

// RawPost posts a resource to path. Expects http.StatusCreated or http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.RawPostWithHeader(path, nil, body, result)
}

// RawPostBlob posts binary data to path. The content type is taken from header, it defaults
// to application/octet-stream.
func (c Client) RawPostBlob(path string, header map[string]string, blob []byte, result interface{}) (int, error) {
	h := map[string]string{"Content-Type": "application/octet-stream"}
	for k, v := range header {
		h[k] = v
	}
	if blob == nil {
		blob = []byte{}
	}
	return c.raw(http.MethodPost, path, h, blob, result, http.StatusCreated, http.StatusOK)
}
