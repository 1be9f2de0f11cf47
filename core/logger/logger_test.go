// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWithLogger_KeepsExistingLogger(t *testing.T) {
	ctx, rlog := ContextWithLogger(context.Background())
	require.NotEmpty(t, RequestIDFromContext(ctx))

	ctx2, rlog2 := ContextWithLogger(ctx)
	assert.Equal(t, ctx, ctx2)
	assert.Equal(t, rlog, rlog2)
}

func TestSerializeLoggerContext_RoundTrip(t *testing.T) {
	ctx, _ := ContextWithLoggerIdentity(context.Background(), "alice@example.com")
	data := SerializeLoggerContext(ctx)

	restored := ContextWithLoggerFromData(context.Background(), data)
	assert.Equal(t, RequestIDFromContext(ctx), RequestIDFromContext(restored))
	assert.Equal(t, "alice@example.com", loggerValues(restored).Identity)

	assert.Equal(t, "{}", string(SerializeLoggerContext(context.Background())))
	fresh := ContextWithLoggerFromData(context.Background(), []byte("garbage"))
	assert.NotEmpty(t, RequestIDFromContext(fresh))
}

func TestAddRequestID(t *testing.T) {
	router := mux.NewRouter()
	AddRequestID(router)
	var seen string
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)
	assert.Equal(t, "abc", seen)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.NotEqual(t, "abc", seen)
}
