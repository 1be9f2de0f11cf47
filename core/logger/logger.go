// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package logger provides request scoped logrus loggers.

Every request handled by a router with AddRequestID gets its own logger
carrying a request ID. Handlers and the code they call retrieve it with
FromContext, so all log lines of one request can be correlated.
*/
package logger

import (
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type contextLoggerValues struct {
	RequestID string `json:"requestID"`
	Identity  string `json:"identity,omitempty"`
}

// Type for the context keys
type contextKeyRequestLoggerType struct{}

var contextKeyRequestLogger = &contextKeyRequestLoggerType{}

const (
	requestIDLoggerKey string = "requestID"
	identityLoggerKey  string = "identity"

	// RequestIDHeader is the header used to pass a request ID between services
	RequestIDHeader = "X-Request-Id"
)

// InitLogger sets up the custom time formatter for all log statements.
func InitLogger(logLevel logrus.Level) {
	customFormatter := new(logrus.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	logrus.SetFormatter(customFormatter)
	logrus.SetLevel(logLevel)
}

// InitLoggerWithLevel is InitLogger for a textual level like "debug" or "info".
// Unknown levels fall back to info.
func InitLoggerWithLevel(level string) {
	logLevel, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	InitLogger(logLevel)
	if err != nil {
		Default().Warnf("unknown log level '%s', using info", level)
	}
}

// AddRequestID adds a logger with a request ID to every request of the router. An incoming
// X-Request-Id header is reused, otherwise a new ID is generated.
func AddRequestID(router *mux.Router) {
	router.Use(RequestIDMiddleware)
}

// RequestIDMiddleware is the middleware installed by AddRequestID
func RequestIDMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if id := r.Header.Get(RequestIDHeader); id != "" && loggerFromContext(ctx) == nil {
			ctx = context.WithValue(ctx, contextKeyRequestLogger, logrus.WithField(requestIDLoggerKey, id))
		}
		ctx, rlog := ContextWithLogger(ctx)
		if id, ok := rlog.Data[requestIDLoggerKey].(string); ok {
			w.Header().Set(RequestIDHeader, id)
		}
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Default returns a logger without a request ID.
func Default() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

// ContextWithLogger returns a new context with a logger if the given context has no logger yet. If
// the context already has a logger the given context will be returned.
func ContextWithLogger(ctx context.Context) (context.Context, *logrus.Entry) {
	if ctx == nil {
		ctx = context.Background()
	} else if rlog := loggerFromContext(ctx); rlog != nil {
		return ctx, rlog
	}
	rlog := logrus.WithField(requestIDLoggerKey, uuid.New().String())
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// ContextWithLoggerFromData returns a context with a logger. If the context does not have a logger yet,
// the logger is constructed from the provided data, as produced by SerializeLoggerContext. If the data
// is invalid a new logger is created.
func ContextWithLoggerFromData(ctx context.Context, data []byte) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if loggerFromContext(ctx) != nil {
		return ctx
	}
	var ok bool
	ctx, ok = deserializeLoggerContext(ctx, data)
	if !ok {
		ctx, _ = ContextWithLogger(ctx)
	}
	return ctx
}

func loggerFromContext(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return nil
	}
	rlog, ok := ctx.Value(contextKeyRequestLogger).(*logrus.Entry)
	if !ok {
		return nil
	}
	return rlog
}

// FromContext returns the logger from the context. If the context does not have a logger
// the default logger is returned.
func FromContext(ctx context.Context) *logrus.Entry {
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return Default()
	}
	return rlog
}

// ContextWithLoggerIdentity returns a new context with a logger and identity.
func ContextWithLoggerIdentity(ctx context.Context, identity string) (context.Context, *logrus.Entry) {
	ctx, rlog := ContextWithLogger(ctx)
	rlog = rlog.WithField(identityLoggerKey, identity)
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), rlog
}

// SerializeLoggerContext extracts the logger from the context and returns a json
// representation of the relevant parameters.
func SerializeLoggerContext(ctx context.Context) []byte {
	ctxValues := loggerValues(ctx)
	if ctxValues.RequestID == "" {
		return []byte("{}")
	}
	res, err := json.Marshal(ctxValues)
	if err != nil {
		return []byte("{}")
	}
	return res
}

// RequestIDFromContext returns the request id for the given context.
func RequestIDFromContext(ctx context.Context) string {
	return loggerValues(ctx).RequestID
}

func loggerValues(ctx context.Context) contextLoggerValues {
	var ctxValues contextLoggerValues
	rlog := loggerFromContext(ctx)
	if rlog == nil {
		return ctxValues
	}
	if s, ok := rlog.Data[requestIDLoggerKey].(string); ok {
		ctxValues.RequestID = s
	}
	if s, ok := rlog.Data[identityLoggerKey].(string); ok {
		ctxValues.Identity = s
	}
	return ctxValues
}

func deserializeLoggerContext(ctx context.Context, data []byte) (context.Context, bool) {
	var ctxValues contextLoggerValues
	err := json.Unmarshal(data, &ctxValues)
	if err != nil || len(ctxValues.RequestID) < 1 {
		return ctx, false
	}
	rlog := logrus.WithField(requestIDLoggerKey, ctxValues.RequestID)
	if len(ctxValues.Identity) > 0 {
		rlog = rlog.WithField(identityLoggerKey, ctxValues.Identity)
	}
	return context.WithValue(ctx, contextKeyRequestLogger, rlog), true
}
