// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/testall/core"
	"github.com/relabs-tech/testall/core/access"
	"github.com/relabs-tech/testall/core/backend/kss"
	"github.com/relabs-tech/testall/core/logger"
	"github.com/relabs-tech/testall/core/schema"
)

// Backend is the local development backend
type Backend struct {
	config        Configuration
	router        *mux.Router
	anonKey       string
	authenticator *access.Authenticator
	tables        TableStore
	kss           kss.Driver
	validator     *schema.Validator
	notifier      core.Notifier

	tableConfigs  map[string]*tableConfiguration
	bucketConfigs map[string]*bucketConfiguration
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all tables and buckets. This is mandatory.
	Config string
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// AnonKey is the public API key every request must carry. This is mandatory.
	AnonKey string
	// Accounts stores accounts and sessions. This is mandatory.
	Accounts access.Store
	// JWTSecret signs the access tokens. This is mandatory.
	JWTSecret string
	// JWTExpiry is the validity of access tokens, default 1h
	JWTExpiry time.Duration
	// Autoconfirm lets new accounts login right away and makes sign up return a session
	Autoconfirm bool
	// Tables stores the table rows. Mandatory if the configuration has tables.
	Tables TableStore
	// KSS stores the bucket objects. Mandatory if the configuration has buckets.
	KSS kss.Driver
	// Validator validates inserted rows of tables with a schema_id. Mandatory if any table has one.
	Validator *schema.Validator
	// Notifier receives a notification for every created account, row and object. This is optional.
	Notifier core.Notifier
}

// New realizes the actual backend. It creates the tables (if they
// do not exist) and adds actual routes to router
func New(bb *Builder) *Backend {
	var config Configuration
	err := json.Unmarshal([]byte(bb.Config), &config)
	if err != nil {
		panic(fmt.Errorf("parse error in backend configuration: %s", err))
	}
	if err = config.validate(); err != nil {
		panic(fmt.Errorf("invalid backend configuration: %s", err))
	}
	if bb.Router == nil {
		panic("Router is missing")
	}
	if bb.AnonKey == "" {
		panic("AnonKey is missing")
	}
	if bb.Accounts == nil {
		panic("Accounts is missing")
	}
	if len(config.Tables) > 0 && bb.Tables == nil {
		panic("Tables is missing")
	}
	if len(config.Buckets) > 0 && bb.KSS == nil {
		panic("KSS is missing")
	}

	b := &Backend{
		config:  config,
		router:  bb.Router,
		anonKey: bb.AnonKey,
		authenticator: access.NewAuthenticator(&access.AuthenticatorBuilder{
			Store:       bb.Accounts,
			Secret:      bb.JWTSecret,
			Expiry:      bb.JWTExpiry,
			Issuer:      "testall",
			Autoconfirm: bb.Autoconfirm,
		}),
		tables:        bb.Tables,
		kss:           bb.KSS,
		validator:     bb.Validator,
		notifier:      bb.Notifier,
		tableConfigs:  map[string]*tableConfiguration{},
		bucketConfigs: map[string]*bucketConfiguration{},
	}

	for i := range b.config.Tables {
		tc := &b.config.Tables[i]
		if tc.SchemaID != "" && (b.validator == nil || !b.validator.HasSchema(tc.SchemaID)) {
			panic(fmt.Sprintf("table '%s' requires unknown schema '%s'", tc.Table, tc.SchemaID))
		}
		if err := b.tables.CreateTable(tc.Table, tc.Columns); err != nil {
			panic(fmt.Errorf("cannot create table '%s': %w", tc.Table, err))
		}
		b.tableConfigs[tc.Table] = tc
	}
	for i := range b.config.Buckets {
		bc := &b.config.Buckets[i]
		if bc.MaxObjectSize <= 0 {
			bc.MaxObjectSize = DefaultMaxObjectSize
		}
		b.bucketConfigs[bc.Bucket] = bc
	}

	b.handleCORS()
	b.handleVersion(b.router)
	b.handleRoutes(b.router)
	return b
}

// handleRoutes adds all necessary handlers for the configuration
func (b *Backend) handleRoutes(router *mux.Router) {
	rlog := logger.Default()
	rlog.Debugln("backend: handleRoutes")

	jwtMiddleware := access.NewJwtMiddleware(&access.JwtMiddlewareBuilder{
		Authenticator:   b.authenticator,
		AnonymousTokens: []string{b.anonKey},
		OnInvalidToken: func(w http.ResponseWriter, r *http.Request) {
			writeAuthError(w, http.StatusUnauthorized, "bad_jwt", access.ErrInvalidToken.Error())
		},
	})

	authRouter := router.PathPrefix("/auth/v1").Subrouter()
	authRouter.Use(b.apiKeyMiddleware, jwtMiddleware)
	b.handleAuthRoutes(authRouter)

	restRouter := router.PathPrefix("/rest/v1").Subrouter()
	restRouter.Use(b.apiKeyMiddleware, jwtMiddleware)
	b.handleTableRoutes(restRouter)

	storageRouter := router.PathPrefix("/storage/v1").Subrouter()
	storageRouter.Use(b.apiKeyMiddleware, jwtMiddleware)
	b.handleStorageRoutes(storageRouter)
}

// apiKeyMiddleware rejects requests without the anon key, given as apikey header or query parameter
func (b *Backend) apiKeyMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("apikey")
		if key == "" {
			key = r.URL.Query().Get("apikey")
		}
		if key != b.anonKey {
			logger.FromContext(r.Context()).Debugln("rejected request without valid api key:", r.Method, r.URL.Path)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"message": "Invalid API key",
				"hint":    "Double check your anon key.",
			})
			return
		}
		h.ServeHTTP(w, r)
	})
}

func (b *Backend) notify(r *http.Request, resource string, operation core.Operation, payload interface{}) {
	if b.notifier == nil {
		return
	}
	rlog := logger.FromContext(r.Context())
	data, err := json.Marshal(payload)
	if err != nil {
		rlog.WithError(err).Errorf("Error 5100: cannot marshal notification for %s", resource)
		return
	}
	if err = b.notifier.Notify(r.Context(), resource, operation, data); err != nil {
		rlog.WithError(err).Errorf("Error 5101: notification %s %s failed", operation, resource)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		logger.Default().WithError(err).Errorln("Error 5102: cannot marshal response")
		return
	}
	w.Write(data)
}

// writeAuthError writes the error body of the auth API
func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"code":       status,
		"error_code": code,
		"msg":        message,
	})
}

// writeRestError writes the error body of the table API
func writeRestError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"code":    code,
		"details": nil,
		"hint":    nil,
		"message": message,
	})
}

// writeStorageError writes the error body of the storage API
func writeStorageError(w http.ResponseWriter, status int, errorName, message string) {
	writeJSON(w, status, map[string]string{
		"statusCode": fmt.Sprint(status),
		"error":      errorName,
		"message":    message,
	})
}
