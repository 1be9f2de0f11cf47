// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package web renders the test-all panel as a server side HTML page
//
// Every visitor gets an own panel, identified by a cookie. The forms of the page post to one
// route per panel operation and are redirected back to the page.
package web

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/relabs-tech/testall/baas"
	"github.com/relabs-tech/testall/core/logger"
	"github.com/relabs-tech/testall/core/panel"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

// CookieName is the name of the cookie carrying the visitor id
const CookieName = "Testall-Panel"

// DefaultIdleTimeout is the time after which the panel of an inactive visitor is dropped
const DefaultIdleTimeout = 30 * time.Minute

// Builder is a builder helper for the Web
type Builder struct {
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Client is the backend all panels work on. This is mandatory.
	Client baas.Client
	// Bucket is the storage bucket of the panels. This is mandatory.
	Bucket string
	// IdleTimeout defaults to DefaultIdleTimeout
	IdleTimeout time.Duration
	// Now is the clock, defaults to time.Now
	Now func() time.Time
}

// Web serves the panel page
type Web struct {
	router   *mux.Router
	bucket   string
	visitors *registry
}

type pageData struct {
	Bucket string
	View   panel.View
}

// New creates the web front and adds its routes to the router
func New(wb *Builder) *Web {
	if wb.Router == nil {
		panic("Router is missing")
	}
	if wb.Client == nil {
		panic("Client is missing")
	}
	if wb.Bucket == "" {
		panic("Bucket is missing")
	}
	idle := wb.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	now := wb.Now
	if now == nil {
		now = time.Now
	}
	client, bucket := wb.Client, wb.Bucket
	w := &Web{
		router: wb.Router,
		bucket: bucket,
		visitors: &registry{
			visitors: map[string]*visitor{},
			idle:     idle,
			now:      now,
			create:   func() *panel.Panel { return panel.New(client, bucket) },
		},
	}
	w.handleRoutes()
	return w
}

// Handler returns the router wrapped with access logging, compression and panic recovery
func (w *Web) Handler() http.Handler {
	var h http.Handler = w.router
	h = handlers.CompressHandler(h)
	h = handlers.CombinedLoggingHandler(logger.Default().Logger.Writer(), h)
	h = handlers.RecoveryHandler(handlers.RecoveryLogger(logger.Default()), handlers.PrintRecoveryStack(true))(h)
	return h
}

func (w *Web) handleRoutes() {
	rlog := logger.Default()
	rlog.Debugln("web")
	rlog.Debugln("  handle web route: / GET")
	rlog.Debugln("  handle web route: /healthz GET")

	w.router.HandleFunc("/", w.page).Methods(http.MethodGet)
	w.router.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)

	actions := map[string]func(p *panel.Panel, r *http.Request){
		"/auth/signup": func(p *panel.Panel, r *http.Request) {
			p.SignUp(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
		},
		"/auth/signin": func(p *panel.Panel, r *http.Request) {
			p.SignIn(r.Context(), r.PostFormValue("email"), r.PostFormValue("password"))
		},
		"/auth/user": func(p *panel.Panel, r *http.Request) {
			p.GetUser(r.Context())
		},
		"/auth/signout": func(p *panel.Panel, r *http.Request) {
			p.SignOut(r.Context())
		},
		"/profiles/refresh": func(p *panel.Panel, r *http.Request) {
			p.FetchProfiles(r.Context())
		},
		"/profiles": func(p *panel.Panel, r *http.Request) {
			p.AddProfile(r.Context(), r.PostFormValue("name"))
		},
		"/files/refresh": func(p *panel.Panel, r *http.Request) {
			p.ListFiles(r.Context())
		},
		"/files": func(p *panel.Panel, r *http.Request) {
			p.UploadFile(r.Context(), r.PostFormValue("name"), r.PostFormValue("data"))
		},
	}
	for path, action := range actions {
		rlog.Debugln("  handle web route:", path, "POST")
		w.router.Handle(path, w.action(action)).Methods(http.MethodPost)
	}
}

// visitorPanel returns the panel of the request's visitor and sets the visitor cookie for new visitors
func (w *Web) visitorPanel(rw http.ResponseWriter, r *http.Request) *panel.Panel {
	id := ""
	if cookie, err := r.Cookie(CookieName); err == nil {
		if _, err := uuid.Parse(cookie.Value); err == nil {
			id = cookie.Value
		}
	}
	if id == "" {
		id = uuid.New().String()
		http.SetCookie(rw, &http.Cookie{
			Name:     CookieName,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	p, created := w.visitors.get(id)
	if created {
		logger.FromContext(r.Context()).Infoln("new visitor panel", id)
		p.Init(r.Context())
	}
	return p
}

func (w *Web) page(rw http.ResponseWriter, r *http.Request) {
	p := w.visitorPanel(rw, r)
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "page.html", pageData{Bucket: w.bucket, View: p.View()}); err != nil {
		logger.FromContext(r.Context()).WithError(err).Errorln("Error 6100: cannot render page")
		http.Error(rw, "Error 6100", http.StatusInternalServerError)
		return
	}
	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.Header().Set("Cache-Control", "no-store")
	rw.Write(buf.Bytes())
}

func (w *Web) action(action func(p *panel.Panel, r *http.Request)) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(rw, r.Body, 64<<20)
		if err := r.ParseForm(); err != nil {
			http.Error(rw, "invalid form: "+err.Error(), http.StatusBadRequest)
			return
		}
		action(w.visitorPanel(rw, r), r)
		http.Redirect(rw, r, "/", http.StatusSeeOther)
	})
}
