// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package panel

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/relabs-tech/testall/baas"
	"github.com/relabs-tech/testall/core/logger"
	"github.com/sirupsen/logrus"
)

// ProfilesTable is the table the database section works on
const ProfilesTable = "profiles"

// ListLimit is the page size of the file listing
const ListLimit = 100

// Profile is a row of the profiles table
type Profile struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Panel is the view state of one visitor. All operations are safe for concurrent use,
// the state mutex is never held during a backend call.
type Panel struct {
	client baas.Client
	bucket string

	mutex       sync.Mutex
	accessToken string
	auth        Section
	database    Section
	storage     Section
	profiles    []Profile
	files       []baas.FileObject
	draftName   string
	lastUpload  *baas.UploadResult
}

// View is a snapshot of the panel for rendering
type View struct {
	Auth       Section
	Database   Section
	Storage    Section
	SignedIn   bool
	Profiles   []Profile
	Files      []baas.FileObject
	DraftName  string
	LastUpload *baas.UploadResult
}

// New creates a panel working on client. It panics without client or bucket.
func New(client baas.Client, bucket string) *Panel {
	if client == nil {
		panic("baas client missing")
	}
	if bucket == "" {
		panic("bucket missing")
	}
	return &Panel{
		client:   client,
		bucket:   bucket,
		auth:     Section{Phase: PhaseIdle},
		database: Section{Phase: PhaseIdle},
		storage:  Section{Phase: PhaseIdle},
		profiles: []Profile{},
		files:    []baas.FileObject{},
	}
}

// View returns a copy of the current state
func (p *Panel) View() View {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	v := View{
		Auth:      p.auth,
		Database:  p.database,
		Storage:   p.storage,
		SignedIn:  p.accessToken != "",
		Profiles:  append([]Profile{}, p.profiles...),
		Files:     append([]baas.FileObject{}, p.files...),
		DraftName: p.draftName,
	}
	if p.lastUpload != nil {
		u := *p.lastUpload
		v.LastUpload = &u
	}
	return v
}

// Init runs the initial fetch of profiles and files
func (p *Panel) Init(ctx context.Context) {
	p.FetchProfiles(ctx)
	p.ListFiles(ctx)
}

// begin starts an operation of section and returns the backend context, which carries the
// access token of the held session
func (p *Panel) begin(ctx context.Context, section *Section, operation string) (context.Context, *logrus.Entry) {
	p.mutex.Lock()
	section.start()
	token := p.accessToken
	p.mutex.Unlock()

	rlog := logger.FromContext(ctx).WithFields(logrus.Fields{
		"section":   sectionName(p, section),
		"operation": operation,
	})
	rlog.Debugln("start")
	return baas.ContextWithAccessToken(ctx, token), rlog
}

func sectionName(p *Panel, section *Section) string {
	switch section {
	case &p.auth:
		return "auth"
	case &p.database:
		return "database"
	case &p.storage:
		return "storage"
	}
	return "unknown"
}

// succeed ends an operation successfully. update runs under the state mutex.
func (p *Panel) succeed(rlog *logrus.Entry, section *Section, feedback string, update func()) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if update != nil {
		update()
	}
	section.finish(PhaseSuccess, feedback)
	rlog.Infoln(feedback)
}

// fail ends an operation with a failure. The state besides the section is left untouched.
func (p *Panel) fail(rlog *logrus.Entry, section *Section, prefix string, err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	feedback := prefix + errorText(err)
	section.finish(PhaseFailure, feedback)
	rlog.WithError(err).Warnln(feedback)
}

func errorText(err error) string {
	var backendErr *baas.Error
	if errors.As(err, &backendErr) {
		return backendErr.Error()
	}
	return err.Error()
}

func userID(user *baas.User) string {
	if user == nil {
		return ""
	}
	return user.ID
}

func sessionParts(session *baas.Session) (id, token string) {
	if session == nil {
		return "", ""
	}
	return userID(session.User), session.AccessToken
}

// SignUp creates an account. A returned session is kept for subsequent operations.
func (p *Panel) SignUp(ctx context.Context, email, password string) {
	bctx, rlog := p.begin(ctx, &p.auth, "sign up")
	session, err := p.client.Auth().CreateAccount(bctx, email, password)
	if err != nil {
		p.fail(rlog, &p.auth, "❌ Sign Up failed: ", err)
		return
	}
	id, token := sessionParts(session)
	p.succeed(rlog, &p.auth, "✅ Signed Up! User ID: "+id, func() {
		if token != "" {
			p.accessToken = token
		}
	})
}

// SignIn logs in with email and password and keeps the session
func (p *Panel) SignIn(ctx context.Context, email, password string) {
	bctx, rlog := p.begin(ctx, &p.auth, "sign in")
	session, err := p.client.Auth().Login(bctx, email, password)
	if err != nil {
		p.fail(rlog, &p.auth, "❌ Sign In failed: ", err)
		return
	}
	id, token := sessionParts(session)
	p.succeed(rlog, &p.auth, "✅ Signed In! User ID: "+id, func() {
		p.accessToken = token
	})
}

// GetUser reports the user of the held session. No user is not an error.
func (p *Panel) GetUser(ctx context.Context) {
	bctx, rlog := p.begin(ctx, &p.auth, "get user")
	user, err := p.client.Auth().CurrentUser(bctx)
	if err != nil {
		p.fail(rlog, &p.auth, "❌ Get user failed: ", err)
		return
	}
	feedback := "No user is currently signed in."
	if user != nil {
		feedback = "Current user ID: " + user.ID
	}
	p.succeed(rlog, &p.auth, feedback, nil)
}

// SignOut ends the held session. The session is dropped only after a successful logout.
func (p *Panel) SignOut(ctx context.Context) {
	bctx, rlog := p.begin(ctx, &p.auth, "sign out")
	if err := p.client.Auth().Logout(bctx); err != nil {
		p.fail(rlog, &p.auth, "❌ Sign out failed: ", err)
		return
	}
	p.succeed(rlog, &p.auth, "✅ Signed out successfully.", func() {
		p.accessToken = ""
	})
}

// FetchProfiles replaces the profile list with the rows of the profiles table
func (p *Panel) FetchProfiles(ctx context.Context) {
	bctx, rlog := p.begin(ctx, &p.database, "fetch profiles")
	profiles := []Profile{}
	if err := p.client.Table(ProfilesTable).SelectAll(bctx, &profiles); err != nil {
		p.fail(rlog, &p.database, "❌ Fetch profiles failed: ", err)
		return
	}
	if profiles == nil {
		profiles = []Profile{}
	}
	p.succeed(rlog, &p.database, fmt.Sprintf("Fetched %d profile(s).", len(profiles)), func() {
		p.profiles = profiles
	})
}

// AddProfile inserts a profile. A blank name is ignored without a backend call.
func (p *Panel) AddProfile(ctx context.Context, name string) {
	p.mutex.Lock()
	p.draftName = name
	p.mutex.Unlock()

	bctx, rlog := p.begin(ctx, &p.database, "add profile")
	if strings.TrimSpace(name) == "" {
		p.mutex.Lock()
		p.database.finish(PhaseIdle, "")
		p.mutex.Unlock()
		rlog.Debugln("ignored blank name")
		return
	}

	inserted := []Profile{}
	rows := []map[string]string{{"name": name}}
	if err := p.client.Table(ProfilesTable).Insert(bctx, rows, &inserted); err != nil {
		p.fail(rlog, &p.database, "❌ Insert error: ", err)
		return
	}
	added := name
	if len(inserted) > 0 {
		added = inserted[0].Name
	}
	p.succeed(rlog, &p.database, "✅ Profile added: "+added, func() {
		p.profiles = append(p.profiles, inserted...)
		p.draftName = ""
	})
}

// ListFiles replaces the file list with the first page of the bucket's root
func (p *Panel) ListFiles(ctx context.Context) {
	bctx, rlog := p.begin(ctx, &p.storage, "list files")
	files, err := p.client.Storage(p.bucket).List(bctx, "", baas.ListOptions{
		Limit:  ListLimit,
		Offset: 0,
		SortBy: baas.SortBy{Column: "name", Order: "asc"},
	})
	if err != nil {
		p.fail(rlog, &p.storage, "❌ List error: ", err)
		return
	}
	if files == nil {
		files = []baas.FileObject{}
	}
	p.succeed(rlog, &p.storage, fmt.Sprintf("Found %d file(s).", len(files)), func() {
		p.files = files
	})
}

// UploadFile decodes the base64 payload and stores it as name, overwriting an existing
// object. After a successful upload the file list is refreshed.
func (p *Panel) UploadFile(ctx context.Context, name, payload string) {
	bctx, rlog := p.begin(ctx, &p.storage, "upload file")
	if name == "" || payload == "" {
		p.mutex.Lock()
		p.storage.finish(PhaseFailure, "❌ Please provide file name and base64 data.")
		p.mutex.Unlock()
		rlog.Debugln("missing file name or data")
		return
	}
	data, err := DecodePayload(payload)
	if err != nil {
		p.fail(rlog, &p.storage, "❌ Upload error: ", err)
		return
	}
	result, err := p.client.Storage(p.bucket).Upload(bctx, name, data, baas.UploadOptions{Upsert: true})
	if err != nil {
		p.fail(rlog, &p.storage, "❌ Upload error: ", err)
		return
	}
	if result == nil {
		result = &baas.UploadResult{Path: name}
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		p.fail(rlog, &p.storage, "❌ Upload error: ", err)
		return
	}
	p.succeed(rlog, &p.storage, "✅ File uploaded: "+string(encoded), func() {
		p.lastUpload = result
	})
	p.ListFiles(ctx)
}

// DecodePayload decodes standard base64. ASCII whitespace is ignored and missing
// padding is tolerated.
func DecodePayload(payload string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\f', '\v':
			return -1
		}
		return r
	}, payload)
	cleaned = strings.TrimRight(cleaned, "=")
	data, err := base64.RawStdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 data: %w", err)
	}
	return data, nil
}
