// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/testall/core"
	"github.com/relabs-tech/testall/core/access"
	"github.com/relabs-tech/testall/core/backend"
	"github.com/relabs-tech/testall/core/backend/kss"
	"github.com/relabs-tech/testall/core/client"
	"github.com/relabs-tech/testall/core/logger"
	"github.com/relabs-tech/testall/core/schema"
)

const (
	anonKey   = "test-anon-key"
	jwtSecret = "test-jwt-secret"
	profileID = "https://testall.local/schemas/profile.json"

	profileSchema = `{
	  "$id": "https://testall.local/schemas/profile.json",
	  "type": "object",
	  "required": ["name"],
	  "properties": {
		"name": { "type": "string", "minLength": 1 }
	  }
	}`
)

var configurationJSON = `{
	"tables": [
	  {
		"table": "notes",
		"columns": ["title", "body"]
	  },
	  {
		"table": "profiles",
		"columns": ["name"],
		"schema_id": "https://testall.local/schemas/profile.json"
	  },
	  {
		"table": "items",
		"columns": ["name"]
	  }
	],
	"buckets": [
	  {
		"bucket": "files"
	  },
	  {
		"bucket": "small",
		"max_object_size": 8
	  }
	]
  }`

type notification struct {
	Resource  string
	Operation core.Operation
	Payload   []byte
}

type recordingNotifier struct {
	mutex         sync.Mutex
	notifications []notification
}

func (n *recordingNotifier) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.notifications = append(n.notifications, notification{resource, operation, payload})
	return nil
}

// matching returns the notifications of resource whose payload contains text
func (n *recordingNotifier) matching(resource, text string) []notification {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	var result []notification
	for _, x := range n.notifications {
		if x.Resource == resource && bytes.Contains(x.Payload, []byte(text)) {
			result = append(result, x)
		}
	}
	return result
}

// TestService holds the configuration for the test service
type TestService struct {
	Router   *mux.Router
	Backend  *backend.Backend
	Notifier *recordingNotifier

	// client is an anonymous client with the anon key
	client client.Client
}

var testService TestService

func newTestService(dir string, autoconfirm bool) TestService {
	driver, err := kss.NewLocalFilesystem(kss.LocalConfiguration{BasePath: dir})
	if err != nil {
		panic(err)
	}
	validator, err := schema.NewValidator([]string{profileSchema}, nil)
	if err != nil {
		panic(err)
	}
	router := mux.NewRouter()
	notifier := &recordingNotifier{}
	b := backend.New(&backend.Builder{
		Config:      configurationJSON,
		Router:      router,
		AnonKey:     anonKey,
		Accounts:    access.NewMemoryStore(),
		JWTSecret:   jwtSecret,
		Autoconfirm: autoconfirm,
		Tables:      backend.NewMemoryTables(),
		KSS:         driver,
		Validator:   validator,
		Notifier:    notifier,
	})
	return TestService{
		Router:   router,
		Backend:  b,
		Notifier: notifier,
		client:   client.NewWithRouter(router).WithHeader("apikey", anonKey),
	}
}

func TestMain(m *testing.M) {
	logger.InitLoggerWithLevel("warn")
	dir, err := os.MkdirTemp("", "testall-backend")
	if err != nil {
		panic(err)
	}
	testService = newTestService(dir, true)
	code := m.Run()
	os.RemoveAll(dir)
	os.Exit(code)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type session struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	User        struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// errorBody decodes the error body of a status error
func errorBody(t *testing.T, err error) (int, map[string]interface{}) {
	t.Helper()
	var statusErr *client.StatusError
	require.True(t, errors.As(err, &statusErr), "expected a status error, got %v", err)
	body := map[string]interface{}{}
	require.NoError(t, json.Unmarshal(statusErr.Body, &body))
	return statusErr.Status, body
}

func TestAuth_SignUpLoginLogout(t *testing.T) {
	c := testService.client

	var signedUp session
	status, err := c.RawPost("/auth/v1/signup", credentials{"dave@example.com", "secret1"}, &signedUp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, signedUp.AccessToken)
	assert.Equal(t, "bearer", signedUp.TokenType)
	assert.Equal(t, "dave@example.com", signedUp.User.Email)
	require.Len(t, testService.Notifier.matching("account", "dave@example.com"), 1)

	_, err = c.RawPost("/auth/v1/signup", credentials{"dave@example.com", "secret2"}, nil)
	status, body := errorBody(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "user_already_exists", body["error_code"])
	assert.Equal(t, "User already registered", body["msg"])

	_, err = c.RawPost("/auth/v1/signup", credentials{"erin@example.com", "123"}, nil)
	status, body = errorBody(t, err)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "weak_password", body["error_code"])

	_, err = c.RawPost("/auth/v1/token?grant_type=password", credentials{"dave@example.com", "wrong1"}, nil)
	status, body = errorBody(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_credentials", body["error_code"])
	assert.Equal(t, "Invalid login credentials", body["msg"])

	_, err = c.RawPost("/auth/v1/token", credentials{"dave@example.com", "secret1"}, nil)
	status, _ = errorBody(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	var loggedIn session
	_, err = c.RawPost("/auth/v1/token?grant_type=password", credentials{"dave@example.com", "secret1"}, &loggedIn)
	require.NoError(t, err)
	assert.Equal(t, signedUp.User.ID, loggedIn.User.ID)
	assert.Equal(t, 3600, loggedIn.ExpiresIn)

	withToken := c.WithToken(loggedIn.AccessToken)
	var user map[string]interface{}
	_, err = withToken.RawGet("/auth/v1/user", &user)
	require.NoError(t, err)
	assert.Equal(t, "dave@example.com", user["email"])
	assert.Equal(t, "authenticated", user["role"])

	// the anon key is no user token
	_, err = c.WithToken(anonKey).RawGet("/auth/v1/user", nil)
	status, _ = errorBody(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, err = withToken.RawPost("/auth/v1/logout", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	_, err = withToken.RawGet("/auth/v1/user", nil)
	status, body = errorBody(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "bad_jwt", body["error_code"])

	// the signup session is still valid
	_, err = c.WithToken(signedUp.AccessToken).RawGet("/auth/v1/user", nil)
	assert.NoError(t, err)
}

func TestAuth_WithoutAutoconfirm(t *testing.T) {
	service := newTestService(t.TempDir(), false)
	c := service.client

	var user map[string]interface{}
	_, err := c.RawPost("/auth/v1/signup", credentials{"frank@example.com", "secret1"}, &user)
	require.NoError(t, err)
	assert.Equal(t, "frank@example.com", user["email"])
	assert.Nil(t, user["access_token"])

	_, err = c.RawPost("/auth/v1/token?grant_type=password", credentials{"frank@example.com", "secret1"}, nil)
	status, body := errorBody(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "email_not_confirmed", body["error_code"])
}

func TestAPIKey(t *testing.T) {
	plain := client.NewWithRouter(testService.Router)

	_, err := plain.RawGet("/rest/v1/notes?select=*", nil)
	status, body := errorBody(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid API key", body["message"])

	_, err = plain.WithHeader("apikey", "wrong").RawGet("/rest/v1/notes", nil)
	status, _ = errorBody(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)

	_, err = plain.RawGet("/rest/v1/notes?apikey="+anonKey, nil)
	assert.NoError(t, err)

	// version is public
	_, err = plain.RawGet("/version", nil)
	assert.NoError(t, err)
}

func TestAuth_InvalidToken(t *testing.T) {
	_, err := testService.client.WithToken("not-a-jwt").RawGet("/rest/v1/notes", nil)
	status, body := errorBody(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid JWT", body["msg"])
}

func TestCORS(t *testing.T) {
	status, header, _, err := client.NewWithRouter(testService.Router).Do(http.MethodOptions, "/rest/v1/notes", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, "*", header.Get("Access-Control-Allow-Origin"))
	allowed := strings.Split(header.Get("Access-Control-Allow-Headers"), ", ")
	for _, h := range []string{"apikey", "x-upsert", "prefer", "x-client-info", "Authorization"} {
		assert.Contains(t, allowed, h)
	}
	assert.Contains(t, header.Get("Access-Control-Allow-Methods"), http.MethodPost)

	// regular requests carry the headers too
	status, header, _, err = client.NewWithRouter(testService.Router).Do(http.MethodGet, "/version", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "*", header.Get("Access-Control-Allow-Origin"))
}

func TestTables_InsertSelect(t *testing.T) {
	c := testService.client
	representation := map[string]string{"Prefer": "return=representation"}

	var inserted []map[string]interface{}
	status, err := c.RawPostWithHeader("/rest/v1/notes?select=*", representation,
		[]map[string]interface{}{{"title": "first", "body": "a"}, {"title": "second"}}, &inserted)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	require.Len(t, inserted, 2)
	assert.Equal(t, float64(1), inserted[0]["id"])
	assert.Equal(t, float64(2), inserted[1]["id"])
	assert.Equal(t, "second", inserted[1]["title"])
	assert.Nil(t, inserted[1]["body"])

	// single object without representation
	var raw []byte
	status, err = c.RawPost("/rest/v1/notes", map[string]interface{}{"title": "third", "body": map[string]interface{}{"n": 3}}, &raw)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Empty(t, raw)
	assert.Len(t, testService.Notifier.matching("notes", "title"), 3)

	var rows []map[string]interface{}
	_, err = c.RawGet("/rest/v1/notes?select=*", &rows)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "first", rows[0]["title"])
	assert.Equal(t, map[string]interface{}{"n": float64(3)}, rows[2]["body"])

	var titles []map[string]interface{}
	_, err = c.RawGet("/rest/v1/notes?select=title", &titles)
	require.NoError(t, err)
	require.Len(t, titles, 3)
	assert.Equal(t, map[string]interface{}{"title": "first"}, titles[0])

	_, err = c.RawGet("/rest/v1/notes?select=nope", nil)
	status, body := errorBody(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "42703", body["code"])

	_, err = c.RawPost("/rest/v1/notes", map[string]interface{}{"author": "x"}, nil)
	status, body = errorBody(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "PGRST204", body["code"])

	_, err = c.RawPost("/rest/v1/notes", []byte("{broken"), nil)
	status, _ = errorBody(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestTables_Schema(t *testing.T) {
	c := testService.client

	_, err := c.RawPost("/rest/v1/profiles", map[string]interface{}{"name": ""}, nil)
	status, body := errorBody(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "23514", body["code"])

	// all or nothing
	_, err = c.RawPost("/rest/v1/profiles", []map[string]interface{}{{"name": "ok"}, {}}, nil)
	status, _ = errorBody(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	var rows []map[string]interface{}
	_, err = c.RawGet("/rest/v1/profiles?select=*", &rows)
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = c.RawPost("/rest/v1/profiles", map[string]interface{}{"name": "Grace"}, nil)
	require.NoError(t, err)
}

func TestTables_Unknown(t *testing.T) {
	_, err := testService.client.RawGet("/rest/v1/nothing?select=*", nil)
	status, body := errorBody(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "42P01", body["code"])
}

type uploadResponse struct {
	Key string `json:"Key"`
	ID  string `json:"Id"`
}

func TestStorage_Upload(t *testing.T) {
	c := testService.client
	text := map[string]string{"Content-Type": "text/plain"}

	var first uploadResponse
	_, err := c.RawPostBlob("/storage/v1/object/files/upload/hello.txt", text, []byte("hello"), &first)
	require.NoError(t, err)
	assert.Equal(t, "files/upload/hello.txt", first.Key)
	assert.NotEmpty(t, first.ID)

	_, err = c.RawPostBlob("/storage/v1/object/files/upload/hello.txt", text, []byte("again"), nil)
	status, body := errorBody(t, err)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "Duplicate", body["error"])
	assert.Equal(t, "409", body["statusCode"])

	var second uploadResponse
	_, err = c.RawPostBlob("/storage/v1/object/files/upload/hello.txt",
		map[string]string{"Content-Type": "text/plain", "x-upsert": "true"}, []byte("hello again"), &second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	notifications := testService.Notifier.matching("storage/files", "upload/hello.txt")
	require.Len(t, notifications, 2)
	assert.Equal(t, core.OperationCreate, notifications[0].Operation)
	assert.Equal(t, core.OperationUpdate, notifications[1].Operation)

	_, err = c.RawPostBlob("/storage/v1/object/nothing/x.txt", nil, []byte("x"), nil)
	status, body = errorBody(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Bucket not found", body["message"])

	_, err = c.RawPostBlob("/storage/v1/object/small/big.bin", nil, []byte("123456789"), nil)
	status, _ = errorBody(t, err)
	assert.Equal(t, http.StatusRequestEntityTooLarge, status)

	_, err = c.RawPostBlob("/storage/v1/object/small/fits.bin", nil, []byte("12345678"), nil)
	assert.NoError(t, err)
}

type listedObject struct {
	Name     string                 `json:"name"`
	ID       *string                `json:"id"`
	Metadata map[string]interface{} `json:"metadata"`
}

func list(t *testing.T, bucket string, request map[string]interface{}) []listedObject {
	t.Helper()
	var objects []listedObject
	_, err := testService.client.RawPost("/storage/v1/object/list/"+bucket, request, &objects)
	require.NoError(t, err)
	return objects
}

func listNames(objects []listedObject) []string {
	names := []string{}
	for _, o := range objects {
		names = append(names, o.Name)
	}
	return names
}

func TestStorage_List(t *testing.T) {
	c := testService.client
	for _, name := range []string{"b.txt", "a.txt", "c.txt", "sub/d.txt"} {
		_, err := c.RawPostBlob("/storage/v1/object/files/list/"+name, nil, []byte(name), nil)
		require.NoError(t, err)
	}

	objects := list(t, "files", map[string]interface{}{"prefix": "list/"})
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt", "sub"}, listNames(objects))
	assert.NotNil(t, objects[0].ID)
	assert.Equal(t, float64(5), objects[0].Metadata["size"])
	assert.Nil(t, objects[3].ID)
	assert.Nil(t, objects[3].Metadata)

	objects = list(t, "files", map[string]interface{}{
		"prefix": "list/",
		"limit":  2,
		"offset": 1,
		"sortBy": map[string]string{"column": "name", "order": "desc"},
	})
	assert.Equal(t, []string{"c.txt", "b.txt"}, listNames(objects))

	objects = list(t, "files", map[string]interface{}{"prefix": "list/", "search": "C"})
	assert.Equal(t, []string{"c.txt"}, listNames(objects))

	objects = list(t, "files", map[string]interface{}{"prefix": "list/", "offset": 10})
	assert.Empty(t, objects)

	objects = list(t, "files", map[string]interface{}{"prefix": "nothing/"})
	assert.Empty(t, objects)

	_, err := c.RawPost("/storage/v1/object/list/files", map[string]interface{}{"sortBy": map[string]string{"column": "size"}}, nil)
	status, _ := errorBody(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	_, err = c.RawPost("/storage/v1/object/list/nothing", map[string]interface{}{}, nil)
	status, _ = errorBody(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestNew_InvalidConfiguration(t *testing.T) {
	build := func(config string) func() {
		return func() {
			backend.New(&backend.Builder{
				Config:    config,
				Router:    mux.NewRouter(),
				AnonKey:   anonKey,
				Accounts:  access.NewMemoryStore(),
				JWTSecret: jwtSecret,
				Tables:    backend.NewMemoryTables(),
			})
		}
	}
	assert.Panics(t, build(`{"tables":[{"table":"a"},{"table":"a"}]}`))
	assert.Panics(t, build(`{"tables":[{"table":"a","columns":["id"]}]}`))
	assert.Panics(t, build(`{"tables":[{"table":"Bad-Name"}]}`))
	assert.Panics(t, build(`{"tables":[{"table":"a","schema_id":"https://testall.local/schemas/unknown.json"}]}`))
	// buckets without KSS driver
	assert.Panics(t, build(`{"buckets":[{"bucket":"files"}]}`))
	assert.Panics(t, build(`{broken`))
	assert.NotPanics(t, build(`{"tables":[{"table":"a","columns":["b"]}]}`))
}
