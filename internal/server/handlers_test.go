package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/pairchat/internal/store"
	"github.com/stretchr/testify/require"
)

// apiClient keeps the session cookie between calls, like a browser.
type apiClient struct {
	t    *testing.T
	base string
	http *http.Client
}

func newAPIClient(t *testing.T, env *testEnv) *apiClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &apiClient{t: t, base: env.server.URL, http: &http.Client{Jar: jar, Timeout: 5 * time.Second}}
}

func (c *apiClient) do(method, path, body string) (int, []byte) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, strings.NewReader(body))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", testOrigin)
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp.StatusCode, raw
}

func TestHealthAndTestHandlers(t *testing.T) {
	env := newTestEnv(t, nil)
	c := newAPIClient(t, env)

	tests := []struct {
		name           string
		path           string
		expectedStatus int
		expectedBody   string
	}{
		{name: "health", path: "/", expectedStatus: http.StatusOK, expectedBody: "pairchat server is running!"},
		{name: "test", path: "/test", expectedStatus: http.StatusOK, expectedBody: `"test ok"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := c.do(http.MethodGet, tt.path, "")
			require.Equal(t, tt.expectedStatus, status)
			require.Equal(t, tt.expectedBody, string(body))
		})
	}
}

func TestRegisterLoginProfileLogout(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, nil)
	c := newAPIClient(t, env)

	status, body := c.do(http.MethodGet, "/profile", "")
	req.Equal(http.StatusUnauthorized, status)
	req.JSONEq(`"no token"`, string(body))

	status, body = c.do(http.MethodPost, "/register", `{"username":"alice","password":"correct horse"}`)
	req.Equal(http.StatusCreated, status)
	var created idResponse
	req.NoError(json.Unmarshal(body, &created))
	req.NotEmpty(created.ID)

	status, body = c.do(http.MethodGet, "/profile", "")
	req.Equal(http.StatusOK, status)
	req.JSONEq(`{"userId":"`+created.ID+`","username":"alice"}`, string(body))

	status, _ = c.do(http.MethodPost, "/logout", "")
	req.Equal(http.StatusOK, status)
	status, _ = c.do(http.MethodGet, "/profile", "")
	req.Equal(http.StatusUnauthorized, status)

	status, body = c.do(http.MethodPost, "/login", `{"username":"alice","password":"correct horse"}`)
	req.Equal(http.StatusCreated, status)
	var loggedIn idResponse
	req.NoError(json.Unmarshal(body, &loggedIn))
	req.Equal(created.ID, loggedIn.ID)

	status, _ = c.do(http.MethodGet, "/profile", "")
	req.Equal(http.StatusOK, status)
}

func TestRegisterAndLoginFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	c := newAPIClient(t, env)
	status, _ := c.do(http.MethodPost, "/register", `{"username":"bob","password":"password123"}`)
	require.Equal(t, http.StatusCreated, status)

	tests := []struct {
		name           string
		path           string
		body           string
		expectedStatus int
	}{
		{name: "duplicate username", path: "/register", body: `{"username":"bob","password":"password123"}`, expectedStatus: http.StatusConflict},
		{name: "short password", path: "/register", body: `{"username":"carol","password":"short"}`, expectedStatus: http.StatusBadRequest},
		{name: "invalid username", path: "/register", body: `{"username":"c d","password":"password123"}`, expectedStatus: http.StatusBadRequest},
		{name: "not json", path: "/register", body: `nope`, expectedStatus: http.StatusBadRequest},
		{name: "unknown user", path: "/login", body: `{"username":"nobody","password":"password123"}`, expectedStatus: http.StatusUnauthorized},
		{name: "wrong password", path: "/login", body: `{"username":"bob","password":"password999"}`, expectedStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, _ := newAPIClient(t, env).do(http.MethodPost, tt.path, tt.body)
			require.Equal(t, tt.expectedStatus, status)
		})
	}
}

func TestMessagesAndPeople(t *testing.T) {
	req := require.New(t)
	env := newTestEnv(t, nil)
	c := newAPIClient(t, env)

	status, _ := c.do(http.MethodGet, "/people", "")
	req.Equal(http.StatusUnauthorized, status)

	_, body := c.do(http.MethodPost, "/register", `{"username":"alice","password":"password123"}`)
	var alice idResponse
	req.NoError(json.Unmarshal(body, &alice))
	_, err := env.store.CreateUser(context.Background(), "bob", "hash")
	req.NoError(err)
	bob, err := env.store.UserByName(context.Background(), "bob")
	req.NoError(err)

	status, body = c.do(http.MethodGet, "/people", "")
	req.Equal(http.StatusOK, status)
	req.JSONEq(`[{"_id":"`+alice.ID+`","username":"alice"},{"_id":"`+bob.ID+`","username":"bob"}]`, string(body))

	status, body = c.do(http.MethodGet, "/messages/"+bob.ID, "")
	req.Equal(http.StatusOK, status)
	req.JSONEq(`[]`, string(body))

	ctx := context.Background()
	_, err = env.store.Append(ctx, alice.ID, bob.ID, "first")
	req.NoError(err)
	_, err = env.store.Append(ctx, bob.ID, alice.ID, "second")
	req.NoError(err)

	status, body = c.do(http.MethodGet, "/messages/"+bob.ID, "")
	req.Equal(http.StatusOK, status)
	var history []store.Message
	req.NoError(json.Unmarshal(body, &history))
	req.Len(history, 2)
	req.Equal("first", history[0].Text)
	req.Equal("second", history[1].Text)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	r, err := http.NewRequest(http.MethodOptions, env.server.URL+"/login", http.NoBody)
	require.NoError(t, err)
	r.Header.Set("Origin", testOrigin)
	resp, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	r, err = http.NewRequest(http.MethodOptions, env.server.URL+"/login", http.NoBody)
	require.NoError(t, err)
	r.Header.Set("Origin", "http://evil.example")
	resp2, err := http.DefaultClient.Do(r)
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Empty(t, resp2.Header.Get("Access-Control-Allow-Origin"))
}

func TestCreateServer(t *testing.T) {
	srv := CreateServer(":0", http.NewServeMux())
	require.Equal(t, ":0", srv.Addr)
	require.Equal(t, 15*time.Second, srv.ReadTimeout)
	require.Equal(t, 15*time.Second, srv.WriteTimeout)
	require.Equal(t, 60*time.Second, srv.IdleTimeout)
}

func TestStartAndShutdownServer(t *testing.T) {
	srv := CreateServer("127.0.0.1:0", http.NewServeMux())
	errs := make(chan error, 1)
	go func() { errs <- StartServer(srv) }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ShutdownServer(srv, time.Second))
	require.NoError(t, <-errs, "a graceful shutdown is not an error")
}
