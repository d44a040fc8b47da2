// ABOUTME: HTTP-level tests for the auth and settings endpoints
// ABOUTME: Each test runs the real stack against a temp data directory

package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdeck/taskdeck/internal/auth"
	"github.com/taskdeck/taskdeck/internal/settings"
)

// testStack wires the real components behind an httptest server.
type testStack struct {
	server   *httptest.Server
	secret   string
	sessions *auth.SessionManager
	realtime *auth.RealtimeTokenIssuer
	settings *settings.Store
	events   *EventHub
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	dir := t.TempDir()

	secrets := auth.NewSecretStore(filepath.Join(dir, "secret"), nil)
	secret, err := secrets.Get()
	require.NoError(t, err)

	sessions, err := auth.NewSessionManager(filepath.Join(dir, "sessions.json"), time.Hour, nil)
	require.NoError(t, err)

	settingsStore, err := settings.NewStore(filepath.Join(dir, "settings.toml"), nil)
	require.NoError(t, err)

	limiter := auth.NewRateLimiter(5, time.Minute)
	login := auth.NewLoginService(secrets, sessions, limiter, nil)
	realtime := auth.NewRealtimeTokenIssuer(5 * time.Minute)
	gate := auth.NewGate(secrets, sessions, AllowlistPaths, nil)
	events := NewEventHub()

	handler := New(login, sessions, realtime, gate, settingsStore, events, nil)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	srv := httptest.NewServer(LoggingMiddleware(nil)(gate.Middleware(mux)))
	t.Cleanup(srv.Close)
	t.Cleanup(events.Close)

	return &testStack{
		server:   srv,
		secret:   secret,
		sessions: sessions,
		realtime: realtime,
		settings: settingsStore,
		events:   events,
	}
}

// login performs a successful login and returns the session cookie.
func (s *testStack) login(t *testing.T) *http.Cookie {
	t.Helper()
	resp := s.postJSON(t, "/api/auth/login", map[string]string{"secret": s.secret}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, c := range resp.Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	t.Fatal("login response did not set the session cookie")
	return nil
}

func (s *testStack) postJSON(t *testing.T, path string, body any, cookie *http.Cookie) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, s.server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	if cookie != nil {
		req.AddCookie(cookie)
	}

	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func (s *testStack) get(t *testing.T, path string, cookie *http.Cookie) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.server.URL+path, nil)
	require.NoError(t, err)
	if cookie != nil {
		req.AddCookie(cookie)
	}

	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestAuthStatus(t *testing.T) {
	s := newTestStack(t)

	body := decodeBody[map[string]bool](t, s.get(t, "/api/auth/status", nil))
	assert.False(t, body["authenticated"])

	cookie := s.login(t)
	body = decodeBody[map[string]bool](t, s.get(t, "/api/auth/status", cookie))
	assert.True(t, body["authenticated"])
}

func TestLogin_Success(t *testing.T) {
	s := newTestStack(t)

	resp := s.postJSON(t, "/api/auth/login", map[string]string{"secret": s.secret}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == auth.SessionCookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, "/", cookie.Path)

	body := decodeBody[loginResponse](t, resp)
	assert.True(t, body.Success)
	assert.Len(t, body.Token, 64)
	assert.Equal(t, cookie.Value, body.Token)
}

func TestLogin_WrongSecret(t *testing.T) {
	s := newTestStack(t)

	resp := s.postJSON(t, "/api/auth/login", map[string]string{"secret": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody[loginResponse](t, resp)
	assert.False(t, body.Success)
	assert.Empty(t, body.Token)
}

func TestLogin_MalformedBodyIsJustAFailedAttempt(t *testing.T) {
	s := newTestStack(t)

	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/api/auth/login", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogin_RateLimited(t *testing.T) {
	s := newTestStack(t)

	for i := 0; i < 5; i++ {
		resp := s.postJSON(t, "/api/auth/login", map[string]string{"secret": "wrong"}, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "attempt %d", i+1)
		resp.Body.Close()
	}

	// The sixth attempt is rejected even with the correct secret.
	resp := s.postJSON(t, "/api/auth/login", map[string]string{"secret": s.secret}, nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestLogout(t *testing.T) {
	s := newTestStack(t)
	cookie := s.login(t)

	resp := s.postJSON(t, "/api/auth/logout", nil, cookie)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The session is gone; the same cookie no longer authenticates.
	body := decodeBody[map[string]bool](t, s.get(t, "/api/auth/status", cookie))
	assert.False(t, body["authenticated"])

	// Logging out again is a no-op, not an error.
	resp = s.postJSON(t, "/api/auth/logout", nil, cookie)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "logout requires auth once the session is gone")
}

func TestRealtimeToken_RequiresAuth(t *testing.T) {
	s := newTestStack(t)

	resp := s.get(t, "/api/auth/realtime-token", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRealtimeToken_IssuedWhenAuthenticated(t *testing.T) {
	s := newTestStack(t)
	cookie := s.login(t)

	body := decodeBody[map[string]string](t, s.get(t, "/api/auth/realtime-token", cookie))
	require.NotEmpty(t, body["token"])

	assert.True(t, s.realtime.Redeem(body["token"]))
}

func TestRealtimeToken_StaticHeaderPathWorksToo(t *testing.T) {
	s := newTestStack(t)

	req, err := http.NewRequest(http.MethodGet, s.server.URL+"/api/auth/realtime-token", nil)
	require.NoError(t, err)
	req.Header.Set(auth.SecretHeaderName, s.secret)

	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody[map[string]string](t, resp)
	assert.NotEmpty(t, body["token"])
}

func TestAuthMode_GetAndSet(t *testing.T) {
	s := newTestStack(t)
	cookie := s.login(t)

	body := decodeBody[map[string]string](t, s.get(t, "/api/providers/anthropic/auth-mode", cookie))
	assert.Equal(t, "subscription-token", body["mode"], "unset backends default to the restrictive mode")

	req, err := http.NewRequest(http.MethodPut, s.server.URL+"/api/providers/anthropic/auth-mode",
		bytes.NewReader([]byte(`{"mode":"direct-key"}`)))
	require.NoError(t, err)
	req.AddCookie(cookie)
	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body = decodeBody[map[string]string](t, s.get(t, "/api/providers/anthropic/auth-mode", cookie))
	assert.Equal(t, "direct-key", body["mode"])
}

func TestAuthMode_RejectsUnknownMode(t *testing.T) {
	s := newTestStack(t)
	cookie := s.login(t)

	req, err := http.NewRequest(http.MethodPut, s.server.URL+"/api/providers/anthropic/auth-mode",
		bytes.NewReader([]byte(`{"mode":"bogus"}`)))
	require.NoError(t, err)
	req.AddCookie(cookie)
	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	s := newTestStack(t)

	resp := s.get(t, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[healthResponse](t, resp)
	assert.Equal(t, "ok", body.Status)
	assert.False(t, body.DurabilityDegraded)
}

func TestProtectedRoutesRejectWithoutCredentials(t *testing.T) {
	s := newTestStack(t)

	paths := []string{
		"/api/auth/realtime-token",
		"/api/providers/anthropic/auth-mode",
	}
	for _, path := range paths {
		resp := s.get(t, path, nil)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestRejectionBodiesAreUniform(t *testing.T) {
	s := newTestStack(t)

	read := func(resp *http.Response) string {
		defer resp.Body.Close()
		var buf bytes.Buffer
		_, err := buf.ReadFrom(resp.Body)
		require.NoError(t, err)
		return buf.String()
	}

	noCreds := read(s.get(t, "/api/auth/realtime-token", nil))
	badCookie := read(s.get(t, "/api/auth/realtime-token", &http.Cookie{Name: auth.SessionCookieName, Value: "junk"}))
	assert.Equal(t, noCreds, badCookie)
}

func TestLoggingMiddlewarePreservesStatus(t *testing.T) {
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		fmt.Fprint(w, "short and stout")
	})
	handler = LoggingMiddleware(nil)(handler)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "short and stout", rec.Body.String())
}
