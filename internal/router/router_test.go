package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-backend/internal/auth"
	"chat-backend/internal/observability"
	"chat-backend/internal/store"
)

type sessionMap map[string]store.Session

func (m sessionMap) GetSession(_ context.Context, id string) (store.Session, error) {
	s, ok := m[id]
	if !ok {
		return store.Session{}, store.ErrNotFound
	}
	return s, nil
}

func (m sessionMap) TouchSession(context.Context, string, time.Time) error { return nil }

type fixture struct {
	router   *Router
	codec    *auth.Codec
	sessions sessionMap
}

func newFixture() *fixture {
	codec := auth.NewCodec("router-test-key")
	sessions := sessionMap{}
	validator := auth.NewValidator(codec, sessions, observability.NopLogger())
	return &fixture{router: New(validator, observability.NopLogger()), codec: codec, sessions: sessions}
}

func (f *fixture) login(t *testing.T, userID int64, sessionID string, isAdmin bool) string {
	t.Helper()
	now := time.Now()
	f.sessions[sessionID] = store.Session{ID: sessionID, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	token, err := f.codec.Encode(auth.NewClaims(userID, "user", sessionID, "test-agent", isAdmin, now, time.Hour))
	require.NoError(t, err)
	return token
}

func do(h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	r.Header.Set("User-Agent", "test-agent")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestPathMatches(t *testing.T) {
	tests := []struct {
		template string
		path     string
		want     bool
		params   map[string]string
	}{
		{"/admin/api/users/:id", "/admin/api/users/42", true, map[string]string{"id": "42"}},
		{"/admin/api/users/:id", "/admin/api/users/42/extra", false, nil},
		{"/admin/api/users/:id", "/admin/api/users/", false, nil},
		{"/api/profile", "/api/profile", true, nil},
		{"/api/profile", "/api/profile/", false, nil},
		{"/api/profile", "/api/profile?x=1", true, nil},
		{"/api/groups/:id/members", "/api/groups/7/members", true, map[string]string{"id": "7"}},
		{"/api/groups/:id/members", "/api/groups/7/admins", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.template+" "+tt.path, func(t *testing.T) {
			params, ok := PathMatches(tt.template, tt.path)
			assert.Equal(t, tt.want, ok)
			if tt.params != nil {
				assert.Equal(t, tt.params, params)
			}
		})
	}
}

func TestRouter_TierIsolation(t *testing.T) {
	f := newFixture()
	var lightCalls, hardCalls int
	f.router.Light(http.MethodGet, "/api/profile", func(w http.ResponseWriter, r *http.Request, claims auth.Claims) {
		lightCalls++
		w.WriteHeader(http.StatusOK)
	})
	f.router.Hard(http.MethodPost, "/api/messages/send", func(w http.ResponseWriter, r *http.Request, userID int64, claims auth.Claims) {
		hardCalls++
		w.WriteHeader(http.StatusOK)
	})

	token := f.login(t, 3, "s-1", false)
	delete(f.sessions, "s-1")

	// The fast path keeps accepting a revoked session until the token expires.
	assert.Equal(t, http.StatusOK, do(f.router, http.MethodGet, "/api/profile", token).Code)
	assert.Equal(t, 1, lightCalls)

	w := do(f.router, http.MethodPost, "/api/messages/send", token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"status":"error","code":"UNAUTHORIZED","message":"Authentication required"}`, w.Body.String())
	assert.Zero(t, hardCalls)
}

func TestRouter_MissingTokenIsUnauthorized(t *testing.T) {
	f := newFixture()
	f.router.Light(http.MethodGet, "/api/chats", func(http.ResponseWriter, *http.Request, auth.Claims) {
		t.Fatal("handler must not run")
	})

	w := do(f.router, http.MethodGet, "/api/chats", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_HardPassesUserID(t *testing.T) {
	f := newFixture()
	var gotUser int64
	f.router.Hard(http.MethodPost, "/api/chats", func(w http.ResponseWriter, r *http.Request, userID int64, claims auth.Claims) {
		gotUser = userID
		w.WriteHeader(http.StatusCreated)
	})

	w := do(f.router, http.MethodPost, "/api/chats", f.login(t, 9, "s-9", false))
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, int64(9), gotUser)
}

func TestRouter_AdminRequiresClaim(t *testing.T) {
	f := newFixture()
	called := false
	f.router.Admin(http.MethodPost, "/admin/api/stats", func(w http.ResponseWriter, r *http.Request, userID int64, claims auth.Claims) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	w := do(f.router, http.MethodPost, "/admin/api/stats", f.login(t, 2, "s-2", false))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"FORBIDDEN"`)
	assert.False(t, called)

	w = do(f.router, http.MethodPost, "/admin/api/stats", f.login(t, 1, "s-admin", true))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, called)
}

func TestRouter_RegistrationOrderWins(t *testing.T) {
	f := newFixture()
	var hit string
	f.router.Open(http.MethodGet, "/api/items/:id", func(w http.ResponseWriter, r *http.Request) { hit = "param:" + Param(r, "id") })
	f.router.Open(http.MethodGet, "/api/items/:name", func(w http.ResponseWriter, r *http.Request) { hit = "second" })
	f.router.Open(http.MethodGet, "/api/items/latest", func(w http.ResponseWriter, r *http.Request) { hit = "exact" })
	f.router.Open(http.MethodGet, "/api/things/latest", func(w http.ResponseWriter, r *http.Request) { hit = "things-exact" })
	f.router.Open(http.MethodGet, "/api/things/:id", func(w http.ResponseWriter, r *http.Request) { hit = "things-param" })

	// An earlier parameterized route shadows a later exact one.
	do(f.router, http.MethodGet, "/api/items/latest", "")
	assert.Equal(t, "param:latest", hit)

	do(f.router, http.MethodGet, "/api/items/17?verbose=1", "")
	assert.Equal(t, "param:17", hit)

	do(f.router, http.MethodGet, "/api/things/latest", "")
	assert.Equal(t, "things-exact", hit)

	do(f.router, http.MethodGet, "/api/things/9", "")
	assert.Equal(t, "things-param", hit)
}

func TestRouter_NotFound(t *testing.T) {
	f := newFixture()
	f.router.Open(http.MethodPost, "/api/login", func(w http.ResponseWriter, r *http.Request) {})

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/login"},
		{http.MethodPost, "/api/login/"},
		{http.MethodDelete, "/nowhere"},
	} {
		w := do(f.router, tc.method, tc.path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, tc.path)
		assert.JSONEq(t, `{"status":"error","code":"NOT_FOUND","message":"Resource not found"}`, w.Body.String())
	}
}

func TestRouter_GetFallsBackToStatic(t *testing.T) {
	web := t.TempDir()
	icons := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(web, "index.html"), []byte("<h1>chat</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(web, ".env"), []byte("SECRET=1"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(web, "private"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(web, "private", "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(icons, "logo.svg"), []byte("<svg/>"), 0o644))

	f := newFixture()
	f.router.Fallback(NewStatic(web, icons, []string{"/private"}).Serve)

	w := do(f.router, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<h1>chat</h1>", w.Body.String())

	w = do(f.router, http.MethodGet, "/icons/logo.svg", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "<svg/>", w.Body.String())

	for _, path := range []string{"/.env", "/private/notes.txt", "/missing.js", "/private"} {
		w = do(f.router, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.Contains(t, w.Body.String(), "NOT_FOUND")
	}

	w = do(f.router, http.MethodPost, "/", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
