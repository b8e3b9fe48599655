package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetAuthCookie(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		rememberMe bool
		wantSecure bool
		wantMaxAge int
	}{
		{name: "plain http session cookie", wantSecure: false, wantMaxAge: 0},
		{name: "forwarded proto https", headers: map[string]string{"X-Forwarded-Proto": "https"}, wantSecure: true},
		{name: "forwarded proto wins over ssl", headers: map[string]string{"X-Forwarded-Proto": "http", "X-Forwarded-Ssl": "on"}, wantSecure: false},
		{name: "forwarded ssl on", headers: map[string]string{"X-Forwarded-Ssl": "on"}, wantSecure: true},
		{name: "remember me sets max age", rememberMe: true, wantMaxAge: 3600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/login", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			SetAuthCookie(w, r, "tok", tt.rememberMe, time.Hour)

			cookies := w.Result().Cookies()
			require.Len(t, cookies, 1)
			c := cookies[0]
			assert.Equal(t, CookieName, c.Name)
			assert.Equal(t, "tok", c.Value)
			assert.True(t, c.HttpOnly)
			assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
			assert.Equal(t, "/", c.Path)
			assert.Equal(t, tt.wantSecure, c.Secure)
			assert.Equal(t, tt.wantMaxAge, c.MaxAge)
		})
	}
}

func TestClearAuthCookie(t *testing.T) {
	w := httptest.NewRecorder()
	ClearAuthCookie(w, httptest.NewRequest(http.MethodPost, "/api/logout", nil))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
	assert.Empty(t, cookies[0].Value)
}
