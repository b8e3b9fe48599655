package httpx

import (
	"crypto/tls"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-backend/internal/apperr"
)

type captureLogger struct{ messages []string }

func (c *captureLogger) Error(message string, _ map[string]any) {
	c.messages = append(c.messages, message)
}

func TestWriteSuccess_AddsStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, http.StatusCreated, map[string]any{"status": "ignored", "id": 4})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"success","id":4}`, w.Body.String())
}

func TestFail(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/x", nil)

	w := httptest.NewRecorder()
	logger := &captureLogger{}
	Fail(w, r, logger, apperr.NotFound("USER_NOT_FOUND", "User not found"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"status":"error","code":"USER_NOT_FOUND","message":"User not found"}`, w.Body.String())
	assert.Empty(t, logger.messages)

	w = httptest.NewRecorder()
	Fail(w, r, logger, apperr.Database(errors.New("connection refused on 10.0.0.3")))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.3")
	assert.Equal(t, []string{"request_failed"}, logger.messages)
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{name: "valid", body: `{"name":"a"}`, ok: true},
		{name: "unknown field", body: `{"name":"a","extra":1}`},
		{name: "malformed", body: `{"name":`},
		{name: "too large", body: `{"name":"` + strings.Repeat("x", MaxJSONBodyBytes) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			err := DecodeJSON(httptest.NewRecorder(), r, &dst)
			if tt.ok {
				require.NoError(t, err)
				return
			}
			assert.True(t, apperr.Is(err, "INVALID_INPUT"))
		})
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{name: "forwarded first entry", headers: map[string]string{"X-Forwarded-For": " 203.0.113.5 , 10.0.0.1"}, want: "203.0.113.5"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, want: "198.51.100.7"},
		{name: "forwarded wins", headers: map[string]string{"X-Forwarded-For": "203.0.113.5", "X-Real-IP": "198.51.100.7"}, want: "203.0.113.5"},
		{name: "none", want: "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r))
		})
	}
}

func TestPeerIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "2001:db8::1", PeerIP(r))

	r.RemoteAddr = "no-port"
	assert.Equal(t, "no-port", PeerIP(r))
}

func TestIsSecure(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.False(t, IsSecure(r))

	r.Header.Set("X-Forwarded-Ssl", "on")
	assert.True(t, IsSecure(r))

	r.Header.Set("X-Forwarded-Proto", "http")
	assert.False(t, IsSecure(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.TLS = &tls.ConnectionState{}
	assert.True(t, IsSecure(r))
}
