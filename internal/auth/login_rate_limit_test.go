package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoginThrottle_WindowSlides(t *testing.T) {
	throttle := NewLoginThrottle(2, time.Minute, nil)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	ok, _ := throttle.allow("1.2.3.4", start)
	assert.True(t, ok)
	ok, _ = throttle.allow("1.2.3.4", start.Add(10*time.Second))
	assert.True(t, ok)

	ok, retry := throttle.allow("1.2.3.4", start.Add(20*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 40*time.Second, retry)

	ok, _ = throttle.allow("5.6.7.8", start.Add(20*time.Second))
	assert.True(t, ok, "other IPs are independent")

	ok, _ = throttle.allow("1.2.3.4", start.Add(61*time.Second))
	assert.True(t, ok)
}

func TestLoginThrottle_Wrap(t *testing.T) {
	throttle := NewLoginThrottle(1, time.Minute, nil)
	calls := 0
	h := throttle.Wrap(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		r.Header.Set("X-Forwarded-For", "9.9.9.9")
		w := httptest.NewRecorder()
		h(w, r)
		if i == 1 {
			assert.Equal(t, http.StatusTooManyRequests, w.Code)
			assert.Contains(t, w.Body.String(), `"code":"RATE_LIMITED"`)
			assert.NotEmpty(t, w.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, 1, calls)
}

func TestLoginThrottle_IgnoresForwardedHeaderByDefault(t *testing.T) {
	throttle := NewLoginThrottle(1, time.Minute, nil)
	h := throttle.Wrap(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for _, forwarded := range []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"} {
		r := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		r.RemoteAddr = "192.0.2.44:6000"
		r.Header.Set("X-Forwarded-For", forwarded)
		w := httptest.NewRecorder()
		h(w, r)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusTooManyRequests}, codes)
}

func TestLoginThrottle_CustomKey(t *testing.T) {
	throttle := NewLoginThrottle(1, time.Minute, func(r *http.Request) string {
		return r.Header.Get("X-Forwarded-For")
	})
	h := throttle.Wrap(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, forwarded := range []string{"10.0.0.1", "10.0.0.2"} {
		r := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		r.Header.Set("X-Forwarded-For", forwarded)
		w := httptest.NewRecorder()
		h(w, r)
		assert.Equal(t, http.StatusOK, w.Code, forwarded)
	}
}
