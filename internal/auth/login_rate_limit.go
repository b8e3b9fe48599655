package auth

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"chat-backend/internal/httpx"
)

// LoginThrottle is a sliding-window limit on login attempts per client IP,
// applied on top of the general token bucket.
type LoginThrottle struct {
	mu        sync.Mutex
	key       func(*http.Request) string
	maxHits   int
	window    time.Duration
	hitByIP   map[string][]time.Time
	maxMemory int
	now       func() time.Time
}

// NewLoginThrottle keys attempts with key, or the TCP peer address when key is nil.
func NewLoginThrottle(maxHits int, window time.Duration, key func(*http.Request) string) *LoginThrottle {
	if maxHits <= 0 {
		maxHits = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	if key == nil {
		key = httpx.PeerIP
	}

	return &LoginThrottle{
		key:       key,
		maxHits:   maxHits,
		window:    window,
		hitByIP:   make(map[string][]time.Time),
		maxMemory: 5000,
		now:       time.Now,
	}
}

func (l *LoginThrottle) Wrap(next func(http.ResponseWriter, *http.Request)) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := l.allow(l.key(r), l.now().UTC())
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			httpx.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many login attempts")
			return
		}
		next(w, r)
	}
}

func (l *LoginThrottle) allow(ip string, now time.Time) (bool, time.Duration) {
	threshold := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	hits := l.hitByIP[ip]
	filtered := make([]time.Time, 0, len(hits)+1)
	for _, hit := range hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}

	if len(filtered) >= l.maxHits {
		retryAfter := filtered[0].Add(l.window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		l.hitByIP[ip] = filtered
		return false, retryAfter
	}

	l.hitByIP[ip] = append(filtered, now)

	if len(l.hitByIP) > l.maxMemory {
		for key, value := range l.hitByIP {
			if len(value) == 0 || value[len(value)-1].Before(threshold) {
				delete(l.hitByIP, key)
			}
		}
	}

	return true, 0
}
