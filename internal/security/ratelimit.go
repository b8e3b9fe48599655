package security

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// RateLimiter keeps one token bucket per client IP. Buckets live in memory only
// and are dropped after sitting idle.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

func NewRateLimiter(capacity int, refillPerSecond float64, idle time.Duration) *RateLimiter {
	if idle <= 0 {
		idle = time.Minute
	}
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(refillPerSecond),
		burst:   capacity,
		idle:    idle,
		now:     time.Now,
	}
}

func (l *RateLimiter) Allow(ip string) bool {
	return l.AllowAt(ip, l.now())
}

// AllowAt takes one token from ip's bucket as of at.
func (l *RateLimiter) AllowAt(ip string, at time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = at
	return b.lim.AllowN(at, 1)
}

// SetLimit applies new bucket parameters to existing and future buckets.
func (l *RateLimiter) SetLimit(capacity int, refillPerSecond float64, idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.limit = rate.Limit(refillPerSecond)
	l.burst = capacity
	if idle > 0 {
		l.idle = idle
	}
	now := l.now()
	for _, b := range l.buckets {
		b.lim.SetLimitAt(now, l.limit)
		b.lim.SetBurstAt(now, l.burst)
	}
}

// Sweep drops buckets idle for longer than the idle window and returns how many.
func (l *RateLimiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, b := range l.buckets {
		if now.Sub(b.seen) > l.idle {
			delete(l.buckets, ip)
			removed++
		}
	}
	return removed
}

func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Run sweeps once per idle window until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) {
	l.mu.Lock()
	interval := l.idle
	l.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep(l.now())
		}
	}
}
