// Package security holds the request admission pipeline that runs before the
// router: load shedding, IP filtering, per-IP rate limiting, the per-request
// timeout and metrics.
package security

import (
	"net/http"
	"sync/atomic"
	"time"

	"chat-backend/internal/config"
	"chat-backend/internal/httpx"
)

type Pipeline struct {
	Shedder *LoadShedder
	Filter  *IPFilter
	Limiter *RateLimiter
	Timeout *RequestTimeout
	Metrics *Metrics

	trustForwarded atomic.Bool
}

func NewPipeline(cfg config.Config, metrics *Metrics) (*Pipeline, error) {
	filter, err := NewIPFilter(cfg.Security.BlockedNetworks, cfg.Security.AllowedNetworks)
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		Shedder: NewLoadShedder(cfg.Server.MaxConnections),
		Filter:  filter,
		Limiter: NewRateLimiter(
			cfg.Security.RateLimitCapacity,
			cfg.Security.RateLimitRefillPerSec,
			time.Duration(cfg.Security.RateLimitIdleSeconds)*time.Second,
		),
		Timeout: NewRequestTimeout(cfg.RequestTimeout()),
		Metrics: metrics,
	}
	p.trustForwarded.Store(cfg.Security.TrustForwardedHeaders)
	return p, nil
}

// Apply pushes the reloadable parts of cfg into the running pipeline.
func (p *Pipeline) Apply(cfg config.Config) error {
	if err := p.Filter.Update(cfg.Security.BlockedNetworks, cfg.Security.AllowedNetworks); err != nil {
		return err
	}
	p.Shedder.SetLimit(cfg.Server.MaxConnections)
	p.Limiter.SetLimit(
		cfg.Security.RateLimitCapacity,
		cfg.Security.RateLimitRefillPerSec,
		time.Duration(cfg.Security.RateLimitIdleSeconds)*time.Second,
	)
	p.Timeout.Set(cfg.RequestTimeout())
	p.trustForwarded.Store(cfg.Security.TrustForwardedHeaders)
	return nil
}

// ClientKey is the address the filter and limiter see. Forwarded headers are
// only honoured when the deployment says a trusted proxy sets them.
func (p *Pipeline) ClientKey(r *http.Request) string {
	if p.trustForwarded.Load() {
		if ip := httpx.ClientIP(r); ip != "unknown" {
			return ip
		}
	}
	return httpx.PeerIP(r)
}

func (p *Pipeline) Wrap(next http.Handler) http.Handler {
	// Metrics wrap the timeout so a 408 is recorded as sent.
	inner := p.Metrics.Middleware(p.Timeout.Middleware(next))

	admit := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := p.ClientKey(r)
		if !p.Filter.Allowed(ip) {
			p.Metrics.RecordIPBlocked()
			httpx.WriteError(w, http.StatusForbidden, "IP_BLOCKED", "Access denied")
			return
		}
		if !p.Limiter.Allow(ip) {
			p.Metrics.RecordRateLimited()
			w.Header().Set("Retry-After", "1")
			httpx.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
			return
		}
		inner.ServeHTTP(w, r)
	})

	return p.Shedder.Middleware(admit)
}
