// Package router dispatches requests to handlers registered under a trust tier.
// The tier is fixed at registration and decides which token verification runs
// before the handler is called.
package router

import (
	"context"
	"errors"
	"net/http"

	"chat-backend/internal/apperr"
	"chat-backend/internal/auth"
	"chat-backend/internal/httpx"
	"chat-backend/internal/observability"
)

type OpenHandler func(w http.ResponseWriter, r *http.Request)

type LightHandler func(w http.ResponseWriter, r *http.Request, claims auth.Claims)

type HardHandler func(w http.ResponseWriter, r *http.Request, userID int64, claims auth.Claims)

// Verifier runs the two token checks. *auth.Validator satisfies it.
type Verifier interface {
	Fast(r *http.Request) (auth.Claims, error)
	Secure(ctx context.Context, r *http.Request) (int64, auth.Claims, error)
}

type tier int

const (
	tierOpen tier = iota
	tierLight
	tierHard
	tierAdmin
)

func (t tier) String() string {
	switch t {
	case tierLight:
		return "light"
	case tierHard:
		return "hard"
	case tierAdmin:
		return "admin"
	default:
		return "open"
	}
}

type route struct {
	method  string
	pattern string
	tier    tier
	open    OpenHandler
	light   LightHandler
	hard    HardHandler
}

type Router struct {
	routes   []route
	verifier Verifier
	logger   *observability.Logger
	fallback func(w http.ResponseWriter, r *http.Request) bool
}

func New(verifier Verifier, logger *observability.Logger) *Router {
	return &Router{verifier: verifier, logger: logger}
}

// Fallback is tried for unmatched GET requests. It reports whether it wrote a response.
func (rt *Router) Fallback(fn func(w http.ResponseWriter, r *http.Request) bool) {
	rt.fallback = fn
}

func (rt *Router) Open(method, pattern string, h OpenHandler) {
	rt.routes = append(rt.routes, route{method: method, pattern: pattern, tier: tierOpen, open: h})
}

func (rt *Router) Light(method, pattern string, h LightHandler) {
	rt.routes = append(rt.routes, route{method: method, pattern: pattern, tier: tierLight, light: h})
}

func (rt *Router) Hard(method, pattern string, h HardHandler) {
	rt.routes = append(rt.routes, route{method: method, pattern: pattern, tier: tierHard, hard: h})
}

// Admin registers a secure-path route that also requires the is_admin claim.
func (rt *Router) Admin(method, pattern string, h HardHandler) {
	rt.routes = append(rt.routes, route{method: method, pattern: pattern, tier: tierAdmin, hard: h})
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	matched, params, ok := rt.match(r.Method, r.URL.Path)
	if !ok {
		if r.Method == http.MethodGet && rt.fallback != nil && rt.fallback(w, r) {
			return
		}
		httpx.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
		return
	}

	if len(params) > 0 {
		r = r.WithContext(context.WithValue(r.Context(), paramsKey{}, params))
	}

	switch matched.tier {
	case tierOpen:
		matched.open(w, r)

	case tierLight:
		claims, err := rt.verifier.Fast(r)
		if err != nil {
			rt.reject(w, r, matched.tier, err)
			return
		}
		matched.light(w, r, claims)

	case tierHard, tierAdmin:
		userID, claims, err := rt.verifier.Secure(r.Context(), r)
		if err != nil {
			rt.reject(w, r, matched.tier, err)
			return
		}
		if matched.tier == tierAdmin && !claims.IsAdmin {
			rt.logger.Warn("admin_required", map[string]any{"path": r.URL.Path, "user_id": userID})
			httpx.WriteError(w, http.StatusForbidden, "FORBIDDEN", "Admin privileges required")
			return
		}
		matched.hard(w, r, userID, claims)
	}
}

// match scans routes in registration order; the first method and path match wins.
func (rt *Router) match(method, path string) (route, map[string]string, bool) {
	for _, candidate := range rt.routes {
		if candidate.method != method {
			continue
		}
		if params, ok := PathMatches(candidate.pattern, path); ok {
			return candidate, params, true
		}
	}
	return route{}, nil, false
}

var authFailures = []error{
	auth.ErrMissingToken,
	auth.ErrInvalidToken,
	auth.ErrTokenExpired,
	auth.ErrSessionNotFound,
	auth.ErrIPMismatch,
}

// reject answers every verification failure with the same 401. Only a store
// failure during the session lookup surfaces as a 500.
func (rt *Router) reject(w http.ResponseWriter, r *http.Request, t tier, err error) {
	for _, known := range authFailures {
		if errors.Is(err, known) {
			rt.logger.Warn("auth_rejected", map[string]any{
				"path":   r.URL.Path,
				"tier":   t.String(),
				"reason": err.Error(),
				"ip":     httpx.ClientIP(r),
			})
			httpx.WriteError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
			return
		}
	}
	httpx.Fail(w, r, rt.logger, apperr.Database(err))
}
