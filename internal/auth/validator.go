package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chat-backend/internal/httpx"
	"chat-backend/internal/observability"
	"chat-backend/internal/store"
)

var (
	ErrMissingToken    = errors.New("missing token")
	ErrSessionNotFound = errors.New("session not found")
	ErrIPMismatch      = errors.New("ip mismatch")
)

const userAgentPrefixLen = 30

type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (store.Session, error)
	TouchSession(ctx context.Context, sessionID string, at time.Time) error
}

// Validator implements the two verification tiers. Only the router calls it.
type Validator struct {
	codec    *Codec
	sessions SessionStore
	logger   *observability.Logger
	now      func() time.Time
}

func NewValidator(codec *Codec, sessions SessionStore, logger *observability.Logger) *Validator {
	return &Validator{codec: codec, sessions: sessions, logger: logger, now: time.Now}
}

// Fast checks signature and expiry only.
func (v *Validator) Fast(r *http.Request) (Claims, error) {
	token, ok := TokenFromRequest(r)
	if !ok {
		return Claims{}, ErrMissingToken
	}
	return v.codec.Decode(token)
}

// Secure runs Fast, then requires a live session row bound to the caller's IP.
// A User-Agent drift is only logged.
func (v *Validator) Secure(ctx context.Context, r *http.Request) (int64, Claims, error) {
	claims, err := v.Fast(r)
	if err != nil {
		return 0, Claims{}, err
	}

	session, err := v.sessions.GetSession(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, Claims{}, ErrSessionNotFound
		}
		return 0, Claims{}, fmt.Errorf("load session: %w", err)
	}

	now := v.now().UTC()
	if !session.ExpiresAt.After(now) || session.UserID != claims.UserID {
		return 0, Claims{}, ErrSessionNotFound
	}

	ip := httpx.ClientIP(r)
	if session.IPAddress != "" && session.IPAddress != ip {
		return 0, Claims{}, ErrIPMismatch
	}

	if uaPrefix(r.UserAgent()) != uaPrefix(claims.UserAgent) {
		v.logger.Warn("user_agent_changed", map[string]any{
			"user_id":    claims.UserID,
			"session_id": claims.SessionID,
			"issued_ua":  uaPrefix(claims.UserAgent),
			"current_ua": uaPrefix(r.UserAgent()),
		})
	}

	if err := v.sessions.TouchSession(ctx, claims.SessionID, now); err != nil {
		v.logger.Warn("session_touch_failed", map[string]any{"session_id": claims.SessionID, "error": err.Error()})
	}

	return claims.UserID, claims, nil
}

func uaPrefix(ua string) string {
	runes := []rune(ua)
	if len(runes) > userAgentPrefixLen {
		runes = runes[:userAgentPrefixLen]
	}
	return string(runes)
}
